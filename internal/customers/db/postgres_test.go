package db_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"dance-ticketing/internal/config"
	"dance-ticketing/internal/customers/db"
	"dance-ticketing/internal/database"
	"dance-ticketing/internal/database/migrations"
	"dance-ticketing/internal/logger"
	"dance-ticketing/internal/models"
	"dance-ticketing/internal/utils"
)

// TestPostgresLedgerIntegration runs the ledger against a real PostgreSQL
// container with the production migrations applied.
func TestPostgresLedgerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "dance",
				"POSTGRES_PASSWORD": "dance",
				"POSTGRES_DB":       "dance",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Driver:       "postgres",
		PostgresDSN:  fmt.Sprintf("postgres://dance:dance@%s:%s/dance?sslmode=disable", host, port.Port()),
		MaxOpenConns: 10,
		MaxIdleConns: 10,
		MaxLifetime:  time.Minute,
		ConnRetries:  5,
	}

	runner := migrations.NewRunner(cfg, logger.Discard())
	require.NoError(t, runner.MigrateUp())
	require.NoError(t, runner.Close())

	bunDB, err := database.Open(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	defer bunDB.Close()

	store := &db.DB{Bun: bunDB}
	customer := insertCustomer(t, store, "田中", 10)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.AdjustTickets(ctx, customer.ID, -1, nil, utils.Now())
			if err != nil {
				assert.ErrorIs(t, err, models.ErrInsufficientBalance)
			}
		}()
	}
	wg.Wait()

	got, err := store.GetCustomerByID(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TicketCount)

	history, err := store.GetHistory(ctx, customer.ID)
	require.NoError(t, err)
	assert.Len(t, history, 11)

	require.NoError(t, store.DeleteCustomer(ctx, customer.ID))
	history, err = store.GetHistory(ctx, customer.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}
