// Command migrate applies the embedded schema migrations and can seed a
// fresh database with sample customers.
//
//	migrate [flags] up|down|version|to <N>
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"dance-ticketing/internal/config"
	customer_db "dance-ticketing/internal/customers/db"
	customers "dance-ticketing/internal/customers/service"
	"dance-ticketing/internal/database"
	"dance-ticketing/internal/database/migrations"
	"dance-ticketing/internal/logger"
)

var sampleCustomers = []customers.CreateCustomerInput{
	{Name: "田中 花子", Phone: "090-1111-2222", Email: "hanako@example.com", TicketCount: 10},
	{Name: "佐藤 健", Phone: "080-3333-4444", TicketCount: 4},
	{Name: "Alice Smith", Email: "alice@example.com"},
}

func usage(fs *pflag.FlagSet, out io.Writer) {
	fmt.Fprintln(out, "usage: migrate [flags] up|down|version|to <N>")
	fs.SetOutput(out)
	fs.PrintDefaults()
}

func run(ctx context.Context, args []string, out io.Writer, log *logger.Logger) error {
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	driver := fs.String("driver", "", "database driver, postgres or sqlite (default from DB_DRIVER)")
	dsn := fs.String("dsn", "", "PostgreSQL URL (default from POSTGRES_DSN)")
	sqlitePath := fs.String("sqlite-path", "", "SQLite file (default from SQLITE_PATH)")
	seed := fs.Bool("seed", false, "insert sample customers after migrating up")

	if err := fs.Parse(args); err != nil {
		usage(fs, out)
		return err
	}

	cfg, _, err := config.Load()
	if err != nil {
		return err
	}
	dbCfg := cfg.Database
	if *driver != "" {
		dbCfg.Driver = *driver
	}
	if *dsn != "" {
		dbCfg.PostgresDSN = *dsn
	}
	if *sqlitePath != "" {
		dbCfg.SQLitePath = *sqlitePath
	}

	rest := fs.Args()
	if len(rest) == 0 {
		usage(fs, out)
		return fmt.Errorf("missing command")
	}

	runner := migrations.NewRunner(dbCfg, log)
	if err := runner.Initialize(); err != nil {
		return err
	}
	defer runner.Close()

	switch rest[0] {
	case "up":
		if err := runner.MigrateUp(); err != nil {
			return err
		}
		if *seed {
			if err := seedCustomers(ctx, dbCfg, out, log); err != nil {
				return err
			}
		}
	case "down":
		if err := runner.MigrateDown(); err != nil {
			return err
		}
	case "to":
		if len(rest) < 2 {
			return fmt.Errorf("to requires a version")
		}
		version, err := strconv.ParseUint(rest[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", rest[1], err)
		}
		if err := runner.MigrateTo(uint(version)); err != nil {
			return err
		}
	case "version":
	default:
		usage(fs, out)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	version, dirty, err := runner.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "version %d dirty=%t\n", version, dirty)
	return nil
}

func seedCustomers(ctx context.Context, cfg config.DatabaseConfig, out io.Writer, log *logger.Logger) error {
	bunDB, err := database.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	service := customers.NewCustomerService(&customer_db.DB{Bun: bunDB}, nil, log, nil)
	for _, in := range sampleCustomers {
		customer, err := service.CreateCustomer(ctx, in)
		if err != nil {
			return fmt.Errorf("seed %s: %w", in.Name, err)
		}
		fmt.Fprintf(out, "seeded customer %d %s (%d tickets)\n", customer.ID, customer.Name, customer.TicketCount)
	}
	return nil
}

func main() {
	log := logger.NewWriterLogger(os.Stderr)
	if err := run(context.Background(), os.Args[1:], os.Stdout, log); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}
