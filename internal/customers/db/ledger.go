package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"dance-ticketing/internal/models"
)

// maxAdjustAttempts bounds the optimistic retry when the balance moves
// between the read and the guarded update.
const maxAdjustAttempts = 3

var errStaleBalance = errors.New("ticket balance changed during adjustment")

// AdjustTickets applies changeAmount to the customer's balance and appends the
// matching history entry. Both writes commit together or not at all; a
// resulting negative balance aborts before any write.
func (d *DB) AdjustTickets(ctx context.Context, customerID int64, changeAmount int, note *string, at time.Time) (*models.Customer, *models.TicketHistory, error) {
	for attempt := 1; attempt <= maxAdjustAttempts; attempt++ {
		customer, entry, err := d.adjustOnce(ctx, customerID, changeAmount, note, at)
		if errors.Is(err, errStaleBalance) {
			continue
		}
		return customer, entry, err
	}
	return nil, nil, fmt.Errorf("%w: customer %d", models.ErrConcurrentAdjustment, customerID)
}

func (d *DB) adjustOnce(ctx context.Context, customerID int64, changeAmount int, note *string, at time.Time) (*models.Customer, *models.TicketHistory, error) {
	var customer models.Customer
	var entry models.TicketHistory

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewSelect().
			Model(&customer).
			Where("id = ?", customerID).
			Limit(1)
		if d.Bun.Dialect().Name() == dialect.PG {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: id %d", models.ErrNotFound, customerID)
			}
			return err
		}

		previous := customer.TicketCount
		next := previous + changeAmount
		if next < 0 {
			return fmt.Errorf("%w: balance %d, change %d", models.ErrInsufficientBalance, previous, changeAmount)
		}
		if next > models.MaxTicketCount {
			return fmt.Errorf("%w: balance would exceed %d tickets", models.ErrValidation, models.MaxTicketCount)
		}

		res, err := tx.NewUpdate().
			Model((*models.Customer)(nil)).
			Set("ticket_count = ?", next).
			Set("updated_at = ?", at).
			Where("id = ?", customerID).
			Where("ticket_count = ?", previous).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errStaleBalance
		}

		entry = models.TicketHistory{
			CustomerID:    customerID,
			ChangeAmount:  changeAmount,
			PreviousCount: previous,
			NewCount:      next,
			Note:          note,
			CreatedAt:     at,
		}
		if _, err := tx.NewInsert().Model(&entry).Exec(ctx); err != nil {
			return err
		}

		customer.TicketCount = next
		customer.UpdatedAt = at
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInsufficientBalance) ||
			errors.Is(err, models.ErrValidation) || errors.Is(err, errStaleBalance) {
			return nil, nil, err
		}
		return nil, nil, storageErr("adjust tickets", err)
	}
	return &customer, &entry, nil
}
