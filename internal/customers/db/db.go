package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"dance-ticketing/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.Bun.PingContext(ctx)
}

// ListCustomers returns every customer ordered by name.
func (d *DB) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	customers := make([]models.Customer, 0)
	err := d.Bun.NewSelect().
		Model(&customers).
		OrderExpr("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("list customers", err)
	}
	return customers, nil
}

// GetCustomerByID fetches one customer or returns models.ErrNotFound.
func (d *DB) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	var customer models.Customer
	err := d.Bun.NewSelect().
		Model(&customer).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", models.ErrNotFound, id)
		}
		return nil, storageErr("get customer", err)
	}
	return &customer, nil
}

// GetHistory returns the customer's ticket history, most recent first.
func (d *DB) GetHistory(ctx context.Context, customerID int64) ([]models.TicketHistory, error) {
	history := make([]models.TicketHistory, 0)
	err := d.Bun.NewSelect().
		Model(&history).
		Where("customer_id = ?", customerID).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("get history", err)
	}
	return history, nil
}

// CreateCustomer inserts the customer and, when given, its opening history
// entry in one transaction. IDs are written back into the arguments.
func (d *DB) CreateCustomer(ctx context.Context, customer *models.Customer, opening *models.TicketHistory) error {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(customer).Exec(ctx); err != nil {
			return err
		}
		if opening == nil {
			return nil
		}
		opening.CustomerID = customer.ID
		_, err := tx.NewInsert().Model(opening).Exec(ctx)
		return err
	})
	if err != nil {
		return storageErr("create customer", err)
	}
	return nil
}

// UpdateCustomer writes the contact fields. ticket_count is never touched here.
func (d *DB) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	res, err := d.Bun.NewUpdate().
		Model(customer).
		Column("name", "phone", "email", "line_user_id", "updated_at").
		Where("id = ?", customer.ID).
		Exec(ctx)
	if err != nil {
		return storageErr("update customer", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update customer", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", models.ErrNotFound, customer.ID)
	}
	return nil
}

// DeleteCustomer removes the customer together with its history. Deleting a
// missing id is not an error.
func (d *DB) DeleteCustomer(ctx context.Context, id int64) error {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.TicketHistory)(nil)).
			Where("customer_id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
		_, err = tx.NewDelete().
			Model((*models.Customer)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		return err
	})
	if err != nil {
		return storageErr("delete customer", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrStorage, op, err)
}
