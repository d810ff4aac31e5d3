package models

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"dance-ticketing/internal/utils"
)

var _ bun.AfterScanRowHook = (*Customer)(nil)

// Customer is a dance school member holding a prepaid ticket balance.
type Customer struct {
	bun.BaseModel `bun:"table:customers"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	Name        string    `bun:"name,notnull" json:"name"`
	Phone       *string   `bun:"phone" json:"phone"`
	Email       *string   `bun:"email" json:"email"`
	LineUserID  *string   `bun:"line_user_id" json:"line_user_id"`
	TicketCount int       `bun:"ticket_count,notnull" json:"ticket_count"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// AfterScanRow puts timestamps back into JST; drivers hand them back in UTC
// or the session zone.
func (c *Customer) AfterScanRow(ctx context.Context) error {
	c.CreatedAt = c.CreatedAt.In(utils.JST)
	c.UpdatedAt = c.UpdatedAt.In(utils.JST)
	return nil
}

// DisplayName returns the name used in customer facing messages.
func (c *Customer) DisplayName() string {
	return c.Name
}

// MessagingID returns the LINE user id or "" when none is registered.
func (c *Customer) MessagingID() string {
	if c.LineUserID == nil {
		return ""
	}
	return *c.LineUserID
}
