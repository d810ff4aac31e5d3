package models

import (
	"context"
	"math"
	"time"

	"github.com/uptrace/bun"

	"dance-ticketing/internal/utils"
)

// MaxTicketCount bounds balances and single changes to what the INTEGER
// columns hold.
const MaxTicketCount = math.MaxInt32

var _ bun.AfterScanRowHook = (*TicketHistory)(nil)

// InitialRegistrationNote labels the history entry written for a starting balance.
const InitialRegistrationNote = "初回登録"

// TicketHistory is an append-only record of one balance change.
type TicketHistory struct {
	bun.BaseModel `bun:"table:ticket_history"`

	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	CustomerID    int64     `bun:"customer_id,notnull" json:"customer_id"`
	ChangeAmount  int       `bun:"change_amount,notnull" json:"change_amount"`
	PreviousCount int       `bun:"previous_count,notnull" json:"previous_count"`
	NewCount      int       `bun:"new_count,notnull" json:"new_count"`
	Note          *string   `bun:"note" json:"note"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

func (h *TicketHistory) AfterScanRow(ctx context.Context) error {
	h.CreatedAt = h.CreatedAt.In(utils.JST)
	return nil
}

// TicketAdjustment is the outcome of a committed balance change.
type TicketAdjustment struct {
	CustomerID    int64 `json:"customer_id"`
	PreviousCount int   `json:"previous_count"`
	ChangeAmount  int   `json:"change_amount"`
	NewCount      int   `json:"new_count"`
}

// TicketBalanceChanged is broadcast after an adjustment commits.
type TicketBalanceChanged struct {
	EventID       string    `json:"event_id"`
	CustomerID    int64     `json:"customer_id"`
	CustomerName  string    `json:"customer_name"`
	PreviousCount int       `json:"previous_count"`
	ChangeAmount  int       `json:"change_amount"`
	NewCount      int       `json:"new_count"`
	Note          string    `json:"note,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
