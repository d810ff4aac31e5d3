package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dance-ticketing/internal/logger"
	"dance-ticketing/internal/metrics"
	"dance-ticketing/internal/models"
	"dance-ticketing/internal/utils"
)

type CustomerDBLayer interface {
	ListCustomers(ctx context.Context) ([]models.Customer, error)
	GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error)
	GetHistory(ctx context.Context, customerID int64) ([]models.TicketHistory, error)
	CreateCustomer(ctx context.Context, customer *models.Customer, opening *models.TicketHistory) error
	UpdateCustomer(ctx context.Context, customer *models.Customer) error
	DeleteCustomer(ctx context.Context, id int64) error
	AdjustTickets(ctx context.Context, customerID int64, changeAmount int, note *string, at time.Time) (*models.Customer, *models.TicketHistory, error)
}

// Notifier delivers a balance change to the customer. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, customerName, lineUserID string, changeAmount, newCount int)
}

type EventPublisher interface {
	PublishBalanceChanged(ctx context.Context, event models.TicketBalanceChanged) error
}

type EventEmitter interface {
	Emit(event models.TicketBalanceChanged)
}

// AdjustmentLock serialises adjustments of one customer across instances.
type AdjustmentLock interface {
	Acquire(ctx context.Context, customerID int64) (func(), error)
}

type CustomerService struct {
	DB       CustomerDBLayer
	Notifier Notifier
	// Publisher, Emitter and Lock are optional.
	Publisher EventPublisher
	Emitter   EventEmitter
	Lock      AdjustmentLock
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func NewCustomerService(db CustomerDBLayer, notifier Notifier, log *logger.Logger, m *metrics.Metrics) *CustomerService {
	return &CustomerService{
		DB:       db,
		Notifier: notifier,
		Logger:   log,
		Metrics:  m,
		Now:      utils.Now,
	}
}

type CreateCustomerInput struct {
	Name        string
	Phone       string
	Email       string
	LineUserID  string
	TicketCount int
}

type UpdateCustomerInput struct {
	Name       string
	Phone      string
	Email      string
	LineUserID string
}

func (s *CustomerService) now() time.Time {
	if s.Now == nil {
		return utils.Now()
	}
	return s.Now()
}

func (s *CustomerService) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	return s.DB.ListCustomers(ctx)
}

func (s *CustomerService) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	return s.DB.GetCustomerByID(ctx, id)
}

// GetCustomerWithHistory returns the customer and its history, newest first.
func (s *CustomerService) GetCustomerWithHistory(ctx context.Context, id int64) (*models.Customer, []models.TicketHistory, error) {
	customer, err := s.DB.GetCustomerByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.DB.GetHistory(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return customer, history, nil
}

// CreateCustomer stores a new customer. A positive starting balance is
// journaled as one initial registration entry; no notification is sent.
func (s *CustomerService) CreateCustomer(ctx context.Context, in CreateCustomerInput) (*models.Customer, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	if in.TicketCount < 0 {
		return nil, fmt.Errorf("%w: ticket_count must not be negative", models.ErrValidation)
	}
	if in.TicketCount > models.MaxTicketCount {
		return nil, fmt.Errorf("%w: ticket_count must be at most %d", models.ErrValidation, models.MaxTicketCount)
	}

	now := s.now()
	customer := &models.Customer{
		Name:        name,
		Phone:       utils.StringPtr(in.Phone),
		Email:       utils.StringPtr(in.Email),
		LineUserID:  utils.StringPtr(in.LineUserID),
		TicketCount: in.TicketCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var opening *models.TicketHistory
	if in.TicketCount > 0 {
		note := models.InitialRegistrationNote
		opening = &models.TicketHistory{
			ChangeAmount:  in.TicketCount,
			PreviousCount: 0,
			NewCount:      in.TicketCount,
			Note:          &note,
			CreatedAt:     now,
		}
	}

	if err := s.DB.CreateCustomer(ctx, customer, opening); err != nil {
		return nil, err
	}

	s.Logger.LogLedger("CREATE", customer.ID, fmt.Sprintf("registered %s with %d tickets", customer.Name, customer.TicketCount))
	return customer, nil
}

// UpdateCustomer edits contact fields; the ticket balance is left alone.
func (s *CustomerService) UpdateCustomer(ctx context.Context, id int64, in UpdateCustomerInput) (*models.Customer, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrValidation)
	}

	customer := &models.Customer{
		ID:         id,
		Name:       name,
		Phone:      utils.StringPtr(in.Phone),
		Email:      utils.StringPtr(in.Email),
		LineUserID: utils.StringPtr(in.LineUserID),
		UpdatedAt:  s.now(),
	}
	if err := s.DB.UpdateCustomer(ctx, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// DeleteCustomer removes the customer and its history. Missing ids succeed.
func (s *CustomerService) DeleteCustomer(ctx context.Context, id int64) error {
	if err := s.DB.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.Logger.LogLedger("DELETE", id, "customer and history removed")
	return nil
}

// AdjustTickets changes the customer's balance by changeAmount and journals it.
// Notification, event publishing and SSE fan-out happen after commit and
// never change the result.
func (s *CustomerService) AdjustTickets(ctx context.Context, customerID int64, changeAmount int, note string) (*models.TicketAdjustment, error) {
	if changeAmount == 0 {
		s.Metrics.AdjustmentResult("validation")
		return nil, fmt.Errorf("%w: change_amount is required and must not be zero", models.ErrValidation)
	}
	if changeAmount > models.MaxTicketCount || changeAmount < -models.MaxTicketCount {
		s.Metrics.AdjustmentResult("validation")
		return nil, fmt.Errorf("%w: change_amount must be between -%d and %d", models.ErrValidation, models.MaxTicketCount, models.MaxTicketCount)
	}

	if s.Lock != nil {
		release, err := s.Lock.Acquire(ctx, customerID)
		if err != nil {
			s.Metrics.AdjustmentResult(adjustmentLabel(err))
			return nil, err
		}
		defer release()
	}

	at := s.now()
	customer, entry, err := s.DB.AdjustTickets(ctx, customerID, changeAmount, utils.StringPtr(note), at)
	if err != nil {
		s.Metrics.AdjustmentResult(adjustmentLabel(err))
		if !errors.Is(err, models.ErrStorage) {
			s.Logger.Warn("LEDGER", fmt.Sprintf("Adjustment of %d for customer %d rejected: %v", changeAmount, customerID, err))
		} else {
			s.Logger.Error("LEDGER", fmt.Sprintf("Adjustment of %d for customer %d failed: %v", changeAmount, customerID, err))
		}
		return nil, err
	}

	s.Metrics.AdjustmentResult("ok")
	s.Metrics.TicketsChanged(changeAmount)
	s.Logger.LogLedger("ADJUST", customerID, fmt.Sprintf("%d -> %d (%+d)", entry.PreviousCount, entry.NewCount, changeAmount))

	s.afterCommit(context.WithoutCancel(ctx), customer, entry)

	return &models.TicketAdjustment{
		CustomerID:    customerID,
		PreviousCount: entry.PreviousCount,
		ChangeAmount:  entry.ChangeAmount,
		NewCount:      entry.NewCount,
	}, nil
}

func (s *CustomerService) afterCommit(ctx context.Context, customer *models.Customer, entry *models.TicketHistory) {
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, customer.DisplayName(), customer.MessagingID(), entry.ChangeAmount, entry.NewCount)
	}

	if s.Publisher == nil && s.Emitter == nil {
		return
	}

	event := models.TicketBalanceChanged{
		EventID:       utils.GenerateEventID(),
		CustomerID:    customer.ID,
		CustomerName:  customer.Name,
		PreviousCount: entry.PreviousCount,
		ChangeAmount:  entry.ChangeAmount,
		NewCount:      entry.NewCount,
		Note:          utils.StringValue(entry.Note),
		OccurredAt:    entry.CreatedAt,
	}

	if s.Emitter != nil {
		s.Emitter.Emit(event)
	}
	if s.Publisher != nil {
		if err := s.Publisher.PublishBalanceChanged(ctx, event); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish balance change for customer %d: %v", customer.ID, err))
			s.Metrics.EventPublished("failed")
		} else {
			s.Metrics.EventPublished("ok")
		}
	}
}

func adjustmentLabel(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, models.ErrConcurrentAdjustment):
		return "conflict"
	default:
		return "error"
	}
}
