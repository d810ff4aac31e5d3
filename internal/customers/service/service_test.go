package customers_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	customers "dance-ticketing/internal/customers/service"
	"dance-ticketing/internal/logger"
	"dance-ticketing/internal/metrics"
	"dance-ticketing/internal/models"
	"dance-ticketing/internal/utils"
)

// MockCustomerDBLayer is a mock implementation of the CustomerDBLayer interface
type MockCustomerDBLayer struct {
	mock.Mock
}

func (m *MockCustomerDBLayer) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Customer), args.Error(1)
}

func (m *MockCustomerDBLayer) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Customer), args.Error(1)
}

func (m *MockCustomerDBLayer) GetHistory(ctx context.Context, customerID int64) ([]models.TicketHistory, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TicketHistory), args.Error(1)
}

func (m *MockCustomerDBLayer) CreateCustomer(ctx context.Context, customer *models.Customer, opening *models.TicketHistory) error {
	args := m.Called(ctx, customer, opening)
	return args.Error(0)
}

func (m *MockCustomerDBLayer) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	args := m.Called(ctx, customer)
	return args.Error(0)
}

func (m *MockCustomerDBLayer) DeleteCustomer(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCustomerDBLayer) AdjustTickets(ctx context.Context, customerID int64, changeAmount int, note *string, at time.Time) (*models.Customer, *models.TicketHistory, error) {
	args := m.Called(ctx, customerID, changeAmount, note, at)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Customer), args.Get(1).(*models.TicketHistory), args.Error(2)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, customerName, lineUserID string, changeAmount, newCount int) {
	m.Called(customerName, lineUserID, changeAmount, newCount)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishBalanceChanged(ctx context.Context, event models.TicketBalanceChanged) error {
	return m.Called(event).Error(0)
}

type recordingEmitter struct {
	events []models.TicketBalanceChanged
}

func (e *recordingEmitter) Emit(event models.TicketBalanceChanged) {
	e.events = append(e.events, event)
}

type stubLock struct {
	err      error
	released bool
}

func (l *stubLock) Acquire(ctx context.Context, customerID int64) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() { l.released = true }, nil
}

var fixedNow = time.Date(2026, 4, 1, 10, 0, 0, 0, utils.JST)

func newService(db *MockCustomerDBLayer, notifier *MockNotifier) (*customers.CustomerService, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	svc := customers.NewCustomerService(db, notifier, logger.Discard(), m)
	svc.Now = func() time.Time { return fixedNow }
	return svc, m
}

func TestCreateCustomerWithInitialTickets(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	svc, _ := newService(mockDB, new(MockNotifier))

	mockDB.On("CreateCustomer", mock.Anything,
		mock.MatchedBy(func(c *models.Customer) bool {
			return c.Name == "田中" && c.TicketCount == 10 && c.Phone == nil && c.CreatedAt.Equal(fixedNow)
		}),
		mock.MatchedBy(func(h *models.TicketHistory) bool {
			return h != nil && h.PreviousCount == 0 && h.NewCount == 10 && h.ChangeAmount == 10 &&
				h.Note != nil && *h.Note == models.InitialRegistrationNote
		}),
	).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Customer).ID = 1
	}).Return(nil)

	customer, err := svc.CreateCustomer(context.Background(), customers.CreateCustomerInput{Name: " 田中 ", TicketCount: 10})

	require.NoError(t, err)
	assert.Equal(t, int64(1), customer.ID)
	assert.Equal(t, 10, customer.TicketCount)
	mockDB.AssertExpectations(t)
}

func TestCreateCustomerWithoutTicketsWritesNoHistory(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	svc, _ := newService(mockDB, new(MockNotifier))

	mockDB.On("CreateCustomer", mock.Anything, mock.Anything, (*models.TicketHistory)(nil)).Return(nil)

	customer, err := svc.CreateCustomer(context.Background(), customers.CreateCustomerInput{Name: "Bob", Email: "bob@example.com"})

	require.NoError(t, err)
	assert.Equal(t, 0, customer.TicketCount)
	require.NotNil(t, customer.Email)
	assert.Equal(t, "bob@example.com", *customer.Email)
	mockDB.AssertExpectations(t)
}

func TestCreateCustomerValidation(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	svc, _ := newService(mockDB, new(MockNotifier))

	_, err := svc.CreateCustomer(context.Background(), customers.CreateCustomerInput{Name: "  "})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.CreateCustomer(context.Background(), customers.CreateCustomerInput{Name: "Bob", TicketCount: -1})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.CreateCustomer(context.Background(), customers.CreateCustomerInput{Name: "Bob", TicketCount: models.MaxTicketCount + 1})
	assert.ErrorIs(t, err, models.ErrValidation)

	mockDB.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetCustomerWithHistory(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	svc, _ := newService(mockDB, new(MockNotifier))

	customer := &models.Customer{ID: 3, Name: "Alice", TicketCount: 2}
	history := []models.TicketHistory{{ID: 9, CustomerID: 3, ChangeAmount: 2, NewCount: 2}}
	mockDB.On("GetCustomerByID", mock.Anything, int64(3)).Return(customer, nil)
	mockDB.On("GetHistory", mock.Anything, int64(3)).Return(history, nil)

	gotCustomer, gotHistory, err := svc.GetCustomerWithHistory(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, customer, gotCustomer)
	assert.Equal(t, history, gotHistory)

	mockDB.On("GetCustomerByID", mock.Anything, int64(4)).Return(nil, fmt.Errorf("%w: id 4", models.ErrNotFound))
	_, _, err = svc.GetCustomerWithHistory(context.Background(), 4)
	assert.ErrorIs(t, err, models.ErrNotFound)
	mockDB.AssertNotCalled(t, "GetHistory", mock.Anything, int64(4))
}

func TestUpdateCustomer(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	svc, _ := newService(mockDB, new(MockNotifier))

	mockDB.On("UpdateCustomer", mock.Anything, mock.MatchedBy(func(c *models.Customer) bool {
		return c.ID == 5 && c.Name == "Carol" && c.MessagingID() == "U5" && c.UpdatedAt.Equal(fixedNow)
	})).Return(nil)

	customer, err := svc.UpdateCustomer(context.Background(), 5, customers.UpdateCustomerInput{Name: "Carol", LineUserID: "U5"})
	require.NoError(t, err)
	assert.Equal(t, "Carol", customer.Name)

	_, err = svc.UpdateCustomer(context.Background(), 5, customers.UpdateCustomerInput{Name: ""})
	assert.ErrorIs(t, err, models.ErrValidation)
	mockDB.AssertNumberOfCalls(t, "UpdateCustomer", 1)
}

func TestDeleteCustomer(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	svc, _ := newService(mockDB, new(MockNotifier))
	mockDB.On("DeleteCustomer", mock.Anything, int64(8)).Return(nil)

	assert.NoError(t, svc.DeleteCustomer(context.Background(), 8))
	mockDB.AssertExpectations(t)
}

func TestAdjustTicketsSuccess(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	notifier := new(MockNotifier)
	publisher := new(MockPublisher)
	emitter := &recordingEmitter{}
	lock := &stubLock{}
	svc, m := newService(mockDB, notifier)
	svc.Publisher = publisher
	svc.Emitter = emitter
	svc.Lock = lock

	lineID := "U1"
	customer := &models.Customer{ID: 1, Name: "田中", LineUserID: &lineID, TicketCount: 7}
	note := "lesson"
	entry := &models.TicketHistory{ID: 2, CustomerID: 1, ChangeAmount: -3, PreviousCount: 10, NewCount: 7, Note: &note, CreatedAt: fixedNow}

	mockDB.On("AdjustTickets", mock.Anything, int64(1), -3, mock.MatchedBy(func(n *string) bool {
		return n != nil && *n == "lesson"
	}), fixedNow).Return(customer, entry, nil)
	notifier.On("Notify", "田中", "U1", -3, 7).Return()
	publisher.On("PublishBalanceChanged", mock.MatchedBy(func(e models.TicketBalanceChanged) bool {
		return e.CustomerID == 1 && e.PreviousCount == 10 && e.NewCount == 7 && e.Note == "lesson" && e.EventID != ""
	})).Return(nil)

	result, err := svc.AdjustTickets(context.Background(), 1, -3, "lesson")

	require.NoError(t, err)
	assert.Equal(t, &models.TicketAdjustment{CustomerID: 1, PreviousCount: 10, ChangeAmount: -3, NewCount: 7}, result)
	assert.Equal(t, result.PreviousCount+result.ChangeAmount, result.NewCount)
	require.Len(t, emitter.events, 1)
	assert.True(t, lock.released)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Adjustments.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TicketsMoved.WithLabelValues("consumed")))
	mockDB.AssertExpectations(t)
	notifier.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestAdjustTicketsRejectsZero(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	svc, _ := newService(mockDB, new(MockNotifier))

	_, err := svc.AdjustTickets(context.Background(), 1, 0, "")

	assert.ErrorIs(t, err, models.ErrValidation)
	mockDB.AssertNotCalled(t, "AdjustTickets", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdjustTicketsRejectsOutOfRangeChange(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	svc, _ := newService(mockDB, new(MockNotifier))

	for _, change := range []int{models.MaxTicketCount + 1, -models.MaxTicketCount - 1} {
		_, err := svc.AdjustTickets(context.Background(), 1, change, "")
		assert.ErrorIs(t, err, models.ErrValidation)
	}
	mockDB.AssertNotCalled(t, "AdjustTickets", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdjustTicketsInsufficientBalanceSkipsSideEffects(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	notifier := new(MockNotifier)
	publisher := new(MockPublisher)
	svc, m := newService(mockDB, notifier)
	svc.Publisher = publisher

	mockDB.On("AdjustTickets", mock.Anything, int64(1), -11, (*string)(nil), fixedNow).
		Return(nil, nil, fmt.Errorf("%w: balance 10, change -11", models.ErrInsufficientBalance))

	_, err := svc.AdjustTickets(context.Background(), 1, -11, "")

	assert.ErrorIs(t, err, models.ErrInsufficientBalance)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	publisher.AssertNotCalled(t, "PublishBalanceChanged", mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Adjustments.WithLabelValues("insufficient")))
}

func TestAdjustTicketsLockContention(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	svc, m := newService(mockDB, new(MockNotifier))
	svc.Lock = &stubLock{err: fmt.Errorf("%w: customer 1", models.ErrConcurrentAdjustment)}

	_, err := svc.AdjustTickets(context.Background(), 1, 1, "")

	assert.ErrorIs(t, err, models.ErrConcurrentAdjustment)
	mockDB.AssertNotCalled(t, "AdjustTickets", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Adjustments.WithLabelValues("conflict")))
}

func TestAdjustTicketsPublishFailureDoesNotFailAdjustment(t *testing.T) {
	mockDB := new(MockCustomerDBLayer)
	notifier := new(MockNotifier)
	publisher := new(MockPublisher)
	svc, m := newService(mockDB, notifier)
	svc.Publisher = publisher

	customer := &models.Customer{ID: 2, Name: "Bob", TicketCount: 6}
	entry := &models.TicketHistory{CustomerID: 2, ChangeAmount: 5, PreviousCount: 1, NewCount: 6, CreatedAt: fixedNow}
	mockDB.On("AdjustTickets", mock.Anything, int64(2), 5, (*string)(nil), fixedNow).Return(customer, entry, nil)
	notifier.On("Notify", "Bob", "", 5, 6).Return()
	publisher.On("PublishBalanceChanged", mock.Anything).Return(errors.New("broker down"))

	result, err := svc.AdjustTickets(context.Background(), 2, 5, "  ")

	require.NoError(t, err)
	assert.Equal(t, 6, result.NewCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("failed")))
}
