package customer_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"dance-ticketing/internal/customers/qr"
	customers "dance-ticketing/internal/customers/service"
	"dance-ticketing/internal/logger"
	"dance-ticketing/internal/models"
	"dance-ticketing/internal/sse"
	"dance-ticketing/internal/utils"
)

type CustomerService interface {
	ListCustomers(ctx context.Context) ([]models.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	GetCustomerWithHistory(ctx context.Context, id int64) (*models.Customer, []models.TicketHistory, error)
	CreateCustomer(ctx context.Context, in customers.CreateCustomerInput) (*models.Customer, error)
	UpdateCustomer(ctx context.Context, id int64, in customers.UpdateCustomerInput) (*models.Customer, error)
	DeleteCustomer(ctx context.Context, id int64) error
	AdjustTickets(ctx context.Context, customerID int64, changeAmount int, note string) (*models.TicketAdjustment, error)
}

type Handler struct {
	CustomerService CustomerService
	Emitter         *sse.BalanceEventEmitter
	QRGenerator     *qr.CardGenerator
	Logger          *logger.Logger
	validate        *validator.Validate
}

func NewHandler(service CustomerService, emitter *sse.BalanceEventEmitter, qrGen *qr.CardGenerator, log *logger.Logger) *Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		CustomerService: service,
		Emitter:         emitter,
		QRGenerator:     qrGen,
		Logger:          log,
		validate:        validate,
	}
}

// RegisterRoutes mounts the customer API under /customers.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.ListCustomers)
		r.Post("/", h.CreateCustomer)
		r.Post("/scan", h.ScanMemberCard)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCustomer)
			r.Put("/", h.UpdateCustomer)
			r.Delete("/", h.DeleteCustomer)
			r.Post("/tickets", h.AdjustTickets)
			r.Get("/events", h.StreamBalanceEvents)
			r.Get("/qr", h.GetMemberCardQR)
		})
	})
}

type listCustomersResponse struct {
	Customers []models.Customer `json:"customers"`
}

type customerDetailResponse struct {
	Customer *models.Customer       `json:"customer"`
	History  []models.TicketHistory `json:"history"`
}

type createCustomerRequest struct {
	Name        string  `json:"name" validate:"required"`
	Phone       *string `json:"phone" validate:"omitempty,max=50"`
	Email       *string `json:"email" validate:"omitempty,max=254"`
	TicketCount *int    `json:"ticket_count" validate:"omitempty,min=0,max=2147483647"`
	LineUserID  *string `json:"line_user_id" validate:"omitempty,max=64"`
}

type updateCustomerRequest struct {
	Name       string  `json:"name" validate:"required"`
	Phone      *string `json:"phone" validate:"omitempty,max=50"`
	Email      *string `json:"email" validate:"omitempty,max=254"`
	LineUserID *string `json:"line_user_id" validate:"omitempty,max=64"`
}

type updateCustomerResponse struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Phone      *string `json:"phone"`
	Email      *string `json:"email"`
	LineUserID *string `json:"line_user_id"`
}

type scanCardRequest struct {
	Token string `json:"token" validate:"required"`
}

type adjustTicketsRequest struct {
	ChangeAmount *int    `json:"change_amount" validate:"required,min=-2147483647,max=2147483647"`
	Note         *string `json:"note" validate:"omitempty,max=500"`
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := h.CustomerService.ListCustomers(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Failed to fetch customers")
		return
	}
	utils.WriteJSON(w, http.StatusOK, listCustomersResponse{Customers: list})
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.customerID(w, r)
	if !ok {
		return
	}

	customer, history, err := h.CustomerService.GetCustomerWithHistory(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to fetch customer")
		return
	}
	utils.WriteJSON(w, http.StatusOK, customerDetailResponse{Customer: customer, History: history})
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := customers.CreateCustomerInput{
		Name:       req.Name,
		Phone:      utils.StringValue(req.Phone),
		Email:      utils.StringValue(req.Email),
		LineUserID: utils.StringValue(req.LineUserID),
	}
	if req.TicketCount != nil {
		in.TicketCount = *req.TicketCount
	}

	customer, err := h.CustomerService.CreateCustomer(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create customer")
		return
	}
	utils.WriteJSON(w, http.StatusOK, customer)
}

func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.customerID(w, r)
	if !ok {
		return
	}
	var req updateCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	customer, err := h.CustomerService.UpdateCustomer(r.Context(), id, customers.UpdateCustomerInput{
		Name:       req.Name,
		Phone:      utils.StringValue(req.Phone),
		Email:      utils.StringValue(req.Email),
		LineUserID: utils.StringValue(req.LineUserID),
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to update customer")
		return
	}
	utils.WriteJSON(w, http.StatusOK, updateCustomerResponse{
		ID:         customer.ID,
		Name:       customer.Name,
		Phone:      customer.Phone,
		Email:      customer.Email,
		LineUserID: customer.LineUserID,
	})
}

func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.customerID(w, r)
	if !ok {
		return
	}
	if err := h.CustomerService.DeleteCustomer(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Failed to delete customer")
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{Success: true})
}

func (h *Handler) AdjustTickets(w http.ResponseWriter, r *http.Request) {
	id, ok := h.customerID(w, r)
	if !ok {
		return
	}
	var req adjustTicketsRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.CustomerService.AdjustTickets(r.Context(), id, *req.ChangeAmount, utils.StringValue(req.Note))
	if err != nil {
		h.writeServiceError(w, err, "Failed to update tickets")
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) GetMemberCardQR(w http.ResponseWriter, r *http.Request) {
	id, ok := h.customerID(w, r)
	if !ok {
		return
	}
	if _, err := h.CustomerService.GetCustomer(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Failed to fetch customer")
		return
	}

	png, err := h.QRGenerator.GeneratePNG(id)
	if err != nil {
		h.Logger.Error("QR", fmt.Sprintf("Failed to render member card for customer %d: %v", id, err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// ScanMemberCard resolves a scanned member card token to its customer.
func (h *Handler) ScanMemberCard(w http.ResponseWriter, r *http.Request) {
	var req scanCardRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.QRGenerator.VerifyToken(strings.TrimSpace(req.Token))
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid member card")
		return
	}

	customer, err := h.CustomerService.GetCustomer(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to fetch customer")
		return
	}
	utils.WriteJSON(w, http.StatusOK, customer)
}

func (h *Handler) customerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		utils.WriteError(w, http.StatusBadRequest, "Invalid customer id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		utils.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}

	fe := fieldErrs[0]
	switch {
	case fe.Field() == "name" && fe.Tag() == "required":
		return "Name is required"
	case fe.Field() == "change_amount" && fe.Tag() == "required":
		return "change_amount is required and must not be zero"
	case fe.Tag() == "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case fe.Tag() == "max" && fe.Kind() == reflect.String:
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case fe.Tag() == "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, validationText(err))
	case errors.Is(err, models.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, "Customer not found")
	case errors.Is(err, models.ErrInsufficientBalance):
		utils.WriteError(w, http.StatusBadRequest, "Insufficient tickets")
	case errors.Is(err, models.ErrConcurrentAdjustment):
		utils.WriteError(w, http.StatusConflict, "Tickets are being updated by another request, please retry")
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", fallback, err))
		utils.WriteError(w, http.StatusInternalServerError, fallback)
	}
}

// validationText strips the sentinel prefix and capitalises the detail.
func validationText(err error) string {
	msg := strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
	if msg == "name is required" {
		return "Name is required"
	}
	return msg
}
