package models

import "errors"

// Error taxonomy shared by the ledger, the repository and the API layer.
var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("customer not found")
	ErrInsufficientBalance  = errors.New("insufficient tickets")
	ErrConcurrentAdjustment = errors.New("ticket balance is being changed by another request")
	ErrStorage              = errors.New("storage error")
)
