package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateEventID returns a random id for ledger events.
func GenerateEventID() string {
	return uuid.NewString()
}

// StringPtr trims s and returns nil when nothing is left.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
