package booking

import (
	"fmt"

	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

const (
	CodeNotAuthenticated    = "not_authenticated"
	CodeIncompleteSelection = "incomplete_selection"
	CodeInvalid             = "invalid"
)

// ValidationError is returned before any store write happens.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Code: CodeInvalid, Field: field, Message: msg}
}

// StoreError is a read or write failure reported by a store. Message is safe to show to users.
type StoreError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

var (
	// ErrSlotFull is the capacity guard rejecting a booking for a slot that filled up since it was listed.
	ErrSlotFull          = model.ErrSlotFull
	ErrNotFound          = model.ErrNotFound
	ErrForbidden         = model.ErrForbidden
	ErrInvalidTransition = model.ErrStatusConflict
)

// Postgres SQLSTATEs with a dedicated user message.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
)

func newStoreError(op string, err error) *StoreError {
	code := db.ErrorCode(err)
	return &StoreError{Op: op, Code: code, Message: storeMessage(code), Err: err}
}

func storeMessage(code string) string {
	switch code {
	case codeUniqueViolation:
		return "this appointment has already been booked"
	case codeForeignKeyViolation:
		return "unknown customer or schedule"
	case codeCheckViolation:
		return "the appointment contains a value the store does not accept"
	case codeSerializationFailure:
		return "the booking conflicted with another request, please retry"
	default:
		return "the request could not be completed, please try again"
	}
}
