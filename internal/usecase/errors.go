package usecase

import (
	"errors"
	"strings"
)

const (
	CodeInvalidConfiguration = "INVALID_CONFIGURATION"
	CodeNotPublished         = "NOT_PUBLISHED"
	CodeSlotsExhausted       = "SLOTS_EXHAUSTED"
	CodeDuplicatePurchase    = "DUPLICATE_PURCHASE"
	CodeAlreadyActive        = "ALREADY_ACTIVE"
	CodeNotFound             = "NOT_FOUND"
	CodeStorageContention    = "STORAGE_CONTENTION"
)

// DomainError is a business-rule rejection. It is an expected outcome and
// must reach the caller as is; retrying it unchanged gives the same answer.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is matches on Code so errors.Is(err, ErrSlotsExhausted) holds for any
// message.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

func IsDomainError(err error) bool {
	var d *DomainError
	return errors.As(err, &d)
}

// TechnicalError is an infrastructure failure. STORAGE_CONTENTION is safe to
// retry with backoff.
type TechnicalError struct {
	Code    string
	Message string
	Err     error
}

func (e *TechnicalError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *TechnicalError) Unwrap() error {
	return e.Err
}

func (e *TechnicalError) Is(target error) bool {
	t, ok := target.(*TechnicalError)
	return ok && t.Code == e.Code
}

func IsTechnicalError(err error) bool {
	var t *TechnicalError
	return errors.As(err, &t)
}

var (
	ErrInvalidConfiguration = &DomainError{Code: CodeInvalidConfiguration, Message: "invalid configuration"}
	ErrNotPublished         = &DomainError{Code: CodeNotPublished, Message: "lead is not published"}
	ErrSlotsExhausted       = &DomainError{Code: CodeSlotsExhausted, Message: "lead is no longer available"}
	ErrDuplicatePurchase    = &DomainError{Code: CodeDuplicatePurchase, Message: "lead already purchased by this provider"}
	ErrAlreadyActive        = &DomainError{Code: CodeAlreadyActive, Message: "provider already has an active entitlement"}
	ErrNotFound             = &DomainError{Code: CodeNotFound, Message: "not found"}
	ErrStorageContention    = &TechnicalError{Code: CodeStorageContention, Message: "storage contention"}
)

// ErrorCode returns the taxonomy code carried by err, or "" for unclassified
// errors.
func ErrorCode(err error) string {
	var d *DomainError
	if errors.As(err, &d) {
		return d.Code
	}
	var t *TechnicalError
	if errors.As(err, &t) {
		return t.Code
	}
	return ""
}

func notFound(what string) *DomainError {
	return &DomainError{Code: CodeNotFound, Message: what + " not found"}
}

func invalidConfiguration(errs []ValidationError) *DomainError {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return &DomainError{Code: CodeInvalidConfiguration, Message: strings.Join(msgs, "; ")}
}
