package voucher

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested voucher does not exist.
	ErrNotFound = errors.New("voucher: not found")
	// ErrValidation wraps every input validation failure.
	ErrValidation = errors.New("voucher: invalid input")
	// ErrUnbalanced wraps every balance rejection.
	ErrUnbalanced = errors.New("voucher: lines not postable")
	// ErrStateConflict wraps every lifecycle transition that is not allowed
	// from the voucher's current status.
	ErrStateConflict = errors.New("voucher: invalid status transition")
	// ErrDocNoConflict indicates a duplicate document number.
	ErrDocNoConflict = errors.New("voucher: document number already in use")
)

var (
	ErrAlreadyPosted = stateConflict("voucher: already posted")
	ErrVoided        = stateConflict("voucher: voided vouchers are terminal")
	ErrNotPosted     = stateConflict("voucher: only posted vouchers can be voided")
	ErrNotEditable   = stateConflict("voucher: only draft vouchers can be modified")
	ErrDeletePosted  = stateConflict("voucher: posted vouchers must be voided before deletion")
)

type conflictError struct {
	msg string
}

func stateConflict(msg string) error {
	return &conflictError{msg: msg}
}

func (e *conflictError) Error() string { return e.msg }

func (e *conflictError) Is(target error) bool {
	return target == ErrStateConflict
}

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("voucher: %s", e.Message)
	}
	return fmt.Sprintf("voucher: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// BalanceError carries the report that blocked a save or post.
type BalanceError struct {
	Report BalanceReport
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("voucher: %s: %s", e.Report.Status, e.Report.Message)
}

func (e *BalanceError) Is(target error) bool {
	return target == ErrUnbalanced
}
