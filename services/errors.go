package services

import (
	"errors"
	"fmt"
)

var (
	ErrForbidden      = errors.New("not a member of this board")
	ErrBoardNotFound  = errors.New("board not found")
	ErrCardNotFound   = errors.New("card not found")
	ErrListNotFound   = errors.New("list not found")
	ErrLabelNotFound  = errors.New("label not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrAlreadyMember  = errors.New("user is already a member of this board")
	ErrInviteResolved = errors.New("invitation already answered")
)

// ValidationError rejects input before anything is written
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is, or wraps, a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
