package service

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateRequest runs struct tag validation and wraps failures in
// ErrInvalidInput.
func validateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// ScanRequest is the input to ProcessScan.
type ScanRequest struct {
	UserID   int64  `validate:"gt=0"`
	Code     string `validate:"required,max=64"`
	Location string `validate:"max=128"`
	Device   string `validate:"max=128"`
}

// RedeemRequest is the input to Redeem.
type RedeemRequest struct {
	UserID    int64  `validate:"gt=0"`
	ProductID int64  `validate:"gt=0"`
	OrderRef  string `validate:"max=64"`
}

// RegisterRequest is the input to RegisterMember.
type RegisterRequest struct {
	ID         int64  `validate:"gt=0"`
	Email      string `validate:"required,email,max=255"`
	FirstName  string `validate:"max=255"`
	ReferrerID *int64 `validate:"omitempty,gt=0"`
}

// ProfileRequest is the input to UpdateProfile.
type ProfileRequest struct {
	UserID    int64  `validate:"gt=0"`
	Email     string `validate:"required,email,max=255"`
	FirstName string `validate:"max=255"`
}
