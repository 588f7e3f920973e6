// Package service implements the points economy, rank, achievement, trigger
// and member engines on top of the store interfaces.
package service

import (
	"errors"

	"loyalty-engine/internal/repository"
)

// Domain errors. Not-found errors are shared with the repository layer so
// fakes and Postgres stores report the same values.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidAmount       = errors.New("invalid amount: must be positive")
	ErrInsufficientBalance = errors.New("insufficient points")
	ErrRankRequirement     = errors.New("rank requirement not met")
	ErrCodeAlreadyUsed     = errors.New("scan code already used")
	ErrSelfReferral        = errors.New("member cannot refer themselves")

	ErrMemberNotFound  = repository.ErrMemberNotFound
	ErrMemberExists    = repository.ErrMemberExists
	ErrProductNotFound = repository.ErrProductNotFound
	ErrCodeNotFound    = repository.ErrCodeNotFound
)

// ErrorKind groups errors for callers that map them to transport responses.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindPolicy     ErrorKind = "policy"
	KindIntegrity  ErrorKind = "integrity"
	KindInternal   ErrorKind = "internal"
)

// Classify returns the kind of err. Unknown errors are internal.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSelfReferral):
		return KindValidation
	case errors.Is(err, ErrMemberNotFound),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrCodeNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrRankRequirement),
		errors.Is(err, ErrCodeAlreadyUsed):
		return KindPolicy
	case errors.Is(err, ErrMemberExists):
		return KindIntegrity
	default:
		return KindInternal
	}
}
