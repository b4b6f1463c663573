package membership

import (
	"errors"
)

var (
	ErrPlanNotFound            = errors.New("membership plan not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrMembershipNotFound      = errors.New("membership not found")
	ErrNotOwner                = errors.New("membership belongs to another user")
	ErrUserRevoked             = errors.New("user membership is revoked")
	ErrAlreadySubscribed       = errors.New("user already holds an active membership on this plan")
	ErrAdminPermissionRequired = errors.New("plan requires admin permission")
	ErrInvalidPlanChange       = errors.New("invalid plan change")
	ErrUnsupportedBillingCycle = errors.New("unsupported billing cycle")

	// ErrConcurrentChange means the membership moved on between validation and write.
	ErrConcurrentChange = errors.New("membership changed concurrently")
)

// ValidationError is a rejected request. Nothing was written.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error, detail string) error {
	return &ValidationError{Err: err, Detail: detail}
}

// IsValidation reports whether err rejects the request before any write.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
