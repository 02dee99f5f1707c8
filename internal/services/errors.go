package services

import "errors"

var (
	// ErrDeviceUnavailable is returned when the device already has an active assignment.
	ErrDeviceUnavailable = errors.New("device is already checked out")

	// ErrQuotaExceeded is returned when the user already holds a device of the same type.
	ErrQuotaExceeded = errors.New("user already holds a device of this type")

	// ErrNotCheckedOut is returned when returning a device that is not out.
	ErrNotCheckedOut = errors.New("device is not checked out")

	// ErrInvalidDevice is returned for device IDs outside the pool.
	ErrInvalidDevice = errors.New("invalid device id")

	// ErrDeviceTypeMismatch is returned when a requested type does not match the device ID range.
	ErrDeviceTypeMismatch = errors.New("device type does not match device id")

	ErrDuplicateID      = errors.New("user id already exists")
	ErrNotFound         = errors.New("not found")
	ErrProtectedAccount = errors.New("account is protected")
	ErrInvalidUserID    = errors.New("user id must be numeric with at most 6 digits")
	ErrInvalidRole      = errors.New("invalid role")

	// ErrInvalidCredentials never says whether the id or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrForbidden = errors.New("forbidden")

	// ErrPersistence wraps store failures. The in-memory change it accompanies
	// has still been applied.
	ErrPersistence = errors.New("persistence failure")
)
