// Package common defines shared constants and sentinel errors used across
// the daemon, its servers and the companion client. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrorValidation   = errors.New("validation error")

	// Auth errors (invalid, malformed, revoked or already rotated token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Trust errors.
	ErrTrustReset      = errors.New("trust anchor was reset, device must re-pair")
	ErrNoCertificate   = errors.New("certificate not loaded")
	ErrProfileLocked   = errors.New("profile is locked")
	ErrProfileUnlocked = errors.New("profile is already unlocked")

	// Pairing errors. All of them are recoverable: the coordinator
	// returns to idle and the user may start over.
	ErrPairingTokenInvalid = errors.New("pairing token invalid")
	ErrPairingExpired      = errors.New("pairing session expired")
	ErrPairingDenied       = errors.New("pairing denied")
	ErrPairingCancelled    = errors.New("pairing cancelled")
	ErrPairingNotPending   = errors.New("pairing session is not awaiting approval")
	ErrPairingWrongState   = errors.New("pairing session in wrong state")
	ErrPairingDelivered    = errors.New("pairing result already delivered")

	// Server lifecycle errors.
	ErrServerRunning    = errors.New("server already running")
	ErrServerNotRunning = errors.New("server not running")
	ErrUnknownServer    = errors.New("unknown server")

	// Network guard errors.
	ErrNotLocal    = errors.New("source address outside local subnets")
	ErrRateLimited = errors.New("rate limit exceeded")
)
