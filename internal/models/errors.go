package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeAuth       = "AUTH_ERROR"
	ErrCodeNetwork    = "NETWORK_ERROR"
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeApply      = "APPLY_ERROR"
	ErrCodeIntegrity  = "INTEGRITY_ERROR"
	ErrCodeStore      = "STORE_ERROR"
	ErrCodeConfig     = "CONFIG_ERROR"
	ErrCodeRateLimit  = "RATE_LIMIT"
	ErrCodeServer     = "SERVER_ERROR"
)

// Sentinel errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrCycleCancelled   = errors.New("sync cycle cancelled")
	ErrConflictPending  = errors.New("conflict requires user resolution")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrOffline          = errors.New("client is offline")
	ErrRateLimited      = errors.New("rate limited")
)

// APIError represents an error returned by the sync service.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// NetworkError wraps a transport failure. Network errors are retryable.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError marks a corrupt or checksum-mismatched item. It triggers a
// per-item repair by re-fetching from remote, never a cycle-wide abort.
type ValidationError struct {
	Key      EntityKey
	Expected string
	Actual   string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Expected != "" || e.Actual != "" {
		return fmt.Sprintf("validation failed for %s: %s (expected %s, got %s)",
			e.Key, e.Reason, e.Expected, e.Actual)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Key, e.Reason)
}

// ApplyError wraps a local-store write failure for one entity.
type ApplyError struct {
	Key EntityKey
	Op  Operation
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s to %s: %v", e.Op, e.Key, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error should go back through the retry
// manager rather than fail the task outright.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// IsFatal reports whether the error must abort the whole cycle. Only
// authentication failures and catastrophic store unavailability qualify.
func IsFatal(err error) bool {
	if errors.Is(err, ErrNotAuthenticated) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return false
}
