package models

import (
	"errors"
	"fmt"
)

// 定義常見錯誤
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUpstream          = errors.New("upstream error")
	ErrInvalidResponse   = errors.New("invalid upstream response")
	ErrRarityComputation = errors.New("rarity computation failed")
)

// RequestError reports a missing or malformed caller parameter.
type RequestError struct {
	Param  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Param, e.Reason)
}

// Is matches ErrInvalidRequest.
func (e *RequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// NewRequestError creates a new RequestError.
func NewRequestError(param, reason string) error {
	return &RequestError{Param: param, Reason: reason}
}

// UpstreamError reports a failed marketplace call. StatusCode is zero for transport failures.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream request failed: %v", e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstream}
	}
	return []error{ErrUpstream, e.Err}
}

// Temporary reports whether the failure is worth counting against a breaker.
func (e *UpstreamError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}

// NewStatusError creates an UpstreamError for a non-success HTTP status.
func NewStatusError(status int) error {
	return &UpstreamError{StatusCode: status}
}

// NewTransportError creates an UpstreamError for a network failure.
func NewTransportError(err error) error {
	return &UpstreamError{Err: err}
}

// InvalidResponseError wraps a payload problem as ErrInvalidResponse.
func InvalidResponseError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))
}

// ComputationError wraps err as ErrRarityComputation, keeping err in the chain.
func ComputationError(err error) error {
	if err == nil {
		return ErrRarityComputation
	}
	return fmt.Errorf("%w: %w", ErrRarityComputation, err)
}

// IsInvalidRequest reports whether err was caused by caller input.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}
