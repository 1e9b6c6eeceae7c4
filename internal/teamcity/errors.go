package teamcity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies client failures so callers can pick a retry policy.
type ErrorKind int

const (
	// ErrNetwork covers transport failures and 5xx responses; transient.
	ErrNetwork ErrorKind = iota
	// ErrAuth covers 401/403; retrying with the same token is pointless.
	ErrAuth
	// ErrNotFound covers 404; the entity no longer exists upstream.
	ErrNotFound
	// ErrRateLimited covers 429; transient with a longer backoff.
	ErrRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case ErrAuth:
		return "auth"
	case ErrNotFound:
		return "not found"
	case ErrRateLimited:
		return "rate limited"
	default:
		return "network"
	}
}

// Error is a classified client failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("teamcity %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err, defaulting to ErrNetwork for
// unclassified failures.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ErrNetwork
}

// Transient reports whether the failure is worth retrying.
func Transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case ErrNetwork, ErrRateLimited:
		return true
	}
	return false
}

func classifyStatus(op string, status int) error {
	kind := ErrNetwork
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuth
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	}
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("status %d", status)}
}
