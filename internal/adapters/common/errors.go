package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTransient and ErrPermanent are sentinel errors the transport uses when
// classifying provider failures.
var (
	ErrTransient = errors.New("transient error")
	ErrPermanent = errors.New("permanent error")
)

// Sentinels for the adapter error taxonomy. Typed errors below unwrap to one
// of these so callers can branch with errors.Is.
var (
	ErrAuthentication       = errors.New("authentication failed")
	ErrMissingSignature     = fmt.Errorf("%w: request does not carry a signature", ErrAuthentication)
	ErrInvalidSignature     = fmt.Errorf("%w: request signature is invalid", ErrAuthentication)
	ErrDecode               = errors.New("payload decode failed")
	ErrCanonicalization     = errors.New("payload canonicalization failed")
	ErrInvalidActivity      = errors.New("invalid activity")
	ErrTransport            = errors.New("transport failed")
	ErrUnsupportedOperation = errors.New("operation not supported by twilio whatsapp api")
)

// WrapTransient annotates an error so callers can detect transient failures.
func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// WrapPermanent annotates an error as permanent.
func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// DecodeError reports a body that could not be decoded for its declared
// content type.
type DecodeError struct {
	ContentType string
	Err         error
}

func (e *DecodeError) Error() string {
	if e.ContentType == "" {
		return fmt.Sprintf("%s: %v", ErrDecode, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", ErrDecode, e.ContentType, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// CanonicalizationError reports a payload field that could not be converted
// into the canonical activity model.
type CanonicalizationError struct {
	Field string
	Value string
	Err   error
}

func (e *CanonicalizationError) Error() string {
	return fmt.Sprintf("%s: field %s=%q: %v", ErrCanonicalization, e.Field, e.Value, e.Err)
}

func (e *CanonicalizationError) Unwrap() []error { return []error{ErrCanonicalization, e.Err} }

// InvalidActivityError reports an outbound activity that cannot be turned into
// a provider message.
type InvalidActivityError struct {
	ActivityID string
	Reason     string
}

func (e *InvalidActivityError) Error() string {
	if e.ActivityID == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidActivity, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", ErrInvalidActivity, e.ActivityID, e.Reason)
}

func (e *InvalidActivityError) Unwrap() error { return ErrInvalidActivity }

// TransportError wraps a dispatch failure for the activity at Index of a send
// batch.
type TransportError struct {
	Index int
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: activity %d: %v", ErrTransport, e.Index, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// HTTPStatus maps an error from the inbound path to the status code written
// back to the provider.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthentication):
		return http.StatusForbidden
	case errors.Is(err, ErrDecode), errors.Is(err, ErrCanonicalization):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
