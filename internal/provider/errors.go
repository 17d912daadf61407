package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind is the operator-facing classification of a failed send.
type ErrorKind string

const (
	KindRateLimited       ErrorKind = "rate_limited"
	KindInvalidRecipient  ErrorKind = "invalid_recipient"
	KindTemplateMismatch  ErrorKind = "template_mismatch"
	KindBillingSuspended  ErrorKind = "billing_suspended"
	KindAuth              ErrorKind = "auth"
	KindTransport         ErrorKind = "transport"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindRejected          ErrorKind = "rejected"
)

func (k ErrorKind) String() string { return string(k) }

// ProviderError classifies provider call failures.
type ProviderError struct {
	StatusCode int
	// Code is the provider-specific error code, e.g. Meta's 131026.
	Code      string
	Kind      ErrorKind
	Message   string
	Transient bool
	Endpoint  string
	RawBody   string
	Cause     error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Detail is the short human-readable text stored on the recipient.
func (e *ProviderError) Detail() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

// IsTransient reports whether an error is of a kind a later retry may fix.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// KindOf returns the classification of err, or transport for unknown errors.
func KindOf(err error) ErrorKind {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Kind != "" {
		return providerErr.Kind
	}
	return KindTransport
}

// CodeOf returns the provider code of err, falling back to its kind.
func CodeOf(err error) string {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.Code != "" {
			return providerErr.Code
		}
		return string(providerErr.Kind)
	}
	return string(KindTransport)
}

func transportError(endpoint string, err error) *ProviderError {
	return &ProviderError{
		Kind:      KindTransport,
		Message:   "provider request failed",
		Transient: !errors.Is(err, context.Canceled),
		Endpoint:  endpoint,
		Cause:     err,
	}
}

func malformedResponse(endpoint string, statusCode int, body string, cause error) *ProviderError {
	return &ProviderError{
		StatusCode: statusCode,
		Kind:       KindMalformedResponse,
		Message:    "provider accepted the request without a message id",
		Endpoint:   endpoint,
		RawBody:    body,
		Cause:      cause,
	}
}

// classifyHTTP maps a non-2xx status and provider message to a kind for
// providers that do not expose a stable error code table.
func classifyHTTP(statusCode int, message string) (ErrorKind, bool) {
	lower := strings.ToLower(message)
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited, true
	case statusCode == http.StatusPaymentRequired:
		return KindBillingSuspended, false
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindAuth, false
	case statusCode >= http.StatusInternalServerError:
		return KindRejected, true
	case strings.Contains(lower, "template"):
		return KindTemplateMismatch, false
	case strings.Contains(lower, "number") || strings.Contains(lower, "phone") || strings.Contains(lower, "recipient"):
		return KindInvalidRecipient, false
	case strings.Contains(lower, "balance") || strings.Contains(lower, "payment") || strings.Contains(lower, "billing"):
		return KindBillingSuspended, false
	}
	return KindRejected, false
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
