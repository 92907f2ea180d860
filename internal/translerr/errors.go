// Package translerr defines the error taxonomy every adapter and converter
// in this module returns, plus the HTTP status mapping the proxy frontend
// uses to report them.
package translerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/llmbridge/transllm/internal/ir"
)

// Error is implemented by every concrete error type in this package so
// callers can branch on Code() without a type switch when they only need the
// category, and use errors.As when they need the full value.
type Error interface {
	error
	Code() string
}

// ConversionError reports a failure translating between two dialects.
type ConversionError struct {
	From, To ir.Provider
	Details  string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion from %s to %s failed: %s", e.From, e.To, e.Details)
}

func (e *ConversionError) Code() string { return "conversion_error" }

// UnsupportedProviderError reports a request naming a provider this module
// has no adapter for.
type UnsupportedProviderError struct {
	Provider  string
	Supported []string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q (supported: %s)", e.Provider, strings.Join(e.Supported, ", "))
}

func (e *UnsupportedProviderError) Code() string { return "unsupported_provider" }

// UnsupportedFeatureError reports a request using a feature the target
// dialect cannot express.
type UnsupportedFeatureError struct {
	Feature  string
	Provider ir.Provider
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("feature %q is not supported by provider %s", e.Feature, e.Provider)
}

func (e *UnsupportedFeatureError) Code() string { return "unsupported_feature" }

// ValidationError reports a request that failed structural validation before
// it was encoded in the target dialect.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Messages, "; "))
}

func (e *ValidationError) Code() string { return "validation_error" }

// IdempotencyError reports that A -> IR -> A did not reproduce the original
// value.
type IdempotencyError struct {
	Original, Final any
	Diff            string
}

func (e *IdempotencyError) Error() string {
	return fmt.Sprintf("idempotency check failed: %s", e.Diff)
}

func (e *IdempotencyError) Code() string { return "idempotency_error" }

// HTTPStatus maps an error produced by this module to the HTTP status the
// proxy frontend should answer with. Errors that don't implement Error map to
// 500, matching the "anything else" branch of the propagation policy.
func HTTPStatus(err error) int {
	var te Error
	if !errors.As(err, &te) {
		return http.StatusInternalServerError
	}

	switch te.Code() {
	case "validation_error":
		return http.StatusBadRequest
	case "unsupported_provider", "unsupported_feature":
		return http.StatusNotImplemented
	case "conversion_error":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
