package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	// ErrExtractionExhausted: every extractor in the chain failed.
	ErrExtractionExhausted = errors.New("extraction exhausted")
	// ErrQuotaExceeded: a provider rejected the call on quota grounds.
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	// ErrTransientProvider: a provider failed in a retryable way.
	ErrTransientProvider = errors.New("transient provider failure")
	// ErrInvalidTransition: a state-machine violation.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConsistency: a cross-store write partially succeeded.
	ErrConsistency = errors.New("cross-store consistency failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ProviderError carries the provider name through the error chain so the
// persisted failure payload can attribute the fault.
type ProviderError struct {
	Provider string
	Kind     error
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Kind }

func NewProviderError(provider string, kind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// PayloadFromError converts any pipeline failure into the serializable
// form persisted on a FAILED document.
func PayloadFromError(err error) *ErrorPayload {
	if err == nil {
		return nil
	}
	payload := &ErrorPayload{Kind: "internal", Message: err.Error()}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		payload.Provider = provErr.Provider
	}

	switch {
	case errors.Is(err, ErrExtractionExhausted):
		payload.Kind = "extraction_exhausted"
	case errors.Is(err, ErrQuotaExceeded):
		payload.Kind = "quota_exceeded"
	case errors.Is(err, ErrTransientProvider):
		payload.Kind = "transient_provider"
	case errors.Is(err, ErrInvalidTransition):
		payload.Kind = "invalid_transition"
	case errors.Is(err, ErrConsistency):
		payload.Kind = "consistency_failure"
	case errors.Is(err, ErrInvalidInput):
		payload.Kind = "invalid_input"
	case errors.Is(err, ErrTemporary):
		payload.Kind = "temporary"
	}
	return payload
}

// ExtractorFailure records one failed attempt inside the extraction chain.
type ExtractorFailure struct {
	Extractor string
	Err       error
}

// ExhaustedError aggregates every extractor's failure reason. It unwraps
// to ErrExtractionExhausted.
type ExhaustedError struct {
	Failures []ExtractorFailure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Extractor, f.Err))
	}
	return "all extractors failed: " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Unwrap() error { return ErrExtractionExhausted }
