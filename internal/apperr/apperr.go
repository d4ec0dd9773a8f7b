// Package apperr classifies failures that cross component boundaries so the
// HTTP and MCP layers can report them consistently.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindProviderUnavailable        Kind = "provider_unavailable"
	KindProviderMalformedResponse  Kind = "provider_malformed_response"
	KindUnsupportedProofKind       Kind = "unsupported_proof_kind"
	KindRenderFailure              Kind = "render_failure"
	KindArtifactMissingAfterRender Kind = "artifact_missing_after_render"
	KindNotFound                   Kind = "not_found"
	KindInvalidInput               Kind = "invalid_input"
	KindInternal                   Kind = "internal"
)

// Error is a classified error. Message is safe to show to API callers; the
// wrapped cause is kept for logs.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.cause.Error()
	}
	return e.Message + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause. It returns nil when cause is nil.
func Wrap(cause error, kind Kind, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf reports the kind of the outermost classified error in err's chain,
// or KindInternal when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the caller-facing message for err. Unclassified errors
// fall back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus maps a kind to the status code used by the API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput, KindUnsupportedProofKind:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindProviderUnavailable, KindProviderMalformedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
