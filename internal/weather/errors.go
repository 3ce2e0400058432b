package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest is returned for malformed or out-of-range requests.
	// It is raised before any upstream call.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrTotalUpstreamFailure is returned when no configured model delivered
	// usable data for the requested location and horizon.
	ErrTotalUpstreamFailure = errors.New("all upstream models unavailable")

	// ErrInvalidConfiguration is returned at startup when weights or policy
	// values are out of range.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// FailureKind classifies a single feed failure.
type FailureKind string

const (
	FailureUnreachable FailureKind = "unreachable"
	FailureMalformed   FailureKind = "malformed_response"
	FailureTimeout     FailureKind = "timeout"
)

// FeedError is a typed failure of one Model Feed Client call.
type FeedError struct {
	Model string
	Kind  FailureKind
	Err   error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("model %s: %s: %v", e.Model, e.Kind, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// NewFeedError wraps err as a FeedError of the given kind.
func NewFeedError(model string, kind FailureKind, err error) *FeedError {
	return &FeedError{Model: model, Kind: kind, Err: err}
}

// AsFeedError classifies an arbitrary error returned by a feed. Errors that
// already are FeedErrors keep their kind; deadline errors become timeouts and
// everything else is treated as unreachable.
func AsFeedError(model string, err error) *FeedError {
	if err == nil {
		return nil
	}
	var fe *FeedError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewFeedError(model, FailureTimeout, err)
	}
	return NewFeedError(model, FailureUnreachable, err)
}

// TotalFailureError carries the diagnostic context of a TotalUpstreamFailure.
type TotalFailureError struct {
	Models []string
	Causes []error
	Reason string
}

func (e *TotalFailureError) Error() string {
	msg := fmt.Sprintf("%s (tried: %s)", ErrTotalUpstreamFailure, strings.Join(e.Models, ", "))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TotalFailureError) Unwrap() error {
	return ErrTotalUpstreamFailure
}

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func invalidConfiguration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
