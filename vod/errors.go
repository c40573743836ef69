package vod

import (
	"errors"
	"fmt"

	"github.com/onnwee/chatlens/analytics"
	"github.com/onnwee/chatlens/store"
)

// ErrorKind classifies why a stage failed. It is recorded with the failed job.
type ErrorKind int

const (
	UnknownFailure ErrorKind = iota
	// UpstreamDataUnavailable: broadcast metadata or streamer id could not be fetched.
	UpstreamDataUnavailable
	// TranscriptUnavailable: the transcript download failed and nothing was cached.
	TranscriptUnavailable
	// RecordNotFound: analysis was requested for a broadcast that was never persisted.
	RecordNotFound
	// IOFailure: the artifact store could not be read or written.
	IOFailure
	// InvalidMetricInput: analysis parameters were malformed.
	InvalidMetricInput
	// Interrupted: the process exited while the job was running.
	Interrupted
)

// String returns the name stored in job records.
func (k ErrorKind) String() string {
	switch k {
	case UpstreamDataUnavailable:
		return "UpstreamDataUnavailable"
	case TranscriptUnavailable:
		return "TranscriptUnavailable"
	case RecordNotFound:
		return "RecordNotFound"
	case IOFailure:
		return "IOFailure"
	case InvalidMetricInput:
		return "InvalidMetricInput"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown"
	}
}

// StageError is the failure result of a pipeline stage.
type StageError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(kind ErrorKind, err error, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind carried by err.
func KindOf(err error) ErrorKind {
	var se *StageError
	switch {
	case err == nil:
		return UnknownFailure
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, analytics.ErrInvalidMetricInput):
		return InvalidMetricInput
	case errors.Is(err, store.ErrNotFound):
		return RecordNotFound
	default:
		return UnknownFailure
	}
}
