// Package errs defines the error kinds shared by every pipeline component.
//
// Components return *Error values tagged with a Kind so callers (the
// orchestrator, the web front end, the CLI) can branch on what failed
// without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindNone Kind = iota
	KindUnknown
	InvalidArgument
	ConfigurationError
	UpstreamError
	DownloadFailed
	ModelUnavailable
	TranscriptionFailed
	TranslationFailed
	SynthesisFailed
	NotFound
	StorageError
	Canceled
)

var kindNames = map[Kind]string{
	KindNone:            "None",
	KindUnknown:         "Unknown",
	InvalidArgument:     "InvalidArgument",
	ConfigurationError:  "ConfigurationError",
	UpstreamError:       "UpstreamError",
	DownloadFailed:      "DownloadFailed",
	ModelUnavailable:    "ModelUnavailable",
	TranscriptionFailed: "TranscriptionFailed",
	TranslationFailed:   "TranslationFailed",
	SynthesisFailed:     "SynthesisFailed",
	NotFound:            "NotFound",
	StorageError:        "StorageError",
	Canceled:            "Canceled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a failure tagged with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string // e.g. "search", "download"
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string. %w is honored.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
