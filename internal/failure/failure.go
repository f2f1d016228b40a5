// Package failure classifies connector errors into user-facing kinds and
// maps them onto process exit codes.
package failure

import (
	"errors"
	"strings"
)

// Kind is the category of a connector failure.
type Kind int

const (
	Unexpected Kind = iota
	ConfigValidation
	AuthExchangeFailed
	CatalogUnavailable
	DownloadFailed
	UnsupportedArchiveType
	MetadataFileMissing
	ConversionError
)

// Exit codes reported to the host platform.
const (
	ExitOK         = 0
	ExitUser       = 1
	ExitUnexpected = 2
)

var kindNames = map[Kind]string{
	Unexpected:             "unexpected",
	ConfigValidation:       "config_validation",
	AuthExchangeFailed:     "auth_exchange_failed",
	CatalogUnavailable:     "catalog_unavailable",
	DownloadFailed:         "download_failed",
	UnsupportedArchiveType: "unsupported_archive_type",
	MetadataFileMissing:    "metadata_file_missing",
	ConversionError:        "conversion_error",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// User reports whether failures of this kind are expected, user-facing conditions.
func (k Kind) User() bool {
	_, known := kindNames[k]
	return known && k != Unexpected
}

// FieldError is a single configuration field problem.
type FieldError struct {
	Field   string
	Message string
}

// Error is a classified connector failure.
type Error struct {
	Kind   Kind
	Msg    string
	Err    error
	Fields []FieldError
}

func (e *Error) Error() string {
	msg := e.Msg
	if len(e.Fields) > 0 {
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = f.Field + ": " + f.Message
		}
		msg += ": " + strings.Join(parts, ", ")
	}
	if e.Err != nil {
		if msg == "" {
			return e.Err.Error()
		}
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a failure of the given kind without a cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Validation aggregates field problems into one ConfigValidation failure.
func Validation(fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return &Error{Kind: ConfigValidation, Msg: "Validation Error", Fields: fields}
}

// KindOf returns the kind of the outermost classified failure in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unexpected
}

// Is reports whether err carries a failure of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsUser reports whether err is an expected, user-facing failure.
func IsUser(err error) bool {
	return err != nil && KindOf(err).User()
}

// ExitCode maps err onto the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case IsUser(err):
		return ExitUser
	default:
		return ExitUnexpected
	}
}
