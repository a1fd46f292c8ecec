package status

import (
	"fmt"
	"log/slog"
	"net/http"
)

type Kind string

const (
	KindOk          Kind = "OK"
	KindError       Kind = "ERROR"
	KindExcluded    Kind = "EXCLUDED"
	KindUnsupported Kind = "UNSUPPORTED"
	KindUnknown     Kind = "UNKNOWN"
)

type ErrorKind string

const (
	TransportFailure   ErrorKind = "TransportFailure"
	RejectedStatusCode ErrorKind = "RejectedStatusCode"
	UnknownStatusCode  ErrorKind = "UnknownStatusCode"
	FragmentNotFound   ErrorKind = "FragmentNotFound"
	PluginCallFailure  ErrorKind = "PluginCallFailure"
	InvalidURI         ErrorKind = "InvalidURI"
	InvalidFilePath    ErrorKind = "InvalidFilePath"
)

// Status is the final classification of a checked URI. Code is zero when no
// HTTP response was obtained.
type Status struct {
	Kind      Kind      `json:"kind"`
	Code      int       `json:"code,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Detail    string    `json:"detail,omitempty"`

	// Cached only affects presentation.
	Cached bool `json:"cached,omitempty"`
	// Unclassified marks a status reported as is by a plugin or solver. Its
	// code cannot be classified back into the same status, so it is never
	// cached.
	Unclassified bool `json:"-"`
}

func Ok(code int) Status {
	return Status{Kind: KindOk, Code: code}
}

func Error(kind ErrorKind, code int, detail string) Status {
	return Status{Kind: KindError, ErrorKind: kind, Code: code, Detail: detail}
}

func Excluded() Status {
	return Status{Kind: KindExcluded}
}

func Unsupported(reason string) Status {
	return Status{Kind: KindUnsupported, Detail: reason}
}

func Unknown(code int) Status {
	return Status{Kind: KindUnknown, ErrorKind: UnknownStatusCode, Code: code}
}

func (s Status) IsOk() bool          { return s.Kind == KindOk }
func (s Status) IsError() bool       { return s.Kind == KindError }
func (s Status) IsExcluded() bool    { return s.Kind == KindExcluded }
func (s Status) IsUnsupported() bool { return s.Kind == KindUnsupported }
func (s Status) IsUnknown() bool     { return s.Kind == KindUnknown }

// HasCode reports whether the status carries an HTTP status code.
func (s Status) HasCode() bool {
	return s.Code != 0
}

// WithCached marks the status as served from the cache.
func (s Status) WithCached() Status {
	s.Cached = true
	return s
}

// AsReported marks s as not produced by a Classifier.
func (s Status) AsReported() Status {
	s.Unclassified = true
	return s
}

// Equal compares two statuses ignoring the Cached annotation.
func (s Status) Equal(o Status) bool {
	s.Cached, o.Cached = false, false
	return s == o
}

// Summary is the short human readable description used by reporters.
func (s Status) Summary() string {
	var text string
	switch s.Kind {
	case KindOk:
		text = "OK"
	case KindExcluded:
		text = "Excluded"
	case KindUnsupported:
		text = "Unsupported"
		if s.Detail != "" {
			text += ": " + s.Detail
		}
	case KindUnknown:
		text = fmt.Sprintf("Unknown status code (%d)", s.Code)
	case KindError:
		text = s.errorText()
	default:
		text = string(s.Kind)
	}
	if s.Cached {
		text += " (cached)"
	}
	return text
}

func (s Status) errorText() string {
	switch s.ErrorKind {
	case RejectedStatusCode:
		reason := http.StatusText(s.Code)
		if reason == "" {
			reason = "Unknown"
		}
		return fmt.Sprintf("Rejected status code (this depends on your \"accept\" configuration): %s", reason)
	case TransportFailure:
		return "Network error: " + s.Detail
	case FragmentNotFound:
		return "Cannot find fragment: " + s.Detail
	case PluginCallFailure:
		return "Plugin call failed: " + s.Detail
	case InvalidURI:
		return "Invalid URI: " + s.Detail
	case InvalidFilePath:
		return "Invalid file path: " + s.Detail
	default:
		if s.Detail != "" {
			return fmt.Sprintf("%s: %s", s.ErrorKind, s.Detail)
		}
		return string(s.ErrorKind)
	}
}

// CodeString is the bracketed prefix of compact output, e.g. "200" or "ERROR".
func (s Status) CodeString() string {
	if s.HasCode() {
		return fmt.Sprintf("%d", s.Code)
	}
	return string(s.Kind)
}

func (s Status) String() string {
	return fmt.Sprintf("[%s] %s", s.CodeString(), s.Summary())
}

func (s Status) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("kind", string(s.Kind))}
	if s.Code != 0 {
		attrs = append(attrs, slog.Int("code", s.Code))
	}
	if s.ErrorKind != "" {
		attrs = append(attrs, slog.String("error", string(s.ErrorKind)))
	}
	if s.Detail != "" {
		attrs = append(attrs, slog.String("detail", s.Detail))
	}
	if s.Cached {
		attrs = append(attrs, slog.Bool("cached", true))
	}
	return slog.GroupValue(attrs...)
}
