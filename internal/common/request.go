package common

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sunbk201/uricheck/internal/uri"
)

// Source is where a URI occurrence was found.
type Source struct {
	Document string `json:"document"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

func (s Source) String() string {
	switch {
	case s.Document == "":
		return "-"
	case s.Line == 0:
		return s.Document
	case s.Column == 0:
		return fmt.Sprintf("%s:%d", s.Document, s.Line)
	default:
		return fmt.Sprintf("%s:%d:%d", s.Document, s.Line, s.Column)
	}
}

// CheckRequest is one URI occurrence to verify. It is treated as immutable:
// the With* methods return transformed copies and never touch the receiver's
// header map.
type CheckRequest struct {
	URI         uri.URI
	Source      Source
	Method      string
	Header      http.Header
	Credentials *Credentials
}

// NewCheckRequest builds a GET request for raw found in source.
func NewCheckRequest(raw string, source Source) (CheckRequest, error) {
	u, err := uri.Parse(raw)
	if err != nil {
		return CheckRequest{}, err
	}
	return CheckRequest{
		URI:    u,
		Source: source,
		Method: http.MethodGet,
		Header: http.Header{},
	}, nil
}

// Fragment is the fragment of the requested URI, if any.
func (r CheckRequest) Fragment() string {
	return r.URI.Fragment
}

func (r CheckRequest) WithURI(u uri.URI) CheckRequest {
	r.URI = u
	return r
}

func (r CheckRequest) WithMethod(method string) CheckRequest {
	r.Method = method
	return r
}

// WithHeader returns a copy with value appended to key.
func (r CheckRequest) WithHeader(key, value string) CheckRequest {
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Add(key, value)
	r.Header = h
	return r
}

// WithSetHeader returns a copy with key replaced by value.
func (r CheckRequest) WithSetHeader(key, value string) CheckRequest {
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(key, value)
	r.Header = h
	return r
}

func (r CheckRequest) WithCredentials(c *Credentials) CheckRequest {
	r.Credentials = c
	return r
}

func (r CheckRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("method", r.Method),
		slog.String("uri", r.URI.String()),
		slog.String("source", r.Source.String()),
	)
}
