package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sunbk201/uricheck/internal/common"
)

// ParseHeader parses "Name=value" or "Name: value".
func ParseHeader(s string) (string, string, error) {
	i := strings.IndexAny(s, "=:")
	if i <= 0 {
		return "", "", fmt.Errorf("header %q: expected \"Name=value\"", s)
	}
	key := strings.TrimSpace(s[:i])
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", fmt.Errorf("header %q: invalid name", s)
	}
	return http.CanonicalHeaderKey(key), strings.TrimSpace(s[i+1:]), nil
}

// HeaderInjection appends static headers to every request.
type HeaderInjection struct {
	header http.Header
}

func NewHeaderInjection(header http.Header) *HeaderInjection {
	return &HeaderInjection{header: header.Clone()}
}

func (h *HeaderInjection) Handle(_ context.Context, req common.CheckRequest) Result {
	if len(h.header) == 0 {
		return next(req)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req = req.WithHeader(k, v)
		}
	}
	return next(req)
}
