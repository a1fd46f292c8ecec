package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/sunbk201/uricheck/internal/common"
)

// BasicAuthRule attaches credentials to every URI matching Pattern.
type BasicAuthRule struct {
	Pattern     *regexp2.Regexp
	Credentials *common.Credentials
}

// ParseBasicAuthRule parses "<uri-regex> <user>:<password>".
func ParseBasicAuthRule(s string) (BasicAuthRule, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return BasicAuthRule{}, fmt.Errorf("basic auth %q: expected \"<uri-regex> <user>:<password>\"", s)
	}
	re, err := compilePattern(fields[0])
	if err != nil {
		return BasicAuthRule{}, fmt.Errorf("basic auth pattern %q: %w", fields[0], err)
	}
	creds, err := common.ParseCredentials(fields[1])
	if err != nil {
		return BasicAuthRule{}, fmt.Errorf("basic auth for %q: %w", fields[0], err)
	}
	return BasicAuthRule{Pattern: re, Credentials: creds}, nil
}

type BasicAuth struct {
	rules []BasicAuthRule
}

func NewBasicAuth(rules ...BasicAuthRule) *BasicAuth {
	return &BasicAuth{rules: rules}
}

// Handle adds an Authorization header. Credentials carried by the request
// win over configured rules; otherwise the first matching rule is used.
func (h *BasicAuth) Handle(_ context.Context, req common.CheckRequest) Result {
	creds := req.Credentials
	if creds == nil {
		u := req.URI.String()
		for _, r := range h.rules {
			if matches(r.Pattern, u) {
				creds = r.Credentials
				break
			}
		}
	}
	if creds == nil {
		return next(req)
	}
	slog.Debug("Adding basic auth", slog.String("uri", req.URI.String()), slog.String("credentials", creds.String()))
	return next(req.WithCredentials(creds).WithSetHeader("Authorization", creds.Authorization()))
}

func (h *BasicAuth) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("rules", len(h.rules)))
}
