package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/status"
	"github.com/sunbk201/uricheck/internal/uri"
)

type RemapRule struct {
	Pattern     *regexp2.Regexp
	Replacement string
}

// ParseRemapRule parses "<regex> <replacement>". The replacement may refer
// to groups as $1, $name or ${name}.
func ParseRemapRule(s string) (RemapRule, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return RemapRule{}, fmt.Errorf("remap %q: expected \"<regex> <replacement>\"", s)
	}
	re, err := compilePattern(fields[0])
	if err != nil {
		return RemapRule{}, fmt.Errorf("remap pattern %q: %w", fields[0], err)
	}
	return RemapRule{Pattern: re, Replacement: bracedGroups(fields[1])}, nil
}

// bracedGroups rewrites $name references to ${name}, which is the only named
// form regexp2 substitutes.
func bracedGroups(repl string) string {
	var sb strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		if c != '$' || i+1 >= len(repl) {
			sb.WriteByte(c)
			continue
		}
		n := repl[i+1]
		if n == '$' {
			sb.WriteString("$$")
			i++
			continue
		}
		if !isIdentStart(n) {
			sb.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(repl) && isIdent(repl[j]) {
			j++
		}
		sb.WriteString("${" + repl[i+1:j] + "}")
		i = j - 1
	}
	return sb.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdent(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9')
}

// Remap rewrites request URIs with the first matching rule.
type Remap struct {
	rules []RemapRule
}

func NewRemap(rules ...RemapRule) *Remap {
	return &Remap{rules: rules}
}

func (h *Remap) Handle(_ context.Context, req common.CheckRequest) Result {
	original := req.URI.String()
	for _, r := range h.rules {
		if !matches(r.Pattern, original) {
			continue
		}
		rewritten, err := r.Pattern.Replace(original, r.Replacement, -1, -1)
		if err != nil {
			return done(status.Error(status.InvalidURI, 0, fmt.Sprintf("remap %s: %v", original, err)))
		}
		u, err := uri.Parse(rewritten)
		if err != nil {
			return done(status.Error(status.InvalidURI, 0, fmt.Sprintf("remap %s -> %s: %v", original, rewritten, err)))
		}
		slog.Debug("Remapped URI", slog.String("from", original), slog.String("to", u.String()))
		return next(req.WithURI(u))
	}
	return next(req)
}
