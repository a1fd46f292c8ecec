package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/sunbk201/uricheck/internal/chain"
	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/status"
)

type (
	Handler      = chain.Handler[common.CheckRequest, status.Status]
	HandlerFunc  = chain.HandlerFunc[common.CheckRequest, status.Status]
	RequestChain = chain.Chain[common.CheckRequest, status.Status]
	Result       = chain.Result[common.CheckRequest, status.Status]
)

const matchTimeout = 100 * time.Millisecond

func NewChain(hs ...Handler) RequestChain {
	return chain.New(hs...)
}

func next(req common.CheckRequest) Result {
	return chain.Next[common.CheckRequest, status.Status](req)
}

func done(s status.Status) Result {
	return chain.Done[common.CheckRequest](s)
}

// Traverse runs req through each chain in turn, feeding the request produced
// by one chain into the next. A request that no handler finishes is Excluded.
func Traverse(ctx context.Context, req common.CheckRequest, chains ...RequestChain) status.Status {
	for _, c := range chains {
		r := c.Traverse(ctx, req)
		if r.IsDone() {
			return r.Done()
		}
		req = r.Next()
	}
	return status.Excluded()
}

// compilePattern compiles a user supplied URI pattern. RE2 syntax is enabled
// so that (?P<name>...) groups work.
func compilePattern(expr string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(expr, regexp2.RE2)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = matchTimeout
	return re, nil
}

// CompilePatterns compiles a list of URI patterns.
func CompilePatterns(exprs []string) ([]*regexp2.Regexp, error) {
	out := make([]*regexp2.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := compilePattern(e)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", e, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matches(re *regexp2.Regexp, s string) bool {
	ok, err := re.MatchString(s)
	return err == nil && ok
}
