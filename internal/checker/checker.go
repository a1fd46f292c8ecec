package checker

import (
	"context"
	"log/slog"
	"net"
	"slices"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/sunbk201/uricheck/internal/cache"
	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/dedup"
	"github.com/sunbk201/uricheck/internal/handler"
	"github.com/sunbk201/uricheck/internal/statistics"
	"github.com/sunbk201/uricheck/internal/status"
)

// Filter decides which URIs are checked at all.
type Filter struct {
	Include []*regexp2.Regexp
	Exclude []*regexp2.Regexp
	// Schemes, when set, is the allow-list of schemes to check.
	Schemes          []string
	ExcludePrivate   bool
	ExcludeLoopback  bool
	ExcludeLinkLocal bool
	IncludeMail      bool
}

type Options struct {
	Filter           Filter
	IncludeFragments bool
	Classifier       status.Classifier
	// AnyScheme passes schemes without a built-in client to the chains, for
	// plugins that handle them.
	AnyScheme bool

	// Cache is optional.
	Cache      *cache.Cache
	Controller *dedup.Controller
	// Recorder is optional.
	Recorder *statistics.Recorder
	Chains   []handler.RequestChain
}

// Checker verifies CheckRequests: filtering, cache lookup, deduplication
// and the request chains, in that order.
type Checker struct {
	opts Options
}

func New(opts Options) *Checker {
	if opts.Controller == nil {
		opts.Controller = dedup.New(1)
	}
	if opts.Classifier.Accept().IsEmpty() {
		opts.Classifier = status.NewClassifier(status.CodeSet{}, opts.Classifier.Reject())
	}
	return &Checker{opts: opts}
}

func (c *Checker) Controller() *dedup.Controller {
	return c.opts.Controller
}

// Key is the dedup and cache key of req.
func (c *Checker) Key(req common.CheckRequest) string {
	if c.opts.IncludeFragments && req.Fragment() != "" {
		return req.URI.KeyWithFragment()
	}
	return req.URI.Key()
}

// Check produces the terminal status of req. It never fails: every problem
// is expressed as a Status.
func (c *Checker) Check(ctx context.Context, req common.CheckRequest) common.Response {
	s := c.check(ctx, req)
	resp := common.Response{Request: req, Status: s}
	if c.opts.Recorder != nil {
		c.opts.Recorder.Add(resp)
	}
	slog.Debug("Checked", slog.Any("request", req), slog.Any("status", s))
	return resp
}

func (c *Checker) check(ctx context.Context, req common.CheckRequest) status.Status {
	key := c.Key(req)
	if s, ok := c.precheck(req); ok {
		// Drops an entry left by an earlier run that did check this URI.
		if c.opts.Cache != nil {
			c.opts.Cache.Insert(key, s)
		}
		return s
	}

	if s, ok := c.cached(key); ok {
		return s
	}

	s, shared, err := c.opts.Controller.Do(ctx, key, func(ctx context.Context) status.Status {
		// Another execution may have completed and cached key while this one
		// waited for its turn.
		if s, ok := c.cached(key); ok {
			return s
		}
		s := handler.Traverse(ctx, req, c.opts.Chains...)
		if c.opts.Cache != nil {
			c.opts.Cache.Insert(key, s)
		}
		return s
	})
	if err != nil {
		return status.Error(status.TransportFailure, 0, err.Error())
	}
	if shared {
		slog.Debug("Shared in-flight check", slog.String("key", key))
	}
	return s
}

func (c *Checker) cached(key string) (status.Status, bool) {
	if c.opts.Cache == nil {
		return status.Status{}, false
	}
	e, ok := c.opts.Cache.Lookup(key)
	if !ok {
		return status.Status{}, false
	}
	return c.opts.Classifier.ClassifyCode(e.Code).WithCached(), true
}

// precheck classifies requests that need no network work.
func (c *Checker) precheck(req common.CheckRequest) (status.Status, bool) {
	u := req.URI
	f := c.opts.Filter

	if len(f.Schemes) > 0 && !slices.Contains(f.Schemes, u.Scheme) {
		return status.Excluded(), true
	}
	if u.Scheme == "mailto" && !f.IncludeMail {
		return status.Excluded(), true
	}
	if u.Scheme == "tel" {
		return status.Excluded(), true
	}
	if c.excludedHost(u.Host) {
		return status.Excluded(), true
	}
	if c.excludedByPattern(u.String()) {
		return status.Excluded(), true
	}
	if !u.IsHTTP() && !u.IsFile() && !c.opts.AnyScheme {
		return status.Unsupported("no client for scheme " + u.Scheme), true
	}
	return status.Status{}, false
}

func (c *Checker) excludedHost(host string) bool {
	f := c.opts.Filter
	if f.ExcludeLoopback && strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	switch {
	case f.ExcludePrivate && ip.IsPrivate():
		return true
	case f.ExcludeLoopback && (ip.IsLoopback() || ip.IsUnspecified()):
		return true
	case f.ExcludeLinkLocal && (ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()):
		return true
	}
	return false
}

// excludedByPattern applies include and exclude patterns. An explicit include
// match always wins; with only includes configured, everything else is
// excluded.
func (c *Checker) excludedByPattern(u string) bool {
	f := c.opts.Filter
	if len(f.Include) == 0 && len(f.Exclude) == 0 {
		return false
	}
	for _, re := range f.Include {
		if ok, err := re.MatchString(u); err == nil && ok {
			return false
		}
	}
	if len(f.Exclude) == 0 {
		return true
	}
	for _, re := range f.Exclude {
		if ok, err := re.MatchString(u); err == nil && ok {
			return true
		}
	}
	return false
}

func (c *Checker) LogValue() slog.Value {
	f := c.opts.Filter
	return slog.GroupValue(
		slog.Int("include", len(f.Include)),
		slog.Int("exclude", len(f.Exclude)),
		slog.Any("schemes", f.Schemes),
		slog.Bool("include_fragments", c.opts.IncludeFragments),
		slog.Bool("cache", c.opts.Cache != nil),
		slog.Int("chains", len(c.opts.Chains)),
		slog.Any("classifier", c.opts.Classifier),
	)
}
