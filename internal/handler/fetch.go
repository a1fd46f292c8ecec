package handler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/fragment"
	"github.com/sunbk201/uricheck/internal/retry"
	"github.com/sunbk201/uricheck/internal/status"
)

const (
	DefaultUserAgent   = "uricheck"
	defaultMaxBodySize = 8 << 20
)

type FetchOptions struct {
	Timeout          time.Duration
	MaxRedirects     int
	UserAgent        string
	Insecure         bool
	Proxy            string
	IncludeFragments bool
	MaxBodySize      int64

	Retry      retry.Policy
	Classifier status.Classifier
	Fragments  *fragment.Checker
}

// Fetch is the terminal handler: it performs the network or filesystem
// check and always finishes the chain.
type Fetch struct {
	opts   FetchOptions
	client *http.Client
}

func NewFetch(opts FetchOptions) (*Fetch, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	if opts.Classifier.Accept().IsEmpty() {
		opts.Classifier = status.NewClassifier(status.CodeSet{}, opts.Classifier.Reject())
	}
	if opts.Fragments == nil {
		opts.Fragments = fragment.New(0, 10*time.Minute)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.Insecure}
	if err := configureProxy(transport, opts.Proxy); err != nil {
		return nil, err
	}

	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if maxRedirects <= 0 {
				return http.ErrUseLastResponse
			}
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &Fetch{opts: opts, client: client}, nil
}

// configureProxy wires an http(s) or socks5 proxy into t. An empty proxy
// keeps the environment settings.
func configureProxy(t *http.Transport, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("proxy %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return fmt.Errorf("proxy.FromURL: %w", err)
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return fmt.Errorf("proxy %q does not support contexts", raw)
		}
		t.Proxy = nil
		t.DialContext = cd.DialContext
	default:
		return fmt.Errorf("proxy %q: unsupported scheme %q", raw, u.Scheme)
	}
	return nil
}

func (h *Fetch) Handle(ctx context.Context, req common.CheckRequest) Result {
	switch {
	case req.URI.IsHTTP():
		return done(h.fetch(ctx, req))
	case req.URI.IsFile():
		return done(h.stat(req))
	default:
		return done(status.Unsupported(fmt.Sprintf("no client for scheme %q", req.URI.Scheme)))
	}
}

func (h *Fetch) needsFragment(req common.CheckRequest) bool {
	return h.opts.IncludeFragments && req.Fragment() != ""
}

func (h *Fetch) fetch(ctx context.Context, req common.CheckRequest) status.Status {
	withFragment := h.needsFragment(req)
	method := req.Method
	if method == "" || withFragment {
		method = http.MethodGet
	}
	target := req.URI.WithoutFragment().String()

	outcome, attempts := h.opts.Retry.Do(ctx, func(ctx context.Context) (status.Outcome, time.Duration) {
		return h.attempt(ctx, method, target, req.Header, withFragment)
	})
	s := h.opts.Classifier.Classify(outcome)
	slog.Debug("Fetched", slog.String("method", method), slog.String("uri", target), slog.Int("attempts", attempts), slog.Any("status", s))

	if withFragment && s.IsOk() {
		format := fragment.FormatOf(outcome.ContentType, req.URI.Path)
		return h.checkFragment(req.URI.Key(), req.Fragment(), format, outcome.Body, s)
	}
	return s
}

func (h *Fetch) attempt(ctx context.Context, method, target string, header http.Header, readBody bool) (status.Outcome, time.Duration) {
	r, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return status.Outcome{Err: err}, 0
	}
	r.Header = header.Clone()
	if r.Header == nil {
		r.Header = http.Header{}
	}
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", h.opts.UserAgent)
	}

	resp, err := h.client.Do(r)
	if err != nil {
		return status.Outcome{Err: unwrapURLError(err)}, 0
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	outcome := status.Outcome{
		Code:        resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if readBody && resp.StatusCode < 300 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, h.opts.MaxBodySize))
		if err != nil {
			return status.Outcome{Err: err}, 0
		}
		outcome.Body = body
	}
	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = retry.ParseRetryAfter(resp.Header, time.Now())
	}
	return outcome, retryAfter
}

// unwrapURLError drops the "Get \"url\":" prefix net/http adds, the URI is
// already part of every report line.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

func (h *Fetch) stat(req common.CheckRequest) status.Status {
	path := req.URI.URL().Path
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return status.Error(status.InvalidFilePath, 0, path)
		}
		return status.Error(status.InvalidFilePath, 0, err.Error())
	}
	ok := status.Ok(0)
	if info.IsDir() || !h.needsFragment(req) {
		return ok
	}

	format := fragment.FormatOf("", path)
	if format == fragment.FormatNone {
		return ok
	}
	body, err := readFile(path, h.opts.MaxBodySize)
	if err != nil {
		return status.Error(status.InvalidFilePath, 0, err.Error())
	}
	return h.checkFragment(req.URI.Key(), req.Fragment(), format, body, ok)
}

func readFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open: %w", err)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, fmt.Errorf("io.ReadAll: %w", err)
	}
	return b, nil
}

func (h *Fetch) checkFragment(key, frag string, format fragment.Format, body []byte, base status.Status) status.Status {
	found, checked, err := h.opts.Fragments.Check(key, frag, format, body)
	if err != nil {
		slog.Warn("Fragment check skipped", slog.String("document", key), slog.Any("error", err))
		return base
	}
	if checked && !found {
		return status.Error(status.FragmentNotFound, base.Code, "#"+frag)
	}
	return base
}

func (h *Fetch) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Duration("timeout", h.opts.Timeout),
		slog.Int("max_redirects", h.opts.MaxRedirects),
		slog.String("user_agent", h.opts.UserAgent),
		slog.Bool("insecure", h.opts.Insecure),
		slog.Bool("proxy", strings.TrimSpace(h.opts.Proxy) != ""),
		slog.Bool("include_fragments", h.opts.IncludeFragments),
	)
}
