package checker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/uricheck/internal/cache"
	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/dedup"
	"github.com/sunbk201/uricheck/internal/handler"
	"github.com/sunbk201/uricheck/internal/retry"
	"github.com/sunbk201/uricheck/internal/statistics"
	"github.com/sunbk201/uricheck/internal/status"
)

type countingServer struct {
	*httptest.Server
	hits sync.Map
}

func (s *countingServer) count(path string) int32 {
	v, ok := s.hits.Load(path)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

func newCountingServer(t *testing.T, delay time.Duration) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, _ := cs.hits.LoadOrStore(r.URL.Path, new(atomic.Int32))
		v.(*atomic.Int32).Add(1)
		time.Sleep(delay)
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/teapot":
			w.WriteHeader(http.StatusTeapot)
		case "/doc":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body><h1 id="intro">Intro</h1></body></html>`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(cs.Close)
	return cs
}

func newChecker(t *testing.T, opts Options, fetch handler.FetchOptions) *Checker {
	t.Helper()
	fetch.Retry = retry.New(0, time.Millisecond, time.Millisecond)
	fetch.Timeout = 5 * time.Second
	fetch.Classifier = opts.Classifier
	fetch.IncludeFragments = opts.IncludeFragments
	f, err := handler.NewFetch(fetch)
	require.NoError(t, err)
	if opts.Controller == nil {
		opts.Controller = dedup.New(8)
	}
	opts.Chains = append(opts.Chains, handler.NewChain(f))
	return New(opts)
}

func request(t *testing.T, raw string) common.CheckRequest {
	t.Helper()
	req, err := common.NewCheckRequest(raw, common.Source{Document: "links.txt", Line: 1})
	require.NoError(t, err)
	return req
}

func TestDuplicateRequestsHitNetworkOnce(t *testing.T) {
	server := newCountingServer(t, 100*time.Millisecond)
	c := newChecker(t, Options{}, handler.FetchOptions{})

	const callers = 10
	var wg sync.WaitGroup
	results := make([]status.Status, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Trailing slash and fragment variants share a key.
			raw := server.URL + "/page"
			switch i % 3 {
			case 1:
				raw += "/"
			case 2:
				raw += "#section"
			}
			results[i] = c.Check(context.Background(), request(t, raw)).Status
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), server.count("/page")+server.count("/page/"))
	for _, s := range results {
		assert.Equal(t, status.Ok(200), s)
	}
}

func TestCacheHitIsReclassified(t *testing.T) {
	server := newCountingServer(t, 0)
	cch := cache.New(status.CodeSet{})
	c := newChecker(t, Options{Cache: cch}, handler.FetchOptions{})

	first := c.Check(context.Background(), request(t, server.URL+"/teapot")).Status
	assert.Equal(t, status.Error(status.RejectedStatusCode, 418, ""), first)
	assert.False(t, first.Cached)

	second := c.Check(context.Background(), request(t, server.URL+"/teapot")).Status
	assert.True(t, second.Cached)
	assert.True(t, second.Equal(first))
	assert.Equal(t, int32(1), server.count("/teapot"))

	// Same cache, 418 now accepted.
	accepting := newChecker(t, Options{
		Cache:      cch,
		Classifier: status.NewClassifier(status.NewCodeSet(418), status.CodeSet{}),
	}, handler.FetchOptions{})
	third := accepting.Check(context.Background(), request(t, server.URL+"/teapot")).Status
	assert.Equal(t, status.Ok(418).WithCached(), third)
	assert.Equal(t, int32(1), server.count("/teapot"))
}

func TestTransportFailuresAreNotCached(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	cch := cache.New(status.CodeSet{})
	c := newChecker(t, Options{Cache: cch}, handler.FetchOptions{})
	s := c.Check(context.Background(), request(t, base+"/x")).Status
	assert.Equal(t, status.TransportFailure, s.ErrorKind)
	assert.Equal(t, 0, cch.Len())
}

func TestExcludedURIDropsStaleCacheEntry(t *testing.T) {
	cch := cache.New(status.CodeSet{})
	_, err := cch.Read(strings.NewReader("https://example.com/private,200\nhttps://example.com/public,200\n"),
		time.Now(), status.NewClassifier(status.CodeSet{}, status.CodeSet{}).ClassifyCode)
	require.NoError(t, err)

	exclude, err := handler.CompilePatterns([]string{"private"})
	require.NoError(t, err)
	c := newChecker(t, Options{Cache: cch, Filter: Filter{Exclude: exclude}}, handler.FetchOptions{})

	s := c.Check(context.Background(), request(t, "https://example.com/private")).Status
	assert.True(t, s.IsExcluded())

	var out strings.Builder
	require.NoError(t, cch.Write(&out))
	assert.Equal(t, "https://example.com/public,200\n", out.String())
}

func TestReportedStatusIsNotCached(t *testing.T) {
	server := newCountingServer(t, 0)
	var solved atomic.Int32
	solver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		solved.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","solution":{"url":"x","status":403}}`))
	}))
	t.Cleanup(solver.Close)

	cch := cache.New(status.CodeSet{})
	c := newChecker(t, Options{
		Cache:  cch,
		Chains: []handler.RequestChain{handler.NewChain(handler.NewAntiBot(handler.AntiBotOptions{Endpoint: solver.URL}))},
	}, handler.FetchOptions{})

	first := c.Check(context.Background(), request(t, server.URL+"/guarded")).Status
	second := c.Check(context.Background(), request(t, server.URL+"/guarded")).Status
	assert.True(t, first.IsOk())
	assert.Equal(t, first, second)
	assert.False(t, second.Cached)
	assert.Equal(t, int32(2), solved.Load())
	assert.Equal(t, int32(0), server.count("/guarded"))
	assert.Equal(t, 0, cch.Len())
}

func TestAcceptOverride(t *testing.T) {
	server := newCountingServer(t, 0)
	c := newChecker(t, Options{
		Classifier: status.NewClassifier(status.NewCodeSet(404), status.CodeSet{}),
	}, handler.FetchOptions{})

	assert.Equal(t, status.Ok(404), c.Check(context.Background(), request(t, server.URL+"/missing")).Status)
	assert.True(t, c.Check(context.Background(), request(t, server.URL+"/ok")).Status.IsError())
}

func TestPrecheckExclusions(t *testing.T) {
	include, err := handler.CompilePatterns([]string{`^https://keep\.example\.com/`})
	require.NoError(t, err)
	exclude, err := handler.CompilePatterns([]string{`example\.com`})
	require.NoError(t, err)

	c := newChecker(t, Options{Filter: Filter{
		Include:          include,
		Exclude:          exclude,
		ExcludePrivate:   true,
		ExcludeLoopback:  true,
		ExcludeLinkLocal: true,
	}}, handler.FetchOptions{})

	tests := []struct {
		raw  string
		want status.Kind
	}{
		{"mailto:someone@example.org", status.KindExcluded},
		{"tel:+123456", status.KindExcluded},
		{"https://drop.example.com/", status.KindExcluded},
		{"http://10.0.0.1/", status.KindExcluded},
		{"http://192.168.1.1/", status.KindExcluded},
		{"http://127.0.0.1:8080/", status.KindExcluded},
		{"http://localhost/", status.KindExcluded},
		{"http://[::1]/", status.KindExcluded},
		{"http://169.254.1.1/", status.KindExcluded},
		{"ftp://files.example.org/", status.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Check(context.Background(), request(t, tt.raw)).Status.Kind)
		})
	}
}

func TestSchemeAllowList(t *testing.T) {
	c := newChecker(t, Options{Filter: Filter{Schemes: []string{"https"}}}, handler.FetchOptions{})
	s := c.Check(context.Background(), request(t, "http://example.org/")).Status
	assert.True(t, s.IsExcluded())
}

func TestFragmentEndToEnd(t *testing.T) {
	server := newCountingServer(t, 0)
	c := newChecker(t, Options{IncludeFragments: true}, handler.FetchOptions{})

	assert.Equal(t, status.Ok(200), c.Check(context.Background(), request(t, server.URL+"/doc#intro")).Status)
	s := c.Check(context.Background(), request(t, server.URL+"/doc#outro")).Status
	assert.Equal(t, status.FragmentNotFound, s.ErrorKind)
}

func TestRunAnswersEveryRequest(t *testing.T) {
	server := newCountingServer(t, 5*time.Millisecond)
	rec := statistics.NewRecorder("")
	c := newChecker(t, Options{Recorder: rec, Controller: dedup.New(2)}, handler.FetchOptions{})

	paths := []string{"/a", "/b", "/missing", "/a", "/c"}
	in := make(chan common.CheckRequest)
	go func() {
		defer close(in)
		for _, p := range paths {
			in <- request(t, server.URL+p)
		}
	}()

	var got []common.Response
	for resp := range c.Run(context.Background(), in) {
		got = append(got, resp)
	}
	assert.Len(t, got, len(paths))

	sum := rec.Summary()
	assert.Equal(t, len(paths), sum.Total)
	assert.Equal(t, 1, sum.Errors)
}

func TestRunStopsAdmittingAfterCancel(t *testing.T) {
	server := newCountingServer(t, 0)
	c := newChecker(t, Options{}, handler.FetchOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan common.CheckRequest, 1)
	in <- request(t, server.URL+"/first")

	out := c.Run(ctx, in)
	first := <-out
	assert.True(t, first.Status.IsOk())

	cancel()
	for range out {
	}
	assert.True(t, c.Controller().IsCanceled())
	assert.ErrorIs(t, c.Controller().Admit(), dedup.ErrCanceled)
}
