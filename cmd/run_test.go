package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/uricheck/internal/config"
	"github.com/sunbk201/uricheck/internal/plugin"
	"github.com/sunbk201/uricheck/internal/report"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel:       "error",
		MaxConcurrency: 4,
		Timeout:        5 * time.Second,
		MaxRedirects:   5,
		Method:         "GET",
		CacheFile:      filepath.Join(t.TempDir(), "cache"),
		MaxCacheAge:    time.Hour,
	}
}

func newTestSite(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusGone)
	})
	mux.HandleFunc("/secret", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if u, p, ok := r.BasicAuth(); !ok || u != "alice" || p != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func runPipeline(t *testing.T, cfg *config.Config, stdin string, inputs ...string) (string, int) {
	t.Helper()
	p, err := newPipeline(cfg, nil)
	require.NoError(t, err)
	p.stdin = strings.NewReader(stdin)

	var out strings.Builder
	code, err := p.run(context.Background(), &out, inputs)
	require.NoError(t, err)
	return out.String(), code
}

func TestPipelineReportsBrokenLinks(t *testing.T) {
	srv, hits := newTestSite(t)
	cfg := testConfig(t)

	stdin := srv.URL + "/ok\n" + srv.URL + "/gone\n" + srv.URL + "/ok/\n"
	out, code := runPipeline(t, cfg, stdin, "-")

	assert.Equal(t, report.ExitErrors, code)
	assert.Contains(t, out, "[410] "+srv.URL+"/gone")
	assert.NotContains(t, out, srv.URL+"/ok |")
	assert.Contains(t, out, "3 Total")
	assert.Equal(t, int64(2), hits.Load())
}

func TestPipelineAcceptAndBasicAuth(t *testing.T) {
	srv, _ := newTestSite(t)
	cfg := testConfig(t)
	cfg.Accept = "200,410"
	cfg.BasicAuth = []string{"^" + srv.URL + "/secret alice:pw"}

	out, code := runPipeline(t, cfg, "", srv.URL+"/gone", srv.URL+"/secret")
	assert.Equal(t, report.ExitOK, code, out)
}

func TestPipelineCacheSurvivesRuns(t *testing.T) {
	srv, hits := newTestSite(t)
	cfg := testConfig(t)
	cfg.Cache = true

	_, code := runPipeline(t, cfg, "", srv.URL+"/ok", srv.URL+"/gone")
	assert.Equal(t, report.ExitErrors, code)
	assert.Equal(t, int64(2), hits.Load())

	data, err := os.ReadFile(cfg.CacheFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), ",410\n")

	// The second run is answered from the cache, classified with the new
	// accept set.
	cfg.Accept = "200,410"
	out, code := runPipeline(t, cfg, "", srv.URL+"/ok", srv.URL+"/gone")
	assert.Equal(t, report.ExitOK, code, out)
	assert.Equal(t, int64(2), hits.Load())
	assert.Contains(t, out, "2 Cached")
}

func TestPipelineMissingInputFile(t *testing.T) {
	p, err := newPipeline(testConfig(t), nil)
	require.NoError(t, err)

	var out strings.Builder
	code, err := p.run(context.Background(), &out, []string{filepath.Join(t.TempDir(), "absent.txt")})
	assert.Error(t, err)
	assert.Equal(t, report.ExitFailure, code)
}

func TestPipelineBadProxy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Proxy = "ftp://proxy.example:21"

	_, err := newPipeline(cfg, nil)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestPipelineMissingPlugin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Plugins = []string{filepath.Join(t.TempDir(), "no-such-plugin")}

	_, err := newPipeline(cfg, nil)
	assert.ErrorIs(t, err, config.ErrConfiguration)
	assert.ErrorIs(t, err, plugin.ErrLoad)
}
