package statistics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/status"
)

func response(t *testing.T, raw string, s status.Status) common.Response {
	t.Helper()
	req, err := common.NewCheckRequest(raw, common.Source{Document: "links.txt"})
	require.NoError(t, err)
	return common.Response{Request: req, Status: s}
}

func TestRecorderSummary(t *testing.T) {
	r := NewRecorder("")
	r.Add(response(t, "https://a.example/", status.Ok(200)))
	r.Add(response(t, "https://a.example/x", status.Ok(200).WithCached()))
	r.Add(response(t, "https://b.example/", status.Error(status.RejectedStatusCode, 404, "")))
	r.Add(response(t, "mailto:someone@example.com", status.Excluded()))
	r.Add(response(t, "ftp://c.example/", status.Unsupported("ftp")))

	s := r.Summary()
	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Successful)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 1, s.Excluded)
	assert.Equal(t, 1, s.Unsupported)
	assert.Equal(t, 1, s.Cached)
	assert.Equal(t, map[string]int{"RejectedStatusCode": 1}, s.ErrorKinds)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "https://b.example/", s.Failures[0].Request.URI.String())

	hosts := r.Hosts()
	require.NotEmpty(t, hosts)
	assert.Equal(t, HostRecord{Host: "a.example", Count: 2}, hosts[0])
}

func TestRecorderDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats")
	r := NewRecorder(path)
	r.Add(response(t, "https://a.example/", status.Ok(200)))
	r.Add(response(t, "https://b.example/", status.Error(status.TransportFailure, 0, "refused")))
	r.Add(response(t, "https://b.example/2", status.Ok(200)))
	r.Dump()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "b.example 2 1\na.example 1 0\n", string(b))
}
