package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/plugin"
	"github.com/sunbk201/uricheck/internal/status"
)

func newRequest(t *testing.T, raw string) common.CheckRequest {
	t.Helper()
	req, err := common.NewCheckRequest(raw, common.Source{Document: "test.txt", Line: 1})
	require.NoError(t, err)
	return req
}

func TestTraverseAcrossChains(t *testing.T) {
	var seen []string
	record := func(name string) Handler {
		return HandlerFunc(func(_ context.Context, req common.CheckRequest) Result {
			seen = append(seen, name)
			return next(req.WithHeader("X-Seen", name))
		})
	}
	terminal := HandlerFunc(func(_ context.Context, req common.CheckRequest) Result {
		assert.Equal(t, []string{"pre", "user"}, req.Header.Values("X-Seen"))
		return done(status.Ok(200))
	})

	s := Traverse(context.Background(), newRequest(t, "https://example.com/"),
		NewChain(record("pre")), NewChain(), NewChain(record("user")), NewChain(terminal))
	assert.Equal(t, status.Ok(200), s)
	assert.Equal(t, []string{"pre", "user"}, seen)
}

func TestTraverseExhaustedIsExcluded(t *testing.T) {
	s := Traverse(context.Background(), newRequest(t, "https://example.com/"), NewChain(NewHeaderInjection(nil)))
	assert.True(t, s.IsExcluded())
}

func TestBasicAuth(t *testing.T) {
	rule, err := ParseBasicAuthRule(`^https://private\.example\.com/ alice:secret`)
	require.NoError(t, err)
	catchAll, err := ParseBasicAuthRule(`.* bob:hunter2`)
	require.NoError(t, err)
	h := NewBasicAuth(rule, catchAll)

	check := func(req common.CheckRequest, user, pass string) {
		t.Helper()
		r := h.Handle(context.Background(), req)
		require.False(t, r.IsDone())
		hr := &http.Request{Header: r.Next().Header}
		u, p, ok := hr.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, user, u)
		assert.Equal(t, pass, p)
		require.NotNil(t, r.Next().Credentials)
		assert.Equal(t, user, r.Next().Credentials.Username)
	}

	check(newRequest(t, "https://private.example.com/x"), "alice", "secret")
	check(newRequest(t, "https://public.example.com/x"), "bob", "hunter2")

	explicit, err := common.ParseCredentials("carol:pw")
	require.NoError(t, err)
	check(newRequest(t, "https://private.example.com/x").WithCredentials(explicit), "carol", "pw")

	none := NewBasicAuth(rule)
	r := none.Handle(context.Background(), newRequest(t, "https://public.example.com/"))
	assert.Empty(t, r.Next().Header.Get("Authorization"))
}

func TestParseBasicAuthRuleErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"onlypattern",
		"(unclosed user:pass",
		".* nocolon",
		".* :pass",
		".* user:",
		".* a:b:c",
	} {
		_, err := ParseBasicAuthRule(s)
		assert.Error(t, err, s)
	}
}

func TestHeaderInjection(t *testing.T) {
	key, value, err := ParseHeader("accept=text/html")
	require.NoError(t, err)
	assert.Equal(t, "Accept", key)
	assert.Equal(t, "text/html", value)

	_, _, err = ParseHeader("=nothing")
	assert.Error(t, err)

	h := NewHeaderInjection(http.Header{"Accept": {"text/html"}, "X-Token": {"a", "b"}})
	req := newRequest(t, "https://example.com/").WithHeader("Accept", "application/json")
	r := h.Handle(context.Background(), req)
	require.False(t, r.IsDone())
	assert.Equal(t, []string{"application/json", "text/html"}, r.Next().Header.Values("Accept"))
	assert.Equal(t, []string{"a", "b"}, r.Next().Header.Values("X-Token"))
	assert.Equal(t, []string{"application/json"}, req.Header.Values("Accept"), "original request must not change")
}

func TestRemap(t *testing.T) {
	tests := []struct {
		name  string
		rules []string
		in    string
		want  string
	}{
		{"numbered", []string{`https://old\.example\.com/(.*) https://new.example.com/$1`}, "https://old.example.com/a/b", "https://new.example.com/a/b"},
		{"named", []string{`https://(?P<host>[^/]+)/docs/(?P<page>.*) https://$host/v2/$page`}, "https://example.com/docs/intro", "https://example.com/v2/intro"},
		{"braced", []string{`^http://(?P<rest>.*) https://${rest}`}, "http://example.com/x", "https://example.com/x"},
		{"first wins", []string{`^https://example\.com/$ https://first.test/`, `^.*$ https://second.test/`}, "https://example.com/", "https://first.test/"},
		{"no match", []string{`^https://other\.test/ https://x.test/`}, "https://example.com/", "https://example.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rules []RemapRule
			for _, s := range tt.rules {
				r, err := ParseRemapRule(s)
				require.NoError(t, err)
				rules = append(rules, r)
			}
			res := NewRemap(rules...).Handle(context.Background(), newRequest(t, tt.in))
			require.False(t, res.IsDone())
			assert.Equal(t, tt.want, res.Next().URI.String())
		})
	}
}

func TestRemapToInvalidURI(t *testing.T) {
	r, err := ParseRemapRule(`^https://example\.com/.* not-a-uri`)
	require.NoError(t, err)
	res := NewRemap(r).Handle(context.Background(), newRequest(t, "https://example.com/x"))
	require.True(t, res.IsDone())
	assert.True(t, res.Done().IsError())
	assert.Equal(t, status.InvalidURI, res.Done().ErrorKind)
}

func TestBracedGroups(t *testing.T) {
	assert.Equal(t, "${host}/${page}", bracedGroups("$host/$page"))
	assert.Equal(t, "$1/${2}", bracedGroups("$1/${2}"))
	assert.Equal(t, "$$literal", bracedGroups("$$literal"))
	assert.Equal(t, "price$", bracedGroups("price$"))
}

type fakePlugin struct {
	reply plugin.Reply
	err   error
	got   plugin.Request
}

func (f *fakePlugin) Name() string { return "fake" }

func (f *fakePlugin) Call(_ context.Context, req plugin.Request) (plugin.Reply, error) {
	f.got = req
	return f.reply, f.err
}

func TestExternalPlugin(t *testing.T) {
	ok := status.Ok(200)
	p := &fakePlugin{reply: plugin.Reply{Done: &ok}}
	r := NewExternalPlugin(p).Handle(context.Background(), newRequest(t, "https://example.com/a"))
	require.True(t, r.IsDone())
	assert.Equal(t, ok, r.Done())
	assert.Equal(t, plugin.Request{Method: "GET", URL: "https://example.com/a"}, p.got)

	p = &fakePlugin{reply: plugin.Reply{Next: &plugin.Request{Method: "HEAD", URL: "https://mirror.example.com/a"}}}
	r = NewExternalPlugin(p).Handle(context.Background(), newRequest(t, "https://example.com/a"))
	require.False(t, r.IsDone())
	assert.Equal(t, "HEAD", r.Next().Method)
	assert.Equal(t, "https://mirror.example.com/a", r.Next().URI.String())

	p = &fakePlugin{err: errors.New("boom")}
	r = NewExternalPlugin(p).Handle(context.Background(), newRequest(t, "https://example.com/a"))
	require.True(t, r.IsDone())
	assert.True(t, r.Done().IsUnsupported())
	assert.Equal(t, status.PluginCallFailure, r.Done().ErrorKind)
}
