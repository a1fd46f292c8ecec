package fragment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!DOCTYPE html>
<html><body>
<h1 id="top">Title</h1>
<a name="legacy-anchor"></a>
<p id="f%C3%BCnf">x</p>
<section id="über">y</section>
</body></html>`

const readme = "# Getting Started\n\nSome text.\n\n## Install the CLI\n\n<a id=\"explicit-fragment\"></a>\n"

func TestFormatOf(t *testing.T) {
	tests := []struct {
		contentType string
		path        string
		want        Format
	}{
		{"text/html; charset=utf-8", "", FormatHTML},
		{"application/xhtml+xml", "", FormatHTML},
		{"text/markdown", "", FormatMarkdown},
		{"application/octet-stream", "/x/file.bin", FormatNone},
		{"image/png", "", FormatNone},
		{"", "/docs/README.md", FormatMarkdown},
		{"", "/docs/index.HTML", FormatHTML},
		{"text/plain", "/docs/notes.txt", FormatNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatOf(tt.contentType, tt.path), "%s %s", tt.contentType, tt.path)
	}
}

func TestCheckHTML(t *testing.T) {
	c := New(16, time.Minute)

	found, checked, err := c.Check("https://example.com/", "top", FormatHTML, []byte(page))
	require.NoError(t, err)
	assert.True(t, checked)
	assert.True(t, found)

	found, checked, err = c.Check("https://example.com/", "missing", FormatHTML, []byte(page))
	require.NoError(t, err)
	assert.True(t, checked)
	assert.False(t, found)

	found, _, _ = c.Check("https://example.com/", "legacy-anchor", FormatHTML, []byte(page))
	assert.True(t, found)

	found, _, _ = c.Check("https://example.com/", "%C3%BCber", FormatHTML, []byte(page))
	assert.True(t, found, "percent-encoded fragment should match decoded id")
}

func TestCheckMarkdown(t *testing.T) {
	c := New(16, time.Minute)
	for _, frag := range []string{"getting-started", "install-the-cli", "explicit-fragment"} {
		found, checked, err := c.Check("file:///docs/README.md", frag, FormatMarkdown, []byte(readme))
		require.NoError(t, err)
		assert.True(t, checked)
		assert.True(t, found, frag)
	}
	found, _, _ := c.Check("file:///docs/README.md", "nope", FormatMarkdown, []byte(readme))
	assert.False(t, found)
}

func TestCheckSkipsBinaryAndEmptyFragment(t *testing.T) {
	c := New(16, time.Minute)

	_, checked, err := c.Check("https://example.com/logo.png", "anything", FormatNone, []byte{0x89, 0x50, 0x4e, 0x47})
	require.NoError(t, err)
	assert.False(t, checked)

	_, checked, err = c.Check("https://example.com/", "", FormatHTML, []byte(page))
	require.NoError(t, err)
	assert.False(t, checked)
}

func TestAnchorsAreMemoized(t *testing.T) {
	c := New(16, time.Minute)
	_, _, err := c.Check("k", "top", FormatHTML, []byte(page))
	require.NoError(t, err)

	// The body is ignored on a memo hit.
	found, checked, err := c.Check("k", "top", FormatHTML, nil)
	require.NoError(t, err)
	assert.True(t, checked)
	assert.True(t, found)
}
