package fragment

import (
	"bytes"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

type Format int

const (
	FormatNone Format = iota
	FormatHTML
	FormatMarkdown
)

// Checker verifies that a fragment exists as an anchor in a document.
// Anchor sets are memoized per document key.
type Checker struct {
	cache *expirable.LRU[string, map[string]struct{}]
	md    goldmark.Markdown
}

func New(size int, ttl time.Duration) *Checker {
	if size <= 0 {
		size = 256
	}
	return &Checker{
		cache: expirable.NewLRU[string, map[string]struct{}](size, nil, ttl),
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// FormatOf detects the anchor format of a document from its content type,
// falling back to the file extension of path.
func FormatOf(contentType, path string) Format {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			switch mediaType {
			case "text/html", "application/xhtml+xml":
				return FormatHTML
			case "text/markdown", "text/x-markdown":
				return FormatMarkdown
			}
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".xhtml":
		return FormatHTML
	case ".md", ".markdown", ".mdown", ".mkd":
		return FormatMarkdown
	}
	return FormatNone
}

// Check reports whether fragment is an anchor of body. checked is false when
// the format carries no anchors, in which case found is meaningless and the
// caller keeps its base status.
func (c *Checker) Check(key, fragment string, format Format, body []byte) (found bool, checked bool, err error) {
	if fragment == "" || format == FormatNone {
		return false, false, nil
	}

	anchors, ok := c.cache.Get(key)
	if !ok {
		anchors, err = c.anchors(format, body)
		if err != nil {
			return false, false, err
		}
		c.cache.Add(key, anchors)
	}

	if _, ok := anchors[fragment]; ok {
		return true, true, nil
	}
	if decoded, err := url.PathUnescape(fragment); err == nil {
		if _, ok := anchors[decoded]; ok {
			return true, true, nil
		}
		if _, ok := anchors[strings.ToLower(decoded)]; ok && format == FormatMarkdown {
			return true, true, nil
		}
	}
	slog.Debug("Fragment not found", slog.String("document", key), slog.String("fragment", fragment), slog.Int("anchors", len(anchors)))
	return false, true, nil
}

func (c *Checker) anchors(format Format, body []byte) (map[string]struct{}, error) {
	switch format {
	case FormatHTML:
		return htmlAnchors(body)
	case FormatMarkdown:
		var buf bytes.Buffer
		if err := c.md.Convert(body, &buf); err != nil {
			return nil, fmt.Errorf("goldmark.Convert: %w", err)
		}
		return htmlAnchors(buf.Bytes())
	default:
		return nil, fmt.Errorf("unsupported anchor format %d", format)
	}
}

func htmlAnchors(body []byte) (map[string]struct{}, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("goquery.NewDocumentFromReader: %w", err)
	}
	anchors := make(map[string]struct{})
	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && id != "" {
			anchors[id] = struct{}{}
		}
	})
	doc.Find("a[name]").Each(func(_ int, s *goquery.Selection) {
		if name, ok := s.Attr("name"); ok && name != "" {
			anchors[name] = struct{}{}
		}
	})
	return anchors, nil
}
