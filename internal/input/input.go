package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sunbk201/uricheck/internal/common"
)

const Stdin = "-"

// Reader turns inputs into CheckRequests. An input is a URI given directly,
// a file with one URI per line, or "-" for stdin. Empty lines and lines
// starting with '#' are skipped; unparsable URIs go to OnInvalid.
type Reader struct {
	Stdin io.Reader
	// Method overrides the default GET of every request.
	Method    string
	OnInvalid func(raw string, src common.Source, err error)
}

func NewReader() *Reader {
	return &Reader{
		Stdin: os.Stdin,
		OnInvalid: func(raw string, src common.Source, err error) {
			slog.Warn("Skipping invalid URI", slog.String("uri", raw), slog.String("source", src.String()), slog.Any("error", err))
		},
	}
}

// IsURI reports whether value looks like a URI rather than a path.
func IsURI(value string) bool {
	i := strings.Index(value, ":")
	if i <= 1 {
		return false
	}
	for _, c := range value[:i] {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}

// Stream sends the requests of all inputs on the returned channel, which is
// closed when the inputs are exhausted or ctx is done. The error channel
// receives at most one fatal error, e.g. an unreadable file.
func (r *Reader) Stream(ctx context.Context, inputs []string) (<-chan common.CheckRequest, <-chan error) {
	out := make(chan common.CheckRequest)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for _, in := range inputs {
			if err := r.read(ctx, in, out); err != nil {
				errc <- err
				return
			}
		}
	}()
	return out, errc
}

func (r *Reader) read(ctx context.Context, in string, out chan<- common.CheckRequest) error {
	switch {
	case in == Stdin:
		return r.scan(ctx, r.Stdin, "stdin", out)
	case IsURI(in):
		return r.emit(ctx, in, common.Source{Document: "args"}, out)
	default:
		f, err := os.Open(in)
		if err != nil {
			return fmt.Errorf("os.Open: %w", err)
		}
		defer f.Close()
		return r.scan(ctx, f, in, out)
	}
}

func (r *Reader) scan(ctx context.Context, rd io.Reader, document string, out chan<- common.CheckRequest) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := r.emit(ctx, text, common.Source{Document: document, Line: line}, out); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", document, err)
	}
	return nil
}

func (r *Reader) emit(ctx context.Context, raw string, src common.Source, out chan<- common.CheckRequest) error {
	req, err := common.NewCheckRequest(raw, src)
	if err != nil {
		if r.OnInvalid != nil {
			r.OnInvalid(raw, src, err)
		}
		return nil
	}
	if r.Method != "" {
		req = req.WithMethod(r.Method)
	}
	select {
	case out <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
