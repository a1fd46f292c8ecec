package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sunbk201/uricheck/internal/status"
)

var (
	ErrLoad = errors.New("plugin load failed")
	ErrCall = errors.New("plugin call failed")
)

const DefaultTimeout = 30 * time.Second

// Request is what a plugin receives for every check.
type Request struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// Reply is the decoded answer: exactly one of Next and Done is set.
type Reply struct {
	Next *Request
	Done *status.Status
}

type Options struct {
	// Args are passed to an executable. For a Wasm module they are
	// "key=value" pairs exposed as the module's config.
	Args []string
	// Env is added to an executable's environment.
	Env []string
	// AllowedHosts limits the hosts a Wasm module may reach over HTTP.
	AllowedHosts []string
	Timeout      time.Duration
}

// transport carries one encoded Request to the plugin and returns its raw
// reply.
type transport interface {
	call(ctx context.Context, input []byte) ([]byte, error)
	close() error
}

// Plugin is a request chain step implemented outside uricheck: a Wasm module
// exporting "chain", run through Extism, or an executable speaking
// newline-delimited JSON. Calls are serialized. A failed call discards the
// instance and the next call starts a fresh one.
type Plugin struct {
	name string
	path string
	kind string
	opts Options
	open func(ctx context.Context) (transport, error)

	mu sync.Mutex
	t  transport
}

// Load prepares the plugin at path and starts it. Files ending in .wasm are
// Wasm modules; anything else is run as an executable. Any failure here is
// fatal for the run.
func Load(path string, opts Options) (*Plugin, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	var (
		p   *Plugin
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".wasm") {
		p, err = newWasm(path, opts)
	} else {
		p, err = newExec(path, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.t, err = p.open(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}
	slog.Info("Plugin loaded", slog.Any("plugin", p))
	return p, nil
}

func (p *Plugin) Name() string { return p.name }

// Call hands req to the plugin and decodes its reply.
func (p *Plugin) Call(ctx context.Context, req Request) (Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	if p.t == nil {
		t, err := p.open(ctx)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: restart: %w", ErrCall, err)
		}
		p.t = t
		slog.Info("Plugin restarted", slog.String("name", p.name))
	}

	reply, err := p.call(ctx, req)
	if err != nil {
		slog.Warn("Plugin call failed, restarting on next call",
			slog.String("name", p.name), slog.String("url", req.URL), slog.Any("error", err))
		p.discard()
		return Reply{}, fmt.Errorf("%w: %w", ErrCall, err)
	}
	return reply, nil
}

func (p *Plugin) call(ctx context.Context, req Request) (Reply, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("json.Marshal: %w", err)
	}
	out, err := p.t.call(ctx, input)
	if err != nil {
		return Reply{}, err
	}
	return ParseReply(out)
}

func (p *Plugin) discard() {
	if p.t == nil {
		return
	}
	if err := p.t.close(); err != nil {
		slog.Debug("Plugin close", slog.String("name", p.name), slog.Any("error", err))
	}
	p.t = nil
}

func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discard()
	return nil
}

func (p *Plugin) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", p.name),
		slog.String("kind", p.kind),
		slog.String("path", p.path),
		slog.Duration("timeout", p.opts.Timeout),
	)
}

type wireReply struct {
	Next *Request        `json:"Next"`
	Done json.RawMessage `json:"Done"`
}

type wireDone struct {
	Ok          *int            `json:"Ok"`
	Excluded    json.RawMessage `json:"Excluded"`
	Unsupported *string         `json:"Unsupported"`
}

// ParseReply decodes one reply. Accepted forms:
//
//	{"Next":{"method":"GET","url":"https://..."}}
//	{"Done":{"Ok":200}}
//	{"Done":"Excluded"}
//	{"Done":{"Excluded":null}}
//	{"Done":{"Unsupported":"reason"}}
//
// A Done status is reported as the plugin gave it, without classification.
func ParseReply(b []byte) (Reply, error) {
	var w wireReply
	if err := json.Unmarshal(bytes.TrimSpace(b), &w); err != nil {
		return Reply{}, fmt.Errorf("json.Unmarshal: %w", err)
	}
	switch {
	case w.Next != nil && len(w.Done) > 0:
		return Reply{}, errors.New("reply has both Next and Done")
	case w.Next != nil:
		if w.Next.URL == "" {
			return Reply{}, errors.New("reply Next has no url")
		}
		return Reply{Next: w.Next}, nil
	case len(w.Done) > 0:
		s, err := parseDone(w.Done)
		if err != nil {
			return Reply{}, err
		}
		s = s.AsReported()
		return Reply{Done: &s}, nil
	default:
		return Reply{}, errors.New("reply has neither Next nor Done")
	}
}

func parseDone(raw json.RawMessage) (status.Status, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		switch name {
		case "Excluded":
			return status.Excluded(), nil
		case "Unsupported":
			return status.Unsupported("plugin"), nil
		}
		return status.Status{}, fmt.Errorf("unknown Done value %q", name)
	}

	var d wireDone
	if err := json.Unmarshal(raw, &d); err != nil {
		return status.Status{}, fmt.Errorf("json.Unmarshal Done: %w", err)
	}
	switch {
	case d.Ok != nil:
		return status.Ok(*d.Ok), nil
	case d.Excluded != nil:
		return status.Excluded(), nil
	case d.Unsupported != nil:
		return status.Unsupported(*d.Unsupported), nil
	}
	return status.Status{}, fmt.Errorf("unknown Done value %s", string(raw))
}
