package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/status"
)

const antiBotGet = "request.get"

type AntiBotOptions struct {
	Endpoint string
	// Match limits the handler to URIs matching any pattern. Empty matches
	// everything.
	Match   []*regexp2.Regexp
	Timeout time.Duration
	Client  *http.Client
}

// AntiBot resolves requests through a FlareSolverr-compatible solver. It
// reports the status the solver saw as Ok without classifying it, so the
// result is never cached.
type AntiBot struct {
	opts   AntiBotOptions
	client *http.Client
}

type antiBotRequest struct {
	URL        string `json:"url"`
	Cmd        string `json:"cmd"`
	MaxTimeout int64  `json:"maxTimeout,omitempty"`
}

type antiBotResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		URL    string `json:"url"`
		Status int    `json:"status"`
	} `json:"solution"`
}

func NewAntiBot(opts AntiBotOptions) *AntiBot {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout + 5*time.Second}
	}
	return &AntiBot{opts: opts, client: client}
}

func (h *AntiBot) applies(u string) bool {
	if len(h.opts.Match) == 0 {
		return true
	}
	for _, re := range h.opts.Match {
		if matches(re, u) {
			return true
		}
	}
	return false
}

func (h *AntiBot) Handle(ctx context.Context, req common.CheckRequest) Result {
	u := req.URI.String()
	if !h.applies(u) {
		return next(req)
	}
	code, err := h.solve(ctx, u)
	if err != nil {
		slog.Warn("Anti-bot solver failed", slog.String("uri", u), slog.Any("error", err))
		return done(status.Unsupported(fmt.Sprintf("anti-bot solver: %v", err)))
	}
	return done(status.Ok(code).AsReported())
}

func (h *AntiBot) solve(ctx context.Context, u string) (int, error) {
	body, err := json.Marshal(antiBotRequest{
		URL:        u,
		Cmd:        antiBotGet,
		MaxTimeout: h.opts.Timeout.Milliseconds(),
	})
	if err != nil {
		return 0, fmt.Errorf("json.Marshal: %w", err)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, h.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(r)
	if err != nil {
		return 0, fmt.Errorf("http.Client.Do: %w", err)
	}
	defer resp.Body.Close()

	var out antiBotResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode solver response (HTTP %d): %w", resp.StatusCode, err)
	}
	if out.Solution.Status == 0 {
		return 0, fmt.Errorf("solver returned no status: %s %s", out.Status, out.Message)
	}
	return out.Solution.Status, nil
}

func (h *AntiBot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("endpoint", h.opts.Endpoint),
		slog.Int("patterns", len(h.opts.Match)),
		slog.Duration("timeout", h.opts.Timeout),
	)
}
