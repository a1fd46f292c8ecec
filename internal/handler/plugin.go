package handler

import (
	"context"
	"fmt"

	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/plugin"
	"github.com/sunbk201/uricheck/internal/status"
	"github.com/sunbk201/uricheck/internal/uri"
)

// PluginCaller is the part of *plugin.Plugin the chain needs.
type PluginCaller interface {
	Name() string
	Call(ctx context.Context, req plugin.Request) (plugin.Reply, error)
}

// ExternalPlugin hands every request to a plugin. A failed call finishes
// only the current request, as Unsupported with PluginCallFailure.
type ExternalPlugin struct {
	p PluginCaller
}

func NewExternalPlugin(p PluginCaller) *ExternalPlugin {
	return &ExternalPlugin{p: p}
}

func (h *ExternalPlugin) Handle(ctx context.Context, req common.CheckRequest) Result {
	reply, err := h.p.Call(ctx, plugin.Request{Method: req.Method, URL: req.URI.String()})
	if err != nil {
		s := status.Unsupported(fmt.Sprintf("plugin %s: %v", h.p.Name(), err))
		s.ErrorKind = status.PluginCallFailure
		return done(s)
	}
	if reply.Done != nil {
		return done(*reply.Done)
	}

	u, err := uri.Parse(reply.Next.URL)
	if err != nil {
		return done(status.Error(status.InvalidURI, 0, fmt.Sprintf("plugin %s returned %q: %v", h.p.Name(), reply.Next.URL, err)))
	}
	req = req.WithURI(u)
	if reply.Next.Method != "" {
		req = req.WithMethod(reply.Next.Method)
	}
	return next(req)
}
