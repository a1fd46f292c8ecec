package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sunbk201/uricheck/internal/api"
	"github.com/sunbk201/uricheck/internal/cache"
	"github.com/sunbk201/uricheck/internal/checker"
	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/config"
	"github.com/sunbk201/uricheck/internal/dedup"
	"github.com/sunbk201/uricheck/internal/handler"
	"github.com/sunbk201/uricheck/internal/input"
	applog "github.com/sunbk201/uricheck/internal/log"
	"github.com/sunbk201/uricheck/internal/plugin"
	"github.com/sunbk201/uricheck/internal/report"
	"github.com/sunbk201/uricheck/internal/retry"
	"github.com/sunbk201/uricheck/internal/statistics"
	"github.com/sunbk201/uricheck/internal/status"
)

// pipeline is everything one run needs, wired from the configuration.
type pipeline struct {
	cfg        *config.Config
	cache      *cache.Cache
	controller *dedup.Controller
	recorder   *statistics.Recorder
	checker    *checker.Checker
	plugins    []*plugin.Plugin
	api        *api.APIServer
	stdin      io.Reader
}

func newPipeline(cfg *config.Config, logs *applog.Broadcaster) (*pipeline, error) {
	compiled, err := cfg.Compile()
	if err != nil {
		return nil, err
	}
	classifier := status.NewClassifier(compiled.Accept, compiled.Reject)
	p := &pipeline{
		cfg:        cfg,
		controller: dedup.New(cfg.MaxConcurrency),
		recorder:   statistics.NewRecorder(applog.ResolveFile(cfg.StatsFile)),
	}

	// The in-memory cache also answers repeated URIs within one run; the file
	// is only read and written with cfg.Cache.
	p.cache = cache.New(compiled.CacheExclude)
	if cfg.Cache {
		n, err := p.cache.Load(cfg.CacheFile, cfg.MaxCacheAge, classifier.ClassifyCode)
		if err != nil {
			slog.Warn("Ignoring unreadable cache file", slog.String("file", cfg.CacheFile), slog.Any("error", err))
		} else {
			slog.Info("Cache loaded", slog.String("file", cfg.CacheFile), slog.Int("entries", n))
		}
	}

	fetch, err := handler.NewFetch(handler.FetchOptions{
		Timeout:          cfg.Timeout,
		MaxRedirects:     cfg.MaxRedirects,
		UserAgent:        cfg.UserAgent,
		Insecure:         cfg.Insecure,
		Proxy:            cfg.Proxy,
		IncludeFragments: cfg.IncludeFragments,
		Retry:            retry.New(cfg.MaxRetries, cfg.RetryWaitTime, cfg.MaxRetryWait),
		Classifier:       classifier,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}

	var hs []handler.Handler
	if len(compiled.Remap) > 0 {
		hs = append(hs, handler.NewRemap(compiled.Remap...))
	}
	if len(compiled.BasicAuth) > 0 {
		hs = append(hs, handler.NewBasicAuth(compiled.BasicAuth...))
	}
	if len(compiled.Header) > 0 {
		hs = append(hs, handler.NewHeaderInjection(compiled.Header))
	}
	for _, entry := range cfg.Plugins {
		fields := strings.Fields(entry)
		pl, err := plugin.Load(fields[0], plugin.Options{Args: fields[1:], Timeout: cfg.Timeout})
		if err != nil {
			p.closePlugins()
			return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
		}
		p.plugins = append(p.plugins, pl)
		hs = append(hs, handler.NewExternalPlugin(pl))
	}
	if cfg.AntiBot.Endpoint != "" {
		hs = append(hs, handler.NewAntiBot(handler.AntiBotOptions{
			Endpoint: cfg.AntiBot.Endpoint,
			Match:    compiled.AntiBotMatch,
			Timeout:  cfg.AntiBot.Timeout,
		}))
	}
	hs = append(hs, fetch)

	p.checker = checker.New(checker.Options{
		Filter: checker.Filter{
			Include:          compiled.Include,
			Exclude:          compiled.Exclude,
			Schemes:          cfg.Schemes,
			ExcludePrivate:   cfg.ExcludePrivate,
			ExcludeLoopback:  cfg.ExcludeLoopback,
			ExcludeLinkLocal: cfg.ExcludeLinkLocal,
			IncludeMail:      cfg.IncludeMail,
		},
		IncludeFragments: cfg.IncludeFragments,
		Classifier:       classifier,
		AnyScheme:        len(p.plugins) > 0,
		Cache:            p.cache,
		Controller:       p.controller,
		Recorder:         p.recorder,
		Chains:           []handler.RequestChain{handler.NewChain(hs...)},
	})

	if cfg.APIServer != "" {
		p.api = api.New(cfg.APIServer, AppVersion, cfg, p.recorder, p.controller, logs)
	}
	return p, nil
}

func (p *pipeline) closePlugins() {
	for _, pl := range p.plugins {
		if err := pl.Close(); err != nil {
			slog.Error("plugin.Close", slog.String("plugin", pl.Name()), slog.Any("error", err))
		}
	}
}

func (p *pipeline) start() error {
	addShutdown("plugins.Close", func() error {
		p.closePlugins()
		return nil
	})
	if p.api == nil {
		return nil
	}
	if err := p.api.Start(); err != nil {
		return err
	}
	addShutdown("api.Close", p.api.Close)
	return nil
}

// run checks every input and writes the report to w. The returned code is
// the process exit status; an error means the run could not complete.
func (p *pipeline) run(ctx context.Context, w io.Writer, inputs []string) (int, error) {
	slog.Info("Checking", slog.Any("controller", p.controller), slog.String("run", p.recorder.RunID()))

	dumpCtx, stopDump := context.WithCancel(context.Background())
	p.recorder.Run(dumpCtx)

	reader := input.NewReader()
	reader.Method = p.cfg.Method
	if p.stdin != nil {
		reader.Stdin = p.stdin
	}
	streamCtx, stopStream := context.WithCancel(ctx)
	reqs, errc := reader.Stream(streamCtx, inputs)

	var responses []common.Response
	for resp := range p.checker.Run(ctx, reqs) {
		responses = append(responses, resp)
		if p.api != nil {
			p.api.Publish(resp)
		}
	}
	// Admission may have stopped before the inputs ran out.
	stopStream()
	inputErr := <-errc
	if errors.Is(inputErr, context.Canceled) {
		inputErr = nil
	}
	stopDump()
	p.recorder.Dump()

	if p.controller.IsCanceled() {
		slog.Warn("Run canceled, remaining inputs were not checked", slog.Int("checked", len(responses)))
	}

	sum := p.recorder.Summary()
	slog.Info("Run finished", slog.Any("summary", sum))
	if err := report.Compact(w, responses, sum, p.cfg.Verbose); err != nil {
		slog.Error("report.Compact", slog.Any("error", err))
	}

	if p.cfg.Cache {
		if err := p.cache.Save(p.cfg.CacheFile); err != nil {
			slog.Error("cache.Save", slog.String("file", p.cfg.CacheFile), slog.Any("error", err))
		}
	}

	if inputErr != nil {
		return report.ExitFailure, fmt.Errorf("reading inputs: %w", inputErr)
	}
	return report.ExitCode(sum), nil
}
