package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	extism "github.com/extism/go-sdk"
)

// ChainExport is the function a Wasm plugin must export. It takes a JSON
// Request and returns a JSON reply, see ParseReply.
const ChainExport = "chain"

// newWasm prepares a Wasm plugin. Every instance is a fresh Extism plugin
// built from the same manifest.
func newWasm(path string, opts Options) (*Plugin, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("os.Stat: %w", err)
	}
	config, err := moduleConfig(opts.Args)
	if err != nil {
		return nil, err
	}

	manifest := extism.Manifest{
		Wasm:         []extism.Wasm{extism.WasmFile{Path: abs}},
		Config:       config,
		AllowedHosts: opts.AllowedHosts,
		Timeout:      uint64(opts.Timeout.Milliseconds()),
	}
	name := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	return &Plugin{
		name: name,
		path: abs,
		kind: "wasm",
		opts: opts,
		open: func(ctx context.Context) (transport, error) {
			return instantiate(ctx, name, manifest)
		},
	}, nil
}

// moduleConfig turns "key=value" arguments into the module's config.
func moduleConfig(args []string) (map[string]string, error) {
	config := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("wasm plugin argument %q: expected key=value", arg)
		}
		config[k] = v
	}
	return config, nil
}

type module struct {
	plugin *extism.Plugin
}

func instantiate(ctx context.Context, name string, manifest extism.Manifest) (transport, error) {
	p, err := extism.NewPlugin(ctx, manifest, extism.PluginConfig{EnableWasi: true}, nil)
	if err != nil {
		return nil, fmt.Errorf("extism.NewPlugin: %w", err)
	}
	if !p.FunctionExists(ChainExport) {
		_ = p.CloseWithContext(ctx)
		return nil, fmt.Errorf("module does not export %q", ChainExport)
	}
	p.SetLogger(func(level extism.LogLevel, message string) {
		slog.Debug("Plugin log", slog.String("name", name), slog.Int("level", int(level)), slog.String("message", message))
	})
	return &module{plugin: p}, nil
}

func (m *module) call(ctx context.Context, input []byte) ([]byte, error) {
	rc, out, err := m.plugin.CallWithContext(ctx, ChainExport, input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ChainExport, err)
	}
	if rc != 0 {
		return nil, fmt.Errorf("%s exited with %d", ChainExport, rc)
	}
	return out, nil
}

func (m *module) close() error {
	return m.plugin.CloseWithContext(context.Background())
}
