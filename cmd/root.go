package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sunbk201/uricheck/internal/config"
	"github.com/sunbk201/uricheck/internal/log"
	"github.com/sunbk201/uricheck/internal/report"
)

var (
	AppVersion = "Development"
	exitCode   = report.ExitOK

	shutdownMu    sync.Mutex
	shutdownChain []func() error
)

var rootCmd = &cobra.Command{
	Use:   "uricheck [flags] <inputs>...",
	Short: "uricheck verifies that URIs are reachable",
	Long: "uricheck checks every URI given on the command line, in link files (one URI per line) or on stdin (\"-\"), " +
		"and reports the ones that are broken.",
	SilenceUsage: true,
	RunE:         runRoot,
}

func init() {
	cobra.OnInitialize(initConfig)

	f := rootCmd.Flags()
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
	f.BoolP("version", "v", false, "Show version")
	f.BoolP("generate-config", "g", false, "Generate template config file")
	f.StringP("log-level", "l", "", "Log level: debug, info, warn, error")
	f.String("log-file", "", "Also write logs to this file (rotated)")
	f.Bool("verbose", false, "List successful URIs too")

	f.Int("max-concurrency", 0, "Maximum number of concurrent checks")
	f.Int("max-retries", 0, "Retries per request on transient failures")
	f.Duration("retry-wait-time", 0, "Initial wait between retries")
	f.Duration("max-retry-wait", 0, "Upper bound for a single retry wait")
	f.DurationP("timeout", "t", 0, "Per-request timeout")
	f.Int("max-redirects", 0, "Maximum redirects to follow")
	f.StringP("user-agent", "u", "", "User-Agent header")
	f.BoolP("insecure", "k", false, "Skip TLS certificate verification")
	f.String("proxy", "", "Proxy URL (http, https, socks5, socks5h)")
	f.StringP("method", "X", "", "Request method: GET or HEAD")
	f.StringArrayP("header", "H", nil, "Extra header \"Name=value\", repeatable")

	f.StringP("accept", "a", "", "Accepted status codes, e.g. \"200..=299,403\"")
	f.String("reject", "", "Rejected status codes")

	f.Bool("cache", false, "Use the verification cache")
	f.String("cache-file", "", "Verification cache file")
	f.String("cache-exclude-status", "", "Status codes never cached")
	f.Duration("max-cache-age", 0, "Ignore a cache file older than this")

	f.StringArray("include", nil, "Only check URIs matching this regex, repeatable")
	f.StringArray("exclude", nil, "Skip URIs matching this regex, repeatable")
	f.Bool("exclude-private", false, "Skip private IP addresses")
	f.Bool("exclude-loopback", false, "Skip loopback addresses")
	f.Bool("exclude-link-local", false, "Skip link-local addresses")
	f.BoolP("exclude-all-private", "E", false, "Skip private, loopback and link-local addresses")
	f.StringArray("scheme", nil, "Only check these schemes, repeatable")
	f.Bool("include-fragments", false, "Check that URI fragments exist in the target document")
	f.Bool("include-mail", false, "Do not skip mailto URIs")

	f.StringArray("basic-auth", nil, "\"<uri-regex> <user>:<password>\", repeatable")
	f.StringArray("remap", nil, "\"<uri-regex> <replacement>\", repeatable")
	f.StringArray("plugin", nil, "Plugin: a .wasm module exporting \"chain\" or an executable, with arguments; repeatable")
	f.String("anti-bot-endpoint", "", "FlareSolverr-compatible solver endpoint")
	f.StringArray("anti-bot-match", nil, "Send matching URIs to the solver, repeatable")
	f.Duration("anti-bot-timeout", 0, "Solver timeout")

	f.String("stats-file", "", "Write per-host statistics to this file")
	f.String("api-server", "", "Serve run statistics on this address")
	f.String("api-server-secret", "", "Secret required by the API server")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	renamed := map[string]string{
		"anti-bot-endpoint": "anti-bot.endpoint",
		"anti-bot-match":    "anti-bot.match",
		"anti-bot-timeout":  "anti-bot.timeout",
	}
	for _, name := range configFlags() {
		key := name
		if k, ok := renamed[name]; ok {
			key = k
		}
		_ = viper.BindPFlag(key, f.Lookup(name))
	}

	viper.SetEnvPrefix("URICHECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// configFlags lists the root flags that map onto config keys.
func configFlags() []string {
	var names []string
	rootCmd.Flags().VisitAll(func(f *pflag.Flag) {
		switch f.Name {
		case "version", "generate-config", "help":
			return
		}
		names = append(names, f.Name)
	})
	return names
}

func initConfig() {
	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.MergeInConfig(); err != nil {
			slog.Error("Failed to read config file", slog.Any("error", err))
			os.Exit(report.ExitFailure)
		}
	}
	config.SetDefaults()
}

func runRoot(cmd *cobra.Command, args []string) error {
	showVer, _ := cmd.Flags().GetBool("version")
	if showVer {
		fmt.Printf("uricheck version %s\n", AppVersion)
		return nil
	}

	genConfig, _ := cmd.Flags().GetBool("generate-config")
	if genConfig {
		if _, err := config.GenerateTemplateConfig(true); err != nil {
			return fmt.Errorf("failed to generate template config: %w", err)
		}
		fmt.Printf("Template config file '%s' generated successfully.\n", config.TemplateFile)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("%w: no inputs given", config.ErrConfiguration)
	}

	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return err
	}

	var (
		logs  *log.Broadcaster
		extra []io.Writer
	)
	if cfg.APIServer != "" {
		logs = log.NewBroadcaster()
		extra = append(extra, logs)
	}
	closer := log.SetLogConf(cfg.LogLevel, cfg.LogFile, extra...)
	addShutdown("log.Close", closer.Close)
	log.LogHeader(AppVersion, cfg)

	p, err := newPipeline(cfg, logs)
	if err != nil {
		shutdown()
		return err
	}

	if err := p.start(); err != nil {
		slog.Error("pipeline.start", slog.Any("error", err))
		shutdown()
		return err
	}

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	watching, stopWatching := context.WithCancel(context.Background())
	defer stopWatching()
	go watchSignals(watching, cancelRun)

	code, err := p.run(ctx, os.Stdout, args)
	shutdown()
	if err != nil {
		return err
	}
	exitCode = code
	return nil
}

// watchSignals cancels the run on the first interrupt: no new checks start,
// checks in flight finish and are reported. A second interrupt exits.
func watchSignals(ctx context.Context, cancelRun context.CancelFunc) {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		slog.Warn("Received signal, finishing checks in flight", slog.String("signal", s.String()))
		cancelRun()
	case <-ctx.Done():
		return
	}
	select {
	case s := <-sig:
		slog.Error("Received second signal, exiting", slog.String("signal", s.String()))
		shutdown()
		os.Exit(report.ExitFailure)
	case <-ctx.Done():
	}
}

func addShutdown(name string, fn func() error) {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	shutdownChain = append(shutdownChain, func() error {
		if err := fn(); err != nil {
			slog.Error(name, slog.Any("error", err))
			return err
		}
		return nil
	})
}

func shutdown() {
	shutdownMu.Lock()
	chain := shutdownChain
	shutdownChain = nil
	shutdownMu.Unlock()
	for i := len(chain) - 1; i >= 0; i-- {
		_ = chain[i]()
	}
	slog.Debug("uricheck exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, config.ErrConfiguration) {
			fmt.Fprintln(os.Stderr, "Run 'uricheck --help' for usage.")
		}
		os.Exit(report.ExitFailure)
	}
	os.Exit(exitCode)
}
