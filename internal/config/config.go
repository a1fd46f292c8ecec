package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/sunbk201/uricheck/internal/handler"
	"github.com/sunbk201/uricheck/internal/status"
)

// ErrConfiguration marks errors that make a run impossible before any URI is
// checked.
var ErrConfiguration = errors.New("configuration error")

const (
	DefaultLogLevel       = "warn"
	DefaultMaxConcurrency = 128
	DefaultMaxRetries     = 2
	DefaultRetryWaitTime  = time.Second
	DefaultMaxRetryWait   = 30 * time.Second
	DefaultTimeout        = 20 * time.Second
	DefaultMaxRedirects   = 5
	DefaultMethod         = http.MethodGet
	DefaultCacheFile      = ".uricheckcache"
	DefaultMaxCacheAge    = 24 * time.Hour
	DefaultAntiBotTimeout = 60 * time.Second
)

type AntiBotConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"omitempty,url"`
	Match    []string      `mapstructure:"match" yaml:"match,omitempty" json:"match,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"min=0"`
}

type Config struct {
	LogLevel string `mapstructure:"log-level" yaml:"log-level" json:"log_level" validate:"oneof=debug info warn error"`
	LogFile  string `mapstructure:"log-file" yaml:"log-file,omitempty" json:"log_file,omitempty"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose,omitempty" json:"verbose,omitempty"`

	MaxConcurrency int           `mapstructure:"max-concurrency" yaml:"max-concurrency" json:"max_concurrency" validate:"min=1"`
	MaxRetries     int           `mapstructure:"max-retries" yaml:"max-retries" json:"max_retries" validate:"min=0"`
	RetryWaitTime  time.Duration `mapstructure:"retry-wait-time" yaml:"retry-wait-time" json:"retry_wait_time" validate:"min=0"`
	MaxRetryWait   time.Duration `mapstructure:"max-retry-wait" yaml:"max-retry-wait" json:"max_retry_wait" validate:"min=0"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout" validate:"min=0"`
	MaxRedirects   int           `mapstructure:"max-redirects" yaml:"max-redirects" json:"max_redirects" validate:"min=0"`
	UserAgent      string        `mapstructure:"user-agent" yaml:"user-agent,omitempty" json:"user_agent,omitempty"`
	Insecure       bool          `mapstructure:"insecure" yaml:"insecure,omitempty" json:"insecure,omitempty"`
	Proxy          string        `mapstructure:"proxy" yaml:"proxy,omitempty" json:"proxy,omitempty" validate:"omitempty,url"`
	Method         string        `mapstructure:"method" yaml:"method" json:"method" validate:"oneof=GET HEAD"`
	Headers        []string      `mapstructure:"header" yaml:"header,omitempty" json:"-"`

	Accept string `mapstructure:"accept" yaml:"accept,omitempty" json:"accept,omitempty"`
	Reject string `mapstructure:"reject" yaml:"reject,omitempty" json:"reject,omitempty"`

	Cache              bool          `mapstructure:"cache" yaml:"cache" json:"cache"`
	CacheFile          string        `mapstructure:"cache-file" yaml:"cache-file" json:"cache_file" validate:"required_if=Cache true"`
	CacheExcludeStatus string        `mapstructure:"cache-exclude-status" yaml:"cache-exclude-status,omitempty" json:"cache_exclude_status,omitempty"`
	MaxCacheAge        time.Duration `mapstructure:"max-cache-age" yaml:"max-cache-age" json:"max_cache_age" validate:"min=0"`

	Include           []string `mapstructure:"include" yaml:"include,omitempty" json:"include,omitempty"`
	Exclude           []string `mapstructure:"exclude" yaml:"exclude,omitempty" json:"exclude,omitempty"`
	ExcludePrivate    bool     `mapstructure:"exclude-private" yaml:"exclude-private,omitempty" json:"exclude_private,omitempty"`
	ExcludeLoopback   bool     `mapstructure:"exclude-loopback" yaml:"exclude-loopback,omitempty" json:"exclude_loopback,omitempty"`
	ExcludeLinkLocal  bool     `mapstructure:"exclude-link-local" yaml:"exclude-link-local,omitempty" json:"exclude_link_local,omitempty"`
	ExcludeAllPrivate bool     `mapstructure:"exclude-all-private" yaml:"exclude-all-private,omitempty" json:"exclude_all_private,omitempty"`
	IncludeMail       bool     `mapstructure:"include-mail" yaml:"include-mail,omitempty" json:"include_mail,omitempty"`
	Schemes           []string `mapstructure:"scheme" yaml:"scheme,omitempty" json:"scheme,omitempty" validate:"dive,required"`
	IncludeFragments  bool     `mapstructure:"include-fragments" yaml:"include-fragments,omitempty" json:"include_fragments,omitempty"`

	BasicAuth []string      `mapstructure:"basic-auth" yaml:"basic-auth,omitempty" json:"-"`
	Remap     []string      `mapstructure:"remap" yaml:"remap,omitempty" json:"remap,omitempty"`
	Plugins   []string      `mapstructure:"plugin" yaml:"plugin,omitempty" json:"plugin,omitempty" validate:"dive,required"`
	AntiBot   AntiBotConfig `mapstructure:"anti-bot" yaml:"anti-bot,omitempty" json:"anti_bot,omitempty"`

	StatsFile       string `mapstructure:"stats-file" yaml:"stats-file,omitempty" json:"stats_file,omitempty"`
	APIServer       string `mapstructure:"api-server" yaml:"api-server,omitempty" json:"api_server,omitempty" validate:"omitempty,hostname_port"`
	APIServerSecret string `mapstructure:"api-server-secret" yaml:"api-server-secret,omitempty" json:"-"`
}

// SetDefaults registers the default value of every key with viper.
func SetDefaults() {
	viper.SetDefault("log-level", DefaultLogLevel)
	viper.SetDefault("max-concurrency", DefaultMaxConcurrency)
	viper.SetDefault("max-retries", DefaultMaxRetries)
	viper.SetDefault("retry-wait-time", DefaultRetryWaitTime)
	viper.SetDefault("max-retry-wait", DefaultMaxRetryWait)
	viper.SetDefault("timeout", DefaultTimeout)
	viper.SetDefault("max-redirects", DefaultMaxRedirects)
	viper.SetDefault("method", DefaultMethod)
	viper.SetDefault("cache-file", DefaultCacheFile)
	viper.SetDefault("max-cache-age", DefaultMaxCacheAge)
	viper.SetDefault("anti-bot.timeout", DefaultAntiBotTimeout)
}

// BuildConfigFromViper decodes, normalizes and validates the merged flag,
// environment and file configuration.
func BuildConfigFromViper() (*Config, error) {
	var cfg Config
	err := viper.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		// Lists given as one string (environment) are newline separated:
		// patterns and rules may contain commas and spaces.
		mapstructure.StringToSliceHookFunc("\n"),
	)))
	if err != nil {
		return nil, fmt.Errorf("%w: viper.Unmarshal: %w", ErrConfiguration, err)
	}

	cfg.normalize()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if _, err := cfg.Compile(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
	for i, s := range c.Schemes {
		c.Schemes[i] = strings.ToLower(strings.TrimSpace(s))
	}
	if c.ExcludeAllPrivate {
		c.ExcludePrivate = true
		c.ExcludeLoopback = true
		c.ExcludeLinkLocal = true
	}
	c.Headers = compact(c.Headers)
	c.Include = compact(c.Include)
	c.Exclude = compact(c.Exclude)
	c.BasicAuth = compact(c.BasicAuth)
	c.Remap = compact(c.Remap)
	c.Plugins = compact(c.Plugins)
	c.AntiBot.Match = compact(c.AntiBot.Match)
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Compiled holds the parsed form of the textual rules in Config.
type Compiled struct {
	Accept       status.CodeSet
	Reject       status.CodeSet
	CacheExclude status.CodeSet
	Include      []*regexp2.Regexp
	Exclude      []*regexp2.Regexp
	Header       http.Header
	BasicAuth    []handler.BasicAuthRule
	Remap        []handler.RemapRule
	AntiBotMatch []*regexp2.Regexp
}

// Compile parses status code sets, patterns and rules. Every failure wraps
// ErrConfiguration.
func (c *Config) Compile() (*Compiled, error) {
	var (
		out Compiled
		err error
	)
	if out.Accept, err = status.ParseCodeSet(c.Accept); err != nil {
		return nil, fmt.Errorf("%w: accept: %w", ErrConfiguration, err)
	}
	if out.Reject, err = status.ParseCodeSet(c.Reject); err != nil {
		return nil, fmt.Errorf("%w: reject: %w", ErrConfiguration, err)
	}
	if out.CacheExclude, err = status.ParseCodeSet(c.CacheExcludeStatus); err != nil {
		return nil, fmt.Errorf("%w: cache-exclude-status: %w", ErrConfiguration, err)
	}
	if out.Include, err = handler.CompilePatterns(c.Include); err != nil {
		return nil, fmt.Errorf("%w: include: %w", ErrConfiguration, err)
	}
	if out.Exclude, err = handler.CompilePatterns(c.Exclude); err != nil {
		return nil, fmt.Errorf("%w: exclude: %w", ErrConfiguration, err)
	}
	if out.AntiBotMatch, err = handler.CompilePatterns(c.AntiBot.Match); err != nil {
		return nil, fmt.Errorf("%w: anti-bot.match: %w", ErrConfiguration, err)
	}

	out.Header = http.Header{}
	for _, h := range c.Headers {
		k, v, err := handler.ParseHeader(h)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		out.Header.Add(k, v)
	}
	for _, s := range c.BasicAuth {
		r, err := handler.ParseBasicAuthRule(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		out.BasicAuth = append(out.BasicAuth, r)
	}
	for _, s := range c.Remap {
		r, err := handler.ParseRemapRule(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		out.Remap = append(out.Remap, r)
	}
	return &out, nil
}

// MarshalJSON hides credentials: header values are dropped, leaving the
// names, and the proxy password is masked.
func (c *Config) MarshalJSON() ([]byte, error) {
	type plain Config
	return json.Marshal(struct {
		*plain
		Proxy  string   `json:"proxy,omitempty"`
		Header []string `json:"header,omitempty"`
	}{
		plain:  (*plain)(c),
		Proxy:  redactURL(c.Proxy),
		Header: headerNames(c.Headers),
	})
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid)"
	}
	return u.Redacted()
}

func headerNames(headers []string) []string {
	var names []string
	for _, h := range headers {
		if name, _, err := handler.ParseHeader(h); err == nil {
			names = append(names, name)
		}
	}
	return names
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("Log Level", c.LogLevel),
		slog.Int("Max Concurrency", c.MaxConcurrency),
		slog.Int("Max Retries", c.MaxRetries),
		slog.Duration("Timeout", c.Timeout),
		slog.Int("Max Redirects", c.MaxRedirects),
		slog.String("Method", c.Method),
		slog.String("Accept", c.Accept),
		slog.String("Reject", c.Reject),
		slog.Bool("Cache", c.Cache),
		slog.String("Cache File", c.CacheFile),
		slog.Duration("Max Cache Age", c.MaxCacheAge),
		slog.Int("Include", len(c.Include)),
		slog.Int("Exclude", len(c.Exclude)),
		slog.Bool("Include Fragments", c.IncludeFragments),
		slog.Int("Basic Auth", len(c.BasicAuth)),
		slog.Int("Remap", len(c.Remap)),
		slog.Int("Plugins", len(c.Plugins)),
		slog.String("Anti-Bot", c.AntiBot.Endpoint),
		slog.String("API Server", c.APIServer),
	)
}
