package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

const TemplateFile = "uricheck.yaml"

// GenerateTemplateConfig returns the default configuration, optionally
// writing it as YAML to TemplateFile in the working directory.
func GenerateTemplateConfig(writeToFile bool) (Config, error) {
	cfg := Config{
		LogLevel: DefaultLogLevel,

		MaxConcurrency: DefaultMaxConcurrency,
		MaxRetries:     DefaultMaxRetries,
		RetryWaitTime:  DefaultRetryWaitTime,
		MaxRetryWait:   DefaultMaxRetryWait,
		Timeout:        DefaultTimeout,
		MaxRedirects:   DefaultMaxRedirects,
		Method:         DefaultMethod,

		Accept: "100..=103,200..=299",

		Cache:       false,
		CacheFile:   DefaultCacheFile,
		MaxCacheAge: DefaultMaxCacheAge,

		Schemes: []string{"https", "http", "file"},
		Exclude: []string{`^https?://(www\.)?linkedin\.com/`},

		AntiBot: AntiBotConfig{
			Timeout: DefaultAntiBotTimeout,
		},
	}

	if writeToFile {
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to marshal template config to YAML: %w", err)
		}
		if err := os.WriteFile(TemplateFile, data, 0644); err != nil {
			return Config{}, fmt.Errorf("failed to write template config to file: %w", err)
		}
	}
	return cfg, nil
}
