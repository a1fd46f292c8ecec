package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sunbk201/uricheck/internal/cache"
	"github.com/sunbk201/uricheck/internal/config"
	"github.com/sunbk201/uricheck/internal/status"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the verification cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List cached results as the current accept/reject settings classify them",
	Args:  cobra.NoArgs,
	RunE:  runCacheShow,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cache file",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var cacheFile string

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheFile, "file", "", "Cache file (default: cache-file from the configuration)")

	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func cacheSettings() (*config.Config, string, error) {
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return nil, "", err
	}
	path := cacheFile
	if path == "" {
		path = cfg.CacheFile
	}
	return cfg, path, nil
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	cfg, path, err := cacheSettings()
	if err != nil {
		return err
	}
	compiled, err := cfg.Compile()
	if err != nil {
		return err
	}
	classifier := status.NewClassifier(compiled.Accept, compiled.Reject)

	c := cache.New(compiled.CacheExclude)
	// Age is irrelevant for inspection.
	n, err := c.Load(path, 0, classifier.ClassifyCode)
	if err != nil {
		return fmt.Errorf("failed to load cache %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, key := range c.Keys() {
		e, _ := c.Lookup(key)
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Code, e.Status.Kind, key)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d entries in %s\n", n, path)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	_, path, err := cacheSettings()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(cmd.ErrOrStderr(), "No cache file at %s\n", path)
			return nil
		}
		return fmt.Errorf("failed to remove cache %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Removed %s\n", path)
	return nil
}
