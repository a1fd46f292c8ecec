package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/uricheck/internal/config"
)

func withCacheFile(t *testing.T, content string) string {
	t.Helper()
	viper.Reset()
	config.SetDefaults()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "cache")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	cacheFile = path
	t.Cleanup(func() { cacheFile = "" })
	return path
}

func TestCacheShow(t *testing.T) {
	withCacheFile(t, "https://a.example/,200\nhttps://b.example/gone,410\nnot a record\n")
	viper.Set("accept", "200,410")

	var out, errOut strings.Builder
	cacheShowCmd.SetOut(&out)
	cacheShowCmd.SetErr(&errOut)
	require.NoError(t, runCacheShow(cacheShowCmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"200", "OK", "https://a.example/"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"410", "OK", "https://b.example/gone"}, strings.Fields(lines[1]))
	assert.Contains(t, errOut.String(), "2 entries")
}

func TestCacheShowRejectedCodes(t *testing.T) {
	withCacheFile(t, "https://b.example/gone,410\n")

	var out strings.Builder
	cacheShowCmd.SetOut(&out)
	cacheShowCmd.SetErr(&strings.Builder{})
	require.NoError(t, runCacheShow(cacheShowCmd, nil))
	assert.Equal(t, []string{"410", "ERROR", "https://b.example/gone"}, strings.Fields(out.String()))
}

func TestCacheClear(t *testing.T) {
	path := withCacheFile(t, "https://a.example/,200\n")

	var errOut strings.Builder
	cacheClearCmd.SetErr(&errOut)
	require.NoError(t, runCacheClear(cacheClearCmd, nil))
	assert.NoFileExists(t, path)
	assert.Contains(t, errOut.String(), "Removed")

	errOut.Reset()
	require.NoError(t, runCacheClear(cacheClearCmd, nil))
	assert.Contains(t, errOut.String(), "No cache file")
}
