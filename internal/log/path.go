package log

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var stateDir = sync.OnceValue(determineStateDir)

// StateDir is where uricheck keeps log and statistics files given by bare
// name: $XDG_STATE_HOME/uricheck, ~/.local/state/uricheck, or a temp
// directory when neither can be created.
func StateDir() string {
	return stateDir()
}

func determineStateDir() string {
	var candidates []string
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "uricheck"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".local", "state", "uricheck"))
	}
	for _, dir := range candidates {
		if err := os.MkdirAll(dir, 0755); err == nil {
			return dir
		}
	}
	dir := filepath.Join(os.TempDir(), "uricheck")
	_ = os.MkdirAll(dir, 0755)
	return dir
}

// ResolveFile places a bare file name in StateDir. Paths containing a
// directory component are returned unchanged.
func ResolveFile(name string) string {
	if name == "" || filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		return name
	}
	return filepath.Join(StateDir(), name)
}
