package cache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sunbk201/uricheck/internal/status"
)

// Entry is a cached verification result.
type Entry struct {
	Code      int
	Status    status.Status
	CheckedAt time.Time
}

// Cache maps normalized URI keys to cacheable results. It is safe for
// concurrent use.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	excluded status.CodeSet

	dumpWriter *bufio.Writer
}

func New(excluded status.CodeSet) *Cache {
	return &Cache{
		entries:    make(map[string]Entry, 300),
		excluded:   excluded,
		dumpWriter: bufio.NewWriter(nil),
	}
}

// IsCacheable is true only for classified Ok statuses and rejected status
// codes that carry a real status code not excluded from caching.
func (c *Cache) IsCacheable(s status.Status) bool {
	if s.Unclassified {
		return false
	}
	if !s.IsOk() && !(s.IsError() && s.ErrorKind == status.RejectedStatusCode) {
		return false
	}
	if s.Code < status.MinCode || s.Code > status.MaxCode {
		return false
	}
	return !c.excluded.Contains(s.Code)
}

func (c *Cache) Lookup(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Insert stores s under key if it is cacheable. A non-cacheable status
// evicts any previous entry so it never reaches the cache file. It reports
// whether the entry was stored.
func (c *Cache) Insert(key string, s status.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.IsCacheable(s) {
		delete(c.entries, key)
		return false
	}
	s.Cached = false
	c.entries[key] = Entry{Code: s.Code, Status: s, CheckedAt: time.Now()}
	return true
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns all keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Load reads a cache file. A missing file is not an error, malformed lines
// are skipped, and a file older than maxAge (when positive) is ignored.
// classify turns a stored code back into a status.
func (c *Cache) Load(path string, maxAge time.Duration, classify func(code int) status.Status) (int, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("os.Stat: %w", err)
	}
	if maxAge > 0 && time.Since(info.ModTime()) > maxAge {
		slog.Info("Cache file expired, ignoring", slog.String("file", path), slog.Time("modified", info.ModTime()))
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("os.Open: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("os.File.Close", slog.Any("error", err))
		}
	}()
	return c.Read(f, info.ModTime(), classify)
}

// Read loads records from r. See Load.
func (c *Cache) Read(r io.Reader, checkedAt time.Time, classify func(code int) status.Status) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	for lineNo := 1; scanner.Scan(); lineNo++ {
		key, code, ok := parseRecord(scanner.Text())
		if !ok {
			slog.Debug("Skipping malformed cache record", slog.Int("line", lineNo))
			continue
		}
		s := classify(code)
		if !c.IsCacheable(s) {
			continue
		}
		c.entries[key] = Entry{Code: code, Status: s, CheckedAt: checkedAt}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("scanner.Err: %w", err)
	}
	return loaded, nil
}

func parseRecord(line string) (string, int, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", 0, false
	}
	i := strings.LastIndexByte(line, ',')
	if i <= 0 || i == len(line)-1 {
		return "", 0, false
	}
	code, err := strconv.Atoi(line[i+1:])
	if err != nil || code < status.MinCode || code > status.MaxCode {
		return "", 0, false
	}
	return line[:i], code, true
}

// Save writes every entry as "<key>,<code>" to path, replacing the file.
func (c *Cache) Save(path string) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("os.Create: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("os.File.Close: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(tmp)
			return
		}
		if rerr := os.Rename(tmp, path); rerr != nil {
			err = fmt.Errorf("os.Rename: %w", rerr)
		}
	}()

	return c.Write(f)
}

// Write serializes the cache to w in key order.
func (c *Cache) Write(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if c.IsCacheable(e.Status) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	c.dumpWriter.Reset(w)
	for _, k := range keys {
		if _, err := fmt.Fprintf(c.dumpWriter, "%s,%d\n", k, c.entries[k].Code); err != nil {
			return fmt.Errorf("fmt.Fprintf: %w", err)
		}
	}
	if err := c.dumpWriter.Flush(); err != nil {
		return fmt.Errorf("bufio.Writer.Flush: %w", err)
	}
	return nil
}
