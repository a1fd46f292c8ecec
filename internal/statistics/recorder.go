package statistics

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sunbk201/uricheck/internal/common"
	"github.com/sunbk201/uricheck/internal/status"
)

const dumpInterval = 5 * time.Second

// HostRecord aggregates the checks of one host.
type HostRecord struct {
	Host   string `json:"host"`
	Count  int    `json:"count"`
	Errors int    `json:"errors"`
}

// Summary is a point-in-time view of a run.
type Summary struct {
	RunID       string              `json:"run_id"`
	StartedAt   time.Time           `json:"started_at"`
	Duration    time.Duration       `json:"duration"`
	Total       int                 `json:"total"`
	Successful  int                 `json:"successful"`
	Errors      int                 `json:"errors"`
	Excluded    int                 `json:"excluded"`
	Unsupported int                 `json:"unsupported"`
	Unknown     int                 `json:"unknown"`
	Cached      int                 `json:"cached"`
	Failures    []common.Response   `json:"-"`
	ErrorKinds  map[string]int      `json:"error_kinds,omitempty"`
	Kinds       map[status.Kind]int `json:"-"`
}

// Recorder collects per-run counters. Dump writes the per-host table to
// dumpFile; Run does so periodically.
type Recorder struct {
	runID   string
	started time.Time

	mu       sync.RWMutex
	kinds    map[status.Kind]int
	errKinds map[string]int
	cached   int
	total    int
	failures []common.Response
	hosts    map[string]*HostRecord

	dumpRecords []HostRecord
	dumpFile    string
	dumpWriter  *bufio.Writer
}

func NewRecorder(dumpFile string) *Recorder {
	return &Recorder{
		runID:       uuid.NewString(),
		started:     time.Now(),
		kinds:       make(map[status.Kind]int, 5),
		errKinds:    make(map[string]int),
		hosts:       make(map[string]*HostRecord, 300),
		dumpRecords: make([]HostRecord, 0, 300),
		dumpFile:    dumpFile,
		dumpWriter:  bufio.NewWriter(nil),
	}
}

func (r *Recorder) RunID() string { return r.runID }

// Run dumps the host table every few seconds until ctx is done, then once
// more.
func (r *Recorder) Run(ctx context.Context) {
	if r.dumpFile == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(dumpInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Dump()
			case <-ctx.Done():
				r.Dump()
				return
			}
		}
	}()
}

func (r *Recorder) Add(resp common.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := resp.Status
	r.total++
	r.kinds[s.Kind]++
	if s.Cached {
		r.cached++
	}
	if s.IsError() {
		r.errKinds[string(s.ErrorKind)]++
		r.failures = append(r.failures, resp)
	}

	host := resp.Request.URI.Host
	if host == "" {
		host = resp.Request.URI.Scheme
	}
	rec, ok := r.hosts[host]
	if !ok {
		rec = &HostRecord{Host: host}
		r.hosts[host] = rec
	}
	rec.Count++
	if s.IsError() {
		rec.Errors++
	}
}

func (r *Recorder) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make(map[status.Kind]int, len(r.kinds))
	for k, v := range r.kinds {
		kinds[k] = v
	}
	errKinds := make(map[string]int, len(r.errKinds))
	for k, v := range r.errKinds {
		errKinds[k] = v
	}
	failures := make([]common.Response, len(r.failures))
	copy(failures, r.failures)

	return Summary{
		RunID:       r.runID,
		StartedAt:   r.started,
		Duration:    time.Since(r.started),
		Total:       r.total,
		Successful:  kinds[status.KindOk],
		Errors:      kinds[status.KindError],
		Excluded:    kinds[status.KindExcluded],
		Unsupported: kinds[status.KindUnsupported],
		Unknown:     kinds[status.KindUnknown],
		Cached:      r.cached,
		Failures:    failures,
		ErrorKinds:  errKinds,
		Kinds:       kinds,
	}
}

// Hosts returns the host table, busiest host first.
func (r *Recorder) Hosts() []HostRecord {
	r.mu.RLock()
	out := make([]HostRecord, 0, len(r.hosts))
	for _, rec := range r.hosts {
		out = append(out, *rec)
	}
	r.mu.RUnlock()
	sortHosts(out)
	return out
}

func sortHosts(records []HostRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Count != records[j].Count {
			return records[i].Count > records[j].Count
		}
		return records[i].Host < records[j].Host
	})
}

func (r *Recorder) Dump() {
	if r.dumpFile == "" {
		return
	}
	f, err := os.Create(r.dumpFile)
	if err != nil {
		slog.Error("os.Create", slog.Any("error", err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("os.File.Close", slog.Any("error", err))
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.dumpRecords = r.dumpRecords[:0]
	for _, rec := range r.hosts {
		r.dumpRecords = append(r.dumpRecords, *rec)
	}
	sortHosts(r.dumpRecords)

	r.dumpWriter.Reset(f)
	defer func() {
		if err := r.dumpWriter.Flush(); err != nil {
			slog.Error("bufio.Writer.Flush", slog.Any("error", err))
		}
	}()

	for _, rec := range r.dumpRecords {
		if _, err := fmt.Fprintf(r.dumpWriter, "%s %d %d\n", rec.Host, rec.Count, rec.Errors); err != nil {
			slog.Error("Dump fmt.Fprintf", slog.Any("error", err))
			return
		}
	}
}

func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run", s.RunID),
		slog.Int("total", s.Total),
		slog.Int("successful", s.Successful),
		slog.Int("errors", s.Errors),
		slog.Int("excluded", s.Excluded),
		slog.Int("unsupported", s.Unsupported),
		slog.Int("unknown", s.Unknown),
		slog.Int("cached", s.Cached),
		slog.Duration("duration", s.Duration),
	)
}
