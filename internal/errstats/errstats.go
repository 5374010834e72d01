// Package errstats is a compact, fastcache-backed error ledger re-keyed
// from "host under scan" to "backend name": dial failures, pipe
// failures, and queue drops are recorded per backend so an operator can
// see which origin is unhealthy.
package errstats

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

// Category classifies a recorded error for the per-backend breakdown.
type Category string

const (
	CategoryTimeout    Category = "timeout"
	CategoryConnection Category = "connection"
	CategoryTLS        Category = "tls"
	CategoryPipe       Category = "pipe"
	CategoryQueueDrop  Category = "queue_drop"
	CategoryOther      Category = "other"
)

// GlobalStats holds the process-wide counters.
type GlobalStats struct {
	TotalErrors      uint64    `json:"total_errors"`
	TimeoutErrors    uint64    `json:"timeout_errors"`
	ConnectionErrors uint64    `json:"connection_errors"`
	TLSErrors        uint64    `json:"tls_errors"`
	PipeErrors       uint64    `json:"pipe_errors"`
	QueueDrops       uint64    `json:"queue_drops"`
	UniqueBackends   uint64    `json:"unique_backends"`
	FirstErrorTime   time.Time `json:"first_error"`
	LastErrorTime    time.Time `json:"last_error"`
}

// BackendStats is the per-backend error breakdown.
type BackendStats struct {
	FirstError time.Time         `json:"first_error"`
	LastError  time.Time         `json:"last_error"`
	ErrorCount uint32            `json:"error_count"`
	ErrorTypes map[string]uint32 `json:"error_types"`
}

// Ledger pairs a compact fastcache-backed recent-error record with an
// in-memory per-backend breakdown for human/JSON reporting.
type Ledger struct {
	cache *fastcache.Cache

	mu           sync.RWMutex
	stats        GlobalStats
	backendStats map[string]*BackendStats
}

// NewLedger builds a ledger using fastcache's documented minimum size.
func NewLedger() *Ledger {
	return &Ledger{
		cache:        fastcache.New(32 * 1024 * 1024),
		backendStats: make(map[string]*BackendStats),
	}
}

// Record stores a compact ledger entry for (backend, category) and
// updates the per-backend/global breakdown.
func (l *Ledger) Record(backendName string, cat Category, err error) {
	now := time.Now()

	key := []byte(backendName + "_" + string(cat))
	value := []byte(fmt.Sprintf("%s_%d", errString(err), now.UnixNano()))
	l.cache.Set(key, value)

	l.mu.Lock()
	defer l.mu.Unlock()

	atomic.AddUint64(&l.stats.TotalErrors, 1)
	if l.stats.FirstErrorTime.IsZero() {
		l.stats.FirstErrorTime = now
	}
	l.stats.LastErrorTime = now

	bs := l.backendStats[backendName]
	if bs == nil {
		bs = &BackendStats{FirstError: now, ErrorTypes: make(map[string]uint32)}
		l.backendStats[backendName] = bs
		atomic.AddUint64(&l.stats.UniqueBackends, 1)
	}
	bs.LastError = now
	bs.ErrorCount++
	bs.ErrorTypes[string(cat)]++

	switch cat {
	case CategoryTimeout:
		l.stats.TimeoutErrors++
	case CategoryConnection:
		l.stats.ConnectionErrors++
	case CategoryTLS:
		l.stats.TLSErrors++
	case CategoryPipe:
		l.stats.PipeErrors++
	case CategoryQueueDrop:
		l.stats.QueueDrops++
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// BackendStatsFor returns a defensive copy of one backend's stats, or nil
// if nothing has been recorded for it.
func (l *Ledger) BackendStatsFor(backendName string) *BackendStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bs, ok := l.backendStats[backendName]
	if !ok {
		return nil
	}
	cp := *bs
	cp.ErrorTypes = make(map[string]uint32, len(bs.ErrorTypes))
	for k, v := range bs.ErrorTypes {
		cp.ErrorTypes[k] = v
	}
	return &cp
}

// Export renders the full breakdown as JSON.
func (l *Ledger) Export() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	export := struct {
		Global   GlobalStats              `json:"global"`
		Backends map[string]*BackendStats `json:"backends"`
	}{Global: l.stats, Backends: l.backendStats}
	return json.MarshalIndent(export, "", "  ")
}

// Report renders a short human-readable summary.
func (l *Ledger) Report() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Backend Error Report\n")
	b.WriteString("=====================\n\n")
	fmt.Fprintf(&b, "Total errors: %d\n", l.stats.TotalErrors)
	fmt.Fprintf(&b, "Unique backends with errors: %d\n", l.stats.UniqueBackends)
	fmt.Fprintf(&b, "Timeouts: %d  Connection: %d  TLS: %d  Pipe: %d  Queue drops: %d\n",
		l.stats.TimeoutErrors, l.stats.ConnectionErrors, l.stats.TLSErrors, l.stats.PipeErrors, l.stats.QueueDrops)
	return b.String()
}

// CacheStats exposes the fastcache internal stats for diagnostics.
func (l *Ledger) CacheStats() *fastcache.Stats {
	stats := &fastcache.Stats{}
	l.cache.UpdateStats(stats)
	return stats
}

// Close releases cache resources.
func (l *Ledger) Close() {
	l.cache.Reset()
}
