// Package pathvalidator implements the Path Validator (C12): periodic
// re-checks of watched paths, eviction of dead ones, and the
// agent-registration-time pre-filter that drops agents with zero valid
// paths.
package pathvalidator

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
)

// DefaultInterval is how often the validator re-checks every watched path.
const DefaultInterval = 5 * time.Minute

// Report is the aggregate result of one validation pass.
type Report struct {
	ValidCount   int
	InvalidCount int
}

// ReasonPathInvalid is the reason attached to a "path-removed" control event.
const ReasonPathInvalid = "path-invalid"

// Removal describes one path the validator evicted.
type Removal struct {
	Path   string
	Reason string
}

// ValidatePaths stats every path and returns counts of valid vs invalid
// entries, without mutating any watcher state. Used at agent-registration
// time to pre-filter initial log_paths.
func ValidatePaths(paths []string) (validCount, invalidCount int) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			invalidCount++
			continue
		}
		validCount++
	}
	return validCount, invalidCount
}

// WatcherCloser is implemented by anything the validator can evict: it
// must be able to stop itself and report the path it was watching.
type WatcherCloser interface {
	Path() string
	Close()
}

// Validator periodically stats every currently-watched path and evicts
// (closes + removes) any whose path no longer stats as a file or
// directory.
type Validator struct {
	interval time.Duration
	logger   *logger.Logger

	mu       sync.Mutex
	watchers map[string]WatcherCloser

	onRemove func(Removal)
}

// New creates a Validator. onRemove, if non-nil, is invoked for every
// evicted path (used to publish a "path-removed" control event).
func New(interval time.Duration, onRemove func(Removal), log *logger.Logger) *Validator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Validator{
		interval: interval,
		logger:   log,
		watchers: make(map[string]WatcherCloser),
		onRemove: onRemove,
	}
}

// Register adds a watcher the validator should track.
func (v *Validator) Register(w WatcherCloser) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.watchers[w.Path()] = w
}

// Unregister removes a watcher from tracking without closing it (used
// when the watcher already shut itself down for another reason).
func (v *Validator) Unregister(path string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.watchers, path)
}

// Run blocks, validating on a ticker, until ctx is cancelled.
func (v *Validator) Run(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := v.runOnce()
			v.logger.Debug("path validator pass complete",
				zap.Int("valid", report.ValidCount),
				zap.Int("invalid", report.InvalidCount))
		}
	}
}

// runOnce performs a single validation pass over every registered watcher.
func (v *Validator) runOnce() Report {
	v.mu.Lock()
	snapshot := make([]WatcherCloser, 0, len(v.watchers))
	for _, w := range v.watchers {
		snapshot = append(snapshot, w)
	}
	v.mu.Unlock()

	var report Report
	for _, w := range snapshot {
		if _, err := os.Stat(w.Path()); err != nil {
			report.InvalidCount++
			v.evict(w, ReasonPathInvalid)
			continue
		}
		report.ValidCount++
	}
	return report
}

func (v *Validator) evict(w WatcherCloser, reason string) {
	v.mu.Lock()
	delete(v.watchers, w.Path())
	v.mu.Unlock()

	w.Close()
	v.logger.Info("path validator evicted dead path",
		zap.String("path", w.Path()), zap.String("reason", reason))
	if v.onRemove != nil {
		v.onRemove(Removal{Path: w.Path(), Reason: reason})
	}
}
