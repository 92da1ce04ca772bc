// Package tailer implements the File Tailer (C4): a per-file incremental
// reader with position tracking, rotation/truncation handling, and a
// polling fallback used unconditionally on remote-volume paths and as a
// backstop everywhere else.
package tailer

import (
	"bytes"
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/bus"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
	"github.com/akamalov/mcp-log-server-sub000/internal/parser"
)

// DefaultPollInterval is the unconditional poll cadence for remote-volume
// paths and the fallback cadence everywhere else.
const DefaultPollInterval = 2 * time.Second

// Notifier describes a source of OS-level change signals for one path. No
// type in this repository implements it and nothing calls SetNotifier, so
// every Watcher activates on its poll ticker alone.
type Notifier interface {
	// Events returns a channel that receives a value whenever path may
	// have changed. The channel is closed when the notifier is torn down.
	Events(path string) <-chan struct{}
}

// Watcher tails one file, emitting LogEntrys onto the bus for every new
// line (or, for claude-mcp-json, the whole re-parsed document) since the
// last activation.
type Watcher struct {
	agentID       string
	agentType     model.AgentType
	path          string
	format        model.LogFormat
	remoteVolume  bool
	pollInterval  time.Duration
	readBuffer    int
	levelFilters  map[model.Level]bool

	registry *parser.Registry
	b        bus.Bus
	logger   *logger.Logger

	mu    sync.Mutex
	state model.WatchedFile

	notifyCh <-chan struct{}
	done     chan struct{}
	closeOnce sync.Once
}

// Config configures a single Watcher.
type Config struct {
	AgentID      string
	AgentType    model.AgentType
	Path         string
	Format       model.LogFormat
	RemoteVolume bool
	PollInterval time.Duration
	ReadBuffer   int

	// LevelFilters is the agent's set of level names to retain. Empty
	// retains everything.
	LevelFilters []string
}

// New creates a Watcher for one (agent, path) pair. It does not start
// reading until Run is called.
func New(cfg Config, registry *parser.Registry, b bus.Bus, log *logger.Logger) *Watcher {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	readBuf := cfg.ReadBuffer
	if readBuf <= 0 {
		readBuf = 64 * 1024
	}
	var filters map[model.Level]bool
	if len(cfg.LevelFilters) > 0 {
		filters = make(map[model.Level]bool, len(cfg.LevelFilters))
		for _, lv := range cfg.LevelFilters {
			filters[model.Level(lv)] = true
		}
	}
	return &Watcher{
		agentID:      cfg.AgentID,
		agentType:    cfg.AgentType,
		path:         cfg.Path,
		format:       cfg.Format,
		remoteVolume: cfg.RemoteVolume,
		pollInterval: interval,
		readBuffer:   readBuf,
		levelFilters: filters,
		registry:     registry,
		b:            b,
		logger:       log.WithFields(zap.String("path", cfg.Path), zap.String("agent_id", cfg.AgentID)),
		state: model.WatchedFile{
			AgentID:   cfg.AgentID,
			Path:      cfg.Path,
			ParserKey: cfg.Format,
			Healthy:   true,
		},
		done: make(chan struct{}),
	}
}

// Path satisfies pathvalidator.WatcherCloser.
func (w *Watcher) Path() string { return w.path }

// Close stops the watcher's Run loop. Safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}

// State returns a snapshot of the watcher's runtime state.
func (w *Watcher) State() model.WatchedFile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SetNotifier wires an OS-change-notification channel for this path; Run
// selects on it in addition to its own poll ticker. Must be called before
// Run.
func (w *Watcher) SetNotifier(ch <-chan struct{}) {
	w.notifyCh = ch
}

// Run activates the watcher on startup, then on every poll tick and every
// notify signal, until ctx is cancelled or Close is called. It never
// returns an error: all failures are handled internally
func (w *Watcher) Run(ctx context.Context) {
	interval := w.pollInterval
	if !w.remoteVolume {
		// Non-remote paths poll at the same interval either way; the
		// ticker is only a backstop when a notifier is wired.
		if w.notifyCh != nil {
			w.mu.Lock()
			w.state.PollingFallbackActive = false
			w.mu.Unlock()
		} else {
			w.mu.Lock()
			w.state.PollingFallbackActive = true
			w.mu.Unlock()
		}
	} else {
		w.mu.Lock()
		w.state.PollingFallbackActive = true
		w.mu.Unlock()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.activate(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			if w.activate(ctx) == errTerminate {
				return
			}
		case _, ok := <-w.notifyCh:
			if !ok {
				w.notifyCh = nil
				continue
			}
			if w.activate(ctx) == errTerminate {
				return
			}
		}
	}
}

type activateResult int

const (
	activateOK activateResult = iota
	errTerminate
)

// activate performs one tailer activation: stat, detect
// truncation/rotation, read new bytes, dispatch to the parser registry,
// and publish resulting entries onto the bus.
func (w *Watcher) activate(ctx context.Context) activateResult {
	info, err := os.Stat(w.path)
	if err != nil {
		return w.onStatError(err)
	}

	w.mu.Lock()
	w.state.ErrorCount = 0
	offset := w.state.Offset
	w.mu.Unlock()

	size := info.Size()
	if size < offset {
		// Truncation or rotation: restart from the beginning.
		w.logger.Info("tailer: detected truncation, resetting offset")
		offset = 0
	}
	if size == offset && w.format != model.FormatClaudeMCPJSON {
		return activateOK
	}

	if w.format == model.FormatClaudeMCPJSON {
		return w.activateWholeFile(ctx)
	}

	return w.activateIncremental(ctx, offset, size)
}

func (w *Watcher) onStatError(statErr error) activateResult {
	w.mu.Lock()
	w.state.ErrorCount++
	count := w.state.ErrorCount
	w.mu.Unlock()

	if count >= model.MaxConsecutiveErrors {
		w.logger.Warn("tailer: path missing after repeated checks, terminating watcher", zap.Error(statErr))
		w.mu.Lock()
		w.state.Healthy = false
		w.mu.Unlock()
		w.b.PublishControl(context.Background(), &bus.ControlEvent{
			Type:      "path-invalid",
			AgentID:   w.agentID,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"path": w.path},
		})
		return errTerminate
	}
	return activateOK
}

// activateWholeFile implements the claude-mcp-json special case: the
// entire file is read and parsed as one JSON document on every
// activation.
func (w *Watcher) activateWholeFile(ctx context.Context) activateResult {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return w.onStatError(err)
	}

	pctx := w.parserContext()
	entries := w.registry.ParseBlob(pctx, w.format, data)
	for i := range entries {
		w.publish(ctx, &entries[i])
	}

	w.mu.Lock()
	w.state.Offset = int64(len(data))
	w.state.LastActivity = time.Now()
	w.state.SeenRecordCount = len(entries)
	w.mu.Unlock()
	return activateOK
}

// activateIncremental implements the line-oriented path: read [offset,
// size), split on line terminators, discard a trailing partial line
// (advancing offset only to the last complete newline), and parse each
// complete line.
func (w *Watcher) activateIncremental(ctx context.Context, offset, size int64) activateResult {
	f, err := os.Open(w.path)
	if err != nil {
		return w.onStatError(err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return w.onStatError(err)
	}

	buf := make([]byte, size-offset)
	n, err := readFull(f, buf)
	if err != nil {
		return w.onStatError(err)
	}
	buf = buf[:n]

	lastNewline := bytes.LastIndexByte(buf, '\n')
	var complete []byte
	var consumed int64
	if lastNewline < 0 {
		// No complete line yet; leave everything buffered for next time.
		complete = nil
		consumed = 0
	} else {
		complete = buf[:lastNewline+1]
		consumed = int64(lastNewline + 1)
	}

	pctx := w.parserContext()
	lines := splitLines(complete)
	for _, line := range lines {
		entry := w.registry.ParseLine(pctx, w.format, string(line))
		if entry == nil {
			continue
		}
		w.publish(ctx, entry)
	}

	w.mu.Lock()
	w.state.Offset = offset + consumed
	w.state.LastActivity = time.Now()
	w.mu.Unlock()
	return activateOK
}

func (w *Watcher) parserContext() parser.Context {
	return parser.Context{
		AgentID:   w.agentID,
		AgentType: w.agentType,
		FilePath:  w.path,
		Now:       time.Now().UTC(),
	}
}

// publish delivers entry onto the bus after applying the agent's level
// filter set. Each bus subscriber enforces its own bounded queue and
// overflow policy; a full queue under BlockThenDropOldest (the Storage
// Sink's policy) blocks the tailer for at most that subscriber's block
// timeout, and the other policies never block it.
func (w *Watcher) publish(ctx context.Context, entry *model.LogEntry) {
	if w.levelFilters != nil && !w.levelFilters[entry.Level] {
		return
	}
	w.b.PublishEntry(ctx, entry)
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func splitLines(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	raw := bytes.Split(data, []byte("\n"))
	out := make([][]byte, 0, len(raw))
	for _, line := range raw {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		out = append(out, line)
	}
	return out
}
