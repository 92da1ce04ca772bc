// Package treewatcher implements the Directory/Tree Watcher (C5): for
// each agent log path that is a directory, it either enumerates flat
// `.log` files or walks the known hierarchical layouts (VS Code/Cursor
// dated sessions, Claude CLI's mcp-logs-* cache), and emits one new
// watch per discovered file. Bursts of filesystem events are coalesced
// through a debounce timer before re-scanning.
package treewatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
)

// debounceDuration coalesces bursts of filesystem change events before
// re-scanning.
const debounceDuration = 300 * time.Millisecond

// Layout enumerates the known hierarchical file-discovery strategies for
// an agent's log directories.
type Layout string

const (
	LayoutFlat          Layout = "flat"
	LayoutVSCodeSession Layout = "vscode-session"
	LayoutClaudeCLI     Layout = "claude-cli"
)

// NewFileHandler is invoked once per discovered file, the first time a scan
// finds it; later scans do not report the same path again.
type NewFileHandler func(agentID, path string)

// Watcher walks one agent's directory roots on a schedule (fsnotify
// change + 2s poll for remote-volume roots) and reports newly discovered
// log files via onNewFile.
type Watcher struct {
	agentID      string
	roots        []rootSpec
	remoteVolume bool
	logger       *logger.Logger
	onNewFile    NewFileHandler

	fsWatcher *fsnotify.Watcher
	trigger   chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup

	mu   sync.Mutex
	seen map[string]bool
}

type rootSpec struct {
	path   string
	layout Layout
	ext    string
}

// New creates a Watcher for agentID. roots pairs each directory with the
// layout strategy to apply when scanning it.
func New(agentID string, log *logger.Logger, onNewFile NewFileHandler) *Watcher {
	return &Watcher{
		agentID:   agentID,
		logger:    log.WithFields(zap.String("component", "treewatcher"), zap.String("agent_id", agentID)),
		onNewFile: onNewFile,
		trigger:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		seen:      make(map[string]bool),
	}
}

// AddRoot registers a directory to watch under the given layout and file
// extension (".log" or ".txt").
func (w *Watcher) AddRoot(path string, layout Layout, ext string, remoteVolume bool) {
	w.roots = append(w.roots, rootSpec{path: path, layout: layout, ext: ext})
	if remoteVolume {
		w.remoteVolume = true
	}
}

// Run starts the watcher: an initial scan, an fsnotify-driven rescan on
// directory changes (best-effort; fsnotify setup failures degrade to
// poll-only), and a 2s poll for remote-volume roots, until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("treewatcher: fsnotify unavailable, falling back to poll-only", zap.Error(err))
	} else {
		w.fsWatcher = fw
		for _, r := range w.roots {
			if err := fw.Add(r.path); err != nil {
				w.logger.Debug("treewatcher: failed to watch root", zap.String("path", r.path), zap.Error(err))
			}
		}
	}

	w.scan()

	w.wg.Add(1)
	go w.debounceLoop(ctx)

	if w.fsWatcher != nil {
		w.wg.Add(1)
		go w.watchFSEvents(ctx)
	}

	var pollTicker *time.Ticker
	if w.remoteVolume {
		pollTicker = time.NewTicker(DefaultPollInterval)
		defer pollTicker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			w.Close()
			w.wg.Wait()
			return
		case <-w.stopCh:
			w.wg.Wait()
			return
		case <-tickerChan(pollTicker):
			w.triggerRescan()
		}
	}
}

// DefaultPollInterval matches the tailer's default remote-volume cadence.
const DefaultPollInterval = 2 * time.Second

func tickerChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// Close stops the watcher's goroutines.
func (w *Watcher) Close() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}
}

func (w *Watcher) watchFSEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case _, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.triggerRescan()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("treewatcher: fsnotify error", zap.Error(err))
		}
	}
}

func (w *Watcher) triggerRescan() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// debounceLoop coalesces bursts of triggerRescan calls into one scan
// after debounceDuration of quiet.
func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	var timer *time.Timer
	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.trigger:
			if timer == nil {
				timer = time.NewTimer(debounceDuration)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceDuration)
			}
		case <-timerC:
			w.scan()
			timer = nil
		}
	}
}

// scan walks every registered root per its layout and reports newly seen
// files to onNewFile.
func (w *Watcher) scan() {
	for _, r := range w.roots {
		var files []string
		switch r.layout {
		case LayoutVSCodeSession:
			files = scanVSCodeSessions(r.path, r.ext)
		case LayoutClaudeCLI:
			files = scanClaudeCLI(r.path)
		default:
			files = listFilesWithExt(r.path, r.ext)
		}
		w.reportNew(files)
	}
}

func (w *Watcher) reportNew(files []string) {
	w.mu.Lock()
	var fresh []string
	for _, f := range files {
		if !w.seen[f] {
			w.seen[f] = true
			fresh = append(fresh, f)
		}
	}
	w.mu.Unlock()

	for _, f := range fresh {
		w.onNewFile(w.agentID, f)
	}
}

// --- layout-specific scanning -------------------------------------------

func listFilesWithExt(dir, ext string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext == "" || filepath.Ext(e.Name()) == ext {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

func listDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

// scanVSCodeSessions re-walks the VS Code/Cursor session hierarchy every
// activation: newest top-level YYYYMMDDTHHMMSS directories, their root
// .log files, and window*/exthost/<extension> subtrees for MCP-flavored
// extensions.
func scanVSCodeSessions(root, ext string) []string {
	var files []string
	for _, session := range sessionDirsDescending(root) {
		files = append(files, listFilesWithExt(session, ext)...)
		for _, winDir := range subdirsMatching(session, []string{"window"}, nil) {
			exthost := filepath.Join(winDir, "exthost")
			files = append(files, listFilesWithExt(exthost, ext)...)
			for _, extDir := range subdirsMatching(exthost, []string{"anysphere."}, []string{"mcp", "retrieval", "memento", "review-gate"}) {
				files = append(files, listFilesWithExt(extDir, ext)...)
			}
		}
	}
	return files
}

// scanClaudeCLI re-walks project directories -> mcp-logs-* -> .txt files.
func scanClaudeCLI(root string) []string {
	var files []string
	for _, proj := range listDirs(root) {
		for _, md := range subdirsMatching(proj, []string{"mcp-logs-"}, nil) {
			files = append(files, listFilesWithExt(md, ".txt")...)
		}
	}
	return files
}
