package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/bus"
	"github.com/akamalov/mcp-log-server-sub000/internal/config"
	"github.com/akamalov/mcp-log-server-sub000/internal/discovery"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
	"github.com/akamalov/mcp-log-server-sub000/internal/parser"
	"github.com/akamalov/mcp-log-server-sub000/internal/pathvalidator"
	"github.com/akamalov/mcp-log-server-sub000/internal/tailer"
	"github.com/akamalov/mcp-log-server-sub000/internal/treewatcher"
)

// pipeline owns the ingestion half of the process: agent discovery, one
// tailer per watched file, one tree watcher per agent with directory
// roots, and the path validator that evicts watchers whose path has gone
// away. Everything it starts publishes into the shared bus.
type pipeline struct {
	cfg       *config.Config
	log       *logger.Logger
	b         bus.Bus
	registry  *parser.Registry
	custom    discovery.CustomAgentSource
	validator *pathvalidator.Validator

	mu      sync.RWMutex
	tailers map[string]*tailer.Watcher
	agents  map[string]model.AgentConfig

	wg sync.WaitGroup
}

func newPipeline(cfg *config.Config, b bus.Bus, custom discovery.CustomAgentSource, log *logger.Logger) *pipeline {
	p := &pipeline{
		cfg:      cfg,
		log:      log.WithFields(zap.String("component", "pipeline")),
		b:        b,
		registry: parser.NewRegistry(),
		custom:   custom,
		tailers:  make(map[string]*tailer.Watcher),
		agents:   make(map[string]model.AgentConfig),
	}
	p.validator = pathvalidator.New(cfg.Tailer.ValidateEvery, p.onPathRemoved, log)
	return p
}

// run discovers agents, attaches watchers for every log path, and blocks
// until ctx is cancelled. Watchers keep running in the background; the
// path validator evicts the ones whose paths disappear.
func (p *pipeline) run(ctx context.Context) error {
	opts := discovery.Options{
		EnableMock: p.cfg.Discovery.EnableMock,
		EnableReal: p.cfg.Discovery.EnableReal,
		MixedMode:  p.cfg.Discovery.MixedMode,
		ForceReal:  p.cfg.Discovery.ForceReal,
	}
	d := discovery.New(opts, p.custom, p.log)
	agents, err := d.Discover(ctx)
	if err != nil {
		return err
	}
	p.log.Info("agent discovery complete", zap.Int("agents", len(agents)))

	for _, agent := range agents {
		p.startAgent(ctx, agent)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.validator.Run(ctx)
	}()

	<-ctx.Done()
	p.wg.Wait()
	return nil
}

func (p *pipeline) startAgent(ctx context.Context, agent model.AgentConfig) {
	if !agent.Enabled {
		return
	}
	p.mu.Lock()
	p.agents[agent.ID] = agent
	p.mu.Unlock()

	tree := treewatcher.New(agent.ID, p.log, func(agentID, path string) {
		p.addTailer(ctx, agent, path)
	})
	haveRoots := false

	for _, path := range agent.LogPaths {
		info, err := os.Stat(path)
		if err != nil {
			p.log.Warn("pipeline: skipping unreadable log path",
				zap.String("agent_id", agent.ID), zap.String("path", path), zap.Error(err))
			continue
		}
		if info.IsDir() {
			layout, ext := layoutFor(agent)
			tree.AddRoot(path, layout, ext, isRemoteVolumePath(path, agent))
			haveRoots = true
			continue
		}
		p.addTailer(ctx, agent, path)
	}

	if haveRoots {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			tree.Run(ctx)
		}()
	}
}

// addTailer creates (at most once per canonical path) a tailer watcher and
// registers it with the path validator.
func (p *pipeline) addTailer(ctx context.Context, agent model.AgentConfig, path string) {
	canonical, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		canonical = filepath.Clean(path)
	}

	p.mu.Lock()
	if _, exists := p.tailers[canonical]; exists {
		p.mu.Unlock()
		return
	}
	w := tailer.New(tailer.Config{
		AgentID:      agent.ID,
		AgentType:    agent.Type,
		Path:         canonical,
		Format:       formatForFile(agent, canonical),
		RemoteVolume: isRemoteVolumePath(canonical, agent),
		PollInterval: p.cfg.Tailer.PollInterval,
		ReadBuffer:   p.cfg.Tailer.ReadBufferBytes,
		LevelFilters: agent.LevelFilters,
	}, p.registry, p.b, p.log)
	p.tailers[canonical] = w
	p.mu.Unlock()

	p.validator.Register(w)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		w.Run(ctx)
		p.mu.Lock()
		delete(p.tailers, canonical)
		p.mu.Unlock()
		p.validator.Unregister(canonical)
	}()
}

// onPathRemoved publishes the validator's eviction as a control event so
// subscribers observe watcher deaths on the same stream as log entries.
func (p *pipeline) onPathRemoved(r pathvalidator.Removal) {
	p.mu.Lock()
	delete(p.tailers, r.Path)
	p.mu.Unlock()

	p.b.PublishControl(context.Background(), &bus.ControlEvent{
		Type:      "path-removed",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"path": r.Path, "reason": r.Reason},
	})
}

// watchedFileCount reports how many tailers are currently running.
func (p *pipeline) watchedFileCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tailers)
}

// layoutFor picks the directory-walking strategy for an agent's directory
// roots from its type and declared format.
func layoutFor(agent model.AgentConfig) (treewatcher.Layout, string) {
	switch {
	case agent.Type == model.AgentClaudeMCP || agent.LogFormat == model.FormatClaudeMCPJSON:
		return treewatcher.LayoutClaudeCLI, ".txt"
	case agent.Type == model.AgentCursor || agent.Type == model.AgentVSCode || agent.Type == model.AgentClaudeCode:
		return treewatcher.LayoutVSCodeSession, ".log"
	case agent.Type.IsCustom():
		// Custom agents enumerate whatever the directory holds.
		return treewatcher.LayoutFlat, ""
	default:
		return treewatcher.LayoutFlat, ".log"
	}
}

// formatForFile maps a discovered file to its parser key. Mixed-format
// agents (Cursor) keep their declared format; the registry resolves the
// per-line shape.
func formatForFile(agent model.AgentConfig, path string) model.LogFormat {
	if agent.LogFormat == model.FormatClaudeMCPJSON && filepath.Ext(path) != ".txt" {
		return model.FormatJSON
	}
	return agent.LogFormat
}

// isRemoteVolumePath forces the unconditional polling fallback for paths
// living on a mounted foreign-OS filesystem, where change notifications
// are unreliable.
func isRemoteVolumePath(path string, agent model.AgentConfig) bool {
	if agent.MetaBool("isWSL") && strings.HasPrefix(path, "/mnt/") {
		return true
	}
	return strings.HasPrefix(path, "/mnt/c/") || strings.HasPrefix(path, "/mnt/d/") ||
		strings.HasPrefix(path, "/mnt/e/") || strings.HasPrefix(path, "/mnt/f/")
}
