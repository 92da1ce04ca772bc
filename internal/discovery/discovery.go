// Package discovery implements the Agent Discoverer (C2): it detects
// installed log-producing agents on the host, classifies their log
// format, and assembles AgentConfigs, merging in user-defined agents from
// the Custom Agent Store Adapter (C3) and filtering through the Path
// Validator (C12) before returning.
package discovery

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
	"github.com/akamalov/mcp-log-server-sub000/internal/pathvalidator"
)

// Options configures a discovery run.
type Options struct {
	EnableMock bool
	EnableReal bool
	MixedMode  bool
	ForceReal  bool
}

// CustomAgentSource is the subset of the Custom Agent Store Adapter (C3)
// the discoverer depends on.
type CustomAgentSource interface {
	ListCustomAgents(ctx context.Context) ([]model.AgentConfig, error)
}

// detector is a class-specific detection routine. Detector failures are
// caught per class by Discover and never abort discovery as a whole.
type detector func(ctx context.Context) ([]model.AgentConfig, error)

// Discoverer runs agent discovery across every known class.
type Discoverer struct {
	opts      Options
	custom    CustomAgentSource
	logger    *logger.Logger
	detectors []namedDetector
}

type namedDetector struct {
	name string
	fn   detector
}

// New creates a Discoverer. custom may be nil if no config DB is wired,
// in which case only auto-discovered agents are produced.
func New(opts Options, custom CustomAgentSource, log *logger.Logger) *Discoverer {
	// MixedMode runs the real detectors and the mock ones side by side;
	// ForceReal guarantees real detection even in a mock-only setup.
	if opts.MixedMode {
		opts.EnableMock = true
		opts.EnableReal = true
	}
	if opts.ForceReal {
		opts.EnableReal = true
	}
	d := &Discoverer{opts: opts, custom: custom, logger: log}
	if opts.EnableReal {
		d.detectors = []namedDetector{
			{"claude-desktop", detectClaudeDesktop},
			{"claude-mcp", detectClaudeMCP},
			{"claude-code-extension", detectClaudeCodeExtension},
			{"cursor", detectCursor},
			{"vscode", detectVSCode},
			{"gemini-cli", detectGeminiCLI},
		}
	}
	if opts.EnableMock {
		d.detectors = append(d.detectors, namedDetector{"mock", detectMockAgents})
	}
	return d
}

// Discover runs every class detector concurrently, merges the Claude
// sources per the priority rule, appends custom agents from C3, and
// drops any agent left with zero valid paths via the Path Validator.
func (d *Discoverer) Discover(ctx context.Context) ([]model.AgentConfig, error) {
	if !d.opts.EnableReal && !d.opts.ForceReal && !d.opts.EnableMock {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		byClass = make(map[string][]model.AgentConfig)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, nd := range d.detectors {
		nd := nd
		g.Go(func() error {
			cfgs, err := nd.fn(gctx)
			if err != nil {
				// Detector failures never abort discovery as a whole.
				d.logger.Warn("discovery: class detector failed",
					zap.String("class", nd.name), zap.Error(err))
				return nil
			}
			mu.Lock()
			byClass[nd.name] = cfgs
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	merged := mergeClaude(byClass)
	for _, class := range []string{"cursor", "vscode", "gemini-cli", "mock"} {
		merged = append(merged, byClass[class]...)
	}

	if d.custom != nil {
		customAgents, err := d.custom.ListCustomAgents(ctx)
		if err != nil {
			d.logger.Warn("discovery: failed to list custom agents", zap.Error(err))
		} else {
			merged = append(merged, customAgents...)
		}
	}

	valid := make([]model.AgentConfig, 0, len(merged))
	for i := range merged {
		cfg := merged[i]
		validCount, _ := pathvalidator.ValidatePaths(cfg.LogPaths)
		if validCount == 0 {
			cfg.Enabled = false
			d.logger.Info("discovery: dropping agent with zero valid paths",
				zap.String("agent_id", cfg.ID))
			continue
		}
		valid = append(valid, cfg)
	}

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].ID < valid[j].ID })
	return valid, nil
}

// mergeClaude applies the Claude priority rule: prefer claude-mcp if it
// yields >=5 log directories, else highest priority in the order
// claude-desktop -> claude-mcp -> claude-code-extension. All three are
// still surfaced (the priority rule only decides *discovery preference*,
// not exclusivity); the preferred source's configs carry a "preferred"
// metadata flag so downstream consumers can tell them apart.
func mergeClaude(byClass map[string][]model.AgentConfig) []model.AgentConfig {
	mcp := byClass["claude-mcp"]
	desktop := byClass["claude-desktop"]
	ext := byClass["claude-code-extension"]

	var preferred string
	if countLogDirs(mcp) >= 5 {
		preferred = "claude-mcp"
	} else if len(desktop) > 0 {
		preferred = "claude-desktop"
	} else if len(mcp) > 0 {
		preferred = "claude-mcp"
	} else {
		preferred = "claude-code-extension"
	}

	var out []model.AgentConfig
	for _, group := range []struct {
		name string
		cfgs []model.AgentConfig
	}{{"claude-desktop", desktop}, {"claude-mcp", mcp}, {"claude-code-extension", ext}} {
		for _, cfg := range group.cfgs {
			if group.name == preferred {
				cfg.SetMeta("preferred", true)
			}
			out = append(out, cfg)
		}
	}
	return out
}

func countLogDirs(cfgs []model.AgentConfig) int {
	n := 0
	for _, c := range cfgs {
		n += len(c.LogPaths)
	}
	return n
}
