// Package customstore implements the Custom Agent Store Adapter (C3): the
// boundary between the Agent Discoverer and the config database's
// custom_agents/log_sources table.
package customstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/dbconn"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// agentConfigMeta is the JSON shape stored in the config column:
// {logPaths, metadata, isCustom}.
type agentConfigMeta struct {
	LogPaths []string               `json:"logPaths"`
	Metadata map[string]interface{} `json:"metadata"`
	IsCustom bool                   `json:"isCustom"`
}

type customAgentRow struct {
	ID            string    `db:"id"`
	UserID        *string   `db:"user_id"`
	Name          string    `db:"name"`
	Type          string    `db:"type"`
	Config        string    `db:"config"`
	IsActive      bool      `db:"is_active"`
	AutoDiscovery bool      `db:"auto_discovery"`
	LogPaths      string    `db:"log_paths"` // JSON-encoded string array, stored as TEXT in both dialects
	FormatType    string    `db:"format_type"`
	Filters       string    `db:"filters"`
	Metadata      string    `db:"metadata"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Store implements discovery.CustomAgentSource against the config DB.
type Store struct {
	pool   *dbconn.Pool
	logger *logger.Logger
}

func New(pool *dbconn.Pool, log *logger.Logger) *Store {
	return &Store{pool: pool, logger: log}
}

// ListCustomAgents returns every active custom agent row as an
// AgentConfig, satisfying discovery.CustomAgentSource.
func (s *Store) ListCustomAgents(ctx context.Context) ([]model.AgentConfig, error) {
	reader := s.pool.Reader()

	query := `SELECT id, user_id, name, type, config, is_active, auto_discovery,
	                 log_paths, format_type, filters, metadata, created_at, updated_at
	          FROM custom_agents WHERE is_active = ?`

	var rows []customAgentRow
	if err := reader.SelectContext(ctx, &rows, reader.Rebind(query), true); err != nil {
		return nil, fmt.Errorf("list custom agents: %w", err)
	}

	configs := make([]model.AgentConfig, 0, len(rows))
	for _, r := range rows {
		cfg, err := toAgentConfig(r)
		if err != nil {
			s.logger.Warn("customstore: skipping malformed row", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func toAgentConfig(r customAgentRow) (model.AgentConfig, error) {
	var paths []string
	if err := json.Unmarshal([]byte(r.LogPaths), &paths); err != nil {
		return model.AgentConfig{}, fmt.Errorf("decode log_paths: %w", err)
	}
	if len(paths) == 0 {
		return model.AgentConfig{}, fmt.Errorf("custom agent %s has no log paths", r.ID)
	}

	var meta map[string]interface{}
	_ = json.Unmarshal([]byte(r.Metadata), &meta)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["isCustom"] = true
	if r.UserID != nil {
		meta["userID"] = *r.UserID
	}

	var levelFilters []string
	var filters struct {
		Levels []string `json:"levels"`
	}
	if err := json.Unmarshal([]byte(r.Filters), &filters); err == nil {
		levelFilters = filters.Levels
	}

	typ := model.AgentType(r.Type)
	if !typ.IsCustom() {
		typ = model.AgentType("custom-" + r.Type)
	}

	return model.AgentConfig{
		ID:            r.ID,
		Name:          r.Name,
		Type:          typ,
		Enabled:       r.IsActive,
		LogPaths:      paths,
		LogFormat:     model.LogFormat(r.FormatType),
		LevelFilters:  levelFilters,
		Metadata:      meta,
		AutoDiscovery: r.AutoDiscovery,
	}, nil
}

// UpsertDiscovered persists a discoverer-produced AgentConfig as a custom
// agent row, keyed on the (coalesce(user_id,''), name) unique index.
func (s *Store) UpsertDiscovered(ctx context.Context, cfg model.AgentConfig) error {
	writer := s.pool.Writer()

	paths, err := json.Marshal(cfg.LogPaths)
	if err != nil {
		return fmt.Errorf("marshal log_paths: %w", err)
	}
	meta, err := json.Marshal(agentConfigMeta{LogPaths: cfg.LogPaths, Metadata: cfg.Metadata, IsCustom: true})
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	filters, err := json.Marshal(map[string]interface{}{"levels": cfg.LevelFilters})
	if err != nil {
		return fmt.Errorf("marshal filters: %w", err)
	}

	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()

	query := `INSERT INTO custom_agents
	            (id, name, type, config, is_active, auto_discovery, log_paths, format_type, filters, metadata, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT ((COALESCE(user_id, '')), name) DO UPDATE SET
	            config = excluded.config, is_active = excluded.is_active,
	            log_paths = excluded.log_paths, format_type = excluded.format_type,
	            filters = excluded.filters, metadata = excluded.metadata, updated_at = excluded.updated_at`

	_, err = writer.ExecContext(ctx, writer.Rebind(query),
		id, cfg.Name, string(cfg.Type), string(meta), cfg.Enabled, cfg.AutoDiscovery,
		string(paths), string(cfg.LogFormat), string(filters), string(meta), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert custom agent %s: %w", cfg.Name, err)
	}
	return nil
}
