package forwarder

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/bus"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// target owns the persistent connection (TCP/TCP-TLS) or stateless sender
// (UDP) for one ForwarderConfig, plus its compiled filter.
type target struct {
	mu      sync.Mutex
	cfg     *model.ForwarderConfig
	conn    net.Conn
	backoff time.Duration
	retryAt time.Time
	regexps []*regexp.Regexp
	logger  *logger.Logger
}

func newTarget(cfg *model.ForwarderConfig, log *logger.Logger) *target {
	t := &target{
		cfg:     cfg,
		backoff: reconnectBaseDelay,
		logger:  log.WithFields(zap.String("forwarder_id", cfg.ID), zap.String("forwarder_name", cfg.Name)),
	}
	t.compileFilters()
	return t
}

func (t *target) compileFilters() {
	t.regexps = t.regexps[:0]
	for _, pattern := range t.cfg.Filters.MessageRegexp {
		re, err := regexp.Compile(pattern)
		if err != nil {
			t.logger.Warn("forwarder: skipping invalid message filter", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		t.regexps = append(t.regexps, re)
	}
}

// accepts evaluates all three filter dimensions: an empty
// dimension always passes.
func (t *target) accepts(entry *model.LogEntry) bool {
	if len(t.cfg.Filters.AgentIDs) > 0 {
		agentID := agentIDFromEntry(entry)
		if !containsString(t.cfg.Filters.AgentIDs, agentID) {
			return false
		}
	}
	if len(t.cfg.Filters.Levels) > 0 && !containsString(t.cfg.Filters.Levels, string(entry.Level)) {
		return false
	}
	if len(t.regexps) > 0 {
		matched := false
		for _, re := range t.regexps {
			if re.MatchString(entry.Message) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func agentIDFromEntry(entry *model.LogEntry) string {
	if i := strings.LastIndex(entry.ID, "-"); i >= 0 {
		return entry.ID[:i]
	}
	return entry.ID
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// send transmits one already-formatted frame, connecting (or reconnecting,
// with exponential backoff) for TCP/TCP-TLS, or opening a short-lived
// socket for UDP.
func (t *target) send(frame string) error {
	switch t.cfg.Protocol {
	case model.ProtocolUDP:
		return t.sendUDP(frame)
	default:
		return t.sendStream(frame)
	}
}

func (t *target) sendUDP(frame string) error {
	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprintf("%d", t.cfg.Port))
	conn, err := net.DialTimeout("udp", addr, testTimeout(model.ProtocolUDP))
	if err != nil {
		return fmt.Errorf("forwarder %s: dial udp: %w", t.cfg.ID, err)
	}
	defer conn.Close()
	_, err = conn.Write([]byte(frame))
	return err
}

func (t *target) sendStream(frame string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		if err := t.connectLocked(); err != nil {
			return err
		}
	}

	payload := FrameTCP(frame)
	_, err := t.conn.Write([]byte(payload))
	if err != nil {
		t.conn.Close()
		t.conn = nil
		return fmt.Errorf("forwarder %s: write: %w", t.cfg.ID, err)
	}
	t.backoff = reconnectBaseDelay
	return nil
}

func (t *target) connectLocked() error {
	if now := time.Now(); now.Before(t.retryAt) {
		return fmt.Errorf("forwarder %s: reconnect backoff, next attempt in %s", t.cfg.ID, t.retryAt.Sub(now))
	}
	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprintf("%d", t.cfg.Port))
	var conn net.Conn
	var err error
	if t.cfg.Protocol == model.ProtocolTCPTLS {
		dialer := &net.Dialer{Timeout: testTimeout(t.cfg.Protocol)}
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: t.cfg.Host})
	} else {
		conn, err = net.DialTimeout("tcp", addr, testTimeout(t.cfg.Protocol))
	}
	if err != nil {
		wait := t.backoff
		t.retryAt = time.Now().Add(wait)
		t.backoff *= 2
		if t.backoff > reconnectMaxDelay {
			t.backoff = reconnectMaxDelay
		}
		t.logger.Warn("forwarder: connect failed, will retry with backoff",
			zap.Error(err), zap.Duration("next_backoff", wait))
		return fmt.Errorf("forwarder %s: dial %s: %w", t.cfg.ID, t.cfg.Protocol, err)
	}
	t.conn = conn
	return nil
}

func (t *target) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

func (t *target) updateConfig(cfg *model.ForwarderConfig) {
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	t.compileFilters()
}

var (
	reconnectBaseDelay = 100 * time.Millisecond
	reconnectMaxDelay  = 5 * time.Second
)

// ErrNotFound is returned by Update/Remove for an unknown forwarder id.
var ErrNotFound = errors.New("forwarder: not found")

// Manager owns the live set of syslog forwarders: it subscribes to the
// Ingestion Bus, evaluates each target's filters, formats and transmits
// matching entries, and persists the forwarder set to disk.
type Manager struct {
	logger   *logger.Logger
	b        bus.Bus
	hostname string
	store    *Store

	mu      sync.RWMutex
	targets map[string]*target

	sub bus.Subscription
}

// NewManager creates a Manager backed by the given persistence path. Call
// Start to subscribe to the bus and load any persisted forwarders.
func NewManager(b bus.Bus, persistencePath string, reconnectBase, reconnectMax time.Duration, log *logger.Logger) *Manager {
	if reconnectBase > 0 {
		reconnectBaseDelay = reconnectBase
	}
	if reconnectMax > 0 {
		reconnectMaxDelay = reconnectMax
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "loglensd"
	}
	return &Manager{
		logger:   log.WithFields(zap.String("component", "syslog-forwarder")),
		b:        b,
		hostname: hostname,
		store:    NewStore(persistencePath),
		targets:  make(map[string]*target),
	}
}

// Start loads the persisted forwarder set (missing file is not an error)
// and subscribes to the Ingestion Bus with a drop-oldest overflow policy
//.
func (m *Manager) Start(ctx context.Context) error {
	configs, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("forwarder: loading persisted set: %w", err)
	}
	m.mu.Lock()
	for _, cfg := range configs {
		cfg := cfg
		m.targets[cfg.ID] = newTarget(cfg, m.logger)
	}
	m.mu.Unlock()

	m.sub = m.b.Subscribe("syslog-forwarder", 1024, bus.DropOldest, 0, m.onEntry)
	return nil
}

// Shutdown closes every open socket and unsubscribes from the bus.
func (m *Manager) Shutdown() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.targets {
		t.close()
	}
}

func (m *Manager) onEntry(ctx context.Context, entry *model.LogEntry) {
	m.mu.RLock()
	targets := make([]*target, 0, len(m.targets))
	for _, t := range m.targets {
		if t.cfg.Enabled {
			targets = append(targets, t)
		}
	}
	m.mu.RUnlock()

	for _, t := range targets {
		if !t.accepts(entry) {
			continue
		}
		frame := Format(t.cfg, entry, m.hostname)
		if err := t.send(frame); err != nil {
			m.logger.Warn("forwarder: send failed", zap.String("forwarder_id", t.cfg.ID), zap.Error(err))
		}
	}
}

// Add registers a new forwarder, persists the set, and (if enabled) opens
// its connection lazily on first matching entry.
func (m *Manager) Add(cfg *model.ForwarderConfig) error {
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	m.mu.Lock()
	m.targets[cfg.ID] = newTarget(cfg, m.logger)
	m.mu.Unlock()
	return m.persist()
}

// Update replaces an existing forwarder's configuration in place, without
// dropping an already-open TCP connection unless the endpoint changed.
func (m *Manager) Update(cfg *model.ForwarderConfig) error {
	m.mu.Lock()
	t, ok := m.targets[cfg.ID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	cfg.UpdatedAt = time.Now().UTC()
	endpointChanged := t.cfg.Host != cfg.Host || t.cfg.Port != cfg.Port || t.cfg.Protocol != cfg.Protocol
	t.updateConfig(cfg)
	m.mu.Unlock()

	if endpointChanged {
		t.close()
	}
	return m.persist()
}

// Remove closes the target's socket, drops it from the set, and persists.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	t, ok := m.targets[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.targets, id)
	m.mu.Unlock()

	t.close()
	return m.persist()
}

// Get returns the config for id, or ErrNotFound.
func (m *Manager) Get(id string) (*model.ForwarderConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.cfg, nil
}

// List returns every forwarder's current configuration.
func (m *Manager) List() []*model.ForwarderConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.ForwarderConfig, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, t.cfg)
	}
	return out
}

func (m *Manager) persist() error {
	return m.store.Save(m.List())
}

// TestConnection performs a latency-reported reachability check against
// host:port for proto (2s for udp, 5s for tcp and tcp-tls).
func TestConnection(host string, port int, proto model.Protocol) (time.Duration, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	timeout := testTimeout(proto)
	start := time.Now()

	network := "tcp"
	if proto == model.ProtocolUDP {
		network = "udp"
	}

	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return time.Since(start), fmt.Errorf("test_connection: %w", err)
	}
	defer conn.Close()

	if proto == model.ProtocolTCPTLS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
		tlsConn.SetDeadline(time.Now().Add(timeout))
		if err := tlsConn.Handshake(); err != nil {
			return time.Since(start), fmt.Errorf("test_connection: tls handshake: %w", err)
		}
	}
	return time.Since(start), nil
}
