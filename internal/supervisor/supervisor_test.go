package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamalov/mcp-log-server-sub000/internal/bus"
	"github.com/akamalov/mcp-log-server-sub000/internal/config"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

func defaults() config.SupervisorConfig {
	return config.SupervisorConfig{
		DefaultHealthInterval: 50 * time.Millisecond,
		DefaultMaxFailures:    3,
		DefaultRestartDelay:   10 * time.Millisecond,
	}
}

type controlCollector struct {
	mu     sync.Mutex
	events []*bus.ControlEvent
}

func (c *controlCollector) handle(ctx context.Context, e *bus.ControlEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *controlCollector) typesSeen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func TestSupervisor_HTTPCheckHealthyOnOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()
	s := New(b, config.DockerConfig{}, defaults(), logger.Default())
	defer s.Close()

	cfg := &model.ServiceConfig{ID: "svc1", Type: model.ServiceHTTP, URL: srv.URL}
	healthy, reason := s.check(context.Background(), cfg)
	assert.True(t, healthy)
	assert.Empty(t, reason)
}

func TestSupervisor_HTTPCheckUnhealthyOn500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()
	s := New(b, config.DockerConfig{}, defaults(), logger.Default())
	defer s.Close()

	cfg := &model.ServiceConfig{ID: "svc1", Type: model.ServiceHTTP, URL: srv.URL}
	healthy, reason := s.check(context.Background(), cfg)
	assert.False(t, healthy)
	assert.NotEmpty(t, reason)
}

func TestSupervisor_PortCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()
	s := New(b, config.DockerConfig{}, defaults(), logger.Default())
	defer s.Close()

	addr := srv.Listener.Addr().String()
	cfg := &model.ServiceConfig{ID: "svc1", Type: model.ServicePort, HostPort: addr}
	healthy, _ := s.check(context.Background(), cfg)
	assert.True(t, healthy)

	cfgBad := &model.ServiceConfig{ID: "svc2", Type: model.ServicePort, HostPort: "127.0.0.1:1"}
	healthy, reason := s.check(context.Background(), cfgBad)
	assert.False(t, healthy)
	assert.NotEmpty(t, reason)
}

// TestSupervisor_RestartAtExactFailureBoundary drives a fake "docker"
// service through running->exited with max_failures=3 and
// health_interval=1 tick, asserting the restart fires exactly once, at
// the failure_count==max_failures boundary, with service-unhealthy then
// service-restarting emitted in order.
func TestSupervisor_RestartAtExactFailureBoundary(t *testing.T) {
	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()

	collector := &controlCollector{}
	b.SubscribeControl("test-collector", collector.handle)

	s := New(b, config.DockerConfig{}, config.SupervisorConfig{
		DefaultHealthInterval: 10 * time.Millisecond,
		DefaultMaxFailures:    3,
		DefaultRestartDelay:   5 * time.Millisecond,
	}, logger.Default())
	defer s.Close()

	var containerState atomic.Value
	containerState.Store("running")
	var restartCount int32

	s.SetChecker(func(ctx context.Context, cfg *model.ServiceConfig) (bool, string) {
		state := containerState.Load().(string)
		if state != "running" {
			return false, fmt.Sprintf("container state is %q", state)
		}
		return true, ""
	})
	s.SetRestarter(func(ctx context.Context, cfg *model.ServiceConfig) error {
		atomic.AddInt32(&restartCount, 1)
		containerState.Store("running")
		return nil
	})

	cfg := &model.ServiceConfig{ID: "svc1", Name: "collector", Type: model.ServiceDocker, ContainerName: "collector"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.AddService(ctx, cfg)
	time.Sleep(30 * time.Millisecond)
	status, ok := s.Status(cfg.ID)
	require.True(t, ok)
	assert.Equal(t, model.StateHealthy, status.State)

	containerState.Store("exited")
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&restartCount))

	types := collector.typesSeen()
	assert.Contains(t, types, "service-unhealthy")
	assert.Contains(t, types, "service-restarting")

	var unhealthyIdx, restartingIdx = -1, -1
	for i, typ := range types {
		if typ == "service-unhealthy" && unhealthyIdx == -1 {
			unhealthyIdx = i
		}
		if typ == "service-restarting" && restartingIdx == -1 {
			restartingIdx = i
		}
	}
	assert.Less(t, unhealthyIdx, restartingIdx)
}

func TestSupervisor_FailureCountResetsOnSuccess(t *testing.T) {
	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()

	s := New(b, config.DockerConfig{}, defaults(), logger.Default())
	defer s.Close()

	var healthy atomic.Bool
	healthy.Store(true)
	s.SetChecker(func(ctx context.Context, cfg *model.ServiceConfig) (bool, string) {
		if healthy.Load() {
			return true, ""
		}
		return false, "down"
	})

	cfg := &model.ServiceConfig{ID: "svc1", Type: model.ServiceHTTP, HealthInterval: 10 * time.Millisecond, MaxFailures: 5}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.AddService(ctx, cfg)

	time.Sleep(25 * time.Millisecond)
	healthy.Store(false)
	time.Sleep(25 * time.Millisecond)
	healthy.Store(true)
	time.Sleep(25 * time.Millisecond)

	status, ok := s.Status(cfg.ID)
	require.True(t, ok)
	assert.Equal(t, 0, status.FailureCount)
	assert.Equal(t, model.StateHealthy, status.State)
}

func TestSupervisor_RemoveServiceStopsLoop(t *testing.T) {
	b := bus.NewMemoryBus(logger.Default())
	defer b.Close()
	s := New(b, config.DockerConfig{}, defaults(), logger.Default())
	defer s.Close()

	s.SetChecker(func(ctx context.Context, cfg *model.ServiceConfig) (bool, string) { return true, "" })

	cfg := &model.ServiceConfig{ID: "svc1", Type: model.ServiceHTTP, HealthInterval: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.AddService(ctx, cfg)
	time.Sleep(20 * time.Millisecond)

	s.RemoveService(cfg.ID)
	_, ok := s.Status(cfg.ID)
	assert.False(t, ok)
}
