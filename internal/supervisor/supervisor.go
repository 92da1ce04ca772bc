// Package supervisor implements the Service Supervisor (C11): periodic
// health checks over docker/process/http/port dependencies, a
// unknown/starting/healthy/unhealthy/stopped state machine per service,
// and restart-on-repeated-failure, emitting service-healthy/unhealthy
// control events on the Ingestion Bus.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/bus"
	"github.com/akamalov/mcp-log-server-sub000/internal/config"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

const (
	dockerCheckTimeout  = 5 * time.Second
	httpCheckTimeout    = 10 * time.Second
	portCheckTimeout    = 5 * time.Second
	processProbeTimeout = 5 * time.Second
)

// entry tracks one supervised service's config, status, and cancellation.
type entry struct {
	cfg    *model.ServiceConfig
	status *model.ServiceStatus
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Supervisor runs one health-check loop per registered service and drives
// its state machine independently of the others.
type Supervisor struct {
	logger     *logger.Logger
	b          bus.Bus
	docker     *dockerClient
	httpClient *http.Client
	defaults   config.SupervisorConfig

	mu       sync.RWMutex
	services map[string]*entry
	wg       sync.WaitGroup

	checker   func(ctx context.Context, cfg *model.ServiceConfig) (bool, string)
	restarter func(ctx context.Context, cfg *model.ServiceConfig) error
}

// New creates a Supervisor. A Docker client construction failure is not
// fatal: it is logged, no client is kept, and "docker"-kind checks report
// unhealthy for the Supervisor's lifetime. A client built while no daemon
// is running reports unhealthy until the daemon becomes reachable. This
// mirrors the ambient stack's graceful-degrade convention for optional
// external dependencies.
func New(b bus.Bus, dockerCfg config.DockerConfig, defaults config.SupervisorConfig, log *logger.Logger) *Supervisor {
	l := log.WithFields(zap.String("component", "service-supervisor"))

	dc, err := newDockerClient(dockerCfg, l)
	if err != nil {
		l.Warn("supervisor: docker client unavailable, docker-kind checks will report unhealthy", zap.Error(err))
		dc = nil
	}

	s := &Supervisor{
		logger:     l,
		b:          b,
		docker:     dc,
		httpClient: &http.Client{},
		defaults:   defaults,
		services:   make(map[string]*entry),
	}
	s.checker = s.check
	s.restarter = s.invokeRestart
	return s
}

// SetChecker overrides the health-check implementation, for tests that
// need to drive the state machine without a real Docker daemon, HTTP
// endpoint, or OS process.
func (s *Supervisor) SetChecker(fn func(ctx context.Context, cfg *model.ServiceConfig) (bool, string)) {
	s.checker = fn
}

// SetRestarter overrides the restart-command invocation, for tests that
// need to observe/count restart attempts without a real Docker daemon or
// subprocess.
func (s *Supervisor) SetRestarter(fn func(ctx context.Context, cfg *model.ServiceConfig) error) {
	s.restarter = fn
}

// Close releases the Docker client, if one was created.
func (s *Supervisor) Close() {
	if s.docker != nil {
		s.docker.Close()
	}
}

// AddService registers cfg and starts its health-check loop. Zero-valued
// HealthInterval/MaxFailures/RestartDelay fall back to the supervisor's
// configured defaults.
func (s *Supervisor) AddService(ctx context.Context, cfg *model.ServiceConfig) {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = s.defaults.DefaultHealthInterval
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = s.defaults.DefaultMaxFailures
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = s.defaults.DefaultRestartDelay
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e := &entry{
		cfg:    cfg,
		status: &model.ServiceStatus{ServiceID: cfg.ID, State: model.StateUnknown},
		cancel: cancel,
	}

	s.mu.Lock()
	if old, ok := s.services[cfg.ID]; ok {
		old.cancel()
	}
	s.services[cfg.ID] = e
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(loopCtx, e)
}

// RemoveService stops the health-check loop for id and drops its status.
func (s *Supervisor) RemoveService(id string) {
	s.mu.Lock()
	e, ok := s.services[id]
	if ok {
		delete(s.services, id)
	}
	s.mu.Unlock()
	if ok {
		e.cancel()
	}
}

// Status returns the current observed status for id, if registered.
func (s *Supervisor) Status(id string) (model.ServiceStatus, bool) {
	s.mu.RLock()
	e, ok := s.services[id]
	s.mu.RUnlock()
	if !ok {
		return model.ServiceStatus{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.status, true
}

// Shutdown stops every health-check loop and waits for them to exit.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for _, e := range s.services {
		e.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Supervisor) runLoop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkOnce(ctx, e)
		}
	}
}

// checkOnce runs one health check, updates failure accounting and the
// state machine, and triggers a restart at the failure_count==max_failures
// boundary.
func (s *Supervisor) checkOnce(ctx context.Context, e *entry) {
	start := time.Now()
	healthy, reason := s.checker(ctx, e.cfg)
	elapsed := time.Since(start)

	e.mu.Lock()
	prevState := e.status.State
	e.status.LastCheck = time.Now().UTC()
	e.status.ResponseTime = elapsed

	if healthy {
		e.status.FailureCount = 0
		e.status.LastError = ""
		if prevState != model.StateHealthy {
			e.status.State = model.StateHealthy
		}
	} else if prevState != model.StateStarting {
		e.status.FailureCount++
		e.status.LastError = reason
		if e.status.FailureCount >= e.cfg.MaxFailures {
			e.status.State = model.StateStarting
		} else {
			e.status.State = model.StateUnhealthy
		}
	}
	newState := e.status.State
	failureCount := e.status.FailureCount
	e.mu.Unlock()

	if prevState != model.StateHealthy && newState == model.StateHealthy {
		s.emit(ctx, "service-healthy", e.cfg.ID)
	} else if prevState == model.StateHealthy && newState != model.StateHealthy {
		s.emit(ctx, "service-unhealthy", e.cfg.ID)
	}

	if newState == model.StateStarting && failureCount >= e.cfg.MaxFailures {
		s.restart(ctx, e)
	}
}

func (s *Supervisor) emit(ctx context.Context, eventType, serviceID string) {
	s.b.PublishControl(ctx, &bus.ControlEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      map[string]interface{}{"service_id": serviceID},
	})
}

// restart invokes the restart command for e.cfg's kind, waits
// restart_delay, and resets failure_count regardless of outcome; a
// restart error leaves the service unhealthy with the error recorded.
func (s *Supervisor) restart(ctx context.Context, e *entry) {
	s.emit(ctx, "service-restarting", e.cfg.ID)

	err := s.restarter(ctx, e.cfg)

	select {
	case <-time.After(e.cfg.RestartDelay):
	case <-ctx.Done():
	}

	e.mu.Lock()
	e.status.FailureCount = 0
	e.status.RestartCount++
	if err != nil {
		e.status.State = model.StateUnhealthy
		e.status.LastError = err.Error()
	}
	e.mu.Unlock()

	if err != nil {
		s.logger.Error("supervisor: restart failed", zap.String("service_id", e.cfg.ID), zap.Error(err))
	}
}

func (s *Supervisor) invokeRestart(ctx context.Context, cfg *model.ServiceConfig) error {
	switch cfg.Type {
	case model.ServiceDocker:
		if s.docker == nil {
			return fmt.Errorf("supervisor: no docker client available")
		}
		if cfg.UseComposeRestart {
			name := cfg.ComposeService
			if name == "" {
				name = cfg.ContainerName
			}
			cmd := exec.CommandContext(ctx, "docker-compose", "restart", name)
			return cmd.Run()
		}
		return s.docker.restart(ctx, cfg.ContainerName, cfg.RestartDelay)
	case model.ServiceProcess:
		return restartProcess(ctx, cfg)
	default:
		return fmt.Errorf("supervisor: no restart mechanism for kind %q", cfg.Type)
	}
}

func restartProcess(ctx context.Context, cfg *model.ServiceConfig) error {
	if cfg.ProcessName != "" {
		_ = exec.CommandContext(ctx, "pkill", "-f", cfg.ProcessName).Run()
	} else if pid, ok := pidFromFile(cfg.PIDFile); ok {
		if proc, err := os.FindProcess(pid); err == nil {
			_ = proc.Kill()
		}
	}

	if len(cfg.RestartCommand) == 0 {
		return fmt.Errorf("supervisor: process service %q has no restart_command configured", cfg.ID)
	}
	cmd := exec.Command(cfg.RestartCommand[0], cfg.RestartCommand[1:]...)
	return cmd.Start()
}

// check dispatches to the health-check implementation for cfg.Type and
// returns whether the service is healthy, plus a reason when
// it is not.
func (s *Supervisor) check(ctx context.Context, cfg *model.ServiceConfig) (bool, string) {
	switch cfg.Type {
	case model.ServiceDocker:
		return s.checkDocker(ctx, cfg)
	case model.ServiceProcess:
		return s.checkProcess(ctx, cfg)
	case model.ServiceHTTP:
		return s.checkHTTP(ctx, cfg, httpCheckTimeout)
	case model.ServicePort:
		return s.checkPort(ctx, cfg)
	default:
		return false, fmt.Sprintf("unknown service kind %q", cfg.Type)
	}
}

func (s *Supervisor) checkDocker(ctx context.Context, cfg *model.ServiceConfig) (bool, string) {
	if s.docker == nil {
		return false, "docker client unavailable"
	}
	ctx, cancel := context.WithTimeout(ctx, dockerCheckTimeout)
	defer cancel()

	info, err := s.docker.inspect(ctx, cfg.ContainerName)
	if err != nil {
		return false, err.Error()
	}
	if info.State != "running" {
		return false, fmt.Sprintf("container state is %q", info.State)
	}
	if cfg.URL != "" {
		if ok, reason := s.checkHTTP(ctx, cfg, dockerCheckTimeout); !ok {
			return false, reason
		}
	}
	return true, ""
}

func (s *Supervisor) checkProcess(ctx context.Context, cfg *model.ServiceConfig) (bool, string) {
	pid, ok := resolvePID(cfg)
	if !ok {
		return false, "process not found"
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false, fmt.Sprintf("process %d not found: %v", pid, err)
	}
	running, err := proc.IsRunningWithContext(ctx)
	if err != nil || !running {
		return false, "process is not running"
	}
	statuses, err := proc.StatusWithContext(ctx)
	if err == nil {
		for _, st := range statuses {
			if st == process.Zombie {
				return false, "process is a zombie"
			}
		}
	}

	if cfg.URL != "" {
		return s.checkHTTP(ctx, cfg, processProbeTimeout)
	}
	if cfg.HostPort != "" {
		return s.checkPort(ctx, cfg)
	}
	return true, ""
}

func resolvePID(cfg *model.ServiceConfig) (int, bool) {
	if cfg.PIDFile != "" {
		return pidFromFile(cfg.PIDFile)
	}
	if cfg.ProcessName == "" {
		return 0, false
	}
	out, err := exec.Command("pgrep", "-n", "-f", cfg.ProcessName).Output()
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func pidFromFile(path string) (int, bool) {
	if path == "" {
		return 0, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func (s *Supervisor) checkHTTP(ctx context.Context, cfg *model.ServiceConfig, timeout time.Duration) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return false, fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return true, ""
}

func (s *Supervisor) checkPort(ctx context.Context, cfg *model.ServiceConfig) (bool, string) {
	dialer := &net.Dialer{Timeout: portCheckTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.HostPort)
	if err != nil {
		return false, err.Error()
	}
	conn.Close()
	return true, ""
}
