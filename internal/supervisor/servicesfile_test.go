package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

func TestLoadServicesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	content := `services:
  - id: clickhouse
    name: ClickHouse
    type: docker
    container_name: logagg-clickhouse
    url: http://localhost:8123/ping
    health_interval: 30s
    max_failures: 3
    restart_delay: 5s
    use_compose_restart: true
    compose_service: clickhouse
  - id: collector-port
    type: port
    host_port: "localhost:4317"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	configs, err := LoadServicesFile(path)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	ch := configs[0]
	assert.Equal(t, "clickhouse", ch.ID)
	assert.Equal(t, model.ServiceDocker, ch.Type)
	assert.Equal(t, "logagg-clickhouse", ch.ContainerName)
	assert.Equal(t, 30*time.Second, ch.HealthInterval)
	assert.Equal(t, 3, ch.MaxFailures)
	assert.Equal(t, 5*time.Second, ch.RestartDelay)
	assert.True(t, ch.UseComposeRestart)

	port := configs[1]
	assert.Equal(t, model.ServicePort, port.Type)
	// Name defaults to the id when omitted.
	assert.Equal(t, "collector-port", port.Name)
	// Unset cadence fields stay zero so AddService applies its defaults.
	assert.Zero(t, port.HealthInterval)
}

func TestLoadServicesFileMissing(t *testing.T) {
	configs, err := LoadServicesFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestLoadServicesFileRejectsUnknownType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services:\n  - id: x\n    type: systemd\n"), 0o644))

	_, err := LoadServicesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service type")
}
