package supervisor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

// serviceSpec is the YAML shape of one supervised service in the services
// file. Durations are plain strings ("30s", "1m") so operators can edit
// the file by hand.
type serviceSpec struct {
	ID                string   `yaml:"id"`
	Name              string   `yaml:"name"`
	Type              string   `yaml:"type"`
	ContainerName     string   `yaml:"container_name"`
	ProcessName       string   `yaml:"process_name"`
	PIDFile           string   `yaml:"pid_file"`
	URL               string   `yaml:"url"`
	HostPort          string   `yaml:"host_port"`
	HealthInterval    string   `yaml:"health_interval"`
	MaxFailures       int      `yaml:"max_failures"`
	RestartDelay      string   `yaml:"restart_delay"`
	Tags              []string `yaml:"tags"`
	RestartCommand    []string `yaml:"restart_command"`
	UseComposeRestart bool     `yaml:"use_compose_restart"`
	ComposeService    string   `yaml:"compose_service"`
}

type servicesFile struct {
	Services []serviceSpec `yaml:"services"`
}

// LoadServicesFile reads the supervised-service definitions from a YAML
// file. A missing file is not an error: supervision is optional and an
// empty set simply means nothing is supervised.
func LoadServicesFile(path string) ([]*model.ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("supervisor: reading services file: %w", err)
	}

	var file servicesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("supervisor: parsing services file %s: %w", path, err)
	}

	configs := make([]*model.ServiceConfig, 0, len(file.Services))
	for i, spec := range file.Services {
		cfg, err := spec.toConfig()
		if err != nil {
			return nil, fmt.Errorf("supervisor: services file %s, entry %d: %w", path, i, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (s serviceSpec) toConfig() (*model.ServiceConfig, error) {
	kind := model.ServiceKind(s.Type)
	switch kind {
	case model.ServiceDocker, model.ServiceProcess, model.ServiceHTTP, model.ServicePort:
	default:
		return nil, fmt.Errorf("unknown service type %q", s.Type)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("service id is required")
	}

	interval, err := parseOptionalDuration(s.HealthInterval)
	if err != nil {
		return nil, fmt.Errorf("health_interval: %w", err)
	}
	delay, err := parseOptionalDuration(s.RestartDelay)
	if err != nil {
		return nil, fmt.Errorf("restart_delay: %w", err)
	}

	name := s.Name
	if name == "" {
		name = s.ID
	}
	return &model.ServiceConfig{
		ID:                s.ID,
		Name:              name,
		Type:              kind,
		ContainerName:     s.ContainerName,
		ProcessName:       s.ProcessName,
		PIDFile:           s.PIDFile,
		URL:               s.URL,
		HostPort:          s.HostPort,
		HealthInterval:    interval,
		MaxFailures:       s.MaxFailures,
		RestartDelay:      delay,
		Tags:              s.Tags,
		RestartCommand:    s.RestartCommand,
		UseComposeRestart: s.UseComposeRestart,
		ComposeService:    s.ComposeService,
	}, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
