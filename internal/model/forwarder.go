package model

import "time"

// Protocol enumerates the transports the Syslog Forwarder can use.
type Protocol string

const (
	ProtocolUDP    Protocol = "udp"
	ProtocolTCP    Protocol = "tcp"
	ProtocolTCPTLS Protocol = "tcp-tls"
)

// SyslogFormat enumerates the framing the Syslog Forwarder can emit.
type SyslogFormat string

const (
	RFC3164 SyslogFormat = "rfc3164"
	RFC5424 SyslogFormat = "rfc5424"
)

// ForwarderFilters narrows which LogEntrys a forwarder accepts. An empty
// slice in any field means "accept all" for that dimension.
type ForwarderFilters struct {
	AgentIDs      []string `json:"agent_ids,omitempty"`
	Levels        []string `json:"levels,omitempty"`
	MessageRegexp []string `json:"message_regexp,omitempty"`
}

// ForwarderConfig is a syslog destination, persisted atomically to disk.
type ForwarderConfig struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Host            string            `json:"host"`
	Port            int               `json:"port"`
	Protocol        Protocol          `json:"protocol"`
	Facility        int               `json:"facility"`
	DefaultSeverity int               `json:"default_severity"`
	Format          SyslogFormat      `json:"format"`
	Enabled         bool              `json:"enabled"`
	Filters         ForwarderFilters  `json:"filters"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Priority computes the syslog PRI value: facility*8 + severity.
func Priority(facility, severity int) int {
	return facility*8 + severity
}

// SeverityForLevel maps a canonical LogEntry level to a syslog severity,
// falling back to defaultSeverity for anything unrecognized.
func SeverityForLevel(level Level, defaultSeverity int) int {
	switch level {
	case LevelFatal:
		return 0
	case LevelError:
		return 3
	case LevelWarn:
		return 4
	case LevelInfo:
		return 6
	case LevelDebug:
		return 7
	default:
		return defaultSeverity
	}
}
