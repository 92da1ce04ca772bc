// Package forwarder implements the Syslog Forwarder (C10): UDP/TCP/TLS
// transmission of LogEntrys as RFC3164/RFC5424 syslog frames to external
// collectors, with per-forwarder filters, exponential-backoff
// reconnection, and atomic JSON persistence of the forwarder set.
package forwarder

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/akamalov/mcp-log-server-sub000/internal/model"
)

const rfc3164TimeLayout = "Jan _2 15:04:05"

// Format renders one LogEntry as a syslog frame for cfg.
func Format(cfg *model.ForwarderConfig, entry *model.LogEntry, hostname string) string {
	severity := model.SeverityForLevel(entry.Level, cfg.DefaultSeverity)
	pri := model.Priority(cfg.Facility, severity)

	host := cfg.Metadata["hostname"]
	if host == "" {
		host = hostname
	}
	appName := cfg.Metadata["app_name"]
	if appName == "" {
		appName = "loglensd"
	}

	switch cfg.Format {
	case model.RFC5424:
		return formatRFC5424(pri, entry, host, appName)
	default:
		tag := cfg.Metadata["tag"]
		if tag == "" {
			tag = appName
		}
		return formatRFC3164(pri, entry, host, tag)
	}
}

func formatRFC5424(pri int, entry *model.LogEntry, host, appName string) string {
	ts := entry.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	procID := strconv.Itoa(os.Getpid())
	msgID := "-"
	structuredData := "-"
	return fmt.Sprintf("<%d>1 %s %s %s %s %s %s %s", pri, ts, host, appName, procID, msgID, structuredData, entry.Message)
}

func formatRFC3164(pri int, entry *model.LogEntry, host, tag string) string {
	ts := entry.Timestamp.UTC().Format(rfc3164TimeLayout)
	return fmt.Sprintf("<%d>%s %s %s: %s", pri, ts, host, tag, entry.Message)
}

// FrameTCP applies RFC6587 octet-counting framing: "<len> <msg>".
func FrameTCP(msg string) string {
	return fmt.Sprintf("%d %s", len(msg), msg)
}

// testTimeout returns the reachability-check timeout for a protocol:
// 2s for udp, 5s for tcp and tcp-tls.
func testTimeout(proto model.Protocol) time.Duration {
	switch proto {
	case model.ProtocolUDP:
		return 2 * time.Second
	case model.ProtocolTCP:
		return 5 * time.Second
	case model.ProtocolTCPTLS:
		return 5 * time.Second
	default:
		return 5 * time.Second
	}
}
