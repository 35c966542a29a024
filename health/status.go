package health

import (
	"regexp"
	"strings"
	"time"
)

var (
	urlRegex        = regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Level is the health of a handler or of the whole runtime.
type Level string

const (
	LevelHealthy   Level = "healthy"
	LevelDegraded  Level = "degraded"
	LevelUnhealthy Level = "unhealthy"
)

func (l Level) severity() int {
	switch l {
	case LevelHealthy:
		return 0
	case LevelDegraded:
		return 1
	default:
		return 2
	}
}

// Status is the health of one handler, or an aggregate with per-handler subs.
type Status struct {
	Name      string    `json:"name"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state,omitempty"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
	Subs      []Status  `json:"subs,omitempty"`
}

// Metrics are the counters behind a handler's level.
type Metrics struct {
	Since          time.Time `json:"since"`
	ErrorCount     int       `json:"error_count"`
	RecentErrors   int       `json:"recent_errors"`
	LastError      time.Time `json:"last_error,omitempty"`
	LastErrorFrame uint64    `json:"last_error_frame,omitempty"`
}

// Healthy reports whether the level is healthy.
func (s Status) Healthy() bool { return s.Level == LevelHealthy }

// Degraded reports whether the level is degraded.
func (s Status) Degraded() bool { return s.Level == LevelDegraded }

// Unhealthy reports whether the level is unhealthy.
func (s Status) Unhealthy() bool { return s.Level == LevelUnhealthy }

// sanitize strips URLs, paths, addresses and credentials from an error
// message before it is stored in a Status.
func sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = unixPathRegex.ReplaceAllString(msg, "[PATH]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")

	lower := strings.ToLower(msg)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "key") || strings.Contains(lower, "secret") {
		msg = credentialRegex.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}
