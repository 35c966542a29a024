package health

import (
	"fmt"
	"sort"
	"time"
)

func newStatus(name string, level Level, message string) Status {
	return Status{Name: name, Level: level, Message: message, Timestamp: time.Now()}
}

// Healthy creates a healthy status.
func Healthy(name, message string) Status { return newStatus(name, LevelHealthy, message) }

// Degraded creates a degraded status.
func Degraded(name, message string) Status { return newStatus(name, LevelDegraded, message) }

// Unhealthy creates an unhealthy status.
func Unhealthy(name, message string) Status { return newStatus(name, LevelUnhealthy, message) }

// Aggregate returns the worst level among subs, with subs attached in name order.
// No subs is healthy.
func Aggregate(name string, subs []Status) Status {
	if len(subs) == 0 {
		return Healthy(name, "no handlers")
	}

	sorted := make([]Status, len(subs))
	copy(sorted, subs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	worst := LevelHealthy
	counts := map[Level]int{}
	for _, s := range sorted {
		counts[s.Level]++
		if s.Level.severity() > worst.severity() {
			worst = s.Level
		}
	}

	var msg string
	switch worst {
	case LevelHealthy:
		msg = fmt.Sprintf("all %d handlers healthy", len(sorted))
	case LevelDegraded:
		msg = fmt.Sprintf("%d of %d handlers degraded", counts[LevelDegraded], len(sorted))
	default:
		msg = fmt.Sprintf("%d of %d handlers unhealthy", counts[LevelUnhealthy], len(sorted))
	}

	s := newStatus(name, worst, msg)
	s.Subs = sorted
	return s
}
