// Package joblog buffers job log lines and fans them out to sinks. Fetchers
// and the job service write through the hub so a slow store never blocks a
// running fetch.
package joblog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// Event is one job log line before rendering.
type Event struct {
	JobID   string
	TS      time.Time
	Level   gitmeta.LogLevel
	Message string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Level {
	case gitmeta.LogDebug, gitmeta.LogInfo, gitmeta.LogWarning, gitmeta.LogError:
	default:
		return fmt.Errorf("unknown level %q", e.Level)
	}
	return nil
}

// Line renders the persisted form of an event: an ISO timestamp, the level,
// and the message, dash-separated.
func Line(e Event) string {
	return fmt.Sprintf("%s - %s - %s", e.TS.Format("2006-01-02T15:04:05.000000"), e.Level, e.Message)
}

// IsDebugLine reports whether a rendered line carries the DEBUG level.
// Consumers use it to filter stored logs when debug output is not wanted.
func IsDebugLine(line string) bool {
	return strings.Contains(line, " - DEBUG - ")
}
