package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLogInterval throttles progress lines per file.
const DefaultLogInterval = 20 * time.Second

// LogManager implements Manager with throttled zerolog lines for non-TTY
// environments (CI, containers). Stage changes and completion are always
// logged; byte and record progress at most once per Interval.
type LogManager struct {
	Logger   zerolog.Logger
	Interval time.Duration
}

// NewLogManager creates a log-based progress manager writing to logger.
func NewLogManager(logger zerolog.Logger) *LogManager {
	return &LogManager{Logger: logger, Interval: DefaultLogInterval}
}

func (m *LogManager) NewTracker(index, total int, filename string) Tracker {
	return &logTracker{
		logger: m.Logger.With().
			Str("file", filename).
			Str("pos", fmt.Sprintf("%d/%d", index+1, total)).
			Logger(),
		interval: m.Interval,
		start:    time.Now(),
	}
}

func (m *LogManager) Wait() {}

// logTracker implements Tracker with throttled log output.
type logTracker struct {
	logger   zerolog.Logger
	interval time.Duration

	mu        sync.Mutex
	start     time.Time
	stage     string
	lastLog   time.Time
	prevBytes int64
	prevTime  time.Time
	records   int64
}

func (t *logTracker) SetStage(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = stage
	t.lastLog = time.Time{} // reset throttle so next progress update prints
	t.prevBytes = 0
	t.prevTime = time.Time{}
	t.logger.Info().Str("stage", stage).Msg("stage")
}

func (t *logTracker) SetProgress(current, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.lastLog) < t.interval {
		return
	}

	ev := t.logger.Info().Str("stage", t.stage).Str("read", humanBytes(current))
	if !t.prevTime.IsZero() {
		if elapsed := now.Sub(t.prevTime).Seconds(); elapsed > 0 {
			mbps := float64(current-t.prevBytes) / elapsed / (1024 * 1024)
			ev = ev.Str("speed", fmt.Sprintf("%.1f MB/s", mbps))
		}
	}
	if total > 0 {
		ev = ev.Str("size", humanBytes(total)).
			Str("pct", fmt.Sprintf("%.0f%%", float64(current)/float64(total)*100))
	}
	t.prevBytes = current
	t.prevTime = now
	t.lastLog = now
	ev.Msg("progress")
}

func (t *logTracker) SetCounter(name string, value int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = value
	if time.Since(t.lastLog) < t.interval {
		return
	}
	t.lastLog = time.Now()
	t.logger.Info().Str("stage", t.stage).Str(name, humanCount(value)).Msg("progress")
}

func (t *logTracker) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger.Info().
		Int64("records", t.records).
		Dur("elapsed", time.Since(t.start).Truncate(time.Millisecond)).
		Msg("finished")
}
