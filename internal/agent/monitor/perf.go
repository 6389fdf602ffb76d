package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Session caps, applied at start time.
const (
	MaxSessions  = 10
	MaxSnapshots = 1000
)

// Session is one background performance-sampling loop. PollInterval is
// captured at start time and is the only cadence the loop ever reads;
// concurrently running sessions never share interval state.
type Session struct {
	ID           string
	DeviceID     string
	Package      string
	PollInterval time.Duration
	StartedAt    time.Time

	cancel context.CancelFunc
	done   chan struct{}

	// guarded by the owning Monitor's lock
	snapshots []Snapshot
	running   bool
}

// Running reports whether the session's loop is still active.
func (s *Session) Running() bool {
	return s.running
}

// SessionSummary aggregates a finished monitoring session.
type SessionSummary struct {
	SessionID   string         `json:"session_id"`
	Package     string         `json:"package"`
	Duration    float64        `json:"duration"`
	SampleCount int            `json:"sample_count"`
	CPU         *MetricSummary `json:"cpu,omitempty"`
	MemoryMB    *MetricSummary `json:"memory_mb,omitempty"`
	FPS         *MetricSummary `json:"fps,omitempty"`
}

// MetricSummary is min/avg/max over the non-missing samples of one metric.
type MetricSummary struct {
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
	Min float64 `json:"min"`
}

// Monitor supervises independent performance-sampling loops, one goroutine
// per session.
type Monitor struct {
	source DeviceSource

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMonitor builds a performance monitor on top of the given device source.
func NewMonitor(source DeviceSource) *Monitor {
	return &Monitor{
		source:   source,
		sessions: make(map[string]*Session),
	}
}

func newSessionID() string {
	return "perf_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Snapshot collects a single sample for a device without a session.
func (m *Monitor) Snapshot(ctx context.Context, deviceID, pkg string) (Snapshot, error) {
	dev, err := m.source.Acquire(ctx, deviceID)
	if err != nil {
		return Snapshot{}, err
	}
	return collectSnapshot(ctx, dev, pkg), nil
}

// Start validates the interval and launches a dedicated sampling loop. The
// interval is validated synchronously, before any goroutine exists.
func (m *Monitor) Start(deviceID, pkg string, pollInterval time.Duration) (*Session, error) {
	if pollInterval <= 0 {
		return nil, errors.New("poll interval must be greater than 0")
	}
	if pkg != "" && !validPackageName(pkg) {
		return nil, errors.Errorf("invalid package name: %q", truncate(pkg, 50))
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &Session{
		ID:           newSessionID(),
		DeviceID:     deviceID,
		Package:      pkg,
		PollInterval: pollInterval,
		StartedAt:    time.Now(),
		cancel:       cancel,
		done:         make(chan struct{}),
		running:      true,
	}

	m.mu.Lock()
	for len(m.sessions) >= MaxSessions {
		if !m.evictStoppedLocked() {
			m.mu.Unlock()
			cancel()
			return nil, errors.Errorf("too many monitoring sessions (limit %d)", MaxSessions)
		}
	}
	m.sessions[session.ID] = session
	m.mu.Unlock()

	go m.loop(ctx, session)

	log.Info().Str("session", session.ID).Str("device", deviceID).
		Dur("poll_interval", pollInterval).Msg("performance monitoring started")
	return session, nil
}

// evictStoppedLocked removes one stopped session to make room.
func (m *Monitor) evictStoppedLocked() bool {
	for id, s := range m.sessions {
		if !s.running {
			delete(m.sessions, id)
			return true
		}
	}
	return false
}

// loop samples on the session's own cadence until cancelled. Cancellation is
// cooperative: it is observed at the next wake boundary.
func (m *Monitor) loop(ctx context.Context, session *Session) {
	defer close(session.done)

	m.sampleOnce(ctx, session)
	ticker := time.NewTicker(session.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("session", session.ID).Msg("performance monitoring loop stopped")
			return
		case <-ticker.C:
			m.sampleOnce(ctx, session)
		}
	}
}

func (m *Monitor) sampleOnce(ctx context.Context, session *Session) {
	snap, err := m.Snapshot(ctx, session.DeviceID, session.Package)
	if err != nil {
		log.Warn().Err(err).Str("session", session.ID).Msg("metrics sample failed")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(session.snapshots) >= MaxSnapshots {
		// Keep the most recent 75% when the buffer fills.
		keep := MaxSnapshots * 3 / 4
		session.snapshots = append([]Snapshot(nil), session.snapshots[len(session.snapshots)-keep:]...)
	}
	session.snapshots = append(session.snapshots, snap)
}

// Get returns a session by id.
func (m *Monitor) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Snapshots returns a copy of the samples collected so far.
func (m *Monitor) Snapshots(sessionID string) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Snapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// Stop signals the session's loop to exit at its next wake-up and returns a
// summary of the collected samples.
func (m *Monitor) Stop(sessionID string) (*SessionSummary, error) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, errors.Errorf("monitoring session not found: %s", sessionID)
	}
	wasRunning := session.running
	session.running = false
	m.mu.Unlock()

	if wasRunning {
		session.cancel()
		select {
		case <-session.done:
		case <-time.After(2 * time.Second):
			log.Warn().Str("session", sessionID).Msg("monitoring loop slow to exit")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	summary := &SessionSummary{
		SessionID:   session.ID,
		Package:     session.Package,
		Duration:    time.Since(session.StartedAt).Seconds(),
		SampleCount: len(session.snapshots),
	}
	summary.CPU = summarizeMetric(session.snapshots, func(s Snapshot) *float64 { return s.CPUPercent })
	summary.MemoryMB = summarizeMetric(session.snapshots, func(s Snapshot) *float64 { return s.MemoryMB })
	summary.FPS = summarizeMetric(session.snapshots, func(s Snapshot) *float64 { return s.FPS })
	return summary, nil
}

func summarizeMetric(snapshots []Snapshot, pick func(Snapshot) *float64) *MetricSummary {
	var values []float64
	for _, snap := range snapshots {
		if v := pick(snap); v != nil {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return nil
	}
	summary := &MetricSummary{Min: values[0], Max: values[0]}
	total := 0.0
	for _, v := range values {
		total += v
		if v < summary.Min {
			summary.Min = v
		}
		if v > summary.Max {
			summary.Max = v
		}
	}
	summary.Avg = total / float64(len(values))
	return summary
}
