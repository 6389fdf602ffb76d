package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubMonitorDevice struct {
	mu        sync.Mutex
	shellOut  map[string]string // first shell arg -> output
	shellErr  error
	hierarchy string
	dumpErr   error
	clicks    [][2]int
	keys      []string
	shells    int
}

func (d *stubMonitorDevice) Shell(ctx context.Context, cmd string, args ...string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shells++
	if d.shellErr != nil {
		return "", d.shellErr
	}
	return d.shellOut[cmd], nil
}

func (d *stubMonitorDevice) DumpHierarchy(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dumpErr != nil {
		return "", d.dumpErr
	}
	return d.hierarchy, nil
}

func (d *stubMonitorDevice) Click(ctx context.Context, x, y int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, [2]int{x, y})
	return nil
}

func (d *stubMonitorDevice) PressKey(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, key)
	return nil
}

type stubSource struct {
	dev *stubMonitorDevice
	err error
}

func (s *stubSource) Acquire(ctx context.Context, deviceID string) (Device, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.dev, nil
}

func TestStartRejectsNonPositiveInterval(t *testing.T) {
	m := NewMonitor(&stubSource{dev: &stubMonitorDevice{}})

	for _, interval := range []time.Duration{0, -time.Second} {
		if _, err := m.Start("serial-a", "", interval); err == nil {
			t.Fatalf("expected error for interval %v", interval)
		}
	}
	// The failed starts must not leave sessions behind.
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) != 0 {
		t.Fatalf("failed starts leaked %d sessions", len(m.sessions))
	}
}

func TestStartRejectsInvalidPackageName(t *testing.T) {
	m := NewMonitor(&stubSource{dev: &stubMonitorDevice{}})
	if _, err := m.Start("serial-a", "com.app; rm -rf /", time.Second); err == nil {
		t.Fatalf("expected error for shell-hostile package name")
	}
}

func TestSessionsKeepIndependentIntervals(t *testing.T) {
	m := NewMonitor(&stubSource{dev: &stubMonitorDevice{}})

	first, err := m.Start("serial-a", "", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	second, err := m.Start("serial-b", "", time.Hour)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(first.ID)
	defer m.Stop(second.ID)

	if first.PollInterval != 50*time.Millisecond {
		t.Fatalf("first session interval mutated: %v", first.PollInterval)
	}
	if second.PollInterval != time.Hour {
		t.Fatalf("second session interval mutated: %v", second.PollInterval)
	}
	if first.ID == second.ID {
		t.Fatalf("sessions must have distinct ids")
	}
}

func TestLoopSamplesUntilStopped(t *testing.T) {
	dev := &stubMonitorDevice{}
	m := NewMonitor(&stubSource{dev: dev})

	session, err := m.Start("serial-a", "", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(m.Snapshots(session.ID)) < 3 {
		select {
		case <-deadline:
			t.Fatalf("loop produced %d samples before deadline", len(m.Snapshots(session.ID)))
		case <-time.After(5 * time.Millisecond):
		}
	}

	summary, err := m.Stop(session.ID)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if summary.SampleCount < 3 {
		t.Fatalf("expected at least 3 samples, got %d", summary.SampleCount)
	}

	// The loop is gone: the sample count stays put.
	count := len(m.Snapshots(session.ID))
	time.Sleep(50 * time.Millisecond)
	if len(m.Snapshots(session.ID)) != count {
		t.Fatalf("loop kept sampling after stop")
	}
}

func TestStopUnknownSession(t *testing.T) {
	m := NewMonitor(&stubSource{dev: &stubMonitorDevice{}})
	if _, err := m.Stop("perf_missing"); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}

func TestSessionCapEvictsStopped(t *testing.T) {
	m := NewMonitor(&stubSource{dev: &stubMonitorDevice{}})

	ids := make([]string, 0, MaxSessions)
	for i := 0; i < MaxSessions; i++ {
		s, err := m.Start("serial-a", "", time.Hour)
		if err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		ids = append(ids, s.ID)
	}
	// At capacity with every session running, a new start must fail.
	if _, err := m.Start("serial-a", "", time.Hour); err == nil {
		t.Fatalf("expected error at the session cap")
	}

	if _, err := m.Stop(ids[0]); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	extra, err := m.Start("serial-a", "", time.Hour)
	if err != nil {
		t.Fatalf("Start after eviction failed: %v", err)
	}
	defer func() {
		for _, id := range append(ids[1:], extra.ID) {
			_, _ = m.Stop(id)
		}
	}()
	if _, ok := m.Get(ids[0]); ok {
		t.Fatalf("stopped session should have been evicted")
	}
}

func TestSummaryAggregatesMetrics(t *testing.T) {
	m := NewMonitor(&stubSource{dev: &stubMonitorDevice{}})
	session, err := m.Start("serial-a", "", time.Hour)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cpu := func(v float64) *float64 { return &v }
	m.mu.Lock()
	session.snapshots = []Snapshot{
		{CPUPercent: cpu(10), MemoryMB: cpu(100)},
		{CPUPercent: cpu(30)},
		{MemoryMB: cpu(200)},
	}
	m.mu.Unlock()

	summary, err := m.Stop(session.ID)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if summary.CPU == nil || summary.CPU.Min != 10 || summary.CPU.Max != 30 || summary.CPU.Avg != 20 {
		t.Fatalf("unexpected cpu summary: %+v", summary.CPU)
	}
	if summary.MemoryMB == nil || summary.MemoryMB.Avg != 150 {
		t.Fatalf("unexpected memory summary: %+v", summary.MemoryMB)
	}
	// No FPS samples at all: the whole metric is absent, not zeroed.
	if summary.FPS != nil {
		t.Fatalf("expected nil FPS summary, got %+v", summary.FPS)
	}
}

func TestSnapshotAcquireError(t *testing.T) {
	m := NewMonitor(&stubSource{err: errors.New("no devices connected")})
	if _, err := m.Snapshot(context.Background(), "", ""); err == nil {
		t.Fatalf("expected acquire error to propagate")
	}
}
