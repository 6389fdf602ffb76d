package deviceagent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/httprunner/DeviceAgent/internal/agent/device"
	"github.com/httprunner/DeviceAgent/internal/agent/monitor"
	"github.com/httprunner/DeviceAgent/internal/agent/recording"
	"github.com/httprunner/DeviceAgent/pkg/storage"
)

type fakeConn struct {
	clicks int
}

func (c *fakeConn) ScreenSize(ctx context.Context) (int, int, error) { return 1080, 1920, nil }
func (c *fakeConn) Click(ctx context.Context, x, y int) error {
	c.clicks++
	return nil
}
func (c *fakeConn) DoubleClick(ctx context.Context, x, y int) error                      { return nil }
func (c *fakeConn) LongPress(ctx context.Context, x, y int, d time.Duration) error       { return nil }
func (c *fakeConn) Swipe(ctx context.Context, sx, sy, ex, ey int, d time.Duration) error { return nil }
func (c *fakeConn) InputText(ctx context.Context, text string) error                     { return nil }
func (c *fakeConn) PressKey(ctx context.Context, key string) error                       { return nil }
func (c *fakeConn) Shell(ctx context.Context, cmd string, args ...string) (string, error) {
	return "", nil
}
func (c *fakeConn) DumpHierarchy(ctx context.Context) (string, error) { return "<hierarchy/>", nil }
func (c *fakeConn) Ping(ctx context.Context) error                    { return nil }

type fakeDriver struct {
	serials []string
	conns   map[string]*fakeConn
}

func (d *fakeDriver) ListDevices(ctx context.Context) ([]string, error) {
	out := make([]string, len(d.serials))
	copy(out, d.serials)
	return out, nil
}

func (d *fakeDriver) Connect(ctx context.Context, serial string) (device.Conn, error) {
	if d.conns == nil {
		d.conns = make(map[string]*fakeConn)
	}
	conn := &fakeConn{}
	d.conns[serial] = conn
	return conn, nil
}

func newTestAgent(t *testing.T, driver device.Driver, store *storage.RecordingStore) *Agent {
	t.Helper()
	agent, err := New(Config{Driver: driver, Store: store})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return agent
}

func floatPtr(v float64) *float64 { return &v }

func TestRecordingNamespaceUsesResolvedSerial(t *testing.T) {
	ctx := context.Background()
	agent := newTestAgent(t, &fakeDriver{serials: []string{"serial-a"}}, nil)

	started, err := agent.StartRecording(ctx, "default", nil)
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if started == nil {
		t.Fatalf("StartRecording returned no recording")
	}
	if started.DeviceID != "serial-a" {
		t.Fatalf("recording must be owned by the real serial, got %q", started.DeviceID)
	}
}

func TestRecordingNamespaceFallsBackWithNoDevices(t *testing.T) {
	ctx := context.Background()
	agent := newTestAgent(t, &fakeDriver{}, nil)

	started, err := agent.StartRecording(ctx, "", nil)
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if started.DeviceID != device.SentinelDefault {
		t.Fatalf("zero devices should keep the legacy namespace, got %q", started.DeviceID)
	}
}

func TestStopRecordingArchivesToStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.OpenPath(filepath.Join(t.TempDir(), "recordings.sqlite"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	defer store.Close()
	agent := newTestAgent(t, &fakeDriver{serials: []string{"serial-a"}}, store)

	started, err := agent.StartRecording(ctx, "", nil)
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if _, err := agent.AddGestureEvent(started.RecordingID, "tap", recording.Params{
		X: floatPtr(100), Y: floatPtr(200),
	}); err != nil {
		t.Fatalf("AddGestureEvent failed: %v", err)
	}
	summary, err := agent.StopRecording(started.RecordingID)
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if summary.EventCount != 1 {
		t.Fatalf("expected 1 event, got %d", summary.EventCount)
	}

	archived, err := store.Load(started.RecordingID)
	if err != nil {
		t.Fatalf("archive missing after stop: %v", err)
	}
	if archived.DeviceID != "serial-a" {
		t.Fatalf("archive lost device id: %q", archived.DeviceID)
	}

	if !agent.DeleteRecording(started.RecordingID) {
		t.Fatalf("DeleteRecording returned false")
	}
	if _, err := store.Load(started.RecordingID); err == nil {
		t.Fatalf("delete must clear the archive too")
	}
}

func TestPlayRecordingDefaultsToOriginalDevice(t *testing.T) {
	ctx := context.Background()
	driver := &fakeDriver{serials: []string{"serial-a"}}
	agent := newTestAgent(t, driver, nil)

	started, err := agent.StartRecording(ctx, "serial-a", nil)
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if _, err := agent.AddGestureEvent(started.RecordingID, "tap", recording.Params{
		X: floatPtr(10), Y: floatPtr(20),
	}); err != nil {
		t.Fatalf("AddGestureEvent failed: %v", err)
	}
	if _, err := agent.StopRecording(started.RecordingID); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}

	result, err := agent.PlayRecording(ctx, started.RecordingID, "", 0)
	if err != nil {
		t.Fatalf("PlayRecording failed: %v", err)
	}
	if !result.Success || result.PlayedCount != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if driver.conns["serial-a"].clicks != 1 {
		t.Fatalf("expected replay on the recording's device")
	}
}

func TestPlayRecordingAmbiguousWithoutTarget(t *testing.T) {
	ctx := context.Background()
	agent := newTestAgent(t, &fakeDriver{serials: []string{"serial-a", "serial-b"}}, nil)

	// Recorded under an explicit serial, but replay targets "default" from a
	// two-device setup: resolution must refuse to guess.
	started, err := agent.StartRecording(ctx, "", nil)
	if err == nil {
		_, stopErr := agent.StopRecording(started.RecordingID)
		if stopErr != nil {
			t.Fatalf("StopRecording failed: %v", stopErr)
		}
		_, err = agent.PlayRecording(ctx, started.RecordingID, "default", 1.0)
	}
	if err == nil {
		t.Fatalf("expected ambiguity error")
	}
}

func TestWatcherOperationsResolveNamespace(t *testing.T) {
	ctx := context.Background()
	agent := newTestAgent(t, &fakeDriver{serials: []string{"serial-a"}}, nil)

	rule, err := agent.WatcherAdd(ctx, "default", "dismiss", []monitor.Condition{
		{Type: "text", Value: "OK"},
	}, "back", nil, 1)
	if err != nil {
		t.Fatalf("WatcherAdd failed: %v", err)
	}
	if rule.Name != "dismiss" {
		t.Fatalf("unexpected rule: %+v", rule)
	}

	rules, running, err := agent.WatcherList(ctx, "serial-a")
	if err != nil {
		t.Fatalf("WatcherList failed: %v", err)
	}
	if len(rules) != 1 || running {
		t.Fatalf("rule added under sentinel must list under the real serial")
	}

	if _, err := agent.WatcherStart(ctx, "serial-a", 0); err == nil {
		t.Fatalf("expected interval validation error")
	}
}

func TestPerfMonitorLifecycle(t *testing.T) {
	ctx := context.Background()
	agent := newTestAgent(t, &fakeDriver{serials: []string{"serial-a"}}, nil)

	if _, err := agent.StartPerfMonitor(ctx, "", "", 0); err == nil {
		t.Fatalf("expected interval validation error")
	}

	info, err := agent.StartPerfMonitor(ctx, "", "", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("StartPerfMonitor failed: %v", err)
	}
	if info.DeviceID != "serial-a" {
		t.Fatalf("session must be namespaced by serial, got %q", info.DeviceID)
	}
	time.Sleep(60 * time.Millisecond)

	summary, err := agent.StopPerfMonitor(info.SessionID)
	if err != nil {
		t.Fatalf("StopPerfMonitor failed: %v", err)
	}
	if summary.SampleCount == 0 {
		t.Fatalf("expected at least one sample")
	}
}
