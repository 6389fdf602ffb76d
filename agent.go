package deviceagent

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/DeviceAgent/internal/agent/device"
	"github.com/httprunner/DeviceAgent/internal/agent/monitor"
	"github.com/httprunner/DeviceAgent/internal/agent/recording"
	adbdriver "github.com/httprunner/DeviceAgent/internal/providers/adb"
	"github.com/httprunner/DeviceAgent/pkg/storage"
)

// Config controls Agent construction. A nil Driver falls back to the default
// adb driver; a nil Store disables the sqlite recording archive.
type Config struct {
	Driver device.Driver
	Store  *storage.RecordingStore
}

// Agent is the control-plane facade: it resolves devices, records and
// replays gestures, and supervises background monitoring loops. All
// operations are transport-independent; callers wrap them however they like.
type Agent struct {
	devices    *device.Manager
	recordings *recording.Manager
	perf       *monitor.Monitor
	watchers   *monitor.WatcherManager
	store      *storage.RecordingStore
}

// New builds an agent from the given configuration.
func New(cfg Config) (*Agent, error) {
	driver := cfg.Driver
	if driver == nil {
		var err error
		driver, err = adbdriver.NewDefault()
		if err != nil {
			return nil, errors.Wrap(err, "init default adb driver")
		}
	}
	devices := device.NewManager(driver)
	source := &sessionSource{devices: devices}
	return &Agent{
		devices:    devices,
		recordings: recording.NewManager(),
		perf:       monitor.NewMonitor(source),
		watchers:   monitor.NewWatcherManager(source),
		store:      cfg.Store,
	}, nil
}

// sessionSource adapts the device manager to the monitor's device surface.
type sessionSource struct {
	devices *device.Manager
}

func (s *sessionSource) Acquire(ctx context.Context, deviceID string) (monitor.Device, error) {
	return s.devices.Resolve(ctx, deviceID)
}

// Devices exposes the device manager for callers that need direct session
// access.
func (a *Agent) Devices() *device.Manager {
	return a.devices
}

// ListDevices returns the serials of all currently reachable devices.
func (a *Agent) ListDevices(ctx context.Context) ([]string, error) {
	return a.devices.List(ctx)
}

// ResolveDevice resolves an optional identifier to exactly one connected
// device and returns its serial. Empty and "default" identifiers follow the
// auto-resolution policy.
func (a *Agent) ResolveDevice(ctx context.Context, deviceID string) (string, error) {
	sess, err := a.devices.Resolve(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return sess.Serial(), nil
}

// SelectDevice marks a device as the process default.
func (a *Agent) SelectDevice(ctx context.Context, deviceID string) error {
	return a.devices.Select(ctx, deviceID)
}

// StartedRecording describes a freshly started recording.
type StartedRecording struct {
	RecordingID string `json:"recording_id"`
	DeviceID    string `json:"device_id"`
}

// StartRecording opens a gesture recording against the resolved device
// namespace. It returns (nil, nil) when the recording store is at capacity
// with nothing evictable; callers treat that as a checkable condition.
func (a *Agent) StartRecording(ctx context.Context, deviceID string, metadata map[string]any) (*StartedRecording, error) {
	resolved, err := a.devices.ResolveSerialOrDefault(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	rec := a.recordings.Start(resolved, metadata)
	if rec == nil {
		return nil, nil
	}
	return &StartedRecording{RecordingID: rec.ID, DeviceID: rec.DeviceID}, nil
}

// AddGestureEvent appends one gesture event to an in-progress recording.
func (a *Agent) AddGestureEvent(recordingID, eventType string, p recording.Params) (*recording.Event, error) {
	return a.recordings.AddEvent(recordingID, eventType, p)
}

// RecordingSummary describes a completed recording.
type RecordingSummary struct {
	RecordingID string  `json:"recording_id"`
	DeviceID    string  `json:"device_id"`
	EventCount  int     `json:"event_count"`
	Duration    float64 `json:"duration"`
}

// StopRecording completes a recording and, when an archive is configured,
// persists its export payload.
func (a *Agent) StopRecording(recordingID string) (*RecordingSummary, error) {
	rec, err := a.recordings.Stop(recordingID)
	if err != nil {
		return nil, err
	}
	if a.store != nil {
		a.archiveRecording(rec)
	}
	duration, _ := rec.Metadata["duration"].(float64)
	return &RecordingSummary{
		RecordingID: rec.ID,
		DeviceID:    rec.DeviceID,
		EventCount:  len(rec.Events),
		Duration:    duration,
	}, nil
}

// archiveRecording persists a completed recording; archive failures are
// logged, never surfaced, so a broken disk cannot fail a stop call.
func (a *Agent) archiveRecording(rec *recording.Recording) {
	payload, err := a.recordings.ExportJSON(rec.ID)
	if err != nil {
		log.Error().Err(err).Str("recording", rec.ID).Msg("export for archive failed")
		return
	}
	err = a.store.Save(storage.ArchivedRecording{
		RecordingID: rec.ID,
		DeviceID:    rec.DeviceID,
		CreatedAt:   rec.CreatedAt,
		Payload:     payload,
	})
	if err != nil {
		log.Error().Err(err).Str("recording", rec.ID).Msg("archive recording failed")
	}
}

// PlayRecording replays a recording. An empty deviceID targets the
// recording's original device; either way the identifier goes through the
// resolution policy before any device I/O.
func (a *Agent) PlayRecording(ctx context.Context, recordingID, deviceID string, speed float64) (*recording.PlaybackResult, error) {
	if speed == 0 {
		speed = 1.0
	}
	target := deviceID
	if target == "" {
		rec, ok := a.recordings.Get(recordingID)
		if !ok {
			return nil, errors.Errorf("recording not found: %s", recordingID)
		}
		target = rec.DeviceID
	}
	sess, err := a.devices.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	return a.recordings.Play(ctx, recordingID, sess, speed)
}

// ListRecordings returns summaries of all in-memory recordings.
func (a *Agent) ListRecordings() []recording.Summary {
	return a.recordings.List()
}

// ExportRecording serializes a recording to its transport-neutral JSON form.
func (a *Agent) ExportRecording(recordingID string) (string, error) {
	return a.recordings.ExportJSON(recordingID)
}

// ImportRecording loads a previously exported recording.
func (a *Agent) ImportRecording(data string) (*recording.Recording, error) {
	return a.recordings.ImportJSON(data)
}

// DeleteRecording removes a recording from memory and from the archive.
func (a *Agent) DeleteRecording(recordingID string) bool {
	deleted := a.recordings.Delete(recordingID)
	if a.store != nil {
		if err := a.store.Delete(recordingID); err != nil {
			log.Error().Err(err).Str("recording", recordingID).Msg("archive delete failed")
		}
	}
	return deleted
}

// PerfSnapshot collects a single performance sample.
func (a *Agent) PerfSnapshot(ctx context.Context, deviceID, pkg string) (monitor.Snapshot, error) {
	resolved, err := a.devices.ResolveSerialOrDefault(ctx, deviceID)
	if err != nil {
		return monitor.Snapshot{}, err
	}
	return a.perf.Snapshot(ctx, resolved, pkg)
}

// PerfSessionInfo describes a started monitoring session.
type PerfSessionInfo struct {
	SessionID    string        `json:"session_id"`
	DeviceID     string        `json:"device_id"`
	Package      string        `json:"package"`
	PollInterval time.Duration `json:"poll_interval"`
}

// StartPerfMonitor launches a background performance-sampling session with
// its own poll interval. Intervals <= 0 fail validation before any loop is
// created.
func (a *Agent) StartPerfMonitor(ctx context.Context, deviceID, pkg string, pollInterval time.Duration) (*PerfSessionInfo, error) {
	resolved, err := a.devices.ResolveSerialOrDefault(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	session, err := a.perf.Start(resolved, pkg, pollInterval)
	if err != nil {
		return nil, err
	}
	return &PerfSessionInfo{
		SessionID:    session.ID,
		DeviceID:     session.DeviceID,
		Package:      session.Package,
		PollInterval: session.PollInterval,
	}, nil
}

// StopPerfMonitor stops a monitoring session and returns its summary.
func (a *Agent) StopPerfMonitor(sessionID string) (*monitor.SessionSummary, error) {
	return a.perf.Stop(sessionID)
}

// WatcherAdd registers a UI watcher rule for the resolved device namespace.
func (a *Agent) WatcherAdd(ctx context.Context, deviceID, name string, conditions []monitor.Condition, action string, actionTarget *int, priority int) (*monitor.Rule, error) {
	resolved, err := a.devices.ResolveSerialOrDefault(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return a.watchers.Add(resolved, name, conditions, action, actionTarget, priority)
}

// WatcherRemove deletes a watcher rule.
func (a *Agent) WatcherRemove(ctx context.Context, deviceID, name string) (bool, error) {
	resolved, err := a.devices.ResolveSerialOrDefault(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return a.watchers.Remove(resolved, name), nil
}

// WatcherList returns a device's watcher rules, highest priority first.
func (a *Agent) WatcherList(ctx context.Context, deviceID string) ([]monitor.Rule, bool, error) {
	resolved, err := a.devices.ResolveSerialOrDefault(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	return a.watchers.List(resolved), a.watchers.IsRunning(resolved), nil
}

// WatcherStart launches the watcher loop for a device. The boolean reports
// whether a new loop started (false: already running).
func (a *Agent) WatcherStart(ctx context.Context, deviceID string, pollInterval time.Duration) (bool, error) {
	resolved, err := a.devices.ResolveSerialOrDefault(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return a.watchers.Start(resolved, pollInterval)
}

// WatcherStop stops the watcher loop and returns an activity summary.
func (a *Agent) WatcherStop(ctx context.Context, deviceID string) (*monitor.WatchSummary, error) {
	resolved, err := a.devices.ResolveSerialOrDefault(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return a.watchers.Stop(resolved), nil
}

// WatcherCheckOnce runs a single watcher evaluation, mainly for testing
// rules without a background loop.
func (a *Agent) WatcherCheckOnce(ctx context.Context, deviceID string) (string, error) {
	resolved, err := a.devices.ResolveSerialOrDefault(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return a.watchers.CheckOnce(ctx, resolved)
}
