package recording

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Manager owns the set of in-progress and completed recordings. The store is
// bounded: a start that would exceed MaxRecordings first evicts the oldest
// completed recording and fails (returns nil) when only in-progress
// recordings remain.
type Manager struct {
	mu         sync.Mutex
	recordings map[string]*Recording
	active     map[string]string // device id -> recording id
}

// NewManager builds an empty recording manager.
func NewManager() *Manager {
	return &Manager{
		recordings: make(map[string]*Recording),
		active:     make(map[string]string),
	}
}

func newRecordingID() string {
	return "rec_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Start opens a new recording for the given device. It returns nil when the
// store is full and nothing can be evicted; capacity exhaustion is an
// expected condition for callers to check, not an error.
func (m *Manager) Start(deviceID string, metadata map[string]any) *Recording {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.recordings) >= MaxRecordings {
		if !m.evictOldestCompletedLocked() {
			log.Warn().Int("limit", MaxRecordings).
				Msg("recording limit reached, no completed recordings to evict")
			return nil
		}
	}

	if metadata == nil {
		metadata = make(map[string]any)
	}
	rec := &Recording{
		ID:          newRecordingID(),
		DeviceID:    deviceID,
		CreatedAt:   time.Now(),
		Metadata:    metadata,
		IsRecording: true,
	}
	m.recordings[rec.ID] = rec
	m.active[deviceID] = rec.ID

	log.Info().Str("recording", rec.ID).Str("device", deviceID).Msg("recording started")
	return rec
}

// evictOldestCompletedLocked removes the completed recording with the oldest
// CreatedAt. Tie-break is creation time, never insertion order. Returns false
// when every recording is still capturing.
func (m *Manager) evictOldestCompletedLocked() bool {
	var completed []*Recording
	for _, rec := range m.recordings {
		if !rec.IsRecording {
			completed = append(completed, rec)
		}
	}
	if len(completed) == 0 {
		return false
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].CreatedAt.Before(completed[j].CreatedAt)
	})
	evicted := completed[0]
	delete(m.recordings, evicted.ID)
	log.Debug().Str("recording", evicted.ID).Msg("evicted oldest completed recording")
	return true
}

// AddEvent appends one gesture event to an in-progress recording and returns
// the stored event.
func (m *Manager) AddEvent(recordingID, eventType string, p Params) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.recordings[recordingID]
	if !ok {
		return nil, errors.Errorf("recording not found: %s", recordingID)
	}
	if !rec.IsRecording {
		return nil, errors.Errorf("recording %s is not capturing", recordingID)
	}
	if len(rec.Events) >= MaxEventsPerRecording {
		return nil, errors.Errorf("recording %s reached max events (%d)",
			recordingID, MaxEventsPerRecording)
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Since(rec.CreatedAt).Seconds(),
		Params:    buildParams(eventType, p),
	}
	rec.Events = append(rec.Events, event)

	log.Debug().Str("recording", recordingID).Str("type", eventType).Msg("event added")
	return &event, nil
}

// Stop completes a recording. Stopping an unknown or already-stopped
// recording is a state error.
func (m *Manager) Stop(recordingID string) (*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.recordings[recordingID]
	if !ok {
		return nil, errors.Errorf("recording not found: %s", recordingID)
	}
	if !rec.IsRecording {
		return nil, errors.Errorf("recording %s already stopped", recordingID)
	}
	rec.IsRecording = false
	rec.Metadata["duration"] = time.Since(rec.CreatedAt).Seconds()
	rec.Metadata["event_count"] = len(rec.Events)

	if m.active[rec.DeviceID] == recordingID {
		delete(m.active, rec.DeviceID)
	}

	log.Info().Str("recording", recordingID).Int("events", len(rec.Events)).
		Msg("recording stopped")
	return rec, nil
}

// Get returns the recording with the given id, if present.
func (m *Manager) Get(recordingID string) (*Recording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recordings[recordingID]
	return rec, ok
}

// Active returns the in-progress recording for a device, if any.
func (m *Manager) Active(deviceID string) (*Recording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[deviceID]
	if !ok {
		return nil, false
	}
	rec, ok := m.recordings[id]
	return rec, ok
}

// Summary is a lightweight listing entry for one recording.
type Summary struct {
	ID          string  `json:"recording_id"`
	DeviceID    string  `json:"device_id"`
	EventCount  int     `json:"event_count"`
	Duration    float64 `json:"duration"`
	IsRecording bool    `json:"is_recording"`
}

// List returns summaries of all recordings, newest first.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	summaries := make([]Summary, 0, len(m.recordings))
	for _, rec := range m.recordings {
		duration, _ := toFloat(rec.Metadata["duration"])
		summaries = append(summaries, Summary{
			ID:          rec.ID,
			DeviceID:    rec.DeviceID,
			EventCount:  len(rec.Events),
			Duration:    duration,
			IsRecording: rec.IsRecording,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID < summaries[j].ID
	})
	return summaries
}

// Delete removes a recording. It reports whether anything was removed.
func (m *Manager) Delete(recordingID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recordings[recordingID]
	if !ok {
		return false
	}
	delete(m.recordings, recordingID)
	if m.active[rec.DeviceID] == recordingID {
		delete(m.active, rec.DeviceID)
	}
	return true
}

// exportPayload is the transport-neutral serialized form of a recording.
type exportPayload struct {
	RecordingID string         `json:"recording_id"`
	DeviceID    string         `json:"device_id"`
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    map[string]any `json:"metadata"`
	Events      []Event        `json:"events"`
}

// ExportJSON serializes a recording, preserving device id and event order.
func (m *Manager) ExportJSON(recordingID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recordings[recordingID]
	if !ok {
		return "", errors.Errorf("recording not found: %s", recordingID)
	}
	data, err := json.MarshalIndent(exportPayload{
		RecordingID: rec.ID,
		DeviceID:    rec.DeviceID,
		CreatedAt:   rec.CreatedAt,
		Metadata:    rec.Metadata,
		Events:      rec.Events,
	}, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal recording")
	}
	return string(data), nil
}

// ImportJSON loads a previously exported recording. Imported recordings are
// completed and subject to the same admission policy as Start.
func (m *Manager) ImportJSON(data string) (*Recording, error) {
	var payload exportPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, errors.Wrap(err, "parse recording json")
	}
	id := payload.RecordingID
	if id == "" {
		id = newRecordingID()
	}
	metadata := payload.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	rec := &Recording{
		ID:          id,
		DeviceID:    payload.DeviceID,
		CreatedAt:   payload.CreatedAt,
		Metadata:    metadata,
		Events:      payload.Events,
		IsRecording: false,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.recordings) >= MaxRecordings {
		if !m.evictOldestCompletedLocked() {
			return nil, errors.Errorf("recording limit reached (%d)", MaxRecordings)
		}
	}
	m.recordings[rec.ID] = rec
	log.Info().Str("recording", rec.ID).Int("events", len(rec.Events)).
		Msg("recording imported")
	return rec, nil
}
