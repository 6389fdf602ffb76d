package recording

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Player is the device surface playback needs. *device.Session satisfies it.
type Player interface {
	ScreenSize(ctx context.Context) (int, int, error)
	Click(ctx context.Context, x, y int) error
	DoubleClick(ctx context.Context, x, y int) error
	LongPress(ctx context.Context, x, y int, duration time.Duration) error
	Swipe(ctx context.Context, startX, startY, endX, endY int, duration time.Duration) error
	InputText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
}

// EventError attributes one playback failure to its event. EventIndex is the
// zero-based position within the recording's original event sequence.
type EventError struct {
	EventIndex int    `json:"event_index"`
	Message    string `json:"error"`
}

// PlaybackResult reports a partial-failure playback run. PlayedCount counts
// attempted events, failed ones included.
type PlaybackResult struct {
	Success     bool         `json:"success"`
	PlayedCount int          `json:"played_count"`
	TotalEvents int          `json:"total_events"`
	Errors      []EventError `json:"errors"`
}

// Play replays a recording against the given session. The screen size is
// read exactly once before the first event; a failing event is recorded and
// playback continues with the next one.
func (m *Manager) Play(ctx context.Context, recordingID string, sess Player, speed float64) (*PlaybackResult, error) {
	if speed <= 0 {
		return nil, errors.New("speed must be greater than 0")
	}

	m.mu.Lock()
	rec, ok := m.recordings[recordingID]
	if !ok {
		m.mu.Unlock()
		return nil, errors.Errorf("recording not found: %s", recordingID)
	}
	events := make([]Event, len(rec.Events))
	copy(events, rec.Events)
	m.mu.Unlock()

	if len(events) > 0 {
		estimated := time.Duration(events[len(events)-1].Timestamp / speed * float64(time.Second))
		if estimated > MaxPlaybackDuration {
			return nil, errors.Errorf("playback exceeds max duration (%s > %s)",
				estimated.Round(time.Second), MaxPlaybackDuration)
		}
	}

	width, height, err := sess.ScreenSize(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "query screen size")
	}

	result := &PlaybackResult{TotalEvents: len(events)}
	lastTimestamp := 0.0
	for index, event := range events {
		delay := time.Duration((event.Timestamp - lastTimestamp) / speed * float64(time.Second))
		lastTimestamp = event.Timestamp
		if delay > 0 {
			select {
			case <-ctx.Done():
				result.Success = false
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}

		result.PlayedCount++
		if err := executeEvent(ctx, sess, event, width, height); err != nil {
			result.Errors = append(result.Errors, EventError{
				EventIndex: index,
				Message:    err.Error(),
			})
		}
	}
	result.Success = len(result.Errors) == 0

	log.Info().Str("recording", recordingID).
		Int("played", result.PlayedCount).
		Int("failed", len(result.Errors)).
		Msg("recording played")
	return result, nil
}

// executeEvent resolves the event's coordinate space against the captured
// screen size and performs the corresponding device action.
func executeEvent(ctx context.Context, sess Player, event Event, width, height int) error {
	params := resolveCoordinates(event.Params, width, height)
	switch event.Type {
	case "tap":
		return sess.Click(ctx, paramInt(params, "x"), paramInt(params, "y"))
	case "double_tap":
		return sess.DoubleClick(ctx, paramInt(params, "x"), paramInt(params, "y"))
	case "long_press":
		duration := time.Duration(paramFloat(params, "duration", 1.0) * float64(time.Second))
		return sess.LongPress(ctx, paramInt(params, "x"), paramInt(params, "y"), duration)
	case "swipe":
		duration := time.Duration(paramFloat(params, "duration", 0.5) * float64(time.Second))
		return sess.Swipe(ctx,
			paramInt(params, "start_x"), paramInt(params, "start_y"),
			paramInt(params, "end_x"), paramInt(params, "end_y"), duration)
	case "type":
		return sess.InputText(ctx, paramString(params, "text"))
	case "key":
		return sess.PressKey(ctx, paramString(params, "key"))
	default:
		return errors.Errorf("unknown event type: %q", event.Type)
	}
}
