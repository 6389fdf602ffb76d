package recording

import (
	"math"
	"time"
)

// Capacity limits, applied at admission time to keep memory bounded.
const (
	MaxRecordings         = 50
	MaxEventsPerRecording = 5000
	MaxPlaybackDuration   = 10 * time.Minute
)

// Coordinate spaces an event's params may be tagged with. An absent tag
// implies pixel coordinates.
const (
	SpacePixel      = "pixel"
	SpaceNormalized = "normalized"
)

// Event is a single recorded gesture. Timestamp is seconds relative to the
// recording start. Params carries the raw coordinate fields exactly as they
// were captured; coordinate-space resolution happens at playback time.
type Event struct {
	Type      string         `json:"type"`
	Timestamp float64        `json:"timestamp"`
	Params    map[string]any `json:"params"`
}

// Recording is an ordered batch of gesture events captured against one
// device. Events are append-only while IsRecording is true.
type Recording struct {
	ID          string         `json:"recording_id"`
	DeviceID    string         `json:"device_id"`
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Events      []Event        `json:"events"`
	IsRecording bool           `json:"is_recording"`
}

// Params holds the optional fields of an add-event request before they are
// folded into an event's params map.
type Params struct {
	X, Y       *float64
	EndX, EndY *float64
	Text       *string
	Key        *string
	Duration   *float64 // seconds

	// CoordinateSpace wins when set; otherwise Normalized selects between
	// "normalized" and "pixel", and nil leaves the tag unset (pixel implied).
	CoordinateSpace string
	Normalized      *bool
}

// buildParams assembles the stored params map for one event. Swipe events
// record their origin as start_x/start_y so the endpoint fields line up.
func buildParams(eventType string, p Params) map[string]any {
	params := make(map[string]any)
	if p.X != nil {
		params["x"] = *p.X
	}
	if p.Y != nil {
		params["y"] = *p.Y
	}
	if p.EndX != nil {
		params["end_x"] = *p.EndX
	}
	if p.EndY != nil {
		params["end_y"] = *p.EndY
	}
	if p.Text != nil {
		params["text"] = *p.Text
	}
	if p.Key != nil {
		params["key"] = *p.Key
	}
	if p.Duration != nil {
		params["duration"] = *p.Duration
	}

	space := p.CoordinateSpace
	if space == "" && p.Normalized != nil {
		if *p.Normalized {
			space = SpaceNormalized
		} else {
			space = SpacePixel
		}
	}
	if space != "" {
		params["coordinate_space"] = space
	}

	if eventType == "swipe" {
		if v, ok := params["x"]; ok {
			params["start_x"] = v
			delete(params, "x")
		}
		if v, ok := params["y"]; ok {
			params["start_y"] = v
			delete(params, "y")
		}
	}
	return params
}

// resolveCoordinates maps normalized params onto the given screen size.
// Pixel-space params pass through untouched (still copied).
func resolveCoordinates(params map[string]any, width, height int) map[string]any {
	resolved := make(map[string]any, len(params))
	for k, v := range params {
		resolved[k] = v
	}
	if space, _ := params["coordinate_space"].(string); space != SpaceNormalized {
		return resolved
	}
	for _, key := range []string{"x", "start_x", "end_x"} {
		if v, ok := resolved[key]; ok {
			resolved[key] = scaleCoordinate(v, width)
		}
	}
	for _, key := range []string{"y", "start_y", "end_y"} {
		if v, ok := resolved[key]; ok {
			resolved[key] = scaleCoordinate(v, height)
		}
	}
	return resolved
}

// scaleCoordinate maps a normalized value onto [0, dim-1]. Out-of-range
// inputs clamp instead of producing out-of-bounds pixels.
func scaleCoordinate(value any, dim int) int {
	if dim <= 0 {
		return 0
	}
	f, ok := toFloat(value)
	if !ok {
		return 0
	}
	scaled := int(math.Floor(f * float64(dim)))
	if scaled < 0 {
		return 0
	}
	if scaled > dim-1 {
		return dim - 1
	}
	return scaled
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// paramInt reads a numeric param as a pixel coordinate, defaulting to 0.
func paramInt(params map[string]any, key string) int {
	v, ok := params[key]
	if !ok {
		return 0
	}
	if i, ok := v.(int); ok {
		return i
	}
	if f, ok := toFloat(v); ok {
		return int(f)
	}
	return 0
}

// paramFloat reads a numeric param, falling back when absent or non-numeric.
func paramFloat(params map[string]any, key string, fallback float64) float64 {
	if v, ok := params[key]; ok {
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	return fallback
}

func paramString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}
