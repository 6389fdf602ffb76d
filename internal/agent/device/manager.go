package device

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// SentinelDefault is the historical "no device selected" marker. It is
	// normalized away at the entry boundary and must never be used as a
	// connection serial.
	SentinelDefault = "default"

	maxDeviceIDLength = 255
	maxCachedSessions = 5
	sessionTTL        = 5 * time.Minute
)

var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// ValidID reports whether id is a plausible adb serial. Empty means "absent"
// and is considered valid.
func ValidID(id string) bool {
	if id == "" {
		return true
	}
	if len(id) > maxDeviceIDLength {
		return false
	}
	return deviceIDPattern.MatchString(id)
}

// Manager resolves caller-supplied device identifiers to live sessions and
// owns the session cache keyed by resolved serial.
type Manager struct {
	driver Driver

	mu       sync.Mutex
	sessions map[string]*Session
	selected string
}

// NewManager builds a device manager on top of the given driver.
func NewManager(driver Driver) *Manager {
	return &Manager{
		driver:   driver,
		sessions: make(map[string]*Session),
	}
}

// normalizeID trims the identifier and maps the "default" sentinel to absent.
func normalizeID(deviceID string) string {
	id := strings.TrimSpace(deviceID)
	if id == SentinelDefault {
		return ""
	}
	return id
}

// Resolve turns an ambiguous or absent identifier into exactly one live
// session. Resolution order: explicit id (validated against the current
// enumeration), explicitly selected default, then auto-resolution (exactly
// one reachable device). Zero devices yield *NotFoundError, two or more
// yield *AmbiguousError.
func (m *Manager) Resolve(ctx context.Context, deviceID string) (*Session, error) {
	id := normalizeID(deviceID)
	if id != "" {
		if !ValidID(id) {
			return nil, &InvalidIDError{ID: id}
		}
		serials, err := m.driver.ListDevices(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list devices failed")
		}
		if !containsSerial(serials, id) {
			return nil, &NotFoundError{Requested: id}
		}
		return m.session(ctx, id)
	}

	if sel := m.Selected(); sel != "" {
		return m.session(ctx, sel)
	}

	serials, err := m.driver.ListDevices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list devices failed")
	}
	switch len(serials) {
	case 0:
		return nil, &NotFoundError{}
	case 1:
		return m.session(ctx, serials[0])
	default:
		candidates := make([]string, len(serials))
		copy(candidates, serials)
		return nil, &AmbiguousError{Candidates: candidates}
	}
}

// ResolveSerial resolves to a serial without connecting. It follows the same
// policy as Resolve but performs no device I/O beyond enumeration.
func (m *Manager) ResolveSerial(ctx context.Context, deviceID string) (string, error) {
	id := normalizeID(deviceID)
	if id != "" {
		if !ValidID(id) {
			return "", &InvalidIDError{ID: id}
		}
		return id, nil
	}
	if sel := m.Selected(); sel != "" {
		return sel, nil
	}
	serials, err := m.driver.ListDevices(ctx)
	if err != nil {
		return "", errors.Wrap(err, "list devices failed")
	}
	switch len(serials) {
	case 0:
		return "", &NotFoundError{}
	case 1:
		return serials[0], nil
	default:
		candidates := make([]string, len(serials))
		copy(candidates, serials)
		return "", &AmbiguousError{Candidates: candidates}
	}
}

// ResolveSerialOrDefault resolves to a serial for namespace purposes (cache
// keys, recording ownership). It returns the literal "default" only in the
// zero-devices case, keeping legacy cache keys stable, and never connects.
func (m *Manager) ResolveSerialOrDefault(ctx context.Context, deviceID string) (string, error) {
	serial, err := m.ResolveSerial(ctx, deviceID)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) && notFound.Requested == "" {
			return SentinelDefault, nil
		}
		return "", err
	}
	return serial, nil
}

// Select marks a device as the process default for subsequent operations.
// The device must be currently reachable.
func (m *Manager) Select(ctx context.Context, deviceID string) error {
	id := normalizeID(deviceID)
	if id == "" || !ValidID(id) {
		return &InvalidIDError{ID: deviceID}
	}
	serials, err := m.driver.ListDevices(ctx)
	if err != nil {
		return errors.Wrap(err, "list devices failed")
	}
	if !containsSerial(serials, id) {
		return &NotFoundError{Requested: id}
	}
	m.mu.Lock()
	m.selected = id
	m.mu.Unlock()
	log.Info().Str("serial", id).Msg("device selected")
	return nil
}

// Selected returns the explicitly selected default serial, if any.
func (m *Manager) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// List returns the serials of all currently reachable devices.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.driver.ListDevices(ctx)
}

// session returns the cached session for serial or connects a new one.
func (m *Manager) session(ctx context.Context, serial string) (*Session, error) {
	m.mu.Lock()
	m.cleanupExpiredLocked()
	if s, ok := m.sessions[serial]; ok {
		s.lastUsed = time.Now()
		m.mu.Unlock()
		if err := s.ping(ctx); err != nil {
			m.Release(serial)
			log.Warn().Str("serial", serial).Msg("device connection lost, cache invalidated")
			return nil, errors.Wrapf(err, "device %s connection lost", serial)
		}
		return s, nil
	}
	m.evictOldestLocked()
	m.mu.Unlock()

	log.Info().Str("serial", serial).Msg("connecting to device")
	conn, err := m.driver.Connect(ctx, serial)
	if err != nil {
		return nil, errors.Wrapf(err, "connect device %s failed", serial)
	}
	s := &Session{serial: serial, conn: conn, lastUsed: time.Now()}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[serial]; ok {
		// Lost the race to another resolver; keep the first connection.
		existing.lastUsed = time.Now()
		return existing, nil
	}
	m.sessions[serial] = s
	return s, nil
}

// cleanupExpiredLocked drops sessions idle longer than the TTL.
func (m *Manager) cleanupExpiredLocked() {
	now := time.Now()
	for serial, s := range m.sessions {
		if now.Sub(s.lastUsed) > sessionTTL {
			delete(m.sessions, serial)
			log.Debug().Str("serial", serial).Msg("expired session evicted")
		}
	}
}

// evictOldestLocked makes room for one more session when at capacity.
func (m *Manager) evictOldestLocked() {
	if len(m.sessions) < maxCachedSessions {
		return
	}
	oldest := ""
	var oldestAt time.Time
	for serial, s := range m.sessions {
		if oldest == "" || s.lastUsed.Before(oldestAt) {
			oldest = serial
			oldestAt = s.lastUsed
		}
	}
	if oldest != "" {
		delete(m.sessions, oldest)
		log.Debug().Str("serial", oldest).Msg("oldest session evicted")
	}
}

// Release drops the cached session for serial, if any.
func (m *Manager) Release(serial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, serial)
}

// ReleaseAll drops every cached session.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	log.Info().Msg("all device sessions released")
}

func containsSerial(serials []string, target string) bool {
	for _, s := range serials {
		if strings.TrimSpace(s) == target {
			return true
		}
	}
	return false
}
