package device

import (
	"context"
	"sync"
	"time"
)

// Session is a cached connection to one resolved device. All device I/O goes
// through the session mutex so two call paths never overlap on the same
// serial; sessions for distinct serials proceed in parallel.
type Session struct {
	serial string
	conn   Conn

	mu       sync.Mutex
	lastUsed time.Time // guarded by the owning Manager's lock
}

// Serial returns the resolved device serial the session is bound to.
func (s *Session) Serial() string {
	return s.serial
}

// ScreenSize queries the current screen dimensions in pixels.
func (s *Session) ScreenSize(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.ScreenSize(ctx)
}

// Click taps at the given pixel coordinates.
func (s *Session) Click(ctx context.Context, x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Click(ctx, x, y)
}

// DoubleClick taps twice at the given pixel coordinates.
func (s *Session) DoubleClick(ctx context.Context, x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.DoubleClick(ctx, x, y)
}

// LongPress holds a touch at the given coordinates for duration.
func (s *Session) LongPress(ctx context.Context, x, y int, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.LongPress(ctx, x, y, duration)
}

// Swipe drags from the start to the end coordinates over duration.
func (s *Session) Swipe(ctx context.Context, startX, startY, endX, endY int, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Swipe(ctx, startX, startY, endX, endY, duration)
}

// InputText types the given text into the focused element.
func (s *Session) InputText(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.InputText(ctx, text)
}

// PressKey presses a named key (back, home, enter, ...).
func (s *Session) PressKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.PressKey(ctx, key)
}

// Shell runs a shell command on the device and returns its output.
func (s *Session) Shell(ctx context.Context, cmd string, args ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Shell(ctx, cmd, args...)
}

// DumpHierarchy returns the current UI hierarchy as XML.
func (s *Session) DumpHierarchy(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.DumpHierarchy(ctx)
}

func (s *Session) ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Ping(ctx)
}
