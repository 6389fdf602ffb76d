package device

import (
	"context"
	"time"
)

// Driver abstracts the device-automation backend (adb in production).
type Driver interface {
	// ListDevices returns the serials of all currently reachable devices.
	ListDevices(ctx context.Context) ([]string, error)
	// Connect opens a live connection to the device with the given serial.
	Connect(ctx context.Context, serial string) (Conn, error)
}

// Conn is a live connection to one device. Implementations are not required
// to be safe for concurrent use; Session serializes access per serial.
type Conn interface {
	ScreenSize(ctx context.Context) (width, height int, err error)
	Click(ctx context.Context, x, y int) error
	DoubleClick(ctx context.Context, x, y int) error
	LongPress(ctx context.Context, x, y int, duration time.Duration) error
	Swipe(ctx context.Context, startX, startY, endX, endY int, duration time.Duration) error
	InputText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
	Shell(ctx context.Context, cmd string, args ...string) (string, error)
	DumpHierarchy(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
}
