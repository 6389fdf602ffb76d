package monitor

import (
	"context"
)

// Device is the session surface the monitoring loops need. *device.Session
// satisfies it.
type Device interface {
	Shell(ctx context.Context, cmd string, args ...string) (string, error)
	DumpHierarchy(ctx context.Context) (string, error)
	Click(ctx context.Context, x, y int) error
	PressKey(ctx context.Context, key string) error
}

// DeviceSource resolves a device identifier to a live device each time a
// loop needs one, so a reconnected device picks up transparently.
type DeviceSource interface {
	Acquire(ctx context.Context, deviceID string) (Device, error)
}
