package adb

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/httprunner/httprunner/v5/pkg/gadb"
	"github.com/pkg/errors"

	"github.com/httprunner/DeviceAgent/internal/agent/device"
)

// Driver implements device.Driver using gadb.
type Driver struct {
	client gadb.Client
}

// New creates a Driver backed by the given gadb client.
func New(client gadb.Client) *Driver {
	return &Driver{client: client}
}

// NewDefault creates a Driver using a default gadb client.
func NewDefault() (*Driver, error) {
	client, err := gadb.NewClient()
	if err != nil {
		return nil, errors.Wrap(err, "init adb client for driver")
	}
	return New(client), nil
}

// ListDevices returns the serials of all online adb devices.
func (d *Driver) ListDevices(ctx context.Context) ([]string, error) {
	devs, err := d.client.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "list adb devices")
	}
	serials := make([]string, 0, len(devs))
	for _, dev := range devs {
		if dev == nil {
			continue
		}
		serial := strings.TrimSpace(dev.Serial())
		if serial == "" {
			continue
		}
		if state, err := dev.State(); err != nil || state != gadb.StateOnline {
			continue
		}
		serials = append(serials, serial)
	}
	return serials, nil
}

// Connect opens a shell-backed connection to the device with the given serial.
func (d *Driver) Connect(ctx context.Context, serial string) (device.Conn, error) {
	dev, err := d.findDevice(serial)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, errors.Errorf("device %s not found", serial)
	}
	return &conn{dev: dev}, nil
}

func (d *Driver) findDevice(serial string) (*gadb.Device, error) {
	devs, err := d.client.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "list adb devices")
	}
	target := strings.TrimSpace(serial)
	for _, dev := range devs {
		if dev != nil && strings.TrimSpace(dev.Serial()) == target {
			return dev, nil
		}
	}
	return nil, nil
}

// wm size reports "Physical size: WxH" and optionally "Override size: WxH".
var screenSizeRE = regexp.MustCompile(`(Override|Physical) size:\s*(\d+)x(\d+)`)

const hierarchyDumpPath = "/sdcard/deviceagent_ui_dump.xml"

// keycodes maps friendly key names to Android keyevent codes.
var keycodes = map[string]string{
	"back":        "KEYCODE_BACK",
	"home":        "KEYCODE_HOME",
	"menu":        "KEYCODE_MENU",
	"enter":       "KEYCODE_ENTER",
	"delete":      "KEYCODE_DEL",
	"recent":      "KEYCODE_APP_SWITCH",
	"power":       "KEYCODE_POWER",
	"volume_up":   "KEYCODE_VOLUME_UP",
	"volume_down": "KEYCODE_VOLUME_DOWN",
}

// conn drives a single adb device through shell commands.
type conn struct {
	dev *gadb.Device
}

func (c *conn) ScreenSize(ctx context.Context) (int, int, error) {
	output, err := c.dev.RunShellCommand("wm", "size")
	if err != nil {
		return 0, 0, errors.Wrap(err, "query screen size")
	}
	width, height := 0, 0
	for _, match := range screenSizeRE.FindAllStringSubmatch(output, -1) {
		w, werr := strconv.Atoi(match[2])
		h, herr := strconv.Atoi(match[3])
		if werr != nil || herr != nil {
			continue
		}
		width, height = w, h
		if match[1] == "Override" {
			break
		}
	}
	if width <= 0 || height <= 0 {
		return 0, 0, errors.Errorf("unexpected wm size output: %q", strings.TrimSpace(output))
	}
	return width, height, nil
}

func (c *conn) Click(ctx context.Context, x, y int) error {
	_, err := c.dev.RunShellCommand("input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return errors.Wrap(err, "input tap")
}

func (c *conn) DoubleClick(ctx context.Context, x, y int) error {
	if err := c.Click(ctx, x, y); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return c.Click(ctx, x, y)
}

func (c *conn) LongPress(ctx context.Context, x, y int, duration time.Duration) error {
	// A zero-distance swipe with a duration is the shell idiom for long press.
	ms := strconv.FormatInt(duration.Milliseconds(), 10)
	sx, sy := strconv.Itoa(x), strconv.Itoa(y)
	_, err := c.dev.RunShellCommand("input", "swipe", sx, sy, sx, sy, ms)
	return errors.Wrap(err, "input long press")
}

func (c *conn) Swipe(ctx context.Context, startX, startY, endX, endY int, duration time.Duration) error {
	ms := strconv.FormatInt(duration.Milliseconds(), 10)
	_, err := c.dev.RunShellCommand("input", "swipe",
		strconv.Itoa(startX), strconv.Itoa(startY),
		strconv.Itoa(endX), strconv.Itoa(endY), ms)
	return errors.Wrap(err, "input swipe")
}

func (c *conn) InputText(ctx context.Context, text string) error {
	// `input text` treats %s as a space and chokes on raw spaces.
	escaped := strings.ReplaceAll(text, " ", "%s")
	_, err := c.dev.RunShellCommand("input", "text", escaped)
	return errors.Wrap(err, "input text")
}

func (c *conn) PressKey(ctx context.Context, key string) error {
	code, ok := keycodes[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		if _, err := strconv.Atoi(key); err != nil {
			return errors.Errorf("unknown key: %q", key)
		}
		code = key
	}
	_, err := c.dev.RunShellCommand("input", "keyevent", code)
	return errors.Wrap(err, "input keyevent")
}

func (c *conn) Shell(ctx context.Context, cmd string, args ...string) (string, error) {
	return c.dev.RunShellCommand(cmd, args...)
}

func (c *conn) DumpHierarchy(ctx context.Context) (string, error) {
	if _, err := c.dev.RunShellCommand("uiautomator", "dump", hierarchyDumpPath); err != nil {
		return "", errors.Wrap(err, "uiautomator dump")
	}
	output, err := c.dev.RunShellCommand("cat", hierarchyDumpPath)
	if err != nil {
		return "", errors.Wrap(err, "read hierarchy dump")
	}
	return output, nil
}

func (c *conn) Ping(ctx context.Context) error {
	output, err := c.dev.RunShellCommand("echo", "ok")
	if err != nil {
		return errors.Wrap(err, "device ping")
	}
	if !strings.Contains(output, "ok") {
		return fmt.Errorf("device ping: unexpected output %q", strings.TrimSpace(output))
	}
	return nil
}
