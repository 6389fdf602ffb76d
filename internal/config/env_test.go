package config

import (
	"testing"
	"time"
)

func TestStringFallsBackWhenUnsetOrBlank(t *testing.T) {
	t.Setenv("DEVICEAGENT_TEST_STR", "")
	if got := String("DEVICEAGENT_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("DEVICEAGENT_TEST_STR", "  value  ")
	if got := String("DEVICEAGENT_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}

func TestDurationParsing(t *testing.T) {
	t.Setenv("DEVICEAGENT_TEST_DUR", "1500ms")
	if got := Duration("DEVICEAGENT_TEST_DUR", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %v", got)
	}
	t.Setenv("DEVICEAGENT_TEST_DUR", "not-a-duration")
	if got := Duration("DEVICEAGENT_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("expected fallback for invalid value, got %v", got)
	}
}

func TestIntAndFloatParsing(t *testing.T) {
	t.Setenv("DEVICEAGENT_TEST_INT", "42")
	if got := Int("DEVICEAGENT_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("DEVICEAGENT_TEST_INT", "42.5")
	if got := Int("DEVICEAGENT_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback for non-integer, got %d", got)
	}
	t.Setenv("DEVICEAGENT_TEST_FLOAT", "0.75")
	if got := Float("DEVICEAGENT_TEST_FLOAT", 1.0); got != 0.75 {
		t.Fatalf("expected 0.75, got %v", got)
	}
}

func TestBoolParsing(t *testing.T) {
	for _, val := range []string{"1", "true", "YES"} {
		t.Setenv("DEVICEAGENT_TEST_BOOL", val)
		if !Bool("DEVICEAGENT_TEST_BOOL", false) {
			t.Fatalf("expected %q to parse as true", val)
		}
	}
	for _, val := range []string{"0", "false", "No"} {
		t.Setenv("DEVICEAGENT_TEST_BOOL", val)
		if Bool("DEVICEAGENT_TEST_BOOL", true) {
			t.Fatalf("expected %q to parse as false", val)
		}
	}
	t.Setenv("DEVICEAGENT_TEST_BOOL", "maybe")
	if !Bool("DEVICEAGENT_TEST_BOOL", true) {
		t.Fatalf("expected fallback for unparseable value")
	}
}
