package monitor

import (
	"context"
	"errors"
	"testing"
	"time"
)

const dialogHierarchy = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node text="" resource-id="android:id/content" bounds="[0,0][1080,1920]">
    <node text="Rate our app" resource-id="com.example:id/title" bounds="[100,700][980,800]"/>
    <node text="Not now" resource-id="com.example:id/dismiss" bounds="[100,900][540,1000]"/>
    <node text="Rate &amp; review" resource-id="com.example:id/confirm" bounds="[540,900][980,1000]"/>
  </node>
</hierarchy>`

func intPtr(v int) *int { return &v }

func TestWatcherAddValidation(t *testing.T) {
	w := NewWatcherManager(&stubSource{dev: &stubMonitorDevice{}})
	cond := []Condition{{Type: "text", Value: "Not now"}}

	if _, err := w.Add("serial-a", "", cond, "click", nil, 0); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := w.Add("serial-a", "dismiss", nil, "click", nil, 0); err == nil {
		t.Fatalf("expected error for empty conditions")
	}
	if _, err := w.Add("serial-a", "dismiss", cond, "explode", nil, 0); err == nil {
		t.Fatalf("expected error for unknown action")
	}
	if _, err := w.Add("serial-a", "dismiss", cond, "press:enter", nil, 0); err != nil {
		t.Fatalf("press:<key> should be a valid action: %v", err)
	}
}

func TestWatcherListOrderedByPriority(t *testing.T) {
	w := NewWatcherManager(&stubSource{dev: &stubMonitorDevice{}})
	cond := []Condition{{Type: "text", Value: "x"}}

	for name, priority := range map[string]int{"low": 1, "high": 10, "mid": 5} {
		if _, err := w.Add("serial-a", name, cond, "back", nil, priority); err != nil {
			t.Fatalf("Add %s failed: %v", name, err)
		}
	}
	rules := w.List("serial-a")
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(rules))
	}
	if rules[0].Name != "high" || rules[2].Name != "low" {
		t.Fatalf("unexpected order: %s, %s, %s", rules[0].Name, rules[1].Name, rules[2].Name)
	}

	if !w.Remove("serial-a", "mid") {
		t.Fatalf("Remove returned false for existing rule")
	}
	if w.Remove("serial-a", "mid") {
		t.Fatalf("Remove returned true for missing rule")
	}
	if len(w.List("serial-a")) != 2 {
		t.Fatalf("rule not removed")
	}
}

func TestCheckOnceClicksMatchedElement(t *testing.T) {
	dev := &stubMonitorDevice{hierarchy: dialogHierarchy}
	w := NewWatcherManager(&stubSource{dev: dev})

	if _, err := w.Add("serial-a", "dismiss-rating", []Condition{
		{Type: "text", Value: "Not now"},
	}, "click", nil, 0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	triggered, err := w.CheckOnce(context.Background(), "serial-a")
	if err != nil {
		t.Fatalf("CheckOnce failed: %v", err)
	}
	if triggered != "dismiss-rating" {
		t.Fatalf("expected trigger, got %q", triggered)
	}
	if len(dev.clicks) != 1 || dev.clicks[0] != [2]int{320, 950} {
		t.Fatalf("expected click at element center (320,950), got %v", dev.clicks)
	}

	rules := w.List("serial-a")
	if rules[0].TriggerCount != 1 || rules[0].LastTriggered == nil {
		t.Fatalf("trigger stats not updated: %+v", rules[0])
	}
}

func TestCheckOnceActionTargetSelectsCondition(t *testing.T) {
	dev := &stubMonitorDevice{hierarchy: dialogHierarchy}
	w := NewWatcherManager(&stubSource{dev: dev})

	// Match the title, click the dismiss button.
	if _, err := w.Add("serial-a", "dismiss-rating", []Condition{
		{Type: "text_contains", Value: "Rate our"},
		{Type: "resource_id", Value: "com.example:id/dismiss"},
	}, "click", intPtr(1), 0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if _, err := w.CheckOnce(context.Background(), "serial-a"); err != nil {
		t.Fatalf("CheckOnce failed: %v", err)
	}
	if len(dev.clicks) != 1 || dev.clicks[0] != [2]int{320, 950} {
		t.Fatalf("expected click on second condition's element, got %v", dev.clicks)
	}
}

func TestCheckOnceAllConditionsMustMatch(t *testing.T) {
	dev := &stubMonitorDevice{hierarchy: dialogHierarchy}
	w := NewWatcherManager(&stubSource{dev: dev})

	if _, err := w.Add("serial-a", "never", []Condition{
		{Type: "text", Value: "Not now"},
		{Type: "text", Value: "Does not exist"},
	}, "click", nil, 0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	triggered, err := w.CheckOnce(context.Background(), "serial-a")
	if err != nil {
		t.Fatalf("CheckOnce failed: %v", err)
	}
	if triggered != "" {
		t.Fatalf("rule with unmatched condition must not fire, got %q", triggered)
	}
	if len(dev.clicks) != 0 {
		t.Fatalf("no click expected, got %v", dev.clicks)
	}
}

func TestCheckOnceHighestPriorityWins(t *testing.T) {
	dev := &stubMonitorDevice{hierarchy: dialogHierarchy}
	w := NewWatcherManager(&stubSource{dev: dev})

	cond := []Condition{{Type: "resource_id_contains", Value: "com.example"}}
	if _, err := w.Add("serial-a", "low", cond, "home", nil, 1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := w.Add("serial-a", "high", cond, "back", nil, 9); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	triggered, err := w.CheckOnce(context.Background(), "serial-a")
	if err != nil {
		t.Fatalf("CheckOnce failed: %v", err)
	}
	if triggered != "high" {
		t.Fatalf("expected high-priority rule, got %q", triggered)
	}
	if len(dev.keys) != 1 || dev.keys[0] != "back" {
		t.Fatalf("expected back press, got %v", dev.keys)
	}
}

func TestWatcherStartValidatesInterval(t *testing.T) {
	w := NewWatcherManager(&stubSource{dev: &stubMonitorDevice{}})
	if _, err := w.Start("serial-a", 0); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if w.IsRunning("serial-a") {
		t.Fatalf("failed start must not leave a loop behind")
	}
}

func TestWatcherStartStopLifecycle(t *testing.T) {
	dev := &stubMonitorDevice{hierarchy: dialogHierarchy}
	w := NewWatcherManager(&stubSource{dev: dev})

	if _, err := w.Add("serial-a", "dismiss-rating", []Condition{
		{Type: "text", Value: "Not now"},
	}, "click", nil, 0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	started, err := w.Start("serial-a", 10*time.Millisecond)
	if err != nil || !started {
		t.Fatalf("Start failed: started=%t err=%v", started, err)
	}
	// A second start on the same device is a no-op, not an error.
	started, err = w.Start("serial-a", time.Second)
	if err != nil {
		t.Fatalf("second Start errored: %v", err)
	}
	if started {
		t.Fatalf("second Start should report already running")
	}

	deadline := time.After(2 * time.Second)
	for {
		dev.mu.Lock()
		clicks := len(dev.clicks)
		dev.mu.Unlock()
		if clicks >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("watcher loop never triggered twice")
		case <-time.After(5 * time.Millisecond):
		}
	}

	summary := w.Stop("serial-a")
	if w.IsRunning("serial-a") {
		t.Fatalf("loop still registered after stop")
	}
	if summary.TotalWatchers != 1 {
		t.Fatalf("expected 1 watcher in summary, got %d", summary.TotalWatchers)
	}
	if len(summary.Triggers) != 1 || summary.Triggers[0].TriggerCount < 2 {
		t.Fatalf("unexpected trigger stats: %+v", summary.Triggers)
	}
}

func TestWatcherLoopStopsAfterConsecutiveErrors(t *testing.T) {
	dev := &stubMonitorDevice{dumpErr: errors.New("device offline")}
	w := NewWatcherManager(&stubSource{dev: dev})

	if _, err := w.Add("serial-a", "dismiss", []Condition{
		{Type: "text", Value: "x"},
	}, "back", nil, 0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	started, err := w.Start("serial-a", time.Millisecond)
	if err != nil || !started {
		t.Fatalf("Start failed: started=%t err=%v", started, err)
	}

	deadline := time.After(2 * time.Second)
	for w.IsRunning("serial-a") {
		select {
		case <-deadline:
			t.Fatalf("loop did not stop after consecutive errors")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestParseHierarchyBoundsAndEscapes(t *testing.T) {
	nodes := parseHierarchy(dialogHierarchy)
	if len(nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(nodes))
	}

	node, ok := findMatch(nodes, Condition{Type: "text_contains", Value: "Rate & review"})
	if !ok {
		t.Fatalf("expected unescaped text to match")
	}
	x, y := node.center()
	if x != 760 || y != 950 {
		t.Fatalf("unexpected center (%d,%d)", x, y)
	}

	if _, ok := findMatch(nodes, Condition{Type: "text_contains", Value: ""}); ok {
		t.Fatalf("empty contains-value must not match everything")
	}
}
