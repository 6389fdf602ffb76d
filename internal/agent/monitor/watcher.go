package monitor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// maxConsecutiveWatchErrors stops a watcher loop that keeps failing, so a
// dead device does not spin forever.
const maxConsecutiveWatchErrors = 10

// Condition triggers a watcher rule when a matching UI node is present.
// Type is one of text, text_contains, resource_id, resource_id_contains.
type Condition struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Rule pairs trigger conditions with an action: "click" (the matched
// element), "back", "home", or "press:<key>". All conditions must match for
// the rule to fire; ActionTarget selects which condition's element to click.
type Rule struct {
	Name          string
	Conditions    []Condition
	Action        string
	ActionTarget  *int
	Priority      int
	Enabled       bool
	TriggerCount  int
	LastTriggered *time.Time
}

type watchLoop struct {
	cancel       context.CancelFunc
	done         chan struct{}
	pollInterval time.Duration
}

// WatcherManager runs one UI-change watcher loop per watched device. Each
// loop polls on its own interval, captured when the loop starts.
type WatcherManager struct {
	source DeviceSource

	mu    sync.Mutex
	rules map[string]map[string]*Rule // device id -> rule name -> rule
	loops map[string]*watchLoop       // device id -> running loop
}

// NewWatcherManager builds a watcher manager on top of the given device source.
func NewWatcherManager(source DeviceSource) *WatcherManager {
	return &WatcherManager{
		source: source,
		rules:  make(map[string]map[string]*Rule),
		loops:  make(map[string]*watchLoop),
	}
}

// Add registers a rule for a device, replacing any rule of the same name.
func (w *WatcherManager) Add(deviceID, name string, conditions []Condition, action string, actionTarget *int, priority int) (*Rule, error) {
	if name == "" {
		return nil, errors.New("watcher name is required")
	}
	if len(conditions) == 0 {
		return nil, errors.New("watcher needs at least one condition")
	}
	if action != "click" && action != "back" && action != "home" && !strings.HasPrefix(action, "press:") {
		return nil, errors.Errorf("unknown watcher action: %q", action)
	}
	rule := &Rule{
		Name:         name,
		Conditions:   append([]Condition(nil), conditions...),
		Action:       action,
		ActionTarget: actionTarget,
		Priority:     priority,
		Enabled:      true,
	}
	w.mu.Lock()
	if w.rules[deviceID] == nil {
		w.rules[deviceID] = make(map[string]*Rule)
	}
	w.rules[deviceID][name] = rule
	w.mu.Unlock()

	log.Info().Str("watcher", name).Str("device", deviceID).Msg("watcher added")
	return rule, nil
}

// Remove deletes a rule. It reports whether the rule existed.
func (w *WatcherManager) Remove(deviceID, name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	rules, ok := w.rules[deviceID]
	if !ok {
		return false
	}
	if _, ok := rules[name]; !ok {
		return false
	}
	delete(rules, name)
	return true
}

// List returns copies of a device's rules ordered by priority, highest first.
func (w *WatcherManager) List(deviceID string) []Rule {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Rule, 0, len(w.rules[deviceID]))
	for _, rule := range w.rules[deviceID] {
		out = append(out, *rule)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ResetStats clears trigger counters for a device's rules.
func (w *WatcherManager) ResetStats(deviceID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, rule := range w.rules[deviceID] {
		rule.TriggerCount = 0
		rule.LastTriggered = nil
	}
}

// IsRunning reports whether a watcher loop is active for the device.
func (w *WatcherManager) IsRunning(deviceID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.loops[deviceID]
	return ok
}

// Start launches the watcher loop for a device. It returns false without
// error when a loop is already running. The interval is validated before
// any goroutine is created.
func (w *WatcherManager) Start(deviceID string, pollInterval time.Duration) (bool, error) {
	if pollInterval <= 0 {
		return false, errors.New("poll interval must be greater than 0")
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &watchLoop{
		cancel:       cancel,
		done:         make(chan struct{}),
		pollInterval: pollInterval,
	}

	w.mu.Lock()
	if _, ok := w.loops[deviceID]; ok {
		w.mu.Unlock()
		cancel()
		return false, nil
	}
	w.loops[deviceID] = loop
	w.mu.Unlock()

	go w.run(ctx, deviceID, loop)

	log.Info().Str("device", deviceID).Dur("poll_interval", pollInterval).
		Msg("watcher monitoring started")
	return true, nil
}

// run polls on the loop's own captured interval until cancelled or until too
// many consecutive failures.
func (w *WatcherManager) run(ctx context.Context, deviceID string, loop *watchLoop) {
	defer close(loop.done)
	defer func() {
		w.mu.Lock()
		if w.loops[deviceID] == loop {
			delete(w.loops, deviceID)
		}
		w.mu.Unlock()
		log.Info().Str("device", deviceID).Msg("watcher loop stopped")
	}()

	consecutiveErrors := 0
	ticker := time.NewTicker(loop.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.CheckOnce(ctx, deviceID); err != nil {
			consecutiveErrors++
			log.Error().Err(err).Int("consecutive", consecutiveErrors).
				Str("device", deviceID).Msg("watcher check failed")
			if consecutiveErrors >= maxConsecutiveWatchErrors {
				log.Error().Str("device", deviceID).Msg("too many consecutive watcher errors")
				return
			}
		} else {
			consecutiveErrors = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckOnce evaluates all rules for a device against the current UI
// hierarchy and fires the first matching rule. It returns the name of the
// triggered rule, or "" when nothing matched.
func (w *WatcherManager) CheckOnce(ctx context.Context, deviceID string) (string, error) {
	w.mu.Lock()
	rules := make([]*Rule, 0, len(w.rules[deviceID]))
	for _, rule := range w.rules[deviceID] {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	w.mu.Unlock()
	if len(rules) == 0 {
		return "", nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	dev, err := w.source.Acquire(ctx, deviceID)
	if err != nil {
		return "", err
	}
	xml, err := dev.DumpHierarchy(ctx)
	if err != nil {
		return "", errors.Wrap(err, "dump hierarchy")
	}
	nodes := parseHierarchy(xml)

	for _, rule := range rules {
		target, matched := matchRule(nodes, rule)
		if !matched {
			continue
		}
		if err := performAction(ctx, dev, rule.Action, target); err != nil {
			return "", errors.Wrapf(err, "watcher %s action", rule.Name)
		}
		now := time.Now()
		w.mu.Lock()
		rule.TriggerCount++
		rule.LastTriggered = &now
		w.mu.Unlock()
		log.Info().Str("watcher", rule.Name).Str("device", deviceID).Msg("watcher triggered")
		return rule.Name, nil
	}
	return "", nil
}

// matchRule requires every condition to match and picks the click target:
// the ActionTarget-indexed condition's element, or the first condition's.
func matchRule(nodes []uiNode, rule *Rule) (uiNode, bool) {
	var target uiNode
	for i, cond := range rule.Conditions {
		node, ok := findMatch(nodes, cond)
		if !ok {
			return uiNode{}, false
		}
		if i == 0 || (rule.ActionTarget != nil && i == *rule.ActionTarget) {
			target = node
		}
	}
	return target, true
}

func performAction(ctx context.Context, dev Device, action string, target uiNode) error {
	switch {
	case action == "click":
		if !target.HasBounds {
			return errors.New("matched element has no bounds to click")
		}
		x, y := target.center()
		return dev.Click(ctx, x, y)
	case action == "back":
		return dev.PressKey(ctx, "back")
	case action == "home":
		return dev.PressKey(ctx, "home")
	case strings.HasPrefix(action, "press:"):
		return dev.PressKey(ctx, strings.TrimPrefix(action, "press:"))
	default:
		return errors.Errorf("unknown watcher action: %q", action)
	}
}

// TriggerStat reports activity for one rule in a stop summary.
type TriggerStat struct {
	Name          string     `json:"name"`
	TriggerCount  int        `json:"trigger_count"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
}

// WatchSummary reports watcher activity when a loop stops.
type WatchSummary struct {
	TotalWatchers int           `json:"total_watchers"`
	Triggers      []TriggerStat `json:"triggers"`
}

// Stop signals the device's watcher loop to exit at its next wake-up and
// returns a summary of rule activity. Stopping an idle device just reports.
func (w *WatcherManager) Stop(deviceID string) *WatchSummary {
	w.mu.Lock()
	loop := w.loops[deviceID]
	w.mu.Unlock()

	if loop != nil {
		loop.cancel()
		select {
		case <-loop.done:
		case <-time.After(2 * time.Second):
			log.Warn().Str("device", deviceID).Msg("watcher loop slow to exit")
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	summary := &WatchSummary{TotalWatchers: len(w.rules[deviceID])}
	for _, rule := range w.rules[deviceID] {
		if rule.TriggerCount > 0 {
			summary.Triggers = append(summary.Triggers, TriggerStat{
				Name:          rule.Name,
				TriggerCount:  rule.TriggerCount,
				LastTriggered: rule.LastTriggered,
			})
		}
	}
	sort.Slice(summary.Triggers, func(i, j int) bool {
		return summary.Triggers[i].Name < summary.Triggers[j].Name
	})
	return summary
}
