package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	deviceagent "github.com/httprunner/DeviceAgent"
	"github.com/httprunner/DeviceAgent/internal/agent/monitor"
	"github.com/httprunner/DeviceAgent/internal/config"
)

func newWatchCmd() *cobra.Command {
	var (
		flagDevice       string
		flagRules        string
		flagPollInterval time.Duration
		flagOnce         bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run UI watcher rules against a device",
		Long:  "Loads watcher rules from a JSON file and either checks them once or supervises the device until interrupted, dismissing matching dialogs as they appear.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if flagRules == "" {
				return errors.New("--rules is required")
			}
			rules, err := loadWatcherRules(flagRules)
			if err != nil {
				return err
			}

			agent, err := deviceagent.New(deviceagent.Config{})
			if err != nil {
				return err
			}
			for _, rule := range rules {
				if _, err := agent.WatcherAdd(ctx, flagDevice, rule.Name, rule.Conditions, rule.Action, rule.ActionTarget, rule.Priority); err != nil {
					return errors.Wrapf(err, "add watcher %q", rule.Name)
				}
			}

			if flagOnce {
				triggered, err := agent.WatcherCheckOnce(ctx, flagDevice)
				if err != nil {
					return err
				}
				if triggered == "" {
					fmt.Println("no watcher triggered")
				} else {
					fmt.Printf("triggered: %s\n", triggered)
				}
				return nil
			}

			started, err := agent.WatcherStart(ctx, flagDevice, flagPollInterval)
			if err != nil {
				return err
			}
			if !started {
				return errors.New("watcher already running for device")
			}
			log.Info().Str("device", flagDevice).Dur("poll_interval", flagPollInterval).
				Int("rules", len(rules)).Msg("watcher running")

			sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-sigCtx.Done()

			summary, err := agent.WatcherStop(ctx, flagDevice)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&flagDevice, "device", "", "Device serial (empty auto-resolves)")
	cmd.Flags().StringVar(&flagRules, "rules", "", "Path to a JSON file of watcher rules")
	cmd.Flags().DurationVar(&flagPollInterval, "poll-interval",
		config.Duration("DEVICEAGENT_WATCH_INTERVAL", 2*time.Second),
		"Hierarchy polling interval")
	cmd.Flags().BoolVar(&flagOnce, "once", false, "Evaluate the rules once and exit")

	return cmd
}

// watcherRuleFile mirrors monitor.Rule's user-settable fields.
type watcherRuleFile struct {
	Name         string              `json:"name"`
	Conditions   []monitor.Condition `json:"conditions"`
	Action       string              `json:"action"`
	ActionTarget *int                `json:"action_target,omitempty"`
	Priority     int                 `json:"priority"`
}

func loadWatcherRules(path string) ([]watcherRuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read rules file")
	}
	var rules []watcherRuleFile
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, errors.Wrap(err, "parse rules file")
	}
	for i, rule := range rules {
		if strings.TrimSpace(rule.Name) == "" {
			return nil, errors.Errorf("rule %d: name is required", i)
		}
	}
	return rules, nil
}
