package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/limits/abuse"
)

var violationsFlags struct {
	day    string
	tier   string
	format string
}

var violationsCmd = &cobra.Command{
	Use:   "violations <client>",
	Short: "Show a client's daily violation count",
	Long: `Show how many requests of a client were rejected on a UTC day.

The count is read from the configured store. The threshold column is the
daily count that raises an abuse alert for the client's tier.

Examples:
  # Today's count
  gatekeeper violations acme

  # A past day, with the premium tier's threshold
  gatekeeper violations acme --day 2026-03-02 --tier premium`,
	Args: cobra.ExactArgs(1),
	RunE: runViolations,
}

func init() {
	rootCmd.AddCommand(violationsCmd)

	violationsCmd.Flags().StringVar(&violationsFlags.day, "day", "", "UTC day as YYYY-MM-DD (default today)")
	violationsCmd.Flags().StringVar(&violationsFlags.tier, "tier", "", "client tier, for the threshold column")
	violationsCmd.Flags().StringVar(&violationsFlags.format, "format", "text", "output format: text, json, csv")
}

// violationsReport is the output of the violations command.
type violationsReport struct {
	ClientID  string `json:"client_id"`
	Day       string `json:"day"`
	Count     int64  `json:"count"`
	Threshold int64  `json:"threshold"`
}

func (r violationsReport) Header() []string {
	return []string{"CLIENT", "DAY", "COUNT", "THRESHOLD"}
}

func (r violationsReport) Rows() [][]string {
	return [][]string{{
		r.ClientID,
		r.Day,
		strconv.FormatInt(r.Count, 10),
		strconv.FormatInt(r.Threshold, 10),
	}}
}

func runViolations(cmd *cobra.Command, args []string) error {
	day := time.Now().UTC()
	if violationsFlags.day != "" {
		parsed, err := time.Parse(abuse.DayLayout, violationsFlags.day)
		if err != nil {
			return cli.NewConfigError("day", fmt.Sprintf("expected YYYY-MM-DD, got %q", violationsFlags.day))
		}
		day = parsed
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := config.BuildRegistry(&cfg.Limits)
	if err != nil {
		return cli.NewConfigError("limits.tiers", err.Error())
	}
	tierCfg, _ := reg.Resolve(violationsFlags.tier)

	store, err := openStore(cfg.Limits.Storage)
	if err != nil {
		return cli.NewCommandError("violations", err)
	}
	defer store.Close()

	tracker := newTracker(&cfg.Limits, store)
	defer tracker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := tracker.DailyViolationCount(ctx, args[0], day)
	if err != nil {
		return cli.NewCommandError("violations", err)
	}

	report := violationsReport{
		ClientID:  args[0],
		Day:       day.Format(abuse.DayLayout),
		Count:     count,
		Threshold: tracker.Threshold(abuse.Violation{ClientID: args[0], Tier: tierCfg}),
	}
	if err := writeOutput(cmd.OutOrStdout(), violationsFlags.format, report); err != nil {
		return cli.NewCommandError("violations", err)
	}
	return nil
}
