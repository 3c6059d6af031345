package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/limits"
	"mercator-hq/gatekeeper/pkg/limits/abuse"
	"mercator-hq/gatekeeper/pkg/server"
)

var checkFlags struct {
	client       string
	tier         string
	endpoint     string
	tokens       int64
	levels       bool
	endpointTier string
	globalTier   string
	repeat       int
	format       string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run admission checks against the configured store",
	Long: `Run one or more admission checks directly against the configured store.

Checks debit the same buckets the server does, so this is a quick way to
inspect a client's quota or to drain it while testing. The command exits
with status 3 when the last check was rejected.

Examples:
  # Check a premium client once
  gatekeeper check --client acme --tier premium

  # Drain a free client's bucket
  gatekeeper check --client acme --tier free --repeat 100

  # Check the endpoint, account and global levels together
  gatekeeper check --client acme --tier premium --levels \
    --endpoint /v1/orders --endpoint-tier free --global-tier global

  # Machine-readable output
  gatekeeper check --client acme --format json`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkFlags.client, "client", "", "client id (required)")
	checkCmd.Flags().StringVar(&checkFlags.tier, "tier", "", "client tier (default tier if empty)")
	checkCmd.Flags().StringVar(&checkFlags.endpoint, "endpoint", "", "endpoint being called")
	checkCmd.Flags().Int64Var(&checkFlags.tokens, "tokens", 1, "tokens to request")
	checkCmd.Flags().BoolVar(&checkFlags.levels, "levels", false, "run a multi-level check")
	checkCmd.Flags().StringVar(&checkFlags.endpointTier, "endpoint-tier", "", "tier of the per-endpoint bucket (with --levels)")
	checkCmd.Flags().StringVar(&checkFlags.globalTier, "global-tier", "", "tier of the global bucket (with --levels)")
	checkCmd.Flags().IntVar(&checkFlags.repeat, "repeat", 1, "number of checks to run")
	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "output format: text, json, csv")
	_ = checkCmd.MarkFlagRequired("client")
}

// checkTable renders check results one row per check.
type checkTable []server.CheckResponse

func (t checkTable) Header() []string {
	return []string{"#", "ALLOWED", "REMAINING", "LIMIT", "RETRY_AFTER", "TIER", "LEVEL", "SOURCE", "REASON"}
}

func (t checkTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for i, r := range t {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatBool(r.Allowed),
			strconv.FormatInt(r.Remaining, 10),
			strconv.FormatInt(r.Limit, 10),
			strconv.FormatInt(r.RetryAfterSeconds, 10) + "s",
			r.Tier,
			r.Level,
			r.Source,
			r.Reason,
		})
	}
	return rows
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkFlags.repeat < 1 {
		return cli.NewConfigError("repeat", "must be at least 1")
	}
	if _, err := cli.ParseOutputFormat(checkFlags.format); err != nil {
		return cli.NewConfigError("format", err.Error())
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Logs only with --verbose, on stderr, so they never mix with results.
	logger := slog.New(slog.DiscardHandler)
	if verbose {
		if logger, err = newLogger(cfg.Telemetry.Logging, os.Stderr); err != nil {
			return err
		}
	}

	store, err := openStore(cfg.Limits.Storage)
	if err != nil {
		return cli.NewCommandError("check", err)
	}
	defer store.Close()

	opts := []limits.Option{limits.WithLogger(logger)}
	if cfg.Limits.Abuse.Enabled {
		tracker := newTracker(&cfg.Limits, store, abuse.WithLogger(logger))
		// Close drains queued violations before the store closes.
		defer tracker.Close()
		opts = append(opts, limits.WithViolationNotifier(tracker))
	}

	coordinator, err := newCoordinator(&cfg.Limits, store, opts...)
	if err != nil {
		return err
	}

	req := limits.Request{
		ClientID: checkFlags.client,
		Tier:     checkFlags.tier,
		Endpoint: checkFlags.endpoint,
		Tokens:   checkFlags.tokens,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	results := make(checkTable, 0, checkFlags.repeat)
	for i := 0; i < checkFlags.repeat; i++ {
		res, err := runOneCheck(ctx, coordinator, req)
		if err != nil {
			return cli.NewCommandError("check", err)
		}
		results = append(results, server.NewCheckResponse(res))
	}

	if err := writeOutput(cmd.OutOrStdout(), checkFlags.format, results); err != nil {
		return cli.NewCommandError("check", err)
	}

	if !results[len(results)-1].Allowed {
		return cli.ErrRejected
	}
	return nil
}

func runOneCheck(ctx context.Context, coordinator *limits.Coordinator, req limits.Request) (*limits.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if !checkFlags.levels {
		return coordinator.Check(ctx, req)
	}

	if checkFlags.endpointTier != "" && req.Endpoint == "" {
		return nil, fmt.Errorf("--endpoint-tier requires --endpoint")
	}
	return coordinator.CheckLevels(ctx, limits.LevelRequest{
		Request:      req,
		EndpointTier: checkFlags.endpointTier,
		GlobalTier:   checkFlags.globalTier,
	})
}
