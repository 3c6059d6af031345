package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/limits/tier"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and print the tier table",
	Long: `Load and validate the configuration, then print the resolved tier table.

Every validation error is reported at once. Environment overrides are applied
before validation, exactly as the server applies them.

Examples:
  # Validate the default config file
  gatekeeper validate

  # Validate another file and print the tiers as JSON
  gatekeeper validate --config /etc/gatekeeper/gatekeeper.yaml --format json`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json, csv")
}

// tierRow is one line of the tier table.
type tierRow struct {
	Name                string  `json:"name"`
	Capacity            int64   `json:"capacity"`
	RefillRatePerSecond float64 `json:"refill_rate_per_second"`
	IdleTTL             string  `json:"idle_ttl"`
	AbuseDailyThreshold int64   `json:"abuse_daily_threshold"`
	Default             bool    `json:"default"`
}

// tierTable renders a registry lowest quota first.
type tierTable []tierRow

func newTierTable(reg *tier.Registry, globalThreshold int64) tierTable {
	def := reg.Default().Name
	tiers := reg.Tiers()

	table := make(tierTable, 0, len(tiers))
	for _, t := range tiers {
		threshold := t.AbuseDailyThreshold
		if threshold == 0 {
			threshold = globalThreshold
		}
		table = append(table, tierRow{
			Name:                t.Name.String(),
			Capacity:            t.Capacity,
			RefillRatePerSecond: t.RefillRatePerSecond,
			IdleTTL:             t.IdleTTL().String(),
			AbuseDailyThreshold: threshold,
			Default:             t.Name == def,
		})
	}
	return table
}

func (t tierTable) Header() []string {
	return []string{"TIER", "CAPACITY", "REFILL/S", "IDLE_TTL", "ABUSE_THRESHOLD", "DEFAULT"}
}

func (t tierTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		def := ""
		if r.Default {
			def = "*"
		}
		rows = append(rows, []string{
			r.Name,
			strconv.FormatInt(r.Capacity, 10),
			strconv.FormatFloat(r.RefillRatePerSecond, 'g', -1, 64),
			r.IdleTTL,
			strconv.FormatInt(r.AbuseDailyThreshold, 10),
			def,
		})
	}
	return rows
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(validateFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := config.BuildRegistry(&cfg.Limits)
	if err != nil {
		return cli.NewConfigError("limits.tiers", err.Error())
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatText {
		fmt.Fprintf(out, "✓ Configuration valid: %s\n", cfgFile)
		fmt.Fprintf(out, "  Backend: %s, failure policy: %s\n\n", backendName(cfg.Limits.Storage.Backend), cfg.Limits.FailurePolicy)
	}

	if err := writeOutput(out, validateFlags.format, newTierTable(reg, cfg.Limits.Abuse.DailyThreshold)); err != nil {
		return cli.NewCommandError("validate", err)
	}
	return nil
}
