package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/limits"
)

var benchFlags struct {
	clients     int
	requests    int
	concurrency int
	tier        string
	tokens      int64
	format      string
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load test admission checks against the configured store",
	Long: `Drive concurrent admission checks against the configured store.

Requests are spread round-robin over a set of synthetic clients. Each check
takes the same path as a server request, including the circuit breaker and
the local cache, so the results show the decision latency of this instance
against its store.

Metrics Collected:
  - Check throughput (checks/sec)
  - Latency percentiles (p50, p95, p99, max)
  - Admitted, rejected, degraded and failed counts

Examples:
  # Basic benchmark
  gatekeeper bench

  # Many clients with high concurrency
  gatekeeper bench --clients 1000 --requests 100000 --concurrency 64

  # Benchmark the premium tier against Redis
  GATEKEEPER_LIMITS_STORAGE_BACKEND=redis gatekeeper bench --tier premium`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().IntVar(&benchFlags.clients, "clients", 10, "number of synthetic clients")
	benchCmd.Flags().IntVar(&benchFlags.requests, "requests", 10000, "total checks to run")
	benchCmd.Flags().IntVar(&benchFlags.concurrency, "concurrency", 8, "concurrent workers")
	benchCmd.Flags().StringVar(&benchFlags.tier, "tier", "", "tier of the synthetic clients (default tier if empty)")
	benchCmd.Flags().Int64Var(&benchFlags.tokens, "tokens", 1, "tokens per check")
	benchCmd.Flags().StringVar(&benchFlags.format, "format", "text", "output format: text, json")
}

// benchResults is the outcome of a benchmark run.
type benchResults struct {
	Total      int           `json:"total"`
	Admitted   int64         `json:"admitted"`
	Rejected   int64         `json:"rejected"`
	Degraded   int64         `json:"degraded"`
	Failed     int64         `json:"failed"`
	Duration   time.Duration `json:"duration_ns"`
	Throughput float64       `json:"throughput"`
	Latency    latencyStats  `json:"latency"`
}

// latencyStats summarizes check latencies.
type latencyStats struct {
	Min    time.Duration `json:"min_ns"`
	Mean   time.Duration `json:"mean_ns"`
	Median time.Duration `json:"median_ns"`
	P95    time.Duration `json:"p95_ns"`
	P99    time.Duration `json:"p99_ns"`
	Max    time.Duration `json:"max_ns"`
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchFlags.clients < 1 || benchFlags.requests < 1 || benchFlags.concurrency < 1 {
		return cli.NewConfigError("", "--clients, --requests and --concurrency must be at least 1")
	}
	format, err := cli.ParseOutputFormat(benchFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Limits.Storage)
	if err != nil {
		return cli.NewCommandError("bench", err)
	}
	defer store.Close()

	coordinator, err := newCoordinator(&cfg.Limits, store, limits.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatText {
		fmt.Fprintln(out, "Gatekeeper Benchmark")
		fmt.Fprintln(out, "====================")
		fmt.Fprintf(out, "Backend:     %s\n", backendName(cfg.Limits.Storage.Backend))
		tierCfg, _ := coordinator.Registry().Resolve(benchFlags.tier)
		fmt.Fprintf(out, "Tier:        %s (capacity %d)\n", tierCfg.Name, tierCfg.Capacity)
		fmt.Fprintf(out, "Clients:     %d\n", benchFlags.clients)
		fmt.Fprintf(out, "Requests:    %d\n", benchFlags.requests)
		fmt.Fprintf(out, "Concurrency: %d\n", benchFlags.concurrency)
		fmt.Fprintln(out)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	progress := cli.NewProgressReporter(cmd.ErrOrStderr())
	results := runLoadTest(ctx, coordinator, progress)

	if format != cli.FormatText {
		return writeOutput(out, benchFlags.format, results)
	}
	displayResults(out, results)
	return nil
}

func runLoadTest(ctx context.Context, checker *limits.Coordinator, progress cli.ProgressReporter) *benchResults {
	results := &benchResults{Total: benchFlags.requests}

	var (
		next      atomic.Int64
		done      atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, benchFlags.requests)
		wg        sync.WaitGroup
	)

	progress.Start(int64(benchFlags.requests))
	start := time.Now()

	for w := 0; w < benchFlags.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			local := make([]time.Duration, 0, benchFlags.requests/benchFlags.concurrency+1)
			defer func() {
				mu.Lock()
				latencies = append(latencies, local...)
				mu.Unlock()
			}()

			for {
				i := next.Add(1) - 1
				if i >= int64(benchFlags.requests) || ctx.Err() != nil {
					return
				}

				req := limits.Request{
					ClientID: "bench-" + strconv.Itoa(int(i)%benchFlags.clients),
					Tier:     benchFlags.tier,
					Tokens:   benchFlags.tokens,
				}

				reqStart := time.Now()
				res, err := checker.Check(ctx, req)
				local = append(local, time.Since(reqStart))

				switch {
				case err != nil:
					atomic.AddInt64(&results.Failed, 1)
				case res.Allowed:
					atomic.AddInt64(&results.Admitted, 1)
				default:
					atomic.AddInt64(&results.Rejected, 1)
				}
				if err == nil && res.Source.Degraded() {
					atomic.AddInt64(&results.Degraded, 1)
				}

				progress.Update(done.Add(1))
			}
		}()
	}

	wg.Wait()
	progress.Finish()

	results.Duration = time.Since(start)
	if secs := results.Duration.Seconds(); secs > 0 {
		results.Throughput = float64(len(latencies)) / secs
	}
	results.Latency = calculatePercentiles(latencies)

	return results
}

func displayResults(w io.Writer, results *benchResults) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Results:")
	fmt.Fprintln(w, "--------")
	fmt.Fprintf(w, "Checks:          %d total, %d admitted, %d rejected, %d failed\n",
		results.Total, results.Admitted, results.Rejected, results.Failed)
	if results.Degraded > 0 {
		fmt.Fprintf(w, "Degraded:        %d (store unavailable)\n", results.Degraded)
	}
	fmt.Fprintf(w, "Duration:        %.2fs\n", results.Duration.Seconds())
	fmt.Fprintf(w, "Throughput:      %.0f checks/s\n", results.Throughput)

	l := results.Latency
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Latency:")
	fmt.Fprintf(w, "  Min:     %s\n", l.Min)
	fmt.Fprintf(w, "  Mean:    %s\n", l.Mean)
	fmt.Fprintf(w, "  Median:  %s\n", l.Median)
	fmt.Fprintf(w, "  p95:     %s\n", l.P95)
	fmt.Fprintf(w, "  p99:     %s\n", l.P99)
	fmt.Fprintf(w, "  Max:     %s\n", l.Max)
}

func calculatePercentiles(latencies []time.Duration) latencyStats {
	if len(latencies) == 0 {
		return latencyStats{}
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, lat := range sorted {
		sum += lat
	}

	return latencyStats{
		Min:    sorted[0],
		Mean:   sum / time.Duration(len(sorted)),
		Median: sorted[len(sorted)/2],
		P95:    sorted[int(float64(len(sorted))*0.95)],
		P99:    sorted[int(float64(len(sorted))*0.99)],
		Max:    sorted[len(sorted)-1],
	}
}
