package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noperator/coinrank/pkg/coinrank"
	"github.com/openai/openai-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	inputFile   string
	forceJSON   bool
	budget      int
	seed        uint64
	outputFile  string
	metricsFile string
	observe     bool
	pause       time.Duration

	oaiModel string
	oaiURL   string
	encoding string
	dryRun   bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a search over the coins of a scenario file",
	Long: `Load a YAML or JSON scenario, run one search and print the result as JSON.
When the scenario declares hidden probabilities the true target is reported too.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVarP(&runOpts.inputFile, "file", "f", "", "Scenario file (YAML, or JSON by extension)")
	f.BoolVar(&runOpts.forceJSON, "json", false, "Force JSON parsing regardless of file extension")
	f.IntVarP(&runOpts.budget, "budget", "b", 0, "Flip budget (0 = use the scenario budget)")
	f.Uint64Var(&runOpts.seed, "seed", 0, "Seed for simulated coins (overrides the scenario seed when set)")
	f.StringVarP(&runOpts.outputFile, "output", "o", "", "JSON output file")
	f.StringVar(&runOpts.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")
	f.BoolVar(&runOpts.observe, "observe", false, "Enable live visualization of the ranking")
	f.DurationVar(&runOpts.pause, "pause", 0, "Time to hold each refinement frame when observing")

	f.StringVar(&runOpts.oaiModel, "openai-model", openai.ChatModelGPT4oMini, "OpenAI model name for prompt coins")
	f.StringVar(&runOpts.oaiURL, "openai-url", "", "OpenAI API base URL (e.g., for OpenAI-compatible API like vLLM)")
	f.StringVar(&runOpts.encoding, "encoding", "o200k_base", "Tokenizer encoding for prompt coins")
	f.BoolVar(&runOpts.dryRun, "dry-run", false, "Answer prompt coins from a seeded fair coin instead of calling the API")

	_ = runCmd.MarkFlagRequired("file")
}

func runRun(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	sc, err := coinrank.LoadScenario(runOpts.inputFile, runOpts.forceJSON)
	if err != nil {
		return err
	}
	if runOpts.budget > 0 {
		sc.Budget = runOpts.budget
	}
	if cmd.Flags().Changed("seed") {
		sc.Seed = runOpts.seed
	}

	if cmd.Flags().Changed("openai-model") || sc.LLM.OpenAIModel == "" {
		sc.LLM.OpenAIModel = runOpts.oaiModel
	}
	if runOpts.oaiURL != "" {
		sc.LLM.OpenAIAPIURL = runOpts.oaiURL
	}
	if cmd.Flags().Changed("encoding") || sc.LLM.Encoding == "" {
		sc.LLM.Encoding = runOpts.encoding
	}
	sc.LLM.DryRun = sc.LLM.DryRun || runOpts.dryRun
	sc.LLM.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	sc.LLM.Logger = logger

	// Raw terminal mode turns Ctrl+C into a key event; the screen watcher
	// handles that case, this one the rest.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := search(ctx, sc, logger, runOpts)
	if err != nil {
		return err
	}

	jsonResults, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal results to JSON: %w", err)
	}

	// Only print to stdout if not in observe mode (terminal state interferes)
	if !runOpts.observe {
		fmt.Fprintln(cmd.OutOrStdout(), string(jsonResults))
	}

	if runOpts.outputFile != "" {
		if err := os.WriteFile(runOpts.outputFile, jsonResults, 0644); err != nil {
			return fmt.Errorf("could not write results: %w", err)
		}
		logger.Info("results written to file", "file", runOpts.outputFile)
	} else if runOpts.observe {
		logger.Info("Observe mode: use -o flag to write JSON results to file")
	}
	return nil
}

// report is the CLI output: the search result plus the coins in search order
// and, when every probability is known, the true target.
type report struct {
	*coinrank.Result
	Coins      []coinrank.CoinSpec `json:"coins"`
	TrueTarget *int                `json:"true_target,omitempty"`
	Correct    *bool               `json:"correct,omitempty"`
}

func search(ctx context.Context, sc *coinrank.Scenario, logger *slog.Logger, opts runOptions) (*report, error) {
	coins := sc.Arrange()
	sources, err := sc.Sources(coins)
	if err != nil {
		return nil, err
	}

	var tracers coinrank.MultiTracer

	var registry *prometheus.Registry
	if opts.metricsFile != "" {
		registry = prometheus.NewRegistry()
		tracers = append(tracers, coinrank.NewMetricsTracer(registry))
	}

	if opts.observe {
		screen, err := coinrank.OpenScreenTracer()
		if err != nil {
			return nil, err
		}
		defer screen.Close()
		screen.Pause = opts.pause
		tracers = append(tracers, screen)
		ctx = screen.Watch(ctx)
	}

	config := &coinrank.Config{
		Budget:  sc.Budget,
		Verbose: verbose && !opts.observe,
		Logger:  logger,
	}
	if len(tracers) > 0 {
		config.Tracer = tracers
	}

	res, err := coinrank.NewFinder(config).Find(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	if registry != nil {
		if err := prometheus.WriteToTextfile(opts.metricsFile, registry); err != nil {
			return nil, fmt.Errorf("could not write metrics: %w", err)
		}
		logger.Info("metrics written to file", "file", opts.metricsFile)
	}

	out := &report{Result: res, Coins: coins}
	probs := coinrank.Probabilities(coins)
	if allKnown(probs) {
		if target, ok := coinrank.TrueTarget(probs); ok {
			correct := res.Found && res.Index == target
			out.TrueTarget = &target
			out.Correct = &correct
		}
	}
	return out, nil
}

func allKnown(probs []float64) bool {
	for _, p := range probs {
		if math.IsNaN(p) {
			return false
		}
	}
	return len(probs) > 0
}
