package coinrank

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

/*
A search spends a fixed budget of observations over n coins and returns the
coin ranked fifth by commonness among the cold ones (estimate >= 0.5):

  explore   even round-robin pass using about a third of the budget
  select    cold group, or the five highest estimates when it is too small
  refine    repeatedly rank the group and observe ranks 3..5, plus ranks 0
            and 6 as guards, until the budget runs out
  finalize  rank once more and take rank 4

Candidate membership is fixed after select; only the order inside it moves.
*/

type Config struct {
	Budget   int          `json:"budget"`
	Verbose  bool         `json:"verbose"`
	Tracer   Tracer       `json:"-"` // optional sink; combined with the log narration when Verbose
	Logger   *slog.Logger `json:"-"`
	LogLevel slog.Level   `json:"-"` // Defaults to 0 (slog.LevelInfo)
}

type Finder struct {
	cfg *Config
}

// Result is the outcome of one search. Index is -1 when Found is false.
type Result struct {
	RunID      string  `json:"run_id" jsonschema_description:"Identifier of the search, also attached to its log records"`
	Index      int     `json:"index" jsonschema_description:"Chosen source, -1 when there is no answer"`
	Found      bool    `json:"found" jsonschema_description:"False when no source could be chosen"`
	Budget     int     `json:"budget"`
	Used       int     `json:"used" jsonschema_description:"Observations actually spent"`
	Steps      int     `json:"steps" jsonschema_description:"Refinement iterations performed"`
	Fallback   bool    `json:"fallback" jsonschema_description:"Candidates came from the top-five fallback"`
	Candidates []int   `json:"candidates"`
	Ranking    []Entry `json:"ranking" jsonschema_description:"Final candidate ranking, most common first"`
	Sources    []Entry `json:"sources" jsonschema_description:"Final standing of every source"`
	Summary    Summary `json:"summary"`
}

// Summary aggregates the final standing of every source.
type Summary struct {
	MeanEstimate   float64 `json:"mean_estimate"`
	StdDevEstimate float64 `json:"stddev_estimate"`
	MeanTrials     float64 `json:"mean_trials"`
	MinTrials      int     `json:"min_trials"`
	MaxTrials      int     `json:"max_trials"`
}

func NewFinder(config *Config) *Finder {
	// Initialize default logger if not provided
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:     config.LogLevel,
			AddSource: false,
		})).With("component", "coinrank")
	}

	return &Finder{cfg: config}
}

// tracerFor combines the log narration, when verbose, with the configured
// tracer for one search.
func (f *Finder) tracerFor(logger *slog.Logger) Tracer {
	var tracers MultiTracer
	if f.cfg.Verbose {
		tracers = append(tracers, NewLogTracer(logger))
	}
	if f.cfg.Tracer != nil {
		tracers = append(tracers, f.cfg.Tracer)
	}

	switch len(tracers) {
	case 0:
		return NopTracer{}
	case 1:
		return tracers[0]
	default:
		return tracers
	}
}

// FindTargetRank runs a single search over sources with the given budget and
// returns the chosen index. ok is false when there is no answer; err is only
// set when a source fails to produce an outcome.
func FindTargetRank(ctx context.Context, sources []Source, budget int, verbose bool) (index int, ok bool, err error) {
	res, err := NewFinder(&Config{Budget: budget, Verbose: verbose}).Find(ctx, sources)
	if err != nil {
		return -1, false, err
	}
	return res.Index, res.Found, nil
}

// Find runs one search. Each call owns its observation log, so a Finder may
// serve calls from several goroutines as long as they use distinct sources.
func (f *Finder) Find(ctx context.Context, sources []Source) (*Result, error) {
	runID := uuid.NewString()
	logger := f.cfg.Logger.With("run_id", runID)
	tracer := f.tracerFor(logger)

	n := len(sources)
	budget := f.cfg.Budget
	res := &Result{RunID: runID, Index: -1, Budget: budget}

	if n == 0 || budget <= 0 {
		logger.Debug("nothing to search", "sources", n, "budget", budget)
		tracer.NoAnswer("no sources or no budget")
		return res, nil
	}

	l := newLedger(sources, budget, tracer)
	base := explorationRounds(n, budget)
	tracer.Start(n, budget, base)

	if err := explore(ctx, l, base); err != nil {
		return nil, err
	}
	tracer.Explored(l.all())
	logger.Debug("exploration done", "per_source", base, "used", l.used)

	candidates, fallback := selectCandidates(l)
	tracer.CandidatesSelected(candidates, fallback)
	res.Candidates = candidates
	res.Fallback = fallback
	if len(candidates) == 0 {
		tracer.NoAnswer("no candidate sources")
		return res, nil
	}

	steps, err := refine(ctx, l, candidates, tracer, logger)
	if err != nil {
		return nil, err
	}
	res.Steps = steps

	ranked := rankByCommonness(l, candidates)
	res.Ranking = l.entries(ranked)
	res.Index, res.Found = pickTarget(ranked)
	res.Used = l.used
	res.Sources = l.all()
	res.Summary = summarize(res.Sources)

	tracer.Finalized(res.Ranking, res.Index, res.Found)
	logger.Debug("search finished", "index", res.Index, "found", res.Found, "used", res.Used, "steps", steps)
	return res, nil
}

// explore spends up to base observations on every source in round-robin
// order, stopping as soon as the budget is gone.
func explore(ctx context.Context, l *ledger, base int) error {
	for r := 0; r < base; r++ {
		for i := range l.sources {
			if l.exhausted() {
				return nil
			}
			if _, err := l.observe(ctx, i, PhaseExplore); err != nil {
				return err
			}
		}
	}
	return nil
}

// refine spends the rest of the budget around the target rank and returns
// the number of iterations it ran.
func refine(ctx context.Context, l *ledger, candidates []int, tracer Tracer, logger *slog.Logger) (int, error) {
	step := 0
	for !l.exhausted() && len(candidates) > 1 {
		step++
		ranked := rankByCommonness(l, candidates)
		focus := focusWindow(ranked)

		tracer.Refining(RefineStep{
			Step:      step,
			Remaining: l.remaining(),
			Top:       l.entries(ranked[:min(snapshotSize, len(ranked))]),
			Focus:     focus,
		})

		spent := 0
		for _, i := range focus {
			ok, err := l.observe(ctx, i, PhaseFocus)
			if err != nil {
				return step, err
			}
			if !ok {
				break
			}
			spent++
		}

		if !l.exhausted() && len(ranked) > guardRank {
			for _, i := range []int{ranked[0], ranked[guardRank]} {
				ok, err := l.observe(ctx, i, PhaseGuard)
				if err != nil {
					return step, err
				}
				if !ok {
					break
				}
				spent++
			}
		}

		// With three or fewer candidates there is nothing around the target
		// to observe, and another pass would see the same ranking.
		if spent == 0 {
			logger.Debug("refinement has nothing to observe", "candidates", len(candidates), "remaining", l.remaining())
			break
		}
	}
	return step, nil
}

// pickTarget takes the target rank from a final ranking. Short rankings
// yield their last element.
func pickTarget(ranked []int) (int, bool) {
	if len(ranked) == 0 {
		return -1, false
	}
	if len(ranked) <= targetRank {
		return ranked[len(ranked)-1], true
	}
	return ranked[targetRank], true
}

func summarize(entries []Entry) Summary {
	if len(entries) == 0 {
		return Summary{}
	}
	estimates := make([]float64, len(entries))
	trials := make([]float64, len(entries))
	s := Summary{MinTrials: entries[0].Trials, MaxTrials: entries[0].Trials}
	for k, e := range entries {
		estimates[k] = e.Estimate
		trials[k] = float64(e.Trials)
		s.MinTrials = min(s.MinTrials, e.Trials)
		s.MaxTrials = max(s.MaxTrials, e.Trials)
	}
	s.MeanEstimate = stat.Mean(estimates, nil)
	s.MeanTrials = stat.Mean(trials, nil)
	if len(entries) > 1 {
		s.StdDevEstimate = stat.StdDev(estimates, nil)
	}
	return s
}
