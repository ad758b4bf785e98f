package coinrank

import (
	"context"
	"log/slog"
)

// Phase names the part of the search that spent an observation.
type Phase int

const (
	PhaseExplore Phase = iota
	PhaseFocus
	PhaseGuard
)

func (p Phase) String() string {
	switch p {
	case PhaseExplore:
		return "explore"
	case PhaseFocus:
		return "focus"
	case PhaseGuard:
		return "guard"
	default:
		return "unknown"
	}
}

// Observation describes one spent unit of budget.
type Observation struct {
	Number   int     // 1-based position in the budget
	Source   int     // index of the observed source
	Outcome  Outcome // what the source produced
	Phase    Phase
	Trials   int // source trials after this observation
	Heads    int // source heads after this observation
	Estimate float64
}

// RefineStep is the ranking snapshot taken at the top of each refinement
// iteration, before any of its observations are made.
type RefineStep struct {
	Step      int
	Remaining int
	Top       []Entry // up to the first eight ranked candidates
	Focus     []int   // sources observed around the target rank
}

// Tracer receives a narration of a search. It carries no contract beyond
// observing; implementations must not mutate the slices they are handed.
type Tracer interface {
	Start(n, budget, base int)
	Observed(o Observation)
	Explored(stats []Entry)
	CandidatesSelected(candidates []int, fallback bool)
	Refining(step RefineStep)
	Finalized(ranking []Entry, answer int, found bool)
	NoAnswer(reason string)
}

// NopTracer ignores every event. Embed it to implement only part of Tracer.
type NopTracer struct{}

func (NopTracer) Start(int, int, int)             {}
func (NopTracer) Observed(Observation)            {}
func (NopTracer) Explored([]Entry)                {}
func (NopTracer) CandidatesSelected([]int, bool) {}
func (NopTracer) Refining(RefineStep)             {}
func (NopTracer) Finalized([]Entry, int, bool)    {}
func (NopTracer) NoAnswer(string)                 {}

// MultiTracer fans events out to each tracer in order.
type MultiTracer []Tracer

func (m MultiTracer) Start(n, budget, base int) {
	for _, t := range m {
		t.Start(n, budget, base)
	}
}

func (m MultiTracer) Observed(o Observation) {
	for _, t := range m {
		t.Observed(o)
	}
}

func (m MultiTracer) Explored(stats []Entry) {
	for _, t := range m {
		t.Explored(stats)
	}
}

func (m MultiTracer) CandidatesSelected(candidates []int, fallback bool) {
	for _, t := range m {
		t.CandidatesSelected(candidates, fallback)
	}
}

func (m MultiTracer) Refining(step RefineStep) {
	for _, t := range m {
		t.Refining(step)
	}
}

func (m MultiTracer) Finalized(ranking []Entry, answer int, found bool) {
	for _, t := range m {
		t.Finalized(ranking, answer, found)
	}
}

func (m MultiTracer) NoAnswer(reason string) {
	for _, t := range m {
		t.NoAnswer(reason)
	}
}

// LogTracer writes the verbose narration of a search as structured log
// records.
type LogTracer struct {
	Logger *slog.Logger
	Level  slog.Level
}

func NewLogTracer(logger *slog.Logger) *LogTracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTracer{Logger: logger, Level: slog.LevelInfo}
}

func (t *LogTracer) log(msg string, args ...any) {
	t.Logger.Log(context.Background(), t.Level, msg, args...)
}

func (t *LogTracer) Start(n, budget, base int) {
	t.log("search started", "sources", n, "budget", budget)
	t.log("exploration allocated", "per_source", base)
}

func (t *LogTracer) Observed(o Observation) {
	t.log("observation",
		"number", o.Number,
		"phase", o.Phase.String(),
		"source", o.Source,
		"outcome", o.Outcome.String(),
		"trials", o.Trials,
		"heads", o.Heads,
		"estimate", roundTo(o.Estimate, 3))
}

func (t *LogTracer) Explored(stats []Entry) {
	for _, e := range stats {
		if e.Trials == 0 {
			t.log("exploration summary", "source", e.Source, "trials", 0, "estimate", neutralEstimate, "note", "never observed")
			continue
		}
		t.log("exploration summary",
			"source", e.Source,
			"trials", e.Trials,
			"heads", e.Heads,
			"tails", e.Trials-e.Heads,
			"estimate", roundTo(e.Estimate, 3))
	}
}

func (t *LogTracer) CandidatesSelected(candidates []int, fallback bool) {
	if fallback {
		t.log("fewer than five cold candidates, falling back to highest estimates", "candidates", candidates)
		return
	}
	t.log("cold candidates selected", "candidates", candidates)
}

func (t *LogTracer) Refining(step RefineStep) {
	t.log("refinement step", "step", step.Step, "remaining", step.Remaining, "focus", step.Focus)
	for pos, e := range step.Top {
		t.log("ranking",
			"position", pos+1,
			"source", e.Source,
			"estimate", roundTo(e.Estimate, 3),
			"distance", roundTo(e.Distance, 3))
	}
}

func (t *LogTracer) Finalized(ranking []Entry, answer int, found bool) {
	for pos, e := range ranking {
		t.log("final ranking",
			"position", pos+1,
			"source", e.Source,
			"trials", e.Trials,
			"heads", e.Heads,
			"tails", e.Trials-e.Heads,
			"estimate", roundTo(e.Estimate, 3),
			"distance", roundTo(e.Distance, 3))
	}
	if !found {
		t.log("no answer")
		return
	}
	if len(ranking) <= targetRank {
		t.log("fewer than five candidates, returning the last ranked one", "answer", answer)
		return
	}
	t.log("answer", "source", answer, "rank", targetRank+1)
}

func (t *LogTracer) NoAnswer(reason string) {
	t.log("no answer", "reason", reason)
}
