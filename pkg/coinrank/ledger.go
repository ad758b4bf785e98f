package coinrank

import (
	"context"
	"fmt"
)

// ledger is the observation log and budget counter of a single search. It
// is the only mutable state of a search and is never shared between calls.
type ledger struct {
	sources []Source
	heads   []int
	trials  []int
	used    int
	budget  int
	tracer  Tracer
}

func newLedger(sources []Source, budget int, tracer Tracer) *ledger {
	return &ledger{
		sources: sources,
		heads:   make([]int, len(sources)),
		trials:  make([]int, len(sources)),
		budget:  budget,
		tracer:  tracer,
	}
}

func (l *ledger) exhausted() bool {
	return l.used >= l.budget
}

func (l *ledger) remaining() int {
	if l.exhausted() {
		return 0
	}
	return l.budget - l.used
}

// observe flips source i once. It reports false without touching the source
// when the budget is already spent, and fails once ctx is done.
func (l *ledger) observe(ctx context.Context, i int, phase Phase) (bool, error) {
	if l.exhausted() {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("observation %d of source %d: %w", l.used+1, i, context.Cause(ctx))
	}
	o, err := l.sources[i].Observe(ctx)
	if err != nil {
		return false, fmt.Errorf("observation %d of source %d: %w", l.used+1, i, err)
	}
	if o == Heads {
		l.heads[i]++
	}
	l.trials[i]++
	l.used++

	l.tracer.Observed(Observation{
		Number:   l.used,
		Source:   i,
		Outcome:  o,
		Phase:    phase,
		Trials:   l.trials[i],
		Heads:    l.heads[i],
		Estimate: l.estimate(i),
	})
	return true, nil
}

// estimate is the empirical heads frequency, or the neutral prior for a
// source that was never observed.
func (l *ledger) estimate(i int) float64 {
	if l.trials[i] == 0 {
		return neutralEstimate
	}
	return float64(l.heads[i]) / float64(l.trials[i])
}

func (l *ledger) entry(i int) Entry {
	est := l.estimate(i)
	return Entry{
		Source:   i,
		Trials:   l.trials[i],
		Heads:    l.heads[i],
		Estimate: est,
		Distance: commonness(est),
	}
}

func (l *ledger) entries(indices []int) []Entry {
	out := make([]Entry, len(indices))
	for k, i := range indices {
		out[k] = l.entry(i)
	}
	return out
}

func (l *ledger) all() []Entry {
	out := make([]Entry, len(l.sources))
	for i := range l.sources {
		out[i] = l.entry(i)
	}
	return out
}
