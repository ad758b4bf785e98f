package coinrank

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ledgerWith builds a ledger whose counts are set directly.
func ledgerWith(heads, trials []int) *ledger {
	l := newLedger(make([]Source, len(trials)), 100, NopTracer{})
	copy(l.heads, heads)
	copy(l.trials, trials)
	return l
}

func TestExplorationRounds(t *testing.T) {
	tests := []struct {
		n, budget, want int
	}{
		{n: 12, budget: 120, want: 3},
		{n: 12, budget: 35, want: 1},
		{n: 4, budget: 3, want: 1},
		{n: 3, budget: 10000, want: 1111},
		{n: 1, budget: 2, want: 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, explorationRounds(tt.n, tt.budget), "n=%d budget=%d", tt.n, tt.budget)
	}
}

func TestExplore_EvenPass(t *testing.T) {
	l := newLedger(constant(3, Heads), 30, NopTracer{})

	require.NoError(t, explore(context.Background(), l, explorationRounds(3, 30)))

	assert.Equal(t, []int{3, 3, 3}, l.trials)
	assert.Equal(t, 9, l.used)
}

func TestExplore_BudgetRunsOutMidPass(t *testing.T) {
	l := newLedger(constant(4, Tails), 6, NopTracer{})

	require.NoError(t, explore(context.Background(), l, 2))

	// Earlier coins in round-robin order get the extra observations.
	assert.Equal(t, []int{2, 2, 1, 1}, l.trials)
	assert.Equal(t, 6, l.used)
	assert.True(t, l.exhausted())
}

func TestLedger_Estimate(t *testing.T) {
	l := ledgerWith([]int{0, 3, 0}, []int{0, 4, 2})

	assert.Equal(t, 0.5, l.estimate(0), "unobserved sources take the neutral prior")
	assert.Equal(t, 0.75, l.estimate(1))
	assert.Equal(t, 0.0, l.estimate(2))

	e := l.entry(1)
	assert.Equal(t, Entry{Source: 1, Trials: 4, Heads: 3, Estimate: 0.75, Distance: 0.25}, e)
}

func TestLedger_ObserveStopsAtBudget(t *testing.T) {
	src := NewScriptedSource(Heads)
	l := newLedger([]Source{src}, 2, NopTracer{})

	for range 5 {
		_, err := l.observe(context.Background(), 0, PhaseFocus)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, l.used)
	assert.Equal(t, 2, src.Calls())
	assert.Zero(t, l.remaining())
}

func TestSelectCandidates_ColdGroup(t *testing.T) {
	l := ledgerWith(
		[]int{3, 1, 2, 4, 0, 5, 2},
		[]int{4, 4, 4, 4, 0, 5, 4},
	)

	candidates, fallback := selectCandidates(l)

	assert.False(t, fallback)
	assert.Equal(t, []int{0, 2, 3, 4, 5, 6}, candidates)
}

func TestSelectCandidates_Fallback(t *testing.T) {
	l := ledgerWith(
		[]int{1, 0, 3, 1, 1, 2, 0},
		[]int{4, 4, 4, 4, 4, 4, 4},
	)

	candidates, fallback := selectCandidates(l)

	assert.True(t, fallback)
	// Estimates: .25 0 .75 .25 .25 .5 0; ties keep index order.
	assert.Equal(t, []int{2, 5, 0, 3, 4}, candidates)
}

func TestSelectCandidates_FewerThanFiveSources(t *testing.T) {
	l := ledgerWith([]int{0, 1, 0}, []int{2, 2, 2})

	candidates, fallback := selectCandidates(l)

	assert.True(t, fallback)
	assert.Equal(t, []int{1, 0, 2}, candidates)
}

func TestRankByCommonness(t *testing.T) {
	l := ledgerWith(
		[]int{9, 6, 5, 7, 10, 4},
		[]int{10, 10, 10, 10, 10, 10},
	)

	ranked := rankByCommonness(l, []int{0, 1, 2, 3, 4, 5})

	// Distances: .4 .1 0 .2 .5 .1; 1 and 5 tie and keep their order.
	assert.Equal(t, []int{2, 1, 5, 3, 0, 4}, ranked)
}

func TestRankByCommonness_Idempotent(t *testing.T) {
	l := ledgerWith(
		[]int{1, 1, 3, 3, 2, 0, 4, 2},
		[]int{2, 2, 4, 4, 4, 0, 4, 4},
	)
	candidates := []int{7, 0, 5, 2, 3, 4, 1, 6}

	first := rankByCommonness(l, candidates)
	second := rankByCommonness(l, candidates)

	assert.Equal(t, first, second)
	assert.Equal(t, []int{7, 0, 5, 4, 1, 2, 3, 6}, first)
	assert.Equal(t, []int{7, 0, 5, 2, 3, 4, 1, 6}, candidates, "input must not be reordered")
}

func TestFocusWindow(t *testing.T) {
	tests := []struct {
		name   string
		ranked []int
		want   []int
	}{
		{name: "empty", ranked: nil, want: nil},
		{name: "three", ranked: []int{4, 2, 0}, want: nil},
		{name: "four", ranked: []int{4, 2, 0, 9}, want: []int{9}},
		{name: "five", ranked: []int{4, 2, 0, 9, 1}, want: []int{1, 9}},
		{name: "long", ranked: []int{4, 2, 0, 9, 1, 7, 3, 8}, want: []int{1, 7, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, focusWindow(tt.ranked))
		})
	}
}

func TestPickTarget(t *testing.T) {
	_, ok := pickTarget(nil)
	assert.False(t, ok)

	idx, ok := pickTarget([]int{3, 1, 2})
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	idx, ok = pickTarget([]int{8, 6, 4, 2, 0, 1})
	assert.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestTrueTarget(t *testing.T) {
	idx, ok := TrueTarget([]float64{0.48, 0.70, 0.62, 0.40, 0.58, 0.55, 0.53, 0.66, 0.30})
	require.True(t, ok)
	// Cold by commonness: .53 .55 .58 .62 .66 .70
	assert.Equal(t, 7, idx)

	idx, ok = TrueTarget([]float64{0.9, math.NaN(), 0.6, 0.1})
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok = TrueTarget([]float64{0.1, 0.2})
	assert.False(t, ok)
}
