package coinrank

import (
	"math"
	"sort"
)

const (
	// targetRank is the zero-based rank returned by a search: the fifth most
	// common cold source.
	targetRank = 4
	// minCandidates is the size below which the cold group is replaced by
	// the sources with the highest estimates.
	minCandidates = targetRank + 1
	// guardRank is the second extra source observed each refinement step
	// once the ranking is long enough; the first is rank 0.
	guardRank = 6
	// snapshotSize bounds the ranking handed to tracers on each step.
	snapshotSize = 8
	// explorationShare is the denominator of the budget share spent on the
	// initial even pass: a third of the budget.
	explorationShare = 3

	neutralEstimate = 0.5
)

// focusOffsets are the ranks immediately around targetRank.
var focusOffsets = [...]int{targetRank - 1, targetRank, targetRank + 1}

// Entry is one source's standing at some point of a search.
type Entry struct {
	Source   int     `json:"source" jsonschema_description:"Index of the source in the input order"`
	Trials   int     `json:"trials" jsonschema_description:"Observations spent on the source"`
	Heads    int     `json:"heads" jsonschema_description:"Observations that came up heads"`
	Estimate float64 `json:"estimate" jsonschema_description:"Empirical probability of heads, 0.5 when unobserved"`
	Distance float64 `json:"distance" jsonschema_description:"Distance of the estimate from 0.5; smaller is more common"`
}

// commonness is the sort key of the ranking: lower is more common.
func commonness(estimate float64) float64 {
	return math.Abs(estimate - neutralEstimate)
}

// explorationRounds is the number of round-robin passes of the exploration
// phase, at least one even when the budget cannot cover a full pass.
func explorationRounds(n, budget int) int {
	return max(1, budget/(explorationShare*n))
}

// selectCandidates picks the cold group, the sources whose estimate is at
// least 0.5 in index order. When fewer than five qualify, the five sources
// with the highest estimates are taken instead; ties keep index order.
func selectCandidates(l *ledger) ([]int, bool) {
	var cold []int
	for i := range l.sources {
		if l.estimate(i) >= neutralEstimate {
			cold = append(cold, i)
		}
	}
	if len(cold) >= minCandidates {
		return cold, false
	}

	order := make([]int, len(l.sources))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return l.estimate(order[a]) > l.estimate(order[b])
	})
	return order[:min(minCandidates, len(order))], true
}

// rankByCommonness orders candidates by distance from 0.5, closest first. The
// sort is stable so equal distances keep the candidate order and repeated
// calls without new observations agree.
func rankByCommonness(l *ledger, candidates []int) []int {
	ranked := make([]int, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(a, b int) bool {
		return commonness(l.estimate(ranked[a])) < commonness(l.estimate(ranked[b]))
	})
	return ranked
}

// focusWindow returns the sources ranked immediately around the target,
// in ascending source order.
func focusWindow(ranked []int) []int {
	var focus []int
	for _, j := range focusOffsets {
		if j < len(ranked) {
			focus = append(focus, ranked[j])
		}
	}
	sort.Ints(focus)
	return focus
}

// TrueTarget applies the final ranking rule to known probabilities: among
// the sources with p >= 0.5 it returns the fifth closest to 0.5, or the
// farthest one when fewer than five qualify. NaN entries are skipped.
func TrueTarget(probs []float64) (int, bool) {
	var cold []int
	for i, p := range probs {
		if !math.IsNaN(p) && p >= neutralEstimate {
			cold = append(cold, i)
		}
	}
	if len(cold) == 0 {
		return -1, false
	}
	sort.SliceStable(cold, func(a, b int) bool {
		return commonness(probs[cold[a]]) < commonness(probs[cold[b]])
	})
	if len(cold) <= targetRank {
		return cold[len(cold)-1], true
	}
	return cold[targetRank], true
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
