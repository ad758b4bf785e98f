package coinrank

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Outcome is the result of a single observation of a source.
type Outcome int

const (
	Tails Outcome = iota // outcome B
	Heads                // outcome A
)

func (o Outcome) String() string {
	if o == Heads {
		return "H"
	}
	return "T"
}

// ParseOutcome accepts the usual spellings of heads and tails, case
// insensitive: h/heads/yes/true/1 and t/tails/no/false/0.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h", "heads", "yes", "true", "1":
		return Heads, nil
	case "t", "tails", "no", "false", "0":
		return Tails, nil
	}
	return Tails, fmt.Errorf("unrecognised outcome %q", s)
}

// Source produces one outcome per call. Implementations are queried by index
// from a single goroutine and need not be safe for concurrent use.
type Source interface {
	Observe(ctx context.Context) (Outcome, error)
}

// BernoulliSource is a coin with a fixed probability of heads driven by its
// own seeded generator, so a run is reproducible from the seed alone.
type BernoulliSource struct {
	dist distuv.Bernoulli
}

// NewBernoulliSource returns a coin landing heads with probability p.
func NewBernoulliSource(p float64, seed uint64) *BernoulliSource {
	return &BernoulliSource{
		dist: distuv.Bernoulli{
			P:   p,
			Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		},
	}
}

// P returns the hidden probability of heads.
func (b *BernoulliSource) P() float64 {
	return b.dist.P
}

func (b *BernoulliSource) Observe(_ context.Context) (Outcome, error) {
	if b.dist.Rand() == 1 {
		return Heads, nil
	}
	return Tails, nil
}

// ScriptedSource replays a fixed sequence of outcomes, wrapping around when
// the script runs out.
type ScriptedSource struct {
	script []Outcome
	calls  int
}

func NewScriptedSource(script ...Outcome) *ScriptedSource {
	return &ScriptedSource{script: script}
}

// ParseScript turns a compact script such as "HHTH" into a ScriptedSource.
// Whitespace and commas are ignored.
func ParseScript(script string) (*ScriptedSource, error) {
	var outcomes []Outcome
	for _, r := range script {
		if r == ' ' || r == ',' || r == '\t' || r == '\n' {
			continue
		}
		o, err := ParseOutcome(string(r))
		if err != nil {
			return nil, fmt.Errorf("script %q: %w", script, err)
		}
		outcomes = append(outcomes, o)
	}
	if len(outcomes) == 0 {
		return nil, fmt.Errorf("script %q has no outcomes", script)
	}
	return NewScriptedSource(outcomes...), nil
}

// Calls reports how many times the source has been observed.
func (s *ScriptedSource) Calls() int {
	return s.calls
}

func (s *ScriptedSource) Observe(_ context.Context) (Outcome, error) {
	if len(s.script) == 0 {
		return Tails, fmt.Errorf("scripted source has an empty script")
	}
	o := s.script[s.calls%len(s.script)]
	s.calls++
	return o, nil
}
