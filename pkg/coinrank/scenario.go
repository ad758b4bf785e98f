package coinrank

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const idLen = 8

// ErrInvalidScenario is wrapped by every scenario validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// CoinSpec declares one source. Exactly one of P, Script or Prompt is set.
type CoinSpec struct {
	Name   string   `json:"name,omitempty" yaml:"name,omitempty"`
	P      *float64 `json:"p,omitempty" yaml:"p,omitempty"`           // hidden probability of heads
	Script string   `json:"script,omitempty" yaml:"script,omitempty"` // replayed outcomes, e.g. "HHTH"
	Prompt string   `json:"prompt,omitempty" yaml:"prompt,omitempty"` // yes/no question for a chat model
}

// Scenario is a reproducible search: the coins, the budget and the seed that
// drives every simulated coin.
type Scenario struct {
	Budget  int        `json:"budget" yaml:"budget"`
	Seed    uint64     `json:"seed" yaml:"seed"`
	Shuffle bool       `json:"shuffle" yaml:"shuffle"` // permute coins with the seed before the search
	Coins   []CoinSpec `json:"coins" yaml:"coins"`
	LLM     LLMConfig  `json:"llm" yaml:"llm"` // shared settings for prompt coins
}

// LoadScenario reads a scenario from YAML, or from JSON when the file has a
// .json extension or forceJSON is set.
func LoadScenario(filePath string, forceJSON bool) (*Scenario, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", filePath, err)
	}

	var sc Scenario
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == ".json" || forceJSON {
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("failed to decode JSON from %s: %w", filePath, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("failed to decode YAML from %s: %w", filePath, err)
		}
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return &sc, nil
}

// Validate checks every coin. A non-positive budget is allowed: the search
// then simply has no answer.
func (s *Scenario) Validate() error {
	for i, c := range s.Coins {
		set := 0
		if c.P != nil {
			set++
			if math.IsNaN(*c.P) || *c.P < 0 || *c.P > 1 {
				return fmt.Errorf("%w: coin %d: p must be within [0, 1], got %v", ErrInvalidScenario, i, *c.P)
			}
		}
		if c.Script != "" {
			set++
			if _, err := ParseScript(c.Script); err != nil {
				return fmt.Errorf("%w: coin %d: %v", ErrInvalidScenario, i, err)
			}
		}
		if c.Prompt != "" {
			set++
		}
		if set != 1 {
			return fmt.Errorf("%w: coin %d: exactly one of p, script or prompt must be set", ErrInvalidScenario, i)
		}
	}
	return nil
}

// Arrange returns the coins in search order, shuffled with the seed when
// Shuffle is set. Unnamed coins get a short id derived from their settings.
func (s *Scenario) Arrange() []CoinSpec {
	coins := make([]CoinSpec, len(s.Coins))
	copy(coins, s.Coins)
	for i := range coins {
		if coins[i].Name == "" {
			coins[i].Name = ShortDeterministicID(fmt.Sprintf("%d:%s", i, coins[i].describe()), idLen)
		}
	}
	if s.Shuffle {
		rng := rand.New(rand.NewPCG(s.Seed, s.Seed))
		rng.Shuffle(len(coins), func(i, j int) {
			coins[i], coins[j] = coins[j], coins[i]
		})
	}
	return coins
}

func (c CoinSpec) describe() string {
	switch {
	case c.P != nil:
		return fmt.Sprintf("p=%.2f", *c.P)
	case c.Script != "":
		return "script=" + c.Script
	default:
		return "prompt=" + c.Prompt
	}
}

// Sources builds one source per arranged coin. Simulated coins are seeded
// from the scenario seed and their position.
func (s *Scenario) Sources(coins []CoinSpec) ([]Source, error) {
	sources := make([]Source, 0, len(coins))
	for i, c := range coins {
		seed := s.Seed + uint64(i) + 1
		switch {
		case c.P != nil:
			sources = append(sources, NewBernoulliSource(*c.P, seed))
		case c.Script != "":
			src, err := ParseScript(c.Script)
			if err != nil {
				return nil, fmt.Errorf("coin %s: %w", c.Name, err)
			}
			sources = append(sources, src)
		default:
			cfg := s.LLM
			cfg.Prompt = c.Prompt
			cfg.Seed = seed
			src, err := NewLLMSource(cfg)
			if err != nil {
				return nil, fmt.Errorf("coin %s: %w", c.Name, err)
			}
			sources = append(sources, src)
		}
	}
	return sources, nil
}

// Probabilities lists the hidden probability of each coin, NaN where it is
// not known.
func Probabilities(coins []CoinSpec) []float64 {
	probs := make([]float64, len(coins))
	for i, c := range coins {
		probs[i] = math.NaN()
		if c.P != nil {
			probs[i] = *c.P
		}
	}
	return probs
}

// DemoScenario is six cold and six warm coins, shuffled, with a budget of
// 120 observations.
func DemoScenario(seed uint64) *Scenario {
	cold := []float64{0.70, 0.62, 0.58, 0.55, 0.53, 0.66}
	warm := []float64{0.48, 0.45, 0.40, 0.35, 0.30, 0.49}

	sc := &Scenario{Budget: 120, Seed: seed, Shuffle: true}
	for _, p := range append(cold, warm...) {
		sc.Coins = append(sc.Coins, CoinSpec{Name: fmt.Sprintf("coin_p=%.2f", p), P: &p})
	}
	return sc
}

// ShortDeterministicID generates a deterministic ID of specified length from input string.
// It uses SHA-256 hash and Base64 encoding, keeping only alphanumeric characters.
func ShortDeterministicID(input string, length int) string {
	// Keep only A-Za-z0-9 from Base64-encoded SHA-256 hash.
	hash := sha256.Sum256([]byte(input))
	base64Encoded := base64.URLEncoding.EncodeToString(hash[:])
	var result strings.Builder
	for _, char := range base64Encoded {
		if (char >= '0' && char <= '9') || (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') {
			result.WriteRune(char)
		}
	}
	filtered := result.String()
	if length > len(filtered) {
		length = len(filtered)
	}
	return filtered[:length]
}
