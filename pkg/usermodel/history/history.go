package history

import (
	"fmt"
	"math"
	"strings"

	"github.com/cognicore/usermodel/pkg/usermodel/classifier"
	"github.com/cognicore/usermodel/pkg/usermodel/internalerr"
)

// DefaultCapacity is the number of page scores kept in the window.
const DefaultCapacity = 5

// Ledger is the rotating window of page scores, oldest first.
type Ledger []classifier.Scores

// Append returns a new ledger with v added at the end. When the result
// would exceed capacity the oldest entries are dropped. The input ledger
// is left untouched.
func Append(h Ledger, v classifier.Scores, capacity int) Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	start := 0
	if len(h)+1 > capacity {
		start = len(h) + 1 - capacity
	}

	out := make(Ledger, 0, capacity)
	for _, row := range h[start:] {
		out = append(out, append(classifier.Scores(nil), row...))
	}
	return append(out, append(classifier.Scores(nil), v...))
}

// Policy weights a history entry by its age; age 0 is the newest entry.
// Weights must not increase with age.
type Policy interface {
	Weight(age int) float64
	Name() string
}

// SumPolicy gives every entry in the window the same weight.
type SumPolicy struct{}

// Weight implements Policy.
func (SumPolicy) Weight(int) float64 { return 1.0 }

// Name implements Policy.
func (SumPolicy) Name() string { return "sum" }

// DecayPolicy halves an entry's weight every HalfLife entries.
type DecayPolicy struct {
	HalfLife float64
}

// Weight implements Policy.
func (p DecayPolicy) Weight(age int) float64 {
	if p.HalfLife <= 0 {
		return 1.0
	}
	return math.Exp(-float64(age) * math.Ln2 / p.HalfLife)
}

// Name implements Policy.
func (p DecayPolicy) Name() string { return "decay" }

// ParsePolicy maps a configured policy name to a Policy.
func ParsePolicy(name string, halfLife float64) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sum":
		return SumPolicy{}, nil
	case "decay":
		if halfLife <= 0 {
			return nil, fmt.Errorf("decay policy needs a positive half-life, got %v: %w", halfLife, internalerr.ErrInvalidConfig)
		}
		return DecayPolicy{HalfLife: halfLife}, nil
	default:
		return nil, fmt.Errorf("unknown aggregation policy %q: %w", name, internalerr.ErrInvalidConfig)
	}
}

// Aggregate combines every entry into one ranking vector using p.
// A nil policy means SumPolicy.
func Aggregate(h Ledger, p Policy) classifier.Scores {
	if p == nil {
		p = SumPolicy{}
	}

	width := 0
	for _, row := range h {
		if len(row) > width {
			width = len(row)
		}
	}

	out := make(classifier.Scores, width)
	for i, row := range h {
		w := p.Weight(len(h) - 1 - i)
		for c, v := range row {
			out[c] += w * v
		}
	}
	return out
}

// Winner returns the category name with the highest aggregate score.
func Winner(h Ledger, names []string, p Policy) (string, bool) {
	if len(h) == 0 {
		return "", false
	}
	idx := classifier.ArgMax(Aggregate(h, p))
	if idx < 0 || idx >= len(names) {
		return "", false
	}
	return names[idx], true
}

// Major returns the first component of a hyphenated category name,
// e.g. "finance" for "finance-investing".
func Major(category string) string {
	major, _, _ := strings.Cut(category, "-")
	return major
}
