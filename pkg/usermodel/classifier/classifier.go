package classifier

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/cognicore/usermodel/pkg/usermodel/internalerr"
)

// Default word limits for a single page.
const (
	DefaultMinWords = 20
	DefaultMaxWords = 1234
)

// Scores holds one relevance value per category, index-aligned with Model.Names.
type Scores []float64

// Model is the word/category weight matrix with its priors and category
// names. It is never modified after loading.
type Model struct {
	// Matrix rows are hashed word buckets, columns are categories.
	Matrix [][]float64
	Priors []float64
	Names  []string
}

// Validate checks that the matrix, priors and names line up.
func (m *Model) Validate() error {
	if m == nil {
		return fmt.Errorf("nil model: %w", internalerr.ErrInvalidInput)
	}
	if len(m.Names) == 0 {
		return fmt.Errorf("model has no categories: %w", internalerr.ErrInvalidInput)
	}
	if len(m.Priors) != len(m.Names) {
		return fmt.Errorf("model has %d priors for %d categories: %w",
			len(m.Priors), len(m.Names), internalerr.ErrInvalidInput)
	}
	if len(m.Matrix) == 0 {
		return fmt.Errorf("model matrix is empty: %w", internalerr.ErrInvalidInput)
	}
	for i, row := range m.Matrix {
		if len(row) != len(m.Names) {
			return fmt.Errorf("matrix row %d has %d columns, want %d: %w",
				i, len(row), len(m.Names), internalerr.ErrInvalidInput)
		}
	}
	return nil
}

// Classifier scores token sequences against a Model.
type Classifier struct {
	MinWords int
	MaxWords int
}

// New returns a classifier with the default word limits.
func New() *Classifier {
	return &Classifier{MinWords: DefaultMinWords, MaxWords: DefaultMaxWords}
}

// Classify scores tokens against m. It reports false when the model is not
// loaded yet (nil) or when there are fewer than MinWords tokens; callers
// must leave their state unchanged in that case. Inputs longer than
// MaxWords are truncated to the first MaxWords tokens.
func (c *Classifier) Classify(tokens []string, m *Model) (Scores, bool) {
	if m == nil {
		return nil, false
	}
	if len(tokens) < c.MinWords {
		return nil, false
	}
	if c.MaxWords > 0 && len(tokens) > c.MaxWords {
		tokens = tokens[:c.MaxWords]
	}
	return NBWordVec(tokens, m.Matrix, m.Priors), true
}

// NBWordVec is the naive Bayes scoring primitive. Each word is hashed into
// a matrix row; a category's log score is its log prior plus the summed row
// weights. The result is softmax-normalised so scores from different pages
// are on the same scale and can be summed.
func NBWordVec(words []string, matrix [][]float64, priors []float64) Scores {
	logits := make([]float64, len(priors))
	for c, p := range priors {
		logits[c] = math.Log(math.Max(p, 1e-12))
	}

	if rows := len(matrix); rows > 0 {
		for _, w := range words {
			row := matrix[bucket(w, rows)]
			for c := 0; c < len(logits) && c < len(row); c++ {
				logits[c] += row[c]
			}
		}
	}

	return softmax(logits)
}

// ArgMax returns the index of the largest score, the lowest index on ties,
// and -1 for an empty vector.
func ArgMax(s Scores) int {
	best := -1
	for i, v := range s {
		if best == -1 || v > s[best] {
			best = i
		}
	}
	return best
}

func bucket(word string, rows int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return int(h.Sum32() % uint32(rows))
}

func softmax(logits []float64) Scores {
	out := make(Scores, len(logits))
	if len(logits) == 0 {
		return out
	}

	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}

	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
