package catalog

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
)

// Rejections returned by Select.
var (
	ErrNoCategoryBucket    = errors.New("no ads for category")
	ErrIncompleteCandidate = errors.New("incomplete ad information")
)

// Candidate is a single ad payload.
type Candidate struct {
	NotificationText string `json:"notificationText" yaml:"notificationText"`
	NotificationURL  string `json:"notificationURL" yaml:"notificationURL"`
	Advertiser       string `json:"advertiser" yaml:"advertiser"`
}

// Complete reports whether text, target URL and advertiser are all present.
func (c Candidate) Complete() bool {
	return strings.TrimSpace(c.NotificationText) != "" &&
		strings.TrimSpace(c.NotificationURL) != "" &&
		strings.TrimSpace(c.Advertiser) != ""
}

// Catalog groups candidates by major category, then by candidate id.
type Catalog struct {
	Categories map[string]map[string]Candidate `json:"categories" yaml:"categories"`
}

// Has reports whether the catalog has at least one candidate for category.
func (c *Catalog) Has(category string) bool {
	if c == nil {
		return false
	}
	return len(c.Categories[category]) > 0
}

// Selection is a validated candidate together with its identity.
type Selection struct {
	Category string
	ID       string
	Candidate
}

// Rand is the random source used to draw a candidate.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Select draws one candidate uniformly at random from the category's
// bucket. The draw is single-shot: an incomplete candidate is rejected
// without trying another one. A nil rnd uses the process-wide source.
func (c *Catalog) Select(category string, rnd Rand) (Selection, error) {
	if !c.Has(category) {
		return Selection{}, fmt.Errorf("%w: %s", ErrNoCategoryBucket, category)
	}
	if rnd == nil {
		rnd = globalRand{}
	}

	bucket := c.Categories[category]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	// Map order is random; sort so a seeded source is reproducible.
	sort.Strings(ids)

	id := ids[rnd.IntN(len(ids))]
	sel := Selection{Category: category, ID: id, Candidate: bucket[id]}
	if !sel.Complete() {
		return sel, fmt.Errorf("%w: %s/%s", ErrIncompleteCandidate, category, id)
	}
	return sel, nil
}

// Validate lists candidates missing a required field. Catalog loading
// uses it for diagnostics only; Select still checks every draw.
func (c *Catalog) Validate() []string {
	if c == nil {
		return nil
	}
	var bad []string
	for cat, bucket := range c.Categories {
		for id, cand := range bucket {
			if !cand.Complete() {
				bad = append(bad, cat+"/"+id)
			}
		}
	}
	sort.Strings(bad)
	return bad
}
