package gate

import (
	"errors"
	"fmt"
	"time"

	"github.com/cognicore/usermodel/pkg/usermodel/catalog"
	"github.com/cognicore/usermodel/pkg/usermodel/history"
	"github.com/cognicore/usermodel/pkg/usermodel/intent"
	"github.com/cognicore/usermodel/pkg/usermodel/model"
	"github.com/cognicore/usermodel/pkg/usermodel/state"
)

// DefaultMinInterval is the minimum time between two served ads.
const DefaultMinInterval = time.Hour

// Reason explains a suppressed decision.
type Reason string

const (
	NoCatalog               Reason = "NoCatalog"
	NoCandidatesForCategory Reason = "NoCandidatesForCategory"
	IncompleteCandidate     Reason = "IncompleteCandidate"
	DuplicateAd             Reason = "DuplicateAd"
	RateLimited             Reason = "RateLimited"
	NoIntentSignal          Reason = "NoIntentSignal"

	// AdsDisabled is reported by callers that skip evaluation while the
	// user has ads turned off. Decide never returns it.
	AdsDisabled Reason = "AdsDisabled"
	// NoIdentity is reported by callers when ads are enabled but no
	// anonymous identity could be created. Decide never returns it.
	NoIdentity Reason = "NoIdentity"
)

// Decision is the outcome of one evaluation. When Serve is false, Reason
// names the first failing check.
type Decision struct {
	Serve  bool
	Reason Reason
	// Winner is the full winning category name, Category its major part.
	Winner    string
	Category  string
	Candidate catalog.Selection
}

func (d Decision) String() string {
	if d.Serve {
		return fmt.Sprintf("Serve(%s)", d.Category)
	}
	return fmt.Sprintf("Suppress(%s)", d.Reason)
}

// Gate decides whether an ad may be shown now. It keeps no state between
// calls: every decision is computed from the snapshot it is given.
type Gate struct {
	MinInterval     time.Duration
	RequiredIntents []intent.Kind
	Policy          history.Policy
	Rand            catalog.Rand
}

// New returns a gate with a one hour interval that requires shopping intent.
func New() *Gate {
	return &Gate{
		MinInterval:     DefaultMinInterval,
		RequiredIntents: []intent.Kind{intent.Shopping},
		Policy:          history.SumPolicy{},
	}
}

// Decide runs the checks in order: catalog loaded, candidates for the
// winning category, duplicate of the last ad, rate limit, intent. The
// catalog.Select draw happens after the candidate check so that the
// duplicate check compares concrete candidates rather than categories.
// Ads-per-day preference is not consulted.
func (g *Gate) Decide(s state.Snapshot, b *model.Bundle, now time.Time) Decision {
	if b == nil || b.Model == nil || b.Catalog == nil {
		return Decision{Reason: NoCatalog}
	}

	winner, ok := history.Winner(s.PageScores, b.Model.Names, g.Policy)
	if !ok {
		return Decision{Reason: NoCandidatesForCategory}
	}
	d := Decision{Winner: winner, Category: history.Major(winner)}

	sel, err := b.Catalog.Select(d.Category, g.Rand)
	switch {
	case errors.Is(err, catalog.ErrNoCategoryBucket):
		d.Reason = NoCandidatesForCategory
		return d
	case errors.Is(err, catalog.ErrIncompleteCandidate):
		d.Candidate = sel
		d.Reason = IncompleteCandidate
		return d
	}
	d.Candidate = sel

	if s.AdHistory.Same(d.Category, sel.ID) {
		d.Reason = DuplicateAd
		return d
	}

	interval := g.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	if last := s.AdHistory.LastAdTime; !last.IsZero() && now.Sub(last) <= interval {
		d.Reason = RateLimited
		return d
	}

	for _, kind := range g.RequiredIntents {
		if !s.Intent.Get(kind).Active {
			d.Reason = NoIntentSignal
			return d
		}
	}

	d.Serve = true
	return d
}
