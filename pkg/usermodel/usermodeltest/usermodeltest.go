// Package usermodeltest provides fixtures for tests of the user model
// packages. It is imported only from _test.go files.
package usermodeltest

import (
	"fmt"
	"time"

	"github.com/cognicore/usermodel/pkg/usermodel/catalog"
	"github.com/cognicore/usermodel/pkg/usermodel/classifier"
	"github.com/cognicore/usermodel/pkg/usermodel/history"
	"github.com/cognicore/usermodel/pkg/usermodel/intent"
	"github.com/cognicore/usermodel/pkg/usermodel/model"
	"github.com/cognicore/usermodel/pkg/usermodel/state"
)

// Names is the category table of the fixture model.
var Names = []string{"arts-music", "finance-sub", "travel-air", "sports-golf"}

// Index returns the position of name in Names, or panics.
func Index(name string) int {
	for i, n := range Names {
		if n == name {
			return i
		}
	}
	panic(fmt.Sprintf("usermodeltest: unknown category %q", name))
}

// Now is a fixed reference time.
var Now = time.Date(2024, time.March, 14, 15, 9, 26, 0, time.UTC)

// BiasedModel returns a model where every word pushes towards category.
func BiasedModel(category string) *classifier.Model {
	fav := Index(category)
	matrix := make([][]float64, 32)
	for i := range matrix {
		row := make([]float64, len(Names))
		row[fav] = 1.5
		matrix[i] = row
	}
	priors := make([]float64, len(Names))
	for i := range priors {
		priors[i] = 1.0 / float64(len(Names))
	}
	return &classifier.Model{Matrix: matrix, Priors: priors, Names: append([]string(nil), Names...)}
}

// Catalog returns a catalog with a complete finance ad, two travel ads
// and an incomplete arts ad. Sports has no bucket.
func Catalog() *catalog.Catalog {
	return &catalog.Catalog{Categories: map[string]map[string]catalog.Candidate{
		"finance": {
			"a1": {NotificationText: "T", NotificationURL: "U", Advertiser: "Adv"},
		},
		"travel": {
			"t1": {NotificationText: "Fly south", NotificationURL: "https://fly.example", Advertiser: "Air"},
			"t2": {NotificationText: "Sail away", NotificationURL: "https://sail.example", Advertiser: "Sea"},
		},
		"arts": {
			"m1": {NotificationText: "Concert", Advertiser: "Hall"},
		},
	}}
}

// Bundle returns the fixture model biased to category plus Catalog.
func Bundle(category string) *model.Bundle {
	return &model.Bundle{Model: BiasedModel(category), Catalog: Catalog()}
}

// Peak returns a score vector with most of its mass on category.
func Peak(category string) classifier.Scores {
	idx := Index(category)
	out := make(classifier.Scores, len(Names))
	for i := range out {
		out[i] = 0.1 / float64(len(Names)-1)
	}
	out[idx] = 0.9
	return out
}

// History returns a ledger of n entries peaking at category.
func History(category string, n int) history.Ledger {
	h := make(history.Ledger, n)
	for i := range h {
		h[i] = Peak(category)
	}
	return h
}

// Words returns n distinct tokens.
func Words(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("word%d", i)
	}
	return out
}

// Lines returns n words packed into lines of eight.
func Lines(n int) []string {
	words := Words(n)
	var lines []string
	for len(words) > 0 {
		k := min(8, len(words))
		line := ""
		for i, w := range words[:k] {
			if i > 0 {
				line += " "
			}
			line += w
		}
		lines = append(lines, line)
		words = words[k:]
	}
	return lines
}

// FixedRand always draws index i modulo n.
type FixedRand int

// IntN implements catalog.Rand.
func (f FixedRand) IntN(n int) int { return int(f) % n }

// EligibleSnapshot returns a snapshot that passes every gate check for
// category at Now: ads enabled with an identity, history won by category,
// last ad two hours ago and shopping intent active.
func EligibleSnapshot(category string) state.Snapshot {
	return state.Snapshot{
		AdsEnabled: true,
		AdUUID:     "00000000-0000-4000-8000-000000000000",
		PageScores: History(category, 3),
		AdHistory: state.AdRecord{
			LastAdTime:     Now.Add(-2 * time.Hour),
			LastAdCategory: "travel",
			LastAdID:       "t1",
		},
		Intent: intent.Flags{Shopping: intent.Flag{
			Active:    true,
			SourceURL: "https://amazon.com/",
			Score:     1.0,
			Timestamp: Now.Add(-time.Minute),
		}},
	}
}
