package gate

import (
	"testing"
	"time"

	"github.com/cognicore/usermodel/pkg/usermodel/history"
	"github.com/cognicore/usermodel/pkg/usermodel/intent"
	"github.com/cognicore/usermodel/pkg/usermodel/model"
	"github.com/cognicore/usermodel/pkg/usermodel/state"
	"github.com/cognicore/usermodel/pkg/usermodel/usermodeltest"
)

func TestDecideServe(t *testing.T) {
	g := New()
	s := usermodeltest.EligibleSnapshot("finance-sub")

	d := g.Decide(s, usermodeltest.Bundle("finance-sub"), usermodeltest.Now)
	if !d.Serve {
		t.Fatalf("Expected Serve, got %s", d)
	}
	if d.Category != "finance" || d.Winner != "finance-sub" {
		t.Errorf("Category = %q, Winner = %q", d.Category, d.Winner)
	}
	if d.Candidate.ID != "a1" {
		t.Errorf("Candidate = %q, want a1", d.Candidate.ID)
	}
	if d.String() != "Serve(finance)" {
		t.Errorf("String() = %q", d.String())
	}
}

func TestDecideSuppressions(t *testing.T) {
	now := usermodeltest.Now
	bundle := usermodeltest.Bundle("finance-sub")

	tests := []struct {
		name   string
		mutate func(s state.Snapshot) state.Snapshot
		bundle *model.Bundle
		want   Reason
	}{
		{
			name:   "model not loaded",
			bundle: nil,
			want:   NoCatalog,
		},
		{
			name:   "catalog not loaded",
			bundle: &model.Bundle{Model: bundle.Model},
			want:   NoCatalog,
		},
		{
			name: "empty history",
			mutate: func(s state.Snapshot) state.Snapshot {
				s.PageScores = nil
				return s
			},
			bundle: bundle,
			want:   NoCandidatesForCategory,
		},
		{
			name: "no bucket for winner",
			mutate: func(s state.Snapshot) state.Snapshot {
				s.PageScores = usermodeltest.History("sports-golf", 2)
				return s
			},
			bundle: bundle,
			want:   NoCandidatesForCategory,
		},
		{
			name: "incomplete candidate",
			mutate: func(s state.Snapshot) state.Snapshot {
				s.PageScores = usermodeltest.History("arts-music", 2)
				return s
			},
			bundle: bundle,
			want:   IncompleteCandidate,
		},
		{
			name: "same candidate as last time",
			mutate: func(s state.Snapshot) state.Snapshot {
				s.AdHistory.LastAdCategory = "finance"
				s.AdHistory.LastAdID = "a1"
				return s
			},
			bundle: bundle,
			want:   DuplicateAd,
		},
		{
			name: "last ad 30 minutes ago",
			mutate: func(s state.Snapshot) state.Snapshot {
				s.AdHistory.LastAdTime = now.Add(-30 * time.Minute)
				return s
			},
			bundle: bundle,
			want:   RateLimited,
		},
		{
			name: "last ad exactly one hour ago",
			mutate: func(s state.Snapshot) state.Snapshot {
				s.AdHistory.LastAdTime = now.Add(-time.Hour)
				return s
			},
			bundle: bundle,
			want:   RateLimited,
		},
		{
			name: "no shopping intent",
			mutate: func(s state.Snapshot) state.Snapshot {
				s.Intent = intent.Flags{Search: intent.Flag{Active: true}}
				return s
			},
			bundle: bundle,
			want:   NoIntentSignal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := usermodeltest.EligibleSnapshot("finance-sub")
			if tt.mutate != nil {
				s = tt.mutate(s)
			}
			d := New().Decide(s, tt.bundle, now)
			if d.Serve {
				t.Fatalf("Expected Suppress(%s), got Serve", tt.want)
			}
			if d.Reason != tt.want {
				t.Errorf("Reason = %s, want %s", d.Reason, tt.want)
			}
		})
	}
}

func TestDecideRateLimitedDespiteEverythingElse(t *testing.T) {
	s := usermodeltest.EligibleSnapshot("finance-sub")
	for _, ago := range []time.Duration{0, time.Second, 59 * time.Minute, time.Hour} {
		s.AdHistory.LastAdTime = usermodeltest.Now.Add(-ago)
		d := New().Decide(s, usermodeltest.Bundle("finance-sub"), usermodeltest.Now)
		if d.Serve || d.Reason != RateLimited {
			t.Errorf("last ad %v ago: got %s, want Suppress(RateLimited)", ago, d)
		}
	}

	s.AdHistory.LastAdTime = usermodeltest.Now.Add(-time.Hour - time.Second)
	if d := New().Decide(s, usermodeltest.Bundle("finance-sub"), usermodeltest.Now); !d.Serve {
		t.Errorf("Just over an hour should serve, got %s", d)
	}
}

func TestDecideFirstAdEver(t *testing.T) {
	s := usermodeltest.EligibleSnapshot("finance-sub")
	s.AdHistory = state.AdRecord{}
	d := New().Decide(s, usermodeltest.Bundle("finance-sub"), usermodeltest.Now)
	if !d.Serve {
		t.Errorf("No previous ad should not rate limit, got %s", d)
	}
}

func TestDecideOrderPrefersStructuralReasons(t *testing.T) {
	// Everything is wrong at once: the structural reason wins.
	s := state.Snapshot{
		PageScores: usermodeltest.History("sports-golf", 1),
		AdHistory:  state.AdRecord{LastAdTime: usermodeltest.Now},
	}
	d := New().Decide(s, usermodeltest.Bundle("finance-sub"), usermodeltest.Now)
	if d.Reason != NoCandidatesForCategory {
		t.Errorf("Reason = %s, want NoCandidatesForCategory", d.Reason)
	}

	// Duplicate beats rate limiting.
	s = usermodeltest.EligibleSnapshot("finance-sub")
	s.AdHistory = state.AdRecord{LastAdTime: usermodeltest.Now, LastAdCategory: "finance", LastAdID: "a1"}
	d = New().Decide(s, usermodeltest.Bundle("finance-sub"), usermodeltest.Now)
	if d.Reason != DuplicateAd {
		t.Errorf("Reason = %s, want DuplicateAd", d.Reason)
	}
}

func TestDecideDedupIsByCandidate(t *testing.T) {
	s := usermodeltest.EligibleSnapshot("travel-air")
	s.AdHistory.LastAdCategory = "travel"
	s.AdHistory.LastAdID = "t1"

	g := New()
	g.Rand = usermodeltest.FixedRand(1) // draws t2
	d := g.Decide(s, usermodeltest.Bundle("travel-air"), usermodeltest.Now)
	if !d.Serve || d.Candidate.ID != "t2" {
		t.Errorf("Another candidate in the same category should serve, got %s (%s)", d, d.Candidate.ID)
	}

	g.Rand = usermodeltest.FixedRand(0) // draws t1
	d = g.Decide(s, usermodeltest.Bundle("travel-air"), usermodeltest.Now)
	if d.Reason != DuplicateAd {
		t.Errorf("Same candidate should be a duplicate, got %s", d)
	}
}

func TestDecideWithoutRequiredIntents(t *testing.T) {
	s := usermodeltest.EligibleSnapshot("finance-sub")
	s.Intent = intent.Flags{}

	g := New()
	g.RequiredIntents = nil
	if d := g.Decide(s, usermodeltest.Bundle("finance-sub"), usermodeltest.Now); !d.Serve {
		t.Errorf("No required intents should serve, got %s", d)
	}

	g.RequiredIntents = []intent.Kind{intent.Search}
	s.Intent.Search = intent.Flag{Active: true}
	if d := g.Decide(s, usermodeltest.Bundle("finance-sub"), usermodeltest.Now); !d.Serve {
		t.Errorf("Search intent should satisfy a search requirement, got %s", d)
	}
}

func TestDecideIgnoresAdFrequency(t *testing.T) {
	s := usermodeltest.EligibleSnapshot("finance-sub")
	for _, freq := range []float64{0, 0.001, 1000} {
		s.AdFrequency = freq
		if d := New().Decide(s, usermodeltest.Bundle("finance-sub"), usermodeltest.Now); !d.Serve {
			t.Errorf("AdFrequency %v changed the decision: %s", freq, d)
		}
	}
}

func TestDecideUsesPolicy(t *testing.T) {
	s := usermodeltest.EligibleSnapshot("finance-sub")
	s.PageScores = append(usermodeltest.History("travel-air", 3), usermodeltest.History("finance-sub", 1)...)

	g := New()
	g.Rand = usermodeltest.FixedRand(1)
	if d := g.Decide(s, usermodeltest.Bundle("finance-sub"), usermodeltest.Now); d.Category != "travel" {
		t.Errorf("Sum policy should pick travel, got %q", d.Category)
	}

	g.Policy = history.DecayPolicy{HalfLife: 0.25}
	if d := g.Decide(s, usermodeltest.Bundle("finance-sub"), usermodeltest.Now); d.Category != "finance" {
		t.Errorf("Steep decay should pick the latest page, got %q", d.Category)
	}
}
