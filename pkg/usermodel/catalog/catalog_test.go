package catalog

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func sampleCatalog() *Catalog {
	return &Catalog{Categories: map[string]map[string]Candidate{
		"finance": {
			"a1": {NotificationText: "T", NotificationURL: "U", Advertiser: "Adv"},
		},
		"travel": {
			"t1": {NotificationText: "Fly", NotificationURL: "https://fly.example", Advertiser: "Air"},
			"t2": {NotificationText: "Sail", NotificationURL: "https://sail.example", Advertiser: "Sea"},
			"t3": {NotificationText: "Drive", NotificationURL: "https://drive.example", Advertiser: "Car"},
		},
		"broken": {
			"b1": {NotificationText: "no url", Advertiser: "X"},
		},
		"empty": {},
	}}
}

type fixedRand int

func (f fixedRand) IntN(n int) int { return int(f) % n }

func TestSelectSingleCandidate(t *testing.T) {
	sel, err := sampleCatalog().Select("finance", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.ID != "a1" || sel.Category != "finance" {
		t.Errorf("Expected finance/a1, got %s/%s", sel.Category, sel.ID)
	}
	if sel.Advertiser != "Adv" || sel.NotificationText != "T" || sel.NotificationURL != "U" {
		t.Errorf("Payload not carried through: %+v", sel.Candidate)
	}
}

func TestSelectReturnsKeyOfBucket(t *testing.T) {
	c := sampleCatalog()
	rnd := rand.New(rand.NewPCG(1, 2))
	seen := map[string]int{}
	for i := 0; i < 300; i++ {
		sel, err := c.Select("travel", rnd)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if _, ok := c.Categories["travel"][sel.ID]; !ok {
			t.Fatalf("Select returned %q which is not in the bucket", sel.ID)
		}
		seen[sel.ID]++
	}
	if len(seen) != 3 {
		t.Errorf("Uniform draw should reach every candidate, saw %v", seen)
	}
}

func TestSelectDeterministicWithFixedSource(t *testing.T) {
	c := sampleCatalog()
	sel, err := c.Select("travel", fixedRand(1))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.ID != "t2" {
		t.Errorf("Sorted ids with index 1 should give t2, got %s", sel.ID)
	}
}

func TestSelectRejections(t *testing.T) {
	c := sampleCatalog()
	tests := []struct {
		category string
		want     error
	}{
		{"missing", ErrNoCategoryBucket},
		{"empty", ErrNoCategoryBucket},
		{"broken", ErrIncompleteCandidate},
	}
	for _, tt := range tests {
		_, err := c.Select(tt.category, nil)
		if !errors.Is(err, tt.want) {
			t.Errorf("Select(%q) error = %v, want %v", tt.category, err, tt.want)
		}
	}

	var nilCatalog *Catalog
	if _, err := nilCatalog.Select("finance", nil); !errors.Is(err, ErrNoCategoryBucket) {
		t.Errorf("nil catalog should have no buckets, got %v", err)
	}
}

func TestSelectIncompleteReportsDrawnCandidate(t *testing.T) {
	sel, err := sampleCatalog().Select("broken", nil)
	if !errors.Is(err, ErrIncompleteCandidate) {
		t.Fatalf("Expected incomplete, got %v", err)
	}
	if sel.ID != "b1" {
		t.Errorf("Rejected selection should still name the drawn id, got %q", sel.ID)
	}
}

func TestValidate(t *testing.T) {
	bad := sampleCatalog().Validate()
	if len(bad) != 1 || bad[0] != "broken/b1" {
		t.Errorf("Validate = %v, want [broken/b1]", bad)
	}
}
