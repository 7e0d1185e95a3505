package intent

import (
	"testing"
	"time"
)

func TestUpdateShoppingMatch(t *testing.T) {
	tr := NewTracker(nil, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	flags := tr.UpdateShopping(Flags{}, "https://amazon.com/dp/B000123", now)
	got := flags.Shopping
	if !got.Active {
		t.Fatal("Shopping flag should be active after visiting amazon.com")
	}
	if got.Score != 1.0 {
		t.Errorf("Score = %f, want 1.0", got.Score)
	}
	if got.SourceURL != "https://amazon.com/dp/B000123" {
		t.Errorf("SourceURL = %q", got.SourceURL)
	}
	if !got.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, now)
	}
	if flags.Search.Active {
		t.Error("Search flag must not change on a shopping update")
	}
}

func TestUpdateShoppingClearsWhenActive(t *testing.T) {
	tr := NewTracker(nil, nil)
	now := time.Now()

	flags := tr.UpdateShopping(Flags{}, "https://amazon.com/", now)
	flags = tr.UpdateShopping(flags, "https://example.org/", now.Add(time.Minute))
	if flags.Shopping.Active {
		t.Error("Shopping flag should clear on a non-matching visit")
	}
	if flags.Shopping.SourceURL != "" {
		t.Errorf("Cleared flag should drop its source, got %q", flags.Shopping.SourceURL)
	}
}

func TestUpdateInactiveNoop(t *testing.T) {
	tr := NewTracker(nil, nil)
	before := Flags{Search: Flag{Active: false, Score: 0.3}}
	after := tr.UpdateSearch(before, "https://example.org/", time.Now())
	if after != before {
		t.Errorf("Non-match while inactive should be a no-op: %+v -> %+v", before, after)
	}
}

func TestFlagsAreIndependent(t *testing.T) {
	tr := NewTracker(nil, nil)
	now := time.Now()

	flags := tr.UpdateSearch(Flags{}, "https://google.com/search?q=shoes", now)
	// A shopping update for a non-shopping host must not clear search.
	flags = tr.UpdateShopping(flags, "https://google.com/search?q=shoes", now)
	if !flags.Search.Active {
		t.Error("Search flag should stay active")
	}
	if flags.Shopping.Active {
		t.Error("Shopping flag should stay inactive")
	}
}

func TestHostMatchIsExact(t *testing.T) {
	tr := NewTracker(nil, nil)
	tests := []struct {
		url    string
		active bool
	}{
		{"https://amazon.com/x", true},
		{"https://AMAZON.com:443/x", true},
		{"https://www.amazon.com/x", false},
		{"https://amazon.com.evil.net/", false},
		{"not a url at all", false},
		{"", false},
	}
	for _, tt := range tests {
		flags := tr.UpdateShopping(Flags{}, tt.url, time.Now())
		if flags.Shopping.Active != tt.active {
			t.Errorf("UpdateShopping(%q).Active = %v, want %v", tt.url, flags.Shopping.Active, tt.active)
		}
	}
}

func TestCustomHosts(t *testing.T) {
	tr := NewTracker([]string{"shop.example", " WWW.Amazon.com "}, []string{"duckduckgo.com"})
	now := time.Now()

	if !tr.UpdateShopping(Flags{}, "https://www.amazon.com/", now).Shopping.Active {
		t.Error("Configured host should trigger shopping")
	}
	if tr.UpdateShopping(Flags{}, "https://amazon.com/", now).Shopping.Active {
		t.Error("Defaults should not apply when hosts are configured")
	}
	if !tr.UpdateSearch(Flags{}, "https://duckduckgo.com/?q=x", now).Search.Active {
		t.Error("Configured host should trigger search")
	}
}

func TestFlagsGet(t *testing.T) {
	f := Flags{Shopping: Flag{Active: true}}
	if !f.Get(Shopping).Active {
		t.Error("Get(Shopping) should return the shopping flag")
	}
	if f.Get(Search).Active {
		t.Error("Get(Search) should return the search flag")
	}
	if f.Get(Kind("other")).Active {
		t.Error("Unknown kind should return an inactive flag")
	}
}
