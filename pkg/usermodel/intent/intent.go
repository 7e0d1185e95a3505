package intent

import (
	"net/url"
	"strings"
	"time"
)

// Kind names a context flag.
type Kind string

const (
	Shopping Kind = "shopping"
	Search   Kind = "search"
)

// Default trigger hosts for each flag kind.
var (
	DefaultShoppingHosts = []string{"amazon.com"}
	DefaultSearchHosts   = []string{"google.com"}
)

// Flag is a level-triggered intent signal. Only the most recent visit
// decides whether it is active.
type Flag struct {
	Active    bool      `json:"active"`
	SourceURL string    `json:"source_url,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Flags holds both intent flags. They are independent of each other.
type Flags struct {
	Shopping Flag `json:"shopping"`
	Search   Flag `json:"search"`
}

// Get returns the flag for kind.
func (f Flags) Get(kind Kind) Flag {
	switch kind {
	case Shopping:
		return f.Shopping
	case Search:
		return f.Search
	}
	return Flag{}
}

// Tracker matches visited hostnames against per-flag trigger hosts.
type Tracker struct {
	shopping map[string]struct{}
	search   map[string]struct{}
}

// NewTracker builds a tracker. Empty host lists fall back to the defaults.
func NewTracker(shoppingHosts, searchHosts []string) *Tracker {
	if len(shoppingHosts) == 0 {
		shoppingHosts = DefaultShoppingHosts
	}
	if len(searchHosts) == 0 {
		searchHosts = DefaultSearchHosts
	}
	return &Tracker{
		shopping: hostSet(shoppingHosts),
		search:   hostSet(searchHosts),
	}
}

// UpdateShopping returns flags with the shopping flag re-evaluated for visitedURL.
func (t *Tracker) UpdateShopping(flags Flags, visitedURL string, now time.Time) Flags {
	flags.Shopping = update(flags.Shopping, t.shopping, visitedURL, now)
	return flags
}

// UpdateSearch returns flags with the search flag re-evaluated for visitedURL.
func (t *Tracker) UpdateSearch(flags Flags, visitedURL string, now time.Time) Flags {
	flags.Search = update(flags.Search, t.search, visitedURL, now)
	return flags
}

func update(current Flag, hosts map[string]struct{}, visitedURL string, now time.Time) Flag {
	if _, ok := hosts[Hostname(visitedURL)]; ok {
		return Flag{Active: true, SourceURL: visitedURL, Score: 1.0, Timestamp: now}
	}
	if current.Active {
		return Flag{}
	}
	return current
}

// Hostname extracts the lowercase host of rawURL without port. Unparseable
// input yields "".
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func hostSet(hosts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}
