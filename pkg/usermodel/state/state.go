// Package state holds the per-user snapshot the engine reads and produces.
// Every setter returns a new Snapshot and leaves the receiver untouched.
package state

import (
	"time"

	"github.com/cognicore/usermodel/pkg/usermodel/classifier"
	"github.com/cognicore/usermodel/pkg/usermodel/history"
	"github.com/cognicore/usermodel/pkg/usermodel/intent"
)

// AdRecord remembers the last ad actually shown.
type AdRecord struct {
	LastAdTime     time.Time `json:"last_ad_time,omitempty"`
	LastAdCategory string    `json:"last_ad_category,omitempty"`
	LastAdID       string    `json:"last_ad_id,omitempty"`
}

// Same reports whether the candidate (category, id) is the last one served.
func (r AdRecord) Same(category, id string) bool {
	return r.LastAdID != "" && r.LastAdID == id && r.LastAdCategory == category
}

// Snapshot is the complete per-user state.
type Snapshot struct {
	AdsEnabled bool   `json:"ads_enabled"`
	AdUUID     string `json:"ad_uuid,omitempty"`
	// AdFrequency is the user's ads-per-day preference. It is stored but
	// not consulted by the eligibility gate.
	AdFrequency float64 `json:"ad_frequency,omitempty"`

	PageScores history.Ledger `json:"page_scores,omitempty"`
	AdHistory  AdRecord       `json:"ad_history"`
	Intent     intent.Flags   `json:"intent"`

	LastUserActivity time.Time `json:"last_user_activity,omitempty"`
	LastIdleStop     time.Time `json:"last_idle_stop,omitempty"`
	NetworkID        string    `json:"network_id,omitempty"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.PageScores != nil {
		out.PageScores = make(history.Ledger, len(s.PageScores))
		for i, row := range s.PageScores {
			out.PageScores[i] = append(classifier.Scores(nil), row...)
		}
	}
	return out
}

// WithPageScore appends v to the score window, rotating out the oldest
// entry once capacity is reached.
func (s Snapshot) WithPageScore(v classifier.Scores, capacity int) Snapshot {
	out := s.Clone()
	out.PageScores = history.Append(s.PageScores, v, capacity)
	return out
}

// WithoutHistory wipes browsing-derived state. Preferences, the ads
// toggle, the anonymous identity and the network id survive.
func (s Snapshot) WithoutHistory() Snapshot {
	return Snapshot{
		AdsEnabled:  s.AdsEnabled,
		AdUUID:      s.AdUUID,
		AdFrequency: s.AdFrequency,
		NetworkID:   s.NetworkID,
	}
}

// WithAdShown records a served ad.
func (s Snapshot) WithAdShown(category, id string, at time.Time) Snapshot {
	out := s.Clone()
	out.AdHistory = AdRecord{LastAdTime: at, LastAdCategory: category, LastAdID: id}
	return out
}

// WithAdFrequency stores the ads-per-day preference.
func (s Snapshot) WithAdFrequency(freq float64) Snapshot {
	out := s.Clone()
	out.AdFrequency = freq
	return out
}

// WithAdsEnabled flips the ads toggle. Callers must ensure an identity
// afterwards.
func (s Snapshot) WithAdsEnabled(enabled bool) Snapshot {
	out := s.Clone()
	out.AdsEnabled = enabled
	return out
}

// WithAdUUID stores the anonymous identity.
func (s Snapshot) WithAdUUID(id string) Snapshot {
	out := s.Clone()
	out.AdUUID = id
	return out
}

// WithIntent replaces both intent flags.
func (s Snapshot) WithIntent(flags intent.Flags) Snapshot {
	out := s.Clone()
	out.Intent = flags
	return out
}

// WithUserActivity stamps the last time the user was active.
func (s Snapshot) WithUserActivity(at time.Time) Snapshot {
	out := s.Clone()
	out.LastUserActivity = at
	return out
}

// WithIdleStop stamps the last time the user came back from idle.
func (s Snapshot) WithIdleStop(at time.Time) Snapshot {
	out := s.Clone()
	out.LastIdleStop = at
	return out
}

// WithNetworkID stores the detected network identifier.
func (s Snapshot) WithNetworkID(id string) Snapshot {
	out := s.Clone()
	out.NetworkID = id
	return out
}
