// Package events is the logging sink of the user model. Every suppression
// reason, classification winner, served ad and transient failure is
// reported here as a tagged event with an optional payload.
package events

import (
	"sort"
	"sync"
	"time"
)

// Event tags.
const (
	TagSiteVisited       = "Site visited"
	TagAdThrottled       = "Ad throttled"
	TagNoCatalog         = "No ad catalog"
	TagNoAdsForCategory  = "No ads for category"
	TagIncompleteAd      = "Incomplete ad information"
	TagAdShown           = "Ad shown"
	TagSSIDUnavailable   = "SSID unavailable"
	TagSSIDReceived      = "SSID received"
	TagModelLoaded       = "Model loaded"
	TagModelLoadFailed   = "Model load failed"
	TagIdentityFailed    = "Ad UUID unavailable"
	TagNotificationError = "Notification failed"
)

// Event is a recorded log entry.
type Event struct {
	ID      string         `json:"id"`
	Tag     string         `json:"tag"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// Sink receives events. Implementations must not block the caller for
// long and must not fail; errors are their own business.
type Sink interface {
	Log(tag string, payload map[string]any)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(tag string, payload map[string]any)

// Log implements Sink.
func (f SinkFunc) Log(tag string, payload map[string]any) { f(tag, payload) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(string, map[string]any) {})

// Tee fans an event out to several sinks in order.
type Tee []Sink

// Log implements Sink.
func (t Tee) Log(tag string, payload map[string]any) {
	for _, s := range t {
		if s != nil {
			s.Log(tag, payload)
		}
	}
}

// Recorder keeps events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Log implements Sink.
func (r *Recorder) Log(tag string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Tag: tag, Payload: copyPayload(payload), At: time.Now()})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Tags returns the recorded tags in order.
func (r *Recorder) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]string, len(r.events))
	for i, e := range r.events {
		tags[i] = e.Tag
	}
	return tags
}

// Last returns the most recent event with tag.
func (r *Recorder) Last(tag string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Tag == tag {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func copyPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func sortedKeys(p map[string]any) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
