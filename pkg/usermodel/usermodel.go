package usermodel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cognicore/usermodel/pkg/usermodel/classifier"
	"github.com/cognicore/usermodel/pkg/usermodel/events"
	"github.com/cognicore/usermodel/pkg/usermodel/gate"
	"github.com/cognicore/usermodel/pkg/usermodel/history"
	"github.com/cognicore/usermodel/pkg/usermodel/identity"
	"github.com/cognicore/usermodel/pkg/usermodel/ingest"
	"github.com/cognicore/usermodel/pkg/usermodel/intent"
	"github.com/cognicore/usermodel/pkg/usermodel/internalerr"
	"github.com/cognicore/usermodel/pkg/usermodel/model"
	"github.com/cognicore/usermodel/pkg/usermodel/netprobe"
	"github.com/cognicore/usermodel/pkg/usermodel/notify"
	"github.com/cognicore/usermodel/pkg/usermodel/state"
	"github.com/cognicore/usermodel/pkg/usermodel/store"
)

// Engine composes the user model entry points. Every entry point takes a
// snapshot and returns a new one; the engine itself holds no per-user
// state.
type Engine struct {
	handle     *model.Handle
	classifier *classifier.Classifier
	gate       *gate.Gate
	tracker    *intent.Tracker
	identity   *identity.Manager
	sink       events.Sink
	notifier   *notify.Async
	probe      netprobe.Probe
	store      store.Store
	capacity   int
	onNetwork  func(string)

	wg sync.WaitGroup
}

// Options configures an Engine. Nil fields get working defaults: an
// unpublished model handle, the default classifier, gate and tracker,
// random UUIDs, a discarding sink and no notifier, probe or store.
type Options struct {
	Handle     *model.Handle
	Classifier *classifier.Classifier
	Gate       *gate.Gate
	Tracker    *intent.Tracker
	Identity   *identity.Manager
	Sink       events.Sink
	// Notifier is always used through notify.Async, so CheckReadyAdServe
	// never waits for delivery.
	Notifier notify.Notifier
	Probe    netprobe.Probe
	Store    store.Store
	// Capacity is the history window size.
	Capacity int
	// OnNetworkID receives the identifier found by RetrieveNetworkID.
	OnNetworkID func(id string)
}

// New creates an Engine with the given dependencies
func New(opts Options) *Engine {
	e := &Engine{
		handle:     opts.Handle,
		classifier: opts.Classifier,
		gate:       opts.Gate,
		tracker:    opts.Tracker,
		identity:   opts.Identity,
		sink:       opts.Sink,
		probe:      opts.Probe,
		store:      opts.Store,
		capacity:   opts.Capacity,
		onNetwork:  opts.OnNetworkID,
	}
	if e.handle == nil {
		e.handle = model.NewHandle()
	}
	if e.classifier == nil {
		e.classifier = classifier.New()
	}
	if e.gate == nil {
		e.gate = gate.New()
	}
	if e.tracker == nil {
		e.tracker = intent.NewTracker(nil, nil)
	}
	if e.identity == nil {
		e.identity = identity.NewManager(nil)
	}
	if e.sink == nil {
		e.sink = events.Discard
	}
	if opts.Notifier != nil {
		async, ok := opts.Notifier.(*notify.Async)
		if !ok {
			async = notify.NewAsync(opts.Notifier, e.sink)
		}
		e.notifier = async
	}
	if e.capacity <= 0 {
		e.capacity = history.DefaultCapacity
	}
	return e
}

// Close waits for background work and closes the store, if any.
func (e *Engine) Close() error {
	e.Wait()
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// Wait blocks until the background model load, the network probe and
// any dispatched notifications have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
	if e.notifier != nil {
		e.notifier.Wait()
	}
}

// Readiness reports whether the model bundle has been published.
func (e *Engine) Readiness() model.Readiness {
	_, r := e.handle.Bundle()
	return r
}

// Handle returns the model handle the engine reads from.
func (e *Engine) Handle() *model.Handle {
	return e.handle
}

// Initialize starts the model load in the background, asks the network
// probe for the current network and makes sure an enabled user has an
// identity. It returns without waiting for either background task.
func (e *Engine) Initialize(ctx context.Context, s state.Snapshot, loader model.Loader) state.Snapshot {
	if loader != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.handle.Load(ctx, loader); err != nil {
				e.sink.Log(events.TagModelLoadFailed, map[string]any{"reason": err.Error()})
				return
			}
			b, _ := e.handle.Bundle()
			e.sink.Log(events.TagModelLoaded, map[string]any{
				"categories": len(b.Model.Names),
				"catalog":    b.Catalog != nil,
			})
		}()
	}

	e.RetrieveNetworkID(ctx)
	return e.ensureIdentity(s)
}

// Page is a scraped page. Nil Headers means the scrape did not happen.
type Page struct {
	Headers []string `json:"headers"`
	Body    []string `json:"body"`
	URL     string   `json:"url"`
}

// ClassifyPage scores the page and appends the result to the history
// window. The snapshot is returned unchanged when headers are missing,
// the page is too short or the model is not loaded yet.
func (e *Engine) ClassifyPage(s state.Snapshot, p Page) state.Snapshot {
	if p.Headers == nil {
		return s
	}
	b, ready := e.handle.Bundle()
	if ready != model.Ready {
		return s
	}

	words := ingest.PageWords(p.Headers, p.Body)
	scores, ok := e.classifier.Classify(words, b.Model)
	if !ok {
		return s
	}

	out := s.WithPageScore(scores, e.capacity)

	names := b.Model.Names
	immediate := names[classifier.ArgMax(scores)]
	overTime, _ := history.Winner(out.PageScores, names, e.gate.Policy)
	e.sink.Log(events.TagSiteVisited, map[string]any{
		"url":             p.URL,
		"immediateWinner": immediate,
		"winnerOverTime":  overTime,
	})
	return out
}

// TestShopping updates the shopping flag from a visited URL.
func (e *Engine) TestShopping(s state.Snapshot, visitedURL string, now time.Time) state.Snapshot {
	return s.WithIntent(e.tracker.UpdateShopping(s.Intent, visitedURL, now))
}

// TestSearch updates the search flag from a visited URL.
func (e *Engine) TestSearch(s state.Snapshot, visitedURL string, now time.Time) state.Snapshot {
	return s.WithIntent(e.tracker.UpdateSearch(s.Intent, visitedURL, now))
}

// Visit runs the per-page entry points in order: activity timestamp,
// classification and both intent flags.
func (e *Engine) Visit(s state.Snapshot, p Page, now time.Time) state.Snapshot {
	s = e.TabUpdate(s, now)
	s = e.ClassifyPage(s, p)
	s = e.TestShopping(s, p.URL, now)
	return e.TestSearch(s, p.URL, now)
}

// RemoveAllHistory wipes browsing-derived state. The identity survives
// and is created if ads are enabled without one.
func (e *Engine) RemoveAllHistory(s state.Snapshot) state.Snapshot {
	return e.ensureIdentity(s.WithoutHistory())
}

// RemoveHistorySite is called when the user removes one site from their
// browsing history. Scores are not attributed to sites, so the whole
// history goes.
func (e *Engine) RemoveHistorySite(s state.Snapshot, siteURL string) state.Snapshot {
	return e.RemoveAllHistory(s)
}

// SetAdsEnabled flips the ads toggle and ensures the identity.
func (e *Engine) SetAdsEnabled(s state.Snapshot, enabled bool) state.Snapshot {
	return e.ensureIdentity(s.WithAdsEnabled(enabled))
}

// ChangeAdFrequency stores the ads-per-day preference.
func (e *Engine) ChangeAdFrequency(s state.Snapshot, freq float64) state.Snapshot {
	return s.WithAdFrequency(freq)
}

// TabUpdate records user activity on a tab change.
func (e *Engine) TabUpdate(s state.Snapshot, now time.Time) state.Snapshot {
	return s.WithUserActivity(now)
}

// UserAction records an explicit user interaction.
func (e *Engine) UserAction(s state.Snapshot, now time.Time) state.Snapshot {
	return s.WithUserActivity(now)
}

// RecordUnIdle records the moment the user came back from idle.
func (e *Engine) RecordUnIdle(s state.Snapshot, now time.Time) state.Snapshot {
	return s.WithIdleStop(now)
}

// RecordNetworkID stores an identifier delivered by the network probe.
func (e *Engine) RecordNetworkID(s state.Snapshot, id string) state.Snapshot {
	return s.WithNetworkID(id)
}

// RetrieveNetworkID queries the probe on a background goroutine. Failures
// are logged; a result is logged and handed to Options.OnNetworkID.
func (e *Engine) RetrieveNetworkID(ctx context.Context) {
	if e.probe == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		id, err := e.probe.NetworkID(ctx)
		if err != nil {
			e.sink.Log(events.TagSSIDUnavailable, map[string]any{"reason": err.Error()})
			return
		}
		e.sink.Log(events.TagSSIDReceived, map[string]any{"ssid": id})
		if e.onNetwork != nil {
			e.onNetwork(id)
		}
	}()
}

// CheckReadyAdServe evaluates the eligibility gate and, when it passes,
// shows the ad and records it. Every suppression is logged. Nothing is
// evaluated while ads are disabled, and nothing is served without an
// anonymous identity.
func (e *Engine) CheckReadyAdServe(ctx context.Context, s state.Snapshot, windowID int, now time.Time) (state.Snapshot, gate.Decision) {
	if !s.AdsEnabled {
		return s, gate.Decision{Reason: gate.AdsDisabled}
	}
	s = e.ensureIdentity(s)
	if s.AdUUID == "" {
		d := gate.Decision{Reason: gate.NoIdentity}
		e.logSuppression(d)
		return s, d
	}

	b, _ := e.handle.Bundle()
	d := e.gate.Decide(s, b, now)
	if !d.Serve {
		e.logSuppression(d)
		return s, d
	}

	c := d.Candidate
	if e.notifier != nil {
		// Delivery failures are logged by the notifier.
		_ = e.notifier.Show(ctx, notify.Notification{
			WindowID: windowID,
			Title:    c.Advertiser,
			Message:  c.NotificationText,
			URL:      c.NotificationURL,
			Timeout:  notify.DefaultTimeout,
		})
	}
	e.sink.Log(events.TagAdShown, map[string]any{
		"category":         d.Winner,
		"arbitraryKey":     c.ID,
		"notificationUrl":  c.NotificationURL,
		"notificationText": c.NotificationText,
		"winnerOverTime":   d.Category,
		"advertiser":       c.Advertiser,
	})
	return s.WithAdShown(d.Category, c.ID, now), d
}

func (e *Engine) logSuppression(d gate.Decision) {
	switch d.Reason {
	case gate.NoCatalog:
		e.sink.Log(events.TagNoCatalog, nil)
	case gate.NoCandidatesForCategory:
		e.sink.Log(events.TagNoAdsForCategory, map[string]any{"category": d.Winner})
	case gate.IncompleteCandidate:
		c := d.Candidate
		e.sink.Log(events.TagIncompleteAd, map[string]any{
			"category":         d.Winner,
			"arbitraryKey":     c.ID,
			"notificationUrl":  c.NotificationURL,
			"notificationText": c.NotificationText,
			"advertiser":       c.Advertiser,
		})
	default:
		e.sink.Log(events.TagAdThrottled, map[string]any{"reason": string(d.Reason)})
	}
}

// LoadState reads the profile's snapshot from the store. A profile that
// was never saved yields an empty snapshot.
func (e *Engine) LoadState(ctx context.Context, profile string) (state.Snapshot, error) {
	if e.store == nil {
		return state.Snapshot{}, fmt.Errorf("load state: %w", internalerr.ErrStoreUnavailable)
	}
	s, _, err := e.store.LoadState(ctx, profile)
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("load state %s: %w", store.ProfileName(profile), err)
	}
	return s, nil
}

// SaveCachedInfo writes the snapshot to the store.
func (e *Engine) SaveCachedInfo(ctx context.Context, profile string, s state.Snapshot) error {
	if e.store == nil {
		return fmt.Errorf("save state: %w", internalerr.ErrStoreUnavailable)
	}
	if err := e.store.SaveState(ctx, profile, s); err != nil {
		return fmt.Errorf("save state %s: %w", store.ProfileName(profile), err)
	}
	return nil
}

func (e *Engine) ensureIdentity(s state.Snapshot) state.Snapshot {
	out, err := e.identity.Ensure(s)
	if err != nil {
		e.sink.Log(events.TagIdentityFailed, map[string]any{"reason": err.Error()})
		return s
	}
	return out
}
