package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cognicore/usermodel/pkg/usermodel/events"
)

// Notification is an ad shown to the user as a system notification.
type Notification struct {
	WindowID int    `json:"window_id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	URL      string `json:"url"`
	// Timeout is how long the notification stays on screen.
	Timeout time.Duration `json:"timeout"`
}

// DefaultTimeout is used when a notification does not set one.
const DefaultTimeout = 60 * time.Second

// Notifier delivers notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

// Show implements Notifier.
func (f Func) Show(ctx context.Context, n Notification) error { return f(ctx, n) }

// Async dispatches notifications on their own goroutine so callers never
// wait for delivery. Failures are reported to the event sink.
type Async struct {
	next Notifier
	sink events.Sink
	wg   sync.WaitGroup
}

// NewAsync wraps next.
func NewAsync(next Notifier, sink events.Sink) *Async {
	if sink == nil {
		sink = events.Discard
	}
	return &Async{next: next, sink: sink}
}

// Show implements Notifier. It always returns nil.
func (a *Async) Show(ctx context.Context, n Notification) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.next.Show(context.WithoutCancel(ctx), n); err != nil {
			a.sink.Log(events.TagNotificationError, map[string]any{
				"windowId": n.WindowID,
				"url":      n.URL,
				"reason":   err.Error(),
			})
		}
	}()
	return nil
}

// Wait blocks until every dispatched notification has been handled.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Writer prints each notification as a JSON line.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Notifier printing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Show implements Notifier.
func (w *Writer) Show(_ context.Context, n Notification) error {
	if n.Timeout == 0 {
		n.Timeout = DefaultTimeout
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.w, string(data))
	return err
}

// Recorder keeps shown notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	shown []Notification
}

// Show implements Notifier.
func (r *Recorder) Show(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, n)
	return nil
}

// Shown returns a copy of the recorded notifications.
func (r *Recorder) Shown() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.shown...)
}
