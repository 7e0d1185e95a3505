package events

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Appender persists events.
type Appender interface {
	AppendEvent(ctx context.Context, e Event) error
}

// Journal is a Sink that persists events with ULID ids, so they sort by
// time. Write failures are logged and otherwise ignored.
type Journal struct {
	appender Appender
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewJournal returns a journal writing to a.
func NewJournal(a Appender, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		appender: a,
		logger:   logger,
		now:      time.Now,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

// Log implements Sink.
func (j *Journal) Log(tag string, payload map[string]any) {
	at := j.now()

	j.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(at), j.entropy).String()
	j.mu.Unlock()

	e := Event{ID: id, Tag: tag, Payload: copyPayload(payload), At: at}
	if err := j.appender.AppendEvent(context.Background(), e); err != nil {
		j.logger.Warn("event journal write failed", "tag", tag, "error", err)
	}
}
