package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	payload := map[string]any{"category": "finance"}
	r.Log(TagAdShown, payload)
	r.Log(TagAdThrottled, nil)

	payload["category"] = "changed"

	tags := r.Tags()
	if len(tags) != 2 || tags[0] != TagAdShown || tags[1] != TagAdThrottled {
		t.Errorf("Tags = %v", tags)
	}

	e, ok := r.Last(TagAdShown)
	if !ok {
		t.Fatal("Last should find the ad shown event")
	}
	if e.Payload["category"] != "finance" {
		t.Error("Recorder should copy payloads")
	}

	if _, ok := r.Last(TagNoCatalog); ok {
		t.Error("Last should not find an unrecorded tag")
	}

	r.Reset()
	if len(r.Events()) != 0 {
		t.Error("Reset should clear events")
	}
}

func TestTee(t *testing.T) {
	var a, b Recorder
	Tee{&a, nil, &b}.Log(TagSiteVisited, map[string]any{"url": "https://x"})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Error("Tee should deliver to every sink")
	}
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	NewSlogSink(logger).Log(TagNoAdsForCategory, map[string]any{"category": "travel-air", "arbitraryKey": "t1"})

	out := buf.String()
	if !strings.Contains(out, `msg="No ads for category"`) {
		t.Errorf("Missing message in %q", out)
	}
	// Keys are sorted for stable output.
	if strings.Index(out, "arbitraryKey=t1") > strings.Index(out, "category=travel-air") {
		t.Errorf("Payload keys should be sorted: %q", out)
	}
}

func TestConfigureLogging(t *testing.T) {
	t.Setenv("USERMODEL_LOG_LEVEL", "")
	var buf bytes.Buffer
	logger := ConfigureLogging("warn", "json", &buf)
	defer SetLogLevel(slog.LevelInfo)

	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info should be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("Expected JSON output, got %q", out)
	}
}

func TestConfigureLoggingEnvOverride(t *testing.T) {
	t.Setenv("USERMODEL_LOG_LEVEL", "DEBUG")
	var buf bytes.Buffer
	logger := ConfigureLogging("error", "text", &buf)
	defer SetLogLevel(slog.LevelInfo)

	logger.Debug("debug line")
	if !strings.Contains(buf.String(), "debug line") {
		t.Error("Environment level should override the configured level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

type memAppender struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memAppender) AppendEvent(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func TestJournalAssignsSortableIDs(t *testing.T) {
	app := &memAppender{}
	j := NewJournal(app, nil)

	for i := 0; i < 5; i++ {
		j.Log(TagSiteVisited, map[string]any{"n": i})
	}
	if len(app.events) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(app.events))
	}
	for i, e := range app.events {
		if _, err := ulid.ParseStrict(e.ID); err != nil {
			t.Errorf("event %d: id %q is not a ULID: %v", i, e.ID, err)
		}
		if i > 0 && app.events[i-1].ID >= e.ID {
			t.Errorf("ids should increase: %s then %s", app.events[i-1].ID, e.ID)
		}
	}
}

func TestJournalSwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	app := &memAppender{err: errors.New("disk full")}
	j := NewJournal(app, slog.New(slog.NewTextHandler(&buf, nil)))

	j.Log(TagAdShown, nil)
	if !strings.Contains(buf.String(), "disk full") {
		t.Errorf("Write failure should be logged, got %q", buf.String())
	}
}
