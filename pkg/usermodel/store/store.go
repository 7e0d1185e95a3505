package store

import (
	"context"

	"github.com/cognicore/usermodel/pkg/usermodel/events"
	"github.com/cognicore/usermodel/pkg/usermodel/state"
)

// DefaultProfile is used when no profile name is configured.
const DefaultProfile = "default"

// Store persists per-profile snapshots and the event journal.
type Store interface {
	Close() error

	// Snapshots. LoadState reports false when the profile has never been saved.
	LoadState(ctx context.Context, profile string) (state.Snapshot, bool, error)
	SaveState(ctx context.Context, profile string, s state.Snapshot) error
	DeleteState(ctx context.Context, profile string) error
	Profiles(ctx context.Context) ([]string, error)

	// Events, newest first from RecentEvents.
	AppendEvent(ctx context.Context, e events.Event) error
	RecentEvents(ctx context.Context, limit int) ([]events.Event, error)
}

// ProfileName returns name, or DefaultProfile when name is empty.
func ProfileName(name string) string {
	if name == "" {
		return DefaultProfile
	}
	return name
}
