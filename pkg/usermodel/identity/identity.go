package identity

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cognicore/usermodel/pkg/usermodel/state"
)

// Generator produces a new anonymous identifier.
type Generator func() (string, error)

// RandomUUID returns a version 4 UUID drawn from crypto/rand.
func RandomUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate ad uuid: %w", err)
	}
	return id.String(), nil
}

// Manager keeps the anonymous identity in place whenever ads are enabled.
type Manager struct {
	gen Generator
}

// NewManager returns a Manager using gen, or RandomUUID when gen is nil.
func NewManager(gen Generator) *Manager {
	if gen == nil {
		gen = RandomUUID
	}
	return &Manager{gen: gen}
}

// Ensure generates an identity when ads are enabled and none exists yet.
// An existing identity is never replaced. If the generator fails the
// snapshot is returned unchanged together with the error.
func (m *Manager) Ensure(s state.Snapshot) (state.Snapshot, error) {
	if !s.AdsEnabled || s.AdUUID != "" {
		return s, nil
	}
	id, err := m.gen()
	if err != nil {
		return s, err
	}
	return s.WithAdUUID(id), nil
}
