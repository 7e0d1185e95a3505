package config

import (
	"fmt"

	"github.com/cognicore/usermodel/pkg/usermodel/classifier"
	"github.com/cognicore/usermodel/pkg/usermodel/gate"
	"github.com/cognicore/usermodel/pkg/usermodel/history"
	"github.com/cognicore/usermodel/pkg/usermodel/intent"
	"github.com/cognicore/usermodel/pkg/usermodel/model"
)

// Components holds the engine parts built from a Config
type Components struct {
	Classifier *classifier.Classifier
	Gate       *gate.Gate
	Tracker    *intent.Tracker
	Policy     history.Policy
	Capacity   int
	// Loader is nil when no model paths are configured.
	Loader model.Loader
}

// Build constructs the engine components described by c
func (c *Config) Build() (*Components, error) {
	policy, err := history.ParsePolicy(c.History.Policy, c.History.HalfLife)
	if err != nil {
		return nil, fmt.Errorf("history policy: %w", err)
	}
	kinds, err := parseKinds(c.Gate.RequiredIntents)
	if err != nil {
		return nil, fmt.Errorf("required intents: %w", err)
	}

	comp := &Components{
		Classifier: &classifier.Classifier{
			MinWords: c.Classifier.MinWords,
			MaxWords: c.Classifier.MaxWords,
		},
		Gate: &gate.Gate{
			MinInterval:     c.MinInterval(),
			RequiredIntents: kinds,
			Policy:          policy,
		},
		Tracker:  intent.NewTracker(c.Intent.ShoppingHosts, c.Intent.SearchHosts),
		Policy:   policy,
		Capacity: c.History.Capacity,
	}

	if c.Model.MatrixPath != "" {
		comp.Loader = &model.FileLoader{
			MatrixPath:  c.Model.MatrixPath,
			PriorsPath:  c.Model.PriorsPath,
			CatalogPath: c.Model.CatalogPath,
		}
	}
	return comp, nil
}
