package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/usermodel/pkg/usermodel/catalog"
	"github.com/cognicore/usermodel/pkg/usermodel/classifier"
)

// FileLoader reads the model and catalog from disk.
//
// Matrix file: a JSON array of rows, one column per category.
// Priors file: {"names": [...], "priors": [...]}.
// Catalog file: YAML or JSON, {"categories": {major: {id: candidate}}}.
type FileLoader struct {
	MatrixPath  string
	PriorsPath  string
	CatalogPath string
}

type priorsFile struct {
	Names  []string  `json:"names"`
	Priors []float64 `json:"priors"`
}

// Load implements Loader.
func (l FileLoader) Load(ctx context.Context) (*Bundle, error) {
	var matrix [][]float64
	if err := readJSON(l.MatrixPath, &matrix); err != nil {
		return nil, fmt.Errorf("load matrix: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pf priorsFile
	if err := readJSON(l.PriorsPath, &pf); err != nil {
		return nil, fmt.Errorf("load priors: %w", err)
	}

	b := &Bundle{
		Model: &classifier.Model{Matrix: matrix, Priors: pf.Priors, Names: pf.Names},
	}

	if l.CatalogPath != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cat, err := LoadCatalog(l.CatalogPath)
		if err != nil {
			return nil, err
		}
		b.Catalog = cat
	}

	return b, nil
}

// LoadCatalog reads an ad catalog. JSON is accepted since it is valid YAML.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	var cat catalog.Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if cat.Categories == nil {
		cat.Categories = map[string]map[string]catalog.Candidate{}
	}
	return &cat, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
