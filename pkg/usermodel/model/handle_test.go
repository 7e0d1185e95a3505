package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cognicore/usermodel/pkg/usermodel/classifier"
	"github.com/cognicore/usermodel/pkg/usermodel/internalerr"
)

func tinyBundle() *Bundle {
	return &Bundle{Model: &classifier.Model{
		Matrix: [][]float64{{0.1, 0.2}, {0.3, 0.4}},
		Priors: []float64{0.5, 0.5},
		Names:  []string{"arts-music", "finance-sub"},
	}}
}

func TestHandleNotReadyBeforeLoad(t *testing.T) {
	h := NewHandle()
	b, r := h.Bundle()
	if b != nil || r != NotReady {
		t.Errorf("Fresh handle should be not ready, got %v, %v", b, r)
	}
	if h.Err() != nil {
		t.Errorf("Err before completion should be nil, got %v", h.Err())
	}

	var nilHandle *Handle
	if _, r := nilHandle.Bundle(); r != NotReady {
		t.Error("nil handle should be not ready")
	}
}

func TestHandleZeroValue(t *testing.T) {
	var h Handle

	done := h.Done()
	select {
	case <-done:
		t.Fatal("Done should not be closed before Load")
	default:
	}

	if err := h.Load(context.Background(), LoaderFunc(func(context.Context) (*Bundle, error) {
		return tinyBundle(), nil
	})); err != nil {
		t.Fatalf("Load: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Done was not closed after Load")
	}
	if _, r := h.Bundle(); r != Ready {
		t.Errorf("Zero-value handle should be ready after Load, got %v", r)
	}
}

func TestHandlePublishesOnce(t *testing.T) {
	h := NewHandle()
	first := tinyBundle()
	calls := 0

	loader := LoaderFunc(func(context.Context) (*Bundle, error) {
		calls++
		return first, nil
	})
	if err := h.Load(context.Background(), loader); err != nil {
		t.Fatalf("Load: %v", err)
	}

	second := tinyBundle()
	_ = h.Load(context.Background(), LoaderFunc(func(context.Context) (*Bundle, error) {
		calls++
		return second, nil
	}))

	b, r := h.Bundle()
	if r != Ready || b != first {
		t.Error("Handle should keep the first published bundle")
	}
	if calls != 1 {
		t.Errorf("Loader should run once, ran %d times", calls)
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done should be closed after Load")
	}
}

func TestHandleReadersDuringBackgroundLoad(t *testing.T) {
	h := NewHandle()
	release := make(chan struct{})

	go func() {
		_ = h.Load(context.Background(), LoaderFunc(func(context.Context) (*Bundle, error) {
			<-release
			return tinyBundle(), nil
		}))
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if b, r := h.Bundle(); r == Ready && (b == nil || b.Model == nil) {
					t.Error("Ready handle returned a partial bundle")
					return
				}
			}
		}()
	}
	wg.Wait()

	if _, r := h.Bundle(); r != NotReady {
		t.Error("Handle should still be loading")
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := h.Wait(ctx)
	if err != nil || b == nil {
		t.Fatalf("Wait: %v, %v", b, err)
	}
}

func TestHandleFailedLoadStaysNotReady(t *testing.T) {
	h := NewHandle()
	boom := errors.New("disk gone")
	err := h.Load(context.Background(), LoaderFunc(func(context.Context) (*Bundle, error) {
		return nil, boom
	}))
	if !errors.Is(err, boom) {
		t.Errorf("Load error = %v, want %v", err, boom)
	}
	if _, r := h.Bundle(); r != NotReady {
		t.Error("Failed load must not publish")
	}
	if !errors.Is(h.Err(), boom) {
		t.Errorf("Err = %v", h.Err())
	}
	if _, err := h.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Wait error = %v", err)
	}
}

func TestHandleRejectsInvalidModel(t *testing.T) {
	h := NewHandle()
	err := h.Load(context.Background(), LoaderFunc(func(context.Context) (*Bundle, error) {
		return &Bundle{Model: &classifier.Model{Names: []string{"a"}}}, nil
	}))
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("Expected invalid input, got %v", err)
	}
	if _, r := h.Bundle(); r != NotReady {
		t.Error("Invalid model must not publish")
	}
}

func TestHandleWaitCancelled(t *testing.T) {
	h := NewHandle()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Wait(ctx)
	if !errors.Is(err, internalerr.ErrModelNotReady) || !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on cancelled ctx = %v", err)
	}
}

func TestPreloaded(t *testing.T) {
	b := tinyBundle()
	h := Preloaded(b)
	got, r := h.Bundle()
	if r != Ready || got != b {
		t.Errorf("Preloaded handle should be ready with the given bundle")
	}
	if r.String() != "ready" || NotReady.String() != "not-ready" {
		t.Error("Readiness strings changed")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	loader := FileLoader{
		MatrixPath: writeFile(t, dir, "matrix.json", `[[0.1, 0.9], [0.5, 0.5], [0.2, 0.8]]`),
		PriorsPath: writeFile(t, dir, "priors.json", `{"names": ["arts-music", "finance-sub"], "priors": [0.4, 0.6]}`),
		CatalogPath: writeFile(t, dir, "catalog.yaml", `
categories:
  finance:
    a1:
      notificationText: T
      notificationURL: U
      advertiser: Adv
`),
	}

	b, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(b.Model.Matrix) != 3 || len(b.Model.Names) != 2 {
		t.Errorf("Unexpected model shape: %d rows, %d names", len(b.Model.Matrix), len(b.Model.Names))
	}
	if b.Model.Priors[1] != 0.6 {
		t.Errorf("Priors not loaded: %v", b.Model.Priors)
	}
	cand := b.Catalog.Categories["finance"]["a1"]
	if cand.Advertiser != "Adv" || cand.NotificationURL != "U" || cand.NotificationText != "T" {
		t.Errorf("Catalog candidate not loaded: %+v", cand)
	}
}

func TestLoadCatalogJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "catalog.json",
		`{"categories": {"travel": {"t1": {"notificationText": "Fly", "notificationURL": "https://x", "advertiser": "Air"}}}}`)

	cat, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if !cat.Has("travel") {
		t.Error("JSON catalog should decode")
	}
}

func TestFileLoaderWithoutCatalog(t *testing.T) {
	dir := t.TempDir()
	loader := FileLoader{
		MatrixPath: writeFile(t, dir, "matrix.json", `[[1, 2]]`),
		PriorsPath: writeFile(t, dir, "priors.json", `{"names": ["a-b", "c-d"], "priors": [0.5, 0.5]}`),
	}
	b, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Catalog != nil {
		t.Error("Catalog should be nil when no path is configured")
	}
}

func TestFileLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "priors.json", `{"names": ["a"], "priors": [1]}`)
	bad := writeFile(t, dir, "bad.json", `{not json`)

	tests := []FileLoader{
		{MatrixPath: "/nonexistent/matrix.json", PriorsPath: good},
		{MatrixPath: bad, PriorsPath: good},
		{MatrixPath: writeFile(t, dir, "m.json", `[[1]]`), PriorsPath: "/nonexistent/priors.json"},
		{MatrixPath: writeFile(t, dir, "m2.json", `[[1]]`), PriorsPath: good, CatalogPath: "/nonexistent/catalog.yaml"},
	}
	for i, l := range tests {
		if _, err := l.Load(context.Background()); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
