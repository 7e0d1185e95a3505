package model

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cognicore/usermodel/pkg/usermodel/catalog"
	"github.com/cognicore/usermodel/pkg/usermodel/classifier"
	"github.com/cognicore/usermodel/pkg/usermodel/internalerr"
)

// Readiness tells whether the model bundle has been published.
type Readiness int

const (
	NotReady Readiness = iota
	Ready
)

func (r Readiness) String() string {
	if r == Ready {
		return "ready"
	}
	return "not-ready"
}

// Bundle is the immutable result of a model load. Catalog may be nil when
// no ad catalog is configured.
type Bundle struct {
	Model   *classifier.Model
	Catalog *catalog.Catalog
}

// Loader produces a Bundle. It may be slow.
type Loader interface {
	Load(ctx context.Context) (*Bundle, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (*Bundle, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (*Bundle, error) { return f(ctx) }

// Handle publishes a Bundle exactly once. Readers see either NotReady or
// the final bundle, never a partial one. The zero value is an unpublished
// handle.
type Handle struct {
	once     sync.Once
	initDone sync.Once
	done     chan struct{}
	bundle   atomic.Pointer[Bundle]
	err      error
}

// NewHandle returns an unpublished handle.
func NewHandle() *Handle {
	return &Handle{}
}

func (h *Handle) doneCh() chan struct{} {
	h.initDone.Do(func() { h.done = make(chan struct{}) })
	return h.done
}

// Preloaded returns a handle already published with b.
func Preloaded(b *Bundle) *Handle {
	h := NewHandle()
	_ = h.publish(b, nil)
	return h
}

// Load runs l and publishes its result. Only the first call does any
// work; later calls return the first call's error. A failed load leaves
// the handle NotReady for good.
func (h *Handle) Load(ctx context.Context, l Loader) error {
	h.once.Do(func() {
		b, err := l.Load(ctx)
		if err == nil {
			err = validate(b)
		}
		if err != nil {
			h.err = fmt.Errorf("load model bundle: %w", err)
			close(h.doneCh())
			return
		}
		h.bundle.Store(b)
		close(h.doneCh())
	})
	<-h.doneCh()
	return h.err
}

func (h *Handle) publish(b *Bundle, err error) error {
	return h.Load(context.Background(), LoaderFunc(func(context.Context) (*Bundle, error) {
		return b, err
	}))
}

// Bundle returns the published bundle, or nil and NotReady.
func (h *Handle) Bundle() (*Bundle, Readiness) {
	if h == nil {
		return nil, NotReady
	}
	if b := h.bundle.Load(); b != nil {
		return b, Ready
	}
	return nil, NotReady
}

// Done is closed once loading has finished, successfully or not.
func (h *Handle) Done() <-chan struct{} {
	return h.doneCh()
}

// Err returns the load error after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.doneCh():
		return h.err
	default:
		return nil
	}
}

// Wait blocks until loading finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (*Bundle, error) {
	select {
	case <-h.doneCh():
		if h.err != nil {
			return nil, h.err
		}
		b, _ := h.Bundle()
		return b, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for model: %w: %w", internalerr.ErrModelNotReady, ctx.Err())
	}
}

func validate(b *Bundle) error {
	if b == nil || b.Model == nil {
		return fmt.Errorf("empty bundle: %w", internalerr.ErrInvalidInput)
	}
	return b.Model.Validate()
}
