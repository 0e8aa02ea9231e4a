// Package models validates and tracks the on-disk resources the speech
// backends load: the acoustic model and the voice-activity detector.
package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/xid"
	"golang.org/x/sync/singleflight"
)

// Kind names a tracked resource.
type Kind string

const (
	KindAcoustic Kind = "acoustic"
	KindVAD      Kind = "vad"
)

// Validation constraints. The size floor catches truncated downloads; the
// extension check catches a detector path pointed at the wrong file.
const (
	minSizeFraction = 0.95
	vadExtension    = ".onnx"
)

// ErrResourceMissing marks a required resource that is absent or failed
// validation.
var ErrResourceMissing = errors.New("model resource missing")

// Descriptor describes one validated resource. Descriptors are recomputed on
// every check, never persisted.
type Descriptor struct {
	Path        string
	DisplayName string
	SizeBytes   uint64
	Validated   bool
}

// Paths configures where each resource lives.
type Paths struct {
	Acoustic string
	VAD      string
}

// ReferenceSizes holds the expected full byte size per resource. A zero value
// disables the proportional floor for that resource; a bare non-empty check
// still applies.
type ReferenceSizes struct {
	AcousticBytes int64
	VADBytes      int64
}

// Snapshot is the registry cache as delivered to subscribers.
type Snapshot map[Kind]Descriptor

// Listener receives cache updates.
type Listener func(Snapshot)

type subscriber struct {
	id string
	fn Listener
}

// Registry validates resource files and notifies subscribers when the cached
// state changes. One Registry is constructed per process scope that needs it;
// there is no package-level instance.
type Registry struct {
	paths    Paths
	refSizes ReferenceSizes

	mu     sync.RWMutex
	cache  Snapshot
	loaded bool
	subs   []subscriber

	loadGroup singleflight.Group
}

// NewRegistry creates a registry for the given resource paths.
func NewRegistry(paths Paths, refSizes ReferenceSizes) *Registry {
	return &Registry{
		paths:    paths,
		refSizes: refSizes,
		cache:    make(Snapshot),
	}
}

func (r *Registry) pathFor(kind Kind) (string, int64) {
	switch kind {
	case KindAcoustic:
		return r.paths.Acoustic, r.refSizes.AcousticBytes
	case KindVAD:
		return r.paths.VAD, r.refSizes.VADBytes
	default:
		return "", 0
	}
}

// Resolve checks existence and validation constraints for the resource of the
// given kind. On failure the cached descriptor for that kind is cleared so a
// known-bad path is not retried from cache.
func (r *Registry) Resolve(ctx context.Context, kind Kind) (Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return Descriptor{}, err
	}

	path, refSize := r.pathFor(kind)
	if path == "" {
		r.clearCached(kind)
		return Descriptor{}, fmt.Errorf("models: %s: no path configured: %w", kind, ErrResourceMissing)
	}

	if kind == KindVAD && !strings.EqualFold(filepath.Ext(path), vadExtension) {
		r.clearCached(kind)
		return Descriptor{}, fmt.Errorf("models: %s: %q lacks the %s extension: %w",
			kind, filepath.Base(path), vadExtension, ErrResourceMissing)
	}

	stat, err := os.Stat(path)
	if err != nil {
		r.clearCached(kind)
		return Descriptor{}, fmt.Errorf("models: %s: stat %q: %w", kind, path, ErrResourceMissing)
	}

	size := stat.Size()
	if floor := int64(float64(refSize) * minSizeFraction); size < floor {
		r.clearCached(kind)
		return Descriptor{}, fmt.Errorf("models: %s: %q is %d bytes, below the %d byte floor (truncated download?): %w",
			kind, filepath.Base(path), size, floor, ErrResourceMissing)
	}
	if size == 0 {
		r.clearCached(kind)
		return Descriptor{}, fmt.Errorf("models: %s: %q is empty: %w", kind, filepath.Base(path), ErrResourceMissing)
	}

	desc := Descriptor{
		Path:        path,
		DisplayName: filepath.Base(path),
		SizeBytes:   uint64(size),
		Validated:   true,
	}

	r.mu.Lock()
	r.cache[kind] = desc
	r.mu.Unlock()

	return desc, nil
}

func (r *Registry) clearCached(kind Kind) {
	r.mu.Lock()
	delete(r.cache, kind)
	r.mu.Unlock()
}

// Load revalidates every kind, updates the cache, and notifies listeners in
// subscription order. Concurrent calls collapse into one execution; every
// caller observes the same snapshot.
func (r *Registry) Load(ctx context.Context) (Snapshot, error) {
	v, err, _ := r.loadGroup.Do("load", func() (interface{}, error) {
		for _, kind := range []Kind{KindAcoustic, KindVAD} {
			// A failed kind simply stays out of the snapshot.
			_, _ = r.Resolve(ctx, kind)
		}

		r.mu.Lock()
		r.loaded = true
		snap := r.snapshotLocked()
		subs := make([]subscriber, len(r.subs))
		copy(subs, r.subs)
		r.mu.Unlock()

		for _, s := range subs {
			s.fn(snap)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Snapshot), nil
}

// Subscribe registers a listener for cache updates. When the cache is already
// loaded the current value is delivered immediately; otherwise the listener
// receives it once the initial load completes. The returned function removes
// the subscription.
func (r *Registry) Subscribe(fn Listener) func() {
	id := xid.New().String()

	r.mu.Lock()
	r.subs = append(r.subs, subscriber{id: id, fn: fn})
	loaded := r.loaded
	var snap Snapshot
	if loaded {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()

	if loaded {
		fn(snap)
	} else {
		go func() { _, _ = r.Load(context.Background()) }()
	}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// Current returns the cached snapshot.
func (r *Registry) Current() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() Snapshot {
	snap := make(Snapshot, len(r.cache))
	for k, v := range r.cache {
		snap[k] = v
	}
	return snap
}
