package models

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestResolveValidResource(t *testing.T) {
	dir := t.TempDir()
	acoustic := writeFile(t, dir, "model.onnx", 1024)

	r := NewRegistry(Paths{Acoustic: acoustic}, ReferenceSizes{AcousticBytes: 1024})

	desc, err := r.Resolve(context.Background(), KindAcoustic)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if desc.Path != acoustic {
		t.Errorf("Path = %q, want %q", desc.Path, acoustic)
	}
	if desc.SizeBytes != 1024 {
		t.Errorf("SizeBytes = %d, want 1024", desc.SizeBytes)
	}
	if !desc.Validated {
		t.Error("descriptor should be validated")
	}
}

func TestResolveNoPathConfigured(t *testing.T) {
	r := NewRegistry(Paths{}, ReferenceSizes{})

	_, err := r.Resolve(context.Background(), KindAcoustic)
	if !errors.Is(err, ErrResourceMissing) {
		t.Errorf("Resolve() error = %v, want ErrResourceMissing", err)
	}
}

func TestResolveMissingFile(t *testing.T) {
	r := NewRegistry(Paths{Acoustic: filepath.Join(t.TempDir(), "nope.onnx")}, ReferenceSizes{})

	_, err := r.Resolve(context.Background(), KindAcoustic)
	if !errors.Is(err, ErrResourceMissing) {
		t.Errorf("Resolve() error = %v, want ErrResourceMissing", err)
	}
}

func TestResolveVADWrongExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "model.txt", 1024)

	r := NewRegistry(Paths{VAD: path}, ReferenceSizes{})

	_, err := r.Resolve(context.Background(), KindVAD)
	if !errors.Is(err, ErrResourceMissing) {
		t.Errorf("Resolve() error = %v, want ErrResourceMissing for wrong extension", err)
	}
}

func TestResolveTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	// Half the reference size, well below the floor.
	path := writeFile(t, dir, "model.onnx", 512)

	r := NewRegistry(Paths{Acoustic: path}, ReferenceSizes{AcousticBytes: 1024})

	_, err := r.Resolve(context.Background(), KindAcoustic)
	if !errors.Is(err, ErrResourceMissing) {
		t.Errorf("Resolve() error = %v, want ErrResourceMissing for truncated file", err)
	}
}

func TestResolveJustAboveSizeFloor(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "model.onnx", 960) // floor is 0.95 * 1000 = 950

	r := NewRegistry(Paths{Acoustic: path}, ReferenceSizes{AcousticBytes: 1000})

	if _, err := r.Resolve(context.Background(), KindAcoustic); err != nil {
		t.Errorf("Resolve() error = %v, want nil just above the floor", err)
	}
}

func TestResolveEmptyFileWithoutReference(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "model.onnx", 0)

	r := NewRegistry(Paths{Acoustic: path}, ReferenceSizes{})

	_, err := r.Resolve(context.Background(), KindAcoustic)
	if !errors.Is(err, ErrResourceMissing) {
		t.Errorf("Resolve() error = %v, want ErrResourceMissing for empty file", err)
	}
}

func TestResolveFailureClearsCache(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "model.onnx", 1024)

	r := NewRegistry(Paths{Acoustic: path}, ReferenceSizes{})

	if _, err := r.Resolve(context.Background(), KindAcoustic); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, ok := r.Current()[KindAcoustic]; !ok {
		t.Fatal("expected cached descriptor after success")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("removing model: %v", err)
	}
	if _, err := r.Resolve(context.Background(), KindAcoustic); err == nil {
		t.Fatal("expected error after removal")
	}
	if _, ok := r.Current()[KindAcoustic]; ok {
		t.Error("failed resolve should clear the cached descriptor")
	}
}

func TestLoadNotifiesSubscribers(t *testing.T) {
	dir := t.TempDir()
	acoustic := writeFile(t, dir, "model.onnx", 1024)
	vad := writeFile(t, dir, "vad.onnx", 2048)

	r := NewRegistry(Paths{Acoustic: acoustic, VAD: vad}, ReferenceSizes{})

	got := make(chan Snapshot, 1)
	cancel := r.Subscribe(func(snap Snapshot) {
		select {
		case got <- snap:
		default:
		}
	})
	defer cancel()

	snap := <-got
	if len(snap) != 2 {
		t.Fatalf("len(snap) = %d, want 2", len(snap))
	}
	if snap[KindVAD].Path != vad {
		t.Errorf("vad path = %q, want %q", snap[KindVAD].Path, vad)
	}
}

func TestSubscribeAfterLoadDeliversImmediately(t *testing.T) {
	dir := t.TempDir()
	acoustic := writeFile(t, dir, "model.onnx", 1024)

	r := NewRegistry(Paths{Acoustic: acoustic}, ReferenceSizes{})
	if _, err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var delivered Snapshot
	cancel := r.Subscribe(func(snap Snapshot) { delivered = snap })
	defer cancel()

	if delivered == nil {
		t.Fatal("subscriber should receive the current snapshot synchronously")
	}
	if delivered[KindAcoustic].Path != acoustic {
		t.Errorf("acoustic path = %q, want %q", delivered[KindAcoustic].Path, acoustic)
	}
}

func TestLoadSkipsInvalidKind(t *testing.T) {
	dir := t.TempDir()
	acoustic := writeFile(t, dir, "model.onnx", 1024)

	r := NewRegistry(Paths{Acoustic: acoustic, VAD: filepath.Join(dir, "missing.onnx")}, ReferenceSizes{})

	snap, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := snap[KindAcoustic]; !ok {
		t.Error("valid acoustic model should be in the snapshot")
	}
	if _, ok := snap[KindVAD]; ok {
		t.Error("missing vad model should stay out of the snapshot")
	}
}
