// Package subtitle keeps the short-lived, deduplicated segment stream a
// caption consumer reads, plus the rolling full transcript built from
// finalized text.
package subtitle

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
)

// TTL after which a segment is no longer current and drops out of snapshots.
const TTL = 15_000 * time.Millisecond

// Segment is one caption line. Immutable once appended, except that an
// interim segment may be replaced by a newer interim one before it is
// finalized.
type Segment struct {
	ID         string
	Text       string
	Timestamp  time.Time
	IsFinal    bool
	Language   string
	Confidence float32
}

// Meta carries optional per-segment attributes.
type Meta struct {
	Language   string
	Confidence float32
}

// Buffer is an insertion-ordered, time-windowed segment collection.
type Buffer struct {
	mu         sync.Mutex
	segments   []Segment
	transcript []string

	// now is swappable in tests.
	now func() time.Time
}

// NewBuffer creates an empty subtitle buffer.
func NewBuffer() *Buffer {
	return &Buffer{now: time.Now}
}

// Append adds a segment unless its normalized text repeats the previous
// entry, in which case the call is a no-op. A newer interim segment replaces
// the previous one when that one was still interim. Final text additionally
// accumulates into the transcript. The return reports whether the visible
// buffer content changed.
func (b *Buffer) Append(text string, isFinal bool, meta Meta) bool {
	normalized := Normalize(text)
	if normalized == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.segments); n > 0 {
		last := &b.segments[n-1]
		if last.Text == normalized {
			// Consecutive duplicate. Still promote an interim entry when
			// the same text arrives finalized.
			if isFinal && !last.IsFinal {
				last.IsFinal = true
				b.transcript = append(b.transcript, normalized)
				return true
			}
			return false
		}
		if !last.IsFinal {
			// Replace the pending interim hypothesis in place; final text
			// additionally seals it and reaches the transcript.
			last.Text = normalized
			last.Timestamp = b.now()
			last.Language = meta.Language
			last.Confidence = meta.Confidence
			if isFinal {
				last.IsFinal = true
				b.transcript = append(b.transcript, normalized)
			}
			return true
		}
	}

	b.segments = append(b.segments, Segment{
		ID:         xid.New().String(),
		Text:       normalized,
		Timestamp:  b.now(),
		IsFinal:    isFinal,
		Language:   meta.Language,
		Confidence: meta.Confidence,
	})

	if isFinal {
		b.transcript = append(b.transcript, normalized)
	}
	return true
}

// Snapshot prunes segments older than the TTL and returns a copy of what
// remains, in insertion order.
func (b *Buffer) Snapshot() []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-TTL)

	kept := b.segments[:0]
	for _, seg := range b.segments {
		if seg.Timestamp.After(cutoff) {
			kept = append(kept, seg)
		}
	}
	b.segments = kept

	out := make([]Segment, len(b.segments))
	copy(out, b.segments)
	return out
}

// Transcript returns the newline-joined accumulation of finalized text. It
// is retained independently of the pruned live buffer.
func (b *Buffer) Transcript() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.transcript, "\n")
}

// Clear drops the live segments. The transcript survives until ResetAll.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.segments = nil
}

// ResetAll drops both the live segments and the accumulated transcript.
func (b *Buffer) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.segments = nil
	b.transcript = nil
}

// Normalize collapses runs of whitespace into single spaces and trims.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
