package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing to observers.
type EventType string

const (
	SessionStatus   EventType = "session.status"
	SessionError    EventType = "session.error"
	SubtitleAppend  EventType = "subtitle.append"
	SubtitleCleared EventType = "subtitle.cleared"
	VadLevel        EventType = "vad.level"
	ModelChanged    EventType = "model.changed"
)

// Envelope is the standard wrapper delivered to subscribers.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Decode unmarshals an envelope's payload into the typed struct for its
// event type.
func Decode[T any](env Envelope) (T, error) {
	var data T
	err := json.Unmarshal(env.Data, &data)
	return data, err
}

// SessionStatusData is the payload for session.status events.
type SessionStatusData struct {
	Status string `json:"status"`
}

// SessionErrorData is the payload for session.error events.
type SessionErrorData struct {
	Message string `json:"message"`
}

// SubtitleAppendData is the payload for subtitle.append events.
type SubtitleAppendData struct {
	SegmentID  string  `json:"segment_id"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Language   string  `json:"language,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
}

// VadLevelData is the payload for vad.level events.
type VadLevelData struct {
	Confidence float32 `json:"confidence"`
}

// ModelChangedData is the payload for model.changed events.
type ModelChangedData struct {
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	Validated bool   `json:"validated"`
}
