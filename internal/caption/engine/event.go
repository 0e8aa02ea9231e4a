package engine

// EventKind tags the variants of the engine event union.
type EventKind int

const (
	// EventTranscribe carries recognized text, interim or final.
	EventTranscribe EventKind = iota
	// EventVad carries a voice-activity confidence sample.
	EventVad
	// EventStatus signals the backend becoming active or inactive.
	EventStatus
	// EventError reports an asynchronous backend failure.
	EventError
)

// Event is the single message type flowing from a running backend to the
// session's dispatch loop.
type Event struct {
	Kind EventKind

	// EventTranscribe fields.
	Text          string
	IsFinal       bool
	VadConfidence float32
	Language      string

	// EventVad field.
	Confidence float32

	// EventStatus field.
	Active bool

	// EventError field.
	Message string
}

// Transcribe builds a transcription event.
func Transcribe(text string, isFinal bool, vadConfidence float32, language string) Event {
	return Event{
		Kind:          EventTranscribe,
		Text:          text,
		IsFinal:       isFinal,
		VadConfidence: vadConfidence,
		Language:      language,
	}
}

// Vad builds a voice-activity confidence event.
func Vad(confidence float32) Event {
	return Event{Kind: EventVad, Confidence: confidence}
}

// Status builds an active/inactive status event.
func Status(active bool) Event {
	return Event{Kind: EventStatus, Active: active}
}

// Errorf builds an error event from a message.
func Errorf(message string) Event {
	return Event{Kind: EventError, Message: message}
}
