// Package engine is the boundary to the external speech-recognition
// and diarization engine. The core only supplies analysis windows and
// consumes structured results; recognition itself lives out of process.
package engine

import (
	"context"
	"time"

	"github.com/murmur-app/murmur/internal/source"
)

// Segment is one diarized span within a window.
type Segment struct {
	Speaker  string        `json:"speaker"`
	Duration time.Duration `json:"duration"`
}

// Result is the engine's answer for one analysis window. Immutable
// once returned. Embedding is the voice print of the dominant speaker
// in the window and may be absent.
type Result struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Segments   []Segment `json:"segments"`
	Embedding  []float32 `json:"embedding"`
	NoSpeech   bool      `json:"no_speech"`
}

// Gateway accepts one analysis window per call. Implementations must
// support concurrent invocation with no shared mutable session state,
// since each capture source infers independently.
type Gateway interface {
	Infer(ctx context.Context, window source.Window) (Result, error)
	Close() error
}
