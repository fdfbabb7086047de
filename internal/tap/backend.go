// Package tap manages per-process capture streams on top of the
// platform audio/video capture API.
package tap

import (
	"context"
	"time"

	"github.com/murmur-app/murmur/internal/apperr"
	"github.com/murmur-app/murmur/internal/resample"
)

// Application is a capturable application handle from the platform's
// shareable-content snapshot.
type Application struct {
	PID        int32
	Name       string
	BundleID   string
	SampleRate int // native capture rate; 0 means backend default
	Channels   int // native channel count; 0 means backend default
}

// Window is a window entry from the shareable-content snapshot. The
// platform only captures an application's audio while it owns at least
// one window, even a non-visible one.
type Window struct {
	OwnerPID int32
	Title    string
}

// Content is one shareable-content snapshot.
type Content struct {
	Applications []Application
	Windows      []Window
}

// StreamConfig configures one capture stream. Video parameters are
// structural placeholders: the platform requires a video pipeline even
// for audio-only capture.
type StreamConfig struct {
	SampleRate  int
	Channels    int
	AudioOnly   bool
	VideoWidth  int
	VideoHeight int
}

// RawBuffer is one native sample buffer delivered by the platform.
type RawBuffer struct {
	Samples   []float32 // interleaved, native format
	Format    resample.Format
	Timestamp time.Time // monotonic capture timestamp
}

// Stream is one live per-process capture stream. The handler runs on
// the platform's time-sensitive delivery context and must stay bounded
// and non-blocking.
type Stream interface {
	SetHandler(func(RawBuffer))
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Backend abstracts the platform capture API: shareable-content
// enumeration and per-process stream creation.
type Backend interface {
	Snapshot(ctx context.Context) (Content, error)
	NewStream(app Application, cfg StreamConfig) (Stream, error)
}

// UnsupportedBackend is the backend for platforms without a per-process
// tap API. Sessions degrade to microphone-only capture.
type UnsupportedBackend struct{}

func (UnsupportedBackend) Snapshot(context.Context) (Content, error) {
	return Content{}, apperr.New(apperr.CodeTapUnavailable, "per-process capture not supported on this platform")
}

func (UnsupportedBackend) NewStream(Application, StreamConfig) (Stream, error) {
	return nil, apperr.New(apperr.CodeTapUnavailable, "per-process capture not supported on this platform")
}
