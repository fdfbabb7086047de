// Package source defines the audio source identifiers and buffer types
// shared across the capture pipeline.
package source

import (
	"fmt"
	"time"
)

// Kind classifies a logical audio source.
type Kind uint8

const (
	// Microphone is the single configured input device.
	Microphone Kind = iota
	// Application is a per-process audio tap.
	Application
	// File is replayed audio from an imported recording.
	File
)

func (k Kind) String() string {
	switch k {
	case Microphone:
		return "microphone"
	case Application:
		return "application"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// Key identifies a logical audio source. It is the accumulation and
// routing key for the whole pipeline. Comparable, equality by value.
type Key struct {
	Kind Kind
	PID  int32 // set only for Application keys
}

// Mic returns the microphone source key.
func Mic() Key { return Key{Kind: Microphone} }

// App returns the source key for a captured process.
func App(pid int32) Key { return Key{Kind: Application, PID: pid} }

// Replay returns the file-replay source key.
func Replay() Key { return Key{Kind: File} }

func (k Key) String() string {
	if k.Kind == Application {
		return fmt.Sprintf("application(%d)", k.PID)
	}
	return k.Kind.String()
}

// Buffer is a contiguous run of mono float32 samples at the canonical
// 16 kHz analysis rate, tagged with its source and a monotonic capture
// timestamp. Ownership transfers to the accumulator on enqueue.
type Buffer struct {
	Key       Key
	Samples   []float32
	Timestamp time.Time
}

// Window is a fixed-duration span of accumulated samples submitted to
// inference as one unit. A full window holds exactly WindowSamples
// samples; a shutdown flush may carry fewer.
type Window struct {
	Key     Key
	Samples []float32
	Start   time.Time
}

// Canonical analysis format.
const (
	// SampleRate is the analysis sample rate in Hz.
	SampleRate = 16000
	// WindowSamples is the size of one full analysis window (10 s at 16 kHz).
	WindowSamples = 160000
)

// Duration returns the window's audio duration at the analysis rate.
func (w Window) Duration() time.Duration {
	return time.Duration(len(w.Samples)) * time.Second / SampleRate
}

// Full reports whether the window holds a complete accumulation span.
func (w Window) Full() bool { return len(w.Samples) == WindowSamples }
