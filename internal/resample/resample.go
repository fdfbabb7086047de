// Package resample converts native-format capture buffers to the
// canonical analysis format: 16 kHz, mono, 32-bit float.
//
// Each audio source owns one Converter; a Converter carries only the
// phase state needed for continuity between consecutive buffers of the
// same stream, so independent sources never share mutable state.
// Conversion is allocation-bounded and free of I/O, making it safe to
// run inside time-sensitive hardware callbacks.
package resample

import (
	"math"

	"github.com/murmur-app/murmur/internal/apperr"
	"github.com/murmur-app/murmur/internal/source"
)

// Format describes the native layout of incoming interleaved samples.
type Format struct {
	SampleRate int
	Channels   int
}

// Converter resamples one continuous stream to 16 kHz mono.
//
// Rate conversion is linear interpolation with phase carried across
// calls. Output length per call is round(n * 16000 / rate) within one
// sample; no sample is dropped or duplicated across call boundaries.
type Converter struct {
	format Format
	ratio  float64 // input samples per output sample

	// Stream continuity state.
	offset float64 // position of the next output, in input samples, relative to the pending buffer
	last   float32 // final mono sample of the previous call
	primed bool
}

// New creates a converter for one source stream.
func New(format Format) (*Converter, error) {
	if format.SampleRate <= 0 {
		return nil, apperr.Newf(apperr.CodeConfigInvalid, "invalid sample rate %d", format.SampleRate)
	}
	if format.Channels <= 0 {
		return nil, apperr.Newf(apperr.CodeConfigInvalid, "invalid channel count %d", format.Channels)
	}
	return &Converter{
		format: format,
		ratio:  float64(format.SampleRate) / float64(source.SampleRate),
	}, nil
}

// Format returns the converter's input format.
func (c *Converter) Format() Format { return c.format }

// Convert maps one interleaved native buffer to mono 16 kHz samples.
// The returned slice is freshly allocated; the caller owns it.
func (c *Converter) Convert(interleaved []float32) []float32 {
	if len(interleaved) == 0 {
		return nil
	}

	mono := Downmix(interleaved, c.format.Channels)

	if c.format.SampleRate == source.SampleRate {
		return mono
	}
	return c.interpolate(mono)
}

func (c *Converter) interpolate(mono []float32) []float32 {
	n := len(mono)
	out := make([]float32, 0, int(float64(n)/c.ratio)+2)

	pos := c.offset
	for {
		idx := int(math.Floor(pos))
		if idx >= n-1 {
			// The sample after idx is not here yet; finish on the
			// next call unless pos lands exactly on the last sample.
			if idx == n-1 && pos == float64(idx) {
				out = append(out, mono[idx])
				pos += c.ratio
			}
			break
		}
		if idx < 0 {
			// Interpolate between the previous buffer's tail and the
			// first sample of this one.
			frac := float32(pos + 1)
			prev := c.last
			if !c.primed {
				prev = mono[0]
			}
			out = append(out, prev+(mono[0]-prev)*frac)
		} else {
			frac := float32(pos - float64(idx))
			out = append(out, mono[idx]+(mono[idx+1]-mono[idx])*frac)
		}
		pos += c.ratio
	}

	c.offset = pos - float64(n)
	c.last = mono[n-1]
	c.primed = true
	return out
}

// Reset clears stream continuity state, for reuse after a gap.
func (c *Converter) Reset() {
	c.offset = 0
	c.last = 0
	c.primed = false
}

// Downmix averages interleaved channels into mono. A trailing partial
// frame is discarded. Deterministic: mono[i] is the arithmetic mean of
// frame i's channel samples.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels == 1 {
		return append([]float32(nil), interleaved...)
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	inv := 1 / float32(channels)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += interleaved[base+ch]
		}
		mono[i] = sum * inv
	}
	return mono
}

// ExpectedOutput returns the contract output count for n input samples
// at the given rate: round(n * 16000 / rate).
func ExpectedOutput(n, rate int) int {
	return int(math.Round(float64(n) * float64(source.SampleRate) / float64(rate)))
}
