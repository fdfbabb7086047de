// Package accumulate batches normalized sample streams into fixed-size
// analysis windows, one independent buffer per audio source.
package accumulate

import (
	"sync"
	"time"

	"github.com/murmur-app/murmur/internal/source"
)

// EmitFunc receives each completed window exactly once.
type EmitFunc func(source.Window)

// state is one source's accumulation context. Sources never share a
// state, so window production for one source never blocks another.
type state struct {
	mu      sync.Mutex
	samples []float32
	start   time.Time
	emitted int
}

// Accumulator buffers per-source samples and slices them into windows
// of exactly windowSize samples. Extraction is atomic with respect to
// concurrent appends on the same source: a window is never emitted
// twice and no sample is lost or duplicated across windows.
type Accumulator struct {
	windowSize int
	emit       EmitFunc

	mu      sync.RWMutex
	sources map[source.Key]*state
}

// New creates an accumulator emitting windows of windowSize samples.
func New(windowSize int, emit EmitFunc) *Accumulator {
	return &Accumulator{
		windowSize: windowSize,
		emit:       emit,
		sources:    make(map[source.Key]*state),
	}
}

func (a *Accumulator) state(key source.Key) *state {
	a.mu.RLock()
	s, ok := a.sources[key]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok = a.sources[key]; !ok {
		s = &state{}
		a.sources[key] = s
	}
	return s
}

// Append adds a normalized buffer to its source's accumulation buffer,
// emitting one window per windowSize samples crossed. The first sample
// after each extraction establishes the next window's start timestamp.
func (a *Accumulator) Append(buf source.Buffer) {
	if len(buf.Samples) == 0 {
		return
	}

	s := a.state(buf.Key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) == 0 {
		s.start = buf.Timestamp
	}
	s.samples = append(s.samples, buf.Samples...)

	for len(s.samples) >= a.windowSize {
		window := source.Window{
			Key:     buf.Key,
			Samples: append([]float32(nil), s.samples[:a.windowSize]...),
			Start:   s.start,
		}
		remainder := s.samples[a.windowSize:]
		s.samples = append(s.samples[:0:0], remainder...)
		s.start = buf.Timestamp
		s.emitted++
		a.emit(window)
	}
}

// Flush extracts whatever the source has buffered as a final, possibly
// short window. A no-op when the buffer is empty. Used at shutdown so
// no in-flight audio is silently dropped.
func (a *Accumulator) Flush(key source.Key) {
	a.mu.RLock()
	s, ok := a.sources[key]
	a.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return
	}

	window := source.Window{
		Key:     key,
		Samples: s.samples,
		Start:   s.start,
	}
	s.samples = nil
	s.emitted++
	a.emit(window)
}

// FlushAll flushes every active source.
func (a *Accumulator) FlushAll() {
	a.mu.RLock()
	keys := make([]source.Key, 0, len(a.sources))
	for key := range a.sources {
		keys = append(keys, key)
	}
	a.mu.RUnlock()

	for _, key := range keys {
		a.Flush(key)
	}
}

// Pending returns the number of buffered samples for a source.
func (a *Accumulator) Pending(key source.Key) int {
	a.mu.RLock()
	s, ok := a.sources[key]
	a.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Emitted returns how many windows a source has produced.
func (a *Accumulator) Emitted(key source.Key) int {
	a.mu.RLock()
	s, ok := a.sources[key]
	a.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}
