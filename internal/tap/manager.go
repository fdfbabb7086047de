package tap

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmur-app/murmur/internal/apperr"
	"github.com/murmur-app/murmur/internal/lifecycle"
	"github.com/murmur-app/murmur/internal/resample"
	"github.com/murmur-app/murmur/internal/resilience"
	"github.com/murmur-app/murmur/internal/source"
)

const (
	// dedupTolerance drops duplicate or out-of-order buffers the
	// platform occasionally redelivers.
	dedupTolerance = time.Millisecond

	// defaults for backends that don't report a native format
	defaultNativeRate     = 48000
	defaultNativeChannels = 2

	// placeholder video geometry for the structurally-required but
	// unused video pipeline
	placeholderVideoDim = 2
)

// Config holds stream manager settings.
type Config struct {
	BufferDepth   int           // normalized-buffer channel depth
	TeardownDelay time.Duration // wait after stop so the platform releases the tap
}

// tapStream is the bookkeeping for one active per-process stream.
type tapStream struct {
	stream Stream
	conv   *resample.Converter
	key    source.Key

	mu     sync.Mutex
	lastTS time.Time
}

// Manager owns the per-process capture streams. At most one stream
// exists per process id; duplicate started events are no-ops. Stream
// failures are per-process and never abort the session.
type Manager struct {
	backend  Backend
	cfg      Config
	retryCfg resilience.RetryConfig
	out      chan source.Buffer

	forwarded atomic.Int64
	dropped   atomic.Int64

	mu      sync.Mutex
	streams map[int32]*tapStream
}

// NewManager creates a stream manager delivering normalized buffers on
// a bounded channel. When the channel is full the oldest queued buffer
// is discarded so the freshest audio wins.
func NewManager(backend Backend, cfg Config) *Manager {
	if cfg.BufferDepth <= 0 {
		cfg.BufferDepth = 64
	}
	if cfg.TeardownDelay <= 0 {
		cfg.TeardownDelay = 200 * time.Millisecond
	}
	return &Manager{
		backend:  backend,
		cfg:      cfg,
		retryCfg: resilience.StreamStartConfig(),
		out:      make(chan source.Buffer, cfg.BufferDepth),
		streams:  make(map[int32]*tapStream),
	}
}

// Output returns the normalized buffer stream for all taps.
func (m *Manager) Output() <-chan source.Buffer { return m.out }

// Dropped returns how many buffers were discarded under backpressure.
func (m *Manager) Dropped() int64 { return m.dropped.Load() }

// Forwarded returns how many buffers were delivered downstream.
func (m *Manager) Forwarded() int64 { return m.forwarded.Load() }

// ActiveCount returns the number of live per-process streams.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// HandleStarted creates a capture stream for a confirmed process. A nil
// return with no stream means the process is currently not capturable
// (no window); that is a skip, not an error.
func (m *Manager) HandleStarted(ctx context.Context, desc lifecycle.Descriptor) error {
	m.mu.Lock()
	if _, active := m.streams[desc.PID]; active {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	content, err := m.backend.Snapshot(ctx)
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeTapUnavailable, "shareable content snapshot for pid %d", desc.PID)
	}

	app, ok := resolveApplication(content, desc)
	if !ok {
		slog.Warn("no capturable application for process", "pid", desc.PID, "name", desc.Name)
		return apperr.Newf(apperr.CodeTapUnavailable, "process %d (%s) not resolvable to an application", desc.PID, desc.Name)
	}

	if !ownsWindow(content, app.PID) {
		// The platform delivers no audio without a window; skip quietly
		// and let a later lifecycle cycle try again.
		slog.Info("skipping stream: application owns no window", "pid", app.PID, "name", app.Name)
		return nil
	}

	if app.SampleRate == 0 {
		app.SampleRate = defaultNativeRate
	}
	if app.Channels == 0 {
		app.Channels = defaultNativeChannels
	}

	conv, err := resample.New(resample.Format{SampleRate: app.SampleRate, Channels: app.Channels})
	if err != nil {
		return err
	}

	stream, err := m.backend.NewStream(app, StreamConfig{
		SampleRate:  app.SampleRate,
		Channels:    app.Channels,
		AudioOnly:   true,
		VideoWidth:  placeholderVideoDim,
		VideoHeight: placeholderVideoDim,
	})
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeStreamStart, "create stream for pid %d", desc.PID)
	}

	ts := &tapStream{stream: stream, conv: conv, key: source.App(desc.PID)}
	stream.SetHandler(func(raw RawBuffer) { m.handleBuffer(ts, raw) })

	err = resilience.Retry(ctx, m.retryCfg, func() error {
		if startErr := stream.Start(ctx); startErr != nil {
			return apperr.Wrapf(startErr, apperr.CodeStreamStart, "start stream for pid %d", desc.PID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, raced := m.streams[desc.PID]; raced {
		m.mu.Unlock()
		_ = stream.Stop(ctx)
		return nil
	}
	m.streams[desc.PID] = ts
	m.mu.Unlock()

	slog.Info("per-process stream started", "pid", desc.PID, "app", app.Name, "rate", app.SampleRate, "channels", app.Channels)
	return nil
}

// HandleStopped tears down the stream for a process. Waits a short
// grace delay after stopping so the platform releases the underlying
// tap before a possible re-create for the same process.
func (m *Manager) HandleStopped(ctx context.Context, pid int32) {
	m.mu.Lock()
	ts, ok := m.streams[pid]
	if ok {
		delete(m.streams, pid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := ts.stream.Stop(ctx); err != nil {
		slog.Warn("stream stop failed", "pid", pid, "error", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(m.cfg.TeardownDelay):
	}

	slog.Info("per-process stream stopped", "pid", pid)
}

// StopAll tears down every active stream, used at session shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	pids := make([]int32, 0, len(m.streams))
	for pid := range m.streams {
		pids = append(pids, pid)
	}
	m.mu.Unlock()

	for _, pid := range pids {
		m.HandleStopped(ctx, pid)
	}
}

// handleBuffer runs on the platform delivery context: dedup, resample,
// forward. Bounded and non-blocking.
func (m *Manager) handleBuffer(ts *tapStream, raw RawBuffer) {
	ts.mu.Lock()
	if !ts.lastTS.IsZero() && raw.Timestamp.Before(ts.lastTS.Add(dedupTolerance)) {
		ts.mu.Unlock()
		m.dropped.Add(1)
		return
	}
	ts.lastTS = raw.Timestamp
	samples := ts.conv.Convert(raw.Samples)
	ts.mu.Unlock()

	if len(samples) == 0 {
		return
	}

	m.send(source.Buffer{Key: ts.key, Samples: samples, Timestamp: raw.Timestamp})
}

// send delivers with drop-oldest backpressure.
func (m *Manager) send(buf source.Buffer) {
	select {
	case m.out <- buf:
		m.forwarded.Add(1)
		return
	default:
	}

	select {
	case <-m.out:
		m.dropped.Add(1)
	default:
	}

	select {
	case m.out <- buf:
		m.forwarded.Add(1)
	default:
		m.dropped.Add(1)
	}
}

// resolveApplication maps a process descriptor to a capturable
// application: exact pid match first, then for helper processes a
// parent-name fallback, since helpers produce audio under the OS audio
// subsystem but are not independently capturable.
func resolveApplication(content Content, desc lifecycle.Descriptor) (Application, bool) {
	for _, app := range content.Applications {
		if app.PID == desc.PID {
			return app, true
		}
	}

	if !desc.Helper {
		return Application{}, false
	}

	parent := strings.ToLower(lifecycle.ParentName(desc.Name))
	if parent == "" {
		return Application{}, false
	}
	for _, app := range content.Applications {
		name := strings.ToLower(app.Name)
		if strings.Contains(name, parent) || strings.Contains(parent, name) {
			return app, true
		}
	}
	return Application{}, false
}

func ownsWindow(content Content, pid int32) bool {
	for _, w := range content.Windows {
		if w.OwnerPID == pid {
			return true
		}
	}
	return false
}
