// Package lifecycle watches the operating environment for audio-producing
// processes and emits debounced start/stop events for them.
//
// A process only becomes "started" after it has stayed audio-active for a
// full start delay, and only becomes "stopped" after a grace period with
// no activity. The two delays absorb momentary audio blips and brief
// silence gaps (a meeting app muting itself) so capture streams are not
// churned.
package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Descriptor identifies a running audio-producing process. Re-derived on
// every poll cycle, never persisted.
type Descriptor struct {
	PID         int32
	Name        string
	BundleID    string // optional
	AudioActive bool
	Helper      bool // renderer/GPU/plugin child of a parent application
}

// helperMarkers flag helper/child processes whose audio is attributed to
// a parent application rather than captured independently.
var helperMarkers = []string{"helper", "renderer", "gpu", "plugin"}

// IsHelper reports whether a process name carries a helper marker.
func IsHelper(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range helperMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ParentName strips helper suffixes from a display name, yielding the
// parent application name used for fallback resolution.
func ParentName(name string) string {
	lower := strings.ToLower(name)
	cut := len(name)
	for _, m := range helperMarkers {
		if idx := strings.Index(lower, m); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return strings.TrimRight(strings.TrimSpace(name[:cut]), "-–(")
}

// Enumerator produces the current snapshot of audio-active processes.
type Enumerator interface {
	AudioProcesses(ctx context.Context) ([]Descriptor, error)
}

// EventType distinguishes lifecycle events.
type EventType int

const (
	Started EventType = iota
	Stopped
)

func (t EventType) String() string {
	if t == Started {
		return "started"
	}
	return "stopped"
}

// Event is a debounced lifecycle transition. Started events carry the
// full descriptor; Stopped events carry only the PID.
type Event struct {
	Type       EventType
	PID        int32
	Descriptor Descriptor
}

// phase is the per-process debounce state.
type phase int

const (
	pendingStart phase = iota // seen active, waiting out the start delay
	confirmed                 // started event emitted, stream may exist
	pendingStop               // vanished, waiting out the grace period
)

type tracked struct {
	phase    phase
	deadline time.Time // pendingStart / pendingStop expiry
	desc     Descriptor
}

// Monitor polls an Enumerator and turns raw process observations into
// debounced Started/Stopped events. All evaluation happens on a single
// serialized loop; events are delivered in arrival order.
type Monitor struct {
	enum         Enumerator
	knownApps    []string
	pollInterval time.Duration
	startDelay   time.Duration
	gracePeriod  time.Duration

	now    func() time.Time
	events chan Event

	mu      sync.Mutex
	procs   map[int32]*tracked
	stopped bool
}

// Options configures a Monitor.
type Options struct {
	PollInterval time.Duration
	StartDelay   time.Duration
	GracePeriod  time.Duration
	KnownApps    []string // curated audio/communication app filter
}

// NewMonitor creates a lifecycle monitor. Events must be drained by the
// consumer; the channel is buffered and sends stay ordered, blocking
// until delivered or the run context ends.
func NewMonitor(enum Enumerator, opts Options) *Monitor {
	return &Monitor{
		enum:         enum,
		knownApps:    opts.KnownApps,
		pollInterval: opts.PollInterval,
		startDelay:   opts.StartDelay,
		gracePeriod:  opts.GracePeriod,
		now:          time.Now,
		events:       make(chan Event, 16),
		procs:        make(map[int32]*tracked),
	}
}

// Events returns the ordered lifecycle event stream.
func (m *Monitor) Events() <-chan Event { return m.events }

// Run polls until the context is cancelled. Cancellation drops every
// pending deadline without emitting events.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.cancelPending()
			return
		case <-ticker.C:
			observed, err := m.enum.AudioProcesses(ctx)
			if err != nil {
				slog.Warn("process enumeration failed", "error", err)
				continue
			}
			m.evaluate(ctx, observed)
		}
	}
}

// evaluate advances the per-process state machines against one poll
// snapshot. Exactly one deadline is armed per process; arming a new one
// replaces any prior one for that pid.
func (m *Monitor) evaluate(ctx context.Context, observed []Descriptor) {
	now := m.now()
	active := make(map[int32]Descriptor, len(observed))
	for _, d := range observed {
		if d.AudioActive && m.isKnownApp(d) {
			active[d.PID] = d
		}
	}

	var emits []Event

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}

	for pid, d := range active {
		t, ok := m.procs[pid]
		if !ok {
			m.procs[pid] = &tracked{phase: pendingStart, deadline: now.Add(m.startDelay), desc: d}
			continue
		}
		t.desc = d
		switch t.phase {
		case pendingStart:
			if !now.Before(t.deadline) {
				t.phase = confirmed
				emits = append(emits, Event{Type: Started, PID: pid, Descriptor: d})
			}
		case pendingStop:
			// Reappeared within the grace period: cancel, no event.
			t.phase = confirmed
			t.deadline = time.Time{}
		}
	}

	for pid, t := range m.procs {
		if _, ok := active[pid]; ok {
			continue
		}
		switch t.phase {
		case pendingStart:
			// Disappeared before the start delay elapsed: never started.
			delete(m.procs, pid)
		case confirmed:
			t.phase = pendingStop
			t.deadline = now.Add(m.gracePeriod)
		case pendingStop:
			if !now.Before(t.deadline) {
				delete(m.procs, pid)
				emits = append(emits, Event{Type: Stopped, PID: pid, Descriptor: t.desc})
			}
		}
	}
	m.mu.Unlock()

	for _, e := range emits {
		slog.Info("process lifecycle event", "event", e.Type.String(), "pid", e.PID, "name", e.Descriptor.Name)
		select {
		case m.events <- e:
		case <-ctx.Done():
			// Consumer gone; delivery order no longer matters.
			return
		}
	}
}

// cancelPending drops all debounce state without emitting events.
func (m *Monitor) cancelPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.procs = make(map[int32]*tracked)
}

func (m *Monitor) isKnownApp(d Descriptor) bool {
	if len(m.knownApps) == 0 {
		return true
	}
	name := strings.ToLower(ParentName(d.Name))
	bundle := strings.ToLower(d.BundleID)
	for _, app := range m.knownApps {
		app = strings.ToLower(app)
		if strings.Contains(name, app) || (bundle != "" && strings.Contains(bundle, app)) {
			return true
		}
	}
	return false
}
