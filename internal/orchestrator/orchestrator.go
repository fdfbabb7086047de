// Package orchestrator wires capture, accumulation, inference, and
// identity resolution into one recording session.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/murmur-app/murmur/internal/accumulate"
	"github.com/murmur-app/murmur/internal/apperr"
	"github.com/murmur-app/murmur/internal/config"
	"github.com/murmur-app/murmur/internal/engine"
	"github.com/murmur-app/murmur/internal/lifecycle"
	"github.com/murmur-app/murmur/internal/resample"
	"github.com/murmur-app/murmur/internal/resilience"
	"github.com/murmur-app/murmur/internal/source"
	"github.com/murmur-app/murmur/internal/speaker"
	"github.com/murmur-app/murmur/internal/store"
	"github.com/murmur-app/murmur/internal/syncx"
)

// windowQueueDepth bounds the per-source backlog of full windows
// awaiting inference.
const windowQueueDepth = 4

// Event is one entry in the UI event feed.
type Event struct {
	Type       string    `json:"type"`
	Source     string    `json:"source,omitempty"`
	Text       string    `json:"text,omitempty"`
	Speaker    string    `json:"speaker,omitempty"`
	Ordinal    int       `json:"ordinal,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Time       time.Time `json:"time,omitempty"`
}

// Monitor is the process-lifecycle event source.
type Monitor interface {
	Run(ctx context.Context)
	Events() <-chan lifecycle.Event
}

// MicCapture is the microphone leg of the capture graph.
type MicCapture interface {
	Start(ctx context.Context) error
	Stop()
	Output() <-chan source.Buffer
	SetMuted(bool)
	ToggleMute() bool
	Muted() bool
	Dropped() int64
}

// TapController manages per-process capture streams.
type TapController interface {
	HandleStarted(ctx context.Context, desc lifecycle.Descriptor) error
	HandleStopped(ctx context.Context, pid int32)
	StopAll(ctx context.Context)
	Output() <-chan source.Buffer
	Dropped() int64
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Config   *config.Config
	Monitor  Monitor
	Mic      MicCapture
	Taps     TapController
	Engine   engine.Gateway
	Resolver *speaker.Resolver
	Store    store.Interface
}

// Orchestrator routes normalized buffers into the accumulator, full
// windows into the engine, and engine results through identity
// resolution into the store. One orchestrator is one session.
type Orchestrator struct {
	deps      Deps
	sessionID string
	started   time.Time

	acc     *accumulate.Accumulator
	breaker *resilience.Breaker

	recording  *syncx.RWGuard[bool]
	events     chan Event
	bufferDone chan struct{}

	windowsInferred atomic.Int64
	windowsFailed   atomic.Int64
	windowsSilent   atomic.Int64
	segmentsStored  atomic.Int64

	mu      sync.Mutex
	workers map[source.Key]chan source.Window
	wg      sync.WaitGroup
	running bool

	cancel context.CancelFunc
}

// New creates an orchestrator for a fresh session.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		deps:      deps,
		sessionID: uuid.NewString(),
		breaker:   resilience.NewBreaker(resilience.EngineBreakerConfig()),
		recording:  syncx.NewGuard(true),
		events:     make(chan Event, 100),
		bufferDone: make(chan struct{}),
		workers:    make(map[source.Key]chan source.Window),
	}
	o.acc = accumulate.New(deps.Config.WindowSize, o.enqueueWindow)
	return o
}

// SessionID returns the session identifier used on persisted segments.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Events returns the UI event feed. Delivery is best effort; slow
// consumers lose events rather than stalling capture.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Start brings up the capture graph. A microphone start failure, after
// its bounded retries, aborts the session; a missing tap backend
// degrades to mic-only capture.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	o.started = time.Now()
	o.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if err := o.deps.Mic.Start(runCtx); err != nil {
		cancel()
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		return err
	}

	go o.deps.Monitor.Run(runCtx)
	go o.lifecycleLoop(runCtx)
	go o.bufferLoop(runCtx)

	slog.Info("session started", "session", o.sessionID)
	o.emit(Event{Type: "session_started", Time: o.started})
	return nil
}

// lifecycleLoop applies debounced process events to the tap manager in
// arrival order.
func (o *Orchestrator) lifecycleLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.deps.Monitor.Events():
			switch ev.Type {
			case lifecycle.Started:
				err := o.deps.Taps.HandleStarted(ctx, ev.Descriptor)
				switch {
				case err == nil:
				case apperr.IsCode(err, apperr.CodeTapUnavailable):
					slog.Warn("application tap unavailable, capturing microphone only",
						"app", ev.Descriptor.Name, "pid", ev.PID)
				default:
					slog.Error("tap start failed", "app", ev.Descriptor.Name, "pid", ev.PID, "error", err)
				}
			case lifecycle.Stopped:
				o.deps.Taps.HandleStopped(ctx, ev.PID)
			}
		}
	}
}

// bufferLoop funnels normalized buffers from every capture leg into the
// accumulator. The recording gate drops buffers here, before they
// consume window time.
func (o *Orchestrator) bufferLoop(ctx context.Context) {
	defer close(o.bufferDone)
	for {
		select {
		case <-ctx.Done():
			return
		case buf := <-o.deps.Mic.Output():
			o.ingest(buf)
		case buf := <-o.deps.Taps.Output():
			o.ingest(buf)
		}
	}
}

func (o *Orchestrator) ingest(buf source.Buffer) {
	if !o.recording.Get() {
		return
	}
	o.acc.Append(buf)
}

// IngestReplay normalizes an imported recording and runs it through the
// same window pipeline as live capture, under the file-replay key.
func (o *Orchestrator) IngestReplay(samples []float32, format resample.Format) error {
	conv, err := resample.New(format)
	if err != nil {
		return err
	}
	o.acc.Append(source.Buffer{
		Key:       source.Replay(),
		Samples:   conv.Convert(samples),
		Timestamp: time.Now(),
	})
	o.acc.Flush(source.Replay())
	return nil
}

// enqueueWindow hands a full window to the source's inference worker.
// Each source has its own serialized worker, so sources infer
// concurrently while results within a source stay ordered.
func (o *Orchestrator) enqueueWindow(w source.Window) {
	o.mu.Lock()
	ch, ok := o.workers[w.Key]
	if !ok {
		ch = make(chan source.Window, windowQueueDepth)
		o.workers[w.Key] = ch
		o.wg.Add(1)
		go o.inferLoop(ch)
	}
	o.mu.Unlock()

	select {
	case ch <- w:
	default:
		// Inference is falling behind; losing the window keeps
		// capture live.
		o.windowsFailed.Add(1)
		slog.Warn("inference backlog full, window dropped", "source", w.Key)
	}
}

func (o *Orchestrator) inferLoop(ch <-chan source.Window) {
	defer o.wg.Done()
	for w := range ch {
		o.processWindow(context.Background(), w)
	}
}

func (o *Orchestrator) processWindow(ctx context.Context, w source.Window) {
	var result engine.Result
	err := o.breaker.Execute(func() error {
		var inferErr error
		result, inferErr = o.deps.Engine.Infer(ctx, w)
		return inferErr
	})
	if err != nil {
		// A failed window is dropped; capture and later windows
		// continue.
		o.windowsFailed.Add(1)
		slog.Error("inference failed, window dropped", "source", w.Key, "error", err)
		return
	}
	o.windowsInferred.Add(1)

	text := strings.TrimSpace(result.Text)
	if result.NoSpeech || text == "" {
		o.windowsSilent.Add(1)
		slog.Debug("window carried no speech", "source", w.Key)
		return
	}

	profile, err := o.deps.Resolver.Resolve(ctx, result.Embedding)
	if err != nil {
		o.windowsFailed.Add(1)
		slog.Error("speaker resolution failed, window dropped", "source", w.Key, "error", err)
		return
	}

	seg := store.TranscriptSegment{
		SessionID:      o.sessionID,
		Source:         w.Key.String(),
		Text:           text,
		Confidence:     result.Confidence,
		SpeakerOrdinal: profile.Ordinal,
		SpeakerName:    profile.Name,
		Start:          w.Start,
		Duration:       w.Duration(),
	}
	if err := o.deps.Store.AppendTranscriptSegment(ctx, seg); err != nil {
		slog.Error("transcript persist failed", "source", w.Key, "error", err)
		return
	}
	o.segmentsStored.Add(1)

	slog.Info("transcribed", "source", w.Key, "speaker", profile.Name, "text", text)
	o.emit(Event{
		Type:       "transcript",
		Source:     w.Key.String(),
		Text:       text,
		Speaker:    profile.Name,
		Ordinal:    profile.Ordinal,
		Confidence: result.Confidence,
		Time:       w.Start,
	})
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		slog.Debug("event feed full", "type", ev.Type)
	}
}

// SetRecording gates buffer ingestion without tearing down streams.
func (o *Orchestrator) SetRecording(enabled bool) {
	o.recording.Set(enabled)
	slog.Info("recording state changed", "enabled", enabled)
	o.emit(Event{Type: "recording", Text: recordingState(enabled), Time: time.Now()})
}

// Recording reports the ingestion gate state.
func (o *Orchestrator) Recording() bool { return o.recording.Get() }

// ToggleMute flips the microphone gate and returns the new state.
func (o *Orchestrator) ToggleMute() bool { return o.deps.Mic.ToggleMute() }

// Muted reports the microphone gate state.
func (o *Orchestrator) Muted() bool { return o.deps.Mic.Muted() }

func recordingState(enabled bool) string {
	if enabled {
		return "resumed"
	}
	return "paused"
}

// Stop tears the session down: capture stops first, partial windows are
// flushed through inference, then the summary is logged. Stop returns
// once every queued window has been handled.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.deps.Taps.StopAll(ctx)
	o.deps.Mic.Stop()

	// The buffer loop must be parked before the flush; an append landing
	// behind FlushAll would strand its samples past Stop.
	<-o.bufferDone

	// Partial windows still count; flush them through the same path.
	o.acc.FlushAll()

	o.mu.Lock()
	for _, ch := range o.workers {
		close(ch)
	}
	o.workers = make(map[source.Key]chan source.Window)
	o.mu.Unlock()
	o.wg.Wait()

	_ = o.deps.Engine.Close()

	slog.Info("session ended",
		"session", o.sessionID,
		"duration", time.Since(o.started).Round(time.Second),
		"windows_inferred", o.windowsInferred.Load(),
		"windows_failed", o.windowsFailed.Load(),
		"windows_silent", o.windowsSilent.Load(),
		"segments_stored", o.segmentsStored.Load(),
		"mic_buffers_dropped", o.deps.Mic.Dropped(),
		"tap_buffers_dropped", o.deps.Taps.Dropped())
	o.emit(Event{Type: "session_ended", Time: time.Now()})
}
