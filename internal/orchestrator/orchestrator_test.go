package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/murmur-app/murmur/internal/apperr"
	"github.com/murmur-app/murmur/internal/config"
	"github.com/murmur-app/murmur/internal/engine"
	"github.com/murmur-app/murmur/internal/lifecycle"
	"github.com/murmur-app/murmur/internal/resample"
	"github.com/murmur-app/murmur/internal/source"
	"github.com/murmur-app/murmur/internal/speaker"
	"github.com/murmur-app/murmur/internal/store"
)

const testWindowSize = 8

type fakeMonitor struct {
	events chan lifecycle.Event
}

func (m *fakeMonitor) Run(ctx context.Context) { <-ctx.Done() }
func (m *fakeMonitor) Events() <-chan lifecycle.Event { return m.events }

type fakeMic struct {
	out      chan source.Buffer
	muted    bool
	stops    int
	startErr error
}

func (m *fakeMic) Start(context.Context) error { return m.startErr }
func (m *fakeMic) Stop()                        { m.stops++ }
func (m *fakeMic) Output() <-chan source.Buffer { return m.out }
func (m *fakeMic) SetMuted(muted bool)          { m.muted = muted }
func (m *fakeMic) ToggleMute() bool             { m.muted = !m.muted; return m.muted }
func (m *fakeMic) Muted() bool                  { return m.muted }
func (m *fakeMic) Dropped() int64               { return 0 }

type fakeTaps struct {
	mu       sync.Mutex
	out      chan source.Buffer
	started  []int32
	stopped  []int32
	startErr error
	stopAlls int
}

func (f *fakeTaps) HandleStarted(_ context.Context, desc lifecycle.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, desc.PID)
	return nil
}

func (f *fakeTaps) HandleStopped(_ context.Context, pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, pid)
}

func (f *fakeTaps) StopAll(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopAlls++
}

func (f *fakeTaps) Output() <-chan source.Buffer { return f.out }
func (f *fakeTaps) Dropped() int64               { return 0 }

func (f *fakeTaps) startedPIDs() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.started...)
}

type fakeEngine struct {
	mu      sync.Mutex
	windows []source.Window
	results []engine.Result
	errs    []error
	closed  bool
}

func (e *fakeEngine) Infer(_ context.Context, w source.Window) (engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.windows = append(e.windows, w)
	call := len(e.windows) - 1
	if call < len(e.errs) && e.errs[call] != nil {
		return engine.Result{}, e.errs[call]
	}
	if call < len(e.results) {
		return e.results[call], nil
	}
	return engine.Result{Text: "hello", Confidence: 0.9, Embedding: validEmbedding()}, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.windows)
}

func validEmbedding() []float32 {
	e := make([]float32, 4)
	e[0] = 1
	return e
}

type harness struct {
	orch  *Orchestrator
	mic   *fakeMic
	taps  *fakeTaps
	eng   *fakeEngine
	store *store.Memory
	mon   *fakeMonitor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mic:   &fakeMic{out: make(chan source.Buffer, 16)},
		taps:  &fakeTaps{out: make(chan source.Buffer, 16)},
		eng:   &fakeEngine{},
		store: store.NewMemory(),
		mon:   &fakeMonitor{events: make(chan lifecycle.Event, 16)},
	}
	cfg := &config.Config{WindowSize: testWindowSize}
	h.orch = New(Deps{
		Config:   cfg,
		Monitor:  h.mon,
		Mic:      h.mic,
		Taps:     h.taps,
		Engine:   h.eng,
		Resolver: speaker.NewResolver(speaker.Config{EmbeddingDim: 4, MatchThreshold: 0.6}, h.store),
		Store:    h.store,
	})
	return h
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func micBuffer(n int) source.Buffer {
	return source.Buffer{Key: source.Mic(), Samples: make([]float32, n), Timestamp: time.Now()}
}

func TestWindowFlowsThroughToStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.orch.Stop(ctx)

	h.mic.out <- micBuffer(testWindowSize)

	waitFor(t, func() bool { return len(h.store.Segments()) == 1 }, "segment never persisted")

	seg := h.store.Segments()[0]
	if seg.Text != "hello" {
		t.Errorf("Text = %q, want \"hello\"", seg.Text)
	}
	if seg.Source != "microphone" {
		t.Errorf("Source = %q, want \"microphone\"", seg.Source)
	}
	if seg.SpeakerOrdinal != 1 || seg.SpeakerName != "Speaker 1" {
		t.Errorf("speaker = %d/%q, want 1/\"Speaker 1\"", seg.SpeakerOrdinal, seg.SpeakerName)
	}
	if seg.SessionID != h.orch.SessionID() {
		t.Errorf("SessionID = %q, want %q", seg.SessionID, h.orch.SessionID())
	}
}

func TestTranscriptEventEmitted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.orch.Stop(ctx)

	h.mic.out <- micBuffer(testWindowSize)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.orch.Events():
			if ev.Type != "transcript" {
				continue
			}
			if ev.Text != "hello" || ev.Speaker != "Speaker 1" {
				t.Errorf("event = %+v", ev)
			}
			return
		case <-deadline:
			t.Fatal("transcript event never emitted")
		}
	}
}

func TestLifecycleEventsDriveTaps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.orch.Stop(ctx)

	h.mon.events <- lifecycle.Event{
		Type:       lifecycle.Started,
		PID:        100,
		Descriptor: lifecycle.Descriptor{PID: 100, Name: "zoom.us"},
	}
	h.mon.events <- lifecycle.Event{Type: lifecycle.Stopped, PID: 100}

	waitFor(t, func() bool {
		h.taps.mu.Lock()
		defer h.taps.mu.Unlock()
		return len(h.taps.started) == 1 && len(h.taps.stopped) == 1
	}, "lifecycle events never reached the tap manager")

	if pids := h.taps.startedPIDs(); pids[0] != 100 {
		t.Errorf("started pid = %d, want 100", pids[0])
	}
}

func TestTapUnavailableDegradesGracefully(t *testing.T) {
	h := newHarness(t)
	h.taps.startErr = apperr.New(apperr.CodeTapUnavailable, "no backend")
	ctx := context.Background()
	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.orch.Stop(ctx)

	h.mon.events <- lifecycle.Event{
		Type:       lifecycle.Started,
		PID:        100,
		Descriptor: lifecycle.Descriptor{PID: 100, Name: "zoom.us"},
	}

	// Microphone capture keeps working.
	h.mic.out <- micBuffer(testWindowSize)
	waitFor(t, func() bool { return len(h.store.Segments()) == 1 }, "mic capture stalled after tap failure")
}

func TestFailedWindowIsDroppedAndCaptureContinues(t *testing.T) {
	h := newHarness(t)
	h.eng.errs = []error{apperr.New(apperr.CodeInferenceFailed, "boom")}
	ctx := context.Background()
	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.orch.Stop(ctx)

	h.mic.out <- micBuffer(testWindowSize)
	h.mic.out <- micBuffer(testWindowSize)

	waitFor(t, func() bool { return h.eng.calls() == 2 }, "second window never inferred")
	waitFor(t, func() bool { return len(h.store.Segments()) == 1 }, "surviving window never persisted")
	if got := h.orch.windowsFailed.Load(); got != 1 {
		t.Errorf("windowsFailed = %d, want 1", got)
	}
}

func TestNoSpeechWindowNotPersisted(t *testing.T) {
	h := newHarness(t)
	h.eng.results = []engine.Result{{NoSpeech: true}, {Text: "after silence", Confidence: 0.8, Embedding: validEmbedding()}}
	ctx := context.Background()
	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.orch.Stop(ctx)

	h.mic.out <- micBuffer(testWindowSize)
	h.mic.out <- micBuffer(testWindowSize)

	waitFor(t, func() bool { return len(h.store.Segments()) == 1 }, "speech window never persisted")
	if h.store.Segments()[0].Text != "after silence" {
		t.Errorf("Text = %q, want \"after silence\"", h.store.Segments()[0].Text)
	}
	if got := h.orch.windowsSilent.Load(); got != 1 {
		t.Errorf("windowsSilent = %d, want 1", got)
	}
}

func TestRecordingGateDropsBuffers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.orch.Stop(ctx)

	h.orch.SetRecording(false)
	h.mic.out <- micBuffer(testWindowSize)
	h.mic.out <- micBuffer(testWindowSize)

	// Give the buffer loop time to consume and discard.
	waitFor(t, func() bool { return len(h.mic.out) == 0 }, "buffers never consumed")
	time.Sleep(20 * time.Millisecond)
	if h.eng.calls() != 0 {
		t.Errorf("engine calls = %d, want 0 while paused", h.eng.calls())
	}

	h.orch.SetRecording(true)
	h.mic.out <- micBuffer(testWindowSize)
	waitFor(t, func() bool { return h.eng.calls() == 1 }, "capture never resumed")
}

func TestStopFlushesPartialWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}

	h.mic.out <- micBuffer(testWindowSize / 2)
	waitFor(t, func() bool { return h.orch.acc.Pending(source.Mic()) > 0 }, "buffer never accumulated")

	h.orch.Stop(ctx)

	if h.eng.calls() != 1 {
		t.Fatalf("engine calls = %d, want 1 (flush)", h.eng.calls())
	}
	h.eng.mu.Lock()
	flushed := h.eng.windows[0]
	h.eng.mu.Unlock()
	if len(flushed.Samples) != testWindowSize/2 {
		t.Errorf("flushed samples = %d, want %d", len(flushed.Samples), testWindowSize/2)
	}
	if !h.eng.closed {
		t.Error("engine not closed on stop")
	}
	if h.taps.stopAlls != 1 || h.mic.stops != 1 {
		t.Errorf("teardown calls = %d/%d, want 1/1", h.taps.stopAlls, h.mic.stops)
	}
}

func TestIngestReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.orch.Stop(ctx)

	samples := make([]float32, testWindowSize+3)
	err := h.orch.IngestReplay(samples, resample.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	// One full window plus a flushed remainder.
	waitFor(t, func() bool { return h.eng.calls() == 2 }, "replay windows never inferred")
	waitFor(t, func() bool { return len(h.store.Segments()) == 2 }, "replay segments never persisted")
	for _, seg := range h.store.Segments() {
		if seg.Source != "file" {
			t.Errorf("Source = %q, want \"file\"", seg.Source)
		}
	}
}

func TestMicStartFailureAbortsSession(t *testing.T) {
	h := newHarness(t)
	h.mic.startErr = apperr.New(apperr.CodeDeviceAssign, "open stream on default input")
	ctx := context.Background()

	err := h.orch.Start(ctx)
	if err == nil {
		t.Fatal("Start must fail when the microphone cannot start")
	}
	if !apperr.IsCode(err, apperr.CodeDeviceAssign) {
		t.Errorf("error code = %v, want DEVICE_ASSIGN surfaced unchanged", apperr.CodeOf(err))
	}

	// The failed attempt must not leave the session marked running.
	h.mic.startErr = nil
	if err := h.orch.Start(ctx); err != nil {
		t.Fatalf("Start after recovery = %v", err)
	}
	h.orch.Stop(ctx)
	if h.mic.stops != 1 {
		t.Errorf("mic stops = %d, want 1", h.mic.stops)
	}
}

func TestStopNeverStrandsQueuedBuffers(t *testing.T) {
	// A buffer consumed by the ingest loop concurrently with Stop must
	// still make the shutdown flush; nothing may stay pending after
	// Stop returns.
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		h := newHarness(t)
		if err := h.orch.Start(ctx); err != nil {
			t.Fatal(err)
		}
		h.mic.out <- micBuffer(testWindowSize / 2)
		h.orch.Stop(ctx)

		if pending := h.orch.acc.Pending(source.Mic()); pending != 0 {
			t.Fatalf("pending = %d samples after Stop, want 0", pending)
		}
	}
}

func TestDuplicateStartIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	h.orch.Stop(ctx)
	h.orch.Stop(ctx)

	if h.mic.stops != 1 {
		t.Errorf("mic stops = %d, want 1", h.mic.stops)
	}
}
