// Package mic owns the single microphone capture stream: device
// (re)assignment, mute gating, and normalization to the analysis format.
package mic

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/murmur-app/murmur/internal/apperr"
	"github.com/murmur-app/murmur/internal/resample"
	"github.com/murmur-app/murmur/internal/resilience"
	"github.com/murmur-app/murmur/internal/source"
)

const framesPerBuffer = 1024

// Config holds microphone capture settings.
type Config struct {
	DeviceName  string // empty = system default input
	BufferDepth int
	StopDelay   time.Duration // subsystem cleanup wait after removing the tap
}

// Capture owns exactly one capture stream bound to the configured input
// device. Buffers arriving while muted are dropped before resampling,
// so muted time consumes no window time.
type Capture struct {
	cfg      Config
	retryCfg resilience.RetryConfig
	out      chan source.Buffer

	muted     atomic.Bool
	forwarded atomic.Int64
	dropped   atomic.Int64

	mu      sync.Mutex
	running bool
	conv    *resample.Converter
	stream  *portaudio.Stream
	readBuf []float32
	cancel  context.CancelFunc
}

// New creates a microphone capture with a bounded output channel.
// Delivery uses drop-oldest backpressure, matching the tap manager.
func New(cfg Config) *Capture {
	if cfg.BufferDepth <= 0 {
		cfg.BufferDepth = 64
	}
	if cfg.StopDelay <= 0 {
		cfg.StopDelay = 200 * time.Millisecond
	}
	return &Capture{
		cfg:      cfg,
		retryCfg: resilience.DeviceAssignConfig(),
		out:      make(chan source.Buffer, cfg.BufferDepth),
	}
}

// Output returns the normalized microphone buffer stream.
func (c *Capture) Output() <-chan source.Buffer { return c.out }

// SetMuted gates buffer delivery. No silence is synthesized while muted.
func (c *Capture) SetMuted(muted bool) {
	if c.muted.Swap(muted) != muted {
		slog.Info("microphone mute changed", "muted", muted)
	}
}

// ToggleMute flips the gate and returns the new state.
func (c *Capture) ToggleMute() bool {
	for {
		old := c.muted.Load()
		if c.muted.CompareAndSwap(old, !old) {
			slog.Info("microphone mute changed", "muted", !old)
			return !old
		}
	}
}

// Muted reports the current gate state.
func (c *Capture) Muted() bool { return c.muted.Load() }

// Dropped returns buffers discarded by mute gating or backpressure.
func (c *Capture) Dropped() int64 { return c.dropped.Load() }

// Forwarded returns buffers delivered downstream.
func (c *Capture) Forwarded() int64 { return c.forwarded.Load() }

// Start assigns the configured device to the capture graph and begins
// delivery. Device assignment is retried with a ramped delay because it
// fails transiently right after device changes; exhausting the retries
// is fatal to session start.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return apperr.Wrap(err, apperr.CodeDeviceAssign, "initialize audio subsystem")
	}

	dev, err := c.findDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}

	err = resilience.Retry(ctx, c.retryCfg, func() error {
		return c.openStream(dev)
	})
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	go c.readLoop(runCtx, c.stream.Read, c.conv, c.readBuf)

	slog.Info("microphone capture started", "device", dev.Name, "rate", int(dev.DefaultSampleRate))
	return nil
}

func (c *Capture) findDevice() (*portaudio.DeviceInfo, error) {
	if c.cfg.DeviceName == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil || dev == nil {
			return nil, apperr.Wrap(err, apperr.CodeNoInputDevice, "no default input device")
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeNoInputDevice, "enumerate devices")
	}
	want := strings.ToLower(c.cfg.DeviceName)
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, apperr.Newf(apperr.CodeNoInputDevice, "input device %q not found", c.cfg.DeviceName)
}

func (c *Capture) openStream(dev *portaudio.DeviceInfo) error {
	rate := int(dev.DefaultSampleRate)
	conv, err := resample.New(resample.Format{SampleRate: rate, Channels: 1})
	if err != nil {
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: framesPerBuffer,
	}

	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeDeviceAssign, "open stream on %s", dev.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return apperr.Wrapf(err, apperr.CodeDeviceAssign, "start stream on %s", dev.Name)
	}

	c.conv = conv
	c.stream = stream
	c.readBuf = buf
	return nil
}

// readLoop drives the blocking stream reads. The stream, converter, and
// buffer are goroutine locals: Stop may clear the fields while the loop
// is mid-read, and a closed stream surfaces as a read error that ends
// the loop.
func (c *Capture) readLoop(ctx context.Context, read func() error, conv *resample.Converter, buf []float32) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := read(); err != nil {
			slog.Debug("microphone read error", "error", err)
			return
		}
		c.handleFrame(conv, buf, time.Now())
	}
}

// handleFrame gates, normalizes, and forwards one native buffer. Runs
// on the capture read path: bounded, no I/O.
func (c *Capture) handleFrame(conv *resample.Converter, samples []float32, ts time.Time) {
	if c.muted.Load() {
		c.dropped.Add(1)
		return
	}

	normalized := conv.Convert(samples)
	if len(normalized) == 0 {
		return
	}
	c.send(source.Buffer{Key: source.Mic(), Samples: normalized, Timestamp: ts})
}

func (c *Capture) send(buf source.Buffer) {
	select {
	case c.out <- buf:
		c.forwarded.Add(1)
		return
	default:
	}

	select {
	case <-c.out:
		c.dropped.Add(1)
	default:
	}

	select {
	case c.out <- buf:
		c.forwarded.Add(1)
	default:
		c.dropped.Add(1)
	}
}

// Stop removes the tap and waits a short fixed delay for subsystem
// cleanup before returning.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false

	if c.cancel != nil {
		c.cancel()
	}
	if c.stream != nil {
		_ = c.stream.Stop()
		_ = c.stream.Close()
		c.stream = nil
	}
	_ = portaudio.Terminate()

	time.Sleep(c.cfg.StopDelay)
	slog.Info("microphone capture stopped")
}
