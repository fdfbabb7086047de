package resample

import (
	"math"
	"testing"
)

func TestDownmixStereoAverages(t *testing.T) {
	in := []float32{1.0, 0.0, 0.5, 0.5, -1.0, 1.0}
	mono := Downmix(in, 2)

	want := []float32{0.5, 0.5, 0.0}
	if len(mono) != len(want) {
		t.Fatalf("len = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("mono[%d] = %f, want %f", i, mono[i], want[i])
		}
	}
}

func TestDownmixMonoCopies(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	mono := Downmix(in, 1)
	if &mono[0] == &in[0] {
		t.Error("mono downmix should copy, not alias")
	}
	for i := range in {
		if mono[i] != in[i] {
			t.Errorf("mono[%d] = %f, want %f", i, mono[i], in[i])
		}
	}
}

func TestDownmixDiscardsPartialFrame(t *testing.T) {
	in := []float32{1, 1, 1, 1, 1} // 2.5 stereo frames
	if got := len(Downmix(in, 2)); got != 2 {
		t.Errorf("len = %d, want 2", got)
	}
}

func TestConvertPassthrough16k(t *testing.T) {
	c, err := New(Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	in := []float32{0.1, -0.1, 0.2}
	out := c.Convert(in)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}
}

func TestConvertOutputCountContract(t *testing.T) {
	tests := []struct {
		rate     int
		channels int
		frames   int
	}{
		{48000, 1, 1024},
		{48000, 2, 1024},
		{44100, 1, 441},
		{44100, 2, 1000},
		{44100, 1, 333},
		{22050, 1, 500},
	}

	for _, tt := range tests {
		c, err := New(Format{SampleRate: tt.rate, Channels: tt.channels})
		if err != nil {
			t.Fatal(err)
		}
		in := make([]float32, tt.frames*tt.channels)
		out := c.Convert(in)

		want := ExpectedOutput(tt.frames, tt.rate)
		if diff := len(out) - want; diff < -1 || diff > 1 {
			t.Errorf("rate=%d frames=%d: got %d samples, want %d±1", tt.rate, tt.frames, len(out), want)
		}
	}
}

func TestConvertStreamContinuityCount(t *testing.T) {
	// Across many consecutive buffers the cumulative output must track
	// the exact ratio, and each call individually stays within ±1.
	c, err := New(Format{SampleRate: 44100, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	const calls = 50
	const frames = 441
	total := 0
	for i := 0; i < calls; i++ {
		out := c.Convert(make([]float32, frames))
		want := ExpectedOutput(frames, 44100)
		if diff := len(out) - want; diff < -1 || diff > 1 {
			t.Fatalf("call %d: got %d samples, want %d±1", i, len(out), want)
		}
		total += len(out)
	}

	wantTotal := ExpectedOutput(calls*frames, 44100)
	if diff := total - wantTotal; diff < -1 || diff > 1 {
		t.Errorf("cumulative = %d, want %d±1", total, wantTotal)
	}
}

func TestConvertPreservesConstantSignal(t *testing.T) {
	c, err := New(Format{SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatal(err)
	}
	in := make([]float32, 960*2)
	for i := range in {
		in[i] = 0.25
	}
	out := c.Convert(in)
	for i, s := range out {
		if math.Abs(float64(s)-0.25) > 1e-6 {
			t.Fatalf("out[%d] = %f, want 0.25", i, s)
		}
	}
}

func TestConvertInterpolatesRamp(t *testing.T) {
	// Downsampling a linear ramp stays a linear ramp under linear
	// interpolation, so consecutive deltas must be near-constant.
	c, err := New(Format{SampleRate: 48000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	in := make([]float32, 4800)
	for i := range in {
		in[i] = float32(i) / 4800
	}
	out := c.Convert(in)
	if len(out) < 10 {
		t.Fatalf("len = %d, want >= 10", len(out))
	}
	d := out[1] - out[0]
	for i := 2; i < len(out); i++ {
		if math.Abs(float64(out[i]-out[i-1]-d)) > 1e-5 {
			t.Fatalf("delta at %d = %f, want %f", i, out[i]-out[i-1], d)
		}
	}
}

func TestConvertEmptyInput(t *testing.T) {
	c, err := New(Format{SampleRate: 48000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	if out := c.Convert(nil); out != nil {
		t.Errorf("Convert(nil) = %v, want nil", out)
	}
}

func TestConvertIndependentSources(t *testing.T) {
	// Two converters fed different streams never contaminate each other.
	a, _ := New(Format{SampleRate: 44100, Channels: 1})
	b, _ := New(Format{SampleRate: 44100, Channels: 1})

	high := make([]float32, 441)
	low := make([]float32, 441)
	for i := range high {
		high[i] = 1.0
		low[i] = -1.0
	}

	outA := a.Convert(high)
	outB := b.Convert(low)

	for i, s := range outA {
		if s != 1.0 {
			t.Fatalf("outA[%d] = %f, want 1.0", i, s)
		}
	}
	for i, s := range outB {
		if s != -1.0 {
			t.Fatalf("outB[%d] = %f, want -1.0", i, s)
		}
	}
}

func TestNewRejectsBadFormat(t *testing.T) {
	if _, err := New(Format{SampleRate: 0, Channels: 1}); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := New(Format{SampleRate: 48000, Channels: 0}); err == nil {
		t.Error("expected error for zero channels")
	}
}
