package apperr

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := New(CodeStreamStart, "tap busy").WithMetadata("pid", "100")
	s := err.Error()

	if !strings.Contains(s, "STREAM_START") {
		t.Errorf("Error() = %q, want code name included", s)
	}
	if !strings.Contains(s, "tap busy") || !strings.Contains(s, "100") {
		t.Errorf("Error() = %q, want message and metadata included", s)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("device gone")
	err := Wrap(cause, CodeDeviceAssign, "assign input")

	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
	if !strings.Contains(err.Error(), "device gone") {
		t.Errorf("Error() = %q, want cause included", err.Error())
	}
}

func TestIsCode(t *testing.T) {
	err := Newf(CodeTapUnavailable, "no backend for pid %d", 42)

	if !IsCode(err, CodeTapUnavailable) {
		t.Error("IsCode should match the carried code")
	}
	if IsCode(err, CodeStreamStart) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(errors.New("plain"), CodeTapUnavailable) {
		t.Error("IsCode should not match plain errors")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(CodeStoreFailed, "x")); got != CodeStoreFailed {
		t.Errorf("CodeOf = %v, want %v", got, CodeStoreFailed)
	}
	if got := CodeOf(errors.New("plain")); got != CodeUnknown {
		t.Errorf("CodeOf(plain) = %v, want %v", got, CodeUnknown)
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		code      Code
		retryable bool
		fatal     bool
	}{
		{CodeDeviceAssign, true, false},
		{CodeStreamStart, true, false},
		{CodeEngineUnavailable, true, false},
		{CodeTapUnavailable, false, false},
		{CodeNoInputDevice, false, true},
		{CodeCaptureNotPermitted, false, true},
		{CodeConfigInvalid, false, true},
		{CodeInferenceFailed, false, false},
		{CodeEmbeddingInvalid, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := New(tt.code, "x")
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := IsFatal(err); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
		})
	}
}
