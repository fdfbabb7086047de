package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/murmur-app/murmur/internal/apperr"
)

// Memory is an in-process Interface implementation, used by tests and
// ephemeral sessions that should leave nothing on disk.
type Memory struct {
	mu       sync.Mutex
	profiles []SpeakerProfile
	segments []TranscriptSegment
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) FindAllSpeakerProfiles(context.Context) ([]SpeakerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SpeakerProfile, len(m.profiles))
	copy(out, m.profiles)
	return out, nil
}

func (m *Memory) CreateSpeakerProfile(_ context.Context, name string, embedding []float32) (SpeakerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordinal := 0
	for _, p := range m.profiles {
		if p.Ordinal > ordinal {
			ordinal = p.Ordinal
		}
	}
	ordinal++

	p := newProfile(ordinal, name, embedding)
	m.profiles = append(m.profiles, p)
	return p, nil
}

func (m *Memory) UnknownSpeakerProfile(context.Context) (SpeakerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.profiles {
		if p.Unknown() {
			return p, nil
		}
	}
	p := newProfile(UnknownOrdinal, "", nil)
	m.profiles = append(m.profiles, p)
	return p, nil
}

func (m *Memory) RenameSpeakerProfile(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.profiles {
		if m.profiles[i].ID == id {
			m.profiles[i].Name = name
			m.profiles[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return apperr.Newf(apperr.CodeStoreFailed, "profile %s not found", id)
}

func (m *Memory) AppendTranscriptSegment(_ context.Context, seg TranscriptSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = append(m.segments, seg)
	return nil
}

// Segments returns a copy of all appended segments (for tests).
func (m *Memory) Segments() []TranscriptSegment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TranscriptSegment, len(m.segments))
	copy(out, m.segments)
	return out
}

func (m *Memory) Close() error { return nil }

func newProfile(ordinal int, name string, embedding []float32) SpeakerProfile {
	now := time.Now()
	p := SpeakerProfile{
		ID:        uuid.NewString(),
		Ordinal:   ordinal,
		Name:      name,
		Embedding: append([]float32(nil), embedding...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.Name == "" {
		p.Name = defaultName(ordinal)
	}
	return p
}
