// Package store is the persistence collaborator: speaker profiles and
// transcript segments. The capture core only ever talks to the Interface;
// storage mechanics stay behind it.
package store

import (
	"context"
	"fmt"
	"time"
)

// UnknownOrdinal is reserved for the "unknown/invalid embedding" speaker.
// Ordinary profiles start at 1.
const UnknownOrdinal = 0

// SpeakerProfile is a persistent speaker identity. The ordinal is
// assigned once at creation, monotonically increasing, never reused.
// The reference embedding is the first-seen voice print and is not
// updated by later sightings.
type SpeakerProfile struct {
	ID        string    `msgpack:"id"`
	Ordinal   int       `msgpack:"ordinal"`
	Name      string    `msgpack:"name"`
	Embedding []float32 `msgpack:"embedding"`
	CreatedAt time.Time `msgpack:"created_at"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// Unknown reports whether this is the reserved invalid-embedding profile.
func (p SpeakerProfile) Unknown() bool { return p.Ordinal == UnknownOrdinal }

// TranscriptSegment is one identity-resolved inference result.
type TranscriptSegment struct {
	ID             string        `msgpack:"id"`
	SessionID      string        `msgpack:"session_id"`
	Source         string        `msgpack:"source"`
	Text           string        `msgpack:"text"`
	Confidence     float64       `msgpack:"confidence"`
	SpeakerOrdinal int           `msgpack:"speaker_ordinal"`
	SpeakerName    string        `msgpack:"speaker_name"`
	Start          time.Time     `msgpack:"start"`
	Duration       time.Duration `msgpack:"duration"`
	CreatedAt      time.Time     `msgpack:"created_at"`
}

// Interface is the data-access contract the capture core depends on.
//
// CreateSpeakerProfile owns ordinal allocation: implementations must
// serialize it so concurrent creations never produce duplicate ordinals.
type Interface interface {
	// FindAllSpeakerProfiles returns every profile, the reserved
	// unknown profile included if it exists.
	FindAllSpeakerProfiles(ctx context.Context) ([]SpeakerProfile, error)

	// CreateSpeakerProfile persists a new identity with ordinal
	// max(existing)+1 and, when name is empty, the default
	// "Speaker {ordinal}" name.
	CreateSpeakerProfile(ctx context.Context, name string, embedding []float32) (SpeakerProfile, error)

	// UnknownSpeakerProfile returns the reserved ordinal-0 profile,
	// creating it on first use. The ordinary profile set is never
	// touched.
	UnknownSpeakerProfile(ctx context.Context) (SpeakerProfile, error)

	// RenameSpeakerProfile sets a user-assigned display name.
	RenameSpeakerProfile(ctx context.Context, id, name string) error

	// AppendTranscriptSegment persists one resolved result.
	AppendTranscriptSegment(ctx context.Context, seg TranscriptSegment) error

	Close() error
}

func defaultName(ordinal int) string {
	if ordinal == UnknownOrdinal {
		return "Unknown"
	}
	return fmt.Sprintf("Speaker %d", ordinal)
}
