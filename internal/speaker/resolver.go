// Package speaker maps voice-print embeddings to persistent speaker
// identities via nearest-neighbor matching over cosine distance.
package speaker

import (
	"context"
	"log/slog"
	"math"

	"github.com/murmur-app/murmur/internal/apperr"
	"github.com/murmur-app/murmur/internal/store"
)

// Config tunes identity matching.
type Config struct {
	// EmbeddingDim is the required embedding dimensionality.
	EmbeddingDim int

	// MatchThreshold is the cosine-distance acceptance threshold.
	// Lower values produce more distinct speakers. Sensible values
	// sit between 0.5 and 0.65.
	MatchThreshold float64
}

// Resolver resolves embeddings against the persisted profile set. Each
// profile's reference embedding is the first one seen for that speaker;
// later sightings never update it.
type Resolver struct {
	cfg   Config
	store store.Interface
}

// NewResolver creates a resolver backed by the given profile store.
func NewResolver(cfg Config, s store.Interface) *Resolver {
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = 256
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = 0.6
	}
	return &Resolver{cfg: cfg, store: s}
}

// Resolve maps an embedding to an existing or newly minted profile.
// Invalid embeddings route to the reserved unknown profile without
// touching the ordinary profile set.
func (r *Resolver) Resolve(ctx context.Context, embedding []float32) (store.SpeakerProfile, error) {
	if err := r.validate(embedding); err != nil {
		slog.Debug("embedding rejected", "error", err)
		return r.store.UnknownSpeakerProfile(ctx)
	}

	profiles, err := r.store.FindAllSpeakerProfiles(ctx)
	if err != nil {
		return store.SpeakerProfile{}, err
	}

	best := store.SpeakerProfile{}
	bestDistance := math.Inf(1)
	for _, p := range profiles {
		if p.Unknown() {
			continue
		}
		d, ok := cosineDistance(embedding, p.Embedding)
		if !ok {
			continue
		}
		if d < bestDistance {
			bestDistance = d
			best = p
		}
	}

	if bestDistance < r.cfg.MatchThreshold {
		slog.Debug("speaker matched", "ordinal", best.Ordinal, "distance", bestDistance)
		return best, nil
	}

	created, err := r.store.CreateSpeakerProfile(ctx, "", embedding)
	if err != nil {
		return store.SpeakerProfile{}, err
	}
	slog.Info("new speaker identified", "ordinal", created.Ordinal, "nearest_distance", bestDistance)
	return created, nil
}

func (r *Resolver) validate(embedding []float32) error {
	if len(embedding) != r.cfg.EmbeddingDim {
		return apperr.Newf(apperr.CodeEmbeddingInvalid, "embedding has %d dimensions, want %d", len(embedding), r.cfg.EmbeddingDim)
	}
	var norm float64
	for _, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return apperr.New(apperr.CodeEmbeddingInvalid, "embedding contains non-finite values")
		}
		norm += f * f
	}
	if norm == 0 {
		return apperr.New(apperr.CodeEmbeddingInvalid, "embedding is all zeros")
	}
	return nil
}

// cosineDistance returns 1 - cosine_similarity(a, b). The second return
// is false when either vector is degenerate (mismatched length or zero
// norm), which excludes that profile from matching.
func cosineDistance(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), true
}
