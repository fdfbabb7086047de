package commands

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/murmur-app/murmur/internal/accumulate"
	"github.com/murmur-app/murmur/internal/engine"
	"github.com/murmur-app/murmur/internal/resample"
	"github.com/murmur-app/murmur/internal/source"
	"github.com/murmur-app/murmur/internal/speaker"
	"github.com/murmur-app/murmur/internal/store"

	"github.com/google/uuid"
)

var (
	replayRate     int
	replayChannels int
)

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Run an imported raw float32 PCM recording through the pipeline",
	Long: `replay feeds a raw little-endian float32 PCM file through the same
normalization, windowing, inference, and identity-resolution path as
live capture, persisting the resulting transcript segments.`,
	Args: cobra.ExactArgs(1),
	RunE: replayFile,
}

func init() {
	replayCmd.Flags().IntVar(&replayRate, "rate", 16000, "sample rate of the recording")
	replayCmd.Flags().IntVar(&replayChannels, "channels", 1, "channel count of the recording")
	rootCmd.AddCommand(replayCmd)
}

func replayFile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	samples, err := readRawPCM(args[0])
	if err != nil {
		return err
	}

	db, err := store.OpenBadger(store.BadgerOptions{Dir: cfg.StorePath})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	gateway := engine.NewClient(engine.ClientConfig{Addr: cfg.EngineAddr, Timeout: cfg.EngineTimeout})
	resolver := speaker.NewResolver(speaker.Config{
		EmbeddingDim:   cfg.EmbeddingDim,
		MatchThreshold: cfg.MatchThreshold,
	}, db)

	conv, err := resample.New(resample.Format{SampleRate: replayRate, Channels: replayChannels})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	sessionID := uuid.NewString()
	var windows []source.Window
	acc := accumulate.New(cfg.WindowSize, func(w source.Window) {
		windows = append(windows, w)
	})
	acc.Append(source.Buffer{
		Key:       source.Replay(),
		Samples:   conv.Convert(samples),
		Timestamp: time.Now(),
	})
	acc.Flush(source.Replay())

	for _, w := range windows {
		result, err := gateway.Infer(ctx, w)
		if err != nil {
			return err
		}
		text := strings.TrimSpace(result.Text)
		if result.NoSpeech || text == "" {
			continue
		}

		profile, err := resolver.Resolve(ctx, result.Embedding)
		if err != nil {
			return err
		}
		err = db.AppendTranscriptSegment(ctx, store.TranscriptSegment{
			SessionID:      sessionID,
			Source:         w.Key.String(),
			Text:           text,
			Confidence:     result.Confidence,
			SpeakerOrdinal: profile.Ordinal,
			SpeakerName:    profile.Name,
			Start:          w.Start,
			Duration:       w.Duration(),
		})
		if err != nil {
			return err
		}
		fmt.Printf("[%s] %s\n", profile.Name, text)
	}

	fmt.Printf("replayed %d windows into session %s\n", len(windows), sessionID)
	return nil
}

// readRawPCM loads a little-endian float32 sample file.
func readRawPCM(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%s: size %d is not a whole number of float32 samples", path, len(data))
	}

	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, nil
}
