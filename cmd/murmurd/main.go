// murmurd - capture daemon that turns live audio into speaker-attributed
// transcripts via an external inference engine.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/murmur-app/murmur/cmd/murmurd/commands"
)

func main() {
	// Local overrides for development; absence is fine.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := commands.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
