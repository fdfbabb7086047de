// Package config handles session configuration
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/murmur-app/murmur/internal/apperr"
)

// Tunable constants with their session defaults. Values are constants of
// the deployment, not of the code: every one can be overridden via the
// YAML file or environment.
const (
	DefaultSampleRate      = 16000
	DefaultWindowSamples   = 160000 // 10s at 16kHz
	DefaultPollInterval    = 2 * time.Second
	DefaultStartDelay      = 3 * time.Second
	DefaultGracePeriod     = 5 * time.Second
	DefaultMatchThreshold  = 0.6 // cosine distance; lower = stricter, more distinct speakers
	DefaultEmbeddingDim    = 256
	DefaultBufferDepth     = 64 // per-source delivery channel depth
	DefaultTeardownDelay   = 200 * time.Millisecond
	DefaultEngineTimeout   = 30 * time.Second
	DefaultEngineAddr      = "ws://localhost:8790/infer"
	DefaultEventAddr       = ":8791"
	DefaultStorePath       = "murmur-data"
)

// defaultKnownApps is the curated audio/communication application list
// used to filter lifecycle poll candidates.
var defaultKnownApps = []string{
	"zoom", "teams", "slack", "discord", "meet", "webex", "facetime",
	"skype", "telegram", "whatsapp", "spotify", "music", "chrome",
	"safari", "firefox", "arc", "edge", "vlc",
}

type Config struct {
	EngineAddr   string        `yaml:"engine_addr"`
	EventAddr    string        `yaml:"event_addr"`
	StorePath    string        `yaml:"store_path"`
	InputDevice  string        `yaml:"input_device"` // empty = system default input
	SampleRate   int           `yaml:"sample_rate"`
	WindowSize   int           `yaml:"window_samples"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StartDelay   time.Duration `yaml:"start_delay"`
	GracePeriod  time.Duration `yaml:"grace_period"`

	MatchThreshold float64 `yaml:"match_threshold"`
	EmbeddingDim   int     `yaml:"embedding_dim"`

	BufferDepth   int           `yaml:"buffer_depth"`
	TeardownDelay time.Duration `yaml:"teardown_delay"`
	EngineTimeout time.Duration `yaml:"engine_timeout"`

	KnownApps []string `yaml:"known_apps"`
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment overrides, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, apperr.Wrapf(err, apperr.CodeConfigInvalid, "read config %s", path)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeConfigInvalid, "parse config %s", path)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		EngineAddr:     DefaultEngineAddr,
		EventAddr:      DefaultEventAddr,
		StorePath:      DefaultStorePath,
		SampleRate:     DefaultSampleRate,
		WindowSize:     DefaultWindowSamples,
		PollInterval:   DefaultPollInterval,
		StartDelay:     DefaultStartDelay,
		GracePeriod:    DefaultGracePeriod,
		MatchThreshold: DefaultMatchThreshold,
		EmbeddingDim:   DefaultEmbeddingDim,
		BufferDepth:    DefaultBufferDepth,
		TeardownDelay:  DefaultTeardownDelay,
		EngineTimeout:  DefaultEngineTimeout,
		KnownApps:      append([]string(nil), defaultKnownApps...),
	}
}

func (c *Config) applyEnv() {
	c.EngineAddr = getEnv("ENGINE_ADDR", c.EngineAddr)
	c.EventAddr = getEnv("EVENT_ADDR", c.EventAddr)
	c.StorePath = getEnv("STORE_PATH", c.StorePath)
	c.InputDevice = getEnv("INPUT_DEVICE", c.InputDevice)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.WindowSize = getEnvInt("WINDOW_SAMPLES", c.WindowSize)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.StartDelay = getEnvDuration("START_DELAY", c.StartDelay)
	c.GracePeriod = getEnvDuration("GRACE_PERIOD", c.GracePeriod)
	c.MatchThreshold = getEnvFloat("MATCH_THRESHOLD", c.MatchThreshold)
	c.EmbeddingDim = getEnvInt("EMBEDDING_DIM", c.EmbeddingDim)
	c.BufferDepth = getEnvInt("BUFFER_DEPTH", c.BufferDepth)
	c.EngineTimeout = getEnvDuration("ENGINE_TIMEOUT", c.EngineTimeout)
	c.KnownApps = getEnvList("KNOWN_APPS", c.KnownApps)
}

func (c *Config) validate() error {
	if c.WindowSize <= 0 {
		return apperr.New(apperr.CodeConfigInvalid, "window_samples must be positive")
	}
	if c.SampleRate <= 0 {
		return apperr.New(apperr.CodeConfigInvalid, "sample_rate must be positive")
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold >= 1 {
		return apperr.New(apperr.CodeConfigInvalid, "match_threshold must be in (0, 1)")
	}
	if c.EmbeddingDim <= 0 {
		return apperr.New(apperr.CodeConfigInvalid, "embedding_dim must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
