package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/murmur-app/murmur/internal/apperr"
	"github.com/murmur-app/murmur/internal/source"
)

// ClientConfig configures the WebSocket gateway client.
type ClientConfig struct {
	// Addr is the engine endpoint, e.g. ws://localhost:8790/infer.
	Addr string

	// Timeout bounds one full infer round trip.
	Timeout time.Duration
}

// Client speaks JSON over WebSocket to the inference engine. Each
// Infer call uses its own connection, so calls from different sources
// run concurrently with no shared session state.
type Client struct {
	cfg ClientConfig
}

type inferRequest struct {
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	SampleRate int       `json:"sample_rate"`
	Start      time.Time `json:"start"`
	Samples    []float32 `json:"samples"`
}

type inferResponse struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
	Result
}

// NewClient creates a gateway client for the given engine address.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

// Infer submits one window and waits for the engine's result.
func (c *Client) Infer(ctx context.Context, window source.Window) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.cfg.Addr, nil)
	if err != nil {
		return Result{}, apperr.Wrapf(err, apperr.CodeEngineUnavailable, "dial engine at %s", c.cfg.Addr)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(-1)

	req := inferRequest{
		Type:       "infer",
		Source:     window.Key.String(),
		SampleRate: source.SampleRate,
		Start:      window.Start,
		Samples:    window.Samples,
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return Result{}, apperr.Wrap(err, apperr.CodeEngineUnavailable, "send window to engine")
	}

	var resp inferResponse
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		return Result{}, apperr.Wrap(err, apperr.CodeInferenceFailed, "read engine response")
	}
	if resp.Type == "error" || resp.Error != "" {
		return Result{}, apperr.Newf(apperr.CodeInferenceFailed, "engine rejected window: %s", resp.Error)
	}

	slog.Debug("window inferred",
		"source", window.Key,
		"duration", window.Duration(),
		"segments", len(resp.Segments),
		"no_speech", resp.NoSpeech)
	return resp.Result, nil
}

// Close is a no-op; connections are per call.
func (c *Client) Close() error { return nil }
