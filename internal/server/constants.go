// Package server provides the HTTP and WebSocket event surface
package server

import "time"

// Server configuration constants
const (
	// Per-connection inbound message rate limiting
	RateLimitMessages = 10          // Max inbound messages per connection per window
	RateLimitWindow   = time.Second // Sliding window duration
)
