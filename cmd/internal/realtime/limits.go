package realtime

import "time"

// Security/performance limits for the dev gateway.
const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message content length (runes).
	maxMessageChars = 4000

	// Max bytes accepted on REST request bodies.
	maxBodyBytes = 16 << 10
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound budget (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
