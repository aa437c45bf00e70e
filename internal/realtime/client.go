package realtime

import (
	"github.com/google/uuid"
)

// SSEClient is one connected event-stream consumer. The hub owns the
// lifecycle; handlers only pump Outbound onto the wire.
type SSEClient struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan SSEMessage
	done     chan struct{}
}
