package realtime

import (
	"context"
)

// Emitter is the producer-side seam: the processor emits through it
// without knowing whether events stay in-process or cross the bus.
type Emitter interface {
	Emit(ctx context.Context, msg SSEMessage)
}

// HubEmitter delivers straight to the local hub. Single-instance mode.
type HubEmitter struct{ Hub *SSEHub }

func (e *HubEmitter) Emit(ctx context.Context, msg SSEMessage) {
	e.Hub.Broadcast(msg)
}
