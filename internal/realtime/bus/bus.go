// Package bus moves job events between service instances so every
// instance's SSE clients see every transition.
package bus

import (
	"context"

	"github.com/darkroomhq/darkroom-backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}

// Emitter adapts a Bus to the realtime.Emitter seam. Publish failures
// are dropped; events are best-effort.
type Emitter struct{ Bus Bus }

func (e *Emitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	_ = e.Bus.Publish(ctx, msg)
}
