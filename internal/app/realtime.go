package app

import (
	"fmt"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/realtime"
	"github.com/darkroomhq/darkroom-backend/internal/realtime/bus"
)

type realtimeSet struct {
	hub     *realtime.SSEHub
	emitter realtime.Emitter
	bus     bus.Bus
}

// wireRealtime always builds the local hub. With redis configured,
// emits go through the bus and come back via the forwarder, so every
// instance's SSE clients see every transition; without it the emitter
// feeds the hub directly.
func wireRealtime(cfg *config.Config, log *logger.Logger) (realtimeSet, error) {
	hub := realtime.NewSSEHub(log)
	set := realtimeSet{hub: hub, emitter: &realtime.HubEmitter{Hub: hub}}

	if cfg.Redis.Addr == "" {
		return set, nil
	}
	b, err := bus.NewRedisBus(cfg.Redis, log)
	if err != nil {
		return realtimeSet{}, fmt.Errorf("init event bus: %w", err)
	}
	set.bus = b
	set.emitter = &bus.Emitter{Bus: b}
	return set, nil
}
