package app

import (
	"context"
	"time"

	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/store"
)

// busHumanRouter is the default scheduler.HumanTaskRouter: it has no notion
// of a specific human-facing transport, so it publishes a SystemEvent and
// lets whichever channel adapters care (web dashboard, Telegram) pick it up
// off the bus, the same "persist/compute then best-effort publish" shape
// missioncontrol.Manager uses for every other broadcast.
type busHumanRouter struct {
	bus *bus.Bus
}

func newBusHumanRouter(b *bus.Bus) *busHumanRouter {
	return &busHumanRouter{bus: b}
}

func (r *busHumanRouter) NotifyTaskReady(ctx context.Context, task store.Task) error {
	r.bus.PublishSystem(bus.SystemEvent{
		EventType: bus.EventHumanTaskReady,
		Data: map[string]any{
			"task_id":   task.ID,
			"title":     task.Title,
			"task_type": string(task.TaskType),
		},
		Timestamp: time.Now().UTC(),
	})
	return nil
}
