package services

import (
	"encoding/json"
	"time"
)

// EventObserver forwards tool and planner lifecycle notifications onto the
// event bus so SSE clients can watch a turn unfold live. It satisfies both
// observer ports.
type EventObserver struct {
	bus *EventBus
}

// NewEventObserver creates a bus-backed observer.
func NewEventObserver(bus *EventBus) *EventObserver {
	return &EventObserver{bus: bus}
}

func (o *EventObserver) OnToolStart(name string, args string) {
	o.publish("tool_start", map[string]string{"tool": name, "args": args})
}

func (o *EventObserver) OnToolEnd(name string, output string) {
	o.publish("tool_end", map[string]string{"tool": name, "output": truncate(output, 500)})
}

func (o *EventObserver) OnToolError(name string, errMsg string) {
	o.publish("tool_error", map[string]string{"tool": name, "error": errMsg})
}

func (o *EventObserver) OnDecision(decision string, reasoning string, iteration int) {
	o.publish("planner_decision", map[string]any{
		"decision":  decision,
		"reasoning": reasoning,
		"iteration": iteration,
	})
}

func (o *EventObserver) publish(eventType string, data any) {
	payload, _ := json.Marshal(data)
	o.bus.Publish(Event{
		Topic:     BroadcastChannel,
		Type:      EventType(eventType),
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}
