// Package events fans orchestration events out to external collaborators.
// The engine itself only ever calls the Notifier interface; what sits
// behind it (logs, NATS, both) is wiring.
package events

import (
	"time"

	"adaptive-orchestrator/engine/pkg/executor"
	"adaptive-orchestrator/engine/pkg/forecast"
	"adaptive-orchestrator/engine/pkg/resource"
)

// Notifier receives every outbound event. Implementations must not block
// the calling loop for long; slow transports should buffer internally.
type Notifier interface {
	ForecastPublished(w forecast.Window)
	MigrationOccurred(ev resource.MigrationEvent)
	TaskCompleted(task executor.Task, result string)
	TaskFailed(task executor.Task, reason string)
}

// Envelope is the JSON shape published to external transports.
type Envelope struct {
	Kind string      `json:"kind"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data"`
}

// Fanout forwards each event to every child notifier.
type Fanout []Notifier

func (f Fanout) ForecastPublished(w forecast.Window) {
	for _, n := range f {
		n.ForecastPublished(w)
	}
}

func (f Fanout) MigrationOccurred(ev resource.MigrationEvent) {
	for _, n := range f {
		n.MigrationOccurred(ev)
	}
}

func (f Fanout) TaskCompleted(task executor.Task, result string) {
	for _, n := range f {
		n.TaskCompleted(task, result)
	}
}

func (f Fanout) TaskFailed(task executor.Task, reason string) {
	for _, n := range f {
		n.TaskFailed(task, reason)
	}
}
