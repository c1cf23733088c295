package events

import (
	"testing"
	"time"

	"adaptive-orchestrator/engine/pkg/executor"
	"adaptive-orchestrator/engine/pkg/forecast"
	"adaptive-orchestrator/engine/pkg/resource"
)

type countingNotifier struct {
	forecasts  int
	migrations int
	completed  int
	failed     int
}

func (c *countingNotifier) ForecastPublished(forecast.Window) { c.forecasts++ }
func (c *countingNotifier) MigrationOccurred(resource.MigrationEvent) { c.migrations++ }
func (c *countingNotifier) TaskCompleted(executor.Task, string) { c.completed++ }
func (c *countingNotifier) TaskFailed(executor.Task, string) { c.failed++ }

func TestFanout_ForwardsToEveryChild(t *testing.T) {
	a := &countingNotifier{}
	b := &countingNotifier{}
	fan := Fanout{a, b}

	fan.ForecastPublished(forecast.Window{Action: forecast.ActionWait, PublishedAt: time.Now()})
	fan.MigrationOccurred(resource.MigrationEvent{NodeID: "n-a", Reason: "forced"})
	fan.TaskCompleted(executor.Task{ID: "t-1"}, "ok")
	fan.TaskFailed(executor.Task{ID: "t-2"}, "DeadlineExceeded")

	for i, n := range []*countingNotifier{a, b} {
		if n.forecasts != 1 || n.migrations != 1 || n.completed != 1 || n.failed != 1 {
			t.Errorf("child %d missed events: %+v", i, n)
		}
	}
}

func TestFanout_EmptyIsANoop(t *testing.T) {
	var fan Fanout
	fan.ForecastPublished(forecast.Window{})
	fan.TaskCompleted(executor.Task{}, "")
}
