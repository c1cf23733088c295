package events

import (
	"k8s.io/klog/v2"

	"adaptive-orchestrator/engine/pkg/executor"
	"adaptive-orchestrator/engine/pkg/forecast"
	"adaptive-orchestrator/engine/pkg/resource"
)

// LogNotifier writes events to the structured log. It is the default sink.
type LogNotifier struct{}

func (LogNotifier) ForecastPublished(w forecast.Window) {
	klog.Infof("event ForecastPublished: action=%s confidence=%.2f model=%s", w.Action, w.Confidence, w.Model)
}

func (LogNotifier) MigrationOccurred(ev resource.MigrationEvent) {
	klog.Infof("event MigrationEvent: node=%s replacement=%s reason=%s", ev.NodeID, ev.ReplacementID, ev.Reason)
}

func (LogNotifier) TaskCompleted(task executor.Task, result string) {
	klog.Infof("event TaskCompleted: task=%s kind=%s", task.ID, task.Kind)
}

func (LogNotifier) TaskFailed(task executor.Task, reason string) {
	klog.Infof("event TaskFailed: task=%s reason=%s", task.ID, reason)
}
