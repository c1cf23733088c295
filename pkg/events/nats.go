package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"k8s.io/klog/v2"

	"adaptive-orchestrator/engine/pkg/executor"
	"adaptive-orchestrator/engine/pkg/forecast"
	"adaptive-orchestrator/engine/pkg/resource"
)

const (
	subjectForecasts  = "orchestrator.forecast"
	subjectMigrations = "orchestrator.migrations"
	subjectTasks      = "orchestrator.tasks"
)

// NATSNotifier publishes event envelopes as JSON over NATS. Publish errors
// are logged and dropped; the control loops never stall on the message bus.
type NATSNotifier struct {
	conn *nats.Conn
}

func NewNATSNotifier(url string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name("adaptive-orchestrator"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	klog.Infof("Connected to NATS at %s", url)
	return &NATSNotifier{conn: conn}, nil
}

func (n *NATSNotifier) Close() {
	n.conn.Drain()
}

func (n *NATSNotifier) publish(subject, kind string, data interface{}) {
	payload, err := json.Marshal(Envelope{Kind: kind, At: time.Now(), Data: data})
	if err != nil {
		klog.Warningf("Failed to encode %s event: %v", kind, err)
		return
	}
	if err := n.conn.Publish(subject, payload); err != nil {
		klog.Warningf("Failed to publish %s event: %v", kind, err)
	}
}

func (n *NATSNotifier) ForecastPublished(w forecast.Window) {
	n.publish(subjectForecasts, "ForecastPublished", w)
}

func (n *NATSNotifier) MigrationOccurred(ev resource.MigrationEvent) {
	n.publish(subjectMigrations, "MigrationEvent", ev)
}

func (n *NATSNotifier) TaskCompleted(task executor.Task, result string) {
	n.publish(subjectTasks, "TaskCompleted", map[string]interface{}{
		"task": task, "result": result,
	})
}

func (n *NATSNotifier) TaskFailed(task executor.Task, reason string) {
	n.publish(subjectTasks, "TaskFailed", map[string]interface{}{
		"task": task, "reason": reason,
	})
}
