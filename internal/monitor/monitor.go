package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"straddle-core/internal/events"
)

// Monitor watches exit and order events and emits alerts.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
}

var watched = []events.Event{
	events.EventExitTriggered,
	events.EventExitCompleted,
	events.EventOrderRejected,
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	for _, e := range watched {
		stream, unsub := m.Bus.Subscribe(e, 50)
		go func(e events.Event) {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					if text, alert := alertFor(e, msg); alert {
						if err := m.Sink.Send(formatAlert(text)); err != nil {
							log.Printf("monitor: alert delivery failed: %v", err)
						}
					}
				}
			}
		}(e)
	}
}

// alertFor decides whether an event deserves an alert.
// Exits that completed cleanly are not alerted.
func alertFor(e events.Event, msg any) (string, bool) {
	switch e {
	case events.EventExitTriggered:
		if n, ok := msg.(events.ExitNotice); ok {
			return fmt.Sprintf("exit triggered for %s (%s): %s", n.StrategyName, n.ConfigID, n.Reason), true
		}
	case events.EventExitCompleted:
		if n, ok := msg.(events.ExitNotice); ok && n.Outcome != "" && n.Outcome != "FLAT" {
			return fmt.Sprintf("exit for %s (%s) ended %s after %d iterations; manual attention needed",
				n.StrategyName, n.ConfigID, n.Outcome, n.Iterations), true
		}
		return "", false
	case events.EventOrderRejected:
		return toString(msg), true
	}
	return toString(msg), true
}

func formatAlert(msg string) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + msg
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%+v", v)
	}
}
