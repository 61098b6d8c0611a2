package events

import "time"

// Event enumerates high-level topics inside the straddle core.
type Event string

const (
	EventPriceTick      Event = "price_tick"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderRejected  Event = "order.rejected"
	EventExitTriggered  Event = "exit.triggered"
	EventExitCompleted  Event = "exit.completed"
	EventConfigUpdated  Event = "config.updated"
	EventPositionSync   Event = "position.sync"
)

// AllEvents lists every topic streamed to websocket clients.
var AllEvents = []Event{
	EventPriceTick,
	EventOrderSubmitted,
	EventOrderRejected,
	EventExitTriggered,
	EventExitCompleted,
	EventConfigUpdated,
	EventPositionSync,
}

// ExitNotice is published when an exit starts and again when it ends.
type ExitNotice struct {
	ConfigID     string    `json:"configId"`
	StrategyName string    `json:"strategyName"`
	Reason       string    `json:"reason"`
	Status       string    `json:"status"`
	Iterations   int       `json:"iterations,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	At           time.Time `json:"at"`
}

// SyncNotice summarizes one Position Source refresh.
type SyncNotice struct {
	Orders    int       `json:"orders"`
	Trades    int       `json:"trades"`
	Positions int       `json:"positions"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
