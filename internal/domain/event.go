package domain

import "time"

// LifecycleChannel is the bus channel carrying market lifecycle events.
const LifecycleChannel = "market_lifecycle"

// LifecycleStream is the durable stream mirror of LifecycleChannel.
const LifecycleStream = "stream:market_lifecycle"

// EventType names a market lifecycle transition.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventMarketUpdated   EventType = "market_updated"
	EventMarketResolved  EventType = "market_resolved"
	EventPayoutCompleted EventType = "payout_completed"
)

// LifecycleEvent is published on every market transition.
type LifecycleEvent struct {
	Type       EventType      `json:"type"`
	MarketID   string         `json:"market_id"`
	MarketType MarketType     `json:"market_type,omitempty"`
	Outcome    Outcome        `json:"outcome,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	At         time.Time      `json:"at"`
}
