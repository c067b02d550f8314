package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventItemUpdated   EventType = "item-updated"
	EventSweepComplete EventType = "sweep-complete"
)

// Event is a live update pushed to subscribers.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// item-updated
	Item          string
	Price         decimal.Decimal
	PercentChange *decimal.Decimal

	// sweep-complete
	Updated int
	Skipped int
}

// ItemUpdated builds the per-item event. change is nil when there was no usable previous price.
func ItemUpdated(obs Observation, change *decimal.Decimal) Event {
	return Event{
		Type:          EventItemUpdated,
		Timestamp:     obs.ObservedAt,
		Item:          obs.Item,
		Price:         obs.Price,
		PercentChange: change,
	}
}

// SweepComplete builds the end-of-sweep event.
func SweepComplete(s SweepSummary) Event {
	return Event{
		Type:      EventSweepComplete,
		Timestamp: s.CompletedAt,
		Updated:   s.Updated,
		Skipped:   s.Skipped,
	}
}

type itemUpdatedJSON struct {
	Type          EventType        `json:"type"`
	Item          string           `json:"item"`
	Price         decimal.Decimal  `json:"price"`
	Timestamp     time.Time        `json:"timestamp"`
	PercentChange *decimal.Decimal `json:"percentChange"`
}

type sweepCompleteJSON struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
}

// MarshalJSON emits only the fields relevant to the event kind.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventSweepComplete {
		return json.Marshal(sweepCompleteJSON{
			Type:      e.Type,
			Timestamp: e.Timestamp,
			Updated:   e.Updated,
			Skipped:   e.Skipped,
		})
	}
	return json.Marshal(itemUpdatedJSON{
		Type:          e.Type,
		Item:          e.Item,
		Price:         e.Price,
		Timestamp:     e.Timestamp,
		PercentChange: e.PercentChange,
	})
}
