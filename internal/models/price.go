// Package models defines the core domain values: observations, price points, sweep summaries and live events.
package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is a price at a moment in time, the shape served to readers.
type PricePoint struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Observation is one successful price lookup for an item. Immutable once created.
type Observation struct {
	Item       string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// Validate checks observation field constraints.
func (o Observation) Validate() error {
	if o.Item == "" {
		return errors.New("item must not be empty")
	}
	if o.Price.IsNegative() {
		return errors.New("price must not be negative")
	}
	if o.ObservedAt.IsZero() {
		return errors.New("observed at must be set")
	}
	return nil
}

// SweepSummary is the outcome of one full pass over the catalog.
type SweepSummary struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Updated     int
	Skipped     int
	Requests    int
}
