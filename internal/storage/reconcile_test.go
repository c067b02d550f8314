package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/casewatch/internal/models"
)

func TestPercentChange(t *testing.T) {
	zero := decimal.Zero
	ten := dec("10")
	three := dec("3")
	tests := []struct {
		name     string
		previous *decimal.Decimal
		current  string
		want     string // empty means nil
	}{
		{"no previous", nil, "5", ""},
		{"zero previous", &zero, "5", ""},
		{"increase", &ten, "12", "20"},
		{"decrease", &ten, "7.5", "-25"},
		{"unchanged", &ten, "10", "0"},
		{"drop to zero", &ten, "0", "-100"},
		{"repeating fraction keeps full precision", &three, "4", "33.3333333333333333"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PercentChange(tt.previous, dec(tt.current))
			if tt.want == "" {
				if got != nil {
					t.Errorf("PercentChange = %s, want nil", got)
				}
				return
			}
			if got == nil || !got.Equal(dec(tt.want)) {
				t.Errorf("PercentChange = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestNearest(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(offset time.Duration, price string) models.PricePoint {
		return models.PricePoint{Price: dec(price), Timestamp: now.Add(offset)}
	}

	tests := []struct {
		name    string
		history []models.PricePoint
		target  time.Time
		want    string // empty means not found
	}{
		{
			name:    "exact match beats excluded future point",
			history: []models.PricePoint{at(-3600*time.Second, "10"), at(-1800*time.Second, "12"), at(60*time.Second, "14")},
			target:  now.Add(-1800 * time.Second),
			want:    "12",
		},
		{
			name:    "tie keeps first entry",
			history: []models.PricePoint{at(-2*time.Hour, "1"), at(0, "2")},
			target:  now.Add(-time.Hour),
			want:    "1",
		},
		{
			name:    "tie keeps first entry regardless of time order",
			history: []models.PricePoint{at(0, "2"), at(-2*time.Hour, "1")},
			target:  now.Add(-time.Hour),
			want:    "2",
		},
		{
			name:    "only future points",
			history: []models.PricePoint{at(time.Minute, "3")},
			target:  now,
		},
		{
			name:   "empty history",
			target: now,
		},
		{
			name:    "target far in the past picks oldest",
			history: []models.PricePoint{at(-time.Hour, "5"), at(-time.Minute, "6")},
			target:  now.Add(-24 * time.Hour),
			want:    "5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Nearest(tt.history, tt.target, now)
			if tt.want == "" {
				if ok {
					t.Errorf("expected no match, got %+v", got)
				}
				return
			}
			if !ok || !got.Price.Equal(dec(tt.want)) {
				t.Errorf("Nearest = %+v (ok=%v), want price %s", got, ok, tt.want)
			}
		})
	}
}
