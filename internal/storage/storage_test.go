package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/casewatch/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testObservation(item, price string, at time.Time) models.Observation {
	return models.Observation{Item: item, Price: dec(price), ObservedAt: at}
}

func TestStorage_RecordObservation_FirstHasNoPrevious(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	prev, err := s.RecordObservation(ctx, testObservation("Recoil Case", "0.42", time.Now()))
	if err != nil {
		t.Fatalf("RecordObservation: %v", err)
	}
	if prev != nil {
		t.Errorf("expected nil previous price, got %s", prev)
	}
	if change := PercentChange(prev, dec("0.42")); change != nil {
		t.Errorf("expected nil percent change, got %s", change)
	}
}

func TestStorage_RecordObservation_ReturnsPrevious(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := s.RecordObservation(ctx, testObservation("Recoil Case", "10", now.Add(-time.Hour))); err != nil {
		t.Fatalf("RecordObservation: %v", err)
	}
	prev, err := s.RecordObservation(ctx, testObservation("Recoil Case", "12.5", now))
	if err != nil {
		t.Fatalf("RecordObservation: %v", err)
	}
	if prev == nil || !prev.Equal(dec("10")) {
		t.Fatalf("previous = %v, want 10", prev)
	}

	p1, p2 := dec("10"), dec("12.5")
	want := p2.Sub(p1).Div(p1).Mul(decimal.NewFromInt(100))
	got := PercentChange(prev, p2)
	if got == nil || !got.Equal(want) {
		t.Fatalf("percent change = %v, want %s", got, want)
	}
	if !got.Equal(dec("25")) {
		t.Errorf("percent change = %s, want 25", got)
	}
}

func TestStorage_RecordObservation_UpsertsCurrentAndAppendsHistory(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		obs := testObservation("Fracture Case", fmt.Sprintf("0.%d0", i+1), base.Add(time.Duration(i)*time.Minute))
		if _, err := s.RecordObservation(ctx, obs); err != nil {
			t.Fatalf("RecordObservation %d: %v", i, err)
		}
	}

	current, err := s.CurrentSnapshot(ctx)
	if err != nil {
		t.Fatalf("CurrentSnapshot: %v", err)
	}
	if len(current) != 1 {
		t.Fatalf("got %d current rows, want 1", len(current))
	}
	if got := current["Fracture Case"]; !got.Price.Equal(dec("0.30")) || !got.Timestamp.Equal(base.Add(2*time.Minute)) {
		t.Errorf("current = %+v", got)
	}

	history, err := s.HistorySnapshot(ctx)
	if err != nil {
		t.Fatalf("HistorySnapshot: %v", err)
	}
	if len(history["Fracture Case"]) != 3 {
		t.Errorf("got %d history rows, want 3", len(history["Fracture Case"]))
	}
}

func TestStorage_RecordObservation_RollsBackOnFailure(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := s.RecordObservation(ctx, testObservation("Clutch Case", "0.50", now.Add(-time.Minute))); err != nil {
		t.Fatalf("RecordObservation: %v", err)
	}

	// History append is the last step of the transaction; make it fail.
	if _, err := s.db.Exec(`DROP TABLE price_history`); err != nil {
		t.Fatalf("drop: %v", err)
	}

	if _, err := s.RecordObservation(ctx, testObservation("Clutch Case", "0.75", now)); err == nil {
		t.Fatal("expected error when history append fails")
	}
	if _, err := s.RecordObservation(ctx, testObservation("Gamma Case", "1.00", now)); err == nil {
		t.Fatal("expected error when history append fails")
	}

	current, err := s.CurrentSnapshot(ctx)
	if err != nil {
		t.Fatalf("CurrentSnapshot: %v", err)
	}
	if len(current) != 1 {
		t.Errorf("got %d current rows, want 1", len(current))
	}
	if got := current["Clutch Case"]; !got.Price.Equal(dec("0.50")) {
		t.Errorf("current price changed to %s despite rollback", got.Price)
	}
	if _, ok := current["Gamma Case"]; ok {
		t.Error("new item should not have a current row after rollback")
	}
}

func TestStorage_RecordObservation_Invalid(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.RecordObservation(context.Background(), testObservation("", "1", time.Now())); err == nil {
		t.Error("expected error for empty item")
	}
	if _, err := s.RecordObservation(context.Background(), testObservation("Recoil Case", "-1", time.Now())); err == nil {
		t.Error("expected error for negative price")
	}
}

func TestStorage_HistorySnapshot_GroupsByItem(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	for _, obs := range []models.Observation{
		testObservation("A", "1", now.Add(-3*time.Minute)),
		testObservation("B", "2", now.Add(-2*time.Minute)),
		testObservation("A", "3", now.Add(-time.Minute)),
	} {
		if _, err := s.RecordObservation(ctx, obs); err != nil {
			t.Fatalf("RecordObservation: %v", err)
		}
	}

	history, err := s.HistorySnapshot(ctx)
	if err != nil {
		t.Fatalf("HistorySnapshot: %v", err)
	}
	if len(history) != 2 || len(history["A"]) != 2 || len(history["B"]) != 1 {
		t.Errorf("unexpected grouping: %v", history)
	}
}

func TestStorage_SnapshotsEmpty(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	current, err := s.CurrentSnapshot(ctx)
	if err != nil || len(current) != 0 {
		t.Errorf("CurrentSnapshot = %v, %v", current, err)
	}
	history, err := s.HistorySnapshot(ctx)
	if err != nil || len(history) != 0 {
		t.Errorf("HistorySnapshot = %v, %v", history, err)
	}
}

func TestStorage_NearestObservationTo(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	for _, obs := range []models.Observation{
		testObservation("Kilowatt Case", "10", now.Add(-3600*time.Second)),
		testObservation("Kilowatt Case", "12", now.Add(-1800*time.Second)),
		testObservation("Kilowatt Case", "14", now.Add(60*time.Second)),
	} {
		if _, err := s.RecordObservation(ctx, obs); err != nil {
			t.Fatalf("RecordObservation: %v", err)
		}
	}

	got, ok, err := s.NearestObservationTo(ctx, "Kilowatt Case", now.Add(-1800*time.Second), now)
	if err != nil || !ok {
		t.Fatalf("NearestObservationTo: ok=%v err=%v", ok, err)
	}
	if !got.Price.Equal(dec("12")) {
		t.Errorf("nearest price = %s, want 12", got.Price)
	}

	// The future point is closest to now+60s but must never be returned.
	got, ok, err = s.NearestObservationTo(ctx, "Kilowatt Case", now.Add(60*time.Second), now)
	if err != nil || !ok {
		t.Fatalf("NearestObservationTo: ok=%v err=%v", ok, err)
	}
	if !got.Price.Equal(dec("12")) {
		t.Errorf("nearest price = %s, want 12", got.Price)
	}

	if _, ok, err := s.NearestObservationTo(ctx, "Unknown Case", now, now); err != nil || ok {
		t.Errorf("expected no observation for unknown item, ok=%v err=%v", ok, err)
	}
}

func TestStorage_RecordAndLoadLastSweep(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	last, err := s.LastSweep(ctx)
	if err != nil {
		t.Fatalf("LastSweep: %v", err)
	}
	if last != nil {
		t.Fatalf("expected no sweep yet, got %+v", last)
	}

	now := time.Now()
	older := models.SweepSummary{StartedAt: now.Add(-2 * time.Hour), CompletedAt: now.Add(-time.Hour), Updated: 3}
	newer := models.SweepSummary{ID: "sweep-2", StartedAt: now.Add(-time.Hour), CompletedAt: now, Updated: 5, Skipped: 1, Requests: 8}
	for _, sum := range []models.SweepSummary{newer, older} {
		if err := s.RecordSweep(ctx, sum); err != nil {
			t.Fatalf("RecordSweep: %v", err)
		}
	}

	last, err = s.LastSweep(ctx)
	if err != nil {
		t.Fatalf("LastSweep: %v", err)
	}
	if last == nil || last.ID != "sweep-2" {
		t.Fatalf("LastSweep = %+v, want sweep-2", last)
	}
	if last.Updated != 5 || last.Skipped != 1 || last.Requests != 8 || !last.CompletedAt.Equal(now) {
		t.Errorf("unexpected sweep: %+v", last)
	}
}

func TestStorage_UnsupportedDriver(t *testing.T) {
	if _, err := New("mysql", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
	if _, err := New(DriverPostgres, ""); err == nil {
		t.Error("expected error for empty postgres dsn")
	}
}

func TestStorage_DefaultPath(t *testing.T) {
	s, err := New(DriverSQLite, "")
	if err != nil {
		t.Fatalf("New with empty path: %v", err)
	}
	defer s.Close()
}

func TestStorage_Rebind(t *testing.T) {
	pg := &Storage{driver: DriverPostgres}
	if got := pg.rebind(insertHistory); got != `INSERT INTO price_history (id, item, price, observed_at) VALUES ($1, $2, $3, $4)` {
		t.Errorf("rebind = %q", got)
	}
	lite := &Storage{driver: DriverSQLite}
	if got := lite.rebind(insertHistory); got != insertHistory {
		t.Errorf("sqlite query should be unchanged, got %q", got)
	}
}
