package updatecheck

import (
	"testing"
	"time"
)

func TestOrdinals(t *testing.T) {
	if Parse("always").Ordinal() != 0 {
		t.Fatal("always should ordinal to 0")
	}
	if Parse("daily").Ordinal() != 1440 {
		t.Fatal("daily should ordinal to 1440")
	}
	if Parse("interval:30").Ordinal() != 30 {
		t.Fatal("interval:30 should ordinal to 30")
	}
	if !isInf(Parse("never").Ordinal()) {
		t.Fatal("never should ordinal to +Inf")
	}
	if !isInf(Parse("bogus").Ordinal()) {
		t.Fatal("unknown policy should behave like never")
	}
}

func isInf(f float64) bool { return f > 1e300 }

func TestEffectivePicksMoreFrequent(t *testing.T) {
	got := Effective(Parse("daily"), Parse("interval:10"))
	if got.String() != "interval:10" {
		t.Fatalf("expected interval:10 (ordinal 10) to beat daily (1440), got %v", got)
	}
}

func TestIsUpdateRequired(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	if !Parse("always").IsUpdateRequired(now, now) {
		t.Fatal("always should always require update")
	}
	if Parse("never").IsUpdateRequired(now.Add(-24*time.Hour), now) {
		t.Fatal("never should never require update")
	}

	yesterday := now.Add(-12 * time.Hour)
	if !Parse("daily").IsUpdateRequired(yesterday, now) {
		t.Fatal("daily should require update when last checked before today's midnight")
	}
	today := time.Date(2026, 1, 15, 1, 0, 0, 0, time.UTC)
	if Parse("daily").IsUpdateRequired(today, now) {
		t.Fatal("daily should not require update when already checked today")
	}

	recent := now.Add(-5 * time.Minute)
	if Parse("interval:10").IsUpdateRequired(recent, now) {
		t.Fatal("interval:10 should not require update within the window")
	}
	stale := now.Add(-15 * time.Minute)
	if !Parse("interval:10").IsUpdateRequired(stale, now) {
		t.Fatal("interval:10 should require update past the window")
	}
}
