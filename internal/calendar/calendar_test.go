package calendar

import (
	"testing"
	"time"
)

func TestAlignIdempotent(t *testing.T) {
	ts := time.Date(2025, 5, 28, 4, 0, 31, 500_000_000, time.UTC)
	for _, iv := range All {
		a := Align(ts, iv)
		if b := Align(a, iv); !b.Equal(a) {
			t.Errorf("interval %s: align not idempotent: align(%v)=%v, align(%v)=%v", iv, ts, a, a, b)
		}
	}
}

func TestAlignScenario1(t *testing.T) {
	ts := time.Date(2025, 5, 28, 4, 0, 31, 500_000_000, time.UTC)
	got := Align(ts, Interval1m)
	want := time.Date(2025, 5, 28, 4, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Align(%v, 1m) = %v, want %v", ts, got, want)
	}
}

func TestAlignHourBoundaryUTC(t *testing.T) {
	ts := time.Date(2025, 5, 28, 13, 0, 0, 0, time.UTC)
	got := Align(ts, Interval1h)
	if got.Minute() != 0 || got.Second() != 0 {
		t.Fatalf("1h alignment must land on xx:00:00 UTC, got %v", got)
	}
}

func TestAlignBoundaryBelongsToNewWindow(t *testing.T) {
	start := time.Date(2025, 5, 28, 4, 1, 0, 0, time.UTC)
	got := Align(start, Interval1m)
	if !got.Equal(start) {
		t.Fatalf("trade exactly at boundary must belong to the new window: got %v, want %v", got, start)
	}
}

func TestNext(t *testing.T) {
	ts := time.Date(2025, 5, 28, 4, 0, 31, 0, time.UTC)
	n := Next(ts, Interval1m)
	want := time.Date(2025, 5, 28, 4, 1, 0, 0, time.UTC)
	if !n.Equal(want) {
		t.Fatalf("Next(%v, 1m) = %v, want %v", ts, n, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, iv := range All {
		got, err := Parse(iv.String())
		if err != nil {
			t.Fatalf("Parse(%s) returned error: %v", iv, err)
		}
		if got != iv {
			t.Fatalf("Parse(%s) = %s, want %s", iv, got, iv)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("2m"); err == nil {
		t.Fatal("Parse(\"2m\") should fail, 2m is not one of the five accepted intervals")
	}
	var invalidErr *ErrInvalidInterval
	_, err := Parse("banana")
	if err == nil {
		t.Fatal("expected error for invalid interval name")
	}
	if !errorsAs(err, &invalidErr) {
		t.Fatalf("expected *ErrInvalidInterval, got %T", err)
	}
}

func errorsAs(err error, target **ErrInvalidInterval) bool {
	e, ok := err.(*ErrInvalidInterval)
	if ok {
		*target = e
	}
	return ok
}

func TestSameAlignedWindowForConcurrentArrivalOrder(t *testing.T) {
	t1 := time.Date(2025, 5, 28, 4, 0, 5, 0, time.UTC)
	t2 := time.Date(2025, 5, 28, 4, 0, 40, 0, time.UTC)
	if !Align(t1, Interval1m).Equal(Align(t2, Interval1m)) {
		t.Fatal("both timestamps fall in the same 1m window and must align identically")
	}
}
