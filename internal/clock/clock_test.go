package clock

import (
	"testing"
	"time"
)

func TestSystemClockIsUTC(t *testing.T) {
	if loc := (System{}).Now().Location(); loc != time.UTC {
		t.Fatalf("system clock location = %v, want UTC", loc)
	}
}

func TestFixedClockNormalizesAndAdvances(t *testing.T) {
	zone := time.FixedZone("UTC+8", 8*3600)
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, zone)
	c := NewFixed(start)

	if got := c.Now(); got.Location() != time.UTC || !got.Equal(start) {
		t.Fatalf("fixed clock = %v, want %v in UTC", got, start)
	}
	c.Advance(time.Hour)
	if got := c.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Fatalf("advanced clock = %v", got)
	}
}

func TestOrSystem(t *testing.T) {
	if _, ok := OrSystem(nil).(System); !ok {
		t.Fatalf("nil clock should fall back to system clock")
	}
	f := NewFixed(time.Unix(0, 0))
	if OrSystem(f) != Clock(f) {
		t.Fatalf("non-nil clock should be kept")
	}
}
