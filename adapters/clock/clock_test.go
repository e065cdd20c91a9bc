package clock_test

import (
	"testing"
	"time"

	"github.com/amber7117/server-api/adapters/clock"
)

func TestReal_Now(t *testing.T) {
	before := time.Now()
	got := clock.Real{}.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", got, before, after)
	}
}

func TestFake(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	c := clock.NewFake(start)

	if !c.Now().Equal(start) || !c.Now().Equal(start) {
		t.Error("fake clock should not move on its own")
	}

	c.Advance(time.Hour)
	if want := start.Add(time.Hour); !c.Now().Equal(want) {
		t.Errorf("after Advance, Now() = %v, want %v", c.Now(), want)
	}

	other := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	c.Set(other)
	if !c.Now().Equal(other) {
		t.Errorf("after Set, Now() = %v, want %v", c.Now(), other)
	}
}

func TestTicking(t *testing.T) {
	start := time.Unix(1000, 0)
	c := clock.NewTicking(start, time.Millisecond)

	first := c.Now().UnixMilli()
	second := c.Now().UnixMilli()
	if first != 1000000 {
		t.Errorf("first stamp = %d, want 1000000", first)
	}
	if second != first+1 {
		t.Errorf("second stamp = %d, want %d", second, first+1)
	}
}
