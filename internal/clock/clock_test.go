package clock

import (
	"testing"
	"time"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewFake(start)

	var order []string
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	stopped := c.AfterFunc(150*time.Millisecond, func() { order = append(order, "x") })
	if !stopped.Stop() {
		t.Fatal("expected Stop to report a pending timer")
	}

	c.Advance(150 * time.Millisecond)
	if len(order) != 1 || order[0] != "a" {
		t.Fatalf("after 150ms got %v", order)
	}

	c.Advance(50 * time.Millisecond)
	if len(order) != 2 || order[1] != "b" {
		t.Fatalf("after 200ms got %v", order)
	}
	if got := c.Now().Sub(start); got != 200*time.Millisecond {
		t.Fatalf("expected clock at 200ms, got %v", got)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", c.Pending())
	}
}

func TestFakeChainedTimers(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := 0
	c.AfterFunc(10*time.Millisecond, func() {
		fired++
		c.AfterFunc(10*time.Millisecond, func() { fired++ })
	})

	c.Advance(25 * time.Millisecond)
	if fired != 2 {
		t.Fatalf("expected both timers to fire, got %d", fired)
	}
}
