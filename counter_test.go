package kick

import (
	"context"
	"testing"
	"time"

	"github.com/NeboLoop/kick-go-sdk/wire"
)

func TestRollingEventCounter(t *testing.T) {
	c := NewRollingEventCounter(0)
	if c.Window() != DefaultThroughputWindow {
		t.Fatalf("window = %v", c.Window())
	}
	for range 25 {
		c.Observe(668)
	}
	c.Observe(1)
	if c.Count(668) != 25 {
		t.Errorf("Count = %d", c.Count(668))
	}
	counts := c.Reset()
	if counts[668] != 25 || counts[1] != 1 {
		t.Errorf("Reset = %v", counts)
	}
	if c.Count(668) != 0 {
		t.Error("counts survived Reset")
	}
	if r := c.Rate(25); r != 2.5 {
		t.Errorf("Rate = %v, want 2.5", r)
	}
}

func TestRollingEventCounterRun(t *testing.T) {
	c := NewRollingEventCounter(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Observe(5)
	reports := make(chan map[wire.RoomID]int, 4)
	done := make(chan struct{})
	go func() {
		c.Run(ctx, func(m map[wire.RoomID]int) { reports <- m })
		close(done)
	}()

	select {
	case m := <-reports:
		if m[5] != 1 {
			t.Errorf("first window = %v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
