package kick

import (
	"context"
	"sync"
	"time"

	"github.com/NeboLoop/kick-go-sdk/wire"
)

// DefaultThroughputWindow is the length of one throughput window.
const DefaultThroughputWindow = 10 * time.Second

// RollingEventCounter counts chat messages per room within a fixed window.
// It is for display only; an increment racing a reset may land in either
// window.
type RollingEventCounter struct {
	window time.Duration

	mu     sync.Mutex
	counts map[wire.RoomID]int
}

// NewRollingEventCounter creates a counter (DefaultThroughputWindow if
// window <= 0).
func NewRollingEventCounter(window time.Duration) *RollingEventCounter {
	if window <= 0 {
		window = DefaultThroughputWindow
	}
	return &RollingEventCounter{window: window, counts: make(map[wire.RoomID]int)}
}

// Window returns the window length.
func (r *RollingEventCounter) Window() time.Duration { return r.window }

// Observe counts one message for room.
func (r *RollingEventCounter) Observe(room wire.RoomID) {
	r.mu.Lock()
	r.counts[room]++
	r.mu.Unlock()
}

// Count returns the messages seen for room in the current window.
func (r *RollingEventCounter) Count(room wire.RoomID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[room]
}

// Reset ends the window and returns its counts.
func (r *RollingEventCounter) Reset() map[wire.RoomID]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.counts
	r.counts = make(map[wire.RoomID]int, len(out))
	return out
}

// Rate converts a window count to messages per second.
func (r *RollingEventCounter) Rate(n int) float64 {
	return float64(n) / r.window.Seconds()
}

// Run resets the counter once per window and passes each window's counts
// to report, until ctx is done.
func (r *RollingEventCounter) Run(ctx context.Context, report func(map[wire.RoomID]int)) {
	t := time.NewTicker(r.window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			report(r.Reset())
		}
	}
}
