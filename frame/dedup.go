package frame

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	dedupWindowSize = 1000
	dedupWindowTTL  = 5 * time.Minute
)

// dedupEntry tracks a seen message ID.
type dedupEntry struct {
	id   uuid.UUID
	seen time.Time
}

// DedupWindow is a sliding window of recently delivered chat message IDs.
// It remembers up to dedupWindowSize IDs or dedupWindowTTL, whichever is
// reached first. A room re-subscribed after a dropped connection may replay
// messages the client already saw; the window filters those out.
type DedupWindow struct {
	mu      sync.Mutex
	entries []dedupEntry
	now     func() time.Time
}

// NewDedupWindow creates a new dedup window.
func NewDedupWindow() *DedupWindow {
	return &DedupWindow{
		entries: make([]dedupEntry, 0, dedupWindowSize),
		now:     time.Now,
	}
}

// MessageKey maps a chat message id to a fixed-size key. Gateway ids are
// UUIDs; anything else is hashed into the UUID space.
func MessageKey(id string) uuid.UUID {
	if u, err := uuid.Parse(id); err == nil {
		return u
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("kick:message:"+id))
}

// IsDuplicate returns true if the message id has already been seen.
// If not a duplicate, it records the ID.
func (d *DedupWindow) IsDuplicate(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	// Evict expired entries
	cutoff := now.Add(-dedupWindowTTL)
	start := 0
	for start < len(d.entries) && d.entries[start].seen.Before(cutoff) {
		start++
	}
	if start > 0 {
		d.entries = d.entries[start:]
	}

	for _, e := range d.entries {
		if e.id == id {
			return true
		}
	}

	// Evict oldest if at capacity
	if len(d.entries) >= dedupWindowSize {
		d.entries = d.entries[1:]
	}

	d.entries = append(d.entries, dedupEntry{id: id, seen: now})
	return false
}

// Seen is IsDuplicate keyed by the event's chat message id. Events without
// a chat message id are never duplicates.
func (d *DedupWindow) Seen(ev Event) bool {
	m, ok := ev.ChatMessage()
	if !ok || m.ID == "" {
		return false
	}
	return d.IsDuplicate(MessageKey(m.ID))
}

// Len returns the current number of tracked IDs.
func (d *DedupWindow) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
