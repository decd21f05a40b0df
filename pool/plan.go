package pool

import "github.com/NeboLoop/kick-go-sdk/wire"

// plan distributes rooms over the pool. free[i] is the spare capacity of
// the i-th open connection in pool order. Existing connections are filled
// greedily first; leftover rooms are split into batches of at most limit
// rooms, one batch per new connection.
func plan(free []int, rooms []wire.RoomID, limit int) (fills [][]wire.RoomID, batches [][]wire.RoomID) {
	fills = make([][]wire.RoomID, len(free))
	next := 0
	for i, capacity := range free {
		if next == len(rooms) {
			break
		}
		if capacity <= 0 {
			continue
		}
		end := min(next+capacity, len(rooms))
		fills[i] = rooms[next:end]
		next = end
	}
	for next < len(rooms) {
		end := min(next+limit, len(rooms))
		batches = append(batches, rooms[next:end])
		next = end
	}
	return fills, batches
}

// uniqueRooms drops duplicates while keeping first-seen order.
func uniqueRooms(rooms []wire.RoomID) []wire.RoomID {
	seen := make(map[wire.RoomID]struct{}, len(rooms))
	out := make([]wire.RoomID, 0, len(rooms))
	for _, r := range rooms {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
