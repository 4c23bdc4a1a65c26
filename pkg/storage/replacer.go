package storage

import "sync"

// lruKReplacer implements the LRU-K eviction policy from spec.md §4.4:
// per-frame bounded history of up to k timestamps, evictability tracked
// alongside, victim chosen by largest backward k-distance with a
// classic-LRU tie-break among frames with fewer than k accesses.
type lruKReplacer struct {
	mu sync.Mutex

	k          int
	ts         uint64 // monotonically increasing access counter
	history    map[FrameID][]uint64
	evictable  map[FrameID]bool
	evictableN int
}

func newLRUKReplacer(k int) *lruKReplacer {
	return &lruKReplacer{
		k:         k,
		history:   make(map[FrameID][]uint64),
		evictable: make(map[FrameID]bool),
	}
}

// recordAccess fetches-and-increments the global timestamp and appends it to
// the frame's history, truncating to k.
func (r *lruKReplacer) recordAccess(id FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ts++
	h := append(r.history[id], r.ts)
	if len(h) > r.k {
		h = h[len(h)-r.k:]
	}
	r.history[id] = h
	if _, ok := r.evictable[id]; !ok {
		r.evictable[id] = false
	}
}

// setEvictable updates the flag and the running count of evictable frames.
func (r *lruKReplacer) setEvictable(id FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	was, tracked := r.evictable[id]
	if !tracked {
		r.evictable[id] = evictable
		if evictable {
			r.evictableN++
		}
		return
	}
	if was == evictable {
		return
	}
	r.evictable[id] = evictable
	if evictable {
		r.evictableN++
	} else {
		r.evictableN--
	}
}

// remove drops the frame's history entirely, decrementing the evictable
// count if it was evictable.
func (r *lruKReplacer) remove(id FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evictable[id] {
		r.evictableN--
	}
	delete(r.history, id)
	delete(r.evictable, id)
}

// evict selects the evictable frame with the largest backward k-distance,
// tie-breaking on the smallest earliest-access timestamp among cold frames
// (fewer than k accesses, backward distance +inf).
func (r *lruKReplacer) evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evictableN == 0 {
		return 0, false
	}

	var (
		victim    FrameID
		found     bool
		bestDist  uint64
		bestIsInf bool
		bestEarly uint64
	)

	for id, ok := range r.evictable {
		if !ok {
			continue
		}
		h := r.history[id]
		isInf := len(h) < r.k
		var dist, earliest uint64
		if isInf {
			earliest = h[0]
		} else {
			dist = r.ts - h[0]
		}

		switch {
		case !found:
			found = true
			victim, bestIsInf, bestDist, bestEarly = id, isInf, dist, earliest
		case isInf && bestIsInf:
			if earliest < bestEarly {
				victim, bestEarly = id, earliest
			}
		case isInf && !bestIsInf:
			victim, bestIsInf, bestEarly = id, true, earliest
		case !isInf && bestIsInf:
			// current best is a cold (+inf) frame; +inf always beats a
			// finite distance, so nothing changes.
		default:
			if dist > bestDist {
				victim, bestDist = id, dist
			}
		}
	}

	if !found {
		return 0, false
	}
	r.evictable[victim] = false
	r.evictableN--
	delete(r.history, victim)
	delete(r.evictable, victim)
	return victim, true
}

func (r *lruKReplacer) evictableCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableN
}
