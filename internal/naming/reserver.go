package naming

import (
	"context"
	"sync"
)

// MemoryReserver is an in-process Reserver. Reservations are serialized by a
// single mutex held only for the compare-and-record step.
type MemoryReserver struct {
	mu   sync.Mutex
	last map[string]int
}

func NewMemoryReserver() *MemoryReserver {
	return &MemoryReserver{last: make(map[string]int)}
}

func (r *MemoryReserver) Reserve(_ context.Context, scope string, observed int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := observed
	if last, ok := r.last[scope]; ok && last+1 > n {
		n = last + 1
	}
	r.last[scope] = n
	return n, nil
}
