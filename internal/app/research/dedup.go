package research

import "sync"

// DedupStore records which (tenant, unit of work, stage) triples have already
// been handled, so an at-least-once redelivery becomes an acknowledged no-op
// instead of a second index write. Entries live for the process lifetime; a
// restart falls back to plain at-least-once, which the index write tolerates
// because saving the same job again is harmless.
type DedupStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDedupStore() *DedupStore {
	return &DedupStore{seen: make(map[string]struct{})}
}

// MarkIfNew atomically records the triple and reports whether it was new.
func (d *DedupStore) MarkIfNew(tenantID, unitOfWorkID, stage string) bool {
	key := tenantID + ":" + unitOfWorkID + ":" + stage
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Release forgets the triple so a failed handling attempt can be retried.
func (d *DedupStore) Release(tenantID, unitOfWorkID, stage string) {
	key := tenantID + ":" + unitOfWorkID + ":" + stage
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}
