package bluetooth

import (
	"sort"
	"sync"
	"time"
)

// PassStore collects the advertisements of one discovery pass. Stack
// callbacks may arrive on any goroutine, so it is guarded by a mutex.
type PassStore struct {
	mu    sync.RWMutex
	order []string
	ads   map[string]Advertisement
}

// NewPassStore creates a new empty PassStore.
func NewPassStore() *PassStore {
	return &PassStore{
		ads: make(map[string]Advertisement),
	}
}

// Upsert records an advertisement. A later observation of the same address
// replaces the earlier one; a declared name is kept if the newer packet
// (e.g. a scan response without the name) omits it.
func (s *PassStore) Upsert(ad Advertisement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeAddress(ad.Address)
	if ad.SeenAt.IsZero() {
		ad.SeenAt = time.Now()
	}

	if existing, ok := s.ads[key]; ok {
		if ad.Name == "" {
			ad.Name = existing.Name
		}
		if ad.CompanyID == 0 {
			ad.CompanyID = existing.CompanyID
		}
		s.ads[key] = ad
		return
	}

	s.order = append(s.order, key)
	s.ads[key] = ad
}

// Snapshot returns a copy of every advertisement, strongest RSSI first.
// Ties keep first-seen order.
func (s *PassStore) Snapshot() []Advertisement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Advertisement, 0, len(s.order))
	for _, key := range s.order {
		ad := s.ads[key]
		ad.Payload = append([]byte(nil), ad.Payload...)
		result = append(result, ad)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].RSSI > result[j].RSSI // Strongest first (less negative)
	})
	return result
}

// Count returns the number of distinct peripherals seen.
func (s *PassStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ads)
}
