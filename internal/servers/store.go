package servers

import (
	"sync"
	"time"
)

// Store holds every known descriptor plus the alias table that maps the
// addresses users typed onto the canonical id they resolved to. Aliases are
// never pruned.
type Store struct {
	mu          sync.Mutex
	descriptors map[string]*ServerDescriptor
	aliases     map[string]string // entered address -> canonical id
	reverse     map[string]string // canonical id -> last entered address
	now         func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		descriptors: make(map[string]*ServerDescriptor),
		aliases:     make(map[string]string),
		reverse:     make(map[string]string),
		now:         time.Now,
	}
}

// Canonical follows the alias table for key. Unknown keys map to themselves.
func (s *Store) Canonical(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canonicalLocked(key)
}

func (s *Store) canonicalLocked(key string) string {
	if id, ok := s.aliases[key]; ok {
		return id
	}
	return key
}

// RegisterAlias records that address resolved to id.
func (s *Store) RegisterAlias(address, id string) {
	if address == "" || id == "" || address == id {
		return
	}
	s.mu.Lock()
	s.aliases[address] = id
	s.reverse[id] = address
	s.mu.Unlock()
}

// AddressFor returns the last address that resolved to id.
func (s *Store) AddressFor(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.reverse[id]
	return addr, ok
}

// Lookup returns a copy of the descriptor for key, following aliases.
func (s *Store) Lookup(key string) (*ServerDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.descriptors[s.canonicalLocked(key)]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Upsert merges d into the store and reports whether the stored record
// changed. A descriptor with a lower DetailsLevel than the stored one never
// replaces its fields: an offline one flips the record offline, an online
// one only refreshes UpdatedAt and clears Offline.
func (s *Store) Upsert(d *ServerDescriptor) bool {
	if d == nil || d.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.descriptors[d.ID]
	if !ok {
		c := d.Clone()
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = s.now()
		}
		s.descriptors[d.ID] = c
		return true
	}

	if d.DetailsLevel < existing.DetailsLevel {
		if d.Offline {
			if existing.Offline {
				return false
			}
			existing.Offline = true
			return true
		}
		// A poorer but successful observation still proves the server is
		// up: keep the richer fields, refresh liveness.
		seen := d.UpdatedAt
		if seen.IsZero() {
			seen = s.now()
		}
		if seen.After(existing.UpdatedAt) {
			existing.UpdatedAt = seen
		}
		if existing.Offline {
			existing.Offline = false
			return true
		}
		return false
	}

	c := d.Clone()
	if c.JoinID == "" {
		c.JoinID = existing.JoinID
	}
	if c.HistoricalAddress == "" {
		c.HistoricalAddress = existing.HistoricalAddress
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	s.descriptors[d.ID] = c
	return true
}

// MarkOffline flips the descriptor behind key offline.
func (s *Store) MarkOffline(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.descriptors[s.canonicalLocked(key)]
	if !ok || d.Offline {
		return false
	}
	d.Offline = true
	return true
}

// MarkStale flips every online descriptor not updated within after to
// offline and returns how many changed.
func (s *Store) MarkStale(now time.Time, after time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.descriptors {
		if d.Offline || d.UpdatedAt.IsZero() {
			continue
		}
		if now.Sub(d.UpdatedAt) > after {
			d.Offline = true
			n++
		}
	}
	return n
}

// Len returns the number of stored descriptors.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.descriptors)
}
