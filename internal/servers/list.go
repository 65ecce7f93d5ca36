package servers

import "sort"

// List returns a snapshot of all descriptors. Busy servers come first, then
// online ones, then by id.
func (s *Store) List() []*ServerDescriptor {
	s.mu.Lock()
	list := make([]*ServerDescriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		list = append(list, d.Clone())
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].PlayersCurrent != list[j].PlayersCurrent {
			return list[i].PlayersCurrent > list[j].PlayersCurrent
		}
		if list[i].Offline != list[j].Offline {
			return !list[i].Offline
		}
		return list[i].ID < list[j].ID
	})
	return list
}
