package universe

// Store owns all live universes, keyed by ID. Universes marked for GC are
// only destroyed on an explicit GarbageCollect() sweep - never
// synchronously when membership reaches zero. This lets a caller remove
// the last member and immediately re-add one without losing the universe
// and its configuration.
type Store struct {
	universes map[ID]*Universe
	marked    map[ID]bool

	newUniverse func(ID) *Universe
}

// NewStore creates an empty store. newUniverse constructs a Universe for a
// given ID (tests typically pass nil, which selects New(id) with default
// options; daemon wiring passes a closure that also sets up the
// notifier/capacity options).
func NewStore(newUniverse func(ID) *Universe) *Store {
	if newUniverse == nil {
		newUniverse = func(id ID) *Universe { return New(id) }
	}
	return &Store{
		universes:   make(map[ID]*Universe),
		marked:      make(map[ID]bool),
		newUniverse: newUniverse,
	}
}

// Get returns the universe for id, or (nil, false) if it doesn't exist.
// Unlike GetOrCreate, Get never creates - this backs GetDmx's
// "universe not found" contract.
func (s *Store) Get(id ID) (*Universe, bool) {
	u, ok := s.universes[id]
	return u, ok
}

// GetOrCreate returns the existing universe for id, or creates and stores a
// fresh one. A universe produced after a GC sweep removed the previous
// occupant of the same id is a new entity with no inherited state.
func (s *Store) GetOrCreate(id ID) *Universe {
	if u, ok := s.universes[id]; ok {
		return u
	}
	u := s.newUniverse(id)
	s.universes[id] = u
	delete(s.marked, id)
	return u
}

// MarkForGC flags a universe as eligible for destruction on the next
// GarbageCollect() sweep. Marking does not destroy it, and a universe that
// gains a member before the sweep runs is never implicitly unmarked by
// that alone - GarbageCollect re-checks membership at sweep time, so a
// universe that became non-empty again survives regardless of whether it
// was unmarked.
func (s *Store) MarkForGC(id ID) {
	if _, ok := s.universes[id]; ok {
		s.marked[id] = true
	}
}

// GarbageCollect destroys every marked universe that is still empty
// (MemberCount() == 0). Marked universes that gained members since being
// marked survive and are unmarked.
func (s *Store) GarbageCollect() {
	for id := range s.marked {
		u, ok := s.universes[id]
		if !ok {
			delete(s.marked, id)
			continue
		}
		if u.MemberCount() == 0 {
			delete(s.universes, id)
		}
		delete(s.marked, id)
	}
}

// All returns every live universe (for iteration by timers/diagnostics).
func (s *Store) All() []*Universe {
	out := make([]*Universe, 0, len(s.universes))
	for _, u := range s.universes {
		out = append(out, u)
	}
	return out
}

// Count returns the number of live universes.
func (s *Store) Count() int { return len(s.universes) }
