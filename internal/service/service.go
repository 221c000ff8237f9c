// Package service implements the Service Facade: the five
// operations an RPC layer maps onto verbatim, each translating a universe
// lookup miss into the UNIVERSE_MISSING sentinel and otherwise delegating
// straight to internal/universe.
package service

import (
	"github.com/lacylights/lacylightsd/internal/dmxbuf"
	"github.com/lacylights/lacylightsd/internal/lladerr"
	"github.com/lacylights/lacylightsd/internal/pubsub"
	"github.com/lacylights/lacylightsd/internal/universe"
)

// RegisterAction selects RegisterForDmx's direction.
type RegisterAction int

const (
	Register RegisterAction = iota
	Unregister
)

// Service is the daemon's RPC-facing facade over a universe.Store.
type Service struct {
	store *universe.Store
	ps    *pubsub.PubSub
}

// New creates a Service backed by store, publishing universe metadata
// changes (name, merge mode) on ps alongside the DMX-output notifications
// universe.Universe already sends through its own ClientNotifier.
func New(store *universe.Store, ps *pubsub.PubSub) *Service {
	return &Service{store: store, ps: ps}
}

// GetDmx returns exactly 512 bytes, right-padded with zeros regardless of
// the source buffer's length, for compatibility with legacy clients. Fails
// with UNIVERSE_MISSING if the universe doesn't exist - GetDmx never
// auto-creates.
func (s *Service) GetDmx(id universe.ID) ([]byte, error) {
	u, ok := s.store.Get(id)
	if !ok {
		return nil, lladerr.UniverseMissing
	}
	return u.Output().PadTo(dmxbuf.MaxChannels), nil
}

// RegisterForDmx registers or unregisters clientID as a subscriber of id.
// REGISTER auto-creates the universe; membership is set-idempotent.
// UNREGISTER on a non-member, or on a universe that doesn't exist, is
// success.
func (s *Service) RegisterForDmx(id universe.ID, clientID string, action RegisterAction) error {
	if action == Unregister {
		u, ok := s.store.Get(id)
		if !ok {
			return nil
		}
		u.RemoveClient(clientID)
		if u.MemberCount() == 0 {
			s.store.MarkForGC(id)
		}
		return nil
	}

	u := s.store.GetOrCreate(id)
	u.AddClient(clientID)
	return nil
}

// UpdateDmxData feeds data into id's merge engine as clientID's
// contribution. Fails with UNIVERSE_MISSING if absent; accepts empty data.
func (s *Service) UpdateDmxData(id universe.ID, clientID string, data []byte) error {
	u, ok := s.store.Get(id)
	if !ok {
		return lladerr.UniverseMissing
	}
	u.ClientDataChanged(clientID, dmxbuf.FromBytes(data))
	return nil
}

// SetUniverseName renames id. Fails with UNIVERSE_MISSING.
func (s *Service) SetUniverseName(id universe.ID, name string) error {
	u, ok := s.store.Get(id)
	if !ok {
		return lladerr.UniverseMissing
	}
	u.SetName(name)
	s.publishMeta(u)
	return nil
}

// SetMergeMode changes id's merge mode, triggering a re-merge. Fails with
// UNIVERSE_MISSING.
func (s *Service) SetMergeMode(id universe.ID, mode universe.MergeMode) error {
	u, ok := s.store.Get(id)
	if !ok {
		return lladerr.UniverseMissing
	}
	u.SetMergeMode(mode)
	s.publishMeta(u)
	return nil
}

// UniverseMeta is the payload delivered on pubsub.TopicUniverseMeta.
type UniverseMeta struct {
	UniverseKey string
	Name        string
	MergeMode   string
}

func (s *Service) publishMeta(u *universe.Universe) {
	if s.ps == nil {
		return
	}
	s.ps.Publish(pubsub.TopicUniverseMeta, u.Key(), UniverseMeta{
		UniverseKey: u.Key(),
		Name:        u.Name(),
		MergeMode:   u.MergeMode().String(),
	})
}
