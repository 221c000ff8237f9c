// Package universe implements the per-universe DMX merge engine: source
// tracking, HTP/LTP arbitration, priority handling, source aging, and
// dispatch to output ports and subscribed clients.
package universe

import (
	"fmt"
	"log"
	"time"

	"github.com/lacylights/lacylightsd/internal/dmxbuf"
)

// MergeMode selects how multiple simultaneous sources combine.
type MergeMode int

const (
	HTP MergeMode = iota
	LTP
)

func (m MergeMode) String() string {
	if m == LTP {
		return "LTP"
	}
	return "HTP"
}

// PriorityMode controls whether a source's priority is inherited from its
// default or explicitly overridden.
type PriorityMode int

const (
	PriorityInherit PriorityMode = iota
	PriorityOverride
)

// DefaultPriority is the priority assigned to a source unless told
// otherwise.
const DefaultPriority uint8 = 100

// DefaultMergeTimeout is the source-expiry window used unless a universe is
// constructed with a different one.
const DefaultMergeTimeout = 10 * time.Second

// OutputPort is the subset of the Port capability interface the universe
// needs to fan out a merge result.
type OutputPort interface {
	WriteDMX(data dmxbuf.Buffer)
}

// ClientNotifier receives a universe's merge result whenever it changes.
// Implemented by internal/pubsub's publisher adapter.
type ClientNotifier interface {
	NotifyDMX(universeKey string, data dmxbuf.Buffer)
}

// Origin identifies a merge source: a port, a client handle, or (for
// Art-Net-sourced universes) a remote node's address.
type Origin struct {
	Kind  OriginKind
	Value string
}

type OriginKind int

const (
	OriginPort OriginKind = iota
	OriginClient
	OriginRemote
)

// source is one contributor's current state within a universe.
type source struct {
	origin       Origin
	buffer       dmxbuf.Buffer
	lastUpdate   time.Time
	priority     uint8
	priorityMode PriorityMode
}

// ID identifies a universe by Art-Net net/universe pair.
type ID struct {
	Net uint8  // 0-127
	Num uint16 // 0-32767
}

// Universe holds per-universe merge state, membership, and the last
// dispatched merge result.
type Universe struct {
	id   ID
	name string

	mergeMode       MergeMode
	maxMergeSources int
	mergeTimeout    time.Duration

	sources []*source

	output    dmxbuf.Buffer
	isMerging bool

	inputPorts  map[string]struct{} // membership only; data arrives via PortDataChanged
	outputPorts map[string]OutputPort
	clients     map[string]struct{}

	notifier ClientNotifier

	dispatchCount uint64

	now func() time.Time
}

// Option configures a Universe at construction time.
type Option func(*Universe)

// WithMaxMergeSources overrides the default source capacity: typically 2
// for Art-Net-sourced universes, 6 for ones that mix transports. It is a
// constructor parameter, not a global constant, because capacity is a
// property of how a universe is created, not of the Art-Net transport
// specifically.
func WithMaxMergeSources(n int) Option {
	return func(u *Universe) { u.maxMergeSources = n }
}

// WithMergeTimeout overrides DefaultMergeTimeout.
func WithMergeTimeout(d time.Duration) Option {
	return func(u *Universe) { u.mergeTimeout = d }
}

// WithNotifier sets the client notification sink.
func WithNotifier(n ClientNotifier) Option {
	return func(u *Universe) { u.notifier = n }
}

// New creates a Universe with default HTP merge mode and 6-source capacity.
func New(id ID, opts ...Option) *Universe {
	u := &Universe{
		id:              id,
		mergeMode:       HTP,
		maxMergeSources: 6,
		mergeTimeout:    DefaultMergeTimeout,
		inputPorts:      make(map[string]struct{}),
		outputPorts:     make(map[string]OutputPort),
		clients:         make(map[string]struct{}),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Universe) ID() ID           { return u.id }
func (u *Universe) Name() string     { return u.name }
func (u *Universe) SetName(n string) { u.name = n }

func (u *Universe) MergeMode() MergeMode     { return u.mergeMode }
func (u *Universe) SetMergeMode(m MergeMode) { u.mergeMode = m; u.remerge() }

func (u *Universe) Output() dmxbuf.Buffer { return u.output }
func (u *Universe) IsMerging() bool       { return u.isMerging }

// MemberCount is |clients| + |input_ports| + |output_ports|.
func (u *Universe) MemberCount() int {
	return len(u.clients) + len(u.inputPorts) + len(u.outputPorts)
}

// AddOutputPort attaches an output port to the universe's dispatch set.
func (u *Universe) AddOutputPort(portID string, p OutputPort) {
	u.outputPorts[portID] = p
}

// RemoveOutputPort detaches an output port. Removing the last member
// leaves the universe alive - GC is explicit.
func (u *Universe) RemoveOutputPort(portID string) {
	delete(u.outputPorts, portID)
}

// AddInputPort registers an input port as a member for GC accounting; data
// arrives separately through PortDataChanged.
func (u *Universe) AddInputPort(portID string) {
	u.inputPorts[portID] = struct{}{}
}

func (u *Universe) RemoveInputPort(portID string) {
	delete(u.inputPorts, portID)
	u.removeSource(Origin{Kind: OriginPort, Value: portID})
}

// AddClient registers a client as a subscriber; membership is
// set-idempotent.
func (u *Universe) AddClient(clientID string) {
	u.clients[clientID] = struct{}{}
}

// RemoveClient unregisters a client. Removing a non-member is a no-op.
func (u *Universe) RemoveClient(clientID string) {
	delete(u.clients, clientID)
	u.removeSource(Origin{Kind: OriginClient, Value: clientID})
}

func (u *Universe) HasClient(clientID string) bool {
	_, ok := u.clients[clientID]
	return ok
}

// findSource locates the existing source slot for origin, or nil.
func (u *Universe) findSource(origin Origin) *source {
	for _, s := range u.sources {
		if s.origin == origin {
			return s
		}
	}
	return nil
}

func (u *Universe) removeSource(origin Origin) {
	for i, s := range u.sources {
		if s.origin == origin {
			u.sources = append(u.sources[:i], u.sources[i+1:]...)
			u.remerge()
			return
		}
	}
}

// contribute creates or replaces the source slot for origin, then
// re-merges. If origin is new and the universe is already at capacity, the
// contribution is rejected and false is returned.
func (u *Universe) contribute(origin Origin, data dmxbuf.Buffer) bool {
	if s := u.findSource(origin); s != nil {
		s.buffer = data
		s.lastUpdate = u.now()
		u.remerge()
		return true
	}

	if len(u.sources) >= u.maxMergeSources {
		log.Printf("universe %d.%d: rejecting new source %v, at capacity (%d)", u.id.Net, u.id.Num, origin, u.maxMergeSources)
		return false
	}

	u.sources = append(u.sources, &source{
		origin:       origin,
		buffer:       data,
		lastUpdate:   u.now(),
		priority:     DefaultPriority,
		priorityMode: PriorityInherit,
	})
	u.remerge()
	return true
}

// PortDataChanged feeds new data from an input port into the universe.
func (u *Universe) PortDataChanged(portID string, data dmxbuf.Buffer) bool {
	return u.contribute(Origin{Kind: OriginPort, Value: portID}, data)
}

// ClientDataChanged feeds new data from a client into the universe.
func (u *Universe) ClientDataChanged(clientID string, data dmxbuf.Buffer) bool {
	return u.contribute(Origin{Kind: OriginClient, Value: clientID}, data)
}

// SetSourcePriority sets the priority (and, for OVERRIDE, the priority
// mode) for a source whose origin is already contributing. No-op if the
// origin isn't currently a source.
func (u *Universe) SetSourcePriority(origin Origin, priority uint8, mode PriorityMode) {
	s := u.findSource(origin)
	if s == nil {
		return
	}
	s.priority = priority
	s.priorityMode = mode
	u.remerge()
}

// SourceExpiryTick drops any source whose last update predates
// now-mergeTimeout, re-merging if the active set changed.
func (u *Universe) SourceExpiryTick() {
	now := u.now()
	changed := false
	kept := u.sources[:0:0]
	for _, s := range u.sources {
		if now.Sub(s.lastUpdate) > u.mergeTimeout {
			changed = true
			continue
		}
		kept = append(kept, s)
	}
	u.sources = kept
	if changed {
		u.remerge()
	}
}

// SourceCount reports the number of active contributors (for tests and
// diagnostics).
func (u *Universe) SourceCount() int { return len(u.sources) }

// DispatchCount reports how many times this universe's output has actually
// changed and been dispatched (an observability counter, not part of the
// core merge contract).
func (u *Universe) DispatchCount() uint64 { return u.dispatchCount }

// remerge recomputes the merge result (highest-priority source wins;
// ties resolve by mergeMode) and dispatches on change.
func (u *Universe) remerge() {
	if len(u.sources) == 0 {
		u.setOutput(dmxbuf.New())
		u.isMerging = false
		return
	}

	maxPriority := u.sources[0].priority
	for _, s := range u.sources[1:] {
		if s.priority > maxPriority {
			maxPriority = s.priority
		}
	}

	var top []*source
	for _, s := range u.sources {
		if s.priority == maxPriority {
			top = append(top, s)
		}
	}

	u.isMerging = len(top) > 1

	var result dmxbuf.Buffer
	if len(top) == 1 {
		result = top[0].buffer
	} else if u.mergeMode == HTP {
		bufs := make([]dmxbuf.Buffer, len(top))
		for i, s := range top {
			bufs[i] = s.buffer
		}
		result = dmxbuf.HTPFold(bufs)
	} else {
		latest := top[0]
		for _, s := range top[1:] {
			if s.lastUpdate.After(latest.lastUpdate) {
				latest = s
			}
		}
		result = latest.buffer
	}

	u.setOutput(result)
}

func (u *Universe) setOutput(result dmxbuf.Buffer) {
	if u.output.Equal(result) {
		return
	}
	u.output = result
	u.dispatch()
}

func (u *Universe) dispatch() {
	u.dispatchCount++
	for _, p := range u.outputPorts {
		p.WriteDMX(u.output)
	}
	if u.notifier != nil {
		u.notifier.NotifyDMX(u.Key(), u.output)
	}
}

// Key returns the universe's canonical string key ("net.num"), used as the
// pubsub filter clients subscribe with.
func (u *Universe) Key() string {
	return fmt.Sprintf("%d.%d", u.id.Net, u.id.Num)
}
