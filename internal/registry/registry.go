// Package registry implements stable device aliasing and port↔universe
// patching, grounded on OLA's DeviceManager (olad/DeviceManager.cpp):
// aliases are assigned once per unique_id and never recycled across
// distinct device identities, patch/priority state persists through a
// Preferences collaborator, and output ports that support timecode are
// tracked in a dedicated fan-out set.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lacylights/lacylightsd/internal/dmxbuf"
	"github.com/lacylights/lacylightsd/internal/lladerr"
	"github.com/lacylights/lacylightsd/internal/universe"
)

// PortKind distinguishes a port's data direction.
type PortKind int

const (
	PortInput PortKind = iota
	PortOutput
)

// Capability controls whether a port's priority is adjustable.
type Capability int

const (
	CapabilityNone Capability = iota
	CapabilityStatic
	CapabilityFull
)

// priorityValueSuffix/priorityModeSuffix mirror
// DeviceManager::PRIORITY_VALUE_SUFFIX / PRIORITY_MODE_SUFFIX: a port's
// priority is persisted under its unique id plus one of these suffixes.
const (
	priorityValueSuffix = "_priority_value"
	priorityModeSuffix  = "_priority_mode"
)

// MissingDeviceAlias is returned for a unique_id the registry has never
// seen (DeviceManager::MISSING_DEVICE_ALIAS).
const MissingDeviceAlias uint32 = 0

// Preferences is the key-value persistence collaborator patch/priority
// state is written through. internal/prefsstore provides a gorm-backed
// implementation; tests use an in-memory one.
type Preferences interface {
	Load() error
	Save() error
	Get(key string) (string, bool)
	Set(key, value string)
	GetMulti(keys []string) map[string]string
	SetMulti(kv map[string]string)
	Remove(key string)
}

// OutputSink is the write side a Port delegates to; the owning transport
// (an Art-Net output port, a USB-Pro device, ...) supplies it.
type OutputSink interface {
	WriteDMX(data dmxbuf.Buffer)
}

// Port is one input or output endpoint of a Device.
type Port struct {
	UniqueID         string
	Kind             PortKind
	Capability       Capability
	Priority         uint8
	PriorityMode     universe.PriorityMode
	UniverseID       *universe.ID
	SupportsTimecode bool

	sink OutputSink
}

// SetSink attaches the transport-specific write delegate for an output
// port. Input ports never need one.
func (p *Port) SetSink(sink OutputSink) { p.sink = sink }

// WriteDMX implements universe.OutputPort by delegating to the
// transport-specific sink, if one has been attached.
func (p *Port) WriteDMX(data dmxbuf.Buffer) {
	if p.sink != nil {
		p.sink.WriteDMX(data)
	}
}

// Device groups the ports exposed by one plugin-owned piece of hardware or
// software endpoint.
type Device struct {
	UniqueID     string
	Alias        uint32
	Name         string
	Ports        []*Port
	OwningPlugin string
}

type devicePair struct {
	alias  uint32
	device *Device // nil once unregistered; alias reservation survives
}

// PortRegistry owns device aliasing and port↔universe patching.
type PortRegistry struct {
	mu sync.Mutex

	devices   map[string]*devicePair // unique_id -> pair
	aliasMap  map[uint32]*Device     // alias -> live device
	nextAlias uint32

	timecodePorts []*Port
	timecodeIndex map[*Port]int

	prefs Preferences
	store *universe.Store
}

// New creates a registry backed by prefs for patch/priority persistence and
// store for resolving universe ids during patch/restore.
func New(prefs Preferences, store *universe.Store) *PortRegistry {
	return &PortRegistry{
		devices:       make(map[string]*devicePair),
		aliasMap:      make(map[uint32]*Device),
		nextAlias:     1, // alias 0 is reserved for "missing"
		timecodeIndex: make(map[*Port]int),
		prefs:         prefs,
		store:         store,
	}
}

// RegisterDevice installs device, assigning a fresh alias for a never-seen
// unique_id or reattaching the reserved alias for one that was previously
// registered and unregistered. Returns lladerr.DeviceAlreadyRegistered if a
// device with this unique_id is currently live.
func (r *PortRegistry) RegisterDevice(d *Device) error {
	if d.UniqueID == "" {
		return fmt.Errorf("registry: device %q missing unique id", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pair, seen := r.devices[d.UniqueID]
	switch {
	case seen && pair.device != nil:
		return lladerr.DeviceAlreadyRegistered
	case seen:
		d.Alias = pair.alias
		pair.device = d
	default:
		d.Alias = r.nextAlias
		r.nextAlias++
		r.devices[d.UniqueID] = &devicePair{alias: d.Alias, device: d}
	}

	r.aliasMap[d.Alias] = d

	for _, p := range d.Ports {
		r.restorePortSettings(p)
		if p.Kind == PortOutput && p.SupportsTimecode {
			r.addTimecodePort(p)
		}
	}

	return nil
}

// UnregisterDevice removes the live device for uniqueID, persisting its
// port patchings/priorities and clearing it from the alias map while
// retaining the alias reservation itself.
func (r *PortRegistry) UnregisterDevice(uniqueID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pair, ok := r.devices[uniqueID]
	if !ok || pair.device == nil {
		return lladerr.UIDUnknown
	}

	r.releaseDevice(pair.device)
	delete(r.aliasMap, pair.alias)
	pair.device = nil
	return nil
}

// UnregisterAll clears every live device pointer but keeps alias
// reservations, matching DeviceManager::UnregisterAllDevices.
func (r *PortRegistry) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pair := range r.devices {
		if pair.device != nil {
			r.releaseDevice(pair.device)
			pair.device = nil
		}
	}
	r.aliasMap = make(map[uint32]*Device)
}

func (r *PortRegistry) releaseDevice(d *Device) {
	for _, p := range d.Ports {
		r.savePortPatching(p)
		r.savePortPriority(p)
		if p.Kind == PortOutput && p.SupportsTimecode {
			r.removeTimecodePort(p)
		}
	}
}

// DeviceByAlias returns the live device registered under alias.
func (r *PortRegistry) DeviceByAlias(alias uint32) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.aliasMap[alias]
	return d, ok
}

// DeviceByUniqueID returns the live device for uniqueID and its alias, or
// (nil, MissingDeviceAlias, false) if none is currently registered.
func (r *PortRegistry) DeviceByUniqueID(uniqueID string) (*Device, uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pair, ok := r.devices[uniqueID]
	if !ok || pair.device == nil {
		return nil, MissingDeviceAlias, false
	}
	return pair.device, pair.alias, true
}

// DeviceCount returns the number of currently live (registered) devices.
func (r *PortRegistry) DeviceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, pair := range r.devices {
		if pair.device != nil {
			n++
		}
	}
	return n
}

// Devices returns every live device, ordered by alias for determinism.
func (r *PortRegistry) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.aliasMap))
	for _, d := range r.aliasMap {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Patch attaches port to the universe identified by id, first unpatching
// it from any prior universe, then persists the mapping.
func (r *PortRegistry) Patch(port *Port, id universe.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if port.UniverseID != nil {
		r.unpatchLocked(port)
	}

	u := r.store.GetOrCreate(id)
	switch port.Kind {
	case PortInput:
		u.AddInputPort(port.UniqueID)
	case PortOutput:
		u.AddOutputPort(port.UniqueID, port)
	}
	idCopy := id
	port.UniverseID = &idCopy

	r.savePortPatching(port)
	return nil
}

// Unpatch detaches port from its current universe, if any. Unpatching a
// port that isn't patched is a no-op.
func (r *PortRegistry) Unpatch(port *Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unpatchLocked(port)
	r.savePortPatching(port)
}

func (r *PortRegistry) unpatchLocked(port *Port) {
	if port.UniverseID == nil {
		return
	}
	if u, ok := r.store.Get(*port.UniverseID); ok {
		switch port.Kind {
		case PortInput:
			u.RemoveInputPort(port.UniqueID)
		case PortOutput:
			u.RemoveOutputPort(port.UniqueID)
		}
		if u.MemberCount() == 0 {
			r.store.MarkForGC(*port.UniverseID)
		}
	}
	port.UniverseID = nil
}

// SetPriority sets port's fixed priority value and persists it
// immediately. On CapabilityNone ports it changes and records nothing and
// returns PRIORITY_OUT_OF_RANGE.
func (r *PortRegistry) SetPriority(port *Port, value uint8) error {
	if port.Capability == CapabilityNone {
		return lladerr.Wrap(lladerr.PriorityOutOfRange, fmt.Errorf("port %q has no priority capability", port.UniqueID))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	port.Priority = value
	r.savePortPriority(port)
	return nil
}

// SetPriorityMode sets port's priority mode. Only FULL-capability ports
// may change mode.
func (r *PortRegistry) SetPriorityMode(port *Port, mode universe.PriorityMode) error {
	if port.Capability != CapabilityFull {
		return lladerr.Wrap(lladerr.PriorityOutOfRange, fmt.Errorf("port %q lacks full priority capability", port.UniqueID))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	port.PriorityMode = mode
	r.savePortPriority(port)
	return nil
}

// SendTimecode fans timecode out to every registered timecode-capable
// output port, in the stable (insertion) order they were added.
func (r *PortRegistry) SendTimecode(fn func(p *Port)) {
	r.mu.Lock()
	ports := make([]*Port, len(r.timecodePorts))
	copy(ports, r.timecodePorts)
	r.mu.Unlock()

	for _, p := range ports {
		fn(p)
	}
}

func (r *PortRegistry) addTimecodePort(p *Port) {
	if _, ok := r.timecodeIndex[p]; ok {
		return
	}
	r.timecodeIndex[p] = len(r.timecodePorts)
	r.timecodePorts = append(r.timecodePorts, p)
}

func (r *PortRegistry) removeTimecodePort(p *Port) {
	i, ok := r.timecodeIndex[p]
	if !ok {
		return
	}
	delete(r.timecodeIndex, p)
	r.timecodePorts = append(r.timecodePorts[:i], r.timecodePorts[i+1:]...)
	for j := i; j < len(r.timecodePorts); j++ {
		r.timecodeIndex[r.timecodePorts[j]] = j
	}
}

// savePortPatching persists (or clears) port's unique_id -> universe
// mapping.
func (r *PortRegistry) savePortPatching(p *Port) {
	if r.prefs == nil || p.UniqueID == "" {
		return
	}
	if p.UniverseID != nil {
		r.prefs.Set(p.UniqueID, fmt.Sprintf("%d.%d", p.UniverseID.Net, p.UniverseID.Num))
	} else {
		r.prefs.Remove(p.UniqueID)
	}
}

// savePortPriority persists p's priority and (for FULL capability) mode.
func (r *PortRegistry) savePortPriority(p *Port) {
	if r.prefs == nil || p.Capability == CapabilityNone || p.UniqueID == "" {
		return
	}
	r.prefs.Set(p.UniqueID+priorityValueSuffix, fmt.Sprintf("%d", p.Priority))
	if p.Capability == CapabilityFull {
		r.prefs.Set(p.UniqueID+priorityModeSuffix, fmt.Sprintf("%d", p.PriorityMode))
	}
}

// restorePortSettings re-applies any persisted priority and universe patch
// for p. Priority is restored before mode so that an INHERIT mode does not
// erase the stored override value.
func (r *PortRegistry) restorePortSettings(p *Port) {
	if r.prefs == nil || p.UniqueID == "" {
		return
	}

	if p.Capability != CapabilityNone {
		if v, ok := r.prefs.Get(p.UniqueID + priorityValueSuffix); ok {
			var priority uint8
			if _, err := fmt.Sscanf(v, "%d", &priority); err == nil {
				p.Priority = priority
				p.PriorityMode = universe.PriorityOverride
			}
		}
		if p.Capability == CapabilityFull {
			if v, ok := r.prefs.Get(p.UniqueID + priorityModeSuffix); ok {
				var mode int
				if _, err := fmt.Sscanf(v, "%d", &mode); err == nil && universe.PriorityMode(mode) == universe.PriorityInherit {
					p.PriorityMode = universe.PriorityInherit
				}
			}
		}
	}

	uniID, ok := r.prefs.Get(p.UniqueID)
	if !ok {
		return
	}
	var net, num int
	if _, err := fmt.Sscanf(uniID, "%d.%d", &net, &num); err != nil {
		return
	}

	id := universe.ID{Net: uint8(net), Num: uint16(num)}
	u := r.store.GetOrCreate(id)
	switch p.Kind {
	case PortInput:
		u.AddInputPort(p.UniqueID)
	case PortOutput:
		u.AddOutputPort(p.UniqueID, p)
	}
	p.UniverseID = &id
}
