// Package artnetnode implements the Art-Net node state machine: a single
// UDP-bound node exposing up to 4 InputPorts (ones that send DMX onto the
// network) and 4 OutputPorts (ones that receive DMX from the network),
// matching the naming in OLA's ArtNetNode.h. It owns discovery polling,
// RDM request/response queueing, and TOD aging; DMX merge itself is
// delegated to internal/universe via the OutputPort.OnData hook.
package artnetnode

import (
	"fmt"
	"net"
	"time"

	"github.com/lacylights/lacylightsd/internal/artnetwire"
	"github.com/lacylights/lacylightsd/internal/dmxbuf"
	"github.com/lacylights/lacylightsd/internal/lladerr"
)

// MaxPorts is the number of logical input/output ports a node exposes
// (ARTNET_MAX_PORTS in OLA's ArtNetNode.h).
const MaxPorts = 4

// NodeTimeout is how long a remote node's PollReply-derived subscription
// is considered live.
const NodeTimeout = 31 * time.Second

// DefaultBroadcastThreshold is the subscriber count at or above which SendDMX
// switches from per-node unicast to a single broadcast.
const DefaultBroadcastThreshold = 30

// DefaultPollInterval is the ArtPoll broadcast cadence. The daemon sends a
// poll on every tick, whether or not any input port has subscribers or
// discovery armed.
const DefaultPollInterval = 10 * time.Second

// UID is a 6-byte RDM unique identifier (2-byte ESTA manufacturer id, 4-byte
// device id).
type UID [6]byte

func (u UID) String() string {
	return fmt.Sprintf("%02x%02x:%02x%02x%02x%02x", u[0], u[1], u[2], u[3], u[4], u[5])
}

// Sender abstracts the node's UDP socket so tests can substitute a fake.
type Sender interface {
	SendTo(data []byte, dst net.IP) error
	Broadcast(data []byte) error
}

type uidEntry struct {
	addr       net.IP
	missedTods uint8
}

type discoveryState struct {
	expected  map[string]struct{}
	foundUIDs map[UID]net.IP
	callback  func([]UID)
	deadline  time.Time
}

type rdmInFlight struct {
	destination net.IP
	callback    func(response []byte, err error)
	deadline    time.Time
}

// InputPort sends DMX onto the Art-Net network and drives RDM
// request/discovery against the nodes subscribed to its universe.
type InputPort struct {
	UniverseAddress uint8 // subnet<<4 | universe
	Net             uint8
	Enabled         bool

	sequenceNumber  uint8
	subscribedNodes map[string]time.Time // ip.String() -> last PollReply seen
	uids            map[UID]*uidEntry
	discovery       *discoveryState
	rdm             *rdmInFlight
}

func newInputPort() *InputPort {
	return &InputPort{
		subscribedNodes: make(map[string]time.Time),
		uids:            make(map[UID]*uidEntry),
	}
}

// SubscriberCount returns the number of nodes currently subscribed (for the
// broadcast-threshold decision).
func (p *InputPort) SubscriberCount() int { return len(p.subscribedNodes) }

// OutputPort receives DMX (and RDM requests) from the Art-Net network and
// feeds the result to the daemon's universe merge engine via OnData.
type OutputPort struct {
	UniverseAddress uint8
	Net             uint8
	Enabled         bool

	// OnData is invoked with the sending node's address (used as the
	// universe merge source origin) and the decoded DMX payload.
	OnData func(sourceAddr string, data dmxbuf.Buffer)

	// OnRDMRequest handles an inbound ArtRdm request addressed to a
	// device behind this port; resp is sent back via ArtRdm.
	OnRDMRequest func(rdmData []byte) (resp []byte, err error)

	// uids mirrors the "TOD server" side: when a remote
	// controller asks for this port's TOD, the node replies with
	// whatever this port's owner has populated here.
	uids map[UID]net.IP
}

func newOutputPort() *OutputPort {
	return &OutputPort{uids: make(map[UID]net.IP)}
}

// SetUIDs replaces the UID set this output port advertises in response to
// ArtTodRequest/ArtTodControl.
func (p *OutputPort) SetUIDs(uids map[UID]net.IP) { p.uids = uids }

// Config configures timing and addressing for a Node.
type Config struct {
	NetAddress          uint8
	ShortName           string
	LongName            string
	LocalIP             net.IP
	AlwaysBroadcast     bool
	UseLimitedBroadcast bool
	BroadcastThreshold  int
	RDMRequestTimeout   time.Duration
	RDMTodTimeout       time.Duration
	RDMMissedTodLimit   uint8
	Now                 func() time.Time
}

// Node is a single Art-Net node instance: one UDP socket, up to 4
// InputPorts, up to 4 OutputPorts.
type Node struct {
	cfg    Config
	sender Sender

	inputPorts  [MaxPorts]*InputPort
	outputPorts [MaxPorts]*OutputPort

	now func() time.Time
}

// New creates a Node bound to sender for transmission. Ports start
// disabled; callers enable the ones they use via InputPort/OutputPort.
func New(cfg Config, sender Sender) *Node {
	if cfg.BroadcastThreshold == 0 {
		cfg.BroadcastThreshold = DefaultBroadcastThreshold
	}
	if cfg.RDMRequestTimeout == 0 {
		cfg.RDMRequestTimeout = 2 * time.Second
	}
	if cfg.RDMTodTimeout == 0 {
		cfg.RDMTodTimeout = 4 * time.Second
	}
	if cfg.RDMMissedTodLimit == 0 {
		cfg.RDMMissedTodLimit = 3
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	n := &Node{cfg: cfg, sender: sender, now: now}
	for i := range n.inputPorts {
		n.inputPorts[i] = newInputPort()
	}
	for i := range n.outputPorts {
		n.outputPorts[i] = newOutputPort()
	}
	return n
}

// InputPort returns the logical input port at idx (0-3).
func (n *Node) InputPort(idx int) *InputPort { return n.inputPorts[idx] }

// OutputPort returns the logical output port at idx (0-3).
func (n *Node) OutputPort(idx int) *OutputPort { return n.outputPorts[idx] }

// SendPoll broadcasts an ArtPoll.
func (n *Node) SendPoll() error {
	return n.sender.Broadcast(artnetwire.EncodePoll())
}

// SendPollReply broadcasts an ArtPollReply describing every enabled port.
func (n *Node) SendPollReply() error {
	var swIn, swOut [4]byte
	numPorts := 0
	for i, p := range n.inputPorts {
		if p.Enabled {
			swOut[i] = p.UniverseAddress
			numPorts++
		}
	}
	for i, p := range n.outputPorts {
		if p.Enabled {
			swIn[i] = p.UniverseAddress
		}
	}
	var ip [4]byte
	copy(ip[:], n.cfg.LocalIP.To4())
	pkt := artnetwire.EncodePollReply(ip, n.cfg.ShortName, n.cfg.LongName, n.cfg.NetAddress, 0, swIn, swOut, numPorts)
	return n.sender.Broadcast(pkt)
}

// SendDMX transmits data out InputPort idx, broadcasting if configured to
// always do so or once subscriber count reaches the broadcast threshold,
// else unicasting to each subscribed node individually.
func (n *Node) SendDMX(idx int, data []byte) error {
	p := n.inputPorts[idx]
	p.sequenceNumber++
	if p.sequenceNumber == 0 {
		p.sequenceNumber = 1 // Art-Net reserves 0 for "not sequencing"
	}

	addr := artnetwire.NewUniverseAddr(p.Net, p.UniverseAddress>>4, p.UniverseAddress&0x0F)
	pkt := artnetwire.EncodeDMX(addr, p.sequenceNumber, data)

	if n.cfg.AlwaysBroadcast || len(p.subscribedNodes) >= n.cfg.BroadcastThreshold {
		return n.sender.Broadcast(pkt)
	}

	var firstErr error
	for ipStr := range p.subscribedNodes {
		if err := n.sender.SendTo(pkt, net.ParseIP(ipStr)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return lladerr.Wrap(lladerr.SendFailed, firstErr)
	}
	return nil
}

// ExpireSubscribers drops subscriptions on every input port that haven't
// sent an ArtPollReply within NodeTimeout.
func (n *Node) ExpireSubscribers() {
	now := n.now()
	for _, p := range n.inputPorts {
		for ip, seen := range p.subscribedNodes {
			if now.Sub(seen) > NodeTimeout {
				delete(p.subscribedNodes, ip)
			}
		}
	}
}

// SendRDMRequest sends an RDM request out InputPort idx to uid. Fails with
// CANT_SEND if a request is already in flight on this port, or UID_UNKNOWN
// if uid hasn't been seen by a prior discovery.
func (n *Node) SendRDMRequest(idx int, uid UID, request []byte, cb func(response []byte, err error)) error {
	p := n.inputPorts[idx]
	if p.rdm != nil {
		return lladerr.CantSend
	}

	entry, ok := p.uids[uid]
	if !ok {
		return lladerr.UIDUnknown
	}

	addr := artnetwire.NewUniverseAddr(p.Net, p.UniverseAddress>>4, p.UniverseAddress&0x0F)
	pkt := artnetwire.EncodeRdm(uint8(addr.Net()), p.UniverseAddress, request)
	if err := n.sender.SendTo(pkt, entry.addr); err != nil {
		return lladerr.Wrap(lladerr.SendFailed, err)
	}

	p.rdm = &rdmInFlight{
		destination: entry.addr,
		callback:    cb,
		deadline:    n.now().Add(n.cfg.RDMRequestTimeout),
	}
	return nil
}

// RDMTick resolves any RDM request on any input port whose deadline has
// passed, invoking its callback with a TIMEOUT error.
func (n *Node) RDMTick() {
	now := n.now()
	for _, p := range n.inputPorts {
		if p.rdm != nil && now.After(p.rdm.deadline) {
			cb := p.rdm.callback
			p.rdm = nil
			cb(nil, lladerr.Timeout)
		}
	}
}

// handleRDMResponse completes an in-flight RDM request on idx, if any.
func (n *Node) handleRDMResponse(idx int, response []byte) {
	p := n.inputPorts[idx]
	if p.rdm == nil {
		return
	}
	cb := p.rdm.callback
	p.rdm = nil
	cb(response, nil)
}

// RunFullDiscovery starts a TOD discovery round on InputPort idx: flush,
// then request. Fails with RDM_DISCOVERY_IN_PROGRESS if one is already
// running on this port.
func (n *Node) RunFullDiscovery(idx int, cb func(uids []UID)) error {
	return n.runDiscovery(idx, cb, true)
}

// RunIncrementalDiscovery requests the TOD without first flushing it.
func (n *Node) RunIncrementalDiscovery(idx int, cb func(uids []UID)) error {
	return n.runDiscovery(idx, cb, false)
}

func (n *Node) runDiscovery(idx int, cb func(uids []UID), flush bool) error {
	p := n.inputPorts[idx]
	if p.discovery != nil {
		return lladerr.DiscoveryInProgress
	}

	expected := make(map[string]struct{}, len(p.subscribedNodes))
	for ip := range p.subscribedNodes {
		expected[ip] = struct{}{}
	}

	p.discovery = &discoveryState{
		expected:  expected,
		foundUIDs: make(map[UID]net.IP),
		callback:  cb,
		deadline:  n.now().Add(n.cfg.RDMTodTimeout),
	}

	addrBits := artnetwire.NewUniverseAddr(p.Net, p.UniverseAddress>>4, p.UniverseAddress&0x0F)
	if flush {
		if err := n.sender.Broadcast(artnetwire.EncodeTodControl(p.Net, artnetwire.TodControlFlush, p.UniverseAddress)); err != nil {
			return lladerr.Wrap(lladerr.SendFailed, err)
		}
	}
	pkt := artnetwire.EncodeTodRequest(addrBits.Net(), []uint8{p.UniverseAddress})
	if err := n.sender.Broadcast(pkt); err != nil {
		return lladerr.Wrap(lladerr.SendFailed, err)
	}
	return nil
}

// DiscoveryTick finishes any discovery round whose deadline has passed, on
// any input port, applying missed-TOD accounting and invoking the callback
// regardless of whether every expected node responded.
func (n *Node) DiscoveryTick() {
	now := n.now()
	for _, p := range n.inputPorts {
		if p.discovery != nil && now.After(p.discovery.deadline) {
			n.finishDiscovery(p)
		}
	}
}

func (n *Node) finishDiscovery(p *InputPort) {
	d := p.discovery
	p.discovery = nil

	for uid, addr := range d.foundUIDs {
		p.uids[uid] = &uidEntry{addr: addr, missedTods: 0}
	}
	for uid, entry := range p.uids {
		if _, found := d.foundUIDs[uid]; found {
			continue
		}
		entry.missedTods++
		if entry.missedTods > n.cfg.RDMMissedTodLimit {
			delete(p.uids, uid)
		}
	}

	uids := make([]UID, 0, len(p.uids))
	for uid := range p.uids {
		uids = append(uids, uid)
	}
	if d.callback != nil {
		d.callback(uids)
	}
}

// HandlePacket dispatches one inbound datagram from srcIP. Malformed
// packets are dropped silently; the error return exists only so callers
// can log a diagnostic, never to propagate upstream.
func (n *Node) HandlePacket(data []byte, srcIP net.IP) error {
	opcode, err := artnetwire.PeekOpcode(data)
	if err != nil {
		return lladerr.Wrap(lladerr.MalformedPacket, err)
	}

	switch opcode {
	case artnetwire.OpPoll:
		return n.handlePoll(data)
	case artnetwire.OpPollReply:
		return n.handlePollReply(data, srcIP)
	case artnetwire.OpDmx:
		return n.handleDMX(data, srcIP)
	case artnetwire.OpTodRequest:
		return n.handleTodRequest(data)
	case artnetwire.OpTodData:
		return n.handleTodData(data, srcIP)
	case artnetwire.OpTodControl:
		return n.handleTodControl(data)
	case artnetwire.OpRdm:
		return n.handleRdm(data, srcIP)
	case artnetwire.OpIPProg:
		return n.handleIPProgram(data)
	default:
		return lladerr.Wrap(lladerr.MalformedPacket, artnetwire.ErrUnknownOpcode)
	}
}

func (n *Node) handlePoll(data []byte) error {
	if len(data) < 14 {
		return lladerr.Wrap(lladerr.MalformedPacket, artnetwire.ErrTooShort)
	}
	return n.SendPollReply()
}

func (n *Node) handlePollReply(data []byte, srcIP net.IP) error {
	reply, err := artnetwire.DecodePollReply(data)
	if err != nil {
		return lladerr.Wrap(lladerr.MalformedPacket, err)
	}
	now := n.now()
	for _, p := range n.inputPorts {
		if p.Enabled && reply.SwOut[0] == p.UniverseAddress {
			p.subscribedNodes[srcIP.String()] = now
		}
	}
	return nil
}

func (n *Node) handleDMX(data []byte, srcIP net.IP) error {
	pkt, err := artnetwire.DecodeDMX(data)
	if err != nil {
		return lladerr.Wrap(lladerr.MalformedPacket, err)
	}
	for _, p := range n.outputPorts {
		if p.Enabled && pkt.Universe.Net() == p.Net && uint8(pkt.Universe.SubNet()<<4|pkt.Universe.Universe()) == p.UniverseAddress {
			if p.OnData != nil {
				p.OnData(srcIP.String(), dmxbuf.FromBytes(pkt.Data))
			}
		}
	}
	return nil
}

func (n *Node) handleTodRequest(data []byte) error {
	req, err := artnetwire.DecodeTodRequest(data)
	if err != nil {
		return lladerr.Wrap(lladerr.MalformedPacket, err)
	}
	for _, addr := range req.Addresses {
		n.replyTod(req.Net, addr)
	}
	return nil
}

func (n *Node) handleTodControl(data []byte) error {
	pkt, err := artnetwire.DecodeTodControl(data)
	if err != nil {
		return lladerr.Wrap(lladerr.MalformedPacket, err)
	}
	if pkt.Command == artnetwire.TodControlFlush {
		for _, p := range n.outputPorts {
			if p.Enabled && p.Net == pkt.Net && p.UniverseAddress == pkt.Address {
				p.uids = make(map[UID]net.IP)
			}
		}
	}
	n.replyTod(pkt.Net, pkt.Address)
	return nil
}

func (n *Node) replyTod(netAddr, address uint8) error {
	for _, p := range n.outputPorts {
		if !p.Enabled || p.Net != netAddr || p.UniverseAddress != address {
			continue
		}
		uids := make([][6]byte, 0, len(p.uids))
		for uid := range p.uids {
			uids = append(uids, [6]byte(uid))
		}
		pkt := artnetwire.EncodeTodData(netAddr, address, 0, 1, uint16(len(uids)), uids)
		return n.sender.Broadcast(pkt)
	}
	return nil
}

func (n *Node) handleTodData(data []byte, srcIP net.IP) error {
	pkt, err := artnetwire.DecodeTodData(data)
	if err != nil {
		return lladerr.Wrap(lladerr.MalformedPacket, err)
	}
	for _, p := range n.inputPorts {
		if p.discovery == nil || p.Net != pkt.Net || p.UniverseAddress != pkt.Address {
			continue
		}
		srcKey := srcIP.String()
		if _, expected := p.discovery.expected[srcKey]; !expected {
			continue
		}
		delete(p.discovery.expected, srcKey)
		for _, uid := range pkt.UIDs {
			p.discovery.foundUIDs[UID(uid)] = srcIP
		}
		if len(p.discovery.expected) == 0 {
			n.finishDiscovery(p)
		}
	}
	return nil
}

func (n *Node) handleRdm(data []byte, srcIP net.IP) error {
	pkt, err := artnetwire.DecodeRdm(data)
	if err != nil {
		return lladerr.Wrap(lladerr.MalformedPacket, err)
	}

	for i, p := range n.inputPorts {
		if p.rdm != nil && p.Net == pkt.Net && p.UniverseAddress == pkt.Address && p.rdm.destination.Equal(srcIP) {
			n.handleRDMResponse(i, pkt.RdmData)
			return nil
		}
	}

	for _, p := range n.outputPorts {
		if p.Enabled && p.Net == pkt.Net && p.UniverseAddress == pkt.Address && p.OnRDMRequest != nil {
			resp, err := p.OnRDMRequest(pkt.RdmData)
			if err != nil {
				return nil
			}
			return n.sender.SendTo(artnetwire.EncodeRdm(pkt.Net, pkt.Address, resp), srcIP)
		}
	}
	return nil
}

func (n *Node) handleIPProgram(data []byte) error {
	if _, err := artnetwire.DecodeIPProg(data); err != nil {
		return lladerr.Wrap(lladerr.MalformedPacket, err)
	}
	var ip, mask [4]byte
	copy(ip[:], n.cfg.LocalIP.To4())
	mask = [4]byte{255, 255, 255, 0}
	return n.sender.Broadcast(artnetwire.EncodeIPProgReply(ip, mask, artnetwire.Port))
}
