// Package artnetwire implements the Art-Net II wire codec: header framing,
// DMX/poll/TOD/RDM/IP-program packet encode and decode. Grounded on the
// teacher's pkg/artnet/packet.go (header layout, DMX framing) and
// gopatchy-artmap's artnet/protocol.go (Universe bit-packing, ArtPoll/
// ArtPollReply), extended to the TOD/RDM/IP-Program opcodes neither
// reference implements, using the constants OLA's ArtNetNode.h pins down
// (protocol version, RDM timing).
package artnetwire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Port is the standard Art-Net UDP port.
const Port = 6454

// ProtocolVersion is the minimum Art-Net II protocol version this codec
// accepts.
const ProtocolVersion = 14

// Opcodes, little-endian on the wire.
const (
	OpPoll       uint16 = 0x2000
	OpPollReply  uint16 = 0x2100
	OpDmx        uint16 = 0x5000
	OpTodRequest uint16 = 0x8000
	OpTodData    uint16 = 0x8100
	OpTodControl uint16 = 0x8200
	OpRdm        uint16 = 0x8300
	OpIPProg     uint16 = 0xF800
	OpIPProgReply uint16 = 0xF900
)

// ArtNetID is the fixed 8-byte packet identifier every Art-Net datagram
// starts with: "Art-Net\0".
var ArtNetID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

var (
	ErrTooShort      = errors.New("artnetwire: packet too short")
	ErrBadHeader     = errors.New("artnetwire: bad Art-Net ID")
	ErrVersion       = errors.New("artnetwire: protocol version too old")
	ErrUnknownOpcode = errors.New("artnetwire: unknown opcode")
)

// UniverseAddr packs a 15-bit Art-Net universe address: net (0-127),
// subnet (0-15), universe (0-15).
type UniverseAddr uint16

// NewUniverseAddr builds a UniverseAddr from its three components.
func NewUniverseAddr(net, subnet, universe uint8) UniverseAddr {
	return UniverseAddr((uint16(net&0x7F) << 8) | (uint16(subnet&0x0F) << 4) | uint16(universe&0x0F))
}

func (u UniverseAddr) Net() uint8      { return uint8((u >> 8) & 0x7F) }
func (u UniverseAddr) SubNet() uint8   { return uint8((u >> 4) & 0x0F) }
func (u UniverseAddr) Universe() uint8 { return uint8(u & 0x0F) }

func (u UniverseAddr) String() string {
	return fmt.Sprintf("%d.%d.%d", u.Net(), u.SubNet(), u.Universe())
}

// PeekOpcode validates the header and returns the opcode without parsing
// the rest of the packet, letting the caller dispatch before copying.
func PeekOpcode(data []byte) (uint16, error) {
	if len(data) < 10 {
		return 0, ErrTooShort
	}
	for i := 0; i < 8; i++ {
		if data[i] != ArtNetID[i] {
			return 0, ErrBadHeader
		}
	}
	return binary.LittleEndian.Uint16(data[8:10]), nil
}

func putHeader(buf []byte, opcode uint16) {
	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], opcode)
}

// DMXPacket is a decoded ArtDmx (OpDmx) packet.
type DMXPacket struct {
	Sequence byte
	Physical byte
	Universe UniverseAddr
	Data     []byte
}

// EncodeDMX builds a raw ArtDmx packet. data is truncated to 512 bytes and
// padded to an even length (Art-Net requires length in [2, 512], even).
func EncodeDMX(universe UniverseAddr, sequence byte, data []byte) []byte {
	n := len(data)
	if n > 512 {
		n = 512
	}
	if n < 2 {
		n = 2
	}
	if n%2 != 0 {
		n++
	}

	buf := make([]byte, 18+n)
	putHeader(buf, OpDmx)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = sequence
	buf[13] = 0
	binary.LittleEndian.PutUint16(buf[14:16], uint16(universe))
	binary.BigEndian.PutUint16(buf[16:18], uint16(n))
	copy(buf[18:], data)
	return buf
}

// DecodeDMX parses an ArtDmx packet body (header already validated by the
// caller via PeekOpcode).
func DecodeDMX(data []byte) (*DMXPacket, error) {
	if len(data) < 18 {
		return nil, ErrTooShort
	}
	version := binary.BigEndian.Uint16(data[10:12])
	if version < ProtocolVersion {
		return nil, ErrVersion
	}

	length := int(binary.BigEndian.Uint16(data[16:18]))
	if length > 512 {
		length = 512
	}
	if len(data) < 18+length {
		length = len(data) - 18
	}

	pkt := &DMXPacket{
		Sequence: data[12],
		Physical: data[13],
		Universe: UniverseAddr(binary.LittleEndian.Uint16(data[14:16])),
		Data:     append([]byte(nil), data[18:18+length]...),
	}
	return pkt, nil
}

// EncodePoll builds an ArtPoll packet requesting PollReply from every
// listening node.
func EncodePoll() []byte {
	buf := make([]byte, 14)
	putHeader(buf, OpPoll)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = 0x00 // flags: no diagnostics, no targeted unicast reply
	buf[13] = 0x00 // diagnostic priority
	return buf
}

// PollReplyPacket is a decoded ArtPollReply (OpPollReply) packet, fields
// trimmed to what the daemon's TOD/discovery logic consumes.
type PollReplyPacket struct {
	IP          [4]byte
	Port        uint16
	ShortName   string
	LongName    string
	NumPorts    int
	SwIn        [4]byte
	SwOut       [4]byte
	NetSwitch   uint8
	SubSwitch   uint8
}

// EncodePollReply builds an ArtPollReply packet advertising the node's
// short/long names and per-port universe switches.
func EncodePollReply(ip [4]byte, shortName, longName string, netSwitch, subSwitch uint8, swIn, swOut [4]byte, numPorts int) []byte {
	buf := make([]byte, 239)
	putHeader(buf, OpPollReply)
	copy(buf[10:14], ip[:])
	binary.LittleEndian.PutUint16(buf[14:16], Port)
	binary.BigEndian.PutUint16(buf[16:18], ProtocolVersion)
	buf[18] = netSwitch
	buf[19] = subSwitch

	copy(buf[26:44], shortName)
	copy(buf[44:108], longName)

	if numPorts > 4 {
		numPorts = 4
	}
	buf[173] = byte(numPorts)
	for i := 0; i < numPorts; i++ {
		buf[174+i] = 0xC0 // output type, can output DMX
		buf[178+i] = 0x80 // good input flag
		buf[182+i] = 0x80 // good output flag
	}
	copy(buf[186:190], swIn[:])
	copy(buf[190:194], swOut[:])
	buf[200] = 0x00 // StNode style
	return buf
}

// DecodePollReply parses an ArtPollReply packet body.
func DecodePollReply(data []byte) (*PollReplyPacket, error) {
	if len(data) < 207 {
		return nil, ErrTooShort
	}
	pkt := &PollReplyPacket{
		Port:      binary.LittleEndian.Uint16(data[14:16]),
		NetSwitch: data[18],
		SubSwitch: data[19],
		NumPorts:  int(data[173]),
	}
	copy(pkt.IP[:], data[10:14])
	pkt.ShortName = trimNulls(data[26:44])
	pkt.LongName = trimNulls(data[44:108])
	copy(pkt.SwIn[:], data[186:190])
	copy(pkt.SwOut[:], data[190:194])
	return pkt, nil
}

func trimNulls(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// TodRequestPacket is a decoded ArtTodRequest (OpTodRequest) packet: a
// request for the Table of Devices on the listed universe addresses.
type TodRequestPacket struct {
	Net       uint8
	Addresses []uint8 // subnet<<4 | universe, one per requested port
}

// EncodeTodRequest builds an ArtTodRequest packet.
func EncodeTodRequest(net uint8, addresses []uint8) []byte {
	n := len(addresses)
	if n > 32 {
		n = 32
	}
	buf := make([]byte, 14+n)
	putHeader(buf, OpTodRequest)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = net
	buf[13] = byte(n)
	copy(buf[14:14+n], addresses[:n])
	return buf
}

// DecodeTodRequest parses an ArtTodRequest packet body.
func DecodeTodRequest(data []byte) (*TodRequestPacket, error) {
	if len(data) < 14 {
		return nil, ErrTooShort
	}
	n := int(data[13])
	if len(data) < 14+n {
		n = len(data) - 14
	}
	return &TodRequestPacket{
		Net:       data[12],
		Addresses: append([]uint8(nil), data[14:14+n]...),
	}, nil
}

// TodDataPacket is a decoded ArtTodData (OpTodData) packet carrying a
// node's full RDM UID list for one universe address.
type TodDataPacket struct {
	Net          uint8
	Address      uint8
	BlockCount   uint8 // for UID lists spanning multiple packets
	BlockIndex   uint8
	UIDTotal     uint16
	UIDs         [][6]byte
}

// EncodeTodData builds an ArtTodData packet for a single block of UIDs
// (≤200).
func EncodeTodData(net, address uint8, blockIndex, blockCount uint8, uidTotal uint16, uids [][6]byte) []byte {
	n := len(uids)
	if n > 200 {
		n = 200
	}
	buf := make([]byte, 24+6*n)
	putHeader(buf, OpTodData)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = 0 // RdmVer
	buf[13] = 0 // Port (1-based logical port, filled by caller if needed)
	buf[14] = net
	buf[15] = 0 // CommandResponse: full
	buf[16] = address
	binary.BigEndian.PutUint16(buf[17:19], uidTotal)
	buf[19] = blockCount
	buf[20] = blockIndex
	buf[21] = byte(n)
	for i, uid := range uids[:n] {
		copy(buf[24+6*i:], uid[:])
	}
	return buf
}

// DecodeTodData parses an ArtTodData packet body.
func DecodeTodData(data []byte) (*TodDataPacket, error) {
	if len(data) < 24 {
		return nil, ErrTooShort
	}
	n := int(data[21])
	if len(data) < 24+6*n {
		n = (len(data) - 24) / 6
	}
	pkt := &TodDataPacket{
		Net:        data[14],
		Address:    data[16],
		UIDTotal:   binary.BigEndian.Uint16(data[17:19]),
		BlockCount: data[19],
		BlockIndex: data[20],
	}
	for i := 0; i < n; i++ {
		var uid [6]byte
		copy(uid[:], data[24+6*i:30+6*i])
		pkt.UIDs = append(pkt.UIDs, uid)
	}
	return pkt, nil
}

// TodControlCommand selects the ArtTodControl action.
type TodControlCommand uint8

const (
	TodControlFlush TodControlCommand = 0x01
)

// TodControlPacket is a decoded ArtTodControl (OpTodControl) packet: a
// request to flush or otherwise manage a node's TOD for one universe.
type TodControlPacket struct {
	Net     uint8
	Command TodControlCommand
	Address uint8
}

// EncodeTodControl builds an ArtTodControl packet.
func EncodeTodControl(net uint8, command TodControlCommand, address uint8) []byte {
	buf := make([]byte, 14)
	putHeader(buf, OpTodControl)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = net
	buf[13] = 0
	return appendTodControlTail(buf, command, address)
}

func appendTodControlTail(buf []byte, command TodControlCommand, address uint8) []byte {
	tail := make([]byte, 2)
	tail[0] = byte(command)
	tail[1] = address
	return append(buf, tail...)
}

// DecodeTodControl parses an ArtTodControl packet body.
func DecodeTodControl(data []byte) (*TodControlPacket, error) {
	if len(data) < 16 {
		return nil, ErrTooShort
	}
	return &TodControlPacket{
		Net:     data[12],
		Command: TodControlCommand(data[14]),
		Address: data[15],
	}, nil
}

// RdmPacket is a decoded ArtRdm (OpRdm) packet: an encapsulated RDM request
// or response frame.
type RdmPacket struct {
	Net     uint8
	Address uint8
	RdmData []byte
}

// EncodeRdm builds an ArtRdm packet wrapping an already-encoded RDM frame.
func EncodeRdm(net, address uint8, rdmData []byte) []byte {
	buf := make([]byte, 24+len(rdmData))
	putHeader(buf, OpRdm)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = 0 // RdmVer
	buf[13] = 0 // filler
	buf[14] = net
	copy(buf[20:24], []byte{0, 0, 0, address})
	copy(buf[24:], rdmData)
	return buf
}

// DecodeRdm parses an ArtRdm packet body.
func DecodeRdm(data []byte) (*RdmPacket, error) {
	if len(data) < 24 {
		return nil, ErrTooShort
	}
	return &RdmPacket{
		Net:     data[14],
		Address: data[23],
		RdmData: append([]byte(nil), data[24:]...),
	}, nil
}

// IPProgPacket is a decoded ArtIpProg (OpIPProg) packet: a request to
// change the node's bound IP configuration.
type IPProgPacket struct {
	Command uint8
	IP      [4]byte
	Netmask [4]byte
	Port    uint16
}

// DecodeIPProg parses an ArtIpProg packet body.
func DecodeIPProg(data []byte) (*IPProgPacket, error) {
	if len(data) < 34 {
		return nil, ErrTooShort
	}
	pkt := &IPProgPacket{Command: data[14]}
	copy(pkt.IP[:], data[22:26])
	copy(pkt.Netmask[:], data[26:30])
	pkt.Port = binary.BigEndian.Uint16(data[30:32])
	return pkt, nil
}

// EncodeIPProgReply builds an ArtIpProgReply packet echoing the node's
// current IP configuration.
func EncodeIPProgReply(ip, netmask [4]byte, port uint16) []byte {
	buf := make([]byte, 34)
	putHeader(buf, OpIPProgReply)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	copy(buf[22:26], ip[:])
	copy(buf[26:30], netmask[:])
	binary.BigEndian.PutUint16(buf[30:32], port)
	return buf
}
