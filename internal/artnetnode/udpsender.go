package artnetnode

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// UDPSender is the production Sender: a single non-blocking UDP socket
// opened with SO_BROADCAST and SO_REUSEADDR, read directly through
// golang.org/x/sys/unix so its file descriptor can be registered with
// internal/reactor (ties the Art-Net node's socket into the
// same single-threaded loop as everything else - net.UDPConn hides its fd
// behind a goroutine-per-read model that doesn't fit that contract).
type UDPSender struct {
	fd            int
	broadcastAddr [4]byte
	port          int
}

// NewUDPSender opens a UDP socket bound to port on every interface,
// broadcasting to broadcastAddr (typically the /24 broadcast address of the
// selected Art-Net interface).
func NewUDPSender(port int, broadcastAddr net.IP) (*UDPSender, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("artnetnode: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("artnetnode: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("artnetnode: SO_BROADCAST: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("artnetnode: SetNonblock: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("artnetnode: bind :%d: %w", port, err)
	}

	var bcast [4]byte
	copy(bcast[:], broadcastAddr.To4())

	return &UDPSender{fd: fd, broadcastAddr: bcast, port: port}, nil
}

// Fd returns the raw socket descriptor for registration with
// internal/reactor.RegisterReader.
func (s *UDPSender) Fd() int { return s.fd }

// SendTo implements Sender.
func (s *UDPSender) SendTo(data []byte, dst net.IP) error {
	var addr [4]byte
	copy(addr[:], dst.To4())
	return unix.Sendto(s.fd, data, 0, &unix.SockaddrInet4{Port: s.port, Addr: addr})
}

// Broadcast implements Sender.
func (s *UDPSender) Broadcast(data []byte) error {
	return unix.Sendto(s.fd, data, 0, &unix.SockaddrInet4{Port: s.port, Addr: s.broadcastAddr})
}

// Recv reads one pending datagram. Callers invoke this from the reactor's
// read callback registered against Fd().
func (s *UDPSender) Recv(buf []byte) (n int, src net.IP, err error) {
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, nil, err
	}
	sa4, ok := from.(*unix.SockaddrInet4)
	if !ok {
		return n, nil, fmt.Errorf("artnetnode: unexpected sockaddr type %T", from)
	}
	return n, net.IPv4(sa4.Addr[0], sa4.Addr[1], sa4.Addr[2], sa4.Addr[3]), nil
}

// Close releases the socket.
func (s *UDPSender) Close() error {
	return unix.Close(s.fd)
}
