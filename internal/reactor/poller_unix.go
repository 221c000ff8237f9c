//go:build !linux && (darwin || freebsd || netbsd || openbsd)

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// selectPoller is the BSD/Darwin fallback descriptor-readiness primitive.
// It's a plain select(2) loop rather than kqueue: the reactor's readiness
// set is small (one UDP socket per transport plugin) and select's O(n) fd
// scan is not a real cost at that scale, so this stays close to what the
// Linux backend expresses instead of adding a second, richer polling API.
type selectPoller struct {
	fds map[int]struct{}
}

func newPoller() (poller, error) {
	return &selectPoller{fds: make(map[int]struct{})}, nil
}

func (p *selectPoller) add(fd int) error {
	p.fds[fd] = struct{}{}
	return nil
}

func (p *selectPoller) remove(fd int) error {
	delete(p.fds, fd)
	return nil
}

// fdSetBit and fdSetIsSet manipulate a unix.FdSet's bitmap directly: the
// x/sys/unix FdSet type exposes only its raw Bits array, not Set/IsSet
// helpers (those live in the older, non-generic syscall package).
func fdSetBit(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdSetIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

func (p *selectPoller) wait(timeout time.Duration) ([]int, error) {
	if len(p.fds) == 0 {
		time.Sleep(timeout)
		return nil, nil
	}

	var set unix.FdSet
	maxFD := 0
	for fd := range p.fds {
		fdSetBit(&set, fd)
		if fd > maxFD {
			maxFD = fd
		}
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	n, err := unix.Select(maxFD+1, &set, nil, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return nil, errInterrupted
		}
		return nil, err
	}

	ready := make([]int, 0, n)
	for fd := range p.fds {
		if fdSetIsSet(&set, fd) {
			ready = append(ready, fd)
		}
	}
	return ready, nil
}

func (p *selectPoller) close() error {
	return nil
}
