//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux descriptor-readiness primitive: a real
// epoll_create1/epoll_ctl/epoll_wait loop, matching the single-threaded
// descriptor-readiness model of the original OLA SelectServer this was
// distilled from (original_source/include/ola/network/SelectServer.h),
// which drives select()/poll() the same way.
type epollPoller struct {
	epfd int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: fd}, nil
}

func (p *epollPoller) add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) remove(fd int) error {
	// Linux ignores the event argument for EPOLL_CTL_DEL, but old kernels
	// (< 2.6.9) require a non-nil pointer.
	ev := unix.EpollEvent{}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &ev)
}

func (p *epollPoller) wait(timeout time.Duration) ([]int, error) {
	var events [64]unix.EpollEvent

	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}

	n, err := unix.EpollWait(p.epfd, events[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, errInterrupted
		}
		return nil, err
	}

	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ready = append(ready, int(events[i].Fd))
	}
	return ready, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
