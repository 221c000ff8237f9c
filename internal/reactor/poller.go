package reactor

import (
	"errors"
	"time"
)

// errInterrupted marks a wait() that was interrupted by a signal and
// should be retried transparently.
var errInterrupted = errors.New("reactor: wait interrupted")

// poller is the platform-specific descriptor-readiness primitive the
// Reactor drives. add/remove register interest in read-readiness for fd;
// wait blocks for up to timeout and returns the fds that became
// read-ready.
type poller interface {
	add(fd int) error
	remove(fd int) error
	wait(timeout time.Duration) ([]int, error)
	close() error
}
