//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package reactor

import (
	"fmt"
	"runtime"
)

// newPoller has no descriptor-readiness backend for this platform. The
// daemon's supported targets are Linux (epoll) and the BSD family
// (select); other platforms fail fast at reactor construction rather than
// silently busy-polling.
func newPoller() (poller, error) {
	return nil, fmt.Errorf("reactor: no poller implementation for GOOS=%s", runtime.GOOS)
}
