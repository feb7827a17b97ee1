//go:build linux

package kmsbroker

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// newAbstractListener creates a Linux abstract-namespace Unix socket
// (leading NUL byte in the address) instead of the `$HOME`-relative
// file-backed path spec §4.2 describes literally. An abstract socket has
// no directory entry to unlink, so there is nothing left behind if the
// parent dies before reaching the unlink step (spec §9 open question,
// resolved in DESIGN.md).
func newAbstractListener() (path string, fd int, err error) {
	fd, err = unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return "", -1, fmt.Errorf("socket: %w", err)
	}

	name := fmt.Sprintf("gsr-%d-%d", os.Getpid(), time.Now().UnixNano())
	addr := &unix.SockaddrUnix{Name: "\x00" + name}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return "", -1, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return "", -1, fmt.Errorf("listen: %w", err)
	}

	return "@" + name, fd, nil
}

// acceptWithTimeout blocks until a peer connects to listenFD or timeout
// elapses, matching the 5-second handoff timeout spec §9 names.
func acceptWithTimeout(listenFD int, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)

	for {
		fds := []unix.PollFd{{Fd: int32(listenFD), Events: unix.POLLIN}}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return -1, fmt.Errorf("timed out waiting for helper to connect")
		}
		n, err := unix.Poll(fds, int(remaining.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return -1, err
		}
		if n == 0 {
			return -1, fmt.Errorf("timed out waiting for helper to connect")
		}
		nfd, _, err := unix.Accept(listenFD)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return -1, err
		}
		return nfd, nil
	}
}

// hasCapSysAdmin reports whether the current process runs with effective
// uid 0, which it takes as holding CAP_SYS_ADMIN, letting the parent exec
// the helper directly instead of going through pkexec.
func hasCapSysAdmin() bool {
	return os.Geteuid() == 0
}
