package kmsbroker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	captureerrors "github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/errors"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

var log = logging.L("kmsbroker")

// connectTimeout bounds how long the parent waits for the helper to
// connect back to the abstract handoff socket (spec §9).
const connectTimeout = 5 * time.Second

// Broker owns the privileged helper's lifecycle: spawn, handoff, serial
// request/response, and SIGKILL on Close (spec §4.2, §5 lifecycle table:
// "forked at capture start, killed with SIGKILL at capture stop").
type Broker struct {
	mu   sync.Mutex
	cmd  *exec.Cmd
	sock int // socketpair end the parent keeps after handoff
}

// New spawns the helper and performs the REPLACE_CONNECTION handoff. How
// the helper is launched is chosen by launchHelper (direct, pkexec inside a
// sandbox-less session, or flatpak-spawn --host inside a Flatpak).
func New(ctx context.Context, helperPath string) (*Broker, error) {
	parentSock, childSock, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, captureerrors.FatalCapture("kmsbroker: socketpair: %v", err)
	}

	handoffPath, handoffFD, err := newAbstractListener()
	if err != nil {
		unix.Close(parentSock)
		unix.Close(childSock)
		return nil, captureerrors.FatalCapture("kmsbroker: handoff listener: %v", err)
	}
	defer unix.Close(handoffFD)

	cmd, err := launchHelper(helperPath, handoffPath)
	if err != nil {
		unix.Close(parentSock)
		unix.Close(childSock)
		return nil, captureerrors.FatalCapture("kmsbroker: launch helper: %v", err)
	}

	conn, err := acceptWithTimeout(handoffFD, connectTimeout)
	if err != nil {
		_ = cmd.Process.Kill()
		unix.Close(parentSock)
		unix.Close(childSock)
		return nil, captureerrors.FatalCapture("kmsbroker: helper did not connect in time: %v", err)
	}

	// Hand the child end of the socketpair to the helper over the
	// handoff connection, then close our copy: all subsequent traffic
	// goes over parentSock so the helper dies with the parent (spec §4.2).
	if err := sendRequest(conn, Request{ProtocolVersion: ProtocolVersion, Type: ReqReplaceConnection, NewFD: int32(childSock)}, []int{childSock}); err != nil {
		unix.Close(conn)
		_ = cmd.Process.Kill()
		unix.Close(parentSock)
		unix.Close(childSock)
		return nil, captureerrors.FatalCapture("kmsbroker: replace_connection handoff: %v", err)
	}
	unix.Close(conn)
	unix.Close(childSock)

	b := &Broker{cmd: cmd, sock: parentSock}
	log.Info("kms broker ready", "pid", cmd.Process.Pid)
	return b, nil
}

// GetKMS requests the current set of planes from the helper. It retries
// internally on EAGAIN by polling both recvmsg and waitpid(WNOHANG) so a
// dead helper unblocks the caller promptly (spec §4.2 concurrency model).
func (b *Broker) GetKMS(ctx context.Context) (Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := sendRequest(b.sock, Request{ProtocolVersion: ProtocolVersion, Type: ReqGetKMS}, nil); err != nil {
		return Response{}, captureerrors.TransientCapture("kmsbroker: send get_kms: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, _, ok, err := recvResponse(b.sock)
		if err != nil {
			return Response{}, captureerrors.TransientCapture("kmsbroker: recv: %v", err)
		}
		if ok {
			if resp.ProtocolVersion != ProtocolVersion {
				log.Warn("kms broker protocol mismatch", "got", resp.ProtocolVersion, "want", ProtocolVersion)
				return Response{}, captureerrors.FatalCapture("%w: got %d want %d", captureerrors.ErrBrokerProtocol, resp.ProtocolVersion, ProtocolVersion)
			}
			if err := resp.ResultError(); err != nil {
				return resp, captureerrors.TransientCapture("%v", err)
			}
			if resp.NumItems == 0 {
				return resp, captureerrors.TransientCapture("%w", captureerrors.ErrNoPlanesReturned)
			}
			return resp, nil
		}

		if b.helperExited() {
			return Response{}, captureerrors.FatalCapture("kmsbroker: helper process exited")
		}
		if time.Now().After(deadline) {
			return Response{}, captureerrors.TransientCapture("kmsbroker: get_kms timed out")
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (b *Broker) helperExited() bool {
	var status syscall.WaitStatus
	pid, err := syscall.Wait4(b.cmd.Process.Pid, &status, syscall.WNOHANG, nil)
	return err == nil && pid == b.cmd.Process.Pid
}

// Close kills the helper with SIGKILL and closes the retained socket end.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	unix.Close(b.sock)
	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Signal(syscall.SIGKILL)
		_, _ = b.cmd.Process.Wait()
	}
	return nil
}

// launchHelper execs the helper directly if the caller owns CAP_SYS_ADMIN,
// or via pkexec / flatpak-spawn --host otherwise, matching spec §4.2.
func launchHelper(helperPath, handoffPath string) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	switch {
	case hasCapSysAdmin():
		cmd = exec.Command(helperPath, "--handoff", handoffPath)
	case insideFlatpak():
		cmd = exec.Command("flatpak-spawn", "--host", helperPath, "--handoff", handoffPath)
	default:
		cmd = exec.Command("pkexec", helperPath, "--handoff", handoffPath)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	return cmd, nil
}

func insideFlatpak() bool {
	_, err := os.Stat("/.flatpak-info")
	return err == nil
}
