//go:build linux

package kmsbroker

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RunHelper is the privileged-side mainloop: dial the handoff socket,
// accept the REPLACE_CONNECTION handoff, then serve GET_KMS requests
// serially until the socket is closed (the parent died or called Close).
func RunHelper(handoffPath string) error {
	sock, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	defer unix.Close(sock)

	addr := &unix.SockaddrUnix{Name: handoffAddrName(handoffPath)}
	if err := unix.Connect(sock, addr); err != nil {
		return fmt.Errorf("connect %s: %w", handoffPath, err)
	}

	workFD, err := receiveHandoff(sock)
	if err != nil {
		return fmt.Errorf("receive handoff: %w", err)
	}
	defer unix.Close(workFD)

	return serveRequests(workFD)
}

// handoffAddrName converts the "@name" form newAbstractListener returns
// into the raw abstract-socket name (leading NUL, no "@").
func handoffAddrName(path string) string {
	if len(path) > 0 && path[0] == '@' {
		return "\x00" + path[1:]
	}
	return path
}

// receiveHandoff reads the REPLACE_CONNECTION request and returns the fd
// passed as ancillary data.
func receiveHandoff(sock int) (int, error) {
	buf := make([]byte, requestWireSize)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(sock, buf, oob, 0)
	if err != nil {
		return -1, err
	}
	req, err := decodeRequest(buf[:n])
	if err != nil {
		return -1, err
	}
	if req.Type != ReqReplaceConnection {
		return -1, fmt.Errorf("expected REPLACE_CONNECTION, got type %d", req.Type)
	}
	if req.ProtocolVersion != ProtocolVersion {
		return -1, fmt.Errorf("protocol version mismatch: got %d want %d", req.ProtocolVersion, ProtocolVersion)
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, err
	}
	for _, c := range cmsgs {
		fds, err := unix.ParseUnixRights(&c)
		if err == nil && len(fds) > 0 {
			return fds[0], nil
		}
	}
	return -1, fmt.Errorf("no fd received in REPLACE_CONNECTION")
}

// serveRequests runs the serial request loop: decode one fixed-size
// request, dispatch, encode and send the response. Any fatal read error
// (the parent closed its end) ends the loop.
func serveRequests(sock int) error {
	for {
		buf := make([]byte, requestWireSize)
		n, err := unix.Read(sock, buf)
		if err != nil || n == 0 {
			return nil
		}
		req, err := decodeRequest(buf[:n])
		if err != nil {
			continue
		}
		if req.ProtocolVersion != ProtocolVersion {
			log.Warn("kms broker protocol mismatch", "got", req.ProtocolVersion, "want", ProtocolVersion)
			continue
		}

		switch req.Type {
		case ReqGetKMS:
			resp, fds := queryKMS()
			out := encodeResponse(resp)
			var oob []byte
			if len(fds) > 0 {
				oob = unix.UnixRights(fds...)
			}
			if err := unix.Sendmsg(sock, out, oob, nil, 0); err != nil {
				return err
			}
		}
	}
}
