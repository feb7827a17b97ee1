//go:build linux

package kmsbroker

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

const requestWireSize = 4 + 4 + 4

func encodeRequest(req Request) []byte {
	buf := make([]byte, requestWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], req.ProtocolVersion)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(req.Type))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(req.NewFD))
	return buf
}

func decodeRequest(buf []byte) (Request, error) {
	if len(buf) < requestWireSize {
		return Request{}, fmt.Errorf("kmsbroker: short request (%d bytes)", len(buf))
	}
	return Request{
		ProtocolVersion: binary.LittleEndian.Uint32(buf[0:4]),
		Type:            int32(binary.LittleEndian.Uint32(buf[4:8])),
		NewFD:           int32(binary.LittleEndian.Uint32(buf[8:12])),
	}, nil
}

// itemWireSize leaves out FDs, which travel as ancillary data, and the HDR
// field, which is not sent.
const itemWireSize = 4 + 8 + 4 + 4 + 4 + 4 + 4*4 + 8*4 + 4

func encodeResponse(resp Response) []byte {
	buf := make([]byte, 4+4+errBufLen+maxItems*itemWireSize+4)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], resp.ProtocolVersion)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(resp.Result))
	off += 4
	copy(buf[off:off+errBufLen], resp.Err[:])
	off += errBufLen

	for i := 0; i < maxItems; i++ {
		it := resp.Items[i]
		binary.LittleEndian.PutUint32(buf[off:], it.FourCC)
		off += 4
		binary.LittleEndian.PutUint64(buf[off:], it.Modifier)
		off += 8
		binary.LittleEndian.PutUint32(buf[off:], uint32(it.Width))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(it.Height))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], it.ConnectorID)
		off += 4
		var cursor uint32
		if it.IsCursor {
			cursor = 1
		}
		binary.LittleEndian.PutUint32(buf[off:], cursor)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(it.Source.X))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(it.Source.Y))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(it.Source.W))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(it.Source.H))
		off += 4
		for j := 0; j < maxPlanesPerItem; j++ {
			binary.LittleEndian.PutUint32(buf[off:], it.Offsets[j])
			off += 4
		}
		for j := 0; j < maxPlanesPerItem; j++ {
			binary.LittleEndian.PutUint32(buf[off:], it.Pitches[j])
			off += 4
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(it.NumFDs))
		off += 4
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(resp.NumItems))
	return buf
}

func decodeResponse(buf []byte) (Response, error) {
	want := 4 + 4 + errBufLen + maxItems*itemWireSize + 4
	if len(buf) < want {
		return Response{}, fmt.Errorf("kmsbroker: short response (%d of %d bytes)", len(buf), want)
	}

	var resp Response
	off := 0
	resp.ProtocolVersion = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	resp.Result = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	copy(resp.Err[:], buf[off:off+errBufLen])
	off += errBufLen

	for i := 0; i < maxItems; i++ {
		var it Item
		it.FourCC = binary.LittleEndian.Uint32(buf[off:])
		off += 4
		it.Modifier = binary.LittleEndian.Uint64(buf[off:])
		off += 8
		it.Width = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		it.Height = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		it.ConnectorID = binary.LittleEndian.Uint32(buf[off:])
		off += 4
		it.IsCursor = binary.LittleEndian.Uint32(buf[off:]) != 0
		off += 4
		it.Source.X = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		it.Source.Y = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		it.Source.W = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		it.Source.H = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		for j := 0; j < maxPlanesPerItem; j++ {
			it.Offsets[j] = binary.LittleEndian.Uint32(buf[off:])
			off += 4
		}
		for j := 0; j < maxPlanesPerItem; j++ {
			it.Pitches[j] = binary.LittleEndian.Uint32(buf[off:])
			off += 4
		}
		it.NumFDs = int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		resp.Items[i] = it
	}

	resp.NumItems = int32(binary.LittleEndian.Uint32(buf[off:]))
	return resp, nil
}

// sendRequest writes a fixed-size request, optionally carrying fds as
// SCM_RIGHTS ancillary data (used for REPLACE_CONNECTION).
func sendRequest(fd int, req Request, rightsFDs []int) error {
	buf := encodeRequest(req)
	var oob []byte
	if len(rightsFDs) > 0 {
		oob = unix.UnixRights(rightsFDs...)
	}
	return unix.Sendmsg(fd, buf, oob, nil, 0)
}

// recvResponse performs a non-blocking recvmsg, returning (resp, fds, ok,
// err). ok is false when the call would block (EAGAIN), which callers use
// to continue polling waitpid(WNOHANG) on the helper (spec §4.2
// concurrency model).
func recvResponse(fd int) (Response, []int, bool, error) {
	want := 4 + 4 + errBufLen + maxItems*itemWireSize + 4
	buf := make([]byte, want)
	oob := make([]byte, unix.CmsgSpace(maxItems*maxPlanesPerItem*4))

	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, unix.MSG_DONTWAIT)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return Response{}, nil, false, nil
	}
	if err != nil {
		return Response{}, nil, true, err
	}

	resp, err := decodeResponse(buf[:n])
	if err != nil {
		return Response{}, nil, true, err
	}

	var fds []int
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, c := range cmsgs {
				got, err := unix.ParseUnixRights(&c)
				if err == nil {
					fds = append(fds, got...)
				}
			}
		}
	}

	assignFDs(&resp, fds)
	return resp, fds, true, nil
}

// assignFDs distributes the flat fd list across items in order, NumFDs per
// item, matching the order the helper wrote them in.
func assignFDs(resp *Response, fds []int) {
	i := 0
	for item := 0; item < int(resp.NumItems) && item < maxItems; item++ {
		n := resp.Items[item].NumFDs
		for p := 0; p < n && p < maxPlanesPerItem && i < len(fds); p++ {
			resp.Items[item].FDs[p] = fds[i]
			i++
		}
	}
}
