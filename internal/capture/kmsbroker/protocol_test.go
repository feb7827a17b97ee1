//go:build linux

package kmsbroker

import "testing"

func TestRequestRoundTrip(t *testing.T) {
	req := Request{ProtocolVersion: ProtocolVersion, Type: ReqGetKMS, NewFD: 0}
	buf := encodeRequest(req)

	got, err := decodeRequest(buf)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if got != req {
		t.Fatalf("decodeRequest() = %+v, want %+v", got, req)
	}
}

func TestDecodeRequestRejectsShortBuffer(t *testing.T) {
	if _, err := decodeRequest([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error decoding short buffer")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	var resp Response
	resp.ProtocolVersion = ProtocolVersion
	resp.Result = ResultOK
	resp.NumItems = 2
	resp.Items[0] = Item{FourCC: 0x34325258, Modifier: 7, Width: 1920, Height: 1080, ConnectorID: 42, NumFDs: 1}
	resp.Items[1] = Item{FourCC: 0x34325258, IsCursor: true, NumFDs: 1}
	resp.setErrString("")

	buf := encodeResponse(resp)
	got, err := decodeResponse(buf)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}

	if got.NumItems != resp.NumItems {
		t.Fatalf("NumItems = %d, want %d", got.NumItems, resp.NumItems)
	}
	if got.Items[0].FourCC != resp.Items[0].FourCC || got.Items[0].ConnectorID != resp.Items[0].ConnectorID {
		t.Fatalf("Items[0] = %+v, want %+v", got.Items[0], resp.Items[0])
	}
	if !got.Items[1].IsCursor {
		t.Fatal("Items[1].IsCursor lost in round trip")
	}
}

func TestResponseErrStringRoundTrip(t *testing.T) {
	var resp Response
	resp.setErrString("planes unavailable: no crtc active")
	if got := resp.ErrString(); got != "planes unavailable: no crtc active" {
		t.Fatalf("ErrString() = %q", got)
	}
}

func TestResultErrorMapping(t *testing.T) {
	tests := []struct {
		result  int32
		wantNil bool
	}{
		{ResultOK, true},
		{ResultPlanesUnavailable, false},
		{ResultIoctlFailed, false},
		{ResultProtocolMismatch, false},
	}
	for _, tt := range tests {
		resp := Response{Result: tt.result}
		err := resp.ResultError()
		if (err == nil) != tt.wantNil {
			t.Fatalf("ResultError() for result=%d: err=%v, wantNil=%v", tt.result, err, tt.wantNil)
		}
	}
}
