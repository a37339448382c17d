package tpm2sapi

import (
	"bytes"
	"testing"

	"github.com/abrmd-go/tabrmd/internal/tpm2header"
)

func withHeader(code uint32, body []byte) []byte {
	hdr := make([]byte, tpm2header.Size)
	_ = tpm2header.Encode(tpm2header.Header{
		Tag:  tpm2header.TagNoSessions,
		Size: uint32(tpm2header.Size + len(body)),
		Code: code,
	}, hdr)
	return append(hdr, body...)
}

func TestMarshalStartup(t *testing.T) {
	got := MarshalStartup(SUClear)
	want := []byte{0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalStartup(SUClear) = % x, want % x", got, want)
	}

	got = MarshalStartup(SUState)
	want = []byte{0x00, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalStartup(SUState) = % x, want % x", got, want)
	}
}

func TestMarshalGetCapability(t *testing.T) {
	got := MarshalGetCapability(0x6, 0x100, 8)
	want := []byte{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x08}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalGetCapability() = % x, want % x", got, want)
	}
}

func TestMarshalContextSaveFlush(t *testing.T) {
	if got, want := MarshalContextSave(0x80000001), []byte{0x80, 0x00, 0x00, 0x01}; !bytes.Equal(got, want) {
		t.Errorf("MarshalContextSave() = % x, want % x", got, want)
	}
	if got, want := MarshalFlushContext(0x80000001), []byte{0x80, 0x00, 0x00, 0x01}; !bytes.Equal(got, want) {
		t.Errorf("MarshalFlushContext() = % x, want % x", got, want)
	}
}

func TestContextSaveRoundTrip(t *testing.T) {
	blob := ContextBlob{
		Sequence:    42,
		SavedHandle: 0x80000001,
		Hierarchy:   0x40000001,
		Blob:        []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	loadBody := MarshalContextLoad(blob)
	resp := withHeader(CCContextLoad, loadBody)

	got, err := UnmarshalContextSave(resp)
	if err != nil {
		t.Fatalf("UnmarshalContextSave() error = %v", err)
	}
	if got.Sequence != blob.Sequence || got.SavedHandle != blob.SavedHandle || got.Hierarchy != blob.Hierarchy {
		t.Errorf("UnmarshalContextSave() = %+v, want fields matching %+v", got, blob)
	}
	if !bytes.Equal(got.Blob, blob.Blob) {
		t.Errorf("UnmarshalContextSave() blob = % x, want % x", got.Blob, blob.Blob)
	}
}

func TestUnmarshalContextLoad(t *testing.T) {
	body := []byte{0x80, 0x00, 0x00, 0x02}
	resp := withHeader(CCContextLoad, body)

	handle, err := UnmarshalContextLoad(resp)
	if err != nil {
		t.Fatalf("UnmarshalContextLoad() error = %v", err)
	}
	if handle != 0x80000002 {
		t.Errorf("UnmarshalContextLoad() = 0x%x, want 0x80000002", handle)
	}
}

func TestUnmarshalGetCapabilityProperties(t *testing.T) {
	body := []byte{
		0x01,                   // moreData = true
		0x00, 0x00, 0x00, 0x06, // echoed TPM_CAP_TPM_PROPERTIES
		0x00, 0x00, 0x00, 0x02, // count = 2
		0x00, 0x00, 0x01, 0x17, 0x00, 0x00, 0x04, 0x00, // PT_MAX_COMMAND_SIZE = 0x400
		0x00, 0x00, 0x01, 0x18, 0x00, 0x00, 0x04, 0x00, // PT_MAX_RESPONSE_SIZE = 0x400
	}
	resp := withHeader(CCGetCapability, body)

	more, props, err := UnmarshalGetCapabilityProperties(resp)
	if err != nil {
		t.Fatalf("UnmarshalGetCapabilityProperties() error = %v", err)
	}
	if !more {
		t.Errorf("more = false, want true")
	}
	if props[tpm2header.PTMaxCommandSize] != 0x400 {
		t.Errorf("props[PTMaxCommandSize] = 0x%x, want 0x400", props[tpm2header.PTMaxCommandSize])
	}
	if props[tpm2header.PTMaxResponseSize] != 0x400 {
		t.Errorf("props[PTMaxResponseSize] = 0x%x, want 0x400", props[tpm2header.PTMaxResponseSize])
	}
}

func TestUnmarshalGetCapabilityProperties_Truncated(t *testing.T) {
	body := []byte{0x00, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x05} // claims 5 entries, has none
	resp := withHeader(CCGetCapability, body)

	_, _, err := UnmarshalGetCapabilityProperties(resp)
	if err == nil {
		t.Fatalf("expected error for truncated response, got nil")
	}
}

func TestUnmarshalGetCapabilityHandles(t *testing.T) {
	body := []byte{
		0x00,                   // moreData = false
		0x00, 0x00, 0x00, 0x01, // echoed TPM_CAP_HANDLES
		0x00, 0x00, 0x00, 0x02, // count = 2
		0x80, 0x00, 0x00, 0x01,
		0x80, 0x00, 0x00, 0x02,
	}
	resp := withHeader(CCGetCapability, body)

	more, handles, err := UnmarshalGetCapabilityHandles(resp)
	if err != nil {
		t.Fatalf("UnmarshalGetCapabilityHandles() error = %v", err)
	}
	if more {
		t.Errorf("more = true, want false")
	}
	if len(handles) != 2 || handles[0] != 0x80000001 || handles[1] != 0x80000002 {
		t.Errorf("handles = %v, want [0x80000001 0x80000002]", handles)
	}
}
