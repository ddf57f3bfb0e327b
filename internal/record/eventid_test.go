package record

import (
	"bytes"
	"testing"

	"github.com/route-beacon/bmp-proxy/internal/bmp"
)

func TestEventID_SameAcrossOpenBMPWrappers(t *testing.T) {
	// Same BMP message wrapped in two frames with different collector hashes.
	bmpPayload := []byte{0x03, 0x00, 0x00, 0x00, 0x0A, 0x04, 0xAA, 0xBB, 0xCC, 0xDD}

	frameA, err := bmp.EncodeOpenBMPFrame(0xAAAAAAAA, bmpPayload)
	if err != nil {
		t.Fatalf("encode A: %v", err)
	}
	frameB, err := bmp.EncodeOpenBMPFrame(0xBBBBBBBB, bmpPayload)
	if err != nil {
		t.Fatalf("encode B: %v", err)
	}

	resA, err := bmp.DecodeOpenBMPFrame(frameA, 16*1024*1024)
	if err != nil {
		t.Fatalf("decode A: %v", err)
	}
	resB, err := bmp.DecodeOpenBMPFrame(frameB, 16*1024*1024)
	if err != nil {
		t.Fatalf("decode B: %v", err)
	}

	if !bytes.Equal(ComputeEventID(resA.BMPBytes), ComputeEventID(resB.BMPBytes)) {
		t.Fatal("event_id must not depend on the OpenBMP wrapper")
	}
}

func TestComputeEventID_Deterministic(t *testing.T) {
	data := []byte("test BMP message payload")
	h1 := ComputeEventID(data)
	h2 := ComputeEventID(data)

	if len(h1) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(h1))
	}
	if !bytes.Equal(h1, h2) {
		t.Fatal("hashes differ for same input")
	}
}

func TestComputeEventID_DifferentInputs(t *testing.T) {
	if bytes.Equal(ComputeEventID([]byte("message A")), ComputeEventID([]byte("message B"))) {
		t.Fatal("hashes should differ for different inputs")
	}
}

func TestEventIDString(t *testing.T) {
	// SHA-256 of the empty input.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := EventIDString(nil); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
