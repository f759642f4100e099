package codec

import (
	"bytes"
	"testing"
)

func TestEncodeAuth(t *testing.T) {
	frame, err := EncodeAuth(AuthMessage{Token: "abc123"})
	if err != nil {
		t.Fatalf("EncodeAuth: %v", err)
	}
	if frame[0] != 0xB5 || frame[1] != 0x62 {
		t.Fatalf("bad start bytes: %x %x", frame[0], frame[1])
	}
	if frame[3] != MsgAuth {
		t.Fatalf("message_id = %d, want %d", frame[3], MsgAuth)
	}
	if !bytes.Equal(frame[6:6+6], []byte("abc123")) {
		t.Fatalf("payload mismatch: %q", frame[6:12])
	}
	if !VerifyChecksum(frame) {
		t.Fatalf("checksum did not verify")
	}
}

func TestEncodeAuthTooLarge(t *testing.T) {
	_, err := EncodeAuth(AuthMessage{Token: string(make([]byte, MaxTokenSize+1))})
	if err != ErrNotEnoughSpace {
		t.Fatalf("err = %v, want ErrNotEnoughSpace", err)
	}
}

func TestEncodeECEFPosition(t *testing.T) {
	frame, warn := EncodeECEFPosition(ECEFPositionMessage{XMeters: 1.005, YMeters: -2.5, ZMeters: 0})
	if warn != nil {
		t.Fatalf("unexpected warning: %v", warn)
	}
	if !VerifyChecksum(frame) {
		t.Fatalf("checksum did not verify")
	}

	payload := frame[6 : 6+12]
	x := int32(uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24)
	y := int32(uint32(payload[4]) | uint32(payload[5])<<8 | uint32(payload[6])<<16 | uint32(payload[7])<<24)
	z := int32(uint32(payload[8]) | uint32(payload[9])<<8 | uint32(payload[10])<<16 | uint32(payload[11])<<24)

	// 1.005 has no exact float64 form: 1.005*100 evaluates to just below
	// 100.5, so it rounds to 100. -2.5 m is exactly -250 cm.
	if x != 100 {
		t.Errorf("x = %d, want 100", x)
	}
	if y != -250 {
		t.Errorf("y = %d, want -250", y)
	}
	if z != 0 {
		t.Errorf("z = %d, want 0", z)
	}
}

func TestEncodeLLAPosition(t *testing.T) {
	frame, warn := EncodeLLAPosition(LLAPositionMessage{LatDeg: 37.7749, LonDeg: -122.4194, AltMeters: 42.0})
	if warn != nil {
		t.Fatalf("unexpected warning: %v", warn)
	}
	payload := frame[6 : 6+12]
	lat := int32(uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24)
	lon := int32(uint32(payload[4]) | uint32(payload[5])<<8 | uint32(payload[6])<<16 | uint32(payload[7])<<24)
	alt := int32(uint32(payload[8]) | uint32(payload[9])<<8 | uint32(payload[10])<<16 | uint32(payload[11])<<24)

	if lat != 377749000 {
		t.Errorf("lat = %d, want 377749000", lat)
	}
	if lon != -1224194000 {
		t.Errorf("lon = %d, want -1224194000", lon)
	}
	if alt != 42000 {
		t.Errorf("alt = %d, want 42000", alt)
	}
}

func TestEncodeLLAPositionClamps(t *testing.T) {
	_, warn := EncodeLLAPosition(LLAPositionMessage{LatDeg: 1e10, LonDeg: 0, AltMeters: 0})
	if warn == nil {
		t.Fatalf("expected a quantisation warning")
	}
}

func TestEncodeBeaconTooLarge(t *testing.T) {
	_, err := EncodeBeacon(BeaconMessage{ID: string(make([]byte, MaxBeaconIDSize+1))})
	if err != ErrNotEnoughSpace {
		t.Fatalf("err = %v, want ErrNotEnoughSpace", err)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a, _ := EncodeLLAPosition(LLAPositionMessage{LatDeg: 1, LonDeg: 2, AltMeters: 3})
	b, _ := EncodeLLAPosition(LLAPositionMessage{LatDeg: 1, LonDeg: 2, AltMeters: 3})
	if !bytes.Equal(a, b) {
		t.Fatalf("two encodes of equal input produced different bytes")
	}
}

func TestChecksumDetectsMutation(t *testing.T) {
	frame, _ := EncodeBeacon(BeaconMessage{ID: "station-42"})
	mutated := append([]byte(nil), frame...)
	mutated[len(mutated)-5] ^= 0xFF // mutate a payload byte, not a start byte
	if VerifyChecksum(mutated) {
		t.Fatalf("checksum verified after payload mutation")
	}
}
