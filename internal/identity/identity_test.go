package identity

import "testing"

func TestFixed(t *testing.T) {
	if Fixed(0xcafe).DeviceID() != 0xcafe {
		t.Fatalf("fixed id mismatch")
	}
}

func TestFromSerialStable(t *testing.T) {
	a := FromSerial("E6614103E7452D2F")
	b := FromSerial(" E6614103E7452D2F ")
	if a.DeviceID() != b.DeviceID() {
		t.Fatalf("serial hash not stable: %08x vs %08x", a.DeviceID(), b.DeviceID())
	}
	if a.DeviceID() == FromSerial("E6614103E7452D30").DeviceID() {
		t.Fatalf("distinct serials collided")
	}
}

func TestResolvePrefersCustomID(t *testing.T) {
	if got := Resolve(42, "serial").DeviceID(); got != 42 {
		t.Fatalf("custom id ignored: %d", got)
	}
	if got := Resolve(0, "serial").DeviceID(); got != FromSerial("serial").DeviceID() {
		t.Fatalf("serial fallback mismatch: %d", got)
	}
	if Format(0xcafe0001) != "cafe0001" {
		t.Fatalf("unexpected format %q", Format(0xcafe0001))
	}
}
