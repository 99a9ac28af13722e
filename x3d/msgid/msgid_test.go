// Copyright 2024 by Sven Fabricius, see LICENSE file

package msgid

import "testing"

func Test_EncodeDecode_RoundTrip(t *testing.T) {
	cases := map[string]struct {
		raw      uint16
		deviceID uint32
	}{
		"small device id, raw 1":      {raw: 1, deviceID: 0x000001},
		"typical device id":           {raw: 0x1234, deviceID: 0x123456},
		"high byte set":               {raw: 0xffff, deviceID: 0xabcdef},
		"raw spans all bits":          {raw: 0x8001, deviceID: 0x00ff00},
		"device id with zero mid byte": {raw: 42, deviceID: 0xff00ff},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			enc := Encode(c.raw, c.deviceID)
			dec := Decode(enc, c.deviceID)
			if dec != c.raw {
				t.Fatalf("round trip: Decode(Encode(%#04x)) = %#04x, want %#04x", c.raw, dec, c.raw)
			}
		})
	}
}

func Test_Counter_SkipsZero(t *testing.T) {
	var c Counter
	c.value = 0xfffe
	seen := map[uint16]bool{}
	for i := 0; i < 4; i++ {
		enc := c.Next(0x123456)
		if c.value == 0 {
			t.Fatalf("counter raw value must never settle on zero")
		}
		if seen[enc] {
			t.Fatalf("encoded id repeated within a short run: %#04x", enc)
		}
		seen[enc] = true
	}
}

func Test_Counter_DecodesToRawSequence(t *testing.T) {
	var c Counter
	const deviceID = 0x654321
	for i := 0; i < 8; i++ {
		enc := c.Next(deviceID)
		raw := Decode(enc, deviceID)
		if raw != c.value {
			t.Fatalf("decode of Next() output = %#04x, want counter value %#04x", raw, c.value)
		}
	}
}

func Test_DifferentDeviceIDsDiverge(t *testing.T) {
	a := Encode(1, 0x000001)
	b := Encode(1, 0x000002)
	if a == b {
		t.Fatalf("distinct device ids must not encode the same raw value identically: got %#04x for both", a)
	}
}
