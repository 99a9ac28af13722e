// Copyright 2024 by Sven Fabricius, see LICENSE file

package persistence

import (
	"path/filepath"
	"testing"

	"github.com/mr-sven/x3d-rfm-esp32/x3d/cache"
)

func Test_Load_MissingFileIsZeroBlob(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "missing.bin"))
	blob, err := s.Load(0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if blob != (Blob{}) {
		t.Fatalf("missing file must load as zero blob, got %v", blob)
	}
}

func Test_SaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.bin")
	s := NewFileStore(path)

	var b0 Blob
	b0[3] = byte(cache.TypeRF66xx)
	if err := s.Save(0, b0); err != nil {
		t.Fatalf("Save network 0: %v", err)
	}

	var b1 Blob
	b1[7] = byte(cache.TypeRF66xx)
	if err := s.Save(1, b1); err != nil {
		t.Fatalf("Save network 1: %v", err)
	}

	got0, err := s.Load(0)
	if err != nil {
		t.Fatalf("Load network 0: %v", err)
	}
	if got0 != b0 {
		t.Fatalf("network 0 blob = %v, want %v (must survive network 1's save)", got0, b0)
	}

	got1, err := s.Load(1)
	if err != nil {
		t.Fatalf("Load network 1: %v", err)
	}
	if got1 != b1 {
		t.Fatalf("network 1 blob = %v, want %v", got1, b1)
	}
}

func Test_EncodeDecodeBlob_RoundTrip(t *testing.T) {
	var net cache.Network
	net.Slots[2] = cache.Device{Type: cache.TypeRF66xx, RoomTemp: 2100}
	net.Slots[9] = cache.Device{Type: cache.TypeRF66xx}

	blob := EncodeBlob(&net)

	var restored cache.Network
	DecodeBlob(&restored, blob)

	if restored.Slots[2].Type != cache.TypeRF66xx {
		t.Fatalf("slot 2 type not restored")
	}
	if restored.Slots[2].RoomTemp != 0 {
		t.Fatalf("decoded register state must not be persisted, got room_temp=%d", restored.Slots[2].RoomTemp)
	}
	if restored.Slots[9].Type != cache.TypeRF66xx {
		t.Fatalf("slot 9 type not restored")
	}
	if restored.Slots[0].Type != cache.TypeNone {
		t.Fatalf("unpaired slot must decode to TypeNone")
	}
}
