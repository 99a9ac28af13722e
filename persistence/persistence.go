// Copyright 2024 by Sven Fabricius, see LICENSE file

// Package persistence implements the boot-time device-cache store (§3, §6):
// a flat file holding one fixed-size blob per network, each blob the
// SlotCount device-type tags the controller restores pairing state from
// at startup.
package persistence

import (
	"fmt"
	"os"

	"github.com/mr-sven/x3d-rfm-esp32/x3d/cache"
)

// Blob is one network's persisted slot-type table: one type byte per
// slot, the "opaque blob of per-slot device type tags" (§3). Defined as
// an alias so FileStore satisfies controller.NVStore's
// [cache.SlotCount]byte signature directly, with no adapter shim.
type Blob = [cache.SlotCount]byte

// FileStore is a flat-file NVStore (§6) holding cache.NetworkCount blobs
// back to back.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path; the file need not exist
// yet.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the blob for network. A missing file is not an error: it
// returns a zeroed blob, the natural state of a gateway that has never
// persisted anything yet.
func (s *FileStore) Load(network byte) (Blob, error) {
	var blob Blob
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return blob, nil
	}
	if err != nil {
		return blob, fmt.Errorf("persistence: read %s: %w", s.path, err)
	}
	off := int(network) * cache.SlotCount
	if off+cache.SlotCount > len(data) {
		return blob, nil
	}
	copy(blob[:], data[off:off+cache.SlotCount])
	return blob, nil
}

// Save writes the blob for network, rewriting the whole file (the other
// network's blob is re-read first so Save never clobbers it).
func (s *FileStore) Save(network byte, blob Blob) error {
	data := make([]byte, cache.NetworkCount*cache.SlotCount)
	existing, err := os.ReadFile(s.path)
	if err == nil {
		copy(data, existing)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("persistence: read %s: %w", s.path, err)
	}
	off := int(network) * cache.SlotCount
	copy(data[off:off+cache.SlotCount], blob[:])
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("persistence: write %s: %w", s.path, err)
	}
	return nil
}

// EncodeBlob packs a network's cache state into its persisted form.
func EncodeBlob(net *cache.Network) Blob {
	var b Blob
	for i := 0; i < cache.SlotCount; i++ {
		b[i] = byte(net.Slots[i].Type)
	}
	return b
}

// DecodeBlob restores a network's slot types from a persisted blob. Only
// the type tag is restored; decoded register state (room temp, setpoints,
// flags) is re-learned from the air, not persisted.
func DecodeBlob(net *cache.Network, b Blob) {
	for i := 0; i < cache.SlotCount; i++ {
		net.Slots[i] = cache.Device{Type: cache.Type(b[i])}
	}
}
