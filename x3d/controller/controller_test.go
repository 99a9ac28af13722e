// Copyright 2024 by Sven Fabricius, see LICENSE file

package controller

import (
	"sync"
	"testing"

	"github.com/mr-sven/x3d-rfm-esp32/x3d/cache"
	"github.com/mr-sven/x3d-rfm-esp32/x3d/engine"
	"github.com/mr-sven/x3d-rfm-esp32/x3d/frame"
)

// fakeRadio is the same in-memory engine.Radio used by x3d/engine's own
// tests: Send records frames and, if respond is set, synthesizes a reply.
type fakeRadio struct {
	mu      sync.Mutex
	sent    [][]byte
	rx      chan []byte
	respond func(sent []byte) []byte
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{rx: make(chan []byte, 8)}
}

func (f *fakeRadio) Send(b []byte) error {
	cp := append([]byte(nil), b...)
	f.mu.Lock()
	f.sent = append(f.sent, cp)
	f.mu.Unlock()
	if f.respond != nil {
		if resp := f.respond(cp); resp != nil {
			f.rx <- resp
		}
	}
	return nil
}

func (f *fakeRadio) Receive() <-chan []byte { return f.rx }

func setWord(buf []byte, off int, v uint16) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
}

// fakeEngine is an in-memory Engine: each method is a hook the test sets up,
// defaulting to a success/no-op response.
type fakeEngine struct {
	mu        sync.Mutex
	pairFn    func(network byte, occupied uint16) (engine.PairResult, error)
	writes    []writeCall
	writeFn   func(network byte, transfer, targetMask uint16, regHigh, regLow byte, values []uint16) (engine.Response, error)
	reads     []readCall
	readFn    func(network byte, transfer, targetMask uint16, regHigh, regLow byte) (engine.Response, error)
	unpairFn  func(network byte, slot int, transfer uint16) (uint16, error)
	tempCalls int
	tempMasks []maskPair
}

type writeCall struct {
	network         byte
	transfer        uint16
	targetMask      uint16
	regHigh, regLow byte
	values          []uint16
}

type readCall struct {
	network         byte
	transfer        uint16
	targetMask      uint16
	regHigh, regLow byte
}

type maskPair struct {
	transfer uint16
	target   uint16
}

func (f *fakeEngine) Pair(network byte, occupied uint16) (engine.PairResult, error) {
	if f.pairFn != nil {
		return f.pairFn(network, occupied)
	}
	return engine.PairResult{}, nil
}

func (f *fakeEngine) Unpair(network byte, slot int, transfer uint16) (uint16, error) {
	if f.unpairFn != nil {
		return f.unpairFn(network, slot, transfer)
	}
	return transfer &^ (uint16(1) << uint(slot)), nil
}

func (f *fakeEngine) Read(network byte, transfer, targetMask uint16, regHigh, regLow byte) (engine.Response, error) {
	f.mu.Lock()
	f.reads = append(f.reads, readCall{network, transfer, targetMask, regHigh, regLow})
	f.mu.Unlock()
	if f.readFn != nil {
		return f.readFn(network, transfer, targetMask, regHigh, regLow)
	}
	return engine.Response{}, nil
}

func (f *fakeEngine) Write(network byte, transfer, targetMask uint16, regHigh, regLow byte, values []uint16) (engine.Response, error) {
	f.mu.Lock()
	f.writes = append(f.writes, writeCall{network, transfer, targetMask, regHigh, regLow, append([]uint16(nil), values...)})
	f.mu.Unlock()
	if f.writeFn != nil {
		return f.writeFn(network, transfer, targetMask, regHigh, regLow, values)
	}
	return engine.Response{}, nil
}

func (f *fakeEngine) TempBroadcast(network byte, transfer, targetMask uint16, outdoorSlot byte, temp uint16) error {
	f.mu.Lock()
	f.tempCalls++
	f.tempMasks = append(f.tempMasks, maskPair{transfer, targetMask})
	f.mu.Unlock()
	return nil
}

// fakeStore is an in-memory NVStore.
type fakeStore struct {
	mu    sync.Mutex
	blobs map[byte][cache.SlotCount]byte
	err   error
}

func newFakeStore() *fakeStore { return &fakeStore{blobs: map[byte][cache.SlotCount]byte{}} }

func (s *fakeStore) Load(network byte) ([cache.SlotCount]byte, error) {
	if s.err != nil {
		return [cache.SlotCount]byte{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[network], nil
}

func (s *fakeStore) Save(network byte, blob [cache.SlotCount]byte) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[network] = blob
	return nil
}

// fakePublisher records every published call.
type fakePublisher struct {
	mu       sync.Mutex
	statuses []string
	views    []cache.View
}

func (p *fakePublisher) PublishStatus(tag NetworkTag, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
}

func (p *fakePublisher) PublishView(tag NetworkTag, slot int, view cache.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = append(p.views, view)
}

func (p *fakePublisher) PublishResult(tag NetworkTag, ackMask uint16, regHigh, regLow byte, values []uint16) {
}

func newTestController() (*Controller, *fakeEngine, *fakePublisher) {
	eng := &fakeEngine{}
	pub := &fakePublisher{}
	c := New(eng, cache.New(), newFakeStore(), nil, pub, nil, nil)
	return c, eng, pub
}

func Test_NetworkIndex_MapsTags(t *testing.T) {
	if idx, err := networkIndex(NetworkA); err != nil || idx != 0 {
		t.Fatalf("networkIndex(NetworkA) = %d, %v, want 0, nil", idx, err)
	}
	if idx, err := networkIndex(NetworkB); err != nil || idx != 1 {
		t.Fatalf("networkIndex(NetworkB) = %d, %v, want 1, nil", idx, err)
	}
	if _, err := networkIndex(6); err == nil {
		t.Fatalf("networkIndex(6) must be rejected")
	}
}

func Test_Begin_RejectsWhileBusy(t *testing.T) {
	c, _, _ := newTestController()
	if err := c.begin(NetworkA, KindReading); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if err := c.begin(NetworkA, KindWriting); err == nil {
		t.Fatalf("second begin while busy must fail")
	}
	c.end(NetworkA)
	busy, _ := c.Busy()
	if busy {
		t.Fatalf("controller must be idle after end")
	}
}

func Test_Pair_OccupiesSlotAndPersists(t *testing.T) {
	c, eng, pub := newTestController()
	eng.pairFn = func(network byte, occupied uint16) (engine.PairResult, error) {
		return engine.PairResult{Slot: 2, Paired: true}, nil
	}
	if err := c.Pair(NetworkA, "rf66xx"); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	dev, err := c.cache.Slot(0, 2)
	if err != nil {
		t.Fatalf("Slot: %v", err)
	}
	if dev.Type != cache.TypeRF66xx {
		t.Fatalf("slot 2 type = %v, want rf66xx", dev.Type)
	}
	if len(pub.views) != 1 {
		t.Fatalf("expected one published view, got %d", len(pub.views))
	}
	blob, _ := c.store.Load(0)
	if blob[2] != byte(cache.TypeRF66xx) {
		t.Fatalf("persisted blob slot 2 = %d, want %d", blob[2], cache.TypeRF66xx)
	}
}

func Test_Pair_NotPairedSkipsCache(t *testing.T) {
	c, _, pub := newTestController()
	if err := c.Pair(NetworkA, "rf66xx"); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if c.cache.OccupiedMask(0) != 0 {
		t.Fatalf("occupied mask must stay empty when pairing fails")
	}
	if len(pub.views) != 0 {
		t.Fatalf("no view should publish when pairing fails")
	}
}

func Test_Unpair_ClearsCacheAndPersists(t *testing.T) {
	c, _, _ := newTestController()
	if err := c.cache.Pair(0, 3, cache.TypeRF66xx); err != nil {
		t.Fatalf("seed Pair: %v", err)
	}
	if err := c.Unpair(NetworkA, 1<<3); err != nil {
		t.Fatalf("Unpair: %v", err)
	}
	if c.cache.OccupiedMask(0) != 0 {
		t.Fatalf("slot 3 must be cleared after unpair")
	}
}

func Test_OutdoorTemp_SkipsNetworksWithoutFeatureSlots(t *testing.T) {
	c, eng, _ := newTestController()
	if err := c.OutdoorTemp(21.5); err != nil {
		t.Fatalf("OutdoorTemp: %v", err)
	}
	if eng.tempCalls != 0 {
		t.Fatalf("no broadcast expected with no paired devices, got %d calls", eng.tempCalls)
	}
}

func Test_OutdoorTemp_BroadcastsToFeatureCarryingNetwork(t *testing.T) {
	c, eng, _ := newTestController()
	if err := c.cache.Pair(0, 0, cache.TypeRF66xx); err != nil {
		t.Fatalf("seed Pair: %v", err)
	}
	if err := c.OutdoorTemp(21.5); err != nil {
		t.Fatalf("OutdoorTemp: %v", err)
	}
	if eng.tempCalls != 1 {
		t.Fatalf("expected exactly one broadcast (network A only), got %d", eng.tempCalls)
	}
	busy, _ := c.Busy()
	if busy {
		t.Fatalf("controller must return to idle after OutdoorTemp")
	}
}

// Test_OutdoorTemp_TransferCoversWholeNetworkTargetOnlyFeatureSlots pairs one
// feature-carrying and one non-feature-carrying slot on the same network:
// the broadcast's transfer mask (reachability, §3/§4.4) must still cover both
// occupied slots while its target mask (the action, per outdoor_temp_task in
// the original) narrows to the feature-carrying slot only. A fake that only
// ever pairs one slot can't tell transfer and target apart, so this is the
// case the prior single-mask TempBroadcast call silently broke.
func Test_OutdoorTemp_TransferCoversWholeNetworkTargetOnlyFeatureSlots(t *testing.T) {
	c, eng, _ := newTestController()
	if err := c.cache.Pair(0, 0, cache.TypeRF66xx); err != nil {
		t.Fatalf("seed Pair slot 0: %v", err)
	}
	if err := c.cache.Pair(0, 1, cache.Type(2)); err != nil {
		t.Fatalf("seed Pair slot 1: %v", err)
	}
	if err := c.OutdoorTemp(21.5); err != nil {
		t.Fatalf("OutdoorTemp: %v", err)
	}
	if eng.tempCalls != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", eng.tempCalls)
	}
	got := eng.tempMasks[0]
	if got.transfer != 0x0003 {
		t.Fatalf("transfer mask = %#x, want 0x0003 (both occupied slots)", got.transfer)
	}
	if got.target != 0x0001 {
		t.Fatalf("target mask = %#x, want 0x0001 (feature-carrying slot only)", got.target)
	}
}

// Test_Write_TransferIsFullOccupiedMaskTargetIsCallerSubset pairs two slots
// and writes to only one of them: the engine must still see the full
// occupied mask as transfer (so SetMessageRetrans and the wait calculation
// account for every reachable device) while target stays the caller's
// chosen subset, per x3d-controller/main/main.c's ad-hoc read/write call
// sites (.transfer = get_network_mask(network), .target = caller's mask).
func Test_Write_TransferIsFullOccupiedMaskTargetIsCallerSubset(t *testing.T) {
	c, eng, _ := newTestController()
	if err := c.cache.Pair(0, 0, cache.TypeRF66xx); err != nil {
		t.Fatalf("seed Pair slot 0: %v", err)
	}
	if err := c.cache.Pair(0, 2, cache.TypeRF66xx); err != nil {
		t.Fatalf("seed Pair slot 2: %v", err)
	}
	if err := c.Write(NetworkA, 1<<2, 0x16, 0x31, []uint16{10}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(eng.writes) != 1 {
		t.Fatalf("expected one write, got %d", len(eng.writes))
	}
	w := eng.writes[0]
	if w.transfer != 0x0005 {
		t.Fatalf("transfer = %#x, want 0x0005 (both occupied slots)", w.transfer)
	}
	if w.targetMask != 1<<2 {
		t.Fatalf("targetMask = %#x, want 0x0004 (caller's subset)", w.targetMask)
	}
}

// Test_PairSlot_TransferIsFullOccupiedMaskTargetIsCallerSubset mirrors the
// write case for PairSlot, which shares the same transfer/target split.
func Test_PairSlot_TransferIsFullOccupiedMaskTargetIsCallerSubset(t *testing.T) {
	c, eng, _ := newTestController()
	if err := c.cache.Pair(0, 0, cache.TypeRF66xx); err != nil {
		t.Fatalf("seed Pair slot 0: %v", err)
	}
	if err := c.cache.Pair(0, 3, cache.TypeRF66xx); err != nil {
		t.Fatalf("seed Pair slot 3: %v", err)
	}
	if err := c.PairSlot(NetworkA, 1<<3); err != nil {
		t.Fatalf("PairSlot: %v", err)
	}
	if len(eng.writes) != 1 {
		t.Fatalf("expected one write, got %d", len(eng.writes))
	}
	w := eng.writes[0]
	if w.transfer != (1<<0 | 1<<3) {
		t.Fatalf("transfer = %#x, want 0x0009 (both occupied slots)", w.transfer)
	}
	if w.targetMask != 1<<3 {
		t.Fatalf("targetMask = %#x, want 0x0008 (caller's subset)", w.targetMask)
	}
}

// Test_Enable_TransferIsFullOccupiedMaskTargetIsCallerSubset mirrors the
// write case for Enable's writes (SET_MODE_TEMP/ON_OFF), which share the
// same transfer/target split.
func Test_Enable_TransferIsFullOccupiedMaskTargetIsCallerSubset(t *testing.T) {
	c, eng, _ := newTestController()
	if err := c.cache.Pair(0, 0, cache.TypeRF66xx); err != nil {
		t.Fatalf("seed Pair slot 0: %v", err)
	}
	if err := c.cache.Pair(0, 1, cache.TypeRF66xx); err != nil {
		t.Fatalf("seed Pair slot 1: %v", err)
	}
	if err := c.Enable(NetworkA, 1<<1, ModeCustom, 44, 0); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	for i, w := range eng.writes {
		if w.transfer != 0x0003 {
			t.Fatalf("write %d transfer = %#x, want 0x0003 (both occupied slots)", i, w.transfer)
		}
		if w.targetMask != 1<<1 {
			t.Fatalf("write %d targetMask = %#x, want 0x0002 (caller's subset)", i, w.targetMask)
		}
	}
}

func Test_DeviceStatus_AppliesRegistersAndPublishesView(t *testing.T) {
	radio := newFakeRadio()
	radio.respond = func(sent []byte) []byte {
		resp := append([]byte(nil), sent...)
		pi := frame.PayloadIndex(sent)
		resp[pi] = 9 // retry byte, must exceed the post-transmit value
		setWord(resp, pi+3, 0x0001) // ack mask: slot 0
		regHigh, regLow := sent[pi+8], sent[pi+9]
		if regHigh == 0x15 && regLow == 0x11 {
			setWord(resp, frame.DataOffset(pi), 2137) // RoomTemp = 21.37C
		}
		return resp
	}
	eng := engine.New(radio, 0x123456, nil)
	pub := &fakePublisher{}
	c := New(eng, cache.New(), newFakeStore(), nil, pub, nil, nil)
	if err := c.cache.Pair(0, 0, cache.TypeRF66xx); err != nil {
		t.Fatalf("seed Pair: %v", err)
	}
	if err := c.DeviceStatus(NetworkA); err != nil {
		t.Fatalf("DeviceStatus: %v", err)
	}
	if len(pub.views) != 1 {
		t.Fatalf("expected one published view, got %d", len(pub.views))
	}
	if pub.views[0].RoomTemp != 21.37 {
		t.Fatalf("published roomTemp = %v, want 21.37", pub.views[0].RoomTemp)
	}
}

func Test_Enable_WritesModeTempAndOnOff(t *testing.T) {
	c, eng, _ := newTestController()
	if err := c.cache.Pair(0, 0, cache.TypeRF66xx); err != nil {
		t.Fatalf("seed Pair: %v", err)
	}
	if err := c.Enable(NetworkA, 1, ModeCustom, 44, 0); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if len(eng.writes) != 2 {
		t.Fatalf("expected SET_MODE_TEMP + ON_OFF writes, got %d", len(eng.writes))
	}
	high, low := regBytes(cache.RegSetModeTemp)
	if eng.writes[0].regHigh != high || eng.writes[0].regLow != low {
		t.Fatalf("first write register = %#x%02x, want SET_MODE_TEMP", eng.writes[0].regHigh, eng.writes[0].regLow)
	}
	if eng.writes[0].values[0] != 44 {
		t.Fatalf("SET_MODE_TEMP value = %d, want 44", eng.writes[0].values[0])
	}
}

func Test_Disable_WritesOnOffZero(t *testing.T) {
	c, eng, _ := newTestController()
	if err := c.Disable(NetworkA, 1); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if len(eng.writes) != 1 {
		t.Fatalf("expected one write, got %d", len(eng.writes))
	}
	high, low := regBytes(cache.RegOnOff)
	w := eng.writes[0]
	if w.regHigh != high || w.regLow != low || w.values[0] != 0 {
		t.Fatalf("Disable write = %+v, want ON_OFF=0", w)
	}
}

func Test_Read_CompletesAdHocRead(t *testing.T) {
	radio := newFakeRadio()
	radio.respond = func(sent []byte) []byte {
		resp := append([]byte(nil), sent...)
		pi := frame.PayloadIndex(sent)
		resp[pi] = 9
		setWord(resp, pi+3, 0x0001)
		setWord(resp, frame.DataOffset(pi), 0x2137)
		return resp
	}
	eng := engine.New(radio, 1, nil)
	pub := &fakePublisher{}
	c := New(eng, cache.New(), newFakeStore(), nil, pub, nil, nil)
	if err := c.Read(NetworkA, 0x0001, 0x15, 0x11); err != nil {
		t.Fatalf("Read: %v", err)
	}
}

func Test_Write_CompletesAdHocWrite(t *testing.T) {
	radio := newFakeRadio()
	radio.respond = func(sent []byte) []byte {
		resp := append([]byte(nil), sent...)
		pi := frame.PayloadIndex(sent)
		resp[pi] = 9
		setWord(resp, pi+3, 0x0001)
		return resp
	}
	eng := engine.New(radio, 1, nil)
	c := New(eng, cache.New(), newFakeStore(), nil, nil, nil, nil)
	if err := c.Write(NetworkA, 0x0001, 0x16, 0x31, []uint16{10}); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func Test_LoadPersisted_RestoresSlotTypes(t *testing.T) {
	c, _, _ := newTestController()
	var blob [cache.SlotCount]byte
	blob[4] = byte(cache.TypeRF66xx)
	if err := c.store.Save(1, blob); err != nil {
		t.Fatalf("Save: %v", err)
	}
	c.LoadPersisted()
	dev, err := c.cache.Slot(1, 4)
	if err != nil {
		t.Fatalf("Slot: %v", err)
	}
	if dev.Type != cache.TypeRF66xx {
		t.Fatalf("restored slot type = %v, want rf66xx", dev.Type)
	}
}
