// Copyright 2024 by Sven Fabricius, see LICENSE file

// Package controller implements the controller loop and bus façade (§4.6,
// §6): a single-worker {idle, busy(kind)} state machine dispatching the
// gateway's semantic commands onto the transaction engine and device cache,
// and restoring/persisting slot-type pairing state across restarts.
package controller

import (
	"fmt"
	"sync"

	"github.com/mr-sven/x3d-rfm-esp32/x3d/cache"
	"github.com/mr-sven/x3d-rfm-esp32/x3d/engine"
)

// LogPrintf matches the teacher's logging hook shape (sx1231.LogPrintf): a
// nil value means no logging.
type LogPrintf func(format string, v ...interface{})

// NetworkTag is the external, bus-façade-level name for a network (§6's
// "network tag (4 and 5)"). The cache and engine address networks by a
// plain 0/1 index; the controller is the single place that translates
// between the two, so tag 4/5 never leaks past this package's boundary.
type NetworkTag byte

const (
	NetworkA NetworkTag = 4
	NetworkB NetworkTag = 5
)

// networkIndex maps an external network tag to the internal 0/1 cache
// index, or fails per §7 error kind 7 ("out-of-range target/network —
// validated at command intake; command ignored").
func networkIndex(tag NetworkTag) (byte, error) {
	switch tag {
	case NetworkA:
		return 0, nil
	case NetworkB:
		return 1, nil
	default:
		return 0, fmt.Errorf("controller: network tag %d out of range", tag)
	}
}

// Kind names a transaction in progress, published at the start of every
// transaction (§4.6).
type Kind string

const (
	KindPairing   Kind = "pairing"
	KindReading   Kind = "reading"
	KindWriting   Kind = "writing"
	KindTemp      Kind = "temp"
	KindStatus    Kind = "status"
	KindUnpairing Kind = "unpairing"
)

// Engine is the transaction collaborator the controller drives; *engine.Engine
// satisfies it. Abstracted so tests can substitute a fake, the way
// engine.Radio abstracts the transport one layer down.
type Engine interface {
	Pair(network byte, occupied uint16) (engine.PairResult, error)
	Unpair(network byte, slot int, transfer uint16) (uint16, error)
	Read(network byte, transfer, targetMask uint16, regHigh, regLow byte) (engine.Response, error)
	Write(network byte, transfer, targetMask uint16, regHigh, regLow byte, values []uint16) (engine.Response, error)
	TempBroadcast(network byte, transfer, targetMask uint16, outdoorSlot byte, temp uint16) error
}

// NVStore is the boot-time non-volatile storage collaborator (§3, §6).
type NVStore interface {
	Load(network byte) ([cache.SlotCount]byte, error)
	Save(network byte, blob [cache.SlotCount]byte) error
}

// Indicator is the visual-indicator collaborator (LED PWM); semantics are a
// Non-goal, so SetState is advisory only and never affects control flow.
type Indicator interface {
	SetState(state string)
}

// Publisher is where the controller's outputs go (§6: "status string,
// per-slot structured view, ad-hoc command result"); mapping onto MQTT
// topics is the collaborator's concern, not the controller's.
type Publisher interface {
	PublishStatus(network NetworkTag, status string)
	PublishView(network NetworkTag, slot int, view cache.View)
	PublishResult(network NetworkTag, ackMask uint16, regHigh, regLow byte, values []uint16)
}

// noopIndicator and noopPublisher keep New usable without collaborators
// wired, matching the teacher's nil-logger-becomes-no-op convention.
type noopIndicator struct{}

func (noopIndicator) SetState(string) {}

type noopPublisher struct{}

func (noopPublisher) PublishStatus(NetworkTag, string)                      {}
func (noopPublisher) PublishView(NetworkTag, int, cache.View)               {}
func (noopPublisher) PublishResult(NetworkTag, uint16, byte, byte, []uint16) {}

// Reboot is the reset collaborator (§6's "reset — reboot"); platform-specific
// bring-up is a Non-goal, so the default is a log line only.
type Reboot func()

// Controller runs the {idle, busy(kind)} state machine (§4.6) over one
// engine, one cache, and one persistence store.
type Controller struct {
	eng    Engine
	cache  *cache.Cache
	store  NVStore
	ind    Indicator
	pub    Publisher
	reboot Reboot
	log    LogPrintf

	mu   sync.Mutex
	busy bool
	kind Kind
}

// New returns an idle Controller. ind, pub, and reboot may be nil; log may
// be nil, each falling back to a no-op the way sx1231.Radio.New does for
// its logger.
func New(eng Engine, c *cache.Cache, store NVStore, ind Indicator, pub Publisher, reboot Reboot, log LogPrintf) *Controller {
	if ind == nil {
		ind = noopIndicator{}
	}
	if pub == nil {
		pub = noopPublisher{}
	}
	if reboot == nil {
		reboot = func() {}
	}
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Controller{eng: eng, cache: c, store: store, ind: ind, pub: pub, reboot: reboot, log: log}
}

// begin transitions idle → busy(kind), publishing the status transition, or
// fails per §7 error kind 5 ("command while busy — rejected, logged; no
// state change") if a transaction is already running. Transitioning to busy
// while already busy is the policy violation §4.6 calls fatal to the
// command, not to the process: the controller reports and refuses it, and
// keeps running.
func (c *Controller) begin(tag NetworkTag, kind Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		err := fmt.Errorf("controller: rejected %s, busy with %s", kind, c.kind)
		c.log("%s", err)
		return err
	}
	c.busy = true
	c.kind = kind
	c.ind.SetState(string(kind))
	c.pub.PublishStatus(tag, string(kind))
	return nil
}

// end always returns to idle (§4.6: "at end, always a return to idle").
func (c *Controller) end(tag NetworkTag) {
	c.mu.Lock()
	c.busy = false
	c.kind = ""
	c.mu.Unlock()
	c.ind.SetState("idle")
	c.pub.PublishStatus(tag, "idle")
}

// Busy reports whether a transaction is currently running, and which kind.
func (c *Controller) Busy() (bool, Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy, c.kind
}
