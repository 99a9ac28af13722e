// Copyright 2024 by Sven Fabricius, see LICENSE file

package main

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mr-sven/x3d-rfm-esp32/x3d/cache"
	"github.com/mr-sven/x3d-rfm-esp32/x3d/controller"
)

// mq is a handle onto a MQTT broker connection, implementing
// controller.Publisher on top of it. It follows cmd/mqttradio/mqtt.go's
// mq type: one persistent connection, de-dup-by-hash so a publish this
// process made doesn't get reprocessed when the broker echoes it back on
// a subscription this same process holds.
type mq struct {
	conn    mqtt.Client
	prefix  string
	dedupMu sync.Mutex
	dedup   map[uint64]time.Time
}

// newMQ connects to conf's broker, matching cmd/mqttradio/mqtt.go's
// newMQ: a 10s connect timeout, ClientID fixed for this process.
func newMQ(conf MqttConfig, debug LogPrintf) (*mq, error) {
	if debug != nil {
		debug("mqtt: connecting to %s:%d", conf.Host, conf.Port)
	}
	mqtt.ERROR = log.New(os.Stderr, "", 0)
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, conf.Port))
	opts.ClientID = "x3d-gateway"
	opts.Username = conf.User
	opts.Password = conf.Password

	conn := mqtt.NewClient(opts)
	if token := conn.Connect(); !token.WaitTimeout(10 * time.Second) {
		return nil, token.Error()
	}
	prefix := conf.Prefix
	if prefix == "" {
		prefix = "x3d"
	}
	m := &mq{conn: conn, prefix: prefix, dedup: make(map[uint64]time.Time)}
	go m.gc()
	return m, nil
}

// gc prunes de-dup entries older than 10 minutes, matching
// cmd/mqttradio/mqtt.go's gc: evidently ones with no subscription to
// consume them.
func (m *mq) gc() {
	for {
		time.Sleep(time.Minute)
		m.dedupMu.Lock()
		tooOld := time.Now().Add(-10 * time.Minute)
		for h, t := range m.dedup {
			if t.Before(tooOld) {
				delete(m.dedup, h)
			}
		}
		m.dedupMu.Unlock()
	}
}

func hashMessage(s ...string) uint64 {
	key := strings.Join(s, "ǂ")
	h := fnv.New64()
	h.Write([]byte(key))
	return h.Sum64()
}

func (m *mq) publish(topic string, payload interface{}) {
	data, _ := json.Marshal(payload)
	m.conn.Publish(m.prefix+"/"+topic, 1, false, data)
	m.dedupMu.Lock()
	m.dedup[hashMessage(topic, string(data))] = time.Now()
	m.dedupMu.Unlock()
}

// subscribe wires topic to handler, skipping payloads this process itself
// just published on the same topic.
func (m *mq) subscribe(topic string, handler func(payload []byte)) error {
	cb := func(_ mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		hash := hashMessage(topic, string(payload))
		m.dedupMu.Lock()
		_, dup := m.dedup[hash]
		delete(m.dedup, hash)
		m.dedupMu.Unlock()
		if dup {
			return
		}
		handler(payload)
	}
	full := m.prefix + "/" + topic
	if token := m.conn.Subscribe(full, 1, cb); !token.WaitTimeout(2 * time.Second) {
		return token.Error()
	}
	return nil
}

// netName renders a network tag the way topics name it: "a" for
// controller.NetworkA, "b" for controller.NetworkB.
func netName(network controller.NetworkTag) string {
	if network == controller.NetworkB {
		return "b"
	}
	return "a"
}

// PublishStatus implements controller.Publisher: the network's current
// transaction kind, or "idle".
func (m *mq) PublishStatus(network controller.NetworkTag, status string) {
	m.publish(netName(network)+"/status", struct {
		Status string `json:"status"`
	}{status})
}

// PublishView implements controller.Publisher: a paired slot's decoded
// register view, shaped per x3d_rf66xx_to_json (cache.Device.ToView).
func (m *mq) PublishView(network controller.NetworkTag, slot int, view cache.View) {
	m.publish(fmt.Sprintf("%s/view/%d", netName(network), slot), view)
}

// PublishResult implements controller.Publisher: the ack mask and values
// from an ad-hoc read or write.
func (m *mq) PublishResult(network controller.NetworkTag, ackMask uint16, regHigh, regLow byte, values []uint16) {
	m.publish(netName(network)+"/result", struct {
		AckMask uint16   `json:"ack_mask"`
		RegHigh byte     `json:"reg_high"`
		RegLow  byte     `json:"reg_low"`
		Values  []uint16 `json:"values"`
	}{ackMask, regHigh, regLow, values})
}
