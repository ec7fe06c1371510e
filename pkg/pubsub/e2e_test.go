// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pubsub

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/meshwork-net/meshwork-go/pkg/channel/noiseudp"
)

// e2eNode is a real node on a loopback UDP socket.
type e2eNode struct {
	node     *Node
	delegate *mockDelegate
	key      [32]byte
}

// newE2ENode starts a node on 127.0.0.1. relay enables forwarding received
// messages, cutThroughRecv lets large incoming frames bypass buffering.
func newE2ENode(t *testing.T, relay, cutThroughRecv bool) *e2eNode {
	t.Helper()

	priv, _, err := noiseudp.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	delegate := newMockDelegate(7)

	conf := DefaultConfig("127.0.0.1:0", priv)
	conf.EnableRelay = relay
	conf.Framing.EnableCutThrough = cutThroughRecv
	conf.Stream.InitialRTO = 100 * time.Millisecond
	conf.Stream.MaxRTO = time.Second
	conf.Stream.IdleTimeout = 0

	n, err := NewNode(conf, delegate)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = n.Close() })

	return &e2eNode{node: n, delegate: delegate, key: n.PublicKey()}
}

// connect subscribes a to b and waits until the slot is taken.
func connect(t *testing.T, a, b *e2eNode) {
	t.Helper()

	target := b.node.LocalAddr()
	a.node.Subscribe(target, b.key)

	waitUntil(t, "subscription", func() bool {
		for _, addr := range a.node.Peers().Solicited {
			if addr == target {
				return true
			}
		}
		return false
	})
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEndToEndRelayChain(t *testing.T) {
	// A publishes, B relays, C consumes.
	a := newE2ENode(t, false, false)
	b := newE2ENode(t, true, false)
	c := newE2ENode(t, false, false)

	connect(t, a, b)
	connect(t, b, c)

	id := a.node.Publish(7, []byte("hello"), "")

	waitUntil(t, "delivery at C", func() bool {
		return len(c.delegate.receivedMessages()) > 0
	})

	received := c.delegate.receivedMessages()[0]
	if received.messageID != id || received.channelID != 7 ||
		!bytes.Equal(received.payload, []byte("hello")) {
		t.Fatalf("unexpected delivery %+v", received)
	}

	// The witness trail at C carries the relay's key.
	if !received.header.WitnessContains(b.key) {
		t.Fatal("witness lacks the relay's key")
	}
}

func TestEndToEndLoopSuppression(t *testing.T) {
	// A and B subscribe to each other, both relaying.
	a := newE2ENode(t, true, false)
	b := newE2ENode(t, true, false)

	connect(t, a, b)
	connect(t, b, a)

	a.node.Publish(3, []byte("x"), "")

	waitUntil(t, "delivery at B", func() bool {
		return len(b.delegate.receivedMessages()) > 0
	})

	// Give a relayed duplicate time to come back, then check counts.
	time.Sleep(500 * time.Millisecond)

	if got := len(b.delegate.receivedMessages()); got != 1 {
		t.Fatalf("B saw %d deliveries, expected 1", got)
	}
	if got := len(a.delegate.receivedMessages()); got != 0 {
		t.Fatalf("A saw %d deliveries of its own message", got)
	}
}

func TestEndToEndCutThrough(t *testing.T) {
	// Two direct subscribers receive a payload above the cut-through
	// threshold; the publisher pipes it via cut-through streams.
	a := newE2ENode(t, false, false)
	b := newE2ENode(t, false, false)
	c := newE2ENode(t, false, false)

	connect(t, a, b)

	// Both b and c sit in a's solicited slots: subscribe a to c as well.
	connect(t, a, c)

	payload := make([]byte, 200000)
	rand.New(rand.NewSource(1)).Read(payload)

	id := a.node.Publish(7, payload, "")

	for _, receiver := range []*e2eNode{b, c} {
		waitUntil(t, "large delivery", func() bool {
			return len(receiver.delegate.receivedMessages()) > 0
		})

		received := receiver.delegate.receivedMessages()[0]
		if received.messageID != id {
			t.Fatalf("message id %x instead of %x", received.messageID, id)
		}
		if !bytes.Equal(received.payload, payload) {
			t.Fatal("large payload differs")
		}
	}
}

func TestEndToEndCutThroughRelay(t *testing.T) {
	// A pipes a large message to B; B relays it via its cut-through router
	// to C before B has the full payload. C buffers and consumes it.
	a := newE2ENode(t, false, false)
	b := newE2ENode(t, true, true)
	c := newE2ENode(t, false, false)

	connect(t, a, b)
	connect(t, b, c)

	payload := make([]byte, 200000)
	rand.New(rand.NewSource(2)).Read(payload)

	a.node.Publish(7, payload, "")

	waitUntil(t, "relayed large delivery", func() bool {
		return len(c.delegate.receivedMessages()) > 0
	})

	received := c.delegate.receivedMessages()[0]
	if !bytes.Equal(received.payload, payload) {
		t.Fatal("relayed large payload differs")
	}
	if !received.header.WitnessContains(b.key) {
		t.Fatal("relayed witness lacks the relay's key")
	}
}
