// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pubsub

import (
	"bytes"
	"testing"
)

// incomingMessage builds the framed MESSAGE a remote with the given
// witnesser would send.
func incomingMessage(channelID uint16, messageID uint64, payload []byte, prev MessageHeader, witnesser Witnesser) []byte {
	return buildMessage(channelID, messageID, payload, prev, EmptyAttester{}, witnesser)
}

func TestSlotCapsAndPromotion(t *testing.T) {
	delegate := newMockDelegate()
	n, _ := newTestNode(t, delegate)

	a := newMockTransport("a:1", 1)
	b := newMockTransport("b:1", 2)
	c := newMockTransport("c:1", 3)
	d := newMockTransport("d:1", 4)

	for _, m := range []*mockTransport{a, b, c, d} {
		n.didDial(m)
	}

	if n.solicited.Len() != 2 {
		t.Fatalf("solicited %d, expected 2", n.solicited.Len())
	}
	if n.standby.Len() != 2 {
		t.Fatalf("standby %d, expected 2", n.standby.Len())
	}
	if !n.solicited.Contains(a) || !n.solicited.Contains(b) {
		t.Fatal("first two dials are not solicited")
	}
	if !n.standby.Contains(c) || !n.standby.Contains(d) {
		t.Fatal("later dials are not standby")
	}

	// The delegate promotes one standby peer when b goes away.
	delegate.promotionPlan = func(standby *TransportSet) []Transport {
		candidates := standby.Slice()
		if len(candidates) == 0 {
			return nil
		}
		return candidates[:1]
	}

	n.didClose(b)

	if n.solicited.Len() != 2 {
		t.Fatalf("solicited %d after promotion, expected 2", n.solicited.Len())
	}
	if n.standby.Len() != 1 {
		t.Fatalf("standby %d after promotion, expected 1", n.standby.Len())
	}

	n.mutex.Lock()
	_, blacklisted := n.blacklist["b:1"]
	n.mutex.Unlock()
	if !blacklisted {
		t.Fatal("closed solicited peer is not blacklisted")
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	n, provider := newTestNode(t, newMockDelegate())

	a := newMockTransport("a:1", 1)
	provider.add(a)

	var key [32]byte
	n.Subscribe("a:1", key)
	n.Subscribe("a:1", key)

	if n.solicited.Len() != 1 {
		t.Fatalf("solicited %d, expected 1", n.solicited.Len())
	}
}

func TestSubscribeDialsUnknownPeer(t *testing.T) {
	n, provider := newTestNode(t, newMockDelegate())

	var key [32]byte
	n.Subscribe("far:1", key)

	provider.mutex.Lock()
	dialed := append([]string(nil), provider.dialed...)
	provider.mutex.Unlock()

	if len(dialed) != 1 || dialed[0] != "far:1" {
		t.Fatalf("dialed %v, expected far:1", dialed)
	}
}

func TestSubscribeSuppressedByBlacklist(t *testing.T) {
	n, provider := newTestNode(t, newMockDelegate())

	a := newMockTransport("a:1", 1)
	n.didDial(a)
	n.didClose(a) // solicited peer gone, a:1 lands on the blacklist

	var key [32]byte
	n.Subscribe("a:1", key)

	provider.mutex.Lock()
	dialCount := len(provider.dialed)
	provider.mutex.Unlock()
	if dialCount != 0 {
		t.Fatal("blacklisted peer was dialed")
	}

	// The blacklist tick clears the entry.
	n.blacklistTick()
	n.Subscribe("a:1", key)

	provider.mutex.Lock()
	dialCount = len(provider.dialed)
	provider.mutex.Unlock()
	if dialCount != 1 {
		t.Fatal("cleared peer was not dialed")
	}
}

func TestIncomingSubscribe(t *testing.T) {
	n, _ := newTestNode(t, newMockDelegate())

	a := newMockTransport("a:1", 1)
	if err := n.didRecvMessage(a, buildSubscribe(7)); err != nil {
		t.Fatal(err)
	}

	if !n.unsolicited.Contains(a) {
		t.Fatal("subscriber is not unsolicited")
	}

	// The admission is answered with a SUBSCRIBED response.
	sent := a.sentMessages()
	if len(sent) != 1 || sent[0][0] != typeResponse {
		t.Fatalf("expected one RESPONSE, got %v", sent)
	}
	if !bytes.HasPrefix(sent[0][2:], []byte(responseSubscribed)) {
		t.Fatalf("unexpected response body %q", sent[0][2:])
	}
}

func TestIncomingSubscribeFromBlacklistedPeer(t *testing.T) {
	n, _ := newTestNode(t, newMockDelegate())

	a := newMockTransport("a:1", 1)
	n.didDial(a)
	n.didClose(a)

	a2 := newMockTransport("a:1", 1)
	if err := n.didRecvMessage(a2, buildSubscribe(7)); err != nil {
		t.Fatal(err)
	}

	// A blacklisted peer coming back is promoted straight into solicited.
	if !n.solicited.Contains(a2) {
		t.Fatal("returning peer is not solicited")
	}

	n.mutex.Lock()
	_, blacklisted := n.blacklist["a:1"]
	n.mutex.Unlock()
	if blacklisted {
		t.Fatal("blacklist entry survived the subscribe")
	}
}

func TestIncomingSubscribeOverflowClosesTransport(t *testing.T) {
	delegate := newMockDelegate()
	n, _ := newTestNode(t, delegate)
	n.conf.MaxUnsolicited = 1

	a := newMockTransport("a:1", 1)
	b := newMockTransport("b:1", 2)

	if err := n.didRecvMessage(a, buildSubscribe(7)); err != nil {
		t.Fatal(err)
	}
	if err := n.didRecvMessage(b, buildSubscribe(7)); err != nil {
		t.Fatal(err)
	}

	if !b.isClosed() {
		t.Fatal("overflowing subscriber was not closed")
	}
	if a.isClosed() {
		t.Fatal("admitted subscriber was closed")
	}
}

func TestMessageDeduplication(t *testing.T) {
	delegate := newMockDelegate()
	n, _ := newTestNode(t, delegate)

	a := newMockTransport("a:1", 1)
	remote := NewChainWitnesser(a.RemoteStaticKey())
	msg := incomingMessage(7, 42, []byte("hello"), MessageHeader{}, remote)

	if err := n.didRecvMessage(a, msg); err != nil {
		t.Fatal(err)
	}
	if err := n.didRecvMessage(a, msg); err != nil {
		t.Fatal(err)
	}

	received := delegate.receivedMessages()
	if len(received) != 1 {
		t.Fatalf("delegate saw %d messages, expected 1", len(received))
	}
	if received[0].messageID != 42 || received[0].channelID != 7 ||
		!bytes.Equal(received[0].payload, []byte("hello")) {
		t.Fatalf("unexpected delivery %+v", received[0])
	}
}

func TestMessageRelayExcludesSourceAndWitnessed(t *testing.T) {
	delegate := newMockDelegate()
	n, _ := newTestNode(t, delegate)

	source := newMockTransport("src:1", 1)
	relayTo := newMockTransport("fwd:1", 2)
	witnessed := newMockTransport("wit:1", 3)

	n.didDial(source)
	n.didDial(relayTo)
	n.mutex.Lock()
	n.addUnsolicitedLocked(witnessed)
	n.mutex.Unlock()

	for _, m := range []*mockTransport{source, relayTo, witnessed} {
		m.mutex.Lock()
		m.sent = nil
		m.mutex.Unlock()
	}

	// The incoming witness trail lists the source and the witnessed peer.
	trail := NewChainWitnesser(source.RemoteStaticKey())
	prevWitness := make([]byte, trail.WitnessSize(MessageHeader{}))
	trail.Witness(MessageHeader{}, prevWitness, 0)
	prev := MessageHeader{Witness: prevWitness}

	trail2 := NewChainWitnesser(witnessed.RemoteStaticKey())
	fullWitness := make([]byte, trail2.WitnessSize(prev))
	trail2.Witness(prev, fullWitness, 0)

	msg := incomingMessage(7, 99, []byte("x"), MessageHeader{}, &staticWitnesser{fullWitness})

	if err := n.didRecvMessage(source, msg); err != nil {
		t.Fatal(err)
	}

	if len(source.sentMessages()) != 0 {
		t.Fatal("message relayed back to its source")
	}
	if len(witnessed.sentMessages()) != 0 {
		t.Fatal("message relayed to a witnessed peer")
	}

	forwarded := relayTo.sentMessages()
	if len(forwarded) != 1 {
		t.Fatalf("relay peer got %d messages, expected 1", len(forwarded))
	}

	// The relayed witness gained this node's key.
	parsed, err := parseMessage(forwarded[0][1:], n.attester, n.witnesser)
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.header.WitnessContains(n.PublicKey()) {
		t.Fatal("relayed witness lacks this node's key")
	}
	if !parsed.header.WitnessContains(witnessed.RemoteStaticKey()) {
		t.Fatal("relayed witness lost the previous trail")
	}
}

// staticWitnesser writes a fixed witness header.
type staticWitnesser struct {
	witness []byte
}

func (w *staticWitnesser) WitnessSize(MessageHeader) int { return len(w.witness) }

func (w *staticWitnesser) Witness(_ MessageHeader, buf []byte, offset int) {
	copy(buf[offset:], w.witness)
}

func (w *staticWitnesser) ParseSize(buf []byte) int {
	return (&ChainWitnesser{}).ParseSize(buf)
}

func TestResponseCallbacks(t *testing.T) {
	delegate := newMockDelegate(3)
	n, _ := newTestNode(t, delegate)

	a := newMockTransport("a:1", 1)

	n.handleResponse(a, append([]byte{1}, "SUBSCRIBED"...))
	n.handleResponse(a, append([]byte{1}, "UNSUBSCRIBED and some trailing bytes"...))

	delegate.mutex.Lock()
	defer delegate.mutex.Unlock()

	if len(delegate.subscribed) != 1 || delegate.subscribed[0] != 3 {
		t.Fatalf("DidSubscribe calls: %v", delegate.subscribed)
	}
	if len(delegate.unsubscribed) != 1 || delegate.unsubscribed[0] != 3 {
		t.Fatalf("DidUnsubscribe calls: %v", delegate.unsubscribed)
	}
}

func TestDedupExpiry(t *testing.T) {
	delegate := newMockDelegate()
	n, _ := newTestNode(t, delegate)

	a := newMockTransport("a:1", 1)
	msg := incomingMessage(7, 42, []byte("x"), MessageHeader{}, EmptyWitnesser{})

	if err := n.didRecvMessage(a, msg); err != nil {
		t.Fatal(err)
	}

	// One full trip around the 256 bucket ring ages the id out.
	for i := 0; i < dedupBuckets; i++ {
		n.dedupTick()
	}

	n.mutex.Lock()
	_, seen := n.seenIDs[42]
	n.mutex.Unlock()
	if seen {
		t.Fatal("id survived a full ring rotation")
	}

	if err := n.didRecvMessage(a, msg); err != nil {
		t.Fatal(err)
	}
	if len(delegate.receivedMessages()) != 2 {
		t.Fatal("expired id was not accepted as fresh")
	}
}

func TestHeartbeatTargets(t *testing.T) {
	n, _ := newTestNode(t, newMockDelegate())

	sol := newMockTransport("sol:1", 1)
	stb := newMockTransport("stb:1", 2)
	uns := newMockTransport("uns:1", 3)

	n.didDial(sol)
	n.mutex.Lock()
	n.standby.Insert(stb)
	n.addUnsolicitedLocked(uns)
	n.mutex.Unlock()

	for _, m := range []*mockTransport{sol, stb, uns} {
		m.mutex.Lock()
		m.sent = nil
		m.mutex.Unlock()
	}

	n.dedupTick()

	countHeartbeats := func(m *mockTransport) int {
		count := 0
		for _, msg := range m.sentMessages() {
			if len(msg) == 1 && msg[0] == typeHeartbeat {
				count++
			}
		}
		return count
	}

	if countHeartbeats(sol) != 1 {
		t.Fatal("solicited peer got no heartbeat")
	}
	if countHeartbeats(stb) != 1 {
		t.Fatal("standby peer got no heartbeat")
	}
	if countHeartbeats(uns) != 0 {
		t.Fatal("unsolicited peer got a heartbeat")
	}
}

func TestPublishUsesCutThroughForLargePayloads(t *testing.T) {
	n, _ := newTestNode(t, newMockDelegate())

	a := newMockTransport("a:1", 1)
	n.didDial(a)
	a.mutex.Lock()
	a.sent = nil
	a.mutex.Unlock()

	small := make([]byte, 100)
	large := make([]byte, 60000)

	n.Publish(7, small, "")
	n.Publish(7, large, "")

	if len(a.sentMessages()) != 1 {
		t.Fatalf("ordinary sends: %d, expected 1", len(a.sentMessages()))
	}

	a.mutex.Lock()
	ctCount := len(a.ctStarted)
	a.mutex.Unlock()
	if ctCount != 1 {
		t.Fatalf("cut-through sends: %d, expected 1", ctCount)
	}
}

func TestIsHealthy(t *testing.T) {
	n, _ := newTestNode(t, newMockDelegate())

	if n.IsHealthy() {
		t.Fatal("empty node claims to be healthy")
	}

	a := newMockTransport("a:1", 1)
	n.didDial(a)
	if !n.IsHealthy() {
		t.Fatal("node with a solicited peer claims to be unhealthy")
	}

	n.didClose(a)
	if n.IsHealthy() {
		t.Fatal("node without peers claims to be healthy")
	}
}

func TestUnsubscribeSendsPerChannel(t *testing.T) {
	delegate := newMockDelegate(1, 2, 3)
	n, provider := newTestNode(t, delegate)

	a := newMockTransport("a:1", 1)
	provider.add(a)

	n.Unsubscribe("a:1")

	sent := a.sentMessages()
	if len(sent) != 3 {
		t.Fatalf("unsubscribes: %d, expected 3", len(sent))
	}
	for _, msg := range sent {
		if msg[0] != typeUnsubscribe {
			t.Fatalf("unexpected message type %d", msg[0])
		}
	}

	// Unknown peers are a no-op.
	n.Unsubscribe("unknown:1")
}
