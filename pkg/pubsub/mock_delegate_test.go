// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pubsub

import (
	"sync"
	"testing"

	"github.com/meshwork-net/meshwork-go/pkg/channel"
)

// mockDelegate records delegate upcalls and answers with a configurable
// promotion plan.
type mockDelegate struct {
	mutex sync.Mutex

	channels []uint16

	received      []receivedMessage
	subscribed    []uint16
	unsubscribed  []uint16
	promotionPlan func(standby *TransportSet) []Transport
}

type receivedMessage struct {
	channelID uint16
	messageID uint64
	payload   []byte
	header    MessageHeader
}

func newMockDelegate(channels ...uint16) *mockDelegate {
	if len(channels) == 0 {
		channels = []uint16{7}
	}
	return &mockDelegate{channels: channels}
}

func (d *mockDelegate) DidSubscribe(_ *Node, channelID uint16) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.subscribed = append(d.subscribed, channelID)
}

func (d *mockDelegate) DidUnsubscribe(_ *Node, channelID uint16) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.unsubscribed = append(d.unsubscribed, channelID)
}

func (d *mockDelegate) DidRecvMessage(_ *Node, channelID uint16, messageID uint64, payload []byte, header MessageHeader) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	buf := make([]byte, len(payload))
	copy(buf, payload)
	d.received = append(d.received, receivedMessage{channelID, messageID, buf, header})
}

func (d *mockDelegate) ShouldAccept(string) bool { return true }

func (d *mockDelegate) ManageSubscriptions(_ *Node, _ int, _, standby *TransportSet) []Transport {
	d.mutex.Lock()
	plan := d.promotionPlan
	d.mutex.Unlock()

	if plan == nil {
		return nil
	}
	return plan(standby)
}

func (d *mockDelegate) Channels() []uint16 { return d.channels }

func (d *mockDelegate) receivedMessages() []receivedMessage {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]receivedMessage(nil), d.received...)
}

// stubListener is a datagram listener going nowhere.
type stubListener struct{}

func (stubListener) Dial(string, [channel.KeySize]byte) error { return nil }
func (stubListener) LocalAddr() string                        { return "stub:0" }
func (stubListener) Close() error                             { return nil }

// mockProvider serves transports from a fixed map.
type mockProvider struct {
	mutex      sync.Mutex
	transports map[string]Transport
	dialed     []string
}

func newMockProvider() *mockProvider {
	return &mockProvider{transports: make(map[string]Transport)}
}

func (p *mockProvider) Dial(addr string, _ [channel.KeySize]byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.dialed = append(p.dialed, addr)
	return nil
}

func (p *mockProvider) GetTransport(addr string) Transport {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	t, ok := p.transports[addr]
	if !ok {
		return nil
	}
	return t
}

func (p *mockProvider) add(t Transport) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.transports[t.RemoteAddr()] = t
}

// newTestNode builds a node without sockets and with a mock provider.
func newTestNode(t *testing.T, delegate *mockDelegate) (*Node, *mockProvider) {
	t.Helper()

	var priv [32]byte
	priv[0] = 0x42

	conf := DefaultConfig("stub:0", priv)
	conf.Listener = func(channel.Handler) (channel.Listener, [32]byte, error) {
		var pub [32]byte
		pub[0] = 0xab
		return stubListener{}, pub, nil
	}

	n, err := NewNode(conf, delegate)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = n.Close() })

	provider := newMockProvider()
	n.provider = provider

	return n, provider
}
