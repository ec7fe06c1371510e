// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/meshwork-net/meshwork-go/pkg/channel"
)

// memEnd is one side of an in-memory datagram channel. Datagrams pass
// through a queue goroutine so delivery is serialized like a socket reader.
type memEnd struct {
	localAddr  string
	remoteAddr string
	staticKey  [32]byte

	handler channel.Handler
	peer    *memEnd

	// lossPolicy decides per outgoing datagram whether it is dropped.
	lossPolicy func(i int) bool
	sendCount  int

	queue chan []byte

	closed bool
	mutex  sync.Mutex
}

func (e *memEnd) Send(payload []byte) error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return fmt.Errorf("mem channel closed")
	}
	i := e.sendCount
	e.sendCount++
	drop := e.lossPolicy != nil && e.lossPolicy(i)
	peer := e.peer
	e.mutex.Unlock()

	if drop {
		return nil
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	select {
	case peer.queue <- buf:
	default:
		// Socket buffer full, the datagram is lost.
	}
	return nil
}

func (e *memEnd) RemoteAddr() string             { return e.remoteAddr }
func (e *memEnd) RemoteStaticKey() [32]byte      { return e.staticKey }

func (e *memEnd) Close() error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return nil
	}
	e.closed = true
	e.mutex.Unlock()

	close(e.queue)
	e.handler.HandleClose(e)
	return nil
}

func (e *memEnd) pump() {
	for datagram := range e.queue {
		e.mutex.Lock()
		closed := e.closed
		e.mutex.Unlock()
		if closed {
			return
		}

		e.handler.HandleDatagram(e, datagram)
	}
}

// memListener satisfies channel.Listener for one factory.
type memListener struct {
	localAddr string
	dialFn    func(addr string) error
}

func (l *memListener) Dial(addr string, _ [channel.KeySize]byte) error {
	return l.dialFn(addr)
}

func (l *memListener) LocalAddr() string { return l.localAddr }
func (l *memListener) Close() error      { return nil }

// acceptAll is a ListenDelegate admitting everything.
type acceptAll struct{}

func (acceptAll) ShouldAccept(string) bool       { return true }
func (acceptAll) DidCreateTransport(*Transport)  {}

// memPair wires two factories together. Dialing fa's listener address "b"
// creates the channel pair and reports it to both factories.
func memPair(fa, fb *Factory, keyA, keyB [32]byte, lossAtoB, lossBtoA func(i int) bool) {
	la := &memListener{localAddr: "a:1"}
	lb := &memListener{localAddr: "b:1"}

	la.dialFn = func(addr string) error {
		endA := &memEnd{
			localAddr:  "a:1",
			remoteAddr: "b:1",
			staticKey:  keyB,
			handler:    fa,
			lossPolicy: lossAtoB,
			queue:      make(chan []byte, 4096),
		}
		endB := &memEnd{
			localAddr:  "b:1",
			remoteAddr: "a:1",
			staticKey:  keyA,
			handler:    fb,
			lossPolicy: lossBtoA,
			queue:      make(chan []byte, 4096),
		}
		endA.peer = endB
		endB.peer = endA

		go endA.pump()
		go endB.pump()

		// The dialer learns about its channel first, the listener side
		// afterwards, like a real handshake.
		fa.HandleChannel(endA)
		fb.HandleChannel(endB)

		return nil
	}
	lb.dialFn = func(string) error { return fmt.Errorf("not dialable") }

	fa.Listen(la, acceptAll{})
	fb.Listen(lb, acceptAll{})
}

// testConfig returns tight timers for fast tests.
func testConfig() Config {
	conf := DefaultConfig()
	conf.InitialRTO = 50 * time.Millisecond
	conf.MaxRTO = 500 * time.Millisecond
	conf.MaxRetransmits = 50
	conf.IdleTimeout = 0
	return conf
}
