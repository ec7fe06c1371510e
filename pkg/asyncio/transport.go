// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package asyncio

import (
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 64 * time.Second

	dialTimeout = 5 * time.Second

	readBufferSize = 32768
)

// Delegate receives the transport's upcalls.
type Delegate interface {
	// DidConnect fires after every successful (re)connect.
	DidConnect(t *Transport)

	// DidRecv delivers raw received bytes.
	DidRecv(t *Transport, data []byte)

	// DidClose fires once after Close; reconnects do not trigger it.
	DidClose(t *Transport)
}

// Transport is a TCP connection that redials itself. Between connection loss
// and successful redial, Send fails; the delegate sees a DidConnect for every
// established connection.
type Transport struct {
	address  string
	delegate Delegate

	internal bool

	conn    net.Conn
	backoff time.Duration

	closed bool
	mutex  sync.Mutex

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewTransport creates a reconnecting transport for the given address and
// starts connecting.
func NewTransport(address string, delegate Delegate) *Transport {
	t := &Transport{
		address:  address,
		delegate: delegate,

		internal: isInternalAddress(address),
		backoff:  initialBackoff,

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}

	go t.loop()

	return t
}

// isInternalAddress reports whether the host part is a private or loopback
// address.
func isInternalAddress(address string) bool {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	return ip.IsPrivate() || ip.IsLoopback()
}

// IsInternal reports whether the remote is a private or loopback address.
func (t *Transport) IsInternal() bool {
	return t.internal
}

// Address is the remote address this transport connects to.
func (t *Transport) Address() string {
	return t.address
}

func (t *Transport) loop() {
	for {
		conn, err := dial(t.address, dialTimeout)
		if err != nil {
			log.WithFields(log.Fields{
				"address": t.address,
				"backoff": t.backoff,
				"error":   err,
			}).Debug("Reconnecting transport failed to dial")

			select {
			case <-t.stopSyn:
				close(t.stopAck)
				return
			case <-time.After(t.backoff):
			}

			t.backoff *= 2
			if t.backoff > maxBackoff {
				t.backoff = maxBackoff
			}
			continue
		}

		t.mutex.Lock()
		if t.closed {
			t.mutex.Unlock()
			_ = conn.Close()
			close(t.stopAck)
			return
		}
		t.conn = conn
		t.backoff = initialBackoff
		t.mutex.Unlock()

		log.WithField("address", t.address).Debug("Reconnecting transport connected")

		t.delegate.DidConnect(t)

		t.read(conn)

		t.mutex.Lock()
		t.conn = nil
		closed := t.closed
		t.mutex.Unlock()

		if closed {
			close(t.stopAck)
			return
		}
	}
}

func (t *Transport) read(conn net.Conn) {
	buf := make([]byte, readBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			t.delegate.DidRecv(t, data)
		}

		if err != nil {
			log.WithFields(log.Fields{
				"address": t.address,
				"error":   err,
			}).Debug("Reconnecting transport lost its connection")

			_ = conn.Close()
			return
		}
	}
}

// Send writes bytes to the current connection. It fails while disconnected.
func (t *Transport) Send(data []byte) error {
	t.mutex.Lock()
	conn := t.conn
	t.mutex.Unlock()

	if conn == nil {
		return net.ErrClosed
	}

	_, err := conn.Write(data)
	return err
}

// Close stops reconnecting and tears the connection down.
func (t *Transport) Close() {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.mutex.Unlock()

	close(t.stopSyn)
	if conn != nil {
		_ = conn.Close()
	}
	<-t.stopAck

	t.delegate.DidClose(t)
}
