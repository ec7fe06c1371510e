// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicdg

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/quic-go/quic-go"

	"github.com/meshwork-net/meshwork-go/pkg/channel"
)

// ErrKeyMismatch is returned by Dial when the peer presents a static key
// other than the pinned one.
var ErrKeyMismatch = errors.New("quicdg: peer static key mismatch")

// Listener accepts and dials QUIC connections whose datagram extension
// carries the channel traffic. It implements channel.Listener.
type Listener struct {
	ql      *quic.Listener
	handler channel.Handler

	priv      ed25519.PrivateKey
	staticPub [32]byte

	channels map[string]*Channel
	mutex    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// Channel is one QUIC connection reduced to its datagram extension.
type Channel struct {
	listener *Listener
	conn     *quic.Conn
	addrStr  string

	remoteStatic [32]byte

	closed bool
	mutex  sync.Mutex
}

// Listen binds a QUIC listener for the given Ed25519 key and reports all
// channels and datagrams to the handler.
func Listen(listenAddress string, priv ed25519.PrivateKey, handler channel.Handler) (*Listener, error) {
	tlsConf, err := selfSignedConfig(priv)
	if err != nil {
		return nil, err
	}

	ql, err := quic.ListenAddr(listenAddress, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	listener := &Listener{
		ql:      ql,
		handler: handler,
		priv:    priv,

		channels: make(map[string]*Channel),

		ctx:    ctx,
		cancel: cancel,
	}
	copy(listener.staticPub[:], priv.Public().(ed25519.PublicKey))

	go listener.acceptLoop()

	log.WithFields(log.Fields{
		"address": ql.Addr(),
	}).Debug("quicdg listener started")

	return listener, nil
}

// LocalAddr is the bound address in host:port form.
func (listener *Listener) LocalAddr() string {
	return listener.ql.Addr().String()
}

// StaticKey is this listener's static public key.
func (listener *Listener) StaticKey() [32]byte {
	return listener.staticPub
}

func (listener *Listener) acceptLoop() {
	for {
		conn, err := listener.ql.Accept(listener.ctx)
		if err != nil {
			select {
			case <-listener.ctx.Done():
				return
			default:
			}

			log.WithError(err).Warn("quicdg accept errored")
			return
		}

		if !listener.handler.ShouldAccept(conn.RemoteAddr().String()) {
			_ = conn.CloseWithError(errorCodeLocal, "not accepted")
			continue
		}

		go listener.install(conn)
	}
}

// install registers a fresh connection, inbound or dialed, and starts its
// datagram reader.
func (listener *Listener) install(conn *quic.Conn) {
	remoteStatic, err := peerStaticKey(conn.ConnectionState().TLS)
	if err != nil {
		log.WithFields(log.Fields{
			"peer":  conn.RemoteAddr(),
			"error": err,
		}).Warn("quicdg rejected peer without usable static key")

		_ = conn.CloseWithError(errorCodeLocal, "unusable peer key")
		return
	}

	ch := &Channel{
		listener:     listener,
		conn:         conn,
		addrStr:      conn.RemoteAddr().String(),
		remoteStatic: remoteStatic,
	}

	listener.mutex.Lock()
	if _, exists := listener.channels[ch.addrStr]; exists {
		listener.mutex.Unlock()
		_ = conn.CloseWithError(errorCodeLocal, "duplicate channel")
		return
	}
	listener.channels[ch.addrStr] = ch
	listener.mutex.Unlock()

	listener.handler.HandleChannel(ch)

	go ch.reader()
}

// Dial establishes a QUIC connection to the given address. A non-zero
// remoteStatic pins the static key the peer must present.
func (listener *Listener) Dial(addr string, remoteStatic [32]byte) error {
	listener.mutex.Lock()
	if _, exists := listener.channels[addr]; exists {
		listener.mutex.Unlock()
		return nil
	}
	listener.mutex.Unlock()

	tlsConf, err := selfSignedConfig(listener.priv)
	if err != nil {
		return err
	}

	conn, err := quic.DialAddr(listener.ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return err
	}

	presented, err := peerStaticKey(conn.ConnectionState().TLS)
	if err != nil {
		_ = conn.CloseWithError(errorCodeLocal, "unusable peer key")
		return err
	}

	var zero [32]byte
	if !bytes.Equal(remoteStatic[:], zero[:]) && !bytes.Equal(remoteStatic[:], presented[:]) {
		_ = conn.CloseWithError(errorCodeLocal, "unexpected peer key")
		return ErrKeyMismatch
	}

	go listener.install(conn)
	return nil
}

// Close shuts the listener and all its channels down.
func (listener *Listener) Close() error {
	listener.mutex.Lock()
	channels := make([]*Channel, 0, len(listener.channels))
	for _, ch := range listener.channels {
		channels = append(channels, ch)
	}
	listener.mutex.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}

	listener.cancel()
	return listener.ql.Close()
}

func (ch *Channel) reader() {
	for {
		payload, err := ch.conn.ReceiveDatagram(ch.listener.ctx)
		if err != nil {
			ch.teardown()
			return
		}

		ch.listener.handler.HandleDatagram(ch, payload)
	}
}

// Send transmits one datagram. Oversized or unsendable datagrams error.
func (ch *Channel) Send(payload []byte) error {
	return ch.conn.SendDatagram(payload)
}

// RemoteAddr is the remote endpoint's address.
func (ch *Channel) RemoteAddr() string {
	return ch.addrStr
}

// RemoteStaticKey is the remote endpoint's static public key.
func (ch *Channel) RemoteStaticKey() [32]byte {
	return ch.remoteStatic
}

// Close tears the connection down and notifies the handler.
func (ch *Channel) Close() error {
	err := ch.conn.CloseWithError(errorCodeShutdown, "channel closed")
	ch.teardown()
	return err
}

func (ch *Channel) teardown() {
	ch.mutex.Lock()
	if ch.closed {
		ch.mutex.Unlock()
		return
	}
	ch.closed = true
	ch.mutex.Unlock()

	ch.listener.mutex.Lock()
	delete(ch.listener.channels, ch.addrStr)
	ch.listener.mutex.Unlock()

	ch.listener.handler.HandleClose(ch)
}
