// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package noiseudp

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/meshwork-net/meshwork-go/pkg/channel"
)

// Wire bytes in front of every UDP payload.
const (
	msgHello    = 0x01
	msgHelloAck = 0x02
	msgData     = 0x03
)

const (
	helloRetries  = 5
	helloInterval = 500 * time.Millisecond

	// maxDatagram bounds the UDP payload size we read.
	maxDatagram = 65535
)

const (
	roleInitiator = 0x00
	roleResponder = 0x01
)

// Listener speaks the sealed-datagram protocol on one UDP socket. It
// implements channel.Listener; every remote address maps to at most one
// Channel.
type Listener struct {
	conn    *net.UDPConn
	handler channel.Handler

	staticPriv [32]byte
	staticPub  [32]byte

	channels map[string]*Channel

	// pendingDials maps remote addresses to unanswered HELLOs.
	pendingDials map[string]*pending

	mutex sync.Mutex

	stopSyn chan struct{}
	stopAck chan struct{}
}

// Channel is one established session to a remote endpoint.
type Channel struct {
	listener *Listener
	addr     *net.UDPAddr
	addrStr  string

	remoteStatic [32]byte
	key          []byte

	// sendRole is the direction byte this side seals with.
	sendRole byte

	closed bool
	mutex  sync.Mutex
}

// pending tracks a dial whose HELLO has not been answered yet.
type pending struct {
	addr         *net.UDPAddr
	remoteStatic [32]byte
	ephPriv      [32]byte
	ephPub       [32]byte
	cancel       chan struct{}
}

// Listen binds a UDP socket for the given static key pair and reports all
// channels and datagrams to the handler.
func Listen(listenAddress string, staticPriv [32]byte, handler channel.Handler) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", listenAddress)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	staticPub, err := PublicKey(staticPriv)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	listener := &Listener{
		conn:       conn,
		handler:    handler,
		staticPriv: staticPriv,
		staticPub:  staticPub,

		channels:     make(map[string]*Channel),
		pendingDials: make(map[string]*pending),

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}

	go listener.reader()

	log.WithFields(log.Fields{
		"address": conn.LocalAddr(),
	}).Debug("noiseudp listener started")

	return listener, nil
}

// LocalAddr is the bound address in host:port form.
func (listener *Listener) LocalAddr() string {
	return listener.conn.LocalAddr().String()
}

// StaticKey is this listener's static public key.
func (listener *Listener) StaticKey() [32]byte {
	return listener.staticPub
}

// Dial sends a HELLO to the given address and retries until the remote
// answers or the attempt is abandoned. The established channel is reported
// through the handler.
func (listener *Listener) Dial(addr string, remoteStatic [32]byte) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}

	listener.mutex.Lock()
	if _, exists := listener.channels[udpAddr.String()]; exists {
		listener.mutex.Unlock()
		return nil
	}
	listener.mutex.Unlock()

	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return err
	}
	ephPub, err := PublicKey(ephPriv)
	if err != nil {
		return err
	}

	p := &pending{
		addr:         udpAddr,
		remoteStatic: remoteStatic,
		ephPriv:      ephPriv,
		ephPub:       ephPub,
		cancel:       make(chan struct{}),
	}

	listener.mutex.Lock()
	listener.pendingDials[udpAddr.String()] = p
	listener.mutex.Unlock()

	go listener.helloLoop(p)

	return nil
}

func (listener *Listener) helloLoop(p *pending) {
	hello := make([]byte, 1+32+32)
	hello[0] = msgHello
	copy(hello[1:33], p.ephPub[:])
	copy(hello[33:65], listener.staticPub[:])

	for i := 0; i < helloRetries; i++ {
		if _, err := listener.conn.WriteToUDP(hello, p.addr); err != nil {
			log.WithFields(log.Fields{
				"peer":  p.addr,
				"error": err,
			}).Warn("noiseudp failed to send HELLO")
		}

		select {
		case <-p.cancel:
			return
		case <-listener.stopSyn:
			return
		case <-time.After(helloInterval):
		}
	}

	listener.mutex.Lock()
	delete(listener.pendingDials, p.addr.String())
	listener.mutex.Unlock()

	log.WithFields(log.Fields{
		"peer": p.addr,
	}).Info("noiseudp dial gave up, no HELLO_ACK")
}

func (listener *Listener) reader() {
	buf := make([]byte, maxDatagram)

	for {
		n, remote, err := listener.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-listener.stopSyn:
				close(listener.stopAck)
				return
			default:
			}

			log.WithError(err).Warn("noiseudp read errored")
			continue
		}

		if n == 0 {
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		listener.dispatch(remote, datagram)
	}
}

func (listener *Listener) dispatch(remote *net.UDPAddr, datagram []byte) {
	switch datagram[0] {
	case msgHello:
		listener.handleHello(remote, datagram[1:])

	case msgHelloAck:
		listener.handleHelloAck(remote, datagram[1:])

	case msgData:
		listener.handleData(remote, datagram[1:])

	default:
		log.WithFields(log.Fields{
			"peer": remote,
			"type": datagram[0],
		}).Debug("noiseudp dropped datagram of unknown type")
	}
}

func (listener *Listener) handleHello(remote *net.UDPAddr, body []byte) {
	if len(body) != 64 {
		return
	}

	listener.mutex.Lock()
	if _, exists := listener.channels[remote.String()]; exists {
		// A session already exists; drop the duplicate HELLO.
		listener.mutex.Unlock()
		return
	}
	if p, dialing := listener.pendingDials[remote.String()]; dialing {
		// Both sides dialed each other. The side with the smaller address
		// stays initiator; the other cancels its dial and responds.
		if listener.LocalAddr() < remote.String() {
			listener.mutex.Unlock()
			return
		}

		delete(listener.pendingDials, remote.String())
		close(p.cancel)
	}
	listener.mutex.Unlock()

	if !listener.handler.ShouldAccept(remote.String()) {
		log.WithField("peer", remote).Debug("noiseudp rejected inbound HELLO")
		return
	}

	var remoteEph, remoteStatic [32]byte
	copy(remoteEph[:], body[:32])
	copy(remoteStatic[:], body[32:64])

	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return
	}
	ephPub, err := PublicKey(ephPriv)
	if err != nil {
		return
	}

	key, err := sessionKey(ephPriv, remoteEph, listener.staticPriv, remoteStatic)
	if err != nil {
		log.WithFields(log.Fields{
			"peer":  remote,
			"error": err,
		}).Warn("noiseudp key agreement failed")
		return
	}

	ack := make([]byte, 1+32+32)
	ack[0] = msgHelloAck
	copy(ack[1:33], ephPub[:])
	copy(ack[33:65], listener.staticPub[:])
	if _, err := listener.conn.WriteToUDP(ack, remote); err != nil {
		log.WithFields(log.Fields{
			"peer":  remote,
			"error": err,
		}).Warn("noiseudp failed to send HELLO_ACK")
		return
	}

	ch := &Channel{
		listener:     listener,
		addr:         remote,
		addrStr:      remote.String(),
		remoteStatic: remoteStatic,
		key:          key,
		sendRole:     roleResponder,
	}

	listener.mutex.Lock()
	if _, exists := listener.channels[ch.addrStr]; exists {
		// A session already exists; keep it and drop the duplicate HELLO.
		listener.mutex.Unlock()
		return
	}
	listener.channels[ch.addrStr] = ch
	listener.mutex.Unlock()

	listener.handler.HandleChannel(ch)
}

func (listener *Listener) handleHelloAck(remote *net.UDPAddr, body []byte) {
	if len(body) != 64 {
		return
	}

	listener.mutex.Lock()
	p, exists := listener.pendingDials[remote.String()]
	if exists {
		delete(listener.pendingDials, remote.String())
	}
	listener.mutex.Unlock()

	if !exists {
		return
	}
	close(p.cancel)

	var remoteEph, remoteStatic [32]byte
	copy(remoteEph[:], body[:32])
	copy(remoteStatic[:], body[32:64])

	var zero [32]byte
	if !bytes.Equal(p.remoteStatic[:], zero[:]) && !bytes.Equal(p.remoteStatic[:], remoteStatic[:]) {
		log.WithField("peer", remote).Warn("noiseudp peer presented an unexpected static key")
		return
	}

	key, err := sessionKey(p.ephPriv, remoteEph, listener.staticPriv, remoteStatic)
	if err != nil {
		log.WithFields(log.Fields{
			"peer":  remote,
			"error": err,
		}).Warn("noiseudp key agreement failed")
		return
	}

	ch := &Channel{
		listener:     listener,
		addr:         remote,
		addrStr:      remote.String(),
		remoteStatic: remoteStatic,
		key:          key,
		sendRole:     roleInitiator,
	}

	listener.mutex.Lock()
	if _, exists := listener.channels[ch.addrStr]; exists {
		// The responder path won a simultaneous dial; keep that session.
		listener.mutex.Unlock()
		return
	}
	listener.channels[ch.addrStr] = ch
	listener.mutex.Unlock()

	listener.handler.HandleChannel(ch)
}

func (listener *Listener) handleData(remote *net.UDPAddr, body []byte) {
	listener.mutex.Lock()
	ch := listener.channels[remote.String()]
	listener.mutex.Unlock()

	if ch == nil {
		return
	}

	// Datagrams are opened with the role the remote seals with.
	plaintext, err := open(ch.key, ch.recvRole(), body)
	if err != nil {
		log.WithFields(log.Fields{
			"peer":  remote,
			"error": err,
		}).Debug("noiseudp dropped undecryptable datagram")
		return
	}

	listener.handler.HandleDatagram(ch, plaintext)
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

	close(listener.stopSyn)
	err := listener.conn.Close()
	<-listener.stopAck

	return err
}

// Send seals one datagram and writes it to the socket.
func (ch *Channel) Send(payload []byte) error {
	ch.mutex.Lock()
	if ch.closed {
		ch.mutex.Unlock()
		return fmt.Errorf("channel to %s is closed", ch.addrStr)
	}
	ch.mutex.Unlock()

	sealed, err := seal(ch.key, ch.sendRole, payload)
	if err != nil {
		return err
	}

	datagram := make([]byte, 0, 1+len(sealed))
	datagram = append(datagram, msgData)
	datagram = append(datagram, sealed...)

	_, err = ch.listener.conn.WriteToUDP(datagram, ch.addr)
	return err
}

// RemoteAddr is the remote endpoint's address.
func (ch *Channel) RemoteAddr() string {
	return ch.addrStr
}

// RemoteStaticKey is the remote endpoint's static public key.
func (ch *Channel) RemoteStaticKey() [32]byte {
	return ch.remoteStatic
}

// Close removes the channel from its listener and notifies the handler.
func (ch *Channel) Close() error {
	ch.mutex.Lock()
	if ch.closed {
		ch.mutex.Unlock()
		return nil
	}
	ch.closed = true
	ch.mutex.Unlock()

	ch.listener.mutex.Lock()
	delete(ch.listener.channels, ch.addrStr)
	ch.listener.mutex.Unlock()

	ch.listener.handler.HandleClose(ch)
	return nil
}

func (ch *Channel) recvRole() byte {
	if ch.sendRole == roleInitiator {
		return roleResponder
	}
	return roleInitiator
}
