// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/meshwork-net/meshwork-go/pkg/channel"
	"github.com/meshwork-net/meshwork-go/pkg/core"
)

// ListenDelegate is asked about inbound connections and told about every
// created transport, dialed or accepted.
type ListenDelegate interface {
	ShouldAccept(addr string) bool
	DidCreateTransport(t *Transport)
}

// Factory creates one Transport per remote address on top of a datagram
// listener. It implements channel.Handler; construct the channel listener
// with the factory as its handler, then call Listen.
type Factory struct {
	conf Config

	listener channel.Listener
	delegate ListenDelegate

	transportDelegate Delegate

	transports *core.TransportManager[Transport]

	// pendingDials marks addresses this side is dialing, so the completed
	// channel starts the stream handshake.
	pendingDials map[string]bool
	mutex        sync.Mutex
}

// NewFactory creates a Factory. The transport delegate receives the upcalls
// of every transport this factory creates.
func NewFactory(conf Config, transportDelegate Delegate) *Factory {
	return &Factory{
		conf:              conf,
		transportDelegate: transportDelegate,
		transports:        core.NewTransportManager[Transport](),
		pendingDials:      make(map[string]bool),
	}
}

// Listen attaches the bound channel listener and the listen delegate. It must
// be called once before any traffic arrives.
func (f *Factory) Listen(listener channel.Listener, delegate ListenDelegate) {
	f.mutex.Lock()
	f.listener = listener
	f.delegate = delegate
	f.mutex.Unlock()
}

// Dial establishes a transport to the given address. The handshake result is
// reported through the transport delegate's DidDial.
func (f *Factory) Dial(addr string, remoteStatic [channel.KeySize]byte) error {
	if t := f.transports.Get(addr); t != nil {
		return nil
	}

	f.mutex.Lock()
	f.pendingDials[addr] = true
	listener := f.listener
	f.mutex.Unlock()

	return listener.Dial(addr, remoteStatic)
}

// GetTransport returns the transport for the given remote address, or nil.
func (f *Factory) GetTransport(addr string) *Transport {
	return f.transports.Get(addr)
}

// LocalAddr is the bound address of the underlying channel listener.
func (f *Factory) LocalAddr() string {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.listener == nil {
		return ""
	}
	return f.listener.LocalAddr()
}

// Close shuts the factory, its transports and the channel listener down.
func (f *Factory) Close() error {
	f.transports.Range(func(t *Transport) bool {
		t.Close()
		return true
	})

	f.mutex.Lock()
	listener := f.listener
	f.mutex.Unlock()

	if listener != nil {
		return listener.Close()
	}
	return nil
}

// forget drops a transport from the registry.
func (f *Factory) forget(t *Transport) {
	f.transports.Remove(t.RemoteAddr())
}

//---------------- channel.Handler ----------------//

// ShouldAccept forwards the decision to the listen delegate.
func (f *Factory) ShouldAccept(addr string) bool {
	f.mutex.Lock()
	delegate := f.delegate
	f.mutex.Unlock()

	if delegate == nil {
		return false
	}
	return delegate.ShouldAccept(addr)
}

// HandleChannel wires a fresh channel into a transport and, on the dialing
// side, starts the stream handshake.
func (f *Factory) HandleChannel(ch channel.Channel) {
	addr := ch.RemoteAddr()

	f.mutex.Lock()
	dialer := f.pendingDials[addr]
	delete(f.pendingDials, addr)
	delegate := f.delegate
	f.mutex.Unlock()

	t, created := f.transports.GetOrCreate(addr, func() *Transport {
		return newTransport(ch, f.conf, f.transportDelegate, f, dialer)
	})

	if !created {
		log.WithField("peer", addr).Debug("Stream factory ignored duplicate channel")
		return
	}

	if delegate != nil {
		delegate.DidCreateTransport(t)
	}

	if dialer {
		t.dial()
	}
}

// HandleDatagram routes one datagram to its transport.
func (f *Factory) HandleDatagram(ch channel.Channel, payload []byte) {
	if t := f.transports.Get(ch.RemoteAddr()); t != nil {
		t.handleDatagram(payload)
	}
}

// HandleClose tears the matching transport down.
func (f *Factory) HandleClose(ch channel.Channel) {
	if t := f.transports.Get(ch.RemoteAddr()); t != nil {
		t.channelClosed()
	}
}
