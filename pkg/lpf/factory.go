// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package lpf

import (
	"sync"

	"github.com/meshwork-net/meshwork-go/pkg/channel"
	"github.com/meshwork-net/meshwork-go/pkg/core"
	"github.com/meshwork-net/meshwork-go/pkg/stream"
)

// Config carries the framing tunables.
type Config struct {
	// PrefixLength is the width of the length prefix: 1, 2, 4 or 8.
	PrefixLength uint8

	// EnableCutThrough allows incoming frames above the threshold to be
	// delivered while still arriving.
	EnableCutThrough bool

	// CutThroughThreshold is the declared frame length above which a frame
	// is not buffered.
	CutThroughThreshold uint64

	// ChunkSize slices CutThroughSend into stream writes.
	ChunkSize int
}

// DefaultConfig returns the production framing tunables.
func DefaultConfig() Config {
	return Config{
		PrefixLength:        8,
		EnableCutThrough:    true,
		CutThroughThreshold: 50000,
		ChunkSize:           16384,
	}
}

// ListenDelegate is asked about inbound connections and told about created
// transports.
type ListenDelegate interface {
	ShouldAccept(addr string) bool
	DidCreateTransport(t *Transport)
}

// Factory pairs a stream factory with per-transport framing state. It
// implements the stream layer's delegates and hands framed transports to its
// own delegate.
type Factory struct {
	conf     Config
	delegate Delegate

	streamFactory *stream.Factory

	listenDelegate ListenDelegate
	transports     *core.TransportManager[Transport]
	mutex          sync.Mutex
}

// NewFactory creates a Factory. The delegate receives the upcalls of every
// framed transport.
func NewFactory(conf Config, streamConf stream.Config, delegate Delegate) *Factory {
	f := &Factory{
		conf:       conf,
		delegate:   delegate,
		transports: core.NewTransportManager[Transport](),
	}
	f.streamFactory = stream.NewFactory(streamConf, f)
	return f
}

// StreamFactory exposes the underlying stream factory; the channel listener
// must be constructed with it as handler.
func (f *Factory) StreamFactory() *stream.Factory {
	return f.streamFactory
}

// Listen attaches the bound channel listener and the listen delegate.
func (f *Factory) Listen(listener channel.Listener, delegate ListenDelegate) {
	f.mutex.Lock()
	f.listenDelegate = delegate
	f.mutex.Unlock()

	f.streamFactory.Listen(listener, f)
}

// Dial establishes a framed transport to the given address.
func (f *Factory) Dial(addr string, remoteStatic [channel.KeySize]byte) error {
	return f.streamFactory.Dial(addr, remoteStatic)
}

// GetTransport returns the framed transport for the given address, or nil.
func (f *Factory) GetTransport(addr string) *Transport {
	return f.transports.Get(addr)
}

// LocalAddr is the bound address of the underlying channel listener.
func (f *Factory) LocalAddr() string {
	return f.streamFactory.LocalAddr()
}

// Close shuts the stream factory and the channel listener down.
func (f *Factory) Close() error {
	return f.streamFactory.Close()
}

//---------------- stream.ListenDelegate ----------------//

// ShouldAccept forwards the decision to the listen delegate.
func (f *Factory) ShouldAccept(addr string) bool {
	f.mutex.Lock()
	delegate := f.listenDelegate
	f.mutex.Unlock()

	if delegate == nil {
		return false
	}
	return delegate.ShouldAccept(addr)
}

// DidCreateTransport wraps a fresh stream transport into a framed one.
func (f *Factory) DidCreateTransport(st *stream.Transport) {
	t, _ := f.transports.GetOrCreate(st.RemoteAddr(), func() *Transport {
		return newTransport(st, f.conf, f.delegate)
	})

	f.mutex.Lock()
	delegate := f.listenDelegate
	f.mutex.Unlock()

	if delegate != nil {
		delegate.DidCreateTransport(t)
	}
}

//---------------- stream.Delegate ----------------//

// DidDial forwards the completed handshake.
func (f *Factory) DidDial(st *stream.Transport) {
	if t := f.transports.Get(st.RemoteAddr()); t != nil {
		f.delegate.DidDial(t)
	}
}

// DidRecvBytes feeds stream bytes into the transport's framing state.
func (f *Factory) DidRecvBytes(st *stream.Transport, streamID uint16, data []byte) error {
	if t := f.transports.Get(st.RemoteAddr()); t != nil {
		return t.didRecvBytes(streamID, data)
	}
	return nil
}

// DidRecvStreamFin forwards a finished stream.
func (f *Factory) DidRecvStreamFin(st *stream.Transport, streamID uint16) {
	if t := f.transports.Get(st.RemoteAddr()); t != nil {
		t.didRecvStreamFin(streamID)
	}
}

// DidRecvFlush forwards an aborted ingress stream.
func (f *Factory) DidRecvFlush(st *stream.Transport, streamID uint16) {
	if t := f.transports.Get(st.RemoteAddr()); t != nil {
		t.didRecvFlush(streamID)
	}
}

// DidRecvSkip forwards a rejected egress stream.
func (f *Factory) DidRecvSkip(st *stream.Transport, streamID uint16) {
	if t := f.transports.Get(st.RemoteAddr()); t != nil {
		t.didRecvSkip(streamID)
	}
}

// DidClose removes the framed transport and notifies the delegate.
func (f *Factory) DidClose(st *stream.Transport, _ stream.CloseReason) {
	t := f.transports.Get(st.RemoteAddr())
	if t == nil {
		return
	}

	f.transports.Remove(st.RemoteAddr())
	f.delegate.DidClose(t)
}
