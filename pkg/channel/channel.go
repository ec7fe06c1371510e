// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

// KeySize is the length of a static public key.
const KeySize = 32

// Channel is one encrypted, authenticated, unordered datagram path to a
// single remote endpoint. Datagrams may be lost, duplicated or reordered;
// a Channel only guarantees that delivered datagrams are intact and were
// produced by the holder of RemoteStaticKey.
type Channel interface {
	// Send queues one datagram for transmission. It must not block on the
	// network; a full outbound buffer is reported as an error.
	Send(payload []byte) error

	// RemoteAddr is the remote endpoint's address in host:port form.
	RemoteAddr() string

	// RemoteStaticKey is the remote endpoint's static public key.
	RemoteStaticKey() [KeySize]byte

	// Close tears the channel down. No further Handler upcalls follow the
	// HandleClose triggered by this call.
	Close() error
}

// Handler receives datagrams and lifecycle events from a Listener. All
// upcalls for one Channel are serialized.
type Handler interface {
	// ShouldAccept is asked before an inbound channel is established.
	ShouldAccept(addr string) bool

	// HandleChannel reports a newly established channel, inbound or dialed.
	HandleChannel(ch Channel)

	// HandleDatagram delivers one received datagram.
	HandleDatagram(ch Channel, payload []byte)

	// HandleClose reports that the channel is gone, whichever side closed it.
	HandleClose(ch Channel)
}

// Listener binds a local endpoint. It accepts inbound channels and dials
// outbound ones, reporting both through the registered Handler.
type Listener interface {
	// Dial establishes a channel to the given address, expecting the remote
	// to present the given static key. The channel is reported through
	// Handler.HandleChannel once established.
	Dial(addr string, remoteStatic [KeySize]byte) error

	// LocalAddr is the bound address in host:port form.
	LocalAddr() string

	// Close shuts the listener and all its channels down.
	Close() error
}
