// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package lpf

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/meshwork-net/meshwork-go/pkg/stream"
)

// Delegate receives framed messages and cut-through progress from a
// Transport. The pub/sub node implements it.
type Delegate interface {
	DidDial(t *Transport)
	DidRecvMessage(t *Transport, message []byte) error
	DidSendMessage(t *Transport)
	DidClose(t *Transport)

	CutThroughRecvStart(t *Transport, id uint16, length uint64)
	CutThroughRecvBytes(t *Transport, id uint16, data []byte) error
	CutThroughRecvEnd(t *Transport, id uint16)
	CutThroughRecvFlush(t *Transport, id uint16)
	CutThroughRecvSkip(t *Transport, id uint16)
}

// recvMode tells how an incoming frame is handled.
type recvMode uint8

const (
	modeBuffer recvMode = iota
	modeCutThrough
)

// recvState is the per-stream decoder state.
type recvState struct {
	framer *Framer

	inFrame bool
	mode    recvMode

	// buffer accumulates an ordinary frame.
	buffer []byte
}

// Transport frames messages on one stream transport. Ordinary messages
// travel length-prefixed on stream 0; large messages use dedicated
// cut-through streams.
type Transport struct {
	base     *stream.Transport
	delegate Delegate

	prefixLength        uint8
	cutThroughEnabled   bool
	cutThroughThreshold uint64
	chunkSize           int

	recvStates map[uint16]*recvState

	// cutThroughUsed lists receive stream ids that entered cut-through
	// mode and are not finished yet.
	cutThroughUsed map[uint16]bool

	mutex sync.Mutex
}

func newTransport(base *stream.Transport, conf Config, delegate Delegate) *Transport {
	return &Transport{
		base:     base,
		delegate: delegate,

		prefixLength:        conf.PrefixLength,
		cutThroughEnabled:   conf.EnableCutThrough,
		cutThroughThreshold: conf.CutThroughThreshold,
		chunkSize:           conf.ChunkSize,

		recvStates:     make(map[uint16]*recvState),
		cutThroughUsed: make(map[uint16]bool),
	}
}

// RemoteAddr is the remote endpoint's address.
func (t *Transport) RemoteAddr() string {
	return t.base.RemoteAddr()
}

// RemoteStaticKey is the remote endpoint's static public key.
func (t *Transport) RemoteStaticKey() [32]byte {
	return t.base.RemoteStaticKey()
}

// IsActive reports whether the underlying transport is usable.
func (t *Transport) IsActive() bool {
	return t.base.IsActive()
}

// Close tears the underlying transport down.
func (t *Transport) Close() {
	t.base.Close()
}

//---------------- Sending ----------------//

// Send transmits one message on the ordinary stream, prefixed with its
// length. Messages to one peer leave in call order.
func (t *Transport) Send(message []byte) error {
	buf := make([]byte, int(t.prefixLength)+len(message))
	putPrefix(buf, t.prefixLength, uint64(len(message)))
	copy(buf[t.prefixLength:], message)

	if err := t.base.Send(buf); err != nil {
		return err
	}

	t.delegate.DidSendMessage(t)
	return nil
}

// CutThroughSend pipes one complete message through a dedicated stream.
func (t *Transport) CutThroughSend(message []byte) error {
	id := t.CutThroughSendStart(uint64(len(message)))
	if id == 0 {
		return fmt.Errorf("lpf: cut-through send to %s refused", t.RemoteAddr())
	}

	for off := 0; off < len(message); off += t.chunkSize {
		end := off + t.chunkSize
		if end > len(message) {
			end = len(message)
		}

		if err := t.CutThroughSendBytes(id, message[off:end]); err != nil {
			t.CutThroughSendFlush(id)
			return err
		}
	}

	t.CutThroughSendEnd(id)
	return nil
}

// CutThroughSendStart reserves an egress stream for a message of the given
// length and writes the length prefix. It returns 0 when back-pressure
// forbids the transfer.
func (t *Transport) CutThroughSendStart(length uint64) uint16 {
	id := t.base.CutThroughSendStart(length + uint64(t.prefixLength))
	if id == 0 {
		return 0
	}

	prefix := make([]byte, t.prefixLength)
	putPrefix(prefix, t.prefixLength, length)

	if err := t.base.CutThroughSendBytes(id, prefix); err != nil {
		t.base.CutThroughSendFlush(id)
		return 0
	}

	return id
}

// CutThroughSendBytes appends message bytes to an egress stream.
func (t *Transport) CutThroughSendBytes(id uint16, data []byte) error {
	return t.base.CutThroughSendBytes(id, data)
}

// CutThroughSendEnd finalizes an egress stream.
func (t *Transport) CutThroughSendEnd(id uint16) {
	t.base.CutThroughSendEnd(id)
}

// CutThroughSendFlush aborts a half-sent egress stream.
func (t *Transport) CutThroughSendFlush(id uint16) {
	t.base.CutThroughSendFlush(id)
}

// CutThroughSendSkip asks the remote to stop sending an ingress stream.
func (t *Transport) CutThroughSendSkip(id uint16) {
	t.mutex.Lock()
	delete(t.recvStates, id)
	delete(t.cutThroughUsed, id)
	t.mutex.Unlock()

	t.base.CutThroughSendSkip(id)
}

// CutThroughUsedIDs lists unfinished ingress cut-through streams. The node
// flushes their subscribers when the transport dies.
func (t *Transport) CutThroughUsedIDs() []uint16 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	ids := make([]uint16, 0, len(t.cutThroughUsed))
	for id := range t.cutThroughUsed {
		ids = append(ids, id)
	}
	return ids
}

//---------------- Receiving ----------------//

// framerSink adapts one stream's framer callbacks onto the transport.
type framerSink struct {
	t        *Transport
	streamID uint16
	state    *recvState
}

func (sink *framerSink) OnRecvBytes(chunk []byte, remaining uint64, _ string) error {
	t, state := sink.t, sink.state

	if !state.inFrame {
		state.inFrame = true

		declared := uint64(len(chunk)) + remaining
		if t.cutThroughEnabled && declared > t.cutThroughThreshold {
			state.mode = modeCutThrough

			t.mutex.Lock()
			t.cutThroughUsed[sink.streamID] = true
			t.mutex.Unlock()

			t.delegate.CutThroughRecvStart(t, sink.streamID, declared)
		} else {
			state.mode = modeBuffer
			state.buffer = make([]byte, 0, declared)
		}
	}

	switch state.mode {
	case modeCutThrough:
		return t.delegate.CutThroughRecvBytes(t, sink.streamID, chunk)
	default:
		state.buffer = append(state.buffer, chunk...)
		return nil
	}
}

func (sink *framerSink) OnRecvFrame(_ string) error {
	t, state := sink.t, sink.state
	state.inFrame = false

	switch state.mode {
	case modeCutThrough:
		t.mutex.Lock()
		delete(t.cutThroughUsed, sink.streamID)
		t.mutex.Unlock()

		t.delegate.CutThroughRecvEnd(t, sink.streamID)
		return nil

	default:
		message := state.buffer
		state.buffer = nil
		return t.delegate.DidRecvMessage(t, message)
	}
}

// didRecvBytes feeds stream bytes into the per-stream framer.
func (t *Transport) didRecvBytes(streamID uint16, data []byte) error {
	t.mutex.Lock()
	state, ok := t.recvStates[streamID]
	if !ok {
		framer, err := NewFramer(t.prefixLength)
		if err != nil {
			t.mutex.Unlock()
			return err
		}
		state = &recvState{framer: framer}
		t.recvStates[streamID] = state
	}
	t.mutex.Unlock()

	sink := &framerSink{t: t, streamID: streamID, state: state}
	return state.framer.DidRecv(data, t.RemoteAddr(), sink)
}

// didRecvStreamFin cleans one finished receive stream up. A fin in the
// middle of a frame aborts it like a flush.
func (t *Transport) didRecvStreamFin(streamID uint16) {
	t.mutex.Lock()
	state, ok := t.recvStates[streamID]
	delete(t.recvStates, streamID)
	ctUsed := t.cutThroughUsed[streamID]
	delete(t.cutThroughUsed, streamID)
	t.mutex.Unlock()

	if !ok {
		return
	}

	if state.inFrame {
		log.WithFields(log.Fields{
			"peer":   t.RemoteAddr(),
			"stream": streamID,
		}).Debug("LPF stream finished mid-frame")

		if ctUsed {
			t.delegate.CutThroughRecvFlush(t, streamID)
		}
	}
}

// didRecvFlush aborts one ingress stream on the remote's request.
func (t *Transport) didRecvFlush(streamID uint16) {
	t.mutex.Lock()
	_, ok := t.recvStates[streamID]
	delete(t.recvStates, streamID)
	ctUsed := t.cutThroughUsed[streamID]
	delete(t.cutThroughUsed, streamID)
	t.mutex.Unlock()

	if ok && ctUsed {
		t.delegate.CutThroughRecvFlush(t, streamID)
	}
}

// didRecvSkip reports that the remote rejected one of our egress streams.
func (t *Transport) didRecvSkip(streamID uint16) {
	t.delegate.CutThroughRecvSkip(t, streamID)
}
