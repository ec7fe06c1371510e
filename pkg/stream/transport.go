// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/meshwork-net/meshwork-go/pkg/channel"
)

// Config carries the tunables of one transport.
type Config struct {
	// InitialRTO is the first retransmission timeout.
	InitialRTO time.Duration

	// MaxRTO caps the exponential backoff.
	MaxRTO time.Duration

	// MaxRetransmits closes the transport once a single packet's
	// retransmission timer expired this often.
	MaxRetransmits int

	// MSS is the maximum payload per data packet.
	MSS int

	// RecvWindow bounds buffered out-of-order bytes per stream.
	RecvWindow uint64

	// SendBufferLimit bounds the unsent backlog per stream; exceeding it
	// yields ErrBackpressure.
	SendBufferLimit uint64

	// InitialCwnd is the congestion window after the handshake.
	InitialCwnd uint64

	// IdleTimeout closes the transport when nothing was received for this
	// long. Zero disables the idle check.
	IdleTimeout time.Duration
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		InitialRTO:      time.Second,
		MaxRTO:          64 * time.Second,
		MaxRetransmits:  10,
		MSS:             1200,
		RecvWindow:      1 << 21,
		SendBufferLimit: 1 << 21,
		InitialCwnd:     12000,
		IdleTimeout:     120 * time.Second,
	}
}

// Delegate receives the upcalls of a Transport. Bytes arrive in stream order;
// stream ids other than 0 belong to cut-through transfers.
type Delegate interface {
	// DidDial fires on the dialing side once the handshake completed.
	DidDial(t *Transport)

	// DidRecvBytes delivers in-order payload bytes of one stream.
	DidRecvBytes(t *Transport, streamID uint16, data []byte) error

	// DidRecvStreamFin fires when a stream's final byte was delivered.
	DidRecvStreamFin(t *Transport, streamID uint16)

	// DidRecvFlush fires when the remote aborted a stream it was sending.
	DidRecvFlush(t *Transport, streamID uint16)

	// DidRecvSkip fires when the remote asks us to stop sending the given
	// send stream.
	DidRecvSkip(t *Transport, streamID uint16)

	// DidClose fires exactly once when the transport is gone.
	DidClose(t *Transport, reason CloseReason)
}

type connState uint8

const (
	stateIdle connState = iota
	stateDialSent
	stateDialRcvd
	stateActive
	stateClosed
)

type sentPacket struct {
	packet     *Packet
	streamID   uint16
	size       uint64
	retries    int
	isData     bool
	lastSentAt time.Time
}

// Transport is one connection to a remote peer, multiplexing ordered streams
// over the datagram channel.
type Transport struct {
	conf     Config
	ch       channel.Channel
	delegate Delegate
	factory  *Factory

	dialer bool
	state  connState

	srcConnID uint32
	dstConnID uint32

	sendStreams map[uint16]*sendStream
	recvStreams map[uint16]*recvStream

	// nextCutThroughID is the next send stream id handed out for
	// cut-through transfers. Stream 0 is the ordinary stream.
	nextCutThroughID uint16

	nextPacketNumber uint64
	sentPackets      map[uint64]*sentPacket
	bytesInFlight    uint64

	cwnd     uint64
	ssthresh uint64

	rto      time.Duration
	rtoTimer *time.Timer

	lastRecv  time.Time
	idleStop  chan struct{}
	idleOnce  sync.Once
	closeOnce sync.Once

	mutex    sync.Mutex
}

func newTransport(ch channel.Channel, conf Config, delegate Delegate, factory *Factory, dialer bool) *Transport {
	t := &Transport{
		conf:     conf,
		ch:       ch,
		delegate: delegate,
		factory:  factory,

		dialer: dialer,
		state:  stateIdle,

		srcConnID: randConnID(),

		sendStreams: make(map[uint16]*sendStream),
		recvStreams: make(map[uint16]*recvStream),

		nextCutThroughID: 1,

		sentPackets: make(map[uint64]*sentPacket),

		cwnd:     conf.InitialCwnd,
		ssthresh: 1 << 30,

		rto:      conf.InitialRTO,
		lastRecv: time.Now(),
		idleStop: make(chan struct{}),
	}

	if conf.IdleTimeout > 0 {
		go t.idleLoop()
	}

	return t
}

func randConnID() uint32 {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	id := binary.BigEndian.Uint32(buf[:])
	if id == 0 {
		id = 1
	}
	return id
}

// RemoteAddr is the remote endpoint's address.
func (t *Transport) RemoteAddr() string {
	return t.ch.RemoteAddr()
}

// RemoteStaticKey is the remote endpoint's static public key.
func (t *Transport) RemoteStaticKey() [32]byte {
	return t.ch.RemoteStaticKey()
}

// IsActive reports whether the handshake completed and the transport is
// usable.
func (t *Transport) IsActive() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.state == stateActive
}

//---------------- Handshake ----------------//

// dial starts the three-way handshake from the initiating side.
func (t *Transport) dial() {
	t.mutex.Lock()
	if t.state != stateIdle {
		t.mutex.Unlock()
		return
	}
	t.state = stateDialSent

	p := &Packet{
		Version:   Version,
		Type:      TypeDial,
		SrcConnID: t.srcConnID,
	}
	t.trackAndSend(p, 0, false)
	t.mutex.Unlock()

	log.WithFields(log.Fields{
		"peer":    t.RemoteAddr(),
		"conn_id": t.srcConnID,
	}).Debug("Stream transport sent DIAL")
}

// handleDatagram processes one received datagram. It is the single entry
// point from the channel layer.
func (t *Transport) handleDatagram(payload []byte) {
	p, err := ParsePacket(payload)
	if err != nil {
		log.WithFields(log.Fields{
			"peer":  t.RemoteAddr(),
			"error": err,
		}).Debug("Stream transport dropped malformed packet")

		t.closeWith(ReasonProtocol, true)
		return
	}

	t.mutex.Lock()
	t.lastRecv = time.Now()

	if t.state == stateClosed {
		t.mutex.Unlock()
		return
	}

	switch p.Type {
	case TypeDial:
		t.handleDialLocked(p)
	case TypeDialConf:
		t.handleDialConfLocked(p)
	case TypeConf:
		t.handleConfLocked(p)
	case TypeReset:
		t.mutex.Unlock()
		t.closeWith(ReasonRemote, false)
		return
	case TypeData, TypeDataFin:
		t.handleDataLocked(p)
		return // handleDataLocked unlocks
	case TypeAck:
		t.handleAckLocked(p)
	case TypeSkipStream:
		t.handleSkipLocked(p)
		return // unlocks
	case TypeFlushStream:
		t.handleFlushLocked(p)
		return // unlocks
	case TypeFlushConf:
		t.handleFlushConfLocked(p)
	default:
		t.mutex.Unlock()
		t.closeWith(ReasonProtocol, true)
		return
	}

	t.mutex.Unlock()
}

func (t *Transport) handleDialLocked(p *Packet) {
	switch t.state {
	case stateIdle:
		t.state = stateDialRcvd
		t.dstConnID = p.SrcConnID

		conf := &Packet{
			Version:   Version,
			Type:      TypeDialConf,
			SrcConnID: t.srcConnID,
			DstConnID: t.dstConnID,
		}
		t.trackAndSend(conf, 0, false)

	case stateDialRcvd:
		// Duplicate DIAL, the DIAL_CONF probably got lost. Resend it.
		conf := &Packet{
			Version:   Version,
			Type:      TypeDialConf,
			SrcConnID: t.srcConnID,
			DstConnID: t.dstConnID,
		}
		t.sendPacketLocked(conf)

	default:
		// DIAL on an established connection is a violation, but both ends
		// dialing each other simultaneously resolves by conn id order.
		if t.dialer && p.SrcConnID > t.srcConnID {
			t.state = stateDialRcvd
			t.dstConnID = p.SrcConnID
			conf := &Packet{
				Version:   Version,
				Type:      TypeDialConf,
				SrcConnID: t.srcConnID,
				DstConnID: t.dstConnID,
			}
			t.sendPacketLocked(conf)
		}
	}
}

func (t *Transport) handleDialConfLocked(p *Packet) {
	if t.state != stateDialSent {
		if t.state == stateActive {
			// DIAL_CONF retransmission, answer with CONF again.
			conf := &Packet{
				Version:   Version,
				Type:      TypeConf,
				SrcConnID: t.srcConnID,
				DstConnID: t.dstConnID,
			}
			t.sendPacketLocked(conf)
		}
		return
	}

	if p.DstConnID != t.srcConnID {
		t.mutex.Unlock()
		t.closeWith(ReasonProtocol, true)
		t.mutex.Lock()
		return
	}

	t.dstConnID = p.SrcConnID
	t.state = stateActive
	t.clearHandshakePacketsLocked()

	conf := &Packet{
		Version:   Version,
		Type:      TypeConf,
		SrcConnID: t.srcConnID,
		DstConnID: t.dstConnID,
	}
	t.sendPacketLocked(conf)

	delegate := t.delegate
	t.mutex.Unlock()
	delegate.DidDial(t)
	t.mutex.Lock()
}

func (t *Transport) handleConfLocked(p *Packet) {
	if t.state != stateDialRcvd {
		return
	}

	if p.DstConnID != t.srcConnID {
		t.mutex.Unlock()
		t.closeWith(ReasonProtocol, true)
		t.mutex.Lock()
		return
	}

	t.state = stateActive
	t.clearHandshakePacketsLocked()
}

// clearHandshakePacketsLocked drops tracked handshake packets once the state
// machine advanced past them.
func (t *Transport) clearHandshakePacketsLocked() {
	for pn, sp := range t.sentPackets {
		if !sp.isData {
			delete(t.sentPackets, pn)
		}
	}
	t.rearmRTOLocked()
}

//---------------- Receiving ----------------//

// handleDataLocked processes a data packet and releases the mutex itself:
// deliveries run without the lock so the delegate may send on this transport.
func (t *Transport) handleDataLocked(p *Packet) {
	if t.state == stateDialRcvd {
		// The CONF got lost but the remote is already sending. Promote.
		t.state = stateActive
		t.clearHandshakePacketsLocked()
	}

	if t.state != stateActive || p.DstConnID != t.srcConnID {
		t.mutex.Unlock()
		t.closeWith(ReasonProtocol, true)
		return
	}

	s, ok := t.recvStreams[p.StreamID]
	if !ok {
		s = newRecvStream(p.StreamID)
		t.recvStreams[p.StreamID] = s
	}

	if s.skipped {
		// Remote has not seen our SKIP_STREAM yet, ack and drop.
		t.sendAckLocked(p.PacketNumber)
		t.mutex.Unlock()
		return
	}

	if p.Type == TypeDataFin {
		finOffset := p.Offset + uint64(len(p.Payload))
		if s.hasFin && s.finOffset != finOffset {
			t.mutex.Unlock()
			t.closeWith(ReasonProtocol, true)
			return
		}
		s.finOffset = finOffset
		s.hasFin = true
	}

	payload := make([]byte, len(p.Payload))
	copy(payload, p.Payload)

	stored := s.insert(p.Offset, payload, t.conf.RecvWindow)
	if !stored && p.Offset+uint64(len(p.Payload)) > s.readOffset {
		// Receive window overflow; no ack, the sender retries later.
		t.mutex.Unlock()
		return
	}

	// Stored or an old retransmission whose ack got lost; possibly also a
	// bare fin marker completing the stream.
	t.sendAckLocked(p.PacketNumber)

	deliveries := s.drain()
	finished := s.finished()
	if finished {
		delete(t.recvStreams, p.StreamID)
	}
	streamID := p.StreamID
	delegate := t.delegate
	t.mutex.Unlock()

	for _, data := range deliveries {
		if err := delegate.DidRecvBytes(t, streamID, data); err != nil {
			log.WithFields(log.Fields{
				"peer":   t.RemoteAddr(),
				"stream": streamID,
				"error":  err,
			}).Warn("Stream transport delegate rejected bytes")

			t.closeWith(ReasonProtocol, true)
			return
		}
	}

	if finished {
		delegate.DidRecvStreamFin(t, streamID)
	}
}

func (t *Transport) sendAckLocked(packetNumber uint64) {
	ack := &Packet{
		Version:      Version,
		Type:         TypeAck,
		SrcConnID:    t.srcConnID,
		DstConnID:    t.dstConnID,
		PacketNumber: packetNumber,
		Payload:      marshalAckPayload([]uint64{packetNumber}),
	}
	t.sendPacketLocked(ack)
}

func (t *Transport) handleAckLocked(p *Packet) {
	packetNumbers, err := parseAckPayload(p.Payload)
	if err != nil {
		return
	}

	acked := false
	for _, pn := range packetNumbers {
		sp, ok := t.sentPackets[pn]
		if !ok {
			continue
		}
		delete(t.sentPackets, pn)
		acked = true

		if sp.isData {
			t.bytesInFlight -= sp.size
			if s, ok := t.sendStreams[sp.streamID]; ok {
				s.inFlight -= sp.size
				if s.done() {
					delete(t.sendStreams, sp.streamID)
				}
			}
		}

		// NewReno growth: exponential in slow start, linear afterwards.
		if t.cwnd < t.ssthresh {
			t.cwnd += sp.size
		} else if t.cwnd > 0 {
			t.cwnd += uint64(t.conf.MSS) * uint64(t.conf.MSS) / t.cwnd
		}
	}

	if acked {
		t.rto = t.conf.InitialRTO
		t.rearmRTOLocked()
		t.pumpLocked()
	}
}

func (t *Transport) handleSkipLocked(p *Packet) {
	streamID := p.StreamID

	s, ok := t.sendStreams[streamID]
	if ok {
		s.skipped = true
		s.queue = nil
		s.finSent = true
		t.dropStreamPacketsLocked(streamID)
		if s.done() {
			delete(t.sendStreams, streamID)
		}
	}

	delegate := t.delegate
	t.mutex.Unlock()

	if ok {
		delegate.DidRecvSkip(t, streamID)
	}
}

func (t *Transport) handleFlushLocked(p *Packet) {
	streamID := p.StreamID

	_, known := t.recvStreams[streamID]
	delete(t.recvStreams, streamID)

	conf := &Packet{
		Version:   Version,
		Type:      TypeFlushConf,
		SrcConnID: t.srcConnID,
		DstConnID: t.dstConnID,
		StreamID:  streamID,
	}
	t.sendPacketLocked(conf)

	delegate := t.delegate
	t.mutex.Unlock()

	if known {
		delegate.DidRecvFlush(t, streamID)
	}
}

func (t *Transport) handleFlushConfLocked(p *Packet) {
	t.dropStreamPacketsLocked(p.StreamID)
	delete(t.sendStreams, p.StreamID)
	t.pumpLocked()
}

// dropStreamPacketsLocked forgets in-flight packets of one stream, freeing
// congestion window space.
func (t *Transport) dropStreamPacketsLocked(streamID uint16) {
	for pn, sp := range t.sentPackets {
		if sp.isData && sp.streamID == streamID {
			delete(t.sentPackets, pn)
			t.bytesInFlight -= sp.size
		}
	}
	t.rearmRTOLocked()
}

//---------------- Sending ----------------//

// Send queues a complete buffer on the ordinary stream. I/O is non-blocking:
// a saturated send buffer is reported as ErrBackpressure and nothing is
// queued.
func (t *Transport) Send(data []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.state != stateActive {
		return ErrClosed
	}

	s, ok := t.sendStreams[0]
	if !ok {
		s = &sendStream{id: 0}
		t.sendStreams[0] = s
	}

	if uint64(len(s.queue))+uint64(len(data)) > t.conf.SendBufferLimit {
		return ErrBackpressure
	}

	s.queue = append(s.queue, data...)
	s.accepted += uint64(len(data))
	t.pumpLocked()

	return nil
}

// CutThroughSendStart reserves a fresh stream for a transfer of the given
// total length. It returns 0 when back-pressure forbids another transfer.
func (t *Transport) CutThroughSendStart(length uint64) uint16 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.state != stateActive {
		return 0
	}

	// Refuse when the backlog already exceeds the buffer limit.
	var backlog uint64
	for _, s := range t.sendStreams {
		backlog += uint64(len(s.queue))
	}
	if backlog >= t.conf.SendBufferLimit {
		return 0
	}

	id := t.nextCutThroughID
	for {
		if id == 0 {
			id = 1
		}
		if _, used := t.sendStreams[id]; !used {
			break
		}
		id++
	}
	t.nextCutThroughID = id + 1

	t.sendStreams[id] = &sendStream{
		id:             id,
		declaredLength: length,
		cutThrough:     true,
	}

	return id
}

// CutThroughSendBytes appends bytes to a cut-through stream. A full backlog
// is reported as ErrBackpressure; the caller is expected to give up on this
// receiver and close it.
func (t *Transport) CutThroughSendBytes(id uint16, data []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.state != stateActive {
		return ErrClosed
	}

	s, ok := t.sendStreams[id]
	if !ok || !s.cutThrough {
		return ErrUnknownStream
	}
	if s.skipped {
		return nil
	}

	if uint64(len(s.queue))+uint64(len(data)) > t.conf.SendBufferLimit {
		return ErrBackpressure
	}

	s.queue = append(s.queue, data...)
	s.accepted += uint64(len(data))
	t.pumpLocked()

	return nil
}

// CutThroughSendEnd finalizes a transfer; the last packet carries FIN.
func (t *Transport) CutThroughSendEnd(id uint16) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	s, ok := t.sendStreams[id]
	if !ok {
		return
	}

	s.finPending = true
	t.pumpLocked()
}

// CutThroughSendFlush aborts a half-sent transfer. The remote discards what
// it buffered for this stream.
func (t *Transport) CutThroughSendFlush(id uint16) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	s, ok := t.sendStreams[id]
	if !ok {
		return
	}

	s.queue = nil
	s.finSent = true
	t.dropStreamPacketsLocked(id)
	delete(t.sendStreams, id)

	flush := &Packet{
		Version:   Version,
		Type:      TypeFlushStream,
		SrcConnID: t.srcConnID,
		DstConnID: t.dstConnID,
		StreamID:  id,
	}
	t.sendPacketLocked(flush)
}

// CutThroughSendSkip asks the remote to stop sending the given receive
// stream; its remaining bytes are discarded locally.
func (t *Transport) CutThroughSendSkip(id uint16) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	s, ok := t.recvStreams[id]
	if !ok {
		s = newRecvStream(id)
		t.recvStreams[id] = s
	}
	s.skipped = true
	s.segments = make(map[uint64][]byte)
	s.buffered = 0

	skip := &Packet{
		Version:   Version,
		Type:      TypeSkipStream,
		SrcConnID: t.srcConnID,
		DstConnID: t.dstConnID,
		StreamID:  id,
	}
	t.sendPacketLocked(skip)
}

// pumpLocked moves queued bytes into packets as far as the congestion window
// allows.
func (t *Transport) pumpLocked() {
	if t.state != stateActive {
		return
	}

	for {
		progressed := false

		for _, s := range t.sendStreams {
			if s.skipped {
				continue
			}

			if len(s.queue) == 0 {
				if s.pendingFin() {
					// Everything was packetized but the fin flag is still
					// outstanding: send an empty DATA+FIN packet.
					t.packetizeLocked(s, nil, true)
					s.finSent = true
					progressed = true
				}
				continue
			}

			if t.bytesInFlight >= t.cwnd {
				return
			}

			n := t.conf.MSS
			if n > len(s.queue) {
				n = len(s.queue)
			}
			if avail := t.cwnd - t.bytesInFlight; uint64(n) > avail {
				n = int(avail)
			}
			if n == 0 {
				return
			}

			chunk := s.queue[:n]
			fin := s.finPending && n == len(s.queue)
			t.packetizeLocked(s, chunk, fin)
			s.queue = s.queue[n:]
			if fin {
				s.finSent = true
			}
			progressed = true
		}

		if !progressed {
			return
		}
	}
}

func (t *Transport) packetizeLocked(s *sendStream, chunk []byte, fin bool) {
	payload := make([]byte, len(chunk))
	copy(payload, chunk)

	typ := TypeData
	if fin {
		typ = TypeDataFin
	}

	p := &Packet{
		Version:      Version,
		Type:         typ,
		SrcConnID:    t.srcConnID,
		DstConnID:    t.dstConnID,
		StreamID:     s.id,
		Offset:       s.sentOffset,
		Payload:      payload,
	}
	s.sentOffset += uint64(len(payload))
	s.inFlight += uint64(len(payload))

	t.trackAndSend(p, s.id, true)
}

// trackAndSend assigns the packet number, remembers the packet for
// retransmission and writes it to the channel. Caller holds the mutex.
func (t *Transport) trackAndSend(p *Packet, streamID uint16, isData bool) {
	t.nextPacketNumber++
	p.PacketNumber = t.nextPacketNumber

	sp := &sentPacket{
		packet:     p,
		streamID:   streamID,
		size:       uint64(len(p.Payload)),
		isData:     isData,
		lastSentAt: time.Now(),
	}
	t.sentPackets[p.PacketNumber] = sp
	if isData {
		t.bytesInFlight += sp.size
	}

	t.sendPacketLocked(p)
	t.rearmRTOLocked()
}

func (t *Transport) sendPacketLocked(p *Packet) {
	if err := t.ch.Send(p.Marshal()); err != nil {
		log.WithFields(log.Fields{
			"peer":  t.RemoteAddr(),
			"type":  p.Type,
			"error": err,
		}).Debug("Stream transport failed to send packet")
	}
}

//---------------- Timers ----------------//

func (t *Transport) rearmRTOLocked() {
	if t.rtoTimer != nil {
		t.rtoTimer.Stop()
		t.rtoTimer = nil
	}

	if len(t.sentPackets) == 0 || t.state == stateClosed {
		return
	}

	t.rtoTimer = time.AfterFunc(t.rto, t.rtoFire)
}

func (t *Transport) rtoFire() {
	t.mutex.Lock()

	if t.state == stateClosed || len(t.sentPackets) == 0 {
		t.mutex.Unlock()
		return
	}

	exhausted := false
	for _, sp := range t.sentPackets {
		sp.retries++
		if sp.retries >= t.conf.MaxRetransmits {
			exhausted = true
			break
		}
	}

	if exhausted {
		t.mutex.Unlock()

		log.WithFields(log.Fields{
			"peer": t.RemoteAddr(),
		}).Info("Stream transport reached its retransmit cap")

		t.closeWith(ReasonTimeout, false)
		return
	}

	// Loss: multiplicative decrease, then go-back and resend.
	t.ssthresh = t.cwnd / 2
	if t.ssthresh < uint64(t.conf.MSS) {
		t.ssthresh = uint64(t.conf.MSS)
	}
	t.cwnd = t.ssthresh

	now := time.Now()
	for _, sp := range t.sentPackets {
		sp.lastSentAt = now
		t.sendPacketLocked(sp.packet)
	}

	t.rto *= 2
	if t.rto > t.conf.MaxRTO {
		t.rto = t.conf.MaxRTO
	}
	t.rearmRTOLocked()

	t.mutex.Unlock()
}

func (t *Transport) idleLoop() {
	interval := t.conf.IdleTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.idleStop:
			return

		case <-ticker.C:
			t.mutex.Lock()
			expired := t.state == stateActive && time.Since(t.lastRecv) > t.conf.IdleTimeout
			t.mutex.Unlock()

			if expired {
				log.WithFields(log.Fields{
					"peer": t.RemoteAddr(),
				}).Info("Stream transport idle, closing")

				t.closeWith(ReasonIdle, true)
				return
			}
		}
	}
}

//---------------- Teardown ----------------//

// Close tears the transport down, sending a RESET to the remote.
func (t *Transport) Close() {
	t.closeWith(ReasonLocal, true)
}

func (t *Transport) closeWith(reason CloseReason, sendReset bool) {
	t.closeOnce.Do(func() {
		t.mutex.Lock()

		if sendReset && t.state != stateIdle {
			reset := &Packet{
				Version:   Version,
				Type:      TypeReset,
				SrcConnID: t.srcConnID,
				DstConnID: t.dstConnID,
			}
			t.sendPacketLocked(reset)
		}

		t.state = stateClosed
		t.sendStreams = make(map[uint16]*sendStream)
		t.recvStreams = make(map[uint16]*recvStream)
		t.sentPackets = make(map[uint64]*sentPacket)
		t.bytesInFlight = 0
		if t.rtoTimer != nil {
			t.rtoTimer.Stop()
			t.rtoTimer = nil
		}
		t.mutex.Unlock()

		t.idleOnce.Do(func() { close(t.idleStop) })

		if t.factory != nil {
			t.factory.forget(t)
		}
		_ = t.ch.Close()

		log.WithFields(log.Fields{
			"peer":   t.RemoteAddr(),
			"reason": reason,
		}).Debug("Stream transport closed")

		t.delegate.DidClose(t, reason)
	})
}

// channelClosed is invoked by the factory when the underlying channel went
// away without a RESET.
func (t *Transport) channelClosed() {
	t.closeWith(ReasonRemote, false)
}
