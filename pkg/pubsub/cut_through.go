// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pubsub

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// cutThroughHeaderLen is the fixed MESSAGE prefix a cut-through ingress must
// deliver in its first chunk: type(1) ∥ message_id(8) ∥ channel(2) ∥
// witness_length(2).
const cutThroughHeaderLen = 13

// cutKey identifies one ingress session.
type cutKey struct {
	transport Transport
	streamID  uint16
}

// cutSubscriber is one egress of a session.
type cutSubscriber struct {
	transport Transport
	streamID  uint16
}

// cutThroughRecvStart opens an empty session for an ingress stream.
func (n *Node) cutThroughRecvStart(t Transport, id uint16, length uint64) {
	key := cutKey{t, id}

	n.mutex.Lock()
	n.cutMap[key] = nil
	n.cutHeaderRecv[key] = false
	n.cutLength[key] = length
	n.mutex.Unlock()

	log.WithFields(log.Fields{
		"peer":   t.RemoteAddr(),
		"stream": id,
		"length": length,
	}).Info("Cut-through start")
}

// cutThroughRecvBytes routes one ingress chunk. The first chunk must contain
// the full message header; it decides deduplication and the egress set, and
// every egress receives the header with this node's key appended to the
// witness.
func (n *Node) cutThroughRecvBytes(t Transport, id uint16, chunk []byte) error {
	key := cutKey{t, id}

	n.mutex.Lock()
	headerRecv, known := n.cutHeaderRecv[key]
	n.mutex.Unlock()

	if !known {
		return nil
	}

	if headerRecv {
		n.forwardCutThrough(key, chunk)
		return nil
	}

	if len(chunk) < cutThroughHeaderLen {
		t.Close()
		return fmt.Errorf("cut-through header of %d bytes is too short", len(chunk))
	}

	witnessLength := int(binary.BigEndian.Uint16(chunk[11:13]))
	if len(chunk) < cutThroughHeaderLen+witnessLength {
		t.Close()
		return fmt.Errorf("cut-through header lacks witness: %d < %d", len(chunk), cutThroughHeaderLen+witnessLength)
	}

	messageID := binary.BigEndian.Uint64(chunk[1:9])

	log.WithFields(log.Fields{
		"peer":    t.RemoteAddr(),
		"stream":  id,
		"message": messageID,
	}).Info("Cut-through header")

	n.mutex.Lock()
	n.cutHeaderRecv[key] = true

	if _, seen := n.seenIDs[messageID]; seen {
		n.dropSessionLocked(key)
		n.mutex.Unlock()

		t.CutThroughSendSkip(id)
		return nil
	}
	n.insertMessageIDLocked(messageID)

	witness := chunk[cutThroughHeaderLen : cutThroughHeaderLen+witnessLength]
	candidates := append(n.solicited.Slice(), n.unsolicited.Slice()...)
	totalLength := n.cutLength[key]
	n.mutex.Unlock()

	var subscribers []cutSubscriber
	for _, sub := range candidates {
		if sub == t {
			continue
		}

		if witnessTrailContains(witness, sub.RemoteStaticKey()) {
			continue
		}

		// Reserve room for our own key joining the witness.
		subID := sub.CutThroughSendStart(totalLength + 32)
		if subID == 0 {
			log.WithField("peer", sub.RemoteAddr()).Warn("Cut-through subscriber refused stream")
			continue
		}

		subscribers = append(subscribers, cutSubscriber{sub, subID})
	}

	n.mutex.Lock()
	if _, alive := n.cutHeaderRecv[key]; alive {
		n.cutMap[key] = subscribers
	}
	n.mutex.Unlock()

	// Rebuild the header with our key appended to the witness trail.
	newHeader := make([]byte, cutThroughHeaderLen+witnessLength+32)
	copy(newHeader, chunk[:cutThroughHeaderLen+witnessLength])
	copy(newHeader[cutThroughHeaderLen+witnessLength:], n.publicKey[:])
	binary.BigEndian.PutUint16(newHeader[11:13], uint16(witnessLength+32))

	n.forwardCutThrough(key, newHeader)
	if rest := chunk[cutThroughHeaderLen+witnessLength:]; len(rest) > 0 {
		n.forwardCutThrough(key, rest)
	}

	return nil
}

// witnessTrailContains scans a raw witness trail, 32 byte keys without the
// length prefix, for the given key.
func witnessTrailContains(trail []byte, key [32]byte) bool {
	for off := 0; off+32 <= len(trail); off += 32 {
		if string(trail[off:off+32]) == string(key[:]) {
			return true
		}
	}
	return false
}

// forwardCutThrough copies one chunk to every egress of a session. An egress
// reporting back-pressure is closed; the session survives for the rest.
func (n *Node) forwardCutThrough(key cutKey, chunk []byte) {
	n.mutex.Lock()
	subscribers := append([]cutSubscriber(nil), n.cutMap[key]...)
	n.mutex.Unlock()

	for _, sub := range subscribers {
		buf := make([]byte, len(chunk))
		copy(buf, chunk)

		if err := sub.transport.CutThroughSendBytes(sub.streamID, buf); err != nil {
			log.WithFields(log.Fields{
				"peer":  sub.transport.RemoteAddr(),
				"error": err,
			}).Warn("Cut-through forward failed, dropping subscriber")

			sub.transport.Close()
		}
	}
}

// cutThroughRecvEnd finalizes a session; every egress gets its fin.
func (n *Node) cutThroughRecvEnd(t Transport, id uint16) {
	key := cutKey{t, id}

	n.mutex.Lock()
	subscribers := n.cutMap[key]
	n.dropSessionLocked(key)
	n.mutex.Unlock()

	for _, sub := range subscribers {
		sub.transport.CutThroughSendEnd(sub.streamID)
	}

	log.WithFields(log.Fields{
		"peer":   t.RemoteAddr(),
		"stream": id,
	}).Info("Cut-through end")
}

// cutThroughRecvFlush aborts a session; every egress gets flushed.
func (n *Node) cutThroughRecvFlush(t Transport, id uint16) {
	key := cutKey{t, id}

	n.mutex.Lock()
	subscribers := n.cutMap[key]
	n.dropSessionLocked(key)
	n.mutex.Unlock()

	for _, sub := range subscribers {
		sub.transport.CutThroughSendFlush(sub.streamID)
	}

	log.WithFields(log.Fields{
		"peer":   t.RemoteAddr(),
		"stream": id,
	}).Info("Cut-through flush")
}

// cutThroughRecvSkip removes the egress (t, id) from every session after the
// remote rejected the stream's prefix.
func (n *Node) cutThroughRecvSkip(t Transport, id uint16) {
	n.mutex.Lock()
	for key, subscribers := range n.cutMap {
		for i, sub := range subscribers {
			if sub.transport == t && sub.streamID == id {
				n.cutMap[key] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
	}
	n.mutex.Unlock()

	log.WithFields(log.Fields{
		"peer":   t.RemoteAddr(),
		"stream": id,
	}).Info("Cut-through skip")
}

// dropSessionLocked erases one session's bookkeeping.
func (n *Node) dropSessionLocked(key cutKey) {
	delete(n.cutMap, key)
	delete(n.cutLength, key)
	delete(n.cutHeaderRecv, key)
}

// dropCutThroughSessionsLocked tears down everything referencing a gone
// transport: sessions it fed are flushed to their subscribers, and it is
// removed as a subscriber from all other sessions. The returned list names
// the egress streams to flush once the lock is released.
func (n *Node) dropCutThroughSessionsLocked(t Transport) []cutSubscriber {
	var flushes []cutSubscriber

	for _, id := range t.CutThroughUsedIDs() {
		key := cutKey{t, id}
		flushes = append(flushes, n.cutMap[key]...)
		n.dropSessionLocked(key)
	}

	// Sessions keyed by other transports may still list t as an egress.
	for key, subscribers := range n.cutMap {
		for i, sub := range subscribers {
			if sub.transport == t {
				n.cutMap[key] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
	}

	return flushes
}
