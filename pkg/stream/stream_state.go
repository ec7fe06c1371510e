// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

// sendStream is the sender half of one stream. All fields are guarded by the
// owning transport's mutex.
type sendStream struct {
	id uint16

	// queue holds accepted bytes that are not packetized yet.
	queue []byte

	// sentOffset is the stream offset of the next byte to packetize.
	sentOffset uint64

	// inFlight counts packetized but unacknowledged bytes.
	inFlight uint64

	// accepted counts all bytes ever handed to this stream.
	accepted uint64

	// declaredLength is the announced total for cut-through streams, 0 for
	// the ordinary stream.
	declaredLength uint64

	cutThrough bool
	finPending bool
	finSent    bool
	skipped    bool
}

// pendingFin reports whether the final packet still has to go out.
func (s *sendStream) pendingFin() bool {
	return s.finPending && !s.finSent && len(s.queue) == 0
}

// done reports whether everything was sent and acknowledged.
func (s *sendStream) done() bool {
	return s.finSent && s.inFlight == 0 && len(s.queue) == 0
}

// recvStream is the receiver half of one stream.
type recvStream struct {
	id uint16

	// readOffset is the next in-order byte expected.
	readOffset uint64

	// segments buffers out-of-order data keyed by stream offset.
	segments map[uint64][]byte

	// buffered counts bytes held in segments.
	buffered uint64

	finOffset uint64
	hasFin    bool

	// skipped marks a stream whose remaining bytes are discarded after a
	// SKIP_STREAM was sent for it.
	skipped bool
}

func newRecvStream(id uint16) *recvStream {
	return &recvStream{
		id:       id,
		segments: make(map[uint64][]byte),
	}
}

// insert stores one segment, trimming overlap with already delivered bytes.
// It reports whether the segment was (partially) stored.
func (s *recvStream) insert(offset uint64, data []byte, window uint64) bool {
	if offset+uint64(len(data)) <= s.readOffset {
		return false
	}

	if offset < s.readOffset {
		data = data[s.readOffset-offset:]
		offset = s.readOffset
	}

	if offset+uint64(len(data)) > s.readOffset+window {
		return false
	}

	if existing, ok := s.segments[offset]; ok && len(existing) >= len(data) {
		return true
	} else if ok {
		s.buffered -= uint64(len(existing))
	}

	s.segments[offset] = data
	s.buffered += uint64(len(data))
	return true
}

// drain pops all in-order bytes starting at readOffset. Segments that were
// overtaken by the read offset are dropped, delivering only their unread tail.
func (s *recvStream) drain() [][]byte {
	var out [][]byte
	for {
		data, ok := s.segments[s.readOffset]
		if ok {
			delete(s.segments, s.readOffset)
			s.buffered -= uint64(len(data))
		} else {
			for off, seg := range s.segments {
				if off >= s.readOffset {
					continue
				}

				delete(s.segments, off)
				s.buffered -= uint64(len(seg))
				if off+uint64(len(seg)) > s.readOffset {
					data = seg[s.readOffset-off:]
					ok = true
					break
				}
			}
			if !ok {
				return out
			}
		}

		s.readOffset += uint64(len(data))
		out = append(out, data)
	}
}

// finished reports whether the fin offset was reached.
func (s *recvStream) finished() bool {
	return s.hasFin && s.readOffset >= s.finOffset
}
