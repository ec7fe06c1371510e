// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package lpf

import (
	"fmt"
)

// FramerDelegate consumes the framer's output. OnRecvBytes delivers every
// payload slice together with the bytes still missing from the current frame;
// OnRecvFrame fires once a frame is complete.
type FramerDelegate interface {
	OnRecvBytes(chunk []byte, remaining uint64, addr string) error
	OnRecvFrame(addr string) error
}

// Framer is a stateful decoder recovering frame boundaries from a byte
// stream. A frame is a big-endian length prefix followed by that many payload
// bytes. The prefix length must be 1, 2, 4 or 8 bytes.
//
// The framer handles prefixes split across chunks, frames split across many
// chunks and several frames within one chunk.
type Framer struct {
	prefixLength uint8

	prefix     [8]byte
	prefixHave uint8

	// remaining counts outstanding payload bytes; only meaningful while
	// primed. An unprimed framer is reading the prefix.
	remaining uint64
	primed    bool
}

// NewFramer creates a Framer for the given prefix length.
func NewFramer(prefixLength uint8) (*Framer, error) {
	switch prefixLength {
	case 1, 2, 4, 8:
		return &Framer{prefixLength: prefixLength}, nil
	default:
		return nil, fmt.Errorf("prefix length %d not in {1,2,4,8}", prefixLength)
	}
}

// Reset primes the framer to expect next payload bytes before the following
// prefix. It overrides prefix parsing for the current frame.
func (f *Framer) Reset(next uint64) {
	f.primed = true
	f.remaining = next
	f.prefixHave = 0
}

// Remaining returns the outstanding payload bytes of the current frame, or 0
// while reading a prefix.
func (f *Framer) Remaining() uint64 {
	if !f.primed {
		return 0
	}
	return f.remaining
}

// InFrame reports whether the framer is mid-payload.
func (f *Framer) InFrame() bool {
	return f.primed
}

// DidRecv consumes one chunk, invoking the delegate for every payload slice
// and completed frame.
func (f *Framer) DidRecv(chunk []byte, addr string, delegate FramerDelegate) error {
	for len(chunk) > 0 || (f.primed && f.remaining == 0) {
		if !f.primed {
			n := copy(f.prefix[f.prefixHave:f.prefixLength], chunk)
			f.prefixHave += uint8(n)
			chunk = chunk[n:]

			if f.prefixHave < f.prefixLength {
				return nil
			}

			var length uint64
			for _, b := range f.prefix[:f.prefixLength] {
				length = length<<8 | uint64(b)
			}
			f.primed = true
			f.remaining = length
			f.prefixHave = 0
			continue
		}

		if f.remaining == 0 {
			// Zero length frame.
			f.primed = false
			if err := delegate.OnRecvFrame(addr); err != nil {
				return err
			}
			continue
		}

		n := uint64(len(chunk))
		if n > f.remaining {
			n = f.remaining
		}
		payload := chunk[:n]
		chunk = chunk[n:]
		f.remaining -= n

		if err := delegate.OnRecvBytes(payload, f.remaining, addr); err != nil {
			return err
		}

		if f.remaining == 0 {
			f.primed = false
			if err := delegate.OnRecvFrame(addr); err != nil {
				return err
			}
		}
	}

	return nil
}

// putPrefix writes a big-endian length prefix of the given width.
func putPrefix(buf []byte, prefixLength uint8, value uint64) {
	for i := int(prefixLength) - 1; i >= 0; i-- {
		buf[i] = byte(value)
		value >>= 8
	}
}
