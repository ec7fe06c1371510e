// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"encoding/binary"
	"fmt"
)

// Version is the only wire version this package speaks.
const Version = 1

// HeaderSize is the fixed packet header length in bytes.
const HeaderSize = 30

// PacketType enumerates the packet types of the stream protocol.
type PacketType uint8

const (
	// TypeData carries stream payload bytes.
	TypeData PacketType = 0
	// TypeDataFin is a data packet closing its stream.
	TypeDataFin PacketType = 1
	// TypeAck acknowledges received packet numbers.
	TypeAck PacketType = 2
	// TypeDial opens a connection.
	TypeDial PacketType = 3
	// TypeDialConf answers a dial.
	TypeDialConf PacketType = 4
	// TypeConf completes the three-way handshake.
	TypeConf PacketType = 5
	// TypeReset aborts the connection.
	TypeReset PacketType = 6
	// TypeSkipStream asks the sender to stop transmitting a stream.
	TypeSkipStream PacketType = 7
	// TypeFlushStream tells the receiver to discard a half-sent stream.
	TypeFlushStream PacketType = 8
	// TypeFlushConf confirms a flush.
	TypeFlushConf PacketType = 9
)

func (t PacketType) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeDataFin:
		return "DATA+FIN"
	case TypeAck:
		return "ACK"
	case TypeDial:
		return "DIAL"
	case TypeDialConf:
		return "DIAL_CONF"
	case TypeConf:
		return "CONF"
	case TypeReset:
		return "RESET"
	case TypeSkipStream:
		return "SKIP_STREAM"
	case TypeFlushStream:
		return "FLUSH_STREAM"
	case TypeFlushConf:
		return "FLUSH_CONF"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Packet is one datagram of the stream protocol.
//
//	 0         1         2         6         10        12        20        28
//	+---------+---------+---------+---------+---------+---------+---------+------+
//	|version=1| type    | src_cid | dst_cid | strm_id | pkt_no  | offset  | len  |
//	| 1B      | 1B      | 4B      | 4B      | 2B      | 8B      | 8B      | 2B   |
//	+---------+---------+---------+---------+---------+---------+---------+------+
//
// All integers are big-endian. Payload follows the header; len is its size.
type Packet struct {
	Version      uint8
	Type         PacketType
	SrcConnID    uint32
	DstConnID    uint32
	StreamID     uint16
	PacketNumber uint64
	Offset       uint64
	Payload      []byte
}

// Marshal serializes the packet, header and payload.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))

	buf[0] = p.Version
	buf[1] = uint8(p.Type)
	binary.BigEndian.PutUint32(buf[2:6], p.SrcConnID)
	binary.BigEndian.PutUint32(buf[6:10], p.DstConnID)
	binary.BigEndian.PutUint16(buf[10:12], p.StreamID)
	binary.BigEndian.PutUint64(buf[12:20], p.PacketNumber)
	binary.BigEndian.PutUint64(buf[20:28], p.Offset)
	binary.BigEndian.PutUint16(buf[28:30], uint16(len(p.Payload)))
	copy(buf[HeaderSize:], p.Payload)

	return buf
}

// ParsePacket decodes one datagram. The payload aliases the input buffer.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("packet of %d bytes is shorter than the %d byte header", len(buf), HeaderSize)
	}

	p := &Packet{
		Version:      buf[0],
		Type:         PacketType(buf[1]),
		SrcConnID:    binary.BigEndian.Uint32(buf[2:6]),
		DstConnID:    binary.BigEndian.Uint32(buf[6:10]),
		StreamID:     binary.BigEndian.Uint16(buf[10:12]),
		PacketNumber: binary.BigEndian.Uint64(buf[12:20]),
		Offset:       binary.BigEndian.Uint64(buf[20:28]),
	}

	if p.Version != Version {
		return nil, fmt.Errorf("unsupported packet version %d", p.Version)
	}

	length := binary.BigEndian.Uint16(buf[28:30])
	if int(length) != len(buf)-HeaderSize {
		return nil, fmt.Errorf("length field %d does not match %d payload bytes", length, len(buf)-HeaderSize)
	}
	p.Payload = buf[HeaderSize:]

	return p, nil
}

// marshalAckPayload packs acknowledged packet numbers into an ACK payload.
func marshalAckPayload(packetNumbers []uint64) []byte {
	payload := make([]byte, 8*len(packetNumbers))
	for i, pn := range packetNumbers {
		binary.BigEndian.PutUint64(payload[8*i:], pn)
	}
	return payload
}

// parseAckPayload unpacks an ACK payload.
func parseAckPayload(payload []byte) ([]uint64, error) {
	if len(payload)%8 != 0 {
		return nil, fmt.Errorf("ack payload of %d bytes is not a multiple of 8", len(payload))
	}

	packetNumbers := make([]uint64, len(payload)/8)
	for i := range packetNumbers {
		packetNumbers[i] = binary.BigEndian.Uint64(payload[8*i:])
	}
	return packetNumbers, nil
}
