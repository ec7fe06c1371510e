// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"bytes"
	"reflect"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	packets := []*Packet{
		{
			Version:   Version,
			Type:      TypeDial,
			SrcConnID: 0xdeadbeef,
		},
		{
			Version:      Version,
			Type:         TypeData,
			SrcConnID:    1,
			DstConnID:    2,
			StreamID:     7,
			PacketNumber: 424242,
			Offset:       1 << 33,
			Payload:      []byte("some stream payload"),
		},
		{
			Version:      Version,
			Type:         TypeDataFin,
			SrcConnID:    ^uint32(0),
			DstConnID:    ^uint32(0),
			StreamID:     ^uint16(0),
			PacketNumber: ^uint64(0),
			Offset:       ^uint64(0),
			Payload:      []byte{},
		},
	}

	for i, p := range packets {
		buf := p.Marshal()
		parsed, err := ParsePacket(buf)
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}

		if parsed.Version != p.Version || parsed.Type != p.Type ||
			parsed.SrcConnID != p.SrcConnID || parsed.DstConnID != p.DstConnID ||
			parsed.StreamID != p.StreamID || parsed.PacketNumber != p.PacketNumber ||
			parsed.Offset != p.Offset {
			t.Fatalf("packet %d: header mismatch: %+v instead of %+v", i, parsed, p)
		}
		if !bytes.Equal(parsed.Payload, p.Payload) {
			t.Fatalf("packet %d: payload mismatch", i)
		}
	}
}

func TestParsePacketRejectsGarbage(t *testing.T) {
	if _, err := ParsePacket([]byte{1, 2, 3}); err == nil {
		t.Fatal("short packet parsed")
	}

	p := &Packet{Version: Version, Type: TypeData, Payload: []byte("x")}
	buf := p.Marshal()

	bad := make([]byte, len(buf))
	copy(bad, buf)
	bad[0] = 99
	if _, err := ParsePacket(bad); err == nil {
		t.Fatal("wrong version parsed")
	}

	copy(bad, buf)
	bad[29] = 200 // length field no longer matches
	if _, err := ParsePacket(bad); err == nil {
		t.Fatal("wrong length parsed")
	}
}

func TestAckPayloadRoundTrip(t *testing.T) {
	in := []uint64{1, 2, 3, 1 << 60}
	out, err := parseAckPayload(marshalAckPayload(in))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("ack payload mismatch: %v instead of %v", out, in)
	}

	if _, err := parseAckPayload([]byte{1, 2, 3}); err == nil {
		t.Fatal("odd ack payload parsed")
	}
}
