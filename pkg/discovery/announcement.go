// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/howeyc/crc16"
)

// Announcement is one node's beacon: where its pub/sub listener lives and
// which static key it speaks with.
type Announcement struct {
	Port      uint16
	StaticKey [32]byte
}

// MarshalCbor creates a CBOR representation for an Announcement.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(uint64(announcement.Port), w); err != nil {
		return err
	}
	if err := cboring.WriteByteString(announcement.StaticKey[:], w); err != nil {
		return err
	}

	return nil
}

// UnmarshalCbor creates an Announcement from its CBOR representation.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("wrong array length: %d instead of 2", l)
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if n > 65535 {
		return fmt.Errorf("port %d exceeds 16 bit", n)
	} else {
		announcement.Port = uint16(n)
	}

	if key, err := cboring.ReadByteString(r); err != nil {
		return err
	} else if len(key) != 32 {
		return fmt.Errorf("static key of %d bytes instead of 32", len(key))
	} else {
		copy(announcement.StaticKey[:], key)
	}

	return nil
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(:%d,%x)", announcement.Port, announcement.StaticKey[:4])
}

// MarshalAnnouncement encodes an Announcement into a beacon payload with a
// trailing CRC-16 checksum.
func MarshalAnnouncement(announcement Announcement) (data []byte, err error) {
	buff := new(bytes.Buffer)

	if cErr := cboring.Marshal(&announcement, buff); cErr != nil {
		err = cErr
		return
	}

	data = buff.Bytes()
	checksum := crc16.ChecksumCCITT(data)
	data = binary.BigEndian.AppendUint16(data, checksum)

	return
}

// UnmarshalAnnouncement decodes a beacon payload, verifying its checksum.
func UnmarshalAnnouncement(data []byte) (announcement Announcement, err error) {
	if len(data) < 2 {
		err = fmt.Errorf("beacon of %d bytes is shorter than its checksum", len(data))
		return
	}

	payload, checksum := data[:len(data)-2], binary.BigEndian.Uint16(data[len(data)-2:])
	if expected := crc16.ChecksumCCITT(payload); expected != checksum {
		err = fmt.Errorf("beacon checksum mismatch: %04x instead of %04x", checksum, expected)
		return
	}

	err = cboring.Unmarshal(&announcement, bytes.NewBuffer(payload))
	return
}
