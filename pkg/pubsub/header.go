// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pubsub

// MessageHeader carries the two opaque headers of a MESSAGE between the
// wire and the attester/witnesser: the end-to-end attestation and the
// witness trail of relay public keys. Both include their own framing; an
// absent header is an empty slice.
type MessageHeader struct {
	Attestation []byte
	Witness     []byte
}

// WitnessContains reports whether the witness trail lists the given peer
// key as one of its 32 byte entries. The leading two length bytes are
// skipped.
func (h MessageHeader) WitnessContains(key [32]byte) bool {
	return witnessContains(h.Witness, key)
}

// witnessContains scans a witness header, a 2 byte length followed by
// 32 byte public keys, for the given key.
func witnessContains(witness []byte, key [32]byte) bool {
	if len(witness) < 2 {
		return false
	}

	trail := witness[2:]
	for off := 0; off+32 <= len(trail); off += 32 {
		if string(trail[off:off+32]) == string(key[:]) {
			return true
		}
	}
	return false
}
