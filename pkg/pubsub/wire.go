// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pubsub

import (
	"encoding/binary"
	"fmt"
)

// Wire message types, the first byte of every framed message.
const (
	typeSubscribe   = 0x00
	typeUnsubscribe = 0x01
	typeResponse    = 0x02
	typeMessage     = 0x03
	typeHeartbeat   = 0x04
)

// Well-known RESPONSE strings. The remote matches them by prefix; trailing
// bytes are opaque.
const (
	responseSubscribed   = "SUBSCRIBED"
	responseUnsubscribed = "UNSUBSCRIBED"
)

// buildSubscribe encodes SUBSCRIBE (0x00) with the channel as payload.
func buildSubscribe(channelID uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = typeSubscribe
	binary.BigEndian.PutUint16(buf[1:], channelID)
	return buf
}

// buildUnsubscribe encodes UNSUBSCRIBE (0x01) with the channel as payload.
func buildUnsubscribe(channelID uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = typeUnsubscribe
	binary.BigEndian.PutUint16(buf[1:], channelID)
	return buf
}

// buildResponse encodes RESPONSE (0x02): a success byte and a message.
func buildResponse(success bool, message string) []byte {
	buf := make([]byte, 2+len(message))
	buf[0] = typeResponse
	if success {
		buf[1] = 1
	}
	copy(buf[2:], message)
	return buf
}

// buildHeartbeat encodes HEARTBEAT (0x04).
func buildHeartbeat() []byte {
	return []byte{typeHeartbeat}
}

// buildMessage encodes MESSAGE (0x03):
//
//	0x03 ∥ message_id(8) ∥ channel(2) ∥ attestation ∥ witness ∥ payload
//
// The attester and witnesser write their headers in place, deriving them
// from the previous hop's header.
func buildMessage(channelID uint16, messageID uint64, payload []byte, prev MessageHeader, attester Attester, witnesser Witnesser) []byte {
	attestationSize := attester.AttestationSize(messageID, channelID, payload, prev)
	witnessSize := witnesser.WitnessSize(prev)

	buf := make([]byte, 11+attestationSize+witnessSize+len(payload))
	buf[0] = typeMessage
	binary.BigEndian.PutUint64(buf[1:9], messageID)
	binary.BigEndian.PutUint16(buf[9:11], channelID)

	offset := 11
	attester.Attest(messageID, channelID, payload, prev, buf, offset)
	offset += attestationSize
	witnesser.Witness(prev, buf, offset)
	offset += witnessSize
	copy(buf[offset:], payload)

	return buf
}

// parsedMessage is a decoded MESSAGE body.
type parsedMessage struct {
	messageID uint64
	channelID uint16
	header    MessageHeader
	payload   []byte
}

// parseMessage decodes a MESSAGE body (without the leading type byte). The
// header slices alias the input.
func parseMessage(body []byte, attester Attester, witnesser Witnesser) (*parsedMessage, error) {
	if len(body) < 10 {
		return nil, fmt.Errorf("MESSAGE body of %d bytes is shorter than its fixed header", len(body))
	}

	m := &parsedMessage{
		messageID: binary.BigEndian.Uint64(body[:8]),
		channelID: binary.BigEndian.Uint16(body[8:10]),
	}
	rest := body[10:]

	attestationSize := attester.ParseSize(rest)
	if attestationSize < 0 || attestationSize > len(rest) {
		return nil, fmt.Errorf("attestation of %d bytes exceeds %d remaining", attestationSize, len(rest))
	}
	m.header.Attestation = rest[:attestationSize]
	rest = rest[attestationSize:]

	witnessSize := witnesser.ParseSize(rest)
	if witnessSize < 0 || witnessSize > len(rest) {
		return nil, fmt.Errorf("witness of %d bytes exceeds %d remaining", witnessSize, len(rest))
	}
	m.header.Witness = rest[:witnessSize]
	rest = rest[witnessSize:]

	m.payload = rest
	return m, nil
}
