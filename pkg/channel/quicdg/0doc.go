// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package quicdg maps the channel interface onto QUIC's unreliable datagram
// extension. TLS does the authentication; each endpoint presents a
// self-signed certificate over an Ed25519 key whose 32 public key bytes
// double as the peer's static key.
//
// QUIC datagrams are unordered and unacknowledged, which is exactly the
// substrate the stream transport builds its own reliability on. Streams of
// the underlying QUIC connection are left unused.
package quicdg
