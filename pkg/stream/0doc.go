// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package stream layers reliable ordered byte streams over an unordered,
// lossy, authenticated datagram channel. One Transport multiplexes many
// independent streams over a single connection: stream 0 carries ordinary
// framed traffic, higher stream ids carry cut-through transfers whose bytes
// are forwarded before the tail has arrived.
//
// Reliability is packet-number based with per-packet acknowledgements,
// retransmission on timeout with exponential backoff, a per-stream receive
// window and a NewReno style congestion window per connection.
package stream
