// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package channel defines the authenticated datagram substrate underneath the
// stream transport: encrypted, unordered, lossy datagrams between two
// endpoints, each identified by a 32 byte static public key.
//
// Two implementations ship in subpackages: noiseudp speaks an
// XChaCha20-Poly1305 sealed UDP protocol with X25519 static keys, quicdg maps
// datagrams onto QUIC's unreliable datagram extension.
package channel
