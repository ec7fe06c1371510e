// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery finds pub/sub peers on the local network. Nodes
// broadcast a small CBOR announcement, their listen port and static key,
// guarded by a CRC-16 checksum; discovered peers are handed to a register
// function, usually the node's Subscribe.
package discovery

const (
	address4 = "239.23.42.24"
	address6 = "[ff02::2342]"

	port = 35039
)
