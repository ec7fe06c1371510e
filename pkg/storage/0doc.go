// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage persists the known-peer cache: addresses, static keys and
// when a peer was last seen. The daemon replays solicited peers from it at
// startup so a restart does not lose the mesh.
package storage
