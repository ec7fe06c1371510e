// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package pubsub implements the gossip publish/subscribe node: peer slot
// management, message deduplication, relaying with witness based loop
// avoidance, and the cut-through router piping large messages from one
// ingress transport to many subscribers before the tail has arrived.
package pubsub
