// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package probe exposes a node to local applications: a WebSocket endpoint
// speaking CBOR messages for subscribing and publishing, and a small REST
// surface for health checks, peer listings and one-shot publishes.
package probe
