// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package asyncio provides the plain-TCP reconnecting transport used by
// auxiliary tooling: a long-lived connection that redials with exponential
// backoff when it drops, delivering raw bytes to its delegate.
package asyncio
