// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package lpf puts length-prefixed message boundaries on top of the stream
// transport. Small messages are buffered and delivered whole; messages whose
// declared length exceeds the cut-through threshold are passed through to the
// upper layer chunk by chunk while they are still arriving.
package lpf
