// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package core holds small building blocks shared by the transport stack and
// the pub/sub node: the address-keyed transport registry and the cron runner
// for interval based tasks.
package core
