// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pubsub

import (
	"errors"
	"sync"
)

// errRefused mimics a refused cut-through transfer.
var errRefused = errors.New("cut-through refused")

// mockTransport records everything the node does to it.
type mockTransport struct {
	mutex sync.Mutex

	addr      string
	staticKey [32]byte
	active    bool
	closed    bool

	sent [][]byte

	ctStarted map[uint16]uint64
	ctBytes   map[uint16][]byte
	ctEnded   map[uint16]bool
	ctFlushed map[uint16]bool
	ctSkipped map[uint16]bool

	// refuseCutThrough makes CutThroughSendStart return 0.
	refuseCutThrough bool

	// usedIDs is what CutThroughUsedIDs reports.
	usedIDs []uint16

	nextStreamID uint16
}

func newMockTransport(addr string, key byte) *mockTransport {
	var staticKey [32]byte
	staticKey[0] = key

	return &mockTransport{
		addr:      addr,
		staticKey: staticKey,
		active:    true,

		ctStarted: make(map[uint16]uint64),
		ctBytes:   make(map[uint16][]byte),
		ctEnded:   make(map[uint16]bool),
		ctFlushed: make(map[uint16]bool),
		ctSkipped: make(map[uint16]bool),

		nextStreamID: 1,
	}
}

func (m *mockTransport) RemoteAddr() string { return m.addr }

func (m *mockTransport) RemoteStaticKey() [32]byte { return m.staticKey }

func (m *mockTransport) IsActive() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.active && !m.closed
}

func (m *mockTransport) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
}

func (m *mockTransport) Send(message []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	buf := make([]byte, len(message))
	copy(buf, message)
	m.sent = append(m.sent, buf)
	return nil
}

func (m *mockTransport) CutThroughSend(message []byte) error {
	id := m.CutThroughSendStart(uint64(len(message)))
	if id == 0 {
		return errRefused
	}
	if err := m.CutThroughSendBytes(id, message); err != nil {
		return err
	}
	m.CutThroughSendEnd(id)
	return nil
}

func (m *mockTransport) CutThroughSendStart(length uint64) uint16 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.refuseCutThrough {
		return 0
	}

	id := m.nextStreamID
	m.nextStreamID++
	m.ctStarted[id] = length
	return id
}

func (m *mockTransport) CutThroughSendBytes(id uint16, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.ctBytes[id] = append(m.ctBytes[id], data...)
	return nil
}

func (m *mockTransport) CutThroughSendEnd(id uint16) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ctEnded[id] = true
}

func (m *mockTransport) CutThroughSendFlush(id uint16) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ctFlushed[id] = true
}

func (m *mockTransport) CutThroughSendSkip(id uint16) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ctSkipped[id] = true
}

func (m *mockTransport) CutThroughUsedIDs() []uint16 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]uint16(nil), m.usedIDs...)
}

func (m *mockTransport) sentMessages() [][]byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockTransport) isClosed() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.closed
}
