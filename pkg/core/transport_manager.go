// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package core

import (
	"sync"
)

// TransportManager is an address-keyed registry of transports. Both the
// stream layer and the framing layer keep one to map a remote address to its
// single transport instance.
type TransportManager[T any] struct {
	transports map[string]*T
	mutex      sync.Mutex
}

// NewTransportManager creates an empty TransportManager.
func NewTransportManager[T any]() *TransportManager[T] {
	return &TransportManager[T]{
		transports: make(map[string]*T),
	}
}

// Get returns the transport for the given remote address, or nil.
func (manager *TransportManager[T]) Get(addr string) *T {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	return manager.transports[addr]
}

// GetOrCreate returns the transport for the given remote address. If none
// exists, create is invoked and its result stored. The second return value
// reports whether a new transport was created.
func (manager *TransportManager[T]) GetOrCreate(addr string, create func() *T) (*T, bool) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if transport, exists := manager.transports[addr]; exists {
		return transport, false
	}

	transport := create()
	manager.transports[addr] = transport
	return transport, true
}

// Remove deletes the transport stored for the given remote address.
func (manager *TransportManager[T]) Remove(addr string) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	delete(manager.transports, addr)
}

// Range calls f for every registered transport until f returns false.
func (manager *TransportManager[T]) Range(f func(*T) bool) {
	manager.mutex.Lock()
	transports := make([]*T, 0, len(manager.transports))
	for _, transport := range manager.transports {
		transports = append(transports, transport)
	}
	manager.mutex.Unlock()

	for _, transport := range transports {
		if !f(transport) {
			return
		}
	}
}
