// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package storage

import (
	"os"
	"path"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"
)

const dirBadger string = "db"

// Peer is one cached peer.
type Peer struct {
	// Address is the peer's dialable host:port and the record key.
	Address string

	// StaticKey is the static public key the peer presented.
	StaticKey [32]byte

	// Solicited records whether this side subscribed to the peer.
	Solicited bool

	// LastSeen is the time of the last contact.
	LastSeen time.Time
}

// Store implements the persistent known-peer cache.
type Store struct {
	bh *badgerhold.Store
}

// NewStore creates a new Store or opens an existing Store from the given
// path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{bh: bh}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// Touch inserts or refreshes one peer.
func (s *Store) Touch(addr string, staticKey [32]byte, solicited bool) error {
	peer := Peer{
		Address:   addr,
		StaticKey: staticKey,
		Solicited: solicited,
		LastSeen:  time.Now(),
	}

	return s.bh.Upsert(addr, peer)
}

// Forget removes one peer.
func (s *Store) Forget(addr string) error {
	if err := s.bh.Delete(addr, Peer{}); err != nil && err != badgerhold.ErrNotFound {
		return err
	}
	return nil
}

// QueryAddress fetches the Peer cached for the requested address.
func (s *Store) QueryAddress(addr string) (peer Peer, err error) {
	err = s.bh.Get(addr, &peer)
	return
}

// QuerySolicited fetches all peers this side subscribed to.
func (s *Store) QuerySolicited() (peers []Peer, err error) {
	err = s.bh.Find(&peers, badgerhold.Where("Solicited").Eq(true))
	return
}

// DeleteStale removes all peers not seen within maxAge.
func (s *Store) DeleteStale(maxAge time.Duration) {
	var peers []Peer
	if err := s.bh.Find(&peers, badgerhold.Where("LastSeen").Lt(time.Now().Add(-maxAge))); err != nil {
		log.WithError(err).Warn("Failed to get stale peers")
		return
	}

	for _, peer := range peers {
		logger := log.WithField("peer", peer.Address)
		if err := s.Forget(peer.Address); err != nil {
			logger.WithError(err).Warn("Failed to delete stale peer")
		} else {
			logger.Debug("Deleted stale peer")
		}
	}
}

// KnowsPeer checks if such a peer is cached.
func (s *Store) KnowsPeer(addr string) bool {
	_, err := s.QueryAddress(addr)
	return err != badgerhold.ErrNotFound
}
