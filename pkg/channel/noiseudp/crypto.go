// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package noiseudp

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"
)

const kdfLabel = "meshwork-noiseudp-v1"

// GenerateKey creates a fresh X25519 static key pair.
func GenerateKey() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}

	pubSlice, scErr := curve25519.X25519(priv[:], curve25519.Basepoint)
	if scErr != nil {
		err = scErr
		return
	}
	copy(pub[:], pubSlice)
	return
}

// PublicKey derives the public key of the given X25519 private key.
func PublicKey(priv [32]byte) (pub [32]byte, err error) {
	pubSlice, scErr := curve25519.X25519(priv[:], curve25519.Basepoint)
	if scErr != nil {
		err = scErr
		return
	}
	copy(pub[:], pubSlice)
	return
}

// sessionKey mixes the ephemeral-ephemeral and static-static shared secrets
// into one symmetric key. Both sides arrive at the same key.
func sessionKey(ephPriv [32]byte, remoteEphPub [32]byte, staticPriv [32]byte, remoteStaticPub [32]byte) ([]byte, error) {
	ee, err := curve25519.X25519(ephPriv[:], remoteEphPub[:])
	if err != nil {
		return nil, err
	}

	ss, err := curve25519.X25519(staticPriv[:], remoteStaticPub[:])
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(kdfLabel)+len(ee)+len(ss))
	buf = append(buf, kdfLabel...)
	buf = append(buf, ee...)
	buf = append(buf, ss...)

	sum := sha3.Sum256(buf)
	return sum[:], nil
}

// seal encrypts one datagram payload: a random 24 byte nonce followed by the
// XChaCha20-Poly1305 ciphertext. The direction byte binds each datagram to
// its sender's role and blocks reflection.
func seal(key []byte, direction byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}

	return aead.Seal(out, out[:chacha20poly1305.NonceSizeX], plaintext, []byte{direction}), nil
}

// open decrypts one datagram sealed by the opposite direction.
func open(key []byte, direction byte, datagram []byte) ([]byte, error) {
	if len(datagram) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("datagram of %d bytes is shorter than a nonce", len(datagram))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	return aead.Open(nil,
		datagram[:chacha20poly1305.NonceSizeX],
		datagram[chacha20poly1305.NonceSizeX:],
		[]byte{direction})
}
