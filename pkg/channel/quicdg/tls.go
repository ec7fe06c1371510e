// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicdg

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
)

const alpnProtocol = "meshwork-quicdg"

// Application error codes for CloseWithError.
const (
	errorCodeShutdown quic.ApplicationErrorCode = 1
	errorCodeLocal    quic.ApplicationErrorCode = 2
)

// selfSignedConfig builds a TLS config presenting a self-signed certificate
// over the given Ed25519 key. Peers are not verified against a CA; the
// certificate only transports the peer's static key, which upper layers pin.
func selfSignedConfig(priv ed25519.PrivateKey) (*tls.Config, error) {
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, priv.Public(), priv)
	if err != nil {
		return nil, err
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
		MinVersion:         tls.VersionTLS13,
	}, nil
}

// peerStaticKey extracts the remote Ed25519 public key from the TLS state.
func peerStaticKey(state tls.ConnectionState) (key [32]byte, err error) {
	if len(state.PeerCertificates) == 0 {
		err = fmt.Errorf("peer presented no certificate")
		return
	}

	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		err = fmt.Errorf("peer certificate key is not Ed25519")
		return
	}

	copy(key[:], pub)
	return
}

func quicConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: 5 * time.Second,
	}
}
