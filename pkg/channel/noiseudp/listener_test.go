// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package noiseudp

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/meshwork-net/meshwork-go/pkg/channel"
)

// recorder collects handler upcalls.
type recorder struct {
	mutex sync.Mutex

	channels  []channel.Channel
	datagrams [][]byte

	channelChan  chan channel.Channel
	datagramChan chan []byte
}

func newRecorder() *recorder {
	return &recorder{
		channelChan:  make(chan channel.Channel, 4),
		datagramChan: make(chan []byte, 64),
	}
}

func (r *recorder) ShouldAccept(string) bool { return true }

func (r *recorder) HandleChannel(ch channel.Channel) {
	r.mutex.Lock()
	r.channels = append(r.channels, ch)
	r.mutex.Unlock()

	r.channelChan <- ch
}

func (r *recorder) HandleDatagram(_ channel.Channel, payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	r.mutex.Lock()
	r.datagrams = append(r.datagrams, buf)
	r.mutex.Unlock()

	r.datagramChan <- buf
}

func (r *recorder) HandleClose(channel.Channel) {}

func TestHandshakeAndSealedDatagrams(t *testing.T) {
	privA, pubA, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	privB, pubB, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	recA, recB := newRecorder(), newRecorder()

	la, err := Listen("127.0.0.1:0", privA, recA)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = la.Close() }()

	lb, err := Listen("127.0.0.1:0", privB, recB)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lb.Close() }()

	if err := la.Dial(lb.LocalAddr(), pubB); err != nil {
		t.Fatal(err)
	}

	var chA, chB channel.Channel
	select {
	case chA = <-recA.channelChan:
	case <-time.After(5 * time.Second):
		t.Fatal("dialer never got its channel")
	}
	select {
	case chB = <-recB.channelChan:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never got its channel")
	}

	if got := chA.RemoteStaticKey(); !bytes.Equal(got[:], pubB[:]) {
		t.Fatal("dialer learned a wrong static key")
	}
	if got := chB.RemoteStaticKey(); !bytes.Equal(got[:], pubA[:]) {
		t.Fatal("listener learned a wrong static key")
	}

	// Datagrams travel sealed in both directions.
	if err := chA.Send([]byte("ping from a")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-recB.datagramChan:
		if !bytes.Equal(got, []byte("ping from a")) {
			t.Fatalf("b received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("b never received the datagram")
	}

	if err := chB.Send([]byte("pong from b")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-recA.datagramChan:
		if !bytes.Equal(got, []byte("pong from b")) {
			t.Fatalf("a received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("a never received the datagram")
	}
}

func TestSealRejectsTampering(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	sessionKey := key[:]

	sealed, err := seal(sessionKey, roleInitiator, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	// Opening with the right direction works.
	if plain, err := open(sessionKey, roleInitiator, sealed); err != nil {
		t.Fatal(err)
	} else if !bytes.Equal(plain, []byte("secret")) {
		t.Fatalf("roundtrip yielded %q", plain)
	}

	// A reflected datagram fails.
	if _, err := open(sessionKey, roleResponder, sealed); err == nil {
		t.Fatal("reflected datagram opened")
	}

	// A flipped ciphertext bit fails.
	sealed[len(sealed)-1] ^= 1
	if _, err := open(sessionKey, roleInitiator, sealed); err == nil {
		t.Fatal("tampered datagram opened")
	}
}

func TestKeyAgreementIsSymmetric(t *testing.T) {
	privA, pubA, _ := GenerateKey()
	privB, pubB, _ := GenerateKey()
	ephA, ephPubA, _ := GenerateKey()
	ephB, ephPubB, _ := GenerateKey()

	keyA, err := sessionKey(ephA, ephPubB, privA, pubB)
	if err != nil {
		t.Fatal(err)
	}
	keyB, err := sessionKey(ephB, ephPubA, privB, pubA)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(keyA, keyB) {
		t.Fatal("both sides derived different keys")
	}
}
