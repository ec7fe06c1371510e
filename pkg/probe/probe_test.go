// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package probe

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meshwork-net/meshwork-go/pkg/pubsub"
)

// fakeNode satisfies NodeAccess for probe tests.
type fakeNode struct {
	mutex sync.Mutex

	healthy   bool
	published []publishCall
}

type publishCall struct {
	channel uint16
	payload []byte
}

func (f *fakeNode) Publish(channelID uint16, payload []byte, _ string) uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	buf := make([]byte, len(payload))
	copy(buf, payload)
	f.published = append(f.published, publishCall{channelID, buf})
	return 0x1122334455667788
}

func (f *fakeNode) IsHealthy() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.healthy
}

func (f *fakeNode) LocalAddr() string { return "127.0.0.1:8000" }

func (f *fakeNode) Peers() pubsub.PeerSnapshot {
	return pubsub.PeerSnapshot{
		Solicited: []string{"peer:1"},
		Standby:   []string{"peer:2"},
	}
}

func TestRestHealth(t *testing.T) {
	node := &fakeNode{healthy: true}
	server := httptest.NewServer(NewRestProbe(node).Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var status struct {
		Healthy bool   `json:"healthy"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if !status.Healthy || status.Address != "127.0.0.1:8000" {
		t.Fatalf("unexpected status %+v", status)
	}

	node.mutex.Lock()
	node.healthy = false
	node.mutex.Unlock()

	resp2, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp2.Body.Close() }()

	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status %d", resp2.StatusCode)
	}
}

func TestRestPeersAndPublish(t *testing.T) {
	node := &fakeNode{healthy: true}
	server := httptest.NewServer(NewRestProbe(node).Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/peers")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var peers pubsub.PeerSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
		t.Fatal(err)
	}
	if len(peers.Solicited) != 1 || peers.Solicited[0] != "peer:1" {
		t.Fatalf("unexpected peers %+v", peers)
	}

	resp2, err := http.Post(server.URL+"/publish/42", "application/octet-stream", strings.NewReader("payload"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp2.Body.Close() }()

	var result struct {
		MessageID uint64 `json:"message_id"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.MessageID != 0x1122334455667788 {
		t.Fatalf("message id %x", result.MessageID)
	}

	node.mutex.Lock()
	defer node.mutex.Unlock()
	if len(node.published) != 1 || node.published[0].channel != 42 ||
		!bytes.Equal(node.published[0].payload, []byte("payload")) {
		t.Fatalf("unexpected publishes %+v", node.published)
	}

	// A non-numeric channel is a client error.
	resp3, err := http.Post(server.URL+"/publish/nope", "application/octet-stream", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp3.Body.Close() }()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad channel status %d", resp3.StatusCode)
	}
}

func TestWebSocketSubscribePublishDeliver(t *testing.T) {
	node := &fakeNode{healthy: true}
	rest := NewRestProbe(node)
	server := httptest.NewServer(rest.Router())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	client, err := DialClient(wsURL)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Subscribe(7); err != nil {
		t.Fatal(err)
	}

	if err := client.Publish(9, []byte("via ws")); err != nil {
		t.Fatal(err)
	}

	node.mutex.Lock()
	published := len(node.published)
	node.mutex.Unlock()
	if published != 1 {
		t.Fatalf("publishes %d, expected 1", published)
	}

	// A delivery on the subscribed channel reaches the client; one on
	// another channel does not.
	rest.WebSocket().Deliver(8, 1, []byte("wrong channel"))
	rest.WebSocket().Deliver(7, 2, []byte("right channel"))

	select {
	case delivery := <-client.Deliveries():
		if delivery.Channel != 7 || delivery.MessageID != 2 ||
			!bytes.Equal(delivery.Payload, []byte("right channel")) {
			t.Fatalf("unexpected delivery %+v", delivery)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never arrived")
	}

	select {
	case delivery := <-client.Deliveries():
		t.Fatalf("unexpected second delivery %+v", delivery)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestProbeMessageRoundTrip(t *testing.T) {
	messages := []probeMessage{
		&pamStatus{errorMsg: "boom"},
		&pamSubscribe{channel: 42},
		&pamPublish{channel: 1, payload: []byte("data")},
		&pamDeliver{channel: 2, messageID: 77, payload: []byte("payload")},
	}

	for i, msg := range messages {
		buf := new(bytes.Buffer)
		if err := marshalCbor(msg, buf); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}

		parsed, err := unmarshalCbor(buf)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}

		if parsed.typeCode() != msg.typeCode() {
			t.Fatalf("message %d: type %d instead of %d", i, parsed.typeCode(), msg.typeCode())
		}
	}
}
