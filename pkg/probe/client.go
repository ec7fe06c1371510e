// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package probe

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Delivery is one overlay message received through the probe.
type Delivery struct {
	Channel   uint16
	MessageID uint64
	Payload   []byte
}

// Client connects to a node's WebSocket probe. It is used by the tooling to
// publish and receive messages without being an overlay member itself.
type Client struct {
	conn *websocket.Conn

	deliveries chan Delivery
	status     chan error

	writeMutex sync.Mutex

	closeOnce sync.Once
}

// DialClient connects to the given WebSocket URL, e.g.
// ws://localhost:8080/ws.
func DialClient(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	client := &Client{
		conn:       conn,
		deliveries: make(chan Delivery, 32),
		status:     make(chan error, 1),
	}

	go client.reader()

	return client, nil
}

func (client *Client) reader() {
	defer client.Close()

	for {
		messageType, reader, err := client.conn.NextReader()
		if err != nil {
			close(client.deliveries)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		msg, err := unmarshalCbor(reader)
		if err != nil {
			continue
		}

		switch msg := msg.(type) {
		case *pamStatus:
			var statusErr error
			if msg.errorMsg != "" {
				statusErr = fmt.Errorf("%s", msg.errorMsg)
			}

			select {
			case client.status <- statusErr:
			default:
			}

		case *pamDeliver:
			client.deliveries <- Delivery{
				Channel:   msg.channel,
				MessageID: msg.messageID,
				Payload:   msg.payload,
			}
		}
	}
}

func (client *Client) request(msg probeMessage) error {
	client.writeMutex.Lock()
	wc, err := client.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		client.writeMutex.Unlock()
		return err
	}
	if err := marshalCbor(msg, wc); err != nil {
		client.writeMutex.Unlock()
		return err
	}
	if err := wc.Close(); err != nil {
		client.writeMutex.Unlock()
		return err
	}
	client.writeMutex.Unlock()

	select {
	case err := <-client.status:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("probe request timed out")
	}
}

// Subscribe registers this client for deliveries on the given channel.
func (client *Client) Subscribe(channelID uint16) error {
	return client.request(&pamSubscribe{channel: channelID})
}

// Publish sends one payload on the given channel.
func (client *Client) Publish(channelID uint16, payload []byte) error {
	return client.request(&pamPublish{channel: channelID, payload: payload})
}

// Deliveries is the stream of received messages; closed when the connection
// dies.
func (client *Client) Deliveries() <-chan Delivery {
	return client.deliveries
}

// Close the client's connection.
func (client *Client) Close() error {
	var err error
	client.closeOnce.Do(func() {
		err = client.conn.Close()
	})
	return err
}
