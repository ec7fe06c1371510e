// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package probe

import (
	"net"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/websocket"

	"github.com/meshwork-net/meshwork-go/pkg/pubsub"
)

// NodeAccess is the slice of the node the probe needs.
type NodeAccess interface {
	Publish(channelID uint16, payload []byte, excluded string) uint64
	IsHealthy() bool
	LocalAddr() string
	Peers() pubsub.PeerSnapshot
}

// WebSocketProbe is a WebSocket endpoint for local applications. Clients
// subscribe to channels and publish payloads; received overlay messages are
// delivered to all subscribed clients.
type WebSocketProbe struct {
	node NodeAccess

	upgrader websocket.Upgrader

	clients map[*probeClient]struct{}
	mutex   sync.Mutex
}

type probeClient struct {
	sync.Mutex

	conn     *websocket.Conn
	channels map[uint16]struct{}
}

// NewWebSocketProbe creates a probe for the given node.
func NewWebSocketProbe(node NodeAccess) *WebSocketProbe {
	return &WebSocketProbe{
		node:     node,
		upgrader: websocket.Upgrader{},
		clients:  make(map[*probeClient]struct{}),
	}
}

// ServeHTTP must be bound to a HTTP endpoint, e.g., to /ws.
func (probe *WebSocketProbe) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, connErr := probe.upgrader.Upgrade(rw, r, nil)
	if connErr != nil {
		log.WithError(connErr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	client := &probeClient{
		conn:     conn,
		channels: make(map[uint16]struct{}),
	}

	probe.mutex.Lock()
	probe.clients[client] = struct{}{}
	probe.mutex.Unlock()

	probe.handleClient(client)
}

func (probe *WebSocketProbe) handleClient(client *probeClient) {
	logger := log.WithField("probe client", client.conn.RemoteAddr().String())

	defer func() {
		probe.mutex.Lock()
		delete(probe.clients, client)
		probe.mutex.Unlock()

		_ = client.conn.Close()
	}()

	for {
		messageType, reader, err := client.conn.NextReader()
		if err != nil {
			if netErr, ok := err.(*net.OpError); ok && netErr.Err.Error() == "use of closed network connection" {
				logger.WithError(err).Debug("Reader errored due to closed network connection")
			} else {
				logger.WithError(err).Debug("Opening next WebSocket reader errored")
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			logger.WithField("message type", messageType).Warn("WebSocket reader's type is not binary")
			return
		}

		msg, err := unmarshalCbor(reader)
		if err != nil {
			logger.WithError(err).Warn("Unmarshal CBOR errored")
			return
		}

		switch msg := msg.(type) {
		case *pamSubscribe:
			logger.WithField("channel", msg.channel).Debug("Probe client subscribed")

			client.Lock()
			client.channels[msg.channel] = struct{}{}
			client.Unlock()

			if err := client.writeMessage(newStatusMessage(nil)); err != nil {
				logger.WithError(err).Warn("Acknowledging subscribe errored")
				return
			}

		case *pamPublish:
			logger.WithFields(log.Fields{
				"channel": msg.channel,
				"size":    len(msg.payload),
			}).Debug("Probe client published")

			probe.node.Publish(msg.channel, msg.payload, "")

			if err := client.writeMessage(newStatusMessage(nil)); err != nil {
				logger.WithError(err).Warn("Acknowledging publish errored")
				return
			}

		default:
			logger.WithField("message", msg).Info("Received unknown / unsupported message")
		}
	}
}

// Deliver fans one received overlay message out to all subscribed clients.
func (probe *WebSocketProbe) Deliver(channelID uint16, messageID uint64, payload []byte) {
	probe.mutex.Lock()
	clients := make([]*probeClient, 0, len(probe.clients))
	for client := range probe.clients {
		clients = append(clients, client)
	}
	probe.mutex.Unlock()

	for _, client := range clients {
		client.Lock()
		_, subscribed := client.channels[channelID]
		client.Unlock()

		if !subscribed {
			continue
		}

		deliver := &pamDeliver{
			channel:   channelID,
			messageID: messageID,
			payload:   payload,
		}
		if err := client.writeMessage(deliver); err != nil {
			log.WithError(err).Debug("Delivering to probe client errored")
		}
	}
}

func (client *probeClient) writeMessage(msg probeMessage) error {
	client.Lock()
	defer client.Unlock()

	wc, wcErr := client.conn.NextWriter(websocket.BinaryMessage)
	if wcErr != nil {
		return wcErr
	}

	if cborErr := marshalCbor(msg, wc); cborErr != nil {
		return cborErr
	}

	return wc.Close()
}
