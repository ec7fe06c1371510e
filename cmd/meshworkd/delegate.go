// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/meshwork-net/meshwork-go/pkg/pubsub"
)

// daemonDelegate is the daemon's application side of the node: it records
// the configured channels, forwards deliveries to the probe and fills freed
// solicited slots from the standby list.
type daemonDelegate struct {
	channels []uint16

	// deliver forwards received messages, e.g. to the WebSocket probe.
	deliver func(channelID uint16, messageID uint64, payload []byte)
}

func newDaemonDelegate(channels []uint16) *daemonDelegate {
	if len(channels) == 0 {
		channels = []uint16{0}
	}

	return &daemonDelegate{channels: channels}
}

func (d *daemonDelegate) DidSubscribe(_ *pubsub.Node, channelID uint16) {
	log.WithField("channel", channelID).Info("Subscription confirmed")
}

func (d *daemonDelegate) DidUnsubscribe(_ *pubsub.Node, channelID uint16) {
	log.WithField("channel", channelID).Info("Subscription dropped")
}

func (d *daemonDelegate) DidRecvMessage(_ *pubsub.Node, channelID uint16, messageID uint64, payload []byte, _ pubsub.MessageHeader) {
	log.WithFields(log.Fields{
		"channel": channelID,
		"message": messageID,
		"size":    len(payload),
	}).Debug("Message received")

	if d.deliver != nil {
		d.deliver(channelID, messageID, payload)
	}
}

func (d *daemonDelegate) ShouldAccept(string) bool {
	return true
}

// ManageSubscriptions promotes arbitrary standby peers until the solicited
// slots are full again.
func (d *daemonDelegate) ManageSubscriptions(_ *pubsub.Node, maxSolicited int, solicited, standby *pubsub.TransportSet) []pubsub.Transport {
	free := maxSolicited - solicited.Len()
	if free <= 0 {
		return nil
	}

	candidates := standby.Slice()
	if len(candidates) > free {
		candidates = candidates[:free]
	}
	return candidates
}

func (d *daemonDelegate) Channels() []uint16 {
	return d.channels
}
