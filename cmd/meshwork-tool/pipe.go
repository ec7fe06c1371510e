// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/binary"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/meshwork-net/meshwork-go/pkg/asyncio"
	"github.com/meshwork-net/meshwork-go/pkg/probe"
)

// pipeDelegate drops everything the downstream sends; the pipe is one-way.
type pipeDelegate struct{}

func (pipeDelegate) DidConnect(t *asyncio.Transport) {
	log.WithField("address", t.Address()).Info("Downstream connected")
}

func (pipeDelegate) DidRecv(*asyncio.Transport, []byte) {}

func (pipeDelegate) DidClose(*asyncio.Transport) {
	log.Info("Downstream closed")
}

// startPipe for the "pipe" CLI option: forward every received message,
// length-prefixed, to a plain TCP endpoint. The TCP connection redials
// itself; messages arriving while disconnected are dropped.
func startPipe(args []string) {
	if len(args) != 3 {
		printUsage()
	}

	var (
		websocketAddr = args[0]
		channel       = parseChannel(args[1])
		downstream    = args[2]
	)

	client, err := probe.DialClient(websocketAddr)
	if err != nil {
		printFatal(err, "Connecting to the probe errored")
	}
	defer func() { _ = client.Close() }()

	if err = client.Subscribe(channel); err != nil {
		printFatal(err, "Subscribing errored")
	}

	tcp := asyncio.NewTransport(downstream, pipeDelegate{})
	defer tcp.Close()

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)

	log.WithFields(log.Fields{
		"channel":    channel,
		"downstream": downstream,
	}).Info("Piping..")

	for {
		select {
		case <-closeChan:
			log.Info("Closing down..")
			return

		case delivery, ok := <-client.Deliveries():
			if !ok {
				log.Warn("Probe connection died")
				return
			}

			frame := make([]byte, 8+len(delivery.Payload))
			binary.BigEndian.PutUint64(frame, uint64(len(delivery.Payload)))
			copy(frame[8:], delivery.Payload)

			if err := tcp.Send(frame); err != nil {
				log.WithError(err).Debug("Forwarding errored, message dropped")
			}
		}
	}
}
