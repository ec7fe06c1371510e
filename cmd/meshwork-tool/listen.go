// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/ulikunitz/xz"

	"github.com/meshwork-net/meshwork-go/pkg/probe"
)

// xzMagic is the header every xz container starts with.
var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

// startListen for the "listen" CLI option: store every received message in a
// directory, decompressing xz payloads.
func startListen(args []string) {
	if len(args) != 3 {
		printUsage()
	}

	var (
		websocketAddr = args[0]
		channel       = parseChannel(args[1])
		directory     = args[2]
	)

	client, err := probe.DialClient(websocketAddr)
	if err != nil {
		printFatal(err, "Connecting to the probe errored")
	}
	defer func() { _ = client.Close() }()

	if err = client.Subscribe(channel); err != nil {
		printFatal(err, "Subscribing errored")
	}

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)

	log.WithField("channel", channel).Info("Listening..")

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

			storeDelivery(directory, delivery)
		}
	}
}

func storeDelivery(directory string, delivery probe.Delivery) {
	payload := delivery.Payload

	if bytes.HasPrefix(payload, xzMagic) {
		if xzReader, err := xz.NewReader(bytes.NewReader(payload)); err != nil {
			log.WithError(err).Warn("Opening xz payload errored, storing raw")
		} else if decompressed, err := io.ReadAll(xzReader); err != nil {
			log.WithError(err).Warn("Decompressing payload errored, storing raw")
		} else {
			payload = decompressed
		}
	}

	name := filepath.Join(directory, fmt.Sprintf("%d-%016x", delivery.Channel, delivery.MessageID))
	if err := os.WriteFile(name, payload, 0644); err != nil {
		log.WithField("file", name).WithError(err).Warn("Storing payload errored")
		return
	}

	log.WithFields(log.Fields{
		"file": name,
		"size": len(payload),
	}).Info("Stored message")
}
