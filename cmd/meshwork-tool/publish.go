// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"io"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/meshwork-net/meshwork-go/pkg/probe"
)

func parseChannel(s string) uint16 {
	channel, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		printFatal(err, "Channel is not a 16 bit integer")
	}
	return uint16(channel)
}

// publishFile for the "publish" CLI option.
func publishFile(args []string) {
	if len(args) != 3 {
		printUsage()
	}

	var (
		websocketAddr = args[0]
		channel       = parseChannel(args[1])
		dataInput     = args[2]

		err  error
		data []byte
	)

	if dataInput == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(dataInput)
	}
	if err != nil {
		printFatal(err, "Reading input errored")
	}

	client, err := probe.DialClient(websocketAddr)
	if err != nil {
		printFatal(err, "Connecting to the probe errored")
	}
	defer func() { _ = client.Close() }()

	if err = client.Publish(channel, data); err != nil {
		printFatal(err, "Publishing errored")
	}

	log.WithFields(log.Fields{
		"channel": channel,
		"size":    len(data),
	}).Info("Published")
}
