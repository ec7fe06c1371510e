// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"os"
	"os/signal"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"
	"github.com/ulikunitz/xz"

	"github.com/meshwork-net/meshwork-go/pkg/probe"
)

// watch publishes every file created in a directory, xz-compressed.
type watch struct {
	directory  string
	channel    uint16
	knownFiles sync.Map

	client  *probe.Client
	watcher *fsnotify.Watcher

	closeChan chan os.Signal
}

// startWatch for the "watch" CLI option.
func startWatch(args []string) {
	if len(args) != 3 {
		printUsage()
	}

	var (
		websocketAddr = args[0]
		channel       = parseChannel(args[1])
		directory     = args[2]

		err error
	)

	w := &watch{
		directory: directory,
		channel:   channel,
		closeChan: make(chan os.Signal, 1),
	}

	signal.Notify(w.closeChan, os.Interrupt)

	if w.client, err = probe.DialClient(websocketAddr); err != nil {
		printFatal(err, "Connecting to the probe errored")
	}

	if w.watcher, err = fsnotify.NewWatcher(); err != nil {
		printFatal(err, "Starting file watcher errored")
	}
	if err = w.watcher.Add(directory); err != nil {
		printFatal(err, "Adding directory to file watcher errored")
	}

	w.handler()
}

func (w *watch) handler() {
	defer func() {
		_ = w.watcher.Close()
		_ = w.client.Close()
	}()

	for {
		select {
		case <-w.closeChan:
			log.Info("Closing down..")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if _, known := w.knownFiles.Load(event.Name); known {
				continue
			}

			w.knownFiles.Store(event.Name, struct{}{})
			w.publish(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("File watcher errored")
		}
	}
}

func (w *watch) publish(name string) {
	data, err := os.ReadFile(name)
	if err != nil {
		log.WithField("file", name).WithError(err).Warn("Reading file errored")
		return
	}

	compressed := new(bytes.Buffer)
	xzWriter, err := xz.NewWriter(compressed)
	if err != nil {
		log.WithError(err).Warn("Creating xz writer errored")
		return
	}
	if _, err := xzWriter.Write(data); err != nil {
		log.WithError(err).Warn("Compressing errored")
		return
	}
	if err := xzWriter.Close(); err != nil {
		log.WithError(err).Warn("Finalizing compression errored")
		return
	}

	if err := w.client.Publish(w.channel, compressed.Bytes()); err != nil {
		log.WithField("file", name).WithError(err).Warn("Publishing errored")
		return
	}

	log.WithFields(log.Fields{
		"file":       name,
		"size":       len(data),
		"compressed": compressed.Len(),
	}).Info("Published file")
}
