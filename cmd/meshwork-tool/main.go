// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

func printUsage() {
	fmt.Printf("Usage of %s:\n\n", os.Args[0])
	fmt.Printf("%s publish ws://host:port/ws channel file|-\n", os.Args[0])
	fmt.Printf("%s watch   ws://host:port/ws channel directory\n", os.Args[0])
	fmt.Printf("%s listen  ws://host:port/ws channel directory\n", os.Args[0])
	fmt.Printf("%s pipe    ws://host:port/ws channel host:port\n", os.Args[0])
	fmt.Println()
	fmt.Println("  publish sends one file (or stdin for -) on the channel")
	fmt.Println("  watch   publishes every file created in the directory, xz-compressed")
	fmt.Println("  listen  stores every received message in the directory")
	fmt.Println("  pipe    forwards every received message to a TCP endpoint")

	os.Exit(1)
}

func printFatal(err error, msg string) {
	log.WithError(err).Fatal(msg)
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	if len(os.Args) < 2 {
		printUsage()
	}

	switch os.Args[1] {
	case "publish":
		publishFile(os.Args[2:])

	case "watch":
		startWatch(os.Args[2:])

	case "listen":
		startListen(os.Args[2:])

	case "pipe":
		startPipe(os.Args[2:])

	default:
		printUsage()
	}
}
