// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/meshwork-net/meshwork-go/pkg/channel"
	"github.com/meshwork-net/meshwork-go/pkg/channel/noiseudp"
	"github.com/meshwork-net/meshwork-go/pkg/channel/quicdg"
	"github.com/meshwork-net/meshwork-go/pkg/core"
	"github.com/meshwork-net/meshwork-go/pkg/discovery"
	"github.com/meshwork-net/meshwork-go/pkg/probe"
	"github.com/meshwork-net/meshwork-go/pkg/pubsub"
	"github.com/meshwork-net/meshwork-go/pkg/storage"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core      coreConf
	Logging   logConf
	Discovery discoveryConf
	Probe     probeConf
	Peer      []peerConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	Store             string
	Listen            string
	Transport         string `toml:"transport"`
	KeyFile           string `toml:"key-file"`
	Channels          []uint16
	MaxSolicited      int  `toml:"max-solicited"`
	MaxUnsolicited    int  `toml:"max-unsolicited"`
	AcceptUnsolicited bool `toml:"accept-unsolicited"`
	EnableRelay       bool `toml:"enable-relay"`
	EnableCutThrough  bool `toml:"enable-cut-through"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
}

// probeConf describes the probe endpoints.
type probeConf struct {
	Listen string
}

// peerConf describes one static peer to subscribe to.
type peerConf struct {
	Address   string
	StaticKey string `toml:"static-key"`
}

// Daemon bundles everything main has to tear down again.
type Daemon struct {
	node      *pubsub.Node
	store     *storage.Store
	discovery *discovery.Manager
	probeSrv  *http.Server
	cron      *core.Cron
}

// Close shuts all daemon components down.
func (d *Daemon) Close() error {
	var result *multierror.Error

	if d.cron != nil {
		d.cron.Stop()
	}
	if d.discovery != nil {
		d.discovery.Close()
	}
	if d.probeSrv != nil {
		result = multierror.Append(result, d.probeSrv.Close())
	}
	if d.node != nil {
		result = multierror.Append(result, d.node.Close())
	}
	if d.store != nil {
		result = multierror.Append(result, d.store.Close())
	}

	return result.ErrorOrNil()
}

// loadOrCreateKey reads a 32 byte hex key from the file, creating it when
// missing.
func loadOrCreateKey(keyFile string) (priv [32]byte, err error) {
	if raw, readErr := os.ReadFile(keyFile); readErr == nil {
		var decoded []byte
		if decoded, err = hex.DecodeString(string(raw)); err != nil {
			return
		}
		if len(decoded) != 32 {
			err = fmt.Errorf("key file holds %d bytes instead of 32", len(decoded))
			return
		}
		copy(priv[:], decoded)
		return
	}

	log.WithField("file", keyFile).Info("Generating a fresh static key")

	priv, _, err = noiseudp.GenerateKey()
	if err != nil {
		return
	}

	err = os.WriteFile(keyFile, []byte(hex.EncodeToString(priv[:])), 0600)
	return
}

// parseStaticKey decodes an optional 32 byte hex key; an empty string yields
// the zero key, meaning "do not pin".
func parseStaticKey(s string) (key [32]byte, err error) {
	if s == "" {
		return
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return
	}
	if len(decoded) != 32 {
		err = fmt.Errorf("static key holds %d bytes instead of 32", len(decoded))
		return
	}
	copy(key[:], decoded)
	return
}

func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseDaemon creates the Daemon based on the given TOML configuration.
func parseDaemon(filename string) (d *Daemon, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	configureLogging(conf.Logging)

	if conf.Core.Listen == "" {
		err = fmt.Errorf("core.listen is empty")
		return
	}
	if conf.Core.KeyFile == "" {
		err = fmt.Errorf("core.key-file is empty")
		return
	}

	priv, keyErr := loadOrCreateKey(conf.Core.KeyFile)
	if keyErr != nil {
		err = keyErr
		return
	}

	d = new(Daemon)

	if conf.Core.Store != "" {
		if d.store, err = storage.NewStore(conf.Core.Store); err != nil {
			return
		}
	}

	nodeConf := pubsub.DefaultConfig(conf.Core.Listen, priv)
	if conf.Core.MaxSolicited > 0 {
		nodeConf.MaxSolicited = conf.Core.MaxSolicited
	}
	if conf.Core.MaxUnsolicited > 0 {
		nodeConf.MaxUnsolicited = conf.Core.MaxUnsolicited
	}
	nodeConf.AcceptUnsolicited = conf.Core.AcceptUnsolicited
	nodeConf.EnableRelay = conf.Core.EnableRelay
	nodeConf.EnableCutThrough = conf.Core.EnableCutThrough
	nodeConf.Framing.EnableCutThrough = conf.Core.EnableCutThrough

	switch conf.Core.Transport {
	case "", "udp":
		// The default sealed-UDP channel.

	case "quic":
		nodeConf.Listener = func(handler channel.Handler) (channel.Listener, [32]byte, error) {
			listener, quicErr := quicdg.Listen(conf.Core.Listen, ed25519.NewKeyFromSeed(priv[:]), handler)
			if quicErr != nil {
				return nil, [32]byte{}, quicErr
			}
			return listener, listener.StaticKey(), nil
		}

	default:
		err = fmt.Errorf("unknown core.transport %q", conf.Core.Transport)
		return
	}

	delegate := newDaemonDelegate(conf.Core.Channels)

	if d.node, err = pubsub.NewNode(nodeConf, delegate); err != nil {
		return
	}

	// Probe endpoints
	if conf.Probe.Listen != "" {
		rest := probe.NewRestProbe(d.node)
		delegate.deliver = rest.WebSocket().Deliver

		d.probeSrv = &http.Server{
			Addr:    conf.Probe.Listen,
			Handler: rest.Router(),
		}
		go func(srv *http.Server) {
			if srvErr := srv.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
				log.WithError(srvErr).Error("Probe server failed")
			}
		}(d.probeSrv)
	}

	// Static peers
	for _, peer := range conf.Peer {
		key, peerErr := parseStaticKey(peer.StaticKey)
		if peerErr != nil {
			log.WithFields(log.Fields{
				"peer":  peer.Address,
				"error": peerErr,
			}).Warn("Skipping peer with a broken static key")
			continue
		}

		d.node.Subscribe(peer.Address, key)
		d.touchPeer(peer.Address, key)
	}

	// Cached peers from a previous run
	if d.store != nil {
		if peers, queryErr := d.store.QuerySolicited(); queryErr != nil {
			log.WithError(queryErr).Warn("Querying cached peers failed")
		} else {
			for _, peer := range peers {
				log.WithField("peer", peer.Address).Info("Re-subscribing cached peer")
				d.node.Subscribe(peer.Address, peer.StaticKey)
			}
		}

		d.cron = core.NewCron()
		if cronErr := d.cron.Register("stale_peers", func() {
			d.store.DeleteStale(7 * 24 * time.Hour)
		}, time.Hour); cronErr != nil {
			log.WithError(cronErr).Warn("Failed to register stale_peers at cron")
		}
	}

	// Discovery
	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		if conf.Discovery.Interval == 0 {
			conf.Discovery.Interval = 10
		}

		port, portErr := parseListenPort(conf.Core.Listen)
		if portErr != nil {
			err = portErr
			return
		}

		announcement := discovery.Announcement{
			Port:      uint16(port),
			StaticKey: d.node.PublicKey(),
		}

		d.discovery, err = discovery.NewManager(
			announcement,
			func(addr string, staticKey [32]byte) {
				d.node.Subscribe(addr, staticKey)
				d.touchPeer(addr, staticKey)
			},
			time.Duration(conf.Discovery.Interval)*time.Second,
			conf.Discovery.IPv4, conf.Discovery.IPv6)
		if err != nil {
			return
		}
	}

	return
}

func (d *Daemon) touchPeer(addr string, staticKey [32]byte) {
	if d.store == nil {
		return
	}

	if err := d.store.Touch(addr, staticKey, true); err != nil {
		log.WithFields(log.Fields{
			"peer":  addr,
			"error": err,
		}).Warn("Caching peer failed")
	}
}

func parseListenPort(endpoint string) (port int, err error) {
	var portStr string
	_, portStr, err = net.SplitHostPort(endpoint)
	if err != nil {
		return
	}
	port, err = strconv.Atoi(portStr)
	return
}
