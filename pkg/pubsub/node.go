// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pubsub

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/meshwork-net/meshwork-go/pkg/channel"
	"github.com/meshwork-net/meshwork-go/pkg/channel/noiseudp"
	"github.com/meshwork-net/meshwork-go/pkg/core"
	"github.com/meshwork-net/meshwork-go/pkg/lpf"
	"github.com/meshwork-net/meshwork-go/pkg/stream"
)

// dedupBuckets is the size of the dedup ring; with one tick every
// DedupInterval an id is retained for dedupBuckets ticks.
const dedupBuckets = 256

// Transport is the node's view of one framed peer connection. It is
// satisfied by *lpf.Transport; tests substitute mocks.
type Transport interface {
	RemoteAddr() string
	RemoteStaticKey() [32]byte
	IsActive() bool
	Close()

	Send(message []byte) error

	CutThroughSend(message []byte) error
	CutThroughSendStart(length uint64) uint16
	CutThroughSendBytes(id uint16, data []byte) error
	CutThroughSendEnd(id uint16)
	CutThroughSendFlush(id uint16)
	CutThroughSendSkip(id uint16)
	CutThroughUsedIDs() []uint16
}

// TransportProvider looks transports up and dials new ones. The default
// provider wraps the node's own framing factory.
type TransportProvider interface {
	Dial(addr string, remoteStatic [channel.KeySize]byte) error
	GetTransport(addr string) Transport
}

// Delegate is the application side of a node.
type Delegate interface {
	// DidSubscribe fires when a remote confirmed our subscription.
	DidSubscribe(n *Node, channelID uint16)

	// DidUnsubscribe fires when a remote dropped our subscription.
	DidUnsubscribe(n *Node, channelID uint16)

	// DidRecvMessage fires exactly once per unique message id within the
	// dedup retention window.
	DidRecvMessage(n *Node, channelID uint16, messageID uint64, payload []byte, header MessageHeader)

	// ShouldAccept is asked before an inbound connection is admitted.
	ShouldAccept(addr string) bool

	// ManageSubscriptions lets the application pick standby peers for freed
	// solicited slots. It receives snapshots and returns the transports to
	// promote; the node applies the plan. Called by the peer-selection
	// timer and after a peer went away.
	ManageSubscriptions(n *Node, maxSolicited int, solicited, standby *TransportSet) []Transport

	// Channels lists the channels this node subscribes to.
	Channels() []uint16
}

// ListenerBuilder binds the datagram substrate for a node. It receives the
// handler the listener must report into and returns the bound listener plus
// this node's static public key on that substrate.
type ListenerBuilder func(handler channel.Handler) (channel.Listener, [32]byte, error)

// Config assembles a node.
type Config struct {
	// ListenAddress is the UDP address the node binds.
	ListenAddress string

	// StaticKey is this node's X25519 private key.
	StaticKey [32]byte

	// Listener overrides the datagram substrate; nil selects the sealed-UDP
	// channel on ListenAddress with StaticKey.
	Listener ListenerBuilder

	MaxSolicited   int
	MaxUnsolicited int

	AcceptUnsolicited bool
	EnableRelay       bool
	EnableCutThrough  bool

	DedupInterval      time.Duration
	PeerSelectInterval time.Duration
	BlacklistInterval  time.Duration

	// Attester and Witnesser plug the message headers; nil selects the
	// empty attester and the chain witnesser over this node's static key.
	Attester  Attester
	Witnesser Witnesser

	Framing lpf.Config
	Stream  stream.Config
}

// DefaultConfig returns the production tunables for the given listen
// address and static key.
func DefaultConfig(listenAddress string, staticKey [32]byte) Config {
	conf := Config{
		ListenAddress: listenAddress,
		StaticKey:     staticKey,

		MaxSolicited:   2,
		MaxUnsolicited: 16,

		AcceptUnsolicited: true,
		EnableRelay:       true,
		EnableCutThrough:  true,

		DedupInterval:      10 * time.Second,
		PeerSelectInterval: 60 * time.Second,
		BlacklistInterval:  600 * time.Second,

		Framing: lpf.DefaultConfig(),
		Stream:  stream.DefaultConfig(),
	}

	// A quiet connection still sees heartbeats (or their acks) every dedup
	// tick; twice that without traffic means the peer is gone.
	conf.Stream.IdleTimeout = 2 * conf.DedupInterval

	return conf
}

// lpfProvider adapts the framing factory onto TransportProvider.
type lpfProvider struct {
	factory *lpf.Factory
}

func (p lpfProvider) Dial(addr string, remoteStatic [channel.KeySize]byte) error {
	return p.factory.Dial(addr, remoteStatic)
}

func (p lpfProvider) GetTransport(addr string) Transport {
	if t := p.factory.GetTransport(addr); t != nil {
		return t
	}
	return nil
}

// Node is one pub/sub overlay participant.
type Node struct {
	conf     Config
	delegate Delegate

	factory  *lpf.Factory
	listener channel.Listener
	provider TransportProvider

	attester  Attester
	witnesser Witnesser

	publicKey [32]byte

	solicited   *TransportSet
	standby     *TransportSet
	unsolicited *TransportSet

	blacklist map[string]struct{}

	seenIDs  map[uint64]struct{}
	events   [dedupBuckets][]uint64
	eventIdx uint8

	cutMap        map[cutKey][]cutSubscriber
	cutLength     map[cutKey]uint64
	cutHeaderRecv map[cutKey]bool

	rng  *mrand.Rand
	cron *core.Cron

	mutex sync.Mutex
}

// NewNode creates a node, binds its listener and starts the periodic tasks.
func NewNode(conf Config, delegate Delegate) (*Node, error) {
	n := &Node{
		conf:     conf,
		delegate: delegate,

		solicited:   NewTransportSet(),
		standby:     NewTransportSet(),
		unsolicited: NewTransportSet(),

		blacklist: make(map[string]struct{}),

		seenIDs: make(map[uint64]struct{}),

		cutMap:        make(map[cutKey][]cutSubscriber),
		cutLength:     make(map[cutKey]uint64),
		cutHeaderRecv: make(map[cutKey]bool),

		rng: mrand.New(mrand.NewSource(seedFromOS())),
	}

	n.factory = lpf.NewFactory(conf.Framing, conf.Stream, (*nodeLpfDelegate)(n))
	n.provider = lpfProvider{factory: n.factory}

	build := conf.Listener
	if build == nil {
		build = func(handler channel.Handler) (channel.Listener, [32]byte, error) {
			listener, err := noiseudp.Listen(conf.ListenAddress, conf.StaticKey, handler)
			if err != nil {
				return nil, [32]byte{}, err
			}
			return listener, listener.StaticKey(), nil
		}
	}

	listener, publicKey, err := build(n.factory.StreamFactory())
	if err != nil {
		return nil, err
	}
	n.listener = listener
	n.publicKey = publicKey
	n.factory.Listen(listener, (*nodeLpfDelegate)(n))

	n.attester = conf.Attester
	if n.attester == nil {
		n.attester = EmptyAttester{}
	}
	n.witnesser = conf.Witnesser
	if n.witnesser == nil {
		n.witnesser = NewChainWitnesser(publicKey)
	}

	n.cron = core.NewCron()
	if err := n.cron.Register("dedup", n.dedupTick, conf.DedupInterval); err != nil {
		return nil, err
	}
	if err := n.cron.Register("peer_selection", n.peerSelectTick, conf.PeerSelectInterval); err != nil {
		return nil, err
	}
	if err := n.cron.Register("blacklist", n.blacklistTick, conf.BlacklistInterval); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"address": listener.LocalAddr(),
	}).Info("PubSub node listening")

	return n, nil
}

func seedFromOS() int64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return int64(binary.BigEndian.Uint64(buf[:]))
}

// LocalAddr is the node's bound address.
func (n *Node) LocalAddr() string {
	return n.listener.LocalAddr()
}

// PublicKey is this node's static public key.
func (n *Node) PublicKey() [32]byte {
	return n.publicKey
}

// Close stops the timers and tears the whole stack down.
func (n *Node) Close() error {
	n.cron.Stop()
	return n.factory.Close()
}

// PeerSnapshot lists a node's peers by slot class.
type PeerSnapshot struct {
	Solicited   []string `json:"solicited"`
	Standby     []string `json:"standby"`
	Unsolicited []string `json:"unsolicited"`
}

// Peers returns the addresses of all current peers.
func (n *Node) Peers() PeerSnapshot {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	var snapshot PeerSnapshot
	n.solicited.Each(func(t Transport) {
		snapshot.Solicited = append(snapshot.Solicited, t.RemoteAddr())
	})
	n.standby.Each(func(t Transport) {
		snapshot.Standby = append(snapshot.Standby, t.RemoteAddr())
	})
	n.unsolicited.Each(func(t Transport) {
		snapshot.Unsolicited = append(snapshot.Unsolicited, t.RemoteAddr())
	})
	return snapshot
}

// IsHealthy reports whether the node still has or can get solicited peers.
// It is false only when all solicited slots are empty and no standby
// candidate remains.
func (n *Node) IsHealthy() bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	return n.solicited.Len() > 0 || n.standby.Len() > 0
}

//---------------- Public operations ----------------//

// Subscribe connects to the given peer and occupies a solicited slot. It is
// idempotent and a no-op while the address is blacklisted.
func (n *Node) Subscribe(addr string, remoteStatic [channel.KeySize]byte) {
	n.mutex.Lock()
	if _, black := n.blacklist[addr]; black {
		n.mutex.Unlock()

		log.WithField("peer", addr).Debug("Subscribe suppressed, peer is blacklisted")
		return
	}
	n.mutex.Unlock()

	t := n.provider.GetTransport(addr)
	if t == nil {
		log.WithField("peer", addr).Debug("Subscribe dials unknown peer")

		if err := n.provider.Dial(addr, remoteStatic); err != nil {
			log.WithFields(log.Fields{
				"peer":  addr,
				"error": err,
			}).Warn("Subscribe failed to dial")
		}
		return
	}

	if !t.IsActive() {
		return
	}

	n.mutex.Lock()
	n.addSolicitedLocked(t)
	n.mutex.Unlock()
}

// Unsubscribe sends an UNSUBSCRIBE for every delegate channel to the given
// peer. Unknown peers are a no-op.
func (n *Node) Unsubscribe(addr string) {
	t := n.provider.GetTransport(addr)
	if t == nil {
		return
	}

	for _, channelID := range n.delegate.Channels() {
		n.sendUnsubscribe(t, channelID)
	}
}

// Publish sends a payload on a channel to every connected peer except the
// excluded address, assigning and returning a random message id.
func (n *Node) Publish(channelID uint16, payload []byte, excluded string) uint64 {
	n.mutex.Lock()
	messageID := n.rng.Uint64()
	n.mutex.Unlock()

	n.publish(channelID, messageID, payload, excluded, MessageHeader{})
	return messageID
}

// publish fans one message out to all solicited and unsolicited peers.
func (n *Node) publish(channelID uint16, messageID uint64, payload []byte, excluded string, prev MessageHeader) {
	n.mutex.Lock()
	targets := append(n.solicited.Slice(), n.unsolicited.Slice()...)
	n.mutex.Unlock()

	for _, t := range targets {
		if excluded != "" && t.RemoteAddr() == excluded {
			continue
		}

		// A peer already on the witness trail has seen the message.
		if prev.WitnessContains(t.RemoteStaticKey()) {
			continue
		}

		n.sendWithCutThroughCheck(t, channelID, messageID, payload, prev)
	}
}

// sendWithCutThroughCheck sends one message to one peer, diverting large
// payloads onto a cut-through stream.
func (n *Node) sendWithCutThroughCheck(t Transport, channelID uint16, messageID uint64, payload []byte, prev MessageHeader) {
	log.WithFields(log.Fields{
		"message": messageID,
		"channel": channelID,
		"peer":    t.RemoteAddr(),
	}).Debug("Sending message")

	message := buildMessage(channelID, messageID, payload, prev, n.attester, n.witnesser)

	if n.conf.EnableCutThrough && uint64(len(payload)) > n.conf.Framing.CutThroughThreshold {
		if err := t.CutThroughSend(message); err != nil {
			log.WithFields(log.Fields{
				"peer":  t.RemoteAddr(),
				"error": err,
			}).Warn("Cut-through send failed")

			t.Close()
		}
	} else {
		if err := t.Send(message); err != nil {
			log.WithFields(log.Fields{
				"peer":  t.RemoteAddr(),
				"error": err,
			}).Debug("Send failed")
		}
	}
}

//---------------- Control messages ----------------//

func (n *Node) sendSubscribe(t Transport, channelID uint16) {
	log.WithFields(log.Fields{
		"channel": channelID,
		"peer":    t.RemoteAddr(),
	}).Debug("Sending subscribe")

	_ = t.Send(buildSubscribe(channelID))
}

func (n *Node) sendUnsubscribe(t Transport, channelID uint16) {
	log.WithFields(log.Fields{
		"channel": channelID,
		"peer":    t.RemoteAddr(),
	}).Debug("Sending unsubscribe")

	_ = t.Send(buildUnsubscribe(channelID))
}

func (n *Node) sendResponse(t Transport, success bool, message string) {
	_ = t.Send(buildResponse(success, message))
}

func (n *Node) sendHeartbeat(t Transport) {
	_ = t.Send(buildHeartbeat())
}

//---------------- Incoming messages ----------------//

// didRecvMessage dispatches one framed message by its type byte.
func (n *Node) didRecvMessage(t Transport, message []byte) error {
	if len(message) == 0 {
		return nil
	}

	messageType := message[0]
	body := message[1:]

	switch messageType {
	case typeSubscribe:
		return n.handleSubscribe(t, body)
	case typeUnsubscribe:
		n.handleUnsubscribe(t, body)
	case typeResponse:
		n.handleResponse(t, body)
	case typeMessage:
		return n.handleMessage(t, body)
	case typeHeartbeat:
		// Keep-alive, nothing to do.
	default:
		return fmt.Errorf("unknown message type %d", messageType)
	}

	return nil
}

func (n *Node) handleSubscribe(t Transport, body []byte) error {
	if len(body) < 2 {
		return fmt.Errorf("SUBSCRIBE body of %d bytes is too short", len(body))
	}
	channelID := binary.BigEndian.Uint16(body)

	log.WithFields(log.Fields{
		"channel": channelID,
		"peer":    t.RemoteAddr(),
	}).Debug("Received subscribe")

	if !n.conf.AcceptUnsolicited {
		return nil
	}

	n.mutex.Lock()

	if _, black := n.blacklist[t.RemoteAddr()]; black {
		// A blacklisted peer coming back counts as a full promotion.
		delete(n.blacklist, t.RemoteAddr())
		n.addSolicitedLocked(t)
		n.mutex.Unlock()
		return nil
	}

	n.addUnsolicitedLocked(t)
	present := n.transportPresentLocked(t)
	n.mutex.Unlock()

	if !present {
		log.WithField("peer", t.RemoteAddr()).Debug("No slot for subscriber, closing transport")
		t.Close()
	}

	return nil
}

func (n *Node) handleUnsubscribe(t Transport, body []byte) {
	if len(body) < 2 {
		return
	}
	channelID := binary.BigEndian.Uint16(body)

	log.WithFields(log.Fields{
		"channel": channelID,
		"peer":    t.RemoteAddr(),
	}).Debug("Received unsubscribe")

	n.mutex.Lock()
	n.removeConnLocked(n.unsolicited, t)
	n.mutex.Unlock()
}

func (n *Node) handleResponse(t Transport, body []byte) {
	if len(body) < 1 {
		return
	}

	success := body[0] != 0
	message := string(body[1:])

	log.WithFields(log.Fields{
		"peer":    t.RemoteAddr(),
		"success": success,
		"message": message,
	}).Debug("Received response")

	channels := n.delegate.Channels()
	if len(channels) == 0 {
		return
	}

	// Prefix match; UNSUBSCRIBED first since SUBSCRIBED is its suffix.
	switch {
	case strings.HasPrefix(message, responseUnsubscribed):
		n.delegate.DidUnsubscribe(n, channels[0])
	case strings.HasPrefix(message, responseSubscribed):
		n.delegate.DidSubscribe(n, channels[0])
	default:
		log.WithFields(log.Fields{
			"peer":    t.RemoteAddr(),
			"message": message,
		}).Debug("Response matched no known request")
	}
}

func (n *Node) handleMessage(t Transport, body []byte) error {
	m, err := parseMessage(body, n.attester, n.witnesser)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"message": m.messageID,
		"channel": m.channelID,
		"peer":    t.RemoteAddr(),
	}).Debug("Received message")

	n.mutex.Lock()
	if _, seen := n.seenIDs[m.messageID]; seen {
		n.mutex.Unlock()
		return nil
	}
	n.mutex.Unlock()

	if !n.attester.Verify(m.messageID, m.channelID, m.payload, m.header) {
		log.WithFields(log.Fields{
			"message": m.messageID,
			"peer":    t.RemoteAddr(),
		}).Warn("Attestation verification failed")

		t.Close()
		return nil
	}

	n.mutex.Lock()
	n.insertMessageIDLocked(m.messageID)
	n.mutex.Unlock()

	if n.conf.EnableRelay {
		n.publish(m.channelID, m.messageID, m.payload, t.RemoteAddr(), m.header)
	}

	// The delegate sees the header of the previous hop.
	n.delegate.DidRecvMessage(n, m.channelID, m.messageID, m.payload, m.header)

	return nil
}

//---------------- Slot management ----------------//

// addSolicitedLocked installs a transport into a solicited slot, demoting to
// standby when the cap is reached. It reports whether the solicited slot was
// taken.
func (n *Node) addSolicitedLocked(t Transport) bool {
	if n.solicited.Len() >= n.conf.MaxSolicited {
		n.addStandbyLocked(t)
		return false
	}

	n.standby.Erase(t)
	n.unsolicited.Erase(t)

	if n.transportPresentLocked(t) {
		return false
	}

	log.WithField("peer", t.RemoteAddr()).Debug("Adding peer to solicited slots")

	for _, channelID := range n.delegate.Channels() {
		n.sendSubscribe(t, channelID)
	}

	n.solicited.Insert(t)
	n.sendResponse(t, true, responseSubscribed)

	return true
}

// addStandbyLocked parks a transport on the standby list.
func (n *Node) addStandbyLocked(t Transport) bool {
	if n.transportPresentLocked(t) {
		return false
	}

	log.WithField("peer", t.RemoteAddr()).Debug("Adding peer to standby list")

	n.standby.Insert(t)
	return true
}

// addUnsolicitedLocked installs a transport into an unsolicited slot.
func (n *Node) addUnsolicitedLocked(t Transport) bool {
	if n.unsolicited.Len() >= n.conf.MaxUnsolicited {
		return false
	}

	if n.transportPresentLocked(t) {
		return false
	}

	log.WithField("peer", t.RemoteAddr()).Debug("Adding peer to unsolicited slots")

	n.unsolicited.Insert(t)
	n.sendResponse(t, true, responseSubscribed)

	return true
}

// removeConnLocked removes a transport from one slot set, answering with an
// UNSUBSCRIBED response when it held a solicited slot.
func (n *Node) removeConnLocked(set *TransportSet, t Transport) bool {
	if !set.Contains(t) {
		return false
	}

	log.WithField("peer", t.RemoteAddr()).Debug("Removing peer from slot set")

	set.Erase(t)

	if set == n.solicited {
		n.sendResponse(t, true, responseUnsubscribed)
	}

	return true
}

func (n *Node) transportPresentLocked(t Transport) bool {
	return n.solicited.Contains(t) || n.standby.Contains(t) || n.unsolicited.Contains(t)
}

//---------------- Deduplication ----------------//

// insertMessageIDLocked records one id in the set and the current ring
// bucket.
func (n *Node) insertMessageIDLocked(messageID uint64) {
	n.seenIDs[messageID] = struct{}{}
	n.events[n.eventIdx] = append(n.events[n.eventIdx], messageID)
}

// dedupTick advances the ring, expiring the ids of the oldest bucket, and
// heartbeats all solicited and standby peers.
func (n *Node) dedupTick() {
	n.mutex.Lock()

	// Overflow behaviour desirable.
	n.eventIdx++

	for _, messageID := range n.events[n.eventIdx] {
		delete(n.seenIDs, messageID)
	}
	n.events[n.eventIdx] = nil

	targets := append(n.solicited.Slice(), n.standby.Slice()...)
	n.mutex.Unlock()

	for _, t := range targets {
		n.sendHeartbeat(t)
	}
}

// peerSelectTick lets the delegate rebalance solicited and standby peers.
func (n *Node) peerSelectTick() {
	n.runManageSubscriptions()
}

// runManageSubscriptions hands slot snapshots to the delegate and applies
// the returned promotion plan.
func (n *Node) runManageSubscriptions() {
	n.mutex.Lock()
	solicited := n.solicited.Clone()
	standby := n.standby.Clone()
	n.mutex.Unlock()

	plan := n.delegate.ManageSubscriptions(n, n.conf.MaxSolicited, solicited, standby)

	n.mutex.Lock()
	for _, t := range plan {
		if !n.standby.Contains(t) {
			continue
		}

		n.standby.Erase(t)
		n.addSolicitedLocked(t)
	}
	n.mutex.Unlock()
}

// blacklistTick clears the blacklist.
func (n *Node) blacklistTick() {
	n.mutex.Lock()
	n.blacklist = make(map[string]struct{})
	n.mutex.Unlock()
}

//---------------- Transport lifecycle ----------------//

// didDial installs a freshly dialed transport into a solicited slot.
func (n *Node) didDial(t Transport) {
	log.WithField("peer", t.RemoteAddr()).Debug("Dial completed")

	n.mutex.Lock()
	n.addSolicitedLocked(t)
	n.mutex.Unlock()
}

// didClose removes a gone transport from all bookkeeping. Solicited and
// standby peers get blacklisted so a flapping peer is not redialed at once.
func (n *Node) didClose(t Transport) {
	n.mutex.Lock()

	if n.removeConnLocked(n.solicited, t) || n.removeConnLocked(n.standby, t) {
		n.blacklist[t.RemoteAddr()] = struct{}{}
	}
	n.removeConnLocked(n.unsolicited, t)

	flushes := n.dropCutThroughSessionsLocked(t)
	n.mutex.Unlock()

	for _, sub := range flushes {
		sub.transport.CutThroughSendFlush(sub.streamID)
	}

	n.runManageSubscriptions()
}
