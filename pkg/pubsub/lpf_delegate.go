// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pubsub

import (
	log "github.com/sirupsen/logrus"

	"github.com/meshwork-net/meshwork-go/pkg/lpf"
)

// nodeLpfDelegate receives the framing layer's upcalls for a node. It is the
// same memory as the Node; the separate type keeps the lpf surface off the
// node's public API.
type nodeLpfDelegate Node

func (d *nodeLpfDelegate) node() *Node {
	return (*Node)(d)
}

//---------------- lpf.ListenDelegate ----------------//

func (d *nodeLpfDelegate) ShouldAccept(addr string) bool {
	n := d.node()
	return n.conf.AcceptUnsolicited && n.delegate.ShouldAccept(addr)
}

func (d *nodeLpfDelegate) DidCreateTransport(t *lpf.Transport) {
	log.WithField("peer", t.RemoteAddr()).Debug("Transport created")
}

//---------------- lpf.Delegate ----------------//

func (d *nodeLpfDelegate) DidDial(t *lpf.Transport) {
	d.node().didDial(t)
}

func (d *nodeLpfDelegate) DidRecvMessage(t *lpf.Transport, message []byte) error {
	return d.node().didRecvMessage(t, message)
}

func (d *nodeLpfDelegate) DidSendMessage(*lpf.Transport) {}

func (d *nodeLpfDelegate) DidClose(t *lpf.Transport) {
	d.node().didClose(t)
}

func (d *nodeLpfDelegate) CutThroughRecvStart(t *lpf.Transport, id uint16, length uint64) {
	d.node().cutThroughRecvStart(t, id, length)
}

func (d *nodeLpfDelegate) CutThroughRecvBytes(t *lpf.Transport, id uint16, data []byte) error {
	return d.node().cutThroughRecvBytes(t, id, data)
}

func (d *nodeLpfDelegate) CutThroughRecvEnd(t *lpf.Transport, id uint16) {
	d.node().cutThroughRecvEnd(t, id)
}

func (d *nodeLpfDelegate) CutThroughRecvFlush(t *lpf.Transport, id uint16) {
	d.node().cutThroughRecvFlush(t, id)
}

func (d *nodeLpfDelegate) CutThroughRecvSkip(t *lpf.Transport, id uint16) {
	d.node().cutThroughRecvSkip(t, id)
}
