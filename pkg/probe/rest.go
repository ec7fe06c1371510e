// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package probe

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"
)

// RestProbe is a small REST surface over a node: health, peers and one-shot
// publishes.
type RestProbe struct {
	node NodeAccess

	ws *WebSocketProbe
}

// NewRestProbe creates the REST handlers, including the WebSocket endpoint,
// for the given node.
func NewRestProbe(node NodeAccess) *RestProbe {
	return &RestProbe{
		node: node,
		ws:   NewWebSocketProbe(node),
	}
}

// WebSocket returns the probe's WebSocket endpoint for message delivery.
func (probe *RestProbe) WebSocket() *WebSocketProbe {
	return probe.ws
}

// Router builds the HTTP routes.
func (probe *RestProbe) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", probe.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/peers", probe.handlePeers).Methods(http.MethodGet)
	router.HandleFunc("/publish/{channel}", probe.handlePublish).Methods(http.MethodPost)
	router.Handle("/ws", probe.ws)
	return router
}

func (probe *RestProbe) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	status := struct {
		Healthy bool   `json:"healthy"`
		Address string `json:"address"`
	}{
		Healthy: probe.node.IsHealthy(),
		Address: probe.node.LocalAddr(),
	}

	if !status.Healthy {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(status)
}

func (probe *RestProbe) handlePeers(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(probe.node.Peers())
}

func (probe *RestProbe) handlePublish(rw http.ResponseWriter, r *http.Request) {
	channelStr := mux.Vars(r)["channel"]
	channelID, err := strconv.ParseUint(channelStr, 10, 16)
	if err != nil {
		http.Error(rw, "channel is not a 16 bit integer", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "reading payload failed", http.StatusBadRequest)
		return
	}

	messageID := probe.node.Publish(uint16(channelID), payload, "")

	log.WithFields(log.Fields{
		"channel": channelID,
		"message": messageID,
		"size":    len(payload),
	}).Debug("REST probe published")

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		MessageID uint64 `json:"message_id"`
	}{messageID})
}
