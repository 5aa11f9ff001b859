// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package textoverlay implements TextOverlayControl (spec §4.10): a
// request/reply control endpoint that lets an operator push a live
// drawtext update into the running encoder without restarting a clip.
//
// The original engine talks to ffmpeg's built-in zmq filter directly; no
// ZeroMQ library exists anywhere in the reference pack (confirmed by
// grepping every go.mod under _examples/), so this control plane is
// rebuilt on gorilla/websocket instead, grounded on
// starsinc1708-TorrX's ws_hub.go — the one example repo that wires a
// WebSocket hub for exactly this "accept small control messages from an
// external caller, reply synchronously" shape. ProcessSupervisor reads
// Controller.CurrentFilter() when building each clip's filter graph
// instead of ffmpeg applying the update in place.
package textoverlay

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/playout/config"
)

// reinitPrefix is the command framing the original sends over its zmq
// socket: "drawtext@<filter-name> reinit <escaped filter string>".
const reinitPrefix = "drawtext@dyntext reinit "

// Controller holds the latest drawtext override pushed by a client and
// serves the control WebSocket endpoint.
type Controller struct {
	mu       sync.RWMutex
	filter   string
	upgrader websocket.Upgrader
}

// NewController returns an empty Controller; CurrentFilter returns "" until
// the first reinit command arrives.
func NewController() *Controller {
	return &Controller{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// CurrentFilter returns the most recently accepted drawtext filter
// fragment, or "" if none has been pushed yet.
func (c *Controller) CurrentFilter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// SocketPath selects the stream-scoped or server-scoped control socket
// path per cfg.Output.Mode (spec §4.10: "HLS mode selects the per-stream
// socket, player/stream mode the shared server socket").
func SocketPath(cfg *config.PlayoutConfig) string {
	if cfg.Output.Mode == config.OutputHLS {
		return cfg.Text.ZmqStreamSocket
	}
	return cfg.Text.ZmqServerSocket
}

// ServeHTTP upgrades the connection and processes reinit commands until
// the client disconnects, replying synchronously to each one (spec: the
// control socket is request/reply, not fire-and-forget).
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponent("playout.textoverlay")
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("textoverlay control upgrade failed")
		return
	}
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		reply := c.handleCommand(string(payload))
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			return
		}
	}
}

// handleCommand applies one request and returns the reply text, mirroring
// the original's "Success" / error-string zmq reply convention.
func (c *Controller) handleCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if !strings.HasPrefix(cmd, reinitPrefix) {
		return "Error: unsupported command"
	}
	filterExpr := strings.TrimPrefix(cmd, reinitPrefix)
	if filterExpr == "" {
		return "Error: empty filter expression"
	}
	c.mu.Lock()
	c.filter = filterExpr
	c.mu.Unlock()
	return "Success"
}
