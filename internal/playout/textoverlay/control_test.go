// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package textoverlay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuGH/xg2g/internal/playout/config"
)

func TestController_HandleCommand_AcceptsReinit(t *testing.T) {
	c := NewController()
	reply := c.handleCommand("drawtext@dyntext reinit text='Hello World':fontsize=24")
	assert.Equal(t, "Success", reply)
	assert.Equal(t, "text='Hello World':fontsize=24", c.CurrentFilter())
}

func TestController_HandleCommand_RejectsUnknownCommand(t *testing.T) {
	c := NewController()
	reply := c.handleCommand("not a real command")
	assert.Contains(t, reply, "Error")
	assert.Equal(t, "", c.CurrentFilter())
}

func TestController_HandleCommand_RejectsEmptyFilter(t *testing.T) {
	c := NewController()
	reply := c.handleCommand("drawtext@dyntext reinit ")
	assert.Contains(t, reply, "Error")
}

func TestSocketPath_SelectsByOutputMode(t *testing.T) {
	cfg := &config.PlayoutConfig{Text: config.TextConfig{ZmqStreamSocket: "stream.sock", ZmqServerSocket: "server.sock"}}

	cfg.Output.Mode = config.OutputHLS
	assert.Equal(t, "stream.sock", SocketPath(cfg))

	cfg.Output.Mode = config.OutputStream
	assert.Equal(t, "server.sock", SocketPath(cfg))
}
