// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/netsentinel/internal/logging"
)

const (
	writeTimeout      = 10 * time.Second
	readIdleTimeout   = 60 * time.Second
	keepaliveInterval = (readIdleTimeout * 9) / 10
	maxInboundBytes   = 64 * 1024 // dashboard clients only send pings
)

// clientIDCounter assigns unique, monotonically increasing client IDs
// so broadcast order is stable.
var clientIDCounter atomic.Uint64

// Client is one dashboard connection attached to the hub. Traffic is
// almost entirely one-way: alert updates flow hub to client, and the
// only inbound messages the client honors are application-level pings
// from the hub's message vocabulary.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewClient creates a new Client with a unique ID
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan Message, 256),
	}
}

// ID returns the client's unique identifier
func (c *Client) ID() uint64 {
	return c.id
}

// Start runs the read and write loops until the connection drops.
func (c *Client) Start() {
	go c.writeLoop()
	go c.readLoop()
}

// readLoop consumes inbound messages until the connection errors or
// idles out, then detaches the client from the hub. Protocol-level
// pongs refresh the idle deadline.
func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundBytes)
	if err := c.conn.SetReadDeadline(time.Now().Add(readIdleTimeout)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.handleInbound(msg)
	}
}

// handleInbound answers the dashboard's application-level keepalive.
// Anything outside the hub's message vocabulary is discarded.
func (c *Client) handleInbound(msg Message) {
	if msg.Type != MessageTypePing {
		return
	}
	select {
	case c.send <- Message{Type: MessageTypePong}:
	default:
		// Pong lost to a full buffer; the protocol keepalive still
		// covers liveness.
	}
}

// writeLoop drains the send channel to the connection and keeps the
// link alive with protocol pings. A closed send channel means the hub
// dropped the client, so the connection is closed cleanly.
func (c *Client) writeLoop() {
	keepalive := time.NewTicker(keepaliveInterval)
	defer func() {
		keepalive.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.control(websocket.CloseMessage)
				return
			}
			if err := c.write(msg); err != nil {
				logging.Error().Err(err).Uint64("client_id", c.id).Msg("websocket write failed")
				return
			}

		case <-keepalive.C:
			if err := c.control(websocket.PingMessage); err != nil {
				return
			}
		}
	}
}

// write sends one JSON message under the write deadline.
func (c *Client) write(msg Message) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// control sends an empty control frame under the write deadline.
func (c *Client) control(messageType int) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, nil)
}
