// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package websocket

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := hub.RunWithContext(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext returned %v, want context.Canceled", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("hub did not stop")
		}
	})
	return hub, cancel
}

// newLocalClient creates a client without a network connection. Only the
// send channel matters for hub-side behavior.
func newLocalClient(hub *Hub) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message, 4),
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.GetClientCount(), want)
}

func TestHubRegisterUnregister(t *testing.T) {
	hub, _ := startHub(t)

	c1 := newLocalClient(hub)
	c2 := newLocalClient(hub)
	hub.Register <- c1
	hub.Register <- c2
	waitForClients(t, hub, 2)

	hub.Unregister <- c1
	waitForClients(t, hub, 1)

	// The unregistered client's send channel is closed.
	select {
	case _, ok := <-c1.send:
		if ok {
			t.Error("unregistered client received a message instead of close")
		}
	case <-time.After(time.Second):
		t.Error("unregistered client's send channel was not closed")
	}
}

func TestHubBroadcast(t *testing.T) {
	hub, _ := startHub(t)

	c1 := newLocalClient(hub)
	c2 := newLocalClient(hub)
	hub.Register <- c1
	hub.Register <- c2
	waitForClients(t, hub, 2)

	hub.BroadcastJSON(MessageTypeAlertCreated, map[string]string{"alert_id": "a1"})

	for i, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.send:
			if msg.Type != MessageTypeAlertCreated {
				t.Errorf("client %d: type = %s, want alert_created", i, msg.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("client %d did not receive the broadcast", i)
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub, _ := startHub(t)

	slow := newLocalClient(hub)
	hub.Register <- slow
	waitForClients(t, hub, 1)

	// Fill the client's send buffer and then exceed it. The hub must
	// drop the client rather than block the broadcast loop.
	for i := 0; i < cap(slow.send)+1; i++ {
		hub.BroadcastJSON(MessageTypeAlertUpdated, map[string]int{"n": i})
	}

	waitForClients(t, hub, 0)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.RunWithContext(ctx)
	}()

	c := newLocalClient(hub)
	hub.Register <- c
	waitForClients(t, hub, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}

	if hub.GetClientCount() != 0 {
		t.Errorf("client count = %d after shutdown, want 0", hub.GetClientCount())
	}
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("client received a message instead of close")
		}
	default:
		t.Error("client's send channel was not closed")
	}
}

func TestClientHandleInbound(t *testing.T) {
	c := newLocalClient(NewHub())

	// A ping from the hub's vocabulary earns a pong.
	c.handleInbound(Message{Type: MessageTypePing})
	select {
	case msg := <-c.send:
		if msg.Type != MessageTypePong {
			t.Errorf("type = %s, want %s", msg.Type, MessageTypePong)
		}
	default:
		t.Fatal("ping did not produce a pong")
	}

	// Anything else is discarded without a reply.
	c.handleInbound(Message{Type: MessageTypeAlertCreated})
	select {
	case msg := <-c.send:
		t.Errorf("unexpected reply %+v to non-ping message", msg)
	default:
	}
}

func TestMarshalMessage(t *testing.T) {
	data, err := MarshalMessage(Message{Type: MessageTypePing})
	if err != nil {
		t.Fatalf("MarshalMessage failed: %v", err)
	}
	if string(data) != `{"type":"ping","data":null}` {
		t.Errorf("got %s", data)
	}
}
