// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaymesh/relaymesh/geo"
	"github.com/relaymesh/relaymesh/lib/principal"
	"github.com/relaymesh/relaymesh/policy"
	"github.com/relaymesh/relaymesh/presence"
)

// writeTimeout bounds a single frame write. Wall-clock by necessity:
// the transport deadline lives in the kernel, not in our clock.
const writeTimeout = 10 * time.Second

// outboundBuffer is the per-connection delivery queue depth. A peer
// that cannot drain this many envelopes loses messages, matching the
// broker and presence lag policy.
const outboundBuffer = 32

// presenceEntry is the wire form of one presence change.
type presenceEntry struct {
	PrincipalID string `json:"principal_id"`
	Name        string `json:"name"`
	RemoteIP    string `json:"remote_ip,omitempty"`
	Version     string `json:"version,omitempty"`
	OnlineAt    int64  `json:"online_at"`
}

// presenceDiffPayload is the TypePresenceDiff envelope payload.
type presenceDiffPayload struct {
	Joins  []presenceEntry `json:"joins,omitempty"`
	Leaves []presenceEntry `json:"leaves,omitempty"`
}

// policySnapshotPayload is the TypePolicySnapshot envelope payload.
type policySnapshotPayload struct {
	Resources []policy.WireResource `json:"resources"`
}

// conn is one established WebSocket connection. Created by the server
// after a successful handshake; run drives it until the peer leaves,
// the heartbeat gives up, or the server drains.
type conn struct {
	server    *Server
	ws        *websocket.Conn
	principal *principal.Principal
	origin    geo.Origin
	logger    *slog.Logger

	// outbound carries envelopes destined for this peer: broker
	// deliveries and error reports. The write loop is the only reader.
	outbound chan Envelope

	// awaitingPong is set when a ping goes out and cleared by the pong
	// handler. A tick that finds it still set means the peer missed
	// the heartbeat deadline.
	awaitingPong atomic.Bool
}

func newConn(server *Server, ws *websocket.Conn, p *principal.Principal, origin geo.Origin) *conn {
	return &conn{
		server:    server,
		ws:        ws,
		principal: p,
		origin:    origin,
		logger: server.logger.With(
			"principal_id", p.ID,
			"kind", p.Kind.String(),
			"account_id", p.AccountID,
		),
		outbound: make(chan Envelope, outboundBuffer),
	}
}

// run executes the connected phase and the teardown. Blocks until the
// connection is finished.
func (c *conn) run(ctx context.Context) {
	defer c.ws.Close()
	c.ws.SetReadLimit(maxFrameSize)

	meta := presence.Meta{
		Name:     c.principal.Name,
		RemoteIP: c.origin.RemoteIP,
		Version:  c.principal.LastSeenVersion,
		OnlineAt: c.server.clock.Now(),
	}

	ownTopic := c.principal.Topic()
	groupTopic := c.principal.GroupTopic()

	// Subscribe before tracking: once a peer sees this principal's
	// join diff, messages published to it must already be deliverable.
	presenceSub := c.server.tracker.Subscribe(groupTopic)
	defer presenceSub.Close()
	defer c.server.broker.subscribe(ownTopic, c.outbound)()
	defer c.server.broker.subscribe(groupTopic, c.outbound)()
	defer c.server.broker.registerOwner(ownTopic, c.principal.AccountID)()

	// Track on both topics. The deferred releases are the only
	// teardown path; the guards make a double release harmless.
	ownGuard := c.server.tracker.Track(ownTopic, c.principal.ID, meta)
	defer ownGuard.Release()
	groupGuard := c.server.tracker.Track(groupTopic, c.principal.ID, meta)
	defer groupGuard.Release()

	c.logger.Info("connection established",
		"topic", groupTopic,
		"remote_ip", c.origin.RemoteIP,
		"version", c.principal.LastSeenVersion,
	)

	if c.principal.Kind == principal.KindGateway {
		if err := c.sendPolicySnapshot(ctx); err != nil {
			c.logger.Error("policy snapshot failed", "error", err)
			return
		}
	}

	c.ws.SetPongHandler(func(string) error {
		c.awaitingPong.Store(false)
		return nil
	})

	readDone := make(chan struct{})
	go c.readLoop(readDone)

	heartbeat := c.server.clock.NewTicker(c.server.heartbeatInterval)
	defer heartbeat.Stop()

	// Armed after each ping; a deadline that fires before the pong
	// arrives ends the connection.
	var pongDeadline <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "draining"),
				time.Now().Add(writeTimeout))
			c.logger.Info("connection drained")
			return

		case <-readDone:
			c.logger.Info("connection closed by peer")
			return

		case <-heartbeat.C:
			c.awaitingPong.Store(true)
			deadline := time.Now().Add(c.server.heartbeatTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Warn("heartbeat ping failed", "error", err)
				return
			}
			pongDeadline = c.server.clock.After(c.server.heartbeatTimeout)

		case <-pongDeadline:
			pongDeadline = nil
			if c.awaitingPong.Load() {
				c.logger.Warn("heartbeat timed out, dropping connection")
				return
			}

		case envelope := <-c.outbound:
			if err := c.write(envelope); err != nil {
				c.logger.Warn("write failed", "error", err)
				return
			}

		case diff, ok := <-presenceSub.C:
			if !ok {
				return
			}
			envelope, err := presenceEnvelope(diff)
			if err != nil {
				c.logger.Error("encoding presence diff", "error", err)
				continue
			}
			if err := c.write(envelope); err != nil {
				c.logger.Warn("write failed", "error", err)
				return
			}
		}
	}
}

// readLoop consumes inbound frames until the peer disconnects, then
// closes done. Runs on its own goroutine because gorilla reads block.
func (c *conn) readLoop(done chan<- struct{}) {
	defer close(done)
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		envelope, err := c.server.codec.decode(messageType, data)
		if err != nil {
			c.reportError(err.Error())
			continue
		}
		c.handleInbound(envelope)
	}
}

// handleInbound processes one peer envelope. Only TypeMessage is
// accepted, and only toward the connection's own scope.
func (c *conn) handleInbound(envelope Envelope) {
	if envelope.Type != TypeMessage {
		c.reportError("unsupported envelope type " + envelope.Type)
		return
	}
	if !c.mayPublish(envelope.Topic) {
		c.reportError("topic not in connection scope")
		return
	}
	c.server.broker.publish(envelope)
}

// mayPublish restricts outbound topics to the sender's account: its
// group topic, its account's clients topic, or the own channel topic
// of a principal currently connected under the same account. A relay
// cannot inject into another account, and a client cannot address
// arbitrary groups.
func (c *conn) mayPublish(topic string) bool {
	switch topic {
	case c.principal.GroupTopic(), principal.ClientsTopic(c.principal.AccountID):
		return true
	}
	account, live := c.server.broker.ownerAccount(topic)
	return live && account == c.principal.AccountID
}

// reportError queues a TypeError envelope. Best effort: when the
// outbound queue is full, the peer has bigger problems than this
// diagnostic.
func (c *conn) reportError(detail string) {
	payload, _ := json.Marshal(map[string]string{"detail": detail})
	select {
	case c.outbound <- Envelope{Type: TypeError, Payload: payload}:
	default:
	}
}

// sendPolicySnapshot renders and pushes the account's resource set. A
// malformed resource is skipped with an error log rather than failing
// the snapshot: one corrupt row must not take the account's gateways
// offline. The skip is deterministic, so every gateway sees the same
// snapshot.
func (c *conn) sendPolicySnapshot(ctx context.Context) error {
	resources, err := c.server.policies.Resources(ctx, c.principal.AccountID)
	if err != nil {
		return err
	}

	payload := policySnapshotPayload{Resources: make([]policy.WireResource, 0, len(resources))}
	for _, resource := range resources {
		wire, err := policy.Render(resource)
		if err != nil {
			c.logger.Error("skipping malformed resource", "resource_id", resource.ID, "error", err)
			continue
		}
		payload.Resources = append(payload.Resources, wire)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(Envelope{Type: TypePolicySnapshot, Payload: raw})
}

// write encodes and sends one envelope with the frame write deadline.
func (c *conn) write(envelope Envelope) error {
	messageType, data, err := c.server.codec.encode(envelope)
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// presenceEnvelope converts a tracker diff to its wire envelope.
func presenceEnvelope(diff presence.Diff) (Envelope, error) {
	payload := presenceDiffPayload{
		Joins:  wireEntries(diff.Joins),
		Leaves: wireEntries(diff.Leaves),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypePresenceDiff, Topic: diff.Topic, Payload: raw}, nil
}

func wireEntries(entries []presence.Entry) []presenceEntry {
	if len(entries) == 0 {
		return nil
	}
	wire := make([]presenceEntry, 0, len(entries))
	for _, entry := range entries {
		converted := presenceEntry{
			PrincipalID: entry.PrincipalID,
			Name:        entry.Meta.Name,
			Version:     entry.Meta.Version,
			OnlineAt:    entry.Meta.OnlineAt.Unix(),
		}
		if entry.Meta.RemoteIP.IsValid() {
			converted.RemoteIP = entry.Meta.RemoteIP.String()
		}
		wire = append(wire, converted)
	}
	return wire
}
