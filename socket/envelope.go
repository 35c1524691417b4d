// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
)

// Envelope kinds carried on the wire.
const (
	// TypePresenceDiff announces join/leave changes on a subscribed
	// topic.
	TypePresenceDiff = "presence_diff"

	// TypePolicySnapshot carries the full rendered resource set. Sent
	// to gateways immediately after connect.
	TypePolicySnapshot = "policy_snapshot"

	// TypeMessage is an opaque peer-to-peer payload relayed through a
	// topic.
	TypeMessage = "message"

	// TypeError reports a rejected inbound envelope back to the
	// sender.
	TypeError = "error"
)

// Envelope is the socket wire frame. Text frames carry the envelope as
// plain JSON; binary frames carry the same JSON zstd-compressed.
type Envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// maxFrameSize bounds a single inbound frame after decompression.
const maxFrameSize = 1 << 20

// frameCodec encodes envelopes to WebSocket frames, compressing
// payloads above the configured threshold.
type frameCodec struct {
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// newFrameCodec builds a codec. threshold <= 0 disables compression.
func newFrameCodec(threshold int) (*frameCodec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("socket: creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameSize))
	if err != nil {
		return nil, fmt.Errorf("socket: creating zstd decoder: %w", err)
	}
	return &frameCodec{threshold: threshold, encoder: encoder, decoder: decoder}, nil
}

// encode serializes an envelope, choosing text or binary framing by
// the encoded size.
func (c *frameCodec) encode(envelope Envelope) (messageType int, data []byte, err error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return 0, nil, fmt.Errorf("socket: encoding envelope: %w", err)
	}
	if c.threshold <= 0 || len(raw) < c.threshold {
		return websocket.TextMessage, raw, nil
	}
	return websocket.BinaryMessage, c.encoder.EncodeAll(raw, nil), nil
}

// decode parses one inbound frame.
func (c *frameCodec) decode(messageType int, data []byte) (Envelope, error) {
	var envelope Envelope
	switch messageType {
	case websocket.TextMessage:
	case websocket.BinaryMessage:
		decompressed, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return Envelope{}, fmt.Errorf("socket: decompressing frame: %w", err)
		}
		data = decompressed
	default:
		return Envelope{}, fmt.Errorf("socket: unsupported message type %d", messageType)
	}
	if len(data) > maxFrameSize {
		return Envelope{}, fmt.Errorf("socket: frame exceeds %d bytes", maxFrameSize)
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("socket: decoding envelope: %w", err)
	}
	if envelope.Type == "" {
		return Envelope{}, fmt.Errorf("socket: envelope missing type")
	}
	return envelope, nil
}
