/*
 * Copyright 2026 The Syncroom Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api defines the envelopes and payloads exchanged between the
// Syncroom server and its clients. The transport delivers envelopes in
// order per connection; everything above that ordering is specified here.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types carried in Envelope.Type. Requests are answered with an
// envelope of the matching response type and the same ID; pushes carry
// ID zero.
const (
	// requests
	TypeCreateRoom         = "create_room"
	TypeJoinRoom           = "join_room"
	TypeLeaveRoom          = "leave_room"
	TypeCall               = "call"
	TypeCancelCall         = "cancel_call"
	TypeDeclineCall        = "decline_call"
	TypeUpdateLocation     = "update_location"
	TypePublishProject     = "publish_project"
	TypeUnpublishProject   = "unpublish_project"
	TypeOpenChannelBuffer  = "open_channel_buffer"
	TypeCloseChannelBuffer = "close_channel_buffer"
	TypeBufferOperation    = "buffer_operation"

	// responses
	TypeAck         = "ack"
	TypeRoom        = "room"
	TypeBufferState = "buffer_state"
	TypeError       = "error"

	// pushes
	TypeWelcome            = "welcome"
	TypeRoomUpdated        = "room_updated"
	TypeRoomClosed         = "room_closed"
	TypeIncomingCall       = "incoming_call"
	TypeCallCanceled       = "call_canceled"
	TypeContactsUpdate     = "contacts_update"
	TypeBufferChunk        = "buffer_chunk"
	TypeCollaboratorJoined = "collaborator_joined"
	TypeCollaboratorLeft   = "collaborator_left"
)

var (
	// ErrMalformedPayload is returned when an envelope payload cannot be
	// decoded into the expected message.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Envelope is the unit of framing on the wire: a message type, a request
// correlation ID (zero for pushes) and the encoded payload.
type Envelope struct {
	Type    string          `json:"type"`
	ID      uint32          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope creates an envelope of the given type carrying the given
// payload.
func NewEnvelope(msgType string, id uint32, payload interface{}) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		raw = encoded
	}

	return Envelope{Type: msgType, ID: id, Payload: raw}, nil
}

// Decode decodes the payload of this envelope into the given message.
func (e Envelope) Decode(into interface{}) error {
	if err := json.Unmarshal(e.Payload, into); err != nil {
		return fmt.Errorf("%s: %v: %w", e.Type, err, ErrMalformedPayload)
	}
	return nil
}
