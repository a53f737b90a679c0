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

package api

// Location kinds of a participant within a room.
const (
	LocationKindExternal      = "external"
	LocationKindSharedProject = "shared_project"
)

// Line endings of a channel buffer.
const (
	LineEndingUnix    = "unix"
	LineEndingWindows = "windows"
)

// Location is where a participant currently is: inside a project shared
// in the room, or somewhere the room cannot see.
type Location struct {
	Kind      string `json:"kind"`
	ProjectID uint64 `json:"project_id,omitempty"`
}

// ParticipantProject is a project a participant shares into the room.
type ParticipantProject struct {
	ID        uint64   `json:"id"`
	RootNames []string `json:"root_names,omitempty"`
}

// Participant is a user that has joined a room, keyed on the wire by the
// peer ID of the connection it joined with.
type Participant struct {
	UserID   uint64               `json:"user_id"`
	PeerID   uint32               `json:"peer_id"`
	Projects []ParticipantProject `json:"projects,omitempty"`
	Location Location             `json:"location"`
}

// Room is the full server-side state of a call. It is always sent whole:
// clients replace their roster with it, they never patch.
type Room struct {
	ID             uint64        `json:"id"`
	Participants   []Participant `json:"participants"`
	PendingUserIDs []uint64      `json:"pending_user_ids,omitempty"`
}

// Contact is a contact annotated with live presence.
type Contact struct {
	UserID       uint64 `json:"user_id"`
	Online       bool   `json:"online"`
	Busy         bool   `json:"busy"`
	ShouldNotify bool   `json:"should_notify,omitempty"`
}

// IncomingContactRequest is a contact request sent to the local user.
type IncomingContactRequest struct {
	RequesterID  uint64 `json:"requester_id"`
	ShouldNotify bool   `json:"should_notify,omitempty"`
}

// ContactsUpdate carries the accepted/outgoing/incoming contact sets.
type ContactsUpdate struct {
	Contacts         []Contact                `json:"contacts,omitempty"`
	OutgoingRequests []uint64                 `json:"outgoing_requests,omitempty"`
	IncomingRequests []IncomingContactRequest `json:"incoming_requests,omitempty"`
}

// Collaborator is a participant of a channel buffer, in join order.
type Collaborator struct {
	PeerID uint32 `json:"peer_id"`
	UserID uint64 `json:"user_id"`
}

// Ticket is the wire form of a logical clock ticket.
type Ticket struct {
	Lamport int64  `json:"lamport"`
	Actor   uint32 `json:"actor"`
}

// Pos is the wire form of a buffer position: the ticket and offset of the
// node it hangs off plus the offset within that node.
type Pos struct {
	CreatedAt      Ticket `json:"created_at"`
	Offset         int    `json:"offset"`
	RelativeOffset int    `json:"relative_offset"`
}

// Operation is the wire form of a replicated edit.
type Operation struct {
	From         Pos              `json:"from"`
	To           Pos              `json:"to"`
	Content      string           `json:"content,omitempty"`
	EditedAt     Ticket           `json:"edited_at"`
	MaxCreatedAt map[uint32]int64 `json:"max_created_at,omitempty"`
}

// VersionVector is the wire form of a version vector.
type VersionVector map[uint32]int64

// Welcome is the first push on a fresh connection, telling the client who
// the server thinks it is.
type Welcome struct {
	PeerID uint32 `json:"peer_id"`
	UserID uint64 `json:"user_id"`
}

// CreateRoomRequest asks the server to create a room with the caller as
// its only participant.
type CreateRoomRequest struct{}

// JoinRoomRequest asks to join the room the caller was invited to.
type JoinRoomRequest struct {
	RoomID uint64 `json:"room_id"`
}

// LeaveRoomRequest leaves the given room.
type LeaveRoomRequest struct {
	RoomID uint64 `json:"room_id"`
}

// RoomResponse carries the room state after a create/join mutation.
type RoomResponse struct {
	Room *Room `json:"room"`
}

// CallRequest rings another user into the room. The response is an ack of
// the invite, not the callee answering.
type CallRequest struct {
	RoomID   uint64 `json:"room_id"`
	ToUserID uint64 `json:"to_user_id"`
}

// CancelCallRequest withdraws an outstanding invite.
type CancelCallRequest struct {
	RoomID   uint64 `json:"room_id"`
	ToUserID uint64 `json:"to_user_id"`
}

// DeclineCallRequest declines the invite the caller is ringing on.
type DeclineCallRequest struct {
	RoomID uint64 `json:"room_id"`
}

// UpdateLocationRequest publishes the caller's current location.
type UpdateLocationRequest struct {
	RoomID   uint64   `json:"room_id"`
	Location Location `json:"location"`
}

// PublishProjectRequest shares a project into the room.
type PublishProjectRequest struct {
	RoomID  uint64             `json:"room_id"`
	Project ParticipantProject `json:"project"`
}

// UnpublishProjectRequest stops sharing a project.
type UnpublishProjectRequest struct {
	RoomID    uint64 `json:"room_id"`
	ProjectID uint64 `json:"project_id"`
}

// RoomUpdated is the unsolicited full-state push sent to every
// participant after any room mutation.
type RoomUpdated struct {
	Room *Room `json:"room"`
}

// RoomClosed tells a participant the room is gone.
type RoomClosed struct {
	RoomID uint64 `json:"room_id"`
}

// IncomingCall rings a user.
type IncomingCall struct {
	RoomID             uint64   `json:"room_id"`
	CallerUserID       uint64   `json:"caller_user_id"`
	ParticipantUserIDs []uint64 `json:"participant_user_ids,omitempty"`
}

// CallCanceled withdraws a ring.
type CallCanceled struct {
	RoomID uint64 `json:"room_id"`
}

// OpenChannelBufferRequest opens the shared buffer of a channel, joining
// the caller to its collaborator roster.
type OpenChannelBufferRequest struct {
	ChannelID string `json:"channel_id"`
}

// BufferState is the head of the join handshake: the base snapshot a new
// collaborator bootstraps from. Operations not yet baked into the base
// follow in BufferChunk pushes.
type BufferState struct {
	BufferID      uint64         `json:"buffer_id"`
	ChannelID     string         `json:"channel_id"`
	Epoch         uint64         `json:"epoch"`
	BaseText      string         `json:"base_text"`
	Version       VersionVector  `json:"version"`
	LineEnding    string         `json:"line_ending"`
	Collaborators []Collaborator `json:"collaborators,omitempty"`
}

// BufferChunk is a page of the operations that follow BufferState. The
// handshake is complete when IsLast arrives.
type BufferChunk struct {
	BufferID   uint64      `json:"buffer_id"`
	Operations []Operation `json:"operations,omitempty"`
	IsLast     bool        `json:"is_last"`
}

// CloseChannelBufferRequest leaves a channel buffer.
type CloseChannelBufferRequest struct {
	BufferID uint64 `json:"buffer_id"`
}

// BufferOperation is the steady-state replication message, flowing both
// directions once the handshake is done.
type BufferOperation struct {
	BufferID      uint64        `json:"buffer_id"`
	Op            Operation     `json:"op"`
	SenderVersion VersionVector `json:"sender_version,omitempty"`
}

// CollaboratorJoined announces a new collaborator on a channel buffer.
type CollaboratorJoined struct {
	BufferID     uint64       `json:"buffer_id"`
	Collaborator Collaborator `json:"collaborator"`
}

// CollaboratorLeft announces a collaborator leaving a channel buffer.
// Content they contributed stays merged.
type CollaboratorLeft struct {
	BufferID uint64 `json:"buffer_id"`
	PeerID   uint32 `json:"peer_id"`
}

// Ack is the empty payload of a TypeAck response.
type Ack struct{}

// Error is the payload of a TypeError response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in Error.Code.
const (
	CodeNotFound     = "not_found"
	CodeMalformed    = "malformed"
	CodeUnauthorized = "unauthorized"
	CodeBadRequest   = "bad_request"
	CodeInternal     = "internal"
)
