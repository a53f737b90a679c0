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

package client

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/api/converter"
	"github.com/syncroom-team/syncroom/internal/log"
)

// RoomStatus is the lifecycle state of a Room.
type RoomStatus int

const (
	// RoomStatusActive means the user is on the call.
	RoomStatusActive RoomStatus = iota
	// RoomStatusClosed means the room is gone, either because the user
	// left or because the connection dropped.
	RoomStatusClosed
)

// ErrRoomClosed is returned by mutations on a closed room.
var ErrRoomClosed = errors.New("room is closed")

// RoomEventType tags a RoomEvent.
type RoomEventType string

const (
	// RoomEventRosterChanged fires when participants or pending invitees
	// change.
	RoomEventRosterChanged RoomEventType = "roster_changed"
	// RoomEventProjectShared fires when a participant publishes a project.
	RoomEventProjectShared RoomEventType = "project_shared"
	// RoomEventProjectUnshared fires when a participant stops sharing a
	// project.
	RoomEventProjectUnshared RoomEventType = "project_unshared"
	// RoomEventLocationChanged fires when a participant moves.
	RoomEventLocationChanged RoomEventType = "location_changed"
	// RoomEventClosed fires once when the room goes away.
	RoomEventClosed RoomEventType = "closed"
)

// RoomEvent describes a change to the room. The fields beyond Type are
// filled per event kind: the roster diff for RosterChanged, the acting
// user and project for the project events, the user and new location for
// LocationChanged.
type RoomEvent struct {
	Type          RoomEventType
	JoinedUserIDs []uint64
	LeftUserIDs   []uint64
	UserID        uint64
	ProjectID     uint64
	Location      api.Location
}

// Room is the client's view of the call it is on. The view is whatever
// full snapshot the server pushed last; updates replace it, they never
// patch it. The local user is tracked apart from the remote roster.
type Room struct {
	client *Client
	id     uint64
	userID uint64

	mu       sync.Mutex
	snapshot api.Room
	local    api.Participant
	remotes  []api.Participant
	status   RoomStatus

	events chan RoomEvent
}

func newRoom(client *Client, userID uint64, snapshot *api.Room) *Room {
	room := &Room{
		client: client,
		id:     snapshot.ID,
		userID: userID,
		status: RoomStatusActive,
		events: make(chan RoomEvent, defaultEventBuffer),
	}
	room.snapshot = copySnapshot(*snapshot)
	room.local, room.remotes = splitRoster(userID, room.snapshot.Participants)
	return room
}

// splitRoster separates the local user's participant entry from the
// remote ones.
func splitRoster(userID uint64, participants []api.Participant) (api.Participant, []api.Participant) {
	var local api.Participant
	var remotes []api.Participant
	for _, p := range participants {
		if p.UserID == userID {
			local = p
			continue
		}
		remotes = append(remotes, p)
	}
	return local, remotes
}

// ID returns the ID of this room.
func (r *Room) ID() uint64 {
	return r.id
}

// Status returns the lifecycle state of this room.
func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Events returns the channel room changes are announced on.
func (r *Room) Events() <-chan RoomEvent {
	return r.events
}

// Snapshot returns a copy of the current room state as the server sent
// it, the local user included.
func (r *Room) Snapshot() api.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copySnapshot(r.snapshot)
}

// LocalParticipant returns the local user's own entry: their projects
// and location as the server last confirmed them.
func (r *Room) LocalParticipant() api.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

// RemoteParticipants returns the other participants of the room.
func (r *Room) RemoteParticipants() []api.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.Participant(nil), r.remotes...)
}

// applyUpdate replaces the local view with the pushed snapshot. Malformed
// snapshots are dropped whole; a retransmitted identical snapshot changes
// nothing and fires no events.
func (r *Room) applyUpdate(update *api.Room) {
	if err := converter.ValidateRoom(update); err != nil {
		log.Logger.Warnf("dropping malformed room update: %v", err)
		return
	}

	r.mu.Lock()
	if r.status == RoomStatusClosed || update.ID != r.id {
		r.mu.Unlock()
		return
	}
	if reflect.DeepEqual(r.snapshot, *update) {
		r.mu.Unlock()
		return
	}

	before := r.remotes
	r.snapshot = copySnapshot(*update)
	r.local, r.remotes = splitRoster(r.userID, r.snapshot.Participants)
	after := r.remotes
	r.mu.Unlock()

	joined, left := rosterDiff(before, after)
	if len(joined) > 0 || len(left) > 0 {
		r.emit(RoomEvent{
			Type:          RoomEventRosterChanged,
			JoinedUserIDs: joined,
			LeftUserIDs:   left,
		})
	}
	for _, event := range participantDiff(before, after) {
		r.emit(event)
	}
}

func (r *Room) handleClosed() {
	r.mu.Lock()
	if r.status == RoomStatusClosed {
		r.mu.Unlock()
		return
	}
	r.status = RoomStatusClosed
	r.mu.Unlock()

	r.emit(RoomEvent{Type: RoomEventClosed})
}

func (r *Room) handleDisconnected() {
	r.handleClosed()
}

func (r *Room) emit(event RoomEvent) {
	select {
	case r.events <- event:
	default:
		log.Logger.Warnf("room %d event channel full, dropping %s", r.id, event.Type)
	}
}

// Call rings another user into this room.
func (r *Room) Call(ctx context.Context, userID uint64) error {
	if r.Status() == RoomStatusClosed {
		return ErrRoomClosed
	}
	_, err := r.client.conn.request(ctx, api.TypeCall, &api.CallRequest{
		RoomID:   r.id,
		ToUserID: userID,
	})
	return err
}

// CancelCall withdraws the outstanding ring for the given user.
func (r *Room) CancelCall(ctx context.Context, userID uint64) error {
	if r.Status() == RoomStatusClosed {
		return ErrRoomClosed
	}
	_, err := r.client.conn.request(ctx, api.TypeCancelCall, &api.CancelCallRequest{
		RoomID:   r.id,
		ToUserID: userID,
	})
	return err
}

// UpdateLocation publishes where this user currently is.
func (r *Room) UpdateLocation(ctx context.Context, location api.Location) error {
	if r.Status() == RoomStatusClosed {
		return ErrRoomClosed
	}
	_, err := r.client.conn.request(ctx, api.TypeUpdateLocation, &api.UpdateLocationRequest{
		RoomID:   r.id,
		Location: location,
	})
	return err
}

// PublishProject shares a project into this room.
func (r *Room) PublishProject(ctx context.Context, project api.ParticipantProject) error {
	if r.Status() == RoomStatusClosed {
		return ErrRoomClosed
	}
	_, err := r.client.conn.request(ctx, api.TypePublishProject, &api.PublishProjectRequest{
		RoomID:  r.id,
		Project: project,
	})
	return err
}

// UnpublishProject stops sharing a project.
func (r *Room) UnpublishProject(ctx context.Context, projectID uint64) error {
	if r.Status() == RoomStatusClosed {
		return ErrRoomClosed
	}
	_, err := r.client.conn.request(ctx, api.TypeUnpublishProject, &api.UnpublishProjectRequest{
		RoomID:    r.id,
		ProjectID: projectID,
	})
	return err
}

// Leave leaves this room. The room is closed before Leave returns; no
// events for it arrive afterwards.
func (r *Room) Leave(ctx context.Context) error {
	r.mu.Lock()
	if r.status == RoomStatusClosed {
		r.mu.Unlock()
		return nil
	}
	r.status = RoomStatusClosed
	r.mu.Unlock()

	_, err := r.client.conn.request(ctx, api.TypeLeaveRoom, &api.LeaveRoomRequest{RoomID: r.id})
	r.emit(RoomEvent{Type: RoomEventClosed})
	return err
}

func copySnapshot(room api.Room) api.Room {
	copied := room
	copied.Participants = make([]api.Participant, len(room.Participants))
	for i, p := range room.Participants {
		copied.Participants[i] = p
		copied.Participants[i].Projects = append(
			[]api.ParticipantProject(nil), p.Projects...)
	}
	copied.PendingUserIDs = append([]uint64(nil), room.PendingUserIDs...)
	return copied
}

// participantDiff reports project and location changes for participants
// present in both snapshots.
func participantDiff(before, after []api.Participant) []RoomEvent {
	prev := make(map[uint32]api.Participant, len(before))
	for _, p := range before {
		prev[p.PeerID] = p
	}

	var events []RoomEvent
	for _, p := range after {
		old, ok := prev[p.PeerID]
		if !ok {
			continue
		}

		oldProjects := make(map[uint64]struct{}, len(old.Projects))
		for _, project := range old.Projects {
			oldProjects[project.ID] = struct{}{}
		}
		newProjects := make(map[uint64]struct{}, len(p.Projects))
		for _, project := range p.Projects {
			newProjects[project.ID] = struct{}{}
			if _, shared := oldProjects[project.ID]; !shared {
				events = append(events, RoomEvent{
					Type:      RoomEventProjectShared,
					UserID:    p.UserID,
					ProjectID: project.ID,
				})
			}
		}
		for _, project := range old.Projects {
			if _, shared := newProjects[project.ID]; !shared {
				events = append(events, RoomEvent{
					Type:      RoomEventProjectUnshared,
					UserID:    p.UserID,
					ProjectID: project.ID,
				})
			}
		}

		if old.Location != p.Location {
			events = append(events, RoomEvent{
				Type:     RoomEventLocationChanged,
				UserID:   p.UserID,
				Location: p.Location,
			})
		}
	}
	return events
}

func rosterDiff(before, after []api.Participant) (joined, left []uint64) {
	beforeSet := make(map[uint32]uint64, len(before))
	for _, p := range before {
		beforeSet[p.PeerID] = p.UserID
	}
	afterSet := make(map[uint32]uint64, len(after))
	for _, p := range after {
		afterSet[p.PeerID] = p.UserID
	}

	for peer, user := range afterSet {
		if _, ok := beforeSet[peer]; !ok {
			joined = append(joined, user)
		}
	}
	for peer, user := range beforeSet {
		if _, ok := afterSet[peer]; !ok {
			left = append(left, user)
		}
	}
	return joined, left
}
