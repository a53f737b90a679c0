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

// Package rooms keeps the authoritative state of every live room. Rooms
// are mutated on the server only; clients receive the whole room after
// every mutation and replace their local view with it.
package rooms

import (
	"errors"
	"fmt"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/server/store"
)

var (
	// ErrRoomNotFound is returned when the given room does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNotInRoom is returned when the acting connection is not a
	// participant of the room.
	ErrNotInRoom = errors.New("not in room")

	// ErrNotInvited is returned when a user tries to join a room without
	// an outstanding invite.
	ErrNotInvited = errors.New("not invited to room")

	// ErrAlreadyCalled is returned when a user is rung twice for the same
	// room.
	ErrAlreadyCalled = errors.New("user already called")

	// ErrAlreadyInCall is returned when a user tries to create a room
	// while already being on a call.
	ErrAlreadyInCall = errors.New("already in a call")

	// ErrProjectNotFound is returned when a location refers to a project
	// nobody shares in the room.
	ErrProjectNotFound = errors.New("project not shared in room")

	// ErrRegistryClosed is returned when the registry has been shut down.
	ErrRegistryClosed = errors.New("room registry closed")
)

// LeftRoom describes the fallout of a participant leaving: the room to
// broadcast (nil if it was deleted), and the connections of invitees
// whose ring was canceled by the leaver going away.
type LeftRoom struct {
	Room            *api.Room
	RoomID          uint64
	Deleted         bool
	CanceledConnIDs []store.ConnectionID
}

type registryState struct {
	rooms      map[uint64]*api.Room
	nextRoomID uint64
}

// Registry is the single owner of room state, funneled through one
// goroutine exactly like the connection store.
type Registry struct {
	store *store.Store
	ops   chan func(*registryState)
	quit  chan struct{}
}

// New creates a Registry bound to the given connection store and starts
// its owner goroutine.
func New(connStore *store.Store) *Registry {
	r := &Registry{
		store: connStore,
		ops:   make(chan func(*registryState)),
		quit:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	st := &registryState{
		rooms:      make(map[uint64]*api.Room),
		nextRoomID: 1,
	}
	for {
		select {
		case op := <-r.ops:
			op(st)
		case <-r.quit:
			return
		}
	}
}

// Close shuts down the owner goroutine.
func (r *Registry) Close() {
	close(r.quit)
}

func (r *Registry) do(op func(*registryState)) error {
	done := make(chan struct{})
	wrapped := func(st *registryState) {
		op(st)
		close(done)
	}

	select {
	case r.ops <- wrapped:
	case <-r.quit:
		return ErrRegistryClosed
	}

	select {
	case <-done:
		return nil
	case <-r.quit:
		return ErrRegistryClosed
	}
}

func copyRoom(room *api.Room) *api.Room {
	copied := &api.Room{ID: room.ID}
	copied.Participants = make([]api.Participant, len(room.Participants))
	for i, p := range room.Participants {
		copied.Participants[i] = p
		copied.Participants[i].Projects = append(
			[]api.ParticipantProject(nil), p.Projects...)
	}
	copied.PendingUserIDs = append([]uint64(nil), room.PendingUserIDs...)
	return copied
}

func findParticipant(room *api.Room, connID store.ConnectionID) *api.Participant {
	for i := range room.Participants {
		if room.Participants[i].PeerID == uint32(connID) {
			return &room.Participants[i]
		}
	}
	return nil
}

// Create creates a room with the caller as its only participant and
// marks the caller busy.
func (r *Registry) Create(connID store.ConnectionID, userID store.UserID) (*api.Room, error) {
	if _, busy := r.store.ActiveCall(userID); busy {
		return nil, fmt.Errorf("user %d: %w", userID, ErrAlreadyInCall)
	}

	var room *api.Room
	var err error
	if doErr := r.do(func(st *registryState) {
		roomID := st.nextRoomID
		st.nextRoomID++

		st.rooms[roomID] = &api.Room{
			ID: roomID,
			Participants: []api.Participant{{
				UserID:   uint64(userID),
				PeerID:   uint32(connID),
				Location: api.Location{Kind: api.LocationKindExternal},
			}},
		}
		room = copyRoom(st.rooms[roomID])
	}); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}

	if err := r.store.SetPendingCall(userID, store.Call{
		CallerUserID: userID,
		RoomID:       room.ID,
	}); err != nil {
		return nil, err
	}
	if err := r.store.AnswerCall(userID, room.ID, connID); err != nil {
		return nil, err
	}
	return room, nil
}

// Join moves an invited user from the pending list to the participants.
// It fails for users that were never rung.
func (r *Registry) Join(
	roomID uint64,
	connID store.ConnectionID,
	userID store.UserID,
) (*api.Room, error) {
	call, ok := r.store.ActiveCall(userID)
	if !ok || call.RoomID != roomID || call.Answered() {
		return nil, fmt.Errorf("user %d, room %d: %w", userID, roomID, ErrNotInvited)
	}

	var room *api.Room
	var err error
	if doErr := r.do(func(st *registryState) {
		stored, ok := st.rooms[roomID]
		if !ok {
			err = fmt.Errorf("room %d: %w", roomID, ErrRoomNotFound)
			return
		}

		pendingIx := -1
		for i, pending := range stored.PendingUserIDs {
			if pending == uint64(userID) {
				pendingIx = i
				break
			}
		}
		if pendingIx < 0 {
			err = fmt.Errorf("user %d, room %d: %w", userID, roomID, ErrNotInvited)
			return
		}

		stored.PendingUserIDs = append(
			stored.PendingUserIDs[:pendingIx], stored.PendingUserIDs[pendingIx+1:]...)
		stored.Participants = append(stored.Participants, api.Participant{
			UserID:   uint64(userID),
			PeerID:   uint32(connID),
			Location: api.Location{Kind: api.LocationKindExternal},
		})
		room = copyRoom(stored)
	}); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}

	if err := r.store.AnswerCall(userID, roomID, connID); err != nil {
		return nil, err
	}
	return room, nil
}

// Leave removes a participant. Invites the leaver was responsible for are
// canceled, and an emptied room is deleted.
func (r *Registry) Leave(roomID uint64, connID store.ConnectionID) (*LeftRoom, error) {
	userID, err := r.store.UserIDForConnection(connID)
	if err != nil {
		return nil, err
	}
	return r.leave(roomID, connID, userID)
}

func (r *Registry) leave(
	roomID uint64,
	connID store.ConnectionID,
	userID store.UserID,
) (*LeftRoom, error) {
	var left *LeftRoom
	var err error
	var canceledUserIDs []store.UserID

	if doErr := r.do(func(st *registryState) {
		stored, ok := st.rooms[roomID]
		if !ok {
			err = fmt.Errorf("room %d: %w", roomID, ErrRoomNotFound)
			return
		}
		if findParticipant(stored, connID) == nil {
			err = fmt.Errorf("connection %d, room %d: %w", connID, roomID, ErrNotInRoom)
			return
		}

		participants := stored.Participants[:0]
		for _, p := range stored.Participants {
			if p.PeerID != uint32(connID) {
				participants = append(participants, p)
			}
		}
		stored.Participants = participants

		// Cancel the rings this user was responsible for.
		pending := stored.PendingUserIDs[:0]
		for _, pendingUserID := range stored.PendingUserIDs {
			call, ok := r.store.ActiveCall(store.UserID(pendingUserID))
			if ok && call.CallerUserID == userID && !call.Answered() {
				canceledUserIDs = append(canceledUserIDs, store.UserID(pendingUserID))
				continue
			}
			pending = append(pending, pendingUserID)
		}
		stored.PendingUserIDs = pending

		left = &LeftRoom{RoomID: roomID}
		if len(stored.Participants) == 0 {
			delete(st.rooms, roomID)
			left.Deleted = true
		} else {
			left.Room = copyRoom(stored)
		}
	}); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}

	for _, canceled := range canceledUserIDs {
		if _, clearErr := r.store.ClearCall(canceled); clearErr == nil {
			left.CanceledConnIDs = append(
				left.CanceledConnIDs, r.store.UserConnectionIDs(canceled)...)
		}
	}
	if _, clearErr := r.store.ClearCall(userID); clearErr != nil &&
		!errors.Is(clearErr, store.ErrNoActiveCall) &&
		!errors.Is(clearErr, store.ErrUserNotOnline) {
		return nil, clearErr
	}
	return left, nil
}

// Call rings another user into the room. It returns the updated room, the
// ring to push and the connections to push it to.
func (r *Registry) Call(
	roomID uint64,
	fromConnID store.ConnectionID,
	toUserID store.UserID,
) (*api.Room, *api.IncomingCall, []store.ConnectionID, error) {
	callerUserID, err := r.store.UserIDForConnection(fromConnID)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := r.store.SetPendingCall(toUserID, store.Call{
		CallerUserID: callerUserID,
		RoomID:       roomID,
	}); err != nil {
		return nil, nil, nil, err
	}

	var room *api.Room
	var opErr error
	if doErr := r.do(func(st *registryState) {
		stored, ok := st.rooms[roomID]
		if !ok {
			opErr = fmt.Errorf("room %d: %w", roomID, ErrRoomNotFound)
			return
		}
		if findParticipant(stored, fromConnID) == nil {
			opErr = fmt.Errorf("connection %d, room %d: %w", fromConnID, roomID, ErrNotInRoom)
			return
		}
		for _, pending := range stored.PendingUserIDs {
			if pending == uint64(toUserID) {
				opErr = fmt.Errorf("user %d: %w", toUserID, ErrAlreadyCalled)
				return
			}
		}

		stored.PendingUserIDs = append(stored.PendingUserIDs, uint64(toUserID))
		room = copyRoom(stored)
	}); doErr != nil {
		return nil, nil, nil, doErr
	}
	if opErr != nil {
		// The busy marker was set before the roster check; roll it back.
		_, _ = r.store.ClearCall(toUserID)
		return nil, nil, nil, opErr
	}

	ring := &api.IncomingCall{
		RoomID:       roomID,
		CallerUserID: uint64(callerUserID),
	}
	for _, p := range room.Participants {
		ring.ParticipantUserIDs = append(ring.ParticipantUserIDs, p.UserID)
	}
	return room, ring, r.store.UserConnectionIDs(toUserID), nil
}

// CancelCall withdraws an outstanding, unanswered ring.
func (r *Registry) CancelCall(
	roomID uint64,
	toUserID store.UserID,
) (*api.Room, []store.ConnectionID, error) {
	call, ok := r.store.ActiveCall(toUserID)
	if !ok || call.RoomID != roomID || call.Answered() {
		return nil, nil, fmt.Errorf("user %d, room %d: %w", toUserID, roomID, store.ErrNoActiveCall)
	}

	room, err := r.removePending(roomID, toUserID)
	if err != nil {
		return nil, nil, err
	}
	recipientConnIDs := r.store.UserConnectionIDs(toUserID)
	if _, err := r.store.ClearCall(toUserID); err != nil {
		return nil, nil, err
	}
	return room, recipientConnIDs, nil
}

// DeclineCall removes the ring the given connection's user is on.
func (r *Registry) DeclineCall(
	roomID uint64,
	connID store.ConnectionID,
) (*api.Room, bool, error) {
	userID, err := r.store.UserIDForConnection(connID)
	if err != nil {
		return nil, false, err
	}

	call, ok := r.store.ActiveCall(userID)
	if !ok || call.RoomID != roomID || call.Answered() {
		return nil, false, fmt.Errorf("user %d, room %d: %w", userID, roomID, store.ErrNoActiveCall)
	}

	room, err := r.removePending(roomID, userID)
	if err != nil {
		return nil, false, err
	}
	if _, err := r.store.ClearCall(userID); err != nil {
		return nil, false, err
	}
	return room, room != nil, nil
}

// DropPendingUser removes a user whose last connection vanished while
// they were still being rung.
func (r *Registry) DropPendingUser(roomID uint64, userID store.UserID) (*api.Room, error) {
	return r.removePending(roomID, userID)
}

// removePending removes a user from the pending list, deleting the room
// if nothing remains of it.
func (r *Registry) removePending(roomID uint64, userID store.UserID) (*api.Room, error) {
	var room *api.Room
	var err error
	if doErr := r.do(func(st *registryState) {
		stored, ok := st.rooms[roomID]
		if !ok {
			err = fmt.Errorf("room %d: %w", roomID, ErrRoomNotFound)
			return
		}

		pending := stored.PendingUserIDs[:0]
		for _, pendingUserID := range stored.PendingUserIDs {
			if pendingUserID != uint64(userID) {
				pending = append(pending, pendingUserID)
			}
		}
		stored.PendingUserIDs = pending

		if len(stored.Participants) == 0 && len(stored.PendingUserIDs) == 0 {
			delete(st.rooms, roomID)
			return
		}
		room = copyRoom(stored)
	}); doErr != nil {
		return nil, doErr
	}
	return room, err
}

// UpdateLocation sets the acting participant's location. A shared-project
// location must refer to a project somebody shares in the room.
func (r *Registry) UpdateLocation(
	roomID uint64,
	connID store.ConnectionID,
	location api.Location,
) (*api.Room, error) {
	var room *api.Room
	var err error
	if doErr := r.do(func(st *registryState) {
		stored, ok := st.rooms[roomID]
		if !ok {
			err = fmt.Errorf("room %d: %w", roomID, ErrRoomNotFound)
			return
		}

		if location.Kind == api.LocationKindSharedProject {
			found := false
			for _, p := range stored.Participants {
				for _, project := range p.Projects {
					if project.ID == location.ProjectID {
						found = true
					}
				}
			}
			if !found {
				err = fmt.Errorf("project %d: %w", location.ProjectID, ErrProjectNotFound)
				return
			}
		}

		participant := findParticipant(stored, connID)
		if participant == nil {
			err = fmt.Errorf("connection %d, room %d: %w", connID, roomID, ErrNotInRoom)
			return
		}
		participant.Location = location
		room = copyRoom(stored)
	}); doErr != nil {
		return nil, doErr
	}
	return room, err
}

// PublishProject shares a project into the room under the acting
// participant. Publishing an already shared project replaces its
// metadata.
func (r *Registry) PublishProject(
	roomID uint64,
	connID store.ConnectionID,
	project api.ParticipantProject,
) (*api.Room, error) {
	var room *api.Room
	var err error
	if doErr := r.do(func(st *registryState) {
		stored, ok := st.rooms[roomID]
		if !ok {
			err = fmt.Errorf("room %d: %w", roomID, ErrRoomNotFound)
			return
		}
		participant := findParticipant(stored, connID)
		if participant == nil {
			err = fmt.Errorf("connection %d, room %d: %w", connID, roomID, ErrNotInRoom)
			return
		}

		replaced := false
		for i := range participant.Projects {
			if participant.Projects[i].ID == project.ID {
				participant.Projects[i] = project
				replaced = true
			}
		}
		if !replaced {
			participant.Projects = append(participant.Projects, project)
		}
		room = copyRoom(stored)
	}); doErr != nil {
		return nil, doErr
	}
	return room, err
}

// UnpublishProject stops sharing a project. Participants viewing it fall
// back to an external location.
func (r *Registry) UnpublishProject(
	roomID uint64,
	connID store.ConnectionID,
	projectID uint64,
) (*api.Room, error) {
	var room *api.Room
	var err error
	if doErr := r.do(func(st *registryState) {
		stored, ok := st.rooms[roomID]
		if !ok {
			err = fmt.Errorf("room %d: %w", roomID, ErrRoomNotFound)
			return
		}
		participant := findParticipant(stored, connID)
		if participant == nil {
			err = fmt.Errorf("connection %d, room %d: %w", connID, roomID, ErrNotInRoom)
			return
		}

		projects := participant.Projects[:0]
		for _, project := range participant.Projects {
			if project.ID != projectID {
				projects = append(projects, project)
			}
		}
		participant.Projects = projects

		for i := range stored.Participants {
			location := &stored.Participants[i].Location
			if location.Kind == api.LocationKindSharedProject &&
				location.ProjectID == projectID {
				*location = api.Location{Kind: api.LocationKindExternal}
			}
		}
		room = copyRoom(stored)
	}); doErr != nil {
		return nil, doErr
	}
	return room, err
}

// Room returns a copy of the given room.
func (r *Registry) Room(roomID uint64) (*api.Room, bool) {
	var room *api.Room
	_ = r.do(func(st *registryState) {
		if stored, ok := st.rooms[roomID]; ok {
			room = copyRoom(stored)
		}
	})
	return room, room != nil
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	var count int
	_ = r.do(func(st *registryState) {
		count = len(st.rooms)
	})
	return count
}

// ConnectionIDs returns the connections of every participant of the given
// room, the broadcast targets of a room update.
func (r *Registry) ConnectionIDs(roomID uint64) []store.ConnectionID {
	var ids []store.ConnectionID
	_ = r.do(func(st *registryState) {
		stored, ok := st.rooms[roomID]
		if !ok {
			return
		}
		for _, p := range stored.Participants {
			ids = append(ids, store.ConnectionID(p.PeerID))
		}
	})
	return ids
}

// DropConnection removes a vanished connection from whichever room it was
// in. It returns nil when the connection was in no room.
func (r *Registry) DropConnection(
	connID store.ConnectionID,
	userID store.UserID,
) (*LeftRoom, error) {
	var roomID uint64
	var found bool
	_ = r.do(func(st *registryState) {
		for id, stored := range st.rooms {
			if findParticipant(stored, connID) != nil {
				roomID = id
				found = true
				return
			}
		}
	})
	if !found {
		return nil, nil
	}
	return r.leave(roomID, connID, userID)
}
