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

// Package store keeps the authoritative connection-to-user bookkeeping of
// the server. All presence queries derive from it.
package store

import (
	"errors"
	"fmt"
	"sort"

	"github.com/syncroom-team/syncroom/api"
)

var (
	// ErrConnectionNotFound is returned when the given connection is not
	// registered.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrUserNotOnline is returned when the given user has no live
	// connection.
	ErrUserNotOnline = errors.New("user not online")

	// ErrUserBusy is returned when the given user already has an active
	// call.
	ErrUserBusy = errors.New("user is busy")

	// ErrNoActiveCall is returned when the given user has no call to
	// answer or clear.
	ErrNoActiveCall = errors.New("no active call")

	// ErrStoreClosed is returned when the store has been shut down.
	ErrStoreClosed = errors.New("store closed")
)

// ConnectionID identifies a live connection. IDs are process-unique and
// monotonically assigned by the rpc layer.
type ConnectionID uint32

// UserID identifies a logical user.
type UserID uint64

// Connection is the attribution of a live connection to a user.
type Connection struct {
	ID     ConnectionID
	UserID UserID
	Admin  bool
}

// Call marks a user as ringing on, or participating in, a room. A user
// with a Call set is "busy" for contacts purposes.
type Call struct {
	CallerUserID UserID
	RoomID       uint64

	// ConnectionID is the connection the call was answered on; zero while
	// the user is still being rung.
	ConnectionID ConnectionID
}

// Answered reports whether the call has been answered.
func (c *Call) Answered() bool {
	return c.ConnectionID != 0
}

type connectedUser struct {
	connectionIDs map[ConnectionID]struct{}
	activeCall    *Call
}

type state struct {
	connections    map[ConnectionID]*Connection
	connectedUsers map[UserID]*connectedUser
}

// Store is the single owner of connection state. Mutations and queries
// are funneled through one goroutine, so the primary map and the per-user
// index can never be observed out of step and no caller ever takes a
// lock.
type Store struct {
	ops  chan func(*state)
	quit chan struct{}
}

// New creates a Store and starts its owner goroutine.
func New() *Store {
	s := &Store{
		ops:  make(chan func(*state)),
		quit: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Store) run() {
	st := &state{
		connections:    make(map[ConnectionID]*Connection),
		connectedUsers: make(map[UserID]*connectedUser),
	}
	for {
		select {
		case op := <-s.ops:
			op(st)
		case <-s.quit:
			return
		}
	}
}

// Close shuts down the owner goroutine. Requests after Close fail with
// ErrStoreClosed.
func (s *Store) Close() {
	close(s.quit)
}

func (s *Store) do(op func(*state)) error {
	done := make(chan struct{})
	wrapped := func(st *state) {
		op(st)
		close(done)
	}

	select {
	case s.ops <- wrapped:
	case <-s.quit:
		return ErrStoreClosed
	}

	select {
	case <-done:
		return nil
	case <-s.quit:
		return ErrStoreClosed
	}
}

// AddConnection registers a connection for the given user. It returns the
// call the user is currently being rung on, if any, so the rpc layer can
// repeat the ring on the fresh connection.
func (s *Store) AddConnection(id ConnectionID, userID UserID, admin bool) *Call {
	var pending *Call
	_ = s.do(func(st *state) {
		st.connections[id] = &Connection{ID: id, UserID: userID, Admin: admin}

		user, ok := st.connectedUsers[userID]
		if !ok {
			user = &connectedUser{connectionIDs: make(map[ConnectionID]struct{})}
			st.connectedUsers[userID] = user
		}
		user.connectionIDs[id] = struct{}{}

		if user.activeCall != nil && !user.activeCall.Answered() {
			call := *user.activeCall
			pending = &call
		}
	})
	return pending
}

// RemovedConnection describes what a RemoveConnection took down.
type RemovedConnection struct {
	UserID      UserID
	WentOffline bool
	ActiveCall  *Call
}

// RemoveConnection unregisters a connection. When the last connection of
// a user goes away, the user's index entry is removed with it, so online
// checks stay existence checks.
func (s *Store) RemoveConnection(id ConnectionID) (*RemovedConnection, error) {
	var removed *RemovedConnection
	var err error
	doErr := s.do(func(st *state) {
		conn, ok := st.connections[id]
		if !ok {
			err = fmt.Errorf("connection %d: %w", id, ErrConnectionNotFound)
			return
		}

		removed = &RemovedConnection{UserID: conn.UserID}

		user := st.connectedUsers[conn.UserID]
		delete(user.connectionIDs, id)
		if user.activeCall != nil {
			call := *user.activeCall
			removed.ActiveCall = &call
		}
		if len(user.connectionIDs) == 0 {
			delete(st.connectedUsers, conn.UserID)
			removed.WentOffline = true
		}
		delete(st.connections, id)
	})
	if doErr != nil {
		return nil, doErr
	}
	return removed, err
}

// IsUserOnline returns whether the given user has at least one live
// connection.
func (s *Store) IsUserOnline(userID UserID) bool {
	var online bool
	_ = s.do(func(st *state) {
		_, online = st.connectedUsers[userID]
	})
	return online
}

// IsUserBusy returns whether the given user has an active call.
func (s *Store) IsUserBusy(userID UserID) bool {
	var busy bool
	_ = s.do(func(st *state) {
		user, ok := st.connectedUsers[userID]
		busy = ok && user.activeCall != nil
	})
	return busy
}

// UserConnectionIDs returns the connections of the given user in
// ascending order.
func (s *Store) UserConnectionIDs(userID UserID) []ConnectionID {
	var ids []ConnectionID
	_ = s.do(func(st *state) {
		user, ok := st.connectedUsers[userID]
		if !ok {
			return
		}
		for id := range user.connectionIDs {
			ids = append(ids, id)
		}
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// UserIDForConnection returns the user the given connection belongs to.
func (s *Store) UserIDForConnection(id ConnectionID) (UserID, error) {
	var userID UserID
	var err error
	if doErr := s.do(func(st *state) {
		conn, ok := st.connections[id]
		if !ok {
			err = fmt.Errorf("connection %d: %w", id, ErrConnectionNotFound)
			return
		}
		userID = conn.UserID
	}); doErr != nil {
		return 0, doErr
	}
	return userID, err
}

// ConnectionCount returns the number of live connections.
func (s *Store) ConnectionCount() int {
	var count int
	_ = s.do(func(st *state) {
		count = len(st.connections)
	})
	return count
}

// SetPendingCall marks the given user as being rung on the given room.
// It fails if the user is offline or already on a call.
func (s *Store) SetPendingCall(userID UserID, call Call) error {
	var err error
	if doErr := s.do(func(st *state) {
		user, ok := st.connectedUsers[userID]
		if !ok {
			err = fmt.Errorf("user %d: %w", userID, ErrUserNotOnline)
			return
		}
		if user.activeCall != nil {
			err = fmt.Errorf("user %d: %w", userID, ErrUserBusy)
			return
		}
		user.activeCall = &call
	}); doErr != nil {
		return doErr
	}
	return err
}

// AnswerCall records that the given user answered the call on the given
// connection.
func (s *Store) AnswerCall(userID UserID, roomID uint64, connID ConnectionID) error {
	var err error
	if doErr := s.do(func(st *state) {
		user, ok := st.connectedUsers[userID]
		if !ok {
			err = fmt.Errorf("user %d: %w", userID, ErrUserNotOnline)
			return
		}
		if user.activeCall == nil || user.activeCall.RoomID != roomID {
			err = fmt.Errorf("user %d, room %d: %w", userID, roomID, ErrNoActiveCall)
			return
		}
		user.activeCall.ConnectionID = connID
	}); doErr != nil {
		return doErr
	}
	return err
}

// ActiveCall returns the active call of the given user, if any.
func (s *Store) ActiveCall(userID UserID) (*Call, bool) {
	var call *Call
	_ = s.do(func(st *state) {
		user, ok := st.connectedUsers[userID]
		if ok && user.activeCall != nil {
			copied := *user.activeCall
			call = &copied
		}
	})
	return call, call != nil
}

// ClearCall removes the active call marker of the given user and returns
// what it was.
func (s *Store) ClearCall(userID UserID) (*Call, error) {
	var call *Call
	var err error
	if doErr := s.do(func(st *state) {
		user, ok := st.connectedUsers[userID]
		if !ok {
			err = fmt.Errorf("user %d: %w", userID, ErrUserNotOnline)
			return
		}
		if user.activeCall == nil {
			err = fmt.Errorf("user %d: %w", userID, ErrNoActiveCall)
			return
		}
		call = user.activeCall
		user.activeCall = nil
	}); doErr != nil {
		return nil, doErr
	}
	return call, err
}

// BuildInitialContactsUpdate projects the given contact rows into the
// wire-ready update sent to a freshly connected client, annotated with
// live presence from this store.
func (s *Store) BuildInitialContactsUpdate(contacts []Contact) *api.ContactsUpdate {
	update := &api.ContactsUpdate{}
	_ = s.do(func(st *state) {
		for _, contact := range contacts {
			switch contact.Kind {
			case ContactAccepted:
				user, online := st.connectedUsers[contact.UserID]
				update.Contacts = append(update.Contacts, api.Contact{
					UserID:       uint64(contact.UserID),
					Online:       online,
					Busy:         online && user.activeCall != nil,
					ShouldNotify: contact.ShouldNotify,
				})
			case ContactOutgoing:
				update.OutgoingRequests = append(
					update.OutgoingRequests, uint64(contact.UserID))
			case ContactIncoming:
				update.IncomingRequests = append(
					update.IncomingRequests, api.IncomingContactRequest{
						RequesterID:  uint64(contact.UserID),
						ShouldNotify: contact.ShouldNotify,
					})
			}
		}
	})
	return update
}

// ContactFor returns the single wire contact for the given user with live
// presence, used for incremental contact pushes.
func (s *Store) ContactFor(userID UserID) api.Contact {
	var contact api.Contact
	_ = s.do(func(st *state) {
		user, online := st.connectedUsers[userID]
		contact = api.Contact{
			UserID: uint64(userID),
			Online: online,
			Busy:   online && user.activeCall != nil,
		}
	})
	return contact
}

// CheckIndexes verifies that the primary connection map and the per-user
// index agree in both directions. Any mutation path that updates one side
// without the other is a defect; tests assert this after every sequence.
func (s *Store) CheckIndexes() error {
	var err error
	if doErr := s.do(func(st *state) {
		for id, conn := range st.connections {
			user, ok := st.connectedUsers[conn.UserID]
			if !ok {
				err = fmt.Errorf("connection %d: user %d missing from index", id, conn.UserID)
				return
			}
			if _, ok := user.connectionIDs[id]; !ok {
				err = fmt.Errorf("connection %d missing from user %d index", id, conn.UserID)
				return
			}
		}
		for userID, user := range st.connectedUsers {
			if len(user.connectionIDs) == 0 {
				err = fmt.Errorf("user %d indexed with no connections", userID)
				return
			}
			for id := range user.connectionIDs {
				conn, ok := st.connections[id]
				if !ok {
					err = fmt.Errorf("user %d indexes unknown connection %d", userID, id)
					return
				}
				if conn.UserID != userID {
					err = fmt.Errorf("connection %d attributed to user %d, indexed under %d",
						id, conn.UserID, userID)
					return
				}
			}
		}
	}); doErr != nil {
		return doErr
	}
	return err
}
