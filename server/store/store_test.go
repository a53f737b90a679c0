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

package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syncroom-team/syncroom/server/store"
)

func TestStorePresence(t *testing.T) {
	t.Run("add and remove connection test", func(t *testing.T) {
		s := store.New()
		defer s.Close()

		assert.False(t, s.IsUserOnline(42))

		s.AddConnection(5, 42, false)
		assert.True(t, s.IsUserOnline(42))
		assert.Equal(t, 1, s.ConnectionCount())
		assert.NoError(t, s.CheckIndexes())

		removed, err := s.RemoveConnection(5)
		assert.NoError(t, err)
		assert.True(t, removed.WentOffline)
		assert.False(t, s.IsUserOnline(42))
		assert.NoError(t, s.CheckIndexes())

		_, err = s.RemoveConnection(5)
		assert.ErrorIs(t, err, store.ErrConnectionNotFound)
	})

	t.Run("multiple connections per user test", func(t *testing.T) {
		s := store.New()
		defer s.Close()

		s.AddConnection(1, 7, false)
		s.AddConnection(2, 7, false)
		assert.Equal(t, []store.ConnectionID{1, 2}, s.UserConnectionIDs(7))

		removed, err := s.RemoveConnection(1)
		assert.NoError(t, err)
		assert.False(t, removed.WentOffline)
		assert.True(t, s.IsUserOnline(7))

		removed, err = s.RemoveConnection(2)
		assert.NoError(t, err)
		assert.True(t, removed.WentOffline)
		assert.NoError(t, s.CheckIndexes())
	})

	t.Run("user for connection test", func(t *testing.T) {
		s := store.New()
		defer s.Close()

		s.AddConnection(9, 100, false)
		userID, err := s.UserIDForConnection(9)
		assert.NoError(t, err)
		assert.Equal(t, store.UserID(100), userID)

		_, err = s.UserIDForConnection(10)
		assert.ErrorIs(t, err, store.ErrConnectionNotFound)
	})
}

func TestStoreCalls(t *testing.T) {
	t.Run("pending call marks user busy test", func(t *testing.T) {
		s := store.New()
		defer s.Close()

		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)

		assert.False(t, s.IsUserBusy(20))
		assert.NoError(t, s.SetPendingCall(20, store.Call{CallerUserID: 10, RoomID: 1}))
		assert.True(t, s.IsUserBusy(20))

		// Ringing a busy user fails.
		assert.ErrorIs(t, s.SetPendingCall(20, store.Call{CallerUserID: 10, RoomID: 2}),
			store.ErrUserBusy)
	})

	t.Run("ringing an offline user fails test", func(t *testing.T) {
		s := store.New()
		defer s.Close()

		assert.ErrorIs(t, s.SetPendingCall(99, store.Call{CallerUserID: 1, RoomID: 1}),
			store.ErrUserNotOnline)
	})

	t.Run("answer and clear call test", func(t *testing.T) {
		s := store.New()
		defer s.Close()

		s.AddConnection(1, 10, false)
		assert.NoError(t, s.SetPendingCall(10, store.Call{CallerUserID: 20, RoomID: 3}))

		call, ok := s.ActiveCall(10)
		assert.True(t, ok)
		assert.False(t, call.Answered())

		assert.NoError(t, s.AnswerCall(10, 3, 1))
		call, ok = s.ActiveCall(10)
		assert.True(t, ok)
		assert.True(t, call.Answered())

		cleared, err := s.ClearCall(10)
		assert.NoError(t, err)
		assert.Equal(t, uint64(3), cleared.RoomID)
		assert.False(t, s.IsUserBusy(10))

		_, err = s.ClearCall(10)
		assert.ErrorIs(t, err, store.ErrNoActiveCall)
	})

	t.Run("pending call survives reconnect test", func(t *testing.T) {
		s := store.New()
		defer s.Close()

		s.AddConnection(1, 10, false)
		s.AddConnection(2, 10, false)
		assert.NoError(t, s.SetPendingCall(10, store.Call{CallerUserID: 20, RoomID: 5}))

		_, err := s.RemoveConnection(1)
		assert.NoError(t, err)

		// The second connection keeps the user online; a third one is
		// handed the pending ring.
		pending := s.AddConnection(3, 10, false)
		assert.NotNil(t, pending)
		assert.Equal(t, uint64(5), pending.RoomID)
	})
}

func TestStoreContacts(t *testing.T) {
	t.Run("initial contacts update test", func(t *testing.T) {
		s := store.New()
		defer s.Close()

		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)
		assert.NoError(t, s.SetPendingCall(20, store.Call{CallerUserID: 10, RoomID: 1}))

		update := s.BuildInitialContactsUpdate([]store.Contact{
			{UserID: 20, Kind: store.ContactAccepted},
			{UserID: 30, Kind: store.ContactAccepted},
			{UserID: 40, Kind: store.ContactOutgoing},
			{UserID: 50, Kind: store.ContactIncoming, ShouldNotify: true},
		})

		assert.Len(t, update.Contacts, 2)
		assert.Equal(t, uint64(20), update.Contacts[0].UserID)
		assert.True(t, update.Contacts[0].Online)
		assert.True(t, update.Contacts[0].Busy)
		assert.Equal(t, uint64(30), update.Contacts[1].UserID)
		assert.False(t, update.Contacts[1].Online)

		assert.Equal(t, []uint64{40}, update.OutgoingRequests)
		assert.Len(t, update.IncomingRequests, 1)
		assert.Equal(t, uint64(50), update.IncomingRequests[0].RequesterID)
		assert.True(t, update.IncomingRequests[0].ShouldNotify)
	})

	t.Run("contact presence test", func(t *testing.T) {
		s := store.New()
		defer s.Close()

		contact := s.ContactFor(33)
		assert.False(t, contact.Online)

		s.AddConnection(1, 33, false)
		contact = s.ContactFor(33)
		assert.True(t, contact.Online)
		assert.False(t, contact.Busy)
	})
}
