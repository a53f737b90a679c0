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

package rooms_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/server/rooms"
	"github.com/syncroom-team/syncroom/server/store"
)

func newFixture(t *testing.T) (*store.Store, *rooms.Registry) {
	t.Helper()
	s := store.New()
	r := rooms.New(s)
	t.Cleanup(func() {
		r.Close()
		s.Close()
	})
	return s, r
}

func TestRegistryCreateJoin(t *testing.T) {
	t.Run("create room test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)
		assert.Len(t, room.Participants, 1)
		assert.Equal(t, uint64(10), room.Participants[0].UserID)
		assert.Equal(t, api.LocationKindExternal, room.Participants[0].Location.Kind)
		assert.True(t, s.IsUserBusy(10))
		assert.Equal(t, 1, r.RoomCount())
	})

	t.Run("create while already on a call test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)

		_, err := r.Create(1, 10)
		assert.NoError(t, err)

		_, err = r.Create(1, 10)
		assert.ErrorIs(t, err, rooms.ErrAlreadyInCall)
	})

	t.Run("call then join test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)

		updated, ring, recipients, err := r.Call(room.ID, 1, 20)
		assert.NoError(t, err)
		assert.Equal(t, []uint64{20}, updated.PendingUserIDs)
		assert.Equal(t, uint64(10), ring.CallerUserID)
		assert.Equal(t, []uint64{10}, ring.ParticipantUserIDs)
		assert.Equal(t, []store.ConnectionID{2}, recipients)
		assert.True(t, s.IsUserBusy(20))

		joined, err := r.Join(room.ID, 2, 20)
		assert.NoError(t, err)
		assert.Len(t, joined.Participants, 2)
		assert.Empty(t, joined.PendingUserIDs)

		call, ok := s.ActiveCall(20)
		assert.True(t, ok)
		assert.True(t, call.Answered())
	})

	t.Run("join without invite test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)

		_, err = r.Join(room.ID, 2, 20)
		assert.ErrorIs(t, err, rooms.ErrNotInvited)
	})

	t.Run("double ring test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)

		_, _, _, err = r.Call(room.ID, 1, 20)
		assert.NoError(t, err)
		_, _, _, err = r.Call(room.ID, 1, 20)
		assert.ErrorIs(t, err, store.ErrUserBusy)
	})
}

func TestRegistryLeave(t *testing.T) {
	t.Run("leaver cancels own invites test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)
		s.AddConnection(3, 30, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)
		_, _, _, err = r.Call(room.ID, 1, 20)
		assert.NoError(t, err)
		joined, err := r.Join(room.ID, 2, 20)
		assert.NoError(t, err)
		_, _, _, err = r.Call(joined.ID, 1, 30)
		assert.NoError(t, err)

		left, err := r.Leave(room.ID, 1)
		assert.NoError(t, err)
		assert.False(t, left.Deleted)
		assert.Len(t, left.Room.Participants, 1)
		assert.Empty(t, left.Room.PendingUserIDs)
		assert.Equal(t, []store.ConnectionID{3}, left.CanceledConnIDs)

		assert.False(t, s.IsUserBusy(10))
		assert.False(t, s.IsUserBusy(30))
		assert.True(t, s.IsUserBusy(20))
	})

	t.Run("last leaver deletes room test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)

		left, err := r.Leave(room.ID, 1)
		assert.NoError(t, err)
		assert.True(t, left.Deleted)
		assert.Nil(t, left.Room)
		assert.Equal(t, 0, r.RoomCount())

		_, ok := r.Room(room.ID)
		assert.False(t, ok)
	})

	t.Run("leave a room not joined test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)

		_, err = r.Leave(room.ID, 2)
		assert.ErrorIs(t, err, rooms.ErrNotInRoom)
	})

	t.Run("dropped connection leaves its room test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)
		_, _, _, err = r.Call(room.ID, 1, 20)
		assert.NoError(t, err)
		_, err = r.Join(room.ID, 2, 20)
		assert.NoError(t, err)

		left, err := r.DropConnection(1, 10)
		assert.NoError(t, err)
		assert.NotNil(t, left)
		assert.Len(t, left.Room.Participants, 1)
		assert.Equal(t, uint64(20), left.Room.Participants[0].UserID)

		// A connection in no room is a no-op.
		left, err = r.DropConnection(9, 99)
		assert.NoError(t, err)
		assert.Nil(t, left)
	})
}

func TestRegistryCallLifecycle(t *testing.T) {
	t.Run("cancel call test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)
		_, _, _, err = r.Call(room.ID, 1, 20)
		assert.NoError(t, err)

		updated, recipients, err := r.CancelCall(room.ID, 20)
		assert.NoError(t, err)
		assert.Empty(t, updated.PendingUserIDs)
		assert.Equal(t, []store.ConnectionID{2}, recipients)
		assert.False(t, s.IsUserBusy(20))
	})

	t.Run("cancel an answered call fails test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)
		_, _, _, err = r.Call(room.ID, 1, 20)
		assert.NoError(t, err)
		_, err = r.Join(room.ID, 2, 20)
		assert.NoError(t, err)

		_, _, err = r.CancelCall(room.ID, 20)
		assert.ErrorIs(t, err, store.ErrNoActiveCall)
	})

	t.Run("decline call test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)
		_, _, _, err = r.Call(room.ID, 1, 20)
		assert.NoError(t, err)

		updated, ok, err := r.DeclineCall(room.ID, 2)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, updated.PendingUserIDs)
		assert.False(t, s.IsUserBusy(20))
	})
}

func TestRegistryProjects(t *testing.T) {
	t.Run("publish and view test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)
		_, _, _, err = r.Call(room.ID, 1, 20)
		assert.NoError(t, err)
		_, err = r.Join(room.ID, 2, 20)
		assert.NoError(t, err)

		updated, err := r.PublishProject(room.ID, 1, api.ParticipantProject{
			ID:        7,
			RootNames: []string{"syncroom"},
		})
		assert.NoError(t, err)
		assert.Len(t, updated.Participants[0].Projects, 1)

		updated, err = r.UpdateLocation(room.ID, 2, api.Location{
			Kind:      api.LocationKindSharedProject,
			ProjectID: 7,
		})
		assert.NoError(t, err)
		assert.Equal(t, uint64(7), updated.Participants[1].Location.ProjectID)
	})

	t.Run("location must reference a shared project test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)

		_, err = r.UpdateLocation(room.ID, 1, api.Location{
			Kind:      api.LocationKindSharedProject,
			ProjectID: 99,
		})
		assert.ErrorIs(t, err, rooms.ErrProjectNotFound)
	})

	t.Run("unpublish evicts viewers test", func(t *testing.T) {
		s, r := newFixture(t)
		s.AddConnection(1, 10, false)
		s.AddConnection(2, 20, false)

		room, err := r.Create(1, 10)
		assert.NoError(t, err)
		_, _, _, err = r.Call(room.ID, 1, 20)
		assert.NoError(t, err)
		_, err = r.Join(room.ID, 2, 20)
		assert.NoError(t, err)

		_, err = r.PublishProject(room.ID, 1, api.ParticipantProject{ID: 7})
		assert.NoError(t, err)
		_, err = r.UpdateLocation(room.ID, 2, api.Location{
			Kind:      api.LocationKindSharedProject,
			ProjectID: 7,
		})
		assert.NoError(t, err)

		updated, err := r.UnpublishProject(room.ID, 1, 7)
		assert.NoError(t, err)
		assert.Empty(t, updated.Participants[0].Projects)
		assert.Equal(t, api.LocationKindExternal, updated.Participants[1].Location.Kind)
	})
}
