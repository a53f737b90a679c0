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

func TestDirectory(t *testing.T) {
	t.Run("upsert and find user test", func(t *testing.T) {
		d, err := store.NewDirectory()
		assert.NoError(t, err)

		assert.NoError(t, d.UpsertUser(&store.User{ID: 1, Name: "ada"}))

		user, err := d.FindUser(1)
		assert.NoError(t, err)
		assert.Equal(t, "ada", user.Name)

		assert.NoError(t, d.UpsertUser(&store.User{ID: 1, Name: "ada-l"}))
		user, err = d.FindUser(1)
		assert.NoError(t, err)
		assert.Equal(t, "ada-l", user.Name)

		_, err = d.FindUser(2)
		assert.ErrorIs(t, err, store.ErrUserNotFound)
	})

	t.Run("contacts for owner test", func(t *testing.T) {
		d, err := store.NewDirectory()
		assert.NoError(t, err)

		assert.NoError(t, d.AddContact(1, 2, store.ContactAccepted, false))
		assert.NoError(t, d.AddContact(1, 3, store.ContactOutgoing, false))
		assert.NoError(t, d.AddContact(2, 1, store.ContactAccepted, true))

		contacts, err := d.ContactsFor(1)
		assert.NoError(t, err)
		assert.Len(t, contacts, 2)

		contacts, err = d.ContactsFor(2)
		assert.NoError(t, err)
		assert.Len(t, contacts, 1)
		assert.Equal(t, store.UserID(1), contacts[0].UserID)
		assert.True(t, contacts[0].ShouldNotify)
	})

	t.Run("contact owners test", func(t *testing.T) {
		d, err := store.NewDirectory()
		assert.NoError(t, err)

		assert.NoError(t, d.AddContact(1, 5, store.ContactAccepted, false))
		assert.NoError(t, d.AddContact(2, 5, store.ContactAccepted, false))
		// An outgoing request does not subscribe to presence.
		assert.NoError(t, d.AddContact(3, 5, store.ContactOutgoing, false))

		owners, err := d.ContactOwners(5)
		assert.NoError(t, err)
		assert.ElementsMatch(t, []store.UserID{1, 2}, owners)
	})
}
