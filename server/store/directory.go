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

package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-memdb"
)

// Contact kinds as seen from a given user.
const (
	ContactAccepted = "accepted"
	ContactOutgoing = "outgoing"
	ContactIncoming = "incoming"
)

// ErrUserNotFound is returned when the given user is not in the
// directory.
var ErrUserNotFound = errors.New("user not found")

// User is a directory entry for a known user.
type User struct {
	ID   uint64
	Name string
}

// Contact is a contact edge as seen from one user: who the other side is
// and what state the relationship is in.
type Contact struct {
	ID           string
	UserID       UserID
	OwnerID      UserID
	Kind         string
	ShouldNotify bool
}

const (
	tblUsers    = "users"
	tblContacts = "contacts"
)

var directorySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblUsers: {
			Name: tblUsers,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.UintFieldIndex{Field: "ID"},
				},
				"name": {
					Name:    "name",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Name"},
				},
			},
		},
		tblContacts: {
			Name: tblContacts,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"owner": {
					Name:    "owner",
					Indexer: &memdb.UintFieldIndex{Field: "OwnerID"},
				},
			},
		},
	},
}

// Directory is the in-memory user and contact directory the server
// projects contact updates from.
type Directory struct {
	db *memdb.MemDB
}

// NewDirectory creates an empty directory.
func NewDirectory() (*Directory, error) {
	db, err := memdb.NewMemDB(directorySchema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &Directory{db: db}, nil
}

// UpsertUser inserts or replaces a user entry.
func (d *Directory) UpsertUser(user *User) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(tblUsers, user); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	txn.Commit()
	return nil
}

// FindUser returns the user with the given ID.
func (d *Directory) FindUser(id UserID) (*User, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblUsers, "id", uint64(id))
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("user %d: %w", id, ErrUserNotFound)
	}
	return raw.(*User), nil
}

// AddContact records a contact edge owned by the given user. The kind is
// the relationship as the owner sees it.
func (d *Directory) AddContact(ownerID, userID UserID, kind string, shouldNotify bool) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	contact := &Contact{
		ID: strconv.FormatUint(uint64(ownerID), 10) + ":" +
			strconv.FormatUint(uint64(userID), 10),
		OwnerID:      ownerID,
		UserID:       userID,
		Kind:         kind,
		ShouldNotify: shouldNotify,
	}
	if err := txn.Insert(tblContacts, contact); err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	txn.Commit()
	return nil
}

// ContactsFor returns the contact rows of the given user, the input of
// BuildInitialContactsUpdate.
func (d *Directory) ContactsFor(ownerID UserID) ([]Contact, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblContacts, "owner", uint64(ownerID))
	if err != nil {
		return nil, fmt.Errorf("find contacts: %w", err)
	}

	var contacts []Contact
	for raw := it.Next(); raw != nil; raw = it.Next() {
		contacts = append(contacts, *raw.(*Contact))
	}
	return contacts, nil
}

// ContactOwners returns the users that have the given user as an accepted
// contact, used to fan presence changes out.
func (d *Directory) ContactOwners(userID UserID) ([]UserID, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblContacts, "id")
	if err != nil {
		return nil, fmt.Errorf("scan contacts: %w", err)
	}

	var owners []UserID
	for raw := it.Next(); raw != nil; raw = it.Next() {
		contact := raw.(*Contact)
		if contact.UserID == userID && contact.Kind == ContactAccepted {
			owners = append(owners, contact.OwnerID)
		}
	}
	return owners, nil
}
