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

// Package converter converts between wire payloads and engine types.
// Decoding fails closed: a payload that does not validate is rejected
// whole, never partially applied.
package converter

import (
	"errors"
	"fmt"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/pkg/text"
	"github.com/syncroom-team/syncroom/pkg/text/time"
)

var (
	// ErrMalformedOperation is returned when a wire operation cannot be
	// turned into an engine operation.
	ErrMalformedOperation = errors.New("malformed operation")

	// ErrMalformedSnapshot is returned when a room snapshot does not
	// validate.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
)

// ToTicket converts a wire ticket to an engine ticket.
func ToTicket(t api.Ticket) *time.Ticket {
	return time.NewTicket(t.Lamport, time.ActorID(t.Actor))
}

// FromTicket converts an engine ticket to a wire ticket.
func FromTicket(t *time.Ticket) api.Ticket {
	return api.Ticket{Lamport: t.Lamport(), Actor: uint32(t.ActorID())}
}

// ToPos converts a wire position to an engine position.
func ToPos(p api.Pos) text.Pos {
	return text.NewPos(text.NewNodeID(ToTicket(p.CreatedAt), p.Offset), p.RelativeOffset)
}

// FromPos converts an engine position to a wire position.
func FromPos(p text.Pos) api.Pos {
	return api.Pos{
		CreatedAt:      FromTicket(p.ID().CreatedAt()),
		Offset:         p.ID().Offset(),
		RelativeOffset: p.RelativeOffset(),
	}
}

// ToOperation converts a wire operation to an engine operation.
func ToOperation(op api.Operation) (*text.Operation, error) {
	if op.EditedAt.Lamport <= 0 {
		return nil, fmt.Errorf("lamport %d: %w", op.EditedAt.Lamport, ErrMalformedOperation)
	}
	if op.EditedAt.Actor == uint32(time.InitialActorID) {
		return nil, fmt.Errorf("reserved actor %d: %w", op.EditedAt.Actor, ErrMalformedOperation)
	}
	if op.From.Offset < 0 || op.To.Offset < 0 ||
		op.From.RelativeOffset < 0 || op.To.RelativeOffset < 0 {
		return nil, fmt.Errorf("negative offset: %w", ErrMalformedOperation)
	}

	var maxCreatedAt map[time.ActorID]int64
	if len(op.MaxCreatedAt) > 0 {
		maxCreatedAt = make(map[time.ActorID]int64, len(op.MaxCreatedAt))
		for actor, lamport := range op.MaxCreatedAt {
			maxCreatedAt[time.ActorID(actor)] = lamport
		}
	} else {
		maxCreatedAt = make(map[time.ActorID]int64)
	}

	return &text.Operation{
		From:                   ToPos(op.From),
		To:                     ToPos(op.To),
		Content:                op.Content,
		EditedAt:               ToTicket(op.EditedAt),
		MaxCreatedAtMapByActor: maxCreatedAt,
	}, nil
}

// FromOperation converts an engine operation to a wire operation.
func FromOperation(op *text.Operation) api.Operation {
	var maxCreatedAt map[uint32]int64
	if len(op.MaxCreatedAtMapByActor) > 0 {
		maxCreatedAt = make(map[uint32]int64, len(op.MaxCreatedAtMapByActor))
		for actor, lamport := range op.MaxCreatedAtMapByActor {
			maxCreatedAt[uint32(actor)] = lamport
		}
	}

	return api.Operation{
		From:         FromPos(op.From),
		To:           FromPos(op.To),
		Content:      op.Content,
		EditedAt:     FromTicket(op.EditedAt),
		MaxCreatedAt: maxCreatedAt,
	}
}

// ToVersionVector converts a wire version vector to an engine one.
func ToVersionVector(v api.VersionVector) time.VersionVector {
	vector := time.NewVersionVector()
	for actor, lamport := range v {
		vector.Set(time.ActorID(actor), lamport)
	}
	return vector
}

// FromVersionVector converts an engine version vector to the wire form.
func FromVersionVector(v time.VersionVector) api.VersionVector {
	wire := make(api.VersionVector, len(v))
	for actor, lamport := range v {
		wire[uint32(actor)] = lamport
	}
	return wire
}

// ValidateRoom checks that a room snapshot is complete enough to replace
// the local roster. On any defect the whole snapshot is rejected.
func ValidateRoom(room *api.Room) error {
	if room == nil {
		return fmt.Errorf("missing room: %w", ErrMalformedSnapshot)
	}

	for _, participant := range room.Participants {
		if participant.PeerID == 0 {
			return fmt.Errorf("participant %d without peer: %w",
				participant.UserID, ErrMalformedSnapshot)
		}
		switch participant.Location.Kind {
		case api.LocationKindExternal:
		case api.LocationKindSharedProject:
			if participant.Location.ProjectID == 0 {
				return fmt.Errorf("participant %d in unnamed project: %w",
					participant.UserID, ErrMalformedSnapshot)
			}
		default:
			return fmt.Errorf("location kind %q: %w",
				participant.Location.Kind, ErrMalformedSnapshot)
		}
	}
	return nil
}
