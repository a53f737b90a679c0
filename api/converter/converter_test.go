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

package converter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/api/converter"
	"github.com/syncroom-team/syncroom/pkg/text"
	"github.com/syncroom-team/syncroom/pkg/text/time"
)

func TestOperationConversion(t *testing.T) {
	t.Run("local edit round trip test", func(t *testing.T) {
		buf := text.NewBuffer(1, "hello")
		op, err := buf.Edit(5, 5, " world")
		assert.NoError(t, err)

		wire := converter.FromOperation(op)
		decoded, err := converter.ToOperation(wire)
		assert.NoError(t, err)

		other := text.NewBuffer(2, "hello")
		assert.NoError(t, other.ApplyOperation(decoded))
		assert.Equal(t, "hello world", other.String())
	})

	t.Run("rejects non positive lamport test", func(t *testing.T) {
		wire := api.Operation{EditedAt: api.Ticket{Lamport: 0, Actor: 1}}
		_, err := converter.ToOperation(wire)
		assert.ErrorIs(t, err, converter.ErrMalformedOperation)
	})

	t.Run("rejects reserved actor test", func(t *testing.T) {
		wire := api.Operation{
			EditedAt: api.Ticket{Lamport: 1, Actor: uint32(time.InitialActorID)},
		}
		_, err := converter.ToOperation(wire)
		assert.ErrorIs(t, err, converter.ErrMalformedOperation)
	})

	t.Run("rejects negative offsets test", func(t *testing.T) {
		wire := api.Operation{
			EditedAt: api.Ticket{Lamport: 1, Actor: 1},
			From:     api.Pos{Offset: -1},
		}
		_, err := converter.ToOperation(wire)
		assert.ErrorIs(t, err, converter.ErrMalformedOperation)
	})
}

func TestVersionVectorConversion(t *testing.T) {
	vector := time.NewVersionVector()
	vector.Set(1, 3)
	vector.Set(2, 7)

	wire := converter.FromVersionVector(vector)
	assert.Equal(t, api.VersionVector{1: 3, 2: 7}, wire)

	decoded := converter.ToVersionVector(wire)
	assert.Equal(t, int64(3), decoded.VersionOf(1))
	assert.Equal(t, int64(7), decoded.VersionOf(2))
	assert.Equal(t, int64(0), decoded.VersionOf(9))
}

func TestValidateRoom(t *testing.T) {
	valid := &api.Room{
		ID: 1,
		Participants: []api.Participant{
			{
				UserID:   10,
				PeerID:   1,
				Location: api.Location{Kind: api.LocationKindExternal},
			},
			{
				UserID:   20,
				PeerID:   2,
				Location: api.Location{
					Kind:      api.LocationKindSharedProject,
					ProjectID: 7,
				},
			},
		},
	}
	assert.NoError(t, converter.ValidateRoom(valid))

	assert.ErrorIs(t, converter.ValidateRoom(nil), converter.ErrMalformedSnapshot)

	missingPeer := &api.Room{
		Participants: []api.Participant{{UserID: 10}},
	}
	assert.ErrorIs(t, converter.ValidateRoom(missingPeer), converter.ErrMalformedSnapshot)

	badKind := &api.Room{
		Participants: []api.Participant{{
			UserID:   10,
			PeerID:   1,
			Location: api.Location{Kind: "somewhere"},
		}},
	}
	assert.ErrorIs(t, converter.ValidateRoom(badKind), converter.ErrMalformedSnapshot)

	unnamedProject := &api.Room{
		Participants: []api.Participant{{
			UserID:   10,
			PeerID:   1,
			Location: api.Location{Kind: api.LocationKindSharedProject},
		}},
	}
	assert.ErrorIs(t, converter.ValidateRoom(unnamedProject), converter.ErrMalformedSnapshot)
}
