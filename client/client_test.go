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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/api/converter"
	"github.com/syncroom-team/syncroom/pkg/text"
)

func operationPush(t *testing.T, bufferID uint64, op api.Operation) api.Envelope {
	t.Helper()
	envelope, err := api.NewEnvelope(api.TypeBufferOperation, 0, &api.BufferOperation{
		BufferID: bufferID,
		Op:       op,
	})
	assert.NoError(t, err)
	return envelope
}

func TestRouteBufferPush(t *testing.T) {
	t.Run("orphan pushes drain into the registering buffer test", func(t *testing.T) {
		cli := &Client{
			peerID:       1,
			buffers:      make(map[uint64]*ChannelBuffer),
			orphanPushes: make(map[uint64][]api.Envelope),
		}

		remote := text.NewBuffer(2, "")
		op, err := remote.Edit(0, 0, "hi")
		assert.NoError(t, err)
		cli.routeBufferPush(operationPush(t, 1, converter.FromOperation(op)))
		assert.Len(t, cli.orphanPushes[1], 1)

		b := newChannelBuffer(cli, emptyBufferState())
		cli.registerBuffer(b)
		assert.Empty(t, cli.orphanPushes[1])

		b.handleChunk(api.BufferChunk{BufferID: 1, IsLast: true})
		assert.Equal(t, "hi", b.Text())
	})

	t.Run("orphan queue is bounded per buffer test", func(t *testing.T) {
		cli := &Client{
			peerID:       1,
			buffers:      make(map[uint64]*ChannelBuffer),
			orphanPushes: make(map[uint64][]api.Envelope),
		}

		remote := text.NewBuffer(2, "")
		for i := 0; i < maxOrphanPushes+5; i++ {
			op, err := remote.Edit(i, i, "x")
			assert.NoError(t, err)
			cli.routeBufferPush(operationPush(t, 7, converter.FromOperation(op)))
		}
		assert.Len(t, cli.orphanPushes[7], maxOrphanPushes)
	})
}
