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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/api/converter"
	"github.com/syncroom-team/syncroom/pkg/text"
)

func emptyBufferState() api.BufferState {
	return api.BufferState{
		BufferID:   1,
		ChannelID:  "general",
		LineEnding: api.LineEndingUnix,
		Version:    api.VersionVector{},
	}
}

// testClient builds a client against a fake server that answers every
// open request with the given reply and leaves operations
// unacknowledged.
func testClient(t *testing.T, openReplyType string, openReply interface{}) *Client {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.Close() }()
		for {
			var envelope api.Envelope
			if err := ws.ReadJSON(&envelope); err != nil {
				return
			}
			if envelope.Type != api.TypeOpenChannelBuffer {
				continue
			}
			reply, err := api.NewEnvelope(openReplyType, envelope.ID, openReply)
			if err != nil {
				return
			}
			if err := ws.WriteJSON(reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	c, err := dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "")
	require.NoError(t, err)
	t.Cleanup(c.close)

	return &Client{
		conn:         c,
		peerID:       1,
		buffers:      make(map[uint64]*ChannelBuffer),
		orphanPushes: make(map[uint64][]api.Envelope),
	}
}

func remoteOp(t *testing.T, buf *text.Buffer, from, to int, content string) api.Operation {
	t.Helper()
	op, err := buf.Edit(from, to, content)
	assert.NoError(t, err)
	return converter.FromOperation(op)
}

// unconfirmedEdit applies a local edit whose request the server never
// answers, leaving it on the unacked queue.
func unconfirmedEdit(t *testing.T, b *ChannelBuffer, from, to int, content string) {
	t.Helper()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, b.Edit(canceled, from, to, content))
}

func TestChannelBufferHandshake(t *testing.T) {
	t.Run("live operation waits for the last chunk test", func(t *testing.T) {
		b := newChannelBuffer(&Client{peerID: 1}, emptyBufferState())
		assert.Equal(t, BufferStatusHandshaking, b.Status())
		assert.ErrorIs(t, b.Edit(context.Background(), 0, 0, "x"), ErrBufferNotReady)

		remote := text.NewBuffer(2, "")
		history := remoteOp(t, remote, 0, 0, "hello")
		live := remoteOp(t, remote, 5, 5, " world")

		// The live operation races the replay; it must hold until the
		// history it depends on has been applied.
		b.handleOperation(api.BufferOperation{BufferID: 1, Op: live})
		assert.Equal(t, "", b.Text())

		b.handleChunk(api.BufferChunk{
			BufferID:   1,
			Operations: []api.Operation{history},
			IsLast:     true,
		})
		assert.Equal(t, "hello world", b.Text())
		assert.Equal(t, BufferStatusReady, b.Status())
		select {
		case <-b.Ready():
		default:
			t.Fatal("ready channel still open after the last chunk")
		}
	})

	t.Run("chunks apply as they land test", func(t *testing.T) {
		b := newChannelBuffer(&Client{peerID: 1}, emptyBufferState())

		remote := text.NewBuffer(2, "")
		first := remoteOp(t, remote, 0, 0, "ab")
		second := remoteOp(t, remote, 2, 2, "cd")

		b.handleChunk(api.BufferChunk{BufferID: 1, Operations: []api.Operation{first}})
		assert.Equal(t, "ab", b.Text())
		assert.Equal(t, BufferStatusHandshaking, b.Status())

		b.handleChunk(api.BufferChunk{
			BufferID:   1,
			Operations: []api.Operation{second},
			IsLast:     true,
		})
		assert.Equal(t, "abcd", b.Text())
		assert.Equal(t, BufferStatusReady, b.Status())
	})
}

func TestChannelBufferRejoin(t *testing.T) {
	t.Run("unacked edits survive a same-epoch resync test", func(t *testing.T) {
		state := emptyBufferState()
		cli := testClient(t, api.TypeBufferState, &state)
		b := newChannelBuffer(cli, emptyBufferState())
		cli.registerBuffer(b)
		b.handleChunk(api.BufferChunk{BufferID: 1, IsLast: true})

		unconfirmedEdit(t, b, 0, 0, "hello")
		assert.Equal(t, "hello", b.Text())

		require.NoError(t, b.Rejoin(context.Background()))
		assert.Equal(t, BufferStatusHandshaking, b.Status())
		assert.Equal(t, "", b.Text())

		b.handleChunk(api.BufferChunk{BufferID: 1, IsLast: true})
		assert.Equal(t, BufferStatusReady, b.Status())
		assert.Equal(t, "hello", b.Text())
	})

	t.Run("rejoin rejects a reply of the wrong type test", func(t *testing.T) {
		cli := testClient(t, api.TypeAck, &api.Ack{})
		b := newChannelBuffer(cli, emptyBufferState())
		cli.registerBuffer(b)
		b.handleChunk(api.BufferChunk{BufferID: 1, IsLast: true})

		unconfirmedEdit(t, b, 0, 0, "hello")

		err := b.Rejoin(context.Background())
		assert.ErrorIs(t, err, ErrUnexpectedResponse)
		// The replica and its unconfirmed edit are untouched.
		assert.Equal(t, "hello", b.Text())
	})

	t.Run("unacked edits drop on an epoch change test", func(t *testing.T) {
		rebased := emptyBufferState()
		rebased.Epoch = 1
		rebased.BaseText = "server"
		cli := testClient(t, api.TypeBufferState, &rebased)

		b := newChannelBuffer(cli, emptyBufferState())
		cli.registerBuffer(b)
		b.handleChunk(api.BufferChunk{BufferID: 1, IsLast: true})

		unconfirmedEdit(t, b, 0, 0, "hello")

		require.NoError(t, b.Rejoin(context.Background()))
		b.handleChunk(api.BufferChunk{BufferID: 1, IsLast: true})

		assert.Equal(t, uint64(1), b.Epoch())
		assert.Equal(t, BufferStatusReady, b.Status())
		assert.Equal(t, "server", b.Text())
	})
}
