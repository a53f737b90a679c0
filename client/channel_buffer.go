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
	"errors"
	"fmt"
	"sync"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/api/converter"
	"github.com/syncroom-team/syncroom/internal/log"
	"github.com/syncroom-team/syncroom/pkg/text"
	"github.com/syncroom-team/syncroom/pkg/text/time"
)

// BufferStatus is the lifecycle state of a ChannelBuffer.
type BufferStatus int

const (
	// BufferStatusHandshaking means the history replay has not finished;
	// the buffer is readable but not yet editable.
	BufferStatusHandshaking BufferStatus = iota
	// BufferStatusReady means the replica is caught up and editable.
	BufferStatusReady
	// BufferStatusClosed means the buffer was closed.
	BufferStatusClosed
)

var (
	// ErrBufferNotReady is returned when editing before the join
	// handshake finishes.
	ErrBufferNotReady = errors.New("buffer handshake not finished")

	// ErrBufferClosed is returned by operations on a closed buffer.
	ErrBufferClosed = errors.New("buffer is closed")
)

// ChannelBuffer is the client replica of a channel's shared text. Local
// edits apply immediately and are broadcast; remote operations arrive as
// pushes and merge in.
type ChannelBuffer struct {
	client    *Client
	bufferID  uint64
	channelID string

	mu            sync.Mutex
	status        BufferStatus
	epoch         uint64
	lineEnding    string
	engine        *text.Buffer
	collaborators []api.Collaborator

	// pendingRemote holds live operations that raced the history replay.
	pendingRemote []api.Operation
	// unacked holds local operations the server has not confirmed yet;
	// they survive a resync on the same epoch.
	unacked []*text.Operation

	ready chan struct{}
}

func newChannelBuffer(client *Client, state api.BufferState) *ChannelBuffer {
	b := &ChannelBuffer{
		client:    client,
		bufferID:  state.BufferID,
		channelID: state.ChannelID,
		ready:     make(chan struct{}),
	}
	b.reset(state)
	return b
}

// reset rebuilds the replica from a snapshot. Caller holds no locks.
func (b *ChannelBuffer) reset(state api.BufferState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status = BufferStatusHandshaking
	b.epoch = state.Epoch
	b.lineEnding = state.LineEnding
	b.engine = text.NewBufferAt(
		time.ActorID(b.client.peerID),
		state.BaseText,
		converter.ToVersionVector(state.Version),
	)
	b.collaborators = append([]api.Collaborator(nil), state.Collaborators...)
	b.pendingRemote = nil
}

// ID returns the buffer ID.
func (b *ChannelBuffer) ID() uint64 {
	return b.bufferID
}

// ChannelID returns the channel this buffer belongs to.
func (b *ChannelBuffer) ChannelID() string {
	return b.channelID
}

// Status returns the lifecycle state of this buffer.
func (b *ChannelBuffer) Status() BufferStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Epoch returns the base epoch this replica was built from.
func (b *ChannelBuffer) Epoch() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch
}

// Ready is closed once the join handshake finishes.
func (b *ChannelBuffer) Ready() <-chan struct{} {
	return b.ready
}

// Text returns the current visible content of the replica.
func (b *ChannelBuffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.String()
}

// Collaborators returns the current roster in join order.
func (b *ChannelBuffer) Collaborators() []api.Collaborator {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.Collaborator(nil), b.collaborators...)
}

// Edit replaces the visible range [from, to) with the given content. The
// edit applies locally before the request goes out; the returned error
// reports whether the server confirmed the broadcast.
func (b *ChannelBuffer) Edit(ctx context.Context, from, to int, content string) error {
	b.mu.Lock()
	if b.status == BufferStatusClosed {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	if b.status != BufferStatusReady {
		b.mu.Unlock()
		return ErrBufferNotReady
	}

	op, err := b.engine.Edit(from, to, content)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.unacked = append(b.unacked, op)
	b.mu.Unlock()

	return b.send(ctx, op)
}

// Undo reverts the most recent local edit.
func (b *ChannelBuffer) Undo(ctx context.Context) error {
	b.mu.Lock()
	if b.status != BufferStatusReady {
		b.mu.Unlock()
		return ErrBufferNotReady
	}

	op, err := b.engine.Undo()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.unacked = append(b.unacked, op)
	b.mu.Unlock()

	return b.send(ctx, op)
}

func (b *ChannelBuffer) send(ctx context.Context, op *text.Operation) error {
	b.mu.Lock()
	version := converter.FromVersionVector(b.engine.Version())
	b.mu.Unlock()

	_, err := b.client.conn.request(ctx, api.TypeBufferOperation, &api.BufferOperation{
		BufferID:      b.bufferID,
		Op:            converter.FromOperation(op),
		SenderVersion: version,
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	for i, pending := range b.unacked {
		if pending == op {
			b.unacked = append(b.unacked[:i], b.unacked[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	return nil
}

// Close leaves the buffer's collaborator roster.
func (b *ChannelBuffer) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.status == BufferStatusClosed {
		b.mu.Unlock()
		return nil
	}
	b.status = BufferStatusClosed
	b.mu.Unlock()

	b.client.unregisterBuffer(b.bufferID)
	_, err := b.client.conn.request(ctx, api.TypeCloseChannelBuffer, &api.CloseChannelBufferRequest{
		BufferID: b.bufferID,
	})
	return err
}

// Rejoin redoes the full join handshake, discarding the local replica in
// favor of the server's snapshot. Unconfirmed local edits are replayed on
// top if the base epoch is unchanged; a new epoch means the old node
// identities are gone and the edits with them.
func (b *ChannelBuffer) Rejoin(ctx context.Context) error {
	b.mu.Lock()
	if b.status == BufferStatusClosed {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	b.status = BufferStatusHandshaking
	b.mu.Unlock()

	// Unregister while resyncing so incoming pushes queue up at the
	// client instead of landing on the replica being replaced.
	b.client.unregisterBuffer(b.bufferID)

	reply, err := b.client.conn.request(ctx, api.TypeOpenChannelBuffer, &api.OpenChannelBufferRequest{
		ChannelID: b.channelID,
	})
	if err != nil {
		return err
	}
	if reply.Type != api.TypeBufferState {
		return fmt.Errorf("%s: %w", reply.Type, ErrUnexpectedResponse)
	}

	var state api.BufferState
	if err := reply.Decode(&state); err != nil {
		return err
	}

	b.mu.Lock()
	if state.Epoch != b.epoch {
		b.unacked = nil
	}
	b.mu.Unlock()

	b.reset(state)
	b.client.registerBuffer(b)
	return nil
}

// handlePush applies a buffer-scoped push from the server.
func (b *ChannelBuffer) handlePush(envelope api.Envelope) {
	switch envelope.Type {
	case api.TypeBufferChunk:
		var chunk api.BufferChunk
		if err := envelope.Decode(&chunk); err != nil {
			log.Logger.Warnf("decode buffer chunk: %v", err)
			return
		}
		b.handleChunk(chunk)

	case api.TypeBufferOperation:
		var msg api.BufferOperation
		if err := envelope.Decode(&msg); err != nil {
			log.Logger.Warnf("decode buffer operation: %v", err)
			return
		}
		b.handleOperation(msg)

	case api.TypeCollaboratorJoined:
		var joined api.CollaboratorJoined
		if err := envelope.Decode(&joined); err != nil {
			log.Logger.Warnf("decode collaborator joined: %v", err)
			return
		}
		b.mu.Lock()
		b.collaborators = append(b.collaborators, joined.Collaborator)
		b.mu.Unlock()

	case api.TypeCollaboratorLeft:
		var left api.CollaboratorLeft
		if err := envelope.Decode(&left); err != nil {
			log.Logger.Warnf("decode collaborator left: %v", err)
			return
		}
		b.mu.Lock()
		collaborators := b.collaborators[:0]
		for _, c := range b.collaborators {
			if c.PeerID != left.PeerID {
				collaborators = append(collaborators, c)
			}
		}
		b.collaborators = collaborators
		b.mu.Unlock()
	}
}

// handleChunk replays a page of history. Chunks arrive in order and form
// a prefix of the operation log, so each can apply as it lands.
func (b *ChannelBuffer) handleChunk(chunk api.BufferChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == BufferStatusClosed {
		return
	}

	for i := range chunk.Operations {
		b.apply(&chunk.Operations[i])
	}

	if chunk.IsLast {
		// Live operations that raced the replay depend only on history
		// or on earlier arrivals, so arrival order is safe now.
		for i := range b.pendingRemote {
			b.apply(&b.pendingRemote[i])
		}
		b.pendingRemote = nil

		unacked := b.unacked
		b.status = BufferStatusReady
		select {
		case <-b.ready:
		default:
			close(b.ready)
		}

		// Unconfirmed local edits survived a resync; put them back on
		// the replica and the wire.
		for _, op := range unacked {
			if err := b.engine.ApplyOperation(op); err != nil {
				log.Logger.Warnf("reapply local operation: %v", err)
			}
		}
		if len(unacked) > 0 {
			go b.resend(unacked)
		}
	}
}

func (b *ChannelBuffer) resend(ops []*text.Operation) {
	for _, op := range ops {
		if err := b.send(context.Background(), op); err != nil {
			log.Logger.Warnf("resend operation: %v", err)
			return
		}
	}
}

func (b *ChannelBuffer) handleOperation(msg api.BufferOperation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.status {
	case BufferStatusClosed:
	case BufferStatusHandshaking:
		b.pendingRemote = append(b.pendingRemote, msg.Op)
	default:
		b.apply(&msg.Op)
	}
}

// apply merges one wire operation into the engine. Caller holds b.mu.
func (b *ChannelBuffer) apply(wire *api.Operation) {
	op, err := converter.ToOperation(*wire)
	if err != nil {
		log.Logger.Warnf("dropping malformed operation on buffer %d: %v", b.bufferID, err)
		return
	}
	if err := b.engine.ApplyOperation(op); err != nil {
		log.Logger.Warnf("apply operation on buffer %d: %v", b.bufferID, err)
	}
}
