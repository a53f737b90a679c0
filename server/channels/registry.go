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

// Package channels hosts the server replicas of channel buffers. Each
// buffer keeps a base text plus the operation history since the base was
// last advanced. The base only moves while the roster is empty, so live
// replicas never see the identity of existing nodes change underneath
// them.
package channels

import (
	"errors"
	"fmt"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/api/converter"
	"github.com/syncroom-team/syncroom/internal/log"
	"github.com/syncroom-team/syncroom/pkg/text"
	"github.com/syncroom-team/syncroom/pkg/text/time"
	"github.com/syncroom-team/syncroom/server/store"
)

var (
	// ErrBufferNotFound is returned when the given buffer does not exist.
	ErrBufferNotFound = errors.New("channel buffer not found")

	// ErrNotCollaborating is returned when a connection acts on a buffer
	// it has not opened.
	ErrNotCollaborating = errors.New("not collaborating on buffer")

	// ErrRegistryClosed is returned when the registry has been shut down.
	ErrRegistryClosed = errors.New("channel registry closed")

	// ErrVersionMismatch is returned when an operation claims an edit its
	// own sender version has not seen.
	ErrVersionMismatch = errors.New("operation ahead of sender version")
)

// DefaultChunkSize is how many history operations ride in one
// buffer_chunk push during the open handshake.
const DefaultChunkSize = 64

// OpenedBuffer is everything a joining connection needs to build its
// replica: the snapshot, the history chunks that follow it, and the
// collaborators to notify.
type OpenedBuffer struct {
	State       api.BufferState
	Chunks      []api.BufferChunk
	Joined      api.CollaboratorJoined
	NotifyConns []store.ConnectionID
}

// AppliedOperation is the fallout of a replication message: the
// operation to fan out and the live connections to fan it out to.
type AppliedOperation struct {
	Message     api.BufferOperation
	NotifyConns []store.ConnectionID
}

// ClosedBuffer describes a collaborator leaving a buffer.
type ClosedBuffer struct {
	Left        api.CollaboratorLeft
	NotifyConns []store.ConnectionID
}

type buffer struct {
	id         uint64
	channelID  string
	epoch      uint64
	lineEnding string

	baseText    string
	baseVersion time.VersionVector
	engine      *text.Buffer
	history     []api.Operation

	// collaborators in join order; the wire order clients display.
	collaborators []api.Collaborator
}

func (b *buffer) collaborator(connID store.ConnectionID) *api.Collaborator {
	for i := range b.collaborators {
		if b.collaborators[i].PeerID == uint32(connID) {
			return &b.collaborators[i]
		}
	}
	return nil
}

// bake folds the history into the base text. Only legal while the roster
// is empty: a new base means new node identities, which would desync any
// replica built on the old ones.
func (b *buffer) bake() {
	if len(b.history) == 0 {
		return
	}
	b.baseText, b.baseVersion = b.engine.Snapshot()
	b.engine = text.NewBuffer(time.InitialActorID, b.baseText)
	b.history = nil
	b.epoch++
}

type registryState struct {
	buffers      map[uint64]*buffer
	byChannel    map[string]uint64
	nextBufferID uint64
}

// Registry is the single owner of every channel buffer, funneled through
// one goroutine.
type Registry struct {
	chunkSize int
	ops       chan func(*registryState)
	quit      chan struct{}
}

// New creates a Registry and starts its owner goroutine. A chunkSize of
// zero uses DefaultChunkSize.
func New(chunkSize int) *Registry {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	r := &Registry{
		chunkSize: chunkSize,
		ops:       make(chan func(*registryState)),
		quit:      make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	st := &registryState{
		buffers:      make(map[uint64]*buffer),
		byChannel:    make(map[string]uint64),
		nextBufferID: 1,
	}
	for {
		select {
		case op := <-r.ops:
			op(st)
		case <-r.quit:
			return
		}
	}
}

// Close shuts down the owner goroutine.
func (r *Registry) Close() {
	close(r.quit)
}

func (r *Registry) do(op func(*registryState)) error {
	done := make(chan struct{})
	wrapped := func(st *registryState) {
		op(st)
		close(done)
	}

	select {
	case r.ops <- wrapped:
	case <-r.quit:
		return ErrRegistryClosed
	}

	select {
	case <-done:
		return nil
	case <-r.quit:
		return ErrRegistryClosed
	}
}

// Open joins a connection to the channel's buffer, creating the buffer
// on first open. The returned snapshot plus chunks fully describe the
// buffer; replaying the chunks on the snapshot rebuilds the replica.
func (r *Registry) Open(
	channelID string,
	connID store.ConnectionID,
	userID store.UserID,
) (*OpenedBuffer, error) {
	var opened *OpenedBuffer
	if doErr := r.do(func(st *registryState) {
		bufferID, ok := st.byChannel[channelID]
		if !ok {
			bufferID = st.nextBufferID
			st.nextBufferID++
			st.byChannel[channelID] = bufferID
			st.buffers[bufferID] = &buffer{
				id:          bufferID,
				channelID:   channelID,
				lineEnding:  api.LineEndingUnix,
				baseVersion: time.NewVersionVector(),
				engine:      text.NewBuffer(time.InitialActorID, ""),
			}
		}
		buf := st.buffers[bufferID]

		// A fresh roster is the only safe moment to advance the base.
		if len(buf.collaborators) == 0 {
			buf.bake()
		}

		joined := api.Collaborator{PeerID: uint32(connID), UserID: uint64(userID)}
		var notify []store.ConnectionID
		rejoining := buf.collaborator(connID) != nil
		for _, c := range buf.collaborators {
			if c.PeerID != uint32(connID) {
				notify = append(notify, store.ConnectionID(c.PeerID))
			}
		}
		if rejoining {
			// A resync on a live connection keeps the roster spot.
			notify = nil
		} else {
			buf.collaborators = append(buf.collaborators, joined)
		}

		state := api.BufferState{
			BufferID:      bufferID,
			ChannelID:     channelID,
			Epoch:         buf.epoch,
			BaseText:      buf.baseText,
			Version:       converter.FromVersionVector(buf.baseVersion),
			LineEnding:    buf.lineEnding,
			Collaborators: append([]api.Collaborator(nil), buf.collaborators...),
		}

		var chunks []api.BufferChunk
		for start := 0; start < len(buf.history); start += r.chunkSize {
			end := start + r.chunkSize
			if end > len(buf.history) {
				end = len(buf.history)
			}
			chunks = append(chunks, api.BufferChunk{
				BufferID:   bufferID,
				Operations: append([]api.Operation(nil), buf.history[start:end]...),
			})
		}
		if len(chunks) == 0 {
			chunks = append(chunks, api.BufferChunk{BufferID: bufferID})
		}
		chunks[len(chunks)-1].IsLast = true

		opened = &OpenedBuffer{
			State:  state,
			Chunks: chunks,
			Joined: api.CollaboratorJoined{
				BufferID:     bufferID,
				Collaborator: joined,
			},
			NotifyConns: notify,
		}
	}); doErr != nil {
		return nil, doErr
	}
	return opened, nil
}

// ApplyOperation applies a collaborator's operation to the server replica
// and returns the fanout. Operations the replica has already seen are
// dropped without error; malformed operations are dropped with one.
func (r *Registry) ApplyOperation(
	connID store.ConnectionID,
	msg api.BufferOperation,
) (*AppliedOperation, error) {
	op, convErr := converter.ToOperation(msg.Op)
	if convErr != nil {
		log.Logger.Warnf(
			"dropping malformed operation on buffer %d from connection %d: %v",
			msg.BufferID, connID, convErr)
		return nil, convErr
	}

	// The sender's own vector must cover the edit it claims to have made.
	if len(msg.SenderVersion) > 0 {
		sent := converter.ToVersionVector(msg.SenderVersion)
		if sent.VersionOf(op.ActorID()) < op.EditedAt.Lamport() {
			log.Logger.Warnf(
				"dropping operation ahead of its sender version on buffer %d from connection %d",
				msg.BufferID, connID)
			return nil, fmt.Errorf(
				"operation %s on buffer %d: %w",
				op.EditedAt.Key(), msg.BufferID, ErrVersionMismatch)
		}
	}

	var applied *AppliedOperation
	var err error
	if doErr := r.do(func(st *registryState) {
		buf, ok := st.buffers[msg.BufferID]
		if !ok {
			err = fmt.Errorf("buffer %d: %w", msg.BufferID, ErrBufferNotFound)
			return
		}
		if buf.collaborator(connID) == nil {
			err = fmt.Errorf(
				"connection %d, buffer %d: %w", connID, msg.BufferID, ErrNotCollaborating)
			return
		}

		seen := buf.engine.Version().VersionOf(op.ActorID())
		if applyErr := buf.engine.ApplyOperation(op); applyErr != nil {
			log.Logger.Warnf(
				"dropping inapplicable operation on buffer %d from connection %d: %v",
				msg.BufferID, connID, applyErr)
			err = applyErr
			return
		}
		if buf.engine.Version().VersionOf(op.ActorID()) == seen {
			// Duplicate delivery; already merged, nothing to fan out.
			applied = &AppliedOperation{Message: msg}
			return
		}
		buf.history = append(buf.history, msg.Op)

		var notify []store.ConnectionID
		for _, c := range buf.collaborators {
			if c.PeerID != uint32(connID) {
				notify = append(notify, store.ConnectionID(c.PeerID))
			}
		}
		applied = &AppliedOperation{Message: msg, NotifyConns: notify}
	}); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// CloseBuffer removes a collaborator from a buffer. The content they
// contributed stays merged.
func (r *Registry) CloseBuffer(
	bufferID uint64,
	connID store.ConnectionID,
) (*ClosedBuffer, error) {
	var closed *ClosedBuffer
	var err error
	if doErr := r.do(func(st *registryState) {
		buf, ok := st.buffers[bufferID]
		if !ok {
			err = fmt.Errorf("buffer %d: %w", bufferID, ErrBufferNotFound)
			return
		}
		if buf.collaborator(connID) == nil {
			err = fmt.Errorf(
				"connection %d, buffer %d: %w", connID, bufferID, ErrNotCollaborating)
			return
		}

		closed = r.removeCollaborator(buf, connID)
	}); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// DropConnection removes a vanished connection from every buffer it was
// collaborating on, which covers connections that die mid-handshake.
func (r *Registry) DropConnection(connID store.ConnectionID) []*ClosedBuffer {
	var closed []*ClosedBuffer
	_ = r.do(func(st *registryState) {
		for _, buf := range st.buffers {
			if buf.collaborator(connID) == nil {
				continue
			}
			closed = append(closed, r.removeCollaborator(buf, connID))
		}
	})
	return closed
}

func (r *Registry) removeCollaborator(
	buf *buffer,
	connID store.ConnectionID,
) *ClosedBuffer {
	collaborators := buf.collaborators[:0]
	for _, c := range buf.collaborators {
		if c.PeerID != uint32(connID) {
			collaborators = append(collaborators, c)
		}
	}
	buf.collaborators = collaborators

	closed := &ClosedBuffer{
		Left: api.CollaboratorLeft{BufferID: buf.id, PeerID: uint32(connID)},
	}
	for _, c := range buf.collaborators {
		closed.NotifyConns = append(closed.NotifyConns, store.ConnectionID(c.PeerID))
	}
	return closed
}

// BufferCount returns the number of live buffers.
func (r *Registry) BufferCount() int {
	var count int
	_ = r.do(func(st *registryState) {
		count = len(st.buffers)
	})
	return count
}

// Text returns the current visible text of a buffer.
func (r *Registry) Text(bufferID uint64) (string, error) {
	var content string
	var err error
	if doErr := r.do(func(st *registryState) {
		buf, ok := st.buffers[bufferID]
		if !ok {
			err = fmt.Errorf("buffer %d: %w", bufferID, ErrBufferNotFound)
			return
		}
		content = buf.engine.String()
	}); doErr != nil {
		return "", doErr
	}
	return content, err
}
