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

// Package text provides the replicated text engine used by channel
// buffers. Replicas that apply the same set of operations, each in an
// order consistent with per-sender delivery, converge to the same text.
package text

import (
	"fmt"

	"github.com/syncroom-team/syncroom/pkg/text/time"
)

// baseLamport is the lamport of the ticket that carries the base text.
// Every replica that bootstraps from the same base snapshot rebuilds the
// identical node, so positions exchanged afterwards resolve everywhere.
const baseLamport = 1

// undoRecord remembers an edit by its stable positions: the boundary the
// edit happened at and the ticket of the run it inserted. Concurrent
// edits shift visible indices but never these.
type undoRecord struct {
	from        Pos
	editedAt    *time.Ticket
	insertedLen int
	deleted     string
}

// Buffer is a single writer's replica of a shared text. All mutation goes
// through its owner; the type has no internal locking.
type Buffer struct {
	list    *SplitList
	actor   time.ActorID
	lamport int64
	vector  time.VersionVector

	undos []undoRecord
}

// NewBuffer creates a replica for the given actor, bootstrapped from the
// given base text.
func NewBuffer(actor time.ActorID, baseText string) *Buffer {
	buf := &Buffer{
		list:    NewSplitList(),
		actor:   actor,
		lamport: baseLamport,
		vector:  time.NewVersionVector(),
	}

	if baseText != "" {
		base := time.NewTicket(baseLamport, time.InitialActorID)
		buf.list.insertAfter(buf.list.head, newNode(NewNodeID(base, 0), baseText))
		buf.vector.Set(time.InitialActorID, baseLamport)
	}
	return buf
}

// NewBufferAt creates a replica bootstrapped from a base snapshot taken
// at the given version. Operations already folded into the snapshot are
// recognized as seen and will not apply twice.
func NewBufferAt(actor time.ActorID, baseText string, version time.VersionVector) *Buffer {
	buf := NewBuffer(actor, baseText)
	for versionActor, lamport := range version {
		if lamport > buf.vector.VersionOf(versionActor) {
			buf.vector.Set(versionActor, lamport)
		}
		if lamport > buf.lamport {
			buf.lamport = lamport
		}
	}
	return buf
}

// Actor returns the actor of this replica.
func (b *Buffer) Actor() time.ActorID {
	return b.actor
}

// String returns the visible content of this replica.
func (b *Buffer) String() string {
	return b.list.String()
}

// Len returns the length of the visible content in bytes.
func (b *Buffer) Len() int {
	return b.list.Len()
}

// Version returns a copy of the version vector of this replica.
func (b *Buffer) Version() time.VersionVector {
	return b.vector.DeepCopy()
}

// Snapshot returns the visible content together with the version vector
// it corresponds to.
func (b *Buffer) Snapshot() (string, time.VersionVector) {
	return b.list.String(), b.vector.DeepCopy()
}

// Edit replaces the visible range [from, to) with the given content,
// applies it locally and returns the operation to broadcast. Local
// application never waits on the network.
func (b *Buffer) Edit(from, to int, content string) (*Operation, error) {
	visible := b.list.String()
	if from < 0 || to < from || to > len(visible) {
		return nil, fmt.Errorf("range [%d, %d): %w", from, to, ErrIndexOutOfRange)
	}

	op, err := b.applyLocal(from, to, content)
	if err != nil {
		return nil, err
	}

	b.undos = append(b.undos, undoRecord{
		from:        op.From,
		editedAt:    op.EditedAt,
		insertedLen: len(content),
		deleted:     visible[from:to],
	})
	return op, nil
}

// Undo reverts the most recent local edit by emitting its inverse as a
// regular operation. The inverse targets the runs the original edit
// created, so content peers wrote in the meantime is left alone. Remote
// edits are never undone.
func (b *Buffer) Undo() (*Operation, error) {
	if len(b.undos) == 0 {
		return nil, ErrNothingToUndo
	}

	rec := b.undos[len(b.undos)-1]
	b.undos = b.undos[:len(b.undos)-1]

	fromPos := rec.from
	toPos := fromPos
	if rec.insertedLen > 0 {
		toPos = NewPos(NewNodeID(rec.editedAt, 0), rec.insertedLen)
	}

	// Only nodes the original edit created are deletable; everything that
	// landed in the range since is protected by the bound.
	guard := map[time.ActorID]int64{b.actor: rec.editedAt.Lamport()}
	return b.emit(fromPos, toPos, rec.deleted, guard)
}

func (b *Buffer) applyLocal(from, to int, content string) (*Operation, error) {
	fromPos, toPos, err := b.list.createRange(from, to)
	if err != nil {
		return nil, err
	}
	return b.emit(fromPos, toPos, content, nil)
}

// emit applies an edit between two stable positions and returns the
// operation to broadcast. A nil bound lets the edit delete everything
// visible in range.
func (b *Buffer) emit(
	fromPos, toPos Pos,
	content string,
	maxCreatedAtMapByActor map[time.ActorID]int64,
) (*Operation, error) {
	b.lamport++
	editedAt := time.NewTicket(b.lamport, b.actor)

	_, createdAtMap, err := b.list.edit(
		fromPos, toPos, content, editedAt, maxCreatedAtMapByActor)
	if err != nil {
		b.lamport--
		return nil, err
	}
	b.vector.Set(b.actor, b.lamport)

	return &Operation{
		From:                   fromPos,
		To:                     toPos,
		Content:                content,
		EditedAt:               editedAt,
		MaxCreatedAtMapByActor: createdAtMap,
	}, nil
}

// ApplyOperation applies a remote operation to this replica. Operations
// already reflected here, including ones baked into the base snapshot,
// are ignored, so application is idempotent.
func (b *Buffer) ApplyOperation(op *Operation) error {
	if op == nil || op.EditedAt == nil {
		return fmt.Errorf("empty operation: %w", ErrPositionNotFound)
	}

	actor := op.EditedAt.ActorID()
	if op.EditedAt.Lamport() <= b.vector.VersionOf(actor) {
		return nil
	}

	if _, _, err := b.list.edit(
		op.From, op.To, op.Content, op.EditedAt, op.MaxCreatedAtMapByActor,
	); err != nil {
		return err
	}

	if op.EditedAt.Lamport() > b.lamport {
		b.lamport = op.EditedAt.Lamport()
	}
	b.vector.Set(actor, op.EditedAt.Lamport())
	return nil
}

// ResolveAnchor returns the current visible index of the given position.
func (b *Buffer) ResolveAnchor(pos Pos) (int, error) {
	return b.list.resolveIndex(pos)
}

// CreateAnchor returns a position for the given visible index. The
// position keeps tracking the same logical spot as concurrent edits land.
func (b *Buffer) CreateAnchor(index int) (Pos, error) {
	return b.list.findPos(index)
}
