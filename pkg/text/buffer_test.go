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

package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syncroom-team/syncroom/pkg/text"
	"github.com/syncroom-team/syncroom/pkg/text/time"
)

func TestBufferEdit(t *testing.T) {
	t.Run("local edit test", func(t *testing.T) {
		buf := text.NewBuffer(1, "hello world")
		assert.Equal(t, "hello world", buf.String())
		assert.Equal(t, 11, buf.Len())

		_, err := buf.Edit(6, 11, "there")
		assert.NoError(t, err)
		assert.Equal(t, "hello there", buf.String())

		_, err = buf.Edit(0, 0, ">> ")
		assert.NoError(t, err)
		assert.Equal(t, ">> hello there", buf.String())

		_, err = buf.Edit(0, 3, "")
		assert.NoError(t, err)
		assert.Equal(t, "hello there", buf.String())
	})

	t.Run("out of range test", func(t *testing.T) {
		buf := text.NewBuffer(1, "abc")

		_, err := buf.Edit(2, 1, "x")
		assert.ErrorIs(t, err, text.ErrIndexOutOfRange)

		_, err = buf.Edit(0, 4, "x")
		assert.ErrorIs(t, err, text.ErrIndexOutOfRange)

		_, err = buf.Edit(-1, 0, "x")
		assert.ErrorIs(t, err, text.ErrIndexOutOfRange)
	})
}

func TestBufferConvergence(t *testing.T) {
	t.Run("concurrent disjoint edits test", func(t *testing.T) {
		a := text.NewBuffer(1, "hello world")
		b := text.NewBuffer(2, "hello world")

		opA, err := a.Edit(6, 11, "there")
		assert.NoError(t, err)
		opB, err := b.Edit(0, 5, "Howdy")
		assert.NoError(t, err)

		assert.NoError(t, a.ApplyOperation(opB))
		assert.NoError(t, b.ApplyOperation(opA))

		assert.Equal(t, "Howdy there", a.String())
		assert.Equal(t, a.String(), b.String())
	})

	t.Run("concurrent inserts at same position test", func(t *testing.T) {
		a := text.NewBuffer(1, "hello world")
		b := text.NewBuffer(2, "hello world")

		opA, err := a.Edit(5, 5, " A")
		assert.NoError(t, err)
		opB, err := b.Edit(5, 5, " B")
		assert.NoError(t, err)

		assert.NoError(t, a.ApplyOperation(opB))
		assert.NoError(t, b.ApplyOperation(opA))

		assert.Equal(t, a.String(), b.String())
		assert.Equal(t, "hello B A world", a.String())
	})

	t.Run("delete racing insert inside its range test", func(t *testing.T) {
		a := text.NewBuffer(1, "hello world")
		b := text.NewBuffer(2, "hello world")

		opA, err := a.Edit(0, 5, "")
		assert.NoError(t, err)
		opB, err := b.Edit(2, 2, "XY")
		assert.NoError(t, err)

		assert.NoError(t, a.ApplyOperation(opB))
		assert.NoError(t, b.ApplyOperation(opA))

		// The concurrent insert survives the delete on both sides.
		assert.Equal(t, "XY world", a.String())
		assert.Equal(t, a.String(), b.String())
	})

	t.Run("interleaving order independence test", func(t *testing.T) {
		a := text.NewBuffer(1, "abc")
		b := text.NewBuffer(2, "abc")
		c := text.NewBuffer(3, "abc")

		op1, err := a.Edit(0, 0, "1")
		assert.NoError(t, err)
		op2, err := b.Edit(3, 3, "2")
		assert.NoError(t, err)
		op3, err := b.Edit(0, 4, "x")
		assert.NoError(t, err)

		assert.NoError(t, a.ApplyOperation(op2))
		assert.NoError(t, a.ApplyOperation(op3))

		assert.NoError(t, b.ApplyOperation(op1))

		// c sees op1 first, then b's ops.
		assert.NoError(t, c.ApplyOperation(op1))
		assert.NoError(t, c.ApplyOperation(op2))
		assert.NoError(t, c.ApplyOperation(op3))

		assert.Equal(t, a.String(), b.String())
		assert.Equal(t, a.String(), c.String())
	})
}

func TestBufferIdempotence(t *testing.T) {
	t.Run("duplicate delivery test", func(t *testing.T) {
		a := text.NewBuffer(1, "base")
		b := text.NewBuffer(2, "base")

		op, err := a.Edit(4, 4, "!")
		assert.NoError(t, err)

		assert.NoError(t, b.ApplyOperation(op))
		assert.Equal(t, "base!", b.String())

		assert.NoError(t, b.ApplyOperation(op))
		assert.Equal(t, "base!", b.String())
	})

	t.Run("operation already in snapshot test", func(t *testing.T) {
		a := text.NewBuffer(1, "base")
		op, err := a.Edit(0, 0, "pre ")
		assert.NoError(t, err)

		content, version := a.Snapshot()
		late := text.NewBufferAt(2, content, version)
		assert.Equal(t, "pre base", late.String())

		// The op is folded into the snapshot; replaying it is a no-op.
		assert.NoError(t, late.ApplyOperation(op))
		assert.Equal(t, "pre base", late.String())
	})
}

func TestBufferLateJoin(t *testing.T) {
	t.Run("bootstrap then catch up test", func(t *testing.T) {
		a := text.NewBuffer(1, "the quick fox")

		op1, err := a.Edit(4, 9, "slow")
		assert.NoError(t, err)
		assert.Equal(t, "the slow fox", a.String())

		// A replica joining from the original base replays history.
		late := text.NewBuffer(2, "the quick fox")
		assert.NoError(t, late.ApplyOperation(op1))

		op2, err := a.Edit(9, 12, "dog")
		assert.NoError(t, err)
		assert.NoError(t, late.ApplyOperation(op2))

		assert.Equal(t, "the slow dog", a.String())
		assert.Equal(t, a.String(), late.String())
	})
}

func TestBufferUndo(t *testing.T) {
	t.Run("undo local edit test", func(t *testing.T) {
		buf := text.NewBuffer(1, "hello world")

		_, err := buf.Edit(5, 5, ", cruel")
		assert.NoError(t, err)
		assert.Equal(t, "hello, cruel world", buf.String())

		_, err = buf.Edit(0, 5, "goodbye")
		assert.NoError(t, err)
		assert.Equal(t, "goodbye, cruel world", buf.String())

		_, err = buf.Undo()
		assert.NoError(t, err)
		assert.Equal(t, "hello, cruel world", buf.String())

		_, err = buf.Undo()
		assert.NoError(t, err)
		assert.Equal(t, "hello world", buf.String())

		_, err = buf.Undo()
		assert.ErrorIs(t, err, text.ErrNothingToUndo)
	})

	t.Run("undo targets own edit despite concurrent insert test", func(t *testing.T) {
		a := text.NewBuffer(1, "base")
		b := text.NewBuffer(2, "base")

		appendOp, err := a.Edit(4, 4, " mine")
		assert.NoError(t, err)
		prependOp, err := b.Edit(0, 0, "B:")
		assert.NoError(t, err)

		assert.NoError(t, a.ApplyOperation(prependOp))
		assert.NoError(t, b.ApplyOperation(appendOp))
		assert.Equal(t, "B:base mine", a.String())
		assert.Equal(t, "B:base mine", b.String())

		// The prepend shifted every visible index; the undo must still
		// revert exactly the " mine" insertion.
		undoOp, err := a.Undo()
		assert.NoError(t, err)
		assert.Equal(t, "B:base", a.String())

		assert.NoError(t, b.ApplyOperation(undoOp))
		assert.Equal(t, "B:base", b.String())
	})

	t.Run("undo of deletion survives concurrent insert test", func(t *testing.T) {
		a := text.NewBuffer(1, "hello world")
		b := text.NewBuffer(2, "hello world")

		deleteOp, err := a.Edit(0, 6, "")
		assert.NoError(t, err)
		assert.Equal(t, "world", a.String())

		appendOp, err := b.Edit(11, 11, "!")
		assert.NoError(t, err)

		assert.NoError(t, a.ApplyOperation(appendOp))
		assert.NoError(t, b.ApplyOperation(deleteOp))
		assert.Equal(t, "world!", a.String())
		assert.Equal(t, "world!", b.String())

		undoOp, err := a.Undo()
		assert.NoError(t, err)
		assert.Equal(t, "hello world!", a.String())

		assert.NoError(t, b.ApplyOperation(undoOp))
		assert.Equal(t, "hello world!", b.String())
	})

	t.Run("undo converges on remote replica test", func(t *testing.T) {
		a := text.NewBuffer(1, "hello")
		b := text.NewBuffer(2, "hello")

		op, err := a.Edit(5, 5, " world")
		assert.NoError(t, err)
		assert.NoError(t, b.ApplyOperation(op))

		undoOp, err := a.Undo()
		assert.NoError(t, err)
		assert.NoError(t, b.ApplyOperation(undoOp))

		assert.Equal(t, "hello", a.String())
		assert.Equal(t, a.String(), b.String())
	})
}

func TestBufferAnchors(t *testing.T) {
	t.Run("anchor tracks concurrent insert test", func(t *testing.T) {
		a := text.NewBuffer(1, "hello world")
		b := text.NewBuffer(2, "hello world")

		// Anchor at the start of "world".
		anchor, err := a.CreateAnchor(6)
		assert.NoError(t, err)

		index, err := a.ResolveAnchor(anchor)
		assert.NoError(t, err)
		assert.Equal(t, 6, index)

		// A remote edit in front of the anchor shifts it.
		op, err := b.Edit(0, 0, ">> ")
		assert.NoError(t, err)
		assert.NoError(t, a.ApplyOperation(op))

		index, err = a.ResolveAnchor(anchor)
		assert.NoError(t, err)
		assert.Equal(t, 9, index)
		assert.Equal(t, "world", a.String()[index:])
	})
}

func TestVersionVector(t *testing.T) {
	t.Run("version advances per actor test", func(t *testing.T) {
		a := text.NewBuffer(1, "x")
		b := text.NewBuffer(2, "x")

		op, err := a.Edit(1, 1, "y")
		assert.NoError(t, err)
		assert.NoError(t, b.ApplyOperation(op))

		version := b.Version()
		assert.Equal(t, op.EditedAt.Lamport(), version.VersionOf(time.ActorID(1)))
		assert.Equal(t, int64(0), version.VersionOf(time.ActorID(2)))
	})
}
