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

package text

import (
	"github.com/syncroom-team/syncroom/pkg/text/time"
)

// Operation is a single replicated edit: replace the range [From, To)
// with Content. It is what a buffer broadcasts after a local edit and
// applies when received from a peer.
type Operation struct {
	// From and To address the edited range in the structure the editor
	// saw when it made the edit.
	From Pos
	To   Pos

	// Content is the inserted text; empty for a pure deletion.
	Content string

	// EditedAt is the ticket of this edit. Its actor is the sender and
	// its lamport is strictly increasing per sender.
	EditedAt *time.Ticket

	// MaxCreatedAtMapByActor bounds, per actor, the newest node this edit
	// is allowed to delete. It keeps a deletion from swallowing content
	// inserted concurrently by a peer the editor had not yet seen.
	MaxCreatedAtMapByActor map[time.ActorID]int64
}

// ActorID returns the actor that produced this operation.
func (op *Operation) ActorID() time.ActorID {
	return op.EditedAt.ActorID()
}
