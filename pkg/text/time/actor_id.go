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

// Package time provides the logical clock and ticket for replicated buffers.
package time

import (
	"math"
	"strconv"
)

// ActorID is the identity of a writer of a replicated buffer. It is the
// peer ID of the participant's connection, so it is unique among all
// writers that can ever touch the same buffer.
type ActorID uint32

const (
	// InitialActorID is the actor of the initial head node. No real peer
	// is ever assigned this ID.
	InitialActorID ActorID = 0

	// MaxActorID is the maximum value of ActorID.
	MaxActorID ActorID = math.MaxUint32
)

// Compare returns an integer comparing two ActorID. The result will be 0 if
// id==other, -1 if id < other, and +1 if id > other.
func (id ActorID) Compare(other ActorID) int {
	if id > other {
		return 1
	} else if id < other {
		return -1
	}
	return 0
}

// String returns the decimal representation of this ActorID.
func (id ActorID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
