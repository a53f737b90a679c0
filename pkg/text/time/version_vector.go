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

package time

import (
	"sort"
	"strconv"
	"strings"
)

// VersionVector tracks the highest Lamport timestamp this replica has
// observed from each actor. It is synced with the Lamport clock of the
// owning buffer on every applied edit.
type VersionVector map[ActorID]int64

// NewVersionVector creates a new instance of VersionVector.
func NewVersionVector() VersionVector {
	return make(VersionVector)
}

// Get gets the version of the given actor.
// Returns the version and whether the actor exists in the vector.
func (v VersionVector) Get(id ActorID) (int64, bool) {
	version, exists := v[id]
	return version, exists
}

// Set sets the given actor's version to the given value.
func (v VersionVector) Set(id ActorID, i int64) {
	v[id] = i
}

// VersionOf returns the version of the given actor.
func (v VersionVector) VersionOf(id ActorID) int64 {
	return v[id]
}

// DeepCopy creates a deep copy of this VersionVector.
func (v VersionVector) DeepCopy() VersionVector {
	copied := NewVersionVector()
	for k, val := range v {
		copied[k] = val
	}
	return copied
}

// AfterOrEqual returns whether this VersionVector is causally after or
// equal to the given VersionVector.
func (v VersionVector) AfterOrEqual(other VersionVector) bool {
	for k, val := range v {
		if val < other[k] {
			return false
		}
	}

	for k, val := range other {
		if v[k] < val {
			return false
		}
	}

	return true
}

// Marshal returns the string encoding of this VersionVector.
func (v VersionVector) Marshal() string {
	builder := strings.Builder{}
	builder.WriteRune('{')

	keys := make([]ActorID, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for i, k := range keys {
		if i > 0 {
			builder.WriteRune(',')
		}
		builder.WriteString(k.String())
		builder.WriteRune(':')
		builder.WriteString(strconv.FormatInt(v[k], 10))
	}
	builder.WriteRune('}')

	return builder.String()
}
