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

import "errors"

var (
	// ErrIndexOutOfRange is returned when the given index is out of the
	// visible content of the buffer.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrPositionNotFound is returned when a position refers to a node
	// this replica has never seen.
	ErrPositionNotFound = errors.New("position not found")

	// ErrNothingToUndo is returned when the local edit history is empty.
	ErrNothingToUndo = errors.New("nothing to undo")
)
