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
	"fmt"
	"strings"

	"github.com/syncroom-team/syncroom/pkg/text/time"
)

// NodeID is the ID of a node in the split list. A node keeps the ticket of
// the edit that created it; when a node is split, the right part keeps the
// same ticket with a shifted offset.
type NodeID struct {
	createdAt *time.Ticket
	offset    int
}

// NewNodeID creates a new instance of NodeID.
func NewNodeID(createdAt *time.Ticket, offset int) NodeID {
	return NodeID{createdAt: createdAt, offset: offset}
}

// CreatedAt returns the creation time of this ID.
func (id NodeID) CreatedAt() *time.Ticket {
	return id.createdAt
}

// Offset returns the offset of this ID.
func (id NodeID) Offset() int {
	return id.offset
}

// Compare returns an integer comparing two IDs. The result will be 0 if
// id==other, -1 if id < other, and +1 if id > other.
func (id NodeID) Compare(other NodeID) int {
	if compare := id.createdAt.Compare(other.createdAt); compare != 0 {
		return compare
	}

	if id.offset > other.offset {
		return 1
	} else if id.offset < other.offset {
		return -1
	}
	return 0
}

func (id NodeID) hasSameCreatedAt(other NodeID) bool {
	return id.createdAt.Compare(other.createdAt) == 0
}

func (id NodeID) split(offset int) NodeID {
	return NodeID{createdAt: id.createdAt, offset: id.offset + offset}
}

// Pos is a logical position inside the buffer. It survives concurrent
// edits because it addresses content by the ticket that created it, not by
// a raw index.
type Pos struct {
	id             NodeID
	relativeOffset int
}

// NewPos creates a new instance of Pos.
func NewPos(id NodeID, relativeOffset int) Pos {
	return Pos{id: id, relativeOffset: relativeOffset}
}

// ID returns the NodeID this position hangs off.
func (p Pos) ID() NodeID {
	return p.id
}

// RelativeOffset returns the offset of this position within its node.
func (p Pos) RelativeOffset() int {
	return p.relativeOffset
}

func (p Pos) absoluteID() NodeID {
	return NodeID{
		createdAt: p.id.createdAt,
		offset:    p.id.offset + p.relativeOffset,
	}
}

// Node is a run of text created by a single edit. Removed nodes stay in
// the list as tombstones so that positions of concurrent edits still
// resolve.
type Node struct {
	id        NodeID
	value     string
	removedAt *time.Ticket

	prev, next       *Node
	insPrev, insNext *Node
}

func newNode(id NodeID, value string) *Node {
	return &Node{id: id, value: value}
}

func (n *Node) contentLen() int {
	return len(n.value)
}

func (n *Node) createdAt() *time.Ticket {
	return n.id.createdAt
}

func (n *Node) isRemoved() bool {
	return n.removedAt != nil
}

// remove tombstones this node. A node is only removable by an edit whose
// author had already observed its creation; latestCreatedAt is that bound.
func (n *Node) remove(removedAt, latestCreatedAt *time.Ticket) bool {
	if n.createdAt().Compare(latestCreatedAt) > 0 {
		return false
	}
	if n.removedAt != nil && !removedAt.After(n.removedAt) {
		return false
	}
	n.removedAt = removedAt
	return true
}

func (n *Node) split(offset int) *Node {
	rest := newNode(n.id.split(offset), n.value[offset:])
	n.value = n.value[:offset]
	rest.removedAt = n.removedAt
	return rest
}

// SplitList is the replicated sequence underlying a buffer: a linked list
// of runs ordered by the RGA rule. Concurrent inserts at the same position
// converge because an insert skips over siblings created after it.
type SplitList struct {
	head *Node
}

// NewSplitList creates a new instance of SplitList.
func NewSplitList() *SplitList {
	return &SplitList{
		head: newNode(NewNodeID(time.InitialTicket, 0), ""),
	}
}

// String returns the visible content of this list.
func (l *SplitList) String() string {
	builder := strings.Builder{}
	for n := l.head.next; n != nil; n = n.next {
		if !n.isRemoved() {
			builder.WriteString(n.value)
		}
	}
	return builder.String()
}

// Len returns the length of the visible content.
func (l *SplitList) Len() int {
	length := 0
	for n := l.head.next; n != nil; n = n.next {
		if !n.isRemoved() {
			length += n.contentLen()
		}
	}
	return length
}

// createRange turns a visible index range into a pair of positions.
func (l *SplitList) createRange(from, to int) (Pos, Pos, error) {
	fromPos, err := l.findPos(from)
	if err != nil {
		return Pos{}, Pos{}, err
	}
	if from == to {
		return fromPos, fromPos, nil
	}

	toPos, err := l.findPos(to)
	if err != nil {
		return Pos{}, Pos{}, err
	}
	return fromPos, toPos, nil
}

// findPos finds the position of the given visible index. A boundary index
// is expressed relative to the node on its left, so that insertion lands
// after the content the index follows.
func (l *SplitList) findPos(index int) (Pos, error) {
	if index < 0 {
		return Pos{}, fmt.Errorf("index %d: %w", index, ErrIndexOutOfRange)
	}
	if index == 0 {
		return NewPos(l.head.id, 0), nil
	}

	cum := 0
	for n := l.head.next; n != nil; n = n.next {
		if n.isRemoved() {
			continue
		}
		if index <= cum+n.contentLen() {
			return NewPos(n.id, index-cum), nil
		}
		cum += n.contentLen()
	}
	return Pos{}, fmt.Errorf("index %d: %w", index, ErrIndexOutOfRange)
}

// findFloorNode returns the node that contains the given ID: the node with
// the same creation ticket and the greatest offset not exceeding the given
// offset. Tombstones are included so stale positions still resolve.
func (l *SplitList) findFloorNode(id NodeID) *Node {
	var floor *Node
	for n := l.head; n != nil; n = n.next {
		if !n.id.hasSameCreatedAt(id) || n.id.offset > id.offset {
			continue
		}
		if floor == nil || n.id.offset > floor.id.offset {
			floor = n
		}
	}
	return floor
}

func (l *SplitList) findFloorNodePreferToLeft(id NodeID) (*Node, error) {
	node := l.findFloorNode(id)
	if node == nil {
		return nil, fmt.Errorf("no node for %d:%d: %w",
			id.createdAt.Lamport(), id.offset, ErrPositionNotFound)
	}

	if id.offset > 0 && node.id.offset == id.offset {
		if node.insPrev == nil {
			return node, nil
		}
		node = node.insPrev
	}
	return node, nil
}

func (l *SplitList) splitNode(node *Node, offset int) (*Node, error) {
	if offset > node.contentLen() {
		return nil, fmt.Errorf("offset %d exceeds length %d: %w",
			offset, node.contentLen(), ErrPositionNotFound)
	}

	if offset == 0 {
		return node, nil
	} else if offset == node.contentLen() {
		return node.next, nil
	}

	rest := node.split(offset)
	l.insertAfter(node, rest)

	if insNext := node.insNext; insNext != nil {
		insNext.insPrev = rest
		rest.insNext = insNext
	}
	rest.insPrev = node
	node.insNext = rest

	return rest, nil
}

// findNodeWithSplit splits the node at the given position and walks right
// past every node created after editedAt, so that concurrent inserts at
// one spot apply in ticket order on every replica.
func (l *SplitList) findNodeWithSplit(pos Pos, editedAt *time.Ticket) (*Node, *Node, error) {
	absoluteID := pos.absoluteID()
	node, err := l.findFloorNodePreferToLeft(absoluteID)
	if err != nil {
		return nil, nil, err
	}

	relativeOffset := absoluteID.offset - node.id.offset
	if _, err := l.splitNode(node, relativeOffset); err != nil {
		return nil, nil, err
	}

	for node.next != nil && node.next.createdAt().After(editedAt) {
		node = node.next
	}
	return node, node.next, nil
}

func (l *SplitList) insertAfter(prev, node *Node) *Node {
	next := prev.next
	node.prev = prev
	node.next = next
	prev.next = node
	if next != nil {
		next.prev = node
	}
	return node
}

// edit replaces the content between from and to with the given content.
// maxCreatedAtMapByActor bounds, per actor, how recent a node may be and
// still be deleted by this edit; nil means the edit is local and every
// visible node in range is fair game. It returns the caret position and
// the per-actor creation bound of what was actually deleted.
func (l *SplitList) edit(
	from, to Pos,
	content string,
	editedAt *time.Ticket,
	maxCreatedAtMapByActor map[time.ActorID]int64,
) (Pos, map[time.ActorID]int64, error) {
	toLeft, toRight, err := l.findNodeWithSplit(to, editedAt)
	if err != nil {
		return Pos{}, nil, err
	}
	fromLeft, fromRight, err := l.findNodeWithSplit(from, editedAt)
	if err != nil {
		return Pos{}, nil, err
	}

	createdAtMapByActor := make(map[time.ActorID]int64)
	for n := fromRight; n != nil && n != toRight; n = n.next {
		var latestCreatedAt *time.Ticket
		if maxCreatedAtMapByActor == nil {
			latestCreatedAt = time.MaxTicket
		} else {
			lamport, ok := maxCreatedAtMapByActor[n.createdAt().ActorID()]
			if ok {
				latestCreatedAt = time.NewTicket(lamport, n.createdAt().ActorID())
			} else {
				latestCreatedAt = time.InitialTicket
			}
		}

		if n.remove(editedAt, latestCreatedAt) {
			actorID := n.createdAt().ActorID()
			if n.createdAt().Lamport() > createdAtMapByActor[actorID] {
				createdAtMapByActor[actorID] = n.createdAt().Lamport()
			}
		}
	}

	var caret Pos
	if toRight == nil {
		caret = NewPos(toLeft.id, toLeft.contentLen())
	} else {
		caret = NewPos(toRight.id, 0)
	}

	if len(content) > 0 {
		inserted := l.insertAfter(fromLeft, newNode(NewNodeID(editedAt, 0), content))
		caret = NewPos(inserted.id, inserted.contentLen())
	}

	return caret, createdAtMapByActor, nil
}

// resolveIndex returns the visible index of the given position.
func (l *SplitList) resolveIndex(pos Pos) (int, error) {
	abs := pos.absoluteID()
	target := l.findFloorNode(abs)
	if target == nil {
		return 0, fmt.Errorf("no node for %d:%d: %w",
			abs.createdAt.Lamport(), abs.offset, ErrPositionNotFound)
	}
	if target == l.head {
		return 0, nil
	}

	index := 0
	for n := l.head.next; n != nil && n != target; n = n.next {
		if !n.isRemoved() {
			index += n.contentLen()
		}
	}
	if !target.isRemoved() {
		offset := abs.offset - target.id.offset
		if offset > target.contentLen() {
			offset = target.contentLen()
		}
		index += offset
	}
	return index, nil
}

// testString returns the metadata of all nodes for debugging.
func (l *SplitList) testString() string {
	builder := strings.Builder{}
	for n := l.head.next; n != nil; n = n.next {
		if n.isRemoved() {
			builder.WriteString(fmt.Sprintf("{%q}", n.value))
		} else {
			builder.WriteString(fmt.Sprintf("[%q]", n.value))
		}
	}
	return builder.String()
}
