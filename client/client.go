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

// Package client provides the client that talks to the Syncroom server:
// one connection, the room the user is on, and the channel buffers the
// user collaborates on.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/xid"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/internal/log"
)

const defaultEventBuffer = 32

// maxOrphanPushes bounds how many pushes queue up per buffer before the
// open response registers it. A legitimate open races only a handful of
// pushes; a queue past the cap belongs to a buffer this client is not
// opening.
const maxOrphanPushes = 64

var (
	// ErrNoWelcome is returned when the server closes the connection
	// before identifying the client.
	ErrNoWelcome = errors.New("connection closed before welcome")

	// ErrUnexpectedResponse is returned when the server answers a request
	// with a response of the wrong type.
	ErrUnexpectedResponse = errors.New("unexpected response type")
)

// Client is a Syncroom client. It mirrors the server's view of the rooms
// and buffers the user participates in and keeps that view current from
// pushes.
type Client struct {
	conn   *conn
	key    string
	peerID uint32
	userID uint64

	mu           sync.Mutex
	room         *Room
	buffers      map[uint64]*ChannelBuffer
	orphanPushes map[uint64][]api.Envelope

	calls    chan api.IncomingCall
	cancels  chan api.CallCanceled
	contacts chan api.ContactsUpdate
}

// Dial creates a client connected to the given address. It returns once
// the server has identified the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	if options.Key == "" {
		options.Key = xid.New().String()
	}
	if options.MaxEventBuffer <= 0 {
		options.MaxEventBuffer = defaultEventBuffer
	}

	c, err := dial(ctx, addr, options.Token)
	if err != nil {
		return nil, err
	}

	cli := &Client{
		conn:         c,
		key:          options.Key,
		buffers:      make(map[uint64]*ChannelBuffer),
		orphanPushes: make(map[uint64][]api.Envelope),
		calls:        make(chan api.IncomingCall, options.MaxEventBuffer),
		cancels:      make(chan api.CallCanceled, options.MaxEventBuffer),
		contacts:     make(chan api.ContactsUpdate, options.MaxEventBuffer),
	}

	if err := cli.awaitWelcome(ctx); err != nil {
		c.close()
		return nil, err
	}

	go cli.run()
	return cli, nil
}

func (c *Client) awaitWelcome(ctx context.Context) error {
	select {
	case envelope := <-c.conn.pushes:
		if envelope.Type != api.TypeWelcome {
			return fmt.Errorf("%s: %w", envelope.Type, ErrUnexpectedResponse)
		}
		var welcome api.Welcome
		if err := envelope.Decode(&welcome); err != nil {
			return err
		}
		c.peerID = welcome.PeerID
		c.userID = welcome.UserID
		return nil
	case <-c.conn.closed:
		return ErrNoWelcome
	case <-ctx.Done():
		return fmt.Errorf("await welcome: %w", ctx.Err())
	}
}

// Key returns the key of this client.
func (c *Client) Key() string {
	return c.key
}

// PeerID returns the peer ID the server assigned to this connection.
func (c *Client) PeerID() uint32 {
	return c.peerID
}

// UserID returns the user this client is authenticated as.
func (c *Client) UserID() uint64 {
	return c.userID
}

// Calls returns the channel incoming call rings arrive on.
func (c *Client) Calls() <-chan api.IncomingCall {
	return c.calls
}

// CallCancellations returns the channel withdrawn rings arrive on.
func (c *Client) CallCancellations() <-chan api.CallCanceled {
	return c.cancels
}

// ContactsUpdates returns the channel contact presence updates arrive on.
func (c *Client) ContactsUpdates() <-chan api.ContactsUpdate {
	return c.contacts
}

// Close closes all resources of this client.
func (c *Client) Close() error {
	c.conn.close()
	return nil
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.conn.closed
}

// CreateRoom creates a room with this user as its only participant.
func (c *Client) CreateRoom(ctx context.Context) (*Room, error) {
	reply, err := c.conn.request(ctx, api.TypeCreateRoom, &api.CreateRoomRequest{})
	if err != nil {
		return nil, err
	}
	return c.roomFromReply(reply)
}

// JoinRoom joins the room this user was invited to.
func (c *Client) JoinRoom(ctx context.Context, roomID uint64) (*Room, error) {
	reply, err := c.conn.request(ctx, api.TypeJoinRoom, &api.JoinRoomRequest{RoomID: roomID})
	if err != nil {
		return nil, err
	}
	return c.roomFromReply(reply)
}

func (c *Client) roomFromReply(reply api.Envelope) (*Room, error) {
	if reply.Type != api.TypeRoom {
		return nil, fmt.Errorf("%s: %w", reply.Type, ErrUnexpectedResponse)
	}
	var resp api.RoomResponse
	if err := reply.Decode(&resp); err != nil {
		return nil, err
	}

	room := newRoom(c, c.userID, resp.Room)
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
	return room, nil
}

// DeclineCall declines the ring this user is on.
func (c *Client) DeclineCall(ctx context.Context, roomID uint64) error {
	_, err := c.conn.request(ctx, api.TypeDeclineCall, &api.DeclineCallRequest{RoomID: roomID})
	return err
}

// OpenChannelBuffer opens the shared buffer of the given channel and
// joins its collaborator roster. The returned buffer becomes editable
// once its join handshake finishes.
func (c *Client) OpenChannelBuffer(ctx context.Context, channelID string) (*ChannelBuffer, error) {
	reply, err := c.conn.request(ctx, api.TypeOpenChannelBuffer, &api.OpenChannelBufferRequest{
		ChannelID: channelID,
	})
	if err != nil {
		return nil, err
	}
	if reply.Type != api.TypeBufferState {
		return nil, fmt.Errorf("%s: %w", reply.Type, ErrUnexpectedResponse)
	}

	var state api.BufferState
	if err := reply.Decode(&state); err != nil {
		return nil, err
	}

	buffer := newChannelBuffer(c, state)
	c.registerBuffer(buffer)
	return buffer, nil
}

func (c *Client) registerBuffer(buffer *ChannelBuffer) {
	c.mu.Lock()
	c.buffers[buffer.ID()] = buffer
	orphans := c.orphanPushes[buffer.ID()]
	delete(c.orphanPushes, buffer.ID())
	c.mu.Unlock()

	for _, envelope := range orphans {
		buffer.handlePush(envelope)
	}
}

func (c *Client) unregisterBuffer(bufferID uint64) {
	c.mu.Lock()
	delete(c.buffers, bufferID)
	delete(c.orphanPushes, bufferID)
	c.mu.Unlock()
}

// run distributes pushes until the connection is gone.
func (c *Client) run() {
	for {
		select {
		case envelope := <-c.conn.pushes:
			c.handlePush(envelope)
		case <-c.conn.closed:
			c.mu.Lock()
			room := c.room
			c.mu.Unlock()
			if room != nil {
				room.handleDisconnected()
			}
			return
		}
	}
}

func (c *Client) handlePush(envelope api.Envelope) {
	switch envelope.Type {
	case api.TypeRoomUpdated:
		var update api.RoomUpdated
		if err := envelope.Decode(&update); err != nil {
			log.Logger.Warnf("decode room update: %v", err)
			return
		}
		if room := c.currentRoom(); room != nil {
			room.applyUpdate(update.Room)
		}

	case api.TypeRoomClosed:
		var closed api.RoomClosed
		if err := envelope.Decode(&closed); err != nil {
			log.Logger.Warnf("decode room closed: %v", err)
			return
		}
		if room := c.currentRoom(); room != nil && room.ID() == closed.RoomID {
			room.handleClosed()
		}

	case api.TypeIncomingCall:
		var ring api.IncomingCall
		if err := envelope.Decode(&ring); err != nil {
			log.Logger.Warnf("decode incoming call: %v", err)
			return
		}
		c.deliverCall(ring)

	case api.TypeCallCanceled:
		var canceled api.CallCanceled
		if err := envelope.Decode(&canceled); err != nil {
			log.Logger.Warnf("decode call canceled: %v", err)
			return
		}
		select {
		case c.cancels <- canceled:
		default:
			log.Logger.Warnf("cancel channel full, dropping cancellation for room %d", canceled.RoomID)
		}

	case api.TypeContactsUpdate:
		var update api.ContactsUpdate
		if err := envelope.Decode(&update); err != nil {
			log.Logger.Warnf("decode contacts update: %v", err)
			return
		}
		select {
		case c.contacts <- update:
		default:
			log.Logger.Warnf("contacts channel full, dropping update")
		}

	case api.TypeBufferChunk, api.TypeBufferOperation,
		api.TypeCollaboratorJoined, api.TypeCollaboratorLeft:
		c.routeBufferPush(envelope)

	default:
		log.Logger.Warnf("unhandled push %s", envelope.Type)
	}
}

func (c *Client) deliverCall(ring api.IncomingCall) {
	select {
	case c.calls <- ring:
	default:
		log.Logger.Warnf("call channel full, dropping ring for room %d", ring.RoomID)
	}
}

func (c *Client) currentRoom() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// bufferIDOf pulls the buffer ID out of any buffer-scoped push payload.
func bufferIDOf(envelope api.Envelope) (uint64, error) {
	var scoped struct {
		BufferID uint64 `json:"buffer_id"`
	}
	if err := envelope.Decode(&scoped); err != nil {
		return 0, err
	}
	return scoped.BufferID, nil
}

func (c *Client) routeBufferPush(envelope api.Envelope) {
	bufferID, err := bufferIDOf(envelope)
	if err != nil {
		log.Logger.Warnf("decode %s push: %v", envelope.Type, err)
		return
	}

	c.mu.Lock()
	buffer, ok := c.buffers[bufferID]
	if !ok {
		// The open response has not been processed yet; hold the push
		// until the buffer registers.
		if len(c.orphanPushes[bufferID]) >= maxOrphanPushes {
			c.mu.Unlock()
			log.Logger.Warnf("dropping %s push for unknown buffer %d", envelope.Type, bufferID)
			return
		}
		c.orphanPushes[bufferID] = append(c.orphanPushes[bufferID], envelope)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	buffer.handlePush(envelope)
}
