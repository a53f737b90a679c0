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

package rpc

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/internal/log"
	"github.com/syncroom-team/syncroom/server/store"
)

// connection is one websocket session. All writes go through the outbox
// so the socket has a single writer.
type connection struct {
	id     store.ConnectionID
	userID store.UserID
	admin  bool

	ws        *websocket.Conn
	outbox    chan api.Envelope
	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(
	id store.ConnectionID,
	userID store.UserID,
	admin bool,
	ws *websocket.Conn,
	outboxSize int,
) *connection {
	return &connection{
		id:     id,
		userID: userID,
		admin:  admin,
		ws:     ws,
		outbox: make(chan api.Envelope, outboxSize),
		closed: make(chan struct{}),
	}
}

// writeLoop drains the outbox onto the socket. It owns all writes.
func (c *connection) writeLoop() {
	for {
		select {
		case envelope := <-c.outbox:
			if err := c.ws.WriteJSON(envelope); err != nil {
				log.Logger.Debugf("connection %d write: %v", c.id, err)
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// send queues an envelope. A connection whose outbox is full is too far
// behind to be useful and gets dropped.
func (c *connection) send(envelope api.Envelope) {
	select {
	case c.outbox <- envelope:
	case <-c.closed:
	default:
		log.Logger.Warnf("connection %d outbox full, dropping connection", c.id)
		c.close()
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.ws.Close(); err != nil {
			log.Logger.Debugf("connection %d close: %v", c.id, err)
		}
	})
}
