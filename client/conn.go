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

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/internal/log"
)

// ErrDisconnected is returned by every pending and subsequent request
// once the connection is gone.
var ErrDisconnected = errors.New("connection closed")

// RequestError is an error response from the server.
type RequestError struct {
	Code    string
	Message string
}

// Error returns the error message.
func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// conn is one websocket session: request/response correlation plus a
// channel of pushes, leaving message semantics to the layer above.
type conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]chan api.Envelope

	pushes    chan api.Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func dial(ctx context.Context, addr, token string) (*conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, addr, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &conn{
		ws:      ws,
		pending: make(map[uint32]chan api.Envelope),
		pushes:  make(chan api.Envelope, 256),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *conn) readLoop() {
	defer c.close()
	for {
		var envelope api.Envelope
		if err := c.ws.ReadJSON(&envelope); err != nil {
			log.Logger.Debugf("read: %v", err)
			return
		}

		if envelope.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[envelope.ID]
			delete(c.pending, envelope.ID)
			c.mu.Unlock()
			if ok {
				ch <- envelope
			}
			continue
		}

		select {
		case c.pushes <- envelope:
		case <-c.closed:
			return
		}
	}
}

// request sends an envelope and waits for the response of the same ID.
func (c *conn) request(
	ctx context.Context,
	msgType string,
	payload interface{},
) (api.Envelope, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan api.Envelope, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	envelope, err := api.NewEnvelope(msgType, id, payload)
	if err != nil {
		c.abandon(id)
		return api.Envelope{}, err
	}

	c.writeMu.Lock()
	err = c.ws.WriteJSON(envelope)
	c.writeMu.Unlock()
	if err != nil {
		c.abandon(id)
		c.close()
		return api.Envelope{}, fmt.Errorf("write %s: %w", msgType, ErrDisconnected)
	}

	select {
	case reply := <-ch:
		if reply.Type == api.TypeError {
			var remote api.Error
			if err := reply.Decode(&remote); err != nil {
				return api.Envelope{}, err
			}
			return api.Envelope{}, &RequestError{Code: remote.Code, Message: remote.Message}
		}
		return reply, nil
	case <-c.closed:
		return api.Envelope{}, ErrDisconnected
	case <-ctx.Done():
		c.abandon(id)
		return api.Envelope{}, fmt.Errorf("await %s: %w", msgType, ctx.Err())
	}
}

func (c *conn) abandon(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.ws.Close(); err != nil {
			log.Logger.Debugf("close: %v", err)
		}
	})
}
