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

// Package rpc provides the websocket endpoint clients sync through. One
// envelope in, one response out, pushes in between; the per-connection
// write order is the ordering guarantee everything above relies on.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncroom-team/syncroom/api"
	"github.com/syncroom-team/syncroom/api/converter"
	"github.com/syncroom-team/syncroom/internal/log"
	"github.com/syncroom-team/syncroom/internal/validation"
	"github.com/syncroom-team/syncroom/server/backend"
	"github.com/syncroom-team/syncroom/server/channels"
	"github.com/syncroom-team/syncroom/server/rooms"
	"github.com/syncroom-team/syncroom/server/rpc/auth"
	"github.com/syncroom-team/syncroom/server/store"
)

const syncPath = "/sync"

const defaultOutboxSize = 256

const tokenDuration = 7 * 24 * time.Hour

// ErrMissingToken is returned when a connection carries no access token.
var ErrMissingToken = errors.New("missing access token")

// Server is the websocket RPC server.
type Server struct {
	conf         *Config
	backend      *backend.Backend
	tokenManager *auth.TokenManager
	upgrader     websocket.Upgrader
	httpServer   *http.Server

	connMu sync.RWMutex
	conns  map[store.ConnectionID]*connection
	nextID store.ConnectionID
}

// NewServer creates a new instance of Server.
func NewServer(conf *Config, be *backend.Backend) (*Server, error) {
	if conf.OutboxSize <= 0 {
		conf.OutboxSize = defaultOutboxSize
	}

	s := &Server{
		conf:         conf,
		backend:      be,
		tokenManager: auth.NewTokenManager(be.Config.SecretKey, tokenDuration),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[store.ConnectionID]*connection),
	}

	serveMux := http.NewServeMux()
	serveMux.HandleFunc(syncPath, s.handleSync)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: serveMux,
	}
	return s, nil
}

// Start starts this server.
func (s *Server) Start() error {
	return s.listenAndServe()
}

// Shutdown shuts down this server.
func (s *Server) Shutdown(graceful bool) {
	if graceful {
		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			log.Logger.Errorf("RPC server Shutdown: %v", err)
		}
		return
	}

	if err := s.httpServer.Close(); err != nil {
		log.Logger.Errorf("RPC server close: %v", err)
	}
}

func (s *Server) listenAndServe() error {
	go func() {
		log.Logger.Infof("serving RPC on %d", s.conf.Port)
		var err error
		if s.conf.CertFile != "" && s.conf.KeyFile != "" {
			err = s.httpServer.ListenAndServeTLS(s.conf.CertFile, s.conf.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != http.ErrServerClosed {
			log.Logger.Errorf("RPC server ListenAndServe: %v", err)
		}
	}()
	return nil
}

func tokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer "), nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	token, err := tokenFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	claims, err := s.tokenManager.Verify(token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Logger.Warnf("upgrade: %v", err)
		return
	}

	conn := s.register(ws, claims)
	go conn.writeLoop()
	s.welcome(conn, claims)
	s.readLoop(conn)
	s.unregister(conn)
}

func (s *Server) register(ws *websocket.Conn, claims *auth.UserClaims) *connection {
	s.connMu.Lock()
	s.nextID++
	conn := newConnection(
		s.nextID, store.UserID(claims.UserID), claims.Admin, ws, s.conf.OutboxSize)
	s.conns[conn.id] = conn
	s.connMu.Unlock()

	if err := s.backend.Directory.UpsertUser(&store.User{
		ID:   claims.UserID,
		Name: claims.Username,
	}); err != nil {
		log.Logger.Warnf("upsert user %d: %v", claims.UserID, err)
	}

	pending := s.backend.Store.AddConnection(conn.id, conn.userID, conn.admin)
	s.backend.Metrics.SetConnections(s.backend.Store.ConnectionCount())
	log.Logger.Infof("connection %d opened for user %d", conn.id, conn.userID)

	// A ring that survived a reconnect is rung again on the new
	// connection.
	if pending != nil && !pending.Answered() {
		if room, ok := s.backend.Rooms.Room(pending.RoomID); ok {
			ring := &api.IncomingCall{
				RoomID:       pending.RoomID,
				CallerUserID: uint64(pending.CallerUserID),
			}
			for _, p := range room.Participants {
				ring.ParticipantUserIDs = append(ring.ParticipantUserIDs, p.UserID)
			}
			s.push(conn.id, api.TypeIncomingCall, ring)
		}
	}
	return conn
}

func (s *Server) welcome(conn *connection, claims *auth.UserClaims) {
	s.push(conn.id, api.TypeWelcome, &api.Welcome{
		PeerID: uint32(conn.id),
		UserID: claims.UserID,
	})

	contacts, err := s.backend.Directory.ContactsFor(conn.userID)
	if err != nil {
		log.Logger.Warnf("contacts for user %d: %v", conn.userID, err)
		return
	}
	s.push(conn.id, api.TypeContactsUpdate, s.backend.Store.BuildInitialContactsUpdate(contacts))
	s.broadcastPresence(conn.userID)
}

func (s *Server) readLoop(conn *connection) {
	for {
		var envelope api.Envelope
		if err := conn.ws.ReadJSON(&envelope); err != nil {
			log.Logger.Debugf("connection %d read: %v", conn.id, err)
			return
		}
		s.dispatch(conn, envelope)
	}
}

func (s *Server) unregister(conn *connection) {
	conn.close()

	s.connMu.Lock()
	delete(s.conns, conn.id)
	s.connMu.Unlock()

	for _, closed := range s.backend.Channels.DropConnection(conn.id) {
		s.broadcast(closed.NotifyConns, api.TypeCollaboratorLeft, closed.Left)
	}
	s.backend.Metrics.SetBuffers(s.backend.Channels.BufferCount())

	if left, err := s.backend.Rooms.DropConnection(conn.id, conn.userID); err != nil {
		log.Logger.Warnf("drop connection %d from rooms: %v", conn.id, err)
	} else if left != nil {
		s.fanOutLeftRoom(left)
	}
	s.backend.Metrics.SetRooms(s.backend.Rooms.RoomCount())

	removed, err := s.backend.Store.RemoveConnection(conn.id)
	if err != nil {
		log.Logger.Warnf("remove connection %d: %v", conn.id, err)
		return
	}
	s.backend.Metrics.SetConnections(s.backend.Store.ConnectionCount())
	log.Logger.Infof("connection %d closed for user %d", conn.id, conn.userID)

	if removed.WentOffline {
		// The user vanished while still being rung; withdraw the invite.
		if removed.ActiveCall != nil && !removed.ActiveCall.Answered() {
			if room, err := s.backend.Rooms.DropPendingUser(
				removed.ActiveCall.RoomID, conn.userID); err == nil && room != nil {
				s.broadcastRoom(room)
			}
		}
		s.broadcastPresence(conn.userID)
	}
}

// push sends a push (ID zero) to one connection.
func (s *Server) push(connID store.ConnectionID, msgType string, payload interface{}) {
	s.broadcast([]store.ConnectionID{connID}, msgType, payload)
}

// broadcast sends a push to the given connections.
func (s *Server) broadcast(connIDs []store.ConnectionID, msgType string, payload interface{}) {
	if len(connIDs) == 0 {
		return
	}
	envelope, err := api.NewEnvelope(msgType, 0, payload)
	if err != nil {
		log.Logger.Errorf("encode %s push: %v", msgType, err)
		return
	}

	s.connMu.RLock()
	defer s.connMu.RUnlock()
	for _, connID := range connIDs {
		if conn, ok := s.conns[connID]; ok {
			conn.send(envelope)
			s.backend.Metrics.AddPushSent(msgType)
		}
	}
}

// broadcastRoom pushes the whole room to every remaining participant.
func (s *Server) broadcastRoom(room *api.Room) {
	var connIDs []store.ConnectionID
	for _, p := range room.Participants {
		connIDs = append(connIDs, store.ConnectionID(p.PeerID))
	}
	s.broadcast(connIDs, api.TypeRoomUpdated, &api.RoomUpdated{Room: room})
}

// broadcastPresence tells everyone who has the user as a contact about
// the user's current online/busy state.
func (s *Server) broadcastPresence(userID store.UserID) {
	owners, err := s.backend.Directory.ContactOwners(userID)
	if err != nil {
		log.Logger.Warnf("contact owners of user %d: %v", userID, err)
		return
	}

	contact := s.backend.Store.ContactFor(userID)
	update := &api.ContactsUpdate{Contacts: []api.Contact{contact}}
	for _, owner := range owners {
		s.broadcast(s.backend.Store.UserConnectionIDs(owner), api.TypeContactsUpdate, update)
	}
}

func (s *Server) fanOutLeftRoom(left *rooms.LeftRoom) {
	if left.Room != nil {
		s.broadcastRoom(left.Room)
	}
	s.broadcast(left.CanceledConnIDs, api.TypeCallCanceled, &api.CallCanceled{
		RoomID: left.RoomID,
	})
}

func (s *Server) dispatch(conn *connection, envelope api.Envelope) {
	s.backend.Metrics.AddMessageHandled(envelope.Type)

	var payload interface{}
	var err error
	responseType := api.TypeAck

	switch envelope.Type {
	case api.TypeCreateRoom:
		responseType = api.TypeRoom
		payload, err = s.handleCreateRoom(conn, envelope)
	case api.TypeJoinRoom:
		responseType = api.TypeRoom
		payload, err = s.handleJoinRoom(conn, envelope)
	case api.TypeLeaveRoom:
		payload, err = s.handleLeaveRoom(conn, envelope)
	case api.TypeCall:
		payload, err = s.handleCall(conn, envelope)
	case api.TypeCancelCall:
		payload, err = s.handleCancelCall(conn, envelope)
	case api.TypeDeclineCall:
		payload, err = s.handleDeclineCall(conn, envelope)
	case api.TypeUpdateLocation:
		payload, err = s.handleUpdateLocation(conn, envelope)
	case api.TypePublishProject:
		responseType = api.TypeRoom
		payload, err = s.handlePublishProject(conn, envelope)
	case api.TypeUnpublishProject:
		responseType = api.TypeRoom
		payload, err = s.handleUnpublishProject(conn, envelope)
	case api.TypeOpenChannelBuffer:
		responseType = api.TypeBufferState
		payload, err = s.handleOpenChannelBuffer(conn, envelope)
	case api.TypeCloseChannelBuffer:
		payload, err = s.handleCloseChannelBuffer(conn, envelope)
	case api.TypeBufferOperation:
		payload, err = s.handleBufferOperation(conn, envelope)
	default:
		err = fmt.Errorf("%s: %w", envelope.Type, api.ErrMalformedPayload)
	}

	if err != nil {
		s.reply(conn, envelope.ID, api.TypeError, &api.Error{
			Code:    errorCode(err),
			Message: err.Error(),
		})
		return
	}
	// A nil payload means the handler already replied itself.
	if payload != nil {
		s.reply(conn, envelope.ID, responseType, payload)
	}
}

func (s *Server) reply(conn *connection, id uint32, msgType string, payload interface{}) {
	envelope, err := api.NewEnvelope(msgType, id, payload)
	if err != nil {
		log.Logger.Errorf("encode %s reply: %v", msgType, err)
		return
	}
	conn.send(envelope)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound),
		errors.Is(err, channels.ErrBufferNotFound),
		errors.Is(err, store.ErrConnectionNotFound):
		return api.CodeNotFound
	case errors.Is(err, rooms.ErrNotInRoom),
		errors.Is(err, rooms.ErrNotInvited),
		errors.Is(err, channels.ErrNotCollaborating):
		return api.CodeUnauthorized
	case errors.Is(err, api.ErrMalformedPayload),
		errors.Is(err, converter.ErrMalformedOperation),
		errors.Is(err, channels.ErrVersionMismatch):
		return api.CodeMalformed
	case errors.Is(err, rooms.ErrAlreadyCalled),
		errors.Is(err, rooms.ErrAlreadyInCall),
		errors.Is(err, rooms.ErrProjectNotFound),
		errors.Is(err, store.ErrUserBusy),
		errors.Is(err, store.ErrUserNotOnline),
		errors.Is(err, store.ErrNoActiveCall):
		return api.CodeBadRequest
	default:
		var violation validation.Violation
		if errors.As(err, &violation) {
			return api.CodeBadRequest
		}
		return api.CodeInternal
	}
}

func (s *Server) handleCreateRoom(conn *connection, envelope api.Envelope) (interface{}, error) {
	room, err := s.backend.Rooms.Create(conn.id, conn.userID)
	if err != nil {
		return nil, err
	}
	s.backend.Metrics.SetRooms(s.backend.Rooms.RoomCount())
	s.broadcastPresence(conn.userID)
	return &api.RoomResponse{Room: room}, nil
}

func (s *Server) handleJoinRoom(conn *connection, envelope api.Envelope) (interface{}, error) {
	var req api.JoinRoomRequest
	if err := envelope.Decode(&req); err != nil {
		return nil, err
	}

	room, err := s.backend.Rooms.Join(req.RoomID, conn.id, conn.userID)
	if err != nil {
		return nil, err
	}

	// Everyone but the joiner learns about the join from the push; the
	// joiner gets it from the response.
	for _, p := range room.Participants {
		if p.PeerID != uint32(conn.id) {
			s.push(store.ConnectionID(p.PeerID), api.TypeRoomUpdated, &api.RoomUpdated{Room: room})
		}
	}
	s.broadcastPresence(conn.userID)
	return &api.RoomResponse{Room: room}, nil
}

func (s *Server) handleLeaveRoom(conn *connection, envelope api.Envelope) (interface{}, error) {
	var req api.LeaveRoomRequest
	if err := envelope.Decode(&req); err != nil {
		return nil, err
	}

	left, err := s.backend.Rooms.Leave(req.RoomID, conn.id)
	if err != nil {
		return nil, err
	}
	s.backend.Metrics.SetRooms(s.backend.Rooms.RoomCount())
	s.fanOutLeftRoom(left)
	s.broadcastPresence(conn.userID)
	return &api.Ack{}, nil
}

func (s *Server) handleCall(conn *connection, envelope api.Envelope) (interface{}, error) {
	var req api.CallRequest
	if err := envelope.Decode(&req); err != nil {
		return nil, err
	}

	room, ring, recipientConns, err := s.backend.Rooms.Call(
		req.RoomID, conn.id, store.UserID(req.ToUserID))
	if err != nil {
		return nil, err
	}

	s.broadcastRoom(room)
	s.broadcast(recipientConns, api.TypeIncomingCall, ring)
	s.broadcastPresence(store.UserID(req.ToUserID))
	return &api.Ack{}, nil
}

func (s *Server) handleCancelCall(conn *connection, envelope api.Envelope) (interface{}, error) {
	var req api.CancelCallRequest
	if err := envelope.Decode(&req); err != nil {
		return nil, err
	}

	room, recipientConns, err := s.backend.Rooms.CancelCall(
		req.RoomID, store.UserID(req.ToUserID))
	if err != nil {
		return nil, err
	}
	s.backend.Metrics.SetRooms(s.backend.Rooms.RoomCount())

	if room != nil {
		s.broadcastRoom(room)
	}
	s.broadcast(recipientConns, api.TypeCallCanceled, &api.CallCanceled{RoomID: req.RoomID})
	s.broadcastPresence(store.UserID(req.ToUserID))
	return &api.Ack{}, nil
}

func (s *Server) handleDeclineCall(conn *connection, envelope api.Envelope) (interface{}, error) {
	var req api.DeclineCallRequest
	if err := envelope.Decode(&req); err != nil {
		return nil, err
	}

	room, ok, err := s.backend.Rooms.DeclineCall(req.RoomID, conn.id)
	if err != nil {
		return nil, err
	}
	s.backend.Metrics.SetRooms(s.backend.Rooms.RoomCount())

	if ok {
		s.broadcastRoom(room)
	}
	s.broadcastPresence(conn.userID)
	return &api.Ack{}, nil
}

func (s *Server) handleUpdateLocation(conn *connection, envelope api.Envelope) (interface{}, error) {
	var req api.UpdateLocationRequest
	if err := envelope.Decode(&req); err != nil {
		return nil, err
	}

	room, err := s.backend.Rooms.UpdateLocation(req.RoomID, conn.id, req.Location)
	if err != nil {
		return nil, err
	}
	s.broadcastRoom(room)
	return &api.Ack{}, nil
}

func (s *Server) handlePublishProject(conn *connection, envelope api.Envelope) (interface{}, error) {
	var req api.PublishProjectRequest
	if err := envelope.Decode(&req); err != nil {
		return nil, err
	}

	room, err := s.backend.Rooms.PublishProject(req.RoomID, conn.id, req.Project)
	if err != nil {
		return nil, err
	}
	s.broadcastRoom(room)
	return &api.RoomResponse{Room: room}, nil
}

func (s *Server) handleUnpublishProject(conn *connection, envelope api.Envelope) (interface{}, error) {
	var req api.UnpublishProjectRequest
	if err := envelope.Decode(&req); err != nil {
		return nil, err
	}

	room, err := s.backend.Rooms.UnpublishProject(req.RoomID, conn.id, req.ProjectID)
	if err != nil {
		return nil, err
	}
	s.broadcastRoom(room)
	return &api.RoomResponse{Room: room}, nil
}

func (s *Server) handleOpenChannelBuffer(conn *connection, envelope api.Envelope) (interface{}, error) {
	var req api.OpenChannelBufferRequest
	if err := envelope.Decode(&req); err != nil {
		return nil, err
	}
	if err := validation.ValidateValue(req.ChannelID, "required,slug"); err != nil {
		return nil, err
	}

	opened, err := s.backend.Channels.Open(req.ChannelID, conn.id, conn.userID)
	if err != nil {
		return nil, err
	}
	s.backend.Metrics.SetBuffers(s.backend.Channels.BufferCount())

	// The response must hit the wire before the chunks so the client sees
	// state, then history, then live traffic.
	s.reply(conn, envelope.ID, api.TypeBufferState, &opened.State)
	for _, chunk := range opened.Chunks {
		s.push(conn.id, api.TypeBufferChunk, chunk)
	}
	s.broadcast(opened.NotifyConns, api.TypeCollaboratorJoined, opened.Joined)
	return nil, nil
}

func (s *Server) handleCloseChannelBuffer(conn *connection, envelope api.Envelope) (interface{}, error) {
	var req api.CloseChannelBufferRequest
	if err := envelope.Decode(&req); err != nil {
		return nil, err
	}

	closed, err := s.backend.Channels.CloseBuffer(req.BufferID, conn.id)
	if err != nil {
		return nil, err
	}
	s.broadcast(closed.NotifyConns, api.TypeCollaboratorLeft, closed.Left)
	return &api.Ack{}, nil
}

func (s *Server) handleBufferOperation(conn *connection, envelope api.Envelope) (interface{}, error) {
	var msg api.BufferOperation
	if err := envelope.Decode(&msg); err != nil {
		return nil, err
	}

	applied, err := s.backend.Channels.ApplyOperation(conn.id, msg)
	if err != nil {
		return nil, err
	}
	s.backend.Metrics.AddBufferOperation()

	s.broadcast(applied.NotifyConns, api.TypeBufferOperation, applied.Message)
	return &api.Ack{}, nil
}
