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

// Package backend bundles the stateful components the RPC layer works
// against: the connection store, the user directory, and the room and
// channel registries.
package backend

import (
	"github.com/syncroom-team/syncroom/server/channels"
	"github.com/syncroom-team/syncroom/server/profiling/prometheus"
	"github.com/syncroom-team/syncroom/server/rooms"
	"github.com/syncroom-team/syncroom/server/store"
)

// Backend manages server-side resources. All resources are in-memory;
// nothing outlives the process.
type Backend struct {
	Config    *Config
	Metrics   *prometheus.Metrics
	Store     *store.Store
	Directory *store.Directory
	Rooms     *rooms.Registry
	Channels  *channels.Registry
}

// New creates a new instance of Backend.
func New(conf *Config, metrics *prometheus.Metrics) (*Backend, error) {
	directory, err := store.NewDirectory()
	if err != nil {
		return nil, err
	}

	connStore := store.New()
	return &Backend{
		Config:    conf,
		Metrics:   metrics,
		Store:     connStore,
		Directory: directory,
		Rooms:     rooms.New(connStore),
		Channels:  channels.New(conf.HistoryChunkSize),
	}, nil
}

// Shutdown releases the resources of this backend.
func (b *Backend) Shutdown() {
	b.Channels.Close()
	b.Rooms.Close()
	b.Store.Close()
}
