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

package server_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syncroom-team/syncroom/internal/validation"
	"github.com/syncroom-team/syncroom/server"
)

func TestNewConfig(t *testing.T) {
	t.Run("defaults are valid test", func(t *testing.T) {
		conf := server.NewConfig()
		assert.NoError(t, conf.Validate())
		assert.Equal(t, server.DefaultRPCPort, conf.RPC.Port)
		assert.Equal(t, server.DefaultProfilingPort, conf.Profiling.Port)
		assert.Equal(t, server.DefaultSecretKey, conf.Backend.SecretKey)
		assert.Equal(t, server.DefaultHistoryChunkSize, conf.Backend.HistoryChunkSize)
	})

	t.Run("partial config file gets defaults test", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "syncroom.yml")
		assert.NoError(t, os.WriteFile(path, []byte("RPC:\n  Port: 9090\n"), 0o600))

		conf, err := server.NewConfigFromFile(path)
		assert.NoError(t, err)
		assert.NoError(t, conf.Validate())
		assert.Equal(t, 9090, conf.RPC.Port)
		assert.Equal(t, server.DefaultOutboxSize, conf.RPC.OutboxSize)
		assert.Equal(t, server.DefaultProfilingPort, conf.Profiling.Port)
		assert.Equal(t, server.DefaultHistoryChunkSize, conf.Backend.HistoryChunkSize)
		assert.Equal(t, "localhost:9090", conf.RPCAddr())
	})

	t.Run("invalid values are rejected test", func(t *testing.T) {
		conf := server.NewConfig()
		conf.RPC.Port = 70000
		err := conf.Validate()
		assert.Error(t, err)
		var structErr *validation.StructError
		assert.ErrorAs(t, err, &structErr)

		conf = server.NewConfig()
		conf.Profiling.Port = -1
		assert.Error(t, conf.Validate())

		conf = server.NewConfig()
		conf.Backend.SecretKey = ""
		assert.Error(t, conf.Validate())

		conf = server.NewConfig()
		conf.Backend.HistoryChunkSize = -1
		assert.Error(t, conf.Validate())
	})

	t.Run("missing config file test", func(t *testing.T) {
		_, err := server.NewConfigFromFile(filepath.Join(t.TempDir(), "nope.yml"))
		assert.Error(t, err)
	})
}
