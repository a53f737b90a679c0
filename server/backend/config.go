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

package backend

import (
	"github.com/syncroom-team/syncroom/internal/validation"
)

// Config is the configuration for creating a Backend instance.
type Config struct {
	// SecretKey is the secret key for verifying access tokens.
	SecretKey string `yaml:"SecretKey" validate:"required"`

	// HistoryChunkSize is how many operations ride in one history chunk
	// during the buffer open handshake.
	HistoryChunkSize int `yaml:"HistoryChunkSize" validate:"min=1"`
}

// Validate validates this config.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c)
}
