// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package commands. SessionAssetCleanup deletes the intermediate last-frame
// images of a session from blob storage. The final video is kept.
package commands

import (
	"errors"
	"fmt"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/storage"
)

type SessionAssetCleanup struct {
	cor.BaseCommand
	store        storage.BlobStore
	prefix       string
	sessionParam string
}

func NewSessionAssetCleanup(name string, store storage.BlobStore, prefix string, sessionParam string) *SessionAssetCleanup {
	return &SessionAssetCleanup{BaseCommand: *cor.NewBaseCommand(name), store: store, prefix: prefix, sessionParam: sessionParam}
}

func (c *SessionAssetCleanup) IsExecutable(context cor.Context) bool {
	return context != nil && context.Get(c.sessionParam) != nil
}

func (c *SessionAssetCleanup) Execute(context cor.Context) {
	session := context.Get(c.sessionParam).(*model.Session)

	var errs []error
	for _, seg := range session.Segments {
		if seg.LastFrameUrl == "" {
			continue
		}
		key := storage.FrameKey(c.prefix, session.Id, seg.Index)
		if err := c.store.Delete(context.GetContext(), key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		c.Fail(context, fmt.Errorf("cleanup of session %s: %w", session.Id, err))
		return
	}
	c.Succeed(context)
}
