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

// Package commands. SessionPersistToBigQuery writes the archive row of a
// finished session before it is expired from the live store.
package commands

import (
	goctx "context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
)

// RowInserter is satisfied by *bigquery.Inserter.
type RowInserter interface {
	Put(ctx goctx.Context, src interface{}) error
}

type SessionPersistToBigQuery struct {
	cor.BaseCommand
	inserter     RowInserter
	sessionParam string
}

func NewSessionPersistToBigQuery(name string, inserter RowInserter, sessionParam string) *SessionPersistToBigQuery {
	return &SessionPersistToBigQuery{BaseCommand: *cor.NewBaseCommand(name), inserter: inserter, sessionParam: sessionParam}
}

func (s *SessionPersistToBigQuery) IsExecutable(context cor.Context) bool {
	return context != nil && context.Get(s.sessionParam) != nil
}

func (s *SessionPersistToBigQuery) Execute(context cor.Context) {
	session := context.Get(s.sessionParam).(*model.Session)
	row := model.NewSessionArchive(session, time.Now())

	if err := s.inserter.Put(context.GetContext(), row); err != nil {
		s.Fail(context, fmt.Errorf("bigquery insert failed for session %s: %w", session.Id, err))
		return
	}
	s.Succeed(context)
	context.Add(cor.CtxOut, row)
	slog.InfoContext(context.GetContext(), "archived session", "session_id", session.Id, "status", row.Status)
}
