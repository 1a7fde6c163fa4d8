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

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
)

// MaxArchiveRows caps Recent.
const MaxArchiveRows = 100

// ArchiveService reads the BigQuery table that expired sessions are archived to.
type ArchiveService struct {
	BigqueryClient *bigquery.Client
	DatasetName    string
	ArchiveTable   string
}

// GetFQN returns the archive table as `project.dataset.table`.
func (s *ArchiveService) GetFQN() string {
	fqn := s.BigqueryClient.Dataset(s.DatasetName).Table(s.ArchiveTable).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", -1)
}

// ClampLimit bounds a caller supplied row count to [1, MaxArchiveRows].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 10
	}
	return min(limit, MaxArchiveRows)
}

// Recent returns up to limit archived sessions, newest first.
func (s *ArchiveService) Recent(ctx context.Context, limit int) ([]*model.SessionArchive, error) {
	out := make([]*model.SessionArchive, 0)

	q := s.BigqueryClient.Query(fmt.Sprintf(QryRecentArchives, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{{Name: "limit", Value: ClampLimit(limit)}}
	itr, err := q.Read(ctx)
	if err != nil {
		return out, fmt.Errorf("failed to read from BigQuery: %w", err)
	}
	for {
		row := &model.SessionArchive{}
		err := itr.Next(row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("failed to iterate results: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}

// Stats counts the archived sessions by outcome.
func (s *ArchiveService) Stats(ctx context.Context) (*model.ArchiveStats, error) {
	itr, err := s.BigqueryClient.Query(fmt.Sprintf(QryArchiveStats, s.GetFQN())).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from BigQuery: %w", err)
	}
	stats := &model.ArchiveStats{}
	if err := itr.Next(stats); err != nil && !errors.Is(err, iterator.Done) {
		return nil, fmt.Errorf("failed to read archive stats: %w", err)
	}
	return stats, nil
}
