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

// Package services contains the business logic behind the HTTP API that is not
// part of the segment orchestrator. This file holds the BigQuery SQL used by
// ArchiveService. Table names are injected with fmt.Sprintf; values are always
// passed as named query parameters.
package services

const (
	// QryRecentArchives returns the newest archived sessions.
	//
	// Placeholders:
	// - `%s`: the fully qualified archive table.
	//
	// Parameters:
	// - `@limit`: maximum number of rows.
	QryRecentArchives = "SELECT * FROM `%s` ORDER BY archive_date DESC LIMIT @limit"

	// QryArchiveStats counts archived sessions by outcome.
	QryArchiveStats = "SELECT COUNT(*) AS total, COUNTIF(status = 'completed') AS completed, COUNTIF(status = 'failed') AS failed FROM `%s`"
)
