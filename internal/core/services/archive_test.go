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

package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/services"
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, services.ClampLimit(0))
	assert.Equal(t, 10, services.ClampLimit(-3))
	assert.Equal(t, 25, services.ClampLimit(25))
	assert.Equal(t, services.MaxArchiveRows, services.ClampLimit(5000))
}

func TestArchiveQueries(t *testing.T) {
	assert.Contains(t, services.QryRecentArchives, "@limit")
	assert.Contains(t, services.QryArchiveStats, "COUNTIF")
}
