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

package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const defaultContentType = "application/octet-stream"

// FrameKey is where the last frame of segment index of a session is stored.
func FrameKey(prefix string, sessionId string, index int) string {
	return path.Join(prefix, sessionId, fmt.Sprintf("frame_%d.jpg", index))
}

// FinalVideoKey is where the stitched video of a session is stored.
func FinalVideoKey(prefix string, sessionId string) string {
	return path.Join(prefix, sessionId, "final.mp4")
}

// ProfileKey names an uploaded player photo. The random suffix keeps
// repeated uploads for the same player apart.
func ProfileKey(prefix string, playerId string, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "jpg"
	}
	return path.Join(prefix, fmt.Sprintf("%s-%s.%s", sanitize(playerId), uuid.NewString(), ext))
}

// GeneratedKey names an image produced during battle preparation.
func GeneratedKey(prefix string, label string, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "png"
	}
	return path.Join(prefix, fmt.Sprintf("%s-%s.%s", sanitize(label), uuid.NewString(), ext))
}

// DetectContentType sniffs the MIME type of data, falling back to
// application/octet-stream. The returned extension is empty when unknown.
func DetectContentType(data []byte) (mime string, ext string) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return defaultContentType, ""
	}
	return kind.MIME.Value, kind.Extension
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "anonymous"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
