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

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
)

// ConcatListFileName is the concat demuxer input written into the scratch dir.
const ConcatListFileName = "concat.txt"

// ConcatListWriter writes the ffmpeg concat list for the ordered clip paths
// under its input parameter and outputs the list's path.
type ConcatListWriter struct {
	cor.BaseCommand
}

func NewConcatListWriter(name string) *ConcatListWriter {
	return &ConcatListWriter{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *ConcatListWriter) Execute(context cor.Context) {
	clips := context.Get(c.GetInputParam()).([]string)

	dir, err := scratchDir(context)
	if err != nil {
		c.Fail(context, err)
		return
	}
	path := filepath.Join(dir, ConcatListFileName)
	if err := os.WriteFile(path, []byte(ConcatList(clips)), 0o644); err != nil {
		c.Fail(context, fmt.Errorf("write concat list: %w", err))
		return
	}
	c.Succeed(context)
	context.Add(c.GetOutputParam(), path)
}

// ConcatList renders one "file '<path>'" line per clip, in order. Single
// quotes inside paths are escaped for the concat demuxer.
func ConcatList(clips []string) string {
	var b strings.Builder
	for _, clip := range clips {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(clip, "'", `'\''`))
	}
	return b.String()
}
