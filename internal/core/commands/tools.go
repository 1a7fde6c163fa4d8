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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
)

const maxToolOutput = 4096

// runTool executes an external media binary and returns its stdout. On
// failure the error carries the tail of stderr.
func runTool(ctx context.Context, path string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxToolOutput {
			msg = msg[len(msg)-maxToolOutput:]
		}
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, fmt.Errorf("%s: %w: %s", path, err, msg)
	}
	return stdout.Bytes(), nil
}

// scratchDir returns the per-call directory a media chain works in.
func scratchDir(context cor.Context) (string, error) {
	dir, ok := context.Get(ParamScratchDir).(string)
	if !ok || dir == "" {
		return "", fmt.Errorf("no scratch directory in context")
	}
	return dir, nil
}
