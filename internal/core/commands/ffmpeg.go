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

// Package commands. This file wraps the ffprobe and ffmpeg binaries.
//
//   - FFProbeDuration reads the container duration of a local video.
//   - FFMpegLastFrame grabs one JPEG frame just before the end of a video.
//   - FFMpegConcat joins clips listed in a concat demuxer file without
//     re-encoding.
//
// Every command writes into the scratch directory of its chain and leaves
// removal to cor.Context.Close.
package commands

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
)

const (
	// DefaultProbeArgs prints only the container duration in seconds.
	DefaultProbeArgs = "-v error -show_entries format=duration -of default=noprint_wrappers=1:nokey=1"
	// DefaultLastFrameArgs seeks to %s seconds in %s and writes one high quality JPEG to %s.
	DefaultLastFrameArgs = "-y -hide_banner -loglevel error -ss %s -i %s -frames:v 1 -q:v 2 %s"
	// DefaultConcatArgs stream copies the clips listed in %s into %s.
	DefaultConcatArgs = "-y -hide_banner -loglevel error -f concat -safe 0 -i %s -c copy %s"

	LastFrameFileName = "last_frame.jpg"
	FinalVideoName    = "final.mp4"
	CommandSeparator  = " "
)

// ErrInvalidDuration is returned for a zero, negative or unparseable duration.
var ErrInvalidDuration = errors.New("invalid video duration")

// splitArgs expands a space separated template. Paths are substituted after
// splitting so that scratch paths containing spaces survive.
func splitArgs(template string, values ...string) []string {
	parts := strings.Split(template, CommandSeparator)
	next := 0
	for i, p := range parts {
		if p == "%s" && next < len(values) {
			parts[i] = values[next]
			next++
		}
	}
	return parts
}

// FFProbeDuration reads the duration of the video under its input parameter.
type FFProbeDuration struct {
	cor.BaseCommand
	commandPath string
}

func NewFFProbeDuration(name string, commandPath string) *FFProbeDuration {
	return &FFProbeDuration{BaseCommand: *cor.NewBaseCommand(name), commandPath: commandPath}
}

func (c *FFProbeDuration) Execute(context cor.Context) {
	path := context.Get(c.GetInputParam()).(string)

	args := append(strings.Split(DefaultProbeArgs, CommandSeparator), path)
	out, err := runTool(context.GetContext(), c.commandPath, args...)
	if err != nil {
		c.Fail(context, fmt.Errorf("error running ffprobe: %w", err))
		return
	}
	duration, err := ParseDuration(string(out))
	if err != nil {
		c.Fail(context, err)
		return
	}
	c.Succeed(context)
	context.Add(c.GetOutputParam(), duration)
}

// ParseDuration parses ffprobe's duration output.
func ParseDuration(raw string) (float64, error) {
	value := strings.TrimSpace(raw)
	if i := strings.IndexAny(value, "\r\n"); i >= 0 {
		value = value[:i]
	}
	d, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	return d, nil
}

// SeekPosition is where the last frame is taken: offset seconds before the
// end, never before the start.
func SeekPosition(duration float64, offset float64) float64 {
	return math.Max(0, duration-offset)
}

// FFMpegLastFrame extracts the final frame of the video under its input
// parameter. The duration is read from durationParam.
type FFMpegLastFrame struct {
	cor.BaseCommand
	commandPath   string
	offset        float64
	durationParam string
}

func NewFFMpegLastFrame(name string, commandPath string, offset float64, durationParam string) *FFMpegLastFrame {
	return &FFMpegLastFrame{
		BaseCommand:   *cor.NewBaseCommand(name),
		commandPath:   commandPath,
		offset:        offset,
		durationParam: durationParam,
	}
}

func (c *FFMpegLastFrame) IsExecutable(context cor.Context) bool {
	return c.BaseCommand.IsExecutable(context) && context.Get(c.durationParam) != nil
}

func (c *FFMpegLastFrame) Execute(context cor.Context) {
	video := context.Get(c.GetInputParam()).(string)
	duration := context.Get(c.durationParam).(float64)

	dir, err := scratchDir(context)
	if err != nil {
		c.Fail(context, err)
		return
	}
	frame := filepath.Join(dir, LastFrameFileName)
	seek := strconv.FormatFloat(SeekPosition(duration, c.offset), 'f', 3, 64)

	if _, err := runTool(context.GetContext(), c.commandPath, splitArgs(DefaultLastFrameArgs, seek, video, frame)...); err != nil {
		c.Fail(context, fmt.Errorf("error running ffmpeg: %w", err))
		return
	}
	c.Succeed(context)
	context.Add(c.GetOutputParam(), frame)
}

// FFMpegConcat joins the clips listed in the concat file under its input
// parameter into final.mp4.
type FFMpegConcat struct {
	cor.BaseCommand
	commandPath string
}

func NewFFMpegConcat(name string, commandPath string) *FFMpegConcat {
	return &FFMpegConcat{BaseCommand: *cor.NewBaseCommand(name), commandPath: commandPath}
}

func (c *FFMpegConcat) Execute(context cor.Context) {
	list := context.Get(c.GetInputParam()).(string)

	dir, err := scratchDir(context)
	if err != nil {
		c.Fail(context, err)
		return
	}
	output := filepath.Join(dir, FinalVideoName)

	if _, err := runTool(context.GetContext(), c.commandPath, splitArgs(DefaultConcatArgs, list, output)...); err != nil {
		c.Fail(context, fmt.Errorf("error running ffmpeg concat: %w", err))
		return
	}
	c.Succeed(context)
	context.Add(c.GetOutputParam(), output)
}
