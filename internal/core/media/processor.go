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

// Package media is the post-processor of generated clips. It extracts the
// last frame of a clip, used to seed the next segment, and stitches the
// finished clips into the final battle video.
//
// Each call runs a cor chain inside its own scratch directory. The directory
// is registered on the chain context and removed by Close on every path,
// success or failure.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/jaycherian/gcp-go-battle-video/internal/cloud"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/commands"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// FrameExtractionError is returned when the last frame of a clip could not
// be produced.
type FrameExtractionError struct {
	VideoUrl string
	Err      error
}

func (e *FrameExtractionError) Error() string {
	return fmt.Sprintf("frame extraction from %s failed: %v", e.VideoUrl, e.Err)
}

func (e *FrameExtractionError) Unwrap() error { return e.Err }

// StitchError is returned when the clips could not be joined.
type StitchError struct {
	Clips int
	Err   error
}

func (e *StitchError) Error() string {
	return fmt.Sprintf("stitching %d clips failed: %v", e.Clips, e.Err)
}

func (e *StitchError) Unwrap() error { return e.Err }

// Processor runs ffmpeg based post-processing.
type Processor struct {
	ffmpegPath  string
	ffprobePath string
	scratchRoot string
	frameOffset float64
	workers     int
	client      *http.Client
}

// NewProcessor builds a processor from configuration. workers bounds the
// parallel segment downloads of StitchVideos.
func NewProcessor(cfg cloud.FFmpeg, workers int) *Processor {
	timeout := cfg.DownloadTimeout()
	return &Processor{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		scratchRoot: cfg.ScratchDir,
		frameOffset: cfg.FrameOffsetSeconds,
		workers:     max(workers, 1),
		client:      &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// WithHTTPClient replaces the client used for downloads.
func (p *Processor) WithHTTPClient(client *http.Client) *Processor {
	p.client = client
	return p
}

func (p *Processor) newScratch(ctx context.Context, pattern string) (cor.Context, error) {
	if p.scratchRoot != "" {
		if err := os.MkdirAll(p.scratchRoot, 0o755); err != nil {
			return nil, err
		}
	}
	dir, err := os.MkdirTemp(p.scratchRoot, pattern)
	if err != nil {
		return nil, err
	}
	chCtx := cor.NewContext(ctx)
	chCtx.AddTempDir(dir)
	chCtx.Add(commands.ParamScratchDir, dir)
	return chCtx, nil
}

// ExtractLastFrame returns the JPEG bytes of the frame just before the end
// of the video at videoUrl.
func (p *Processor) ExtractLastFrame(ctx context.Context, videoUrl string) ([]byte, error) {
	chCtx, err := p.newScratch(ctx, "frame-")
	if err != nil {
		return nil, &FrameExtractionError{VideoUrl: videoUrl, Err: err}
	}
	defer chCtx.Close()

	download := commands.NewHTTPToScratchFile("media-frame-download", p.client, "video.mp4", 1).RequireVideo()
	download.WithParams(cor.CtxIn, commands.ParamVideoFile)
	probe := commands.NewFFProbeDuration("media-frame-probe", p.ffprobePath)
	probe.WithParams(commands.ParamVideoFile, commands.ParamDuration)
	grab := commands.NewFFMpegLastFrame("media-frame-extract", p.ffmpegPath, p.frameOffset, commands.ParamDuration)
	grab.WithParams(commands.ParamVideoFile, commands.ParamFrameFile)

	chain := cor.NewBaseChain("media-last-frame")
	chain.AddCommand(download)
	chain.AddCommand(probe)
	chain.AddCommand(grab)

	chCtx.Add(cor.CtxIn, videoUrl)
	chain.Execute(chCtx)
	if err := cor.JoinErrors(chCtx); err != nil {
		return nil, &FrameExtractionError{VideoUrl: videoUrl, Err: err}
	}

	frame, ok := chCtx.Get(commands.ParamFrameFile).(string)
	if !ok {
		return nil, &FrameExtractionError{VideoUrl: videoUrl, Err: errors.New("no frame produced")}
	}
	data, err := os.ReadFile(frame)
	if err != nil {
		return nil, &FrameExtractionError{VideoUrl: videoUrl, Err: err}
	}
	if len(data) == 0 {
		return nil, &FrameExtractionError{VideoUrl: videoUrl, Err: errors.New("empty frame")}
	}
	return data, nil
}

// StitchVideos concatenates the clips at orderedUrls, in that order, and
// returns the MP4 bytes.
func (p *Processor) StitchVideos(ctx context.Context, orderedUrls []string) ([]byte, error) {
	if len(orderedUrls) == 0 {
		return nil, &StitchError{Err: errors.New("no clips to stitch")}
	}
	chCtx, err := p.newScratch(ctx, "stitch-")
	if err != nil {
		return nil, &StitchError{Clips: len(orderedUrls), Err: err}
	}
	defer chCtx.Close()

	download := commands.NewHTTPToScratchFile("media-stitch-download", p.client, "segment_%03d.mp4", p.workers)
	download.WithParams(cor.CtxIn, commands.ParamSegmentFiles)
	list := commands.NewConcatListWriter("media-stitch-list")
	list.WithParams(commands.ParamSegmentFiles, commands.ParamConcatList)
	concat := commands.NewFFMpegConcat("media-stitch-concat", p.ffmpegPath)
	concat.WithParams(commands.ParamConcatList, commands.ParamOutputFile)

	chain := cor.NewBaseChain("media-stitch")
	chain.AddCommand(download)
	chain.AddCommand(list)
	chain.AddCommand(concat)

	chCtx.Add(cor.CtxIn, append([]string(nil), orderedUrls...))
	chain.Execute(chCtx)
	if err := cor.JoinErrors(chCtx); err != nil {
		return nil, &StitchError{Clips: len(orderedUrls), Err: err}
	}

	output, ok := chCtx.Get(commands.ParamOutputFile).(string)
	if !ok {
		return nil, &StitchError{Clips: len(orderedUrls), Err: errors.New("no output produced")}
	}
	data, err := os.ReadFile(output)
	if err != nil {
		return nil, &StitchError{Clips: len(orderedUrls), Err: err}
	}
	return data, nil
}
