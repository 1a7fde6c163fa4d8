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

// Package commands. HTTPToScratchFile downloads one URL, or an ordered list
// of URLs, into the chain's scratch directory.
//
// Logic Flow:
//  1. Read the scratch directory registered on the context by the caller.
//  2. Fan the downloads out to a bounded pool of workers. Each download gets
//     its own span so slow segments stand out in traces.
//  3. Optionally sniff each file with h2non/filetype and reject anything that
//     is not a video.
//  4. Output the local paths in input order. A single failure fails the whole
//     command; partial results are never emitted.
//
// Inputs:
//   - string or []string: the source URL(s) under the input parameter.
//
// Outputs:
//   - string or []string: matching local file paths under the output parameter.
package commands

import (
	goctx "context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// sniffLen is the number of leading bytes filetype needs.
const sniffLen = 262

// HTTPToScratchFile downloads remote media into the scratch directory.
type HTTPToScratchFile struct {
	cor.BaseCommand
	client       *http.Client
	namePattern  string
	workers      int
	requireVideo bool
}

// NewHTTPToScratchFile creates a download command. namePattern names the
// local files; a %d verb in it receives the zero based position of the URL.
func NewHTTPToScratchFile(name string, client *http.Client, namePattern string, workers int) *HTTPToScratchFile {
	if client == nil {
		client = http.DefaultClient
	}
	if workers < 1 {
		workers = 1
	}
	return &HTTPToScratchFile{
		BaseCommand: *cor.NewBaseCommand(name),
		client:      client,
		namePattern: namePattern,
		workers:     workers,
	}
}

// RequireVideo rejects downloads that do not sniff as a video container.
func (c *HTTPToScratchFile) RequireVideo() *HTTPToScratchFile {
	c.requireVideo = true
	return c
}

func (c *HTTPToScratchFile) fileName(i int) string {
	if strings.Contains(c.namePattern, "%") {
		return fmt.Sprintf(c.namePattern, i)
	}
	return c.namePattern
}

func (c *HTTPToScratchFile) Execute(context cor.Context) {
	dir, err := scratchDir(context)
	if err != nil {
		c.Fail(context, err)
		return
	}

	switch in := context.Get(c.GetInputParam()).(type) {
	case string:
		paths, err := c.downloadAll(context.GetContext(), dir, []string{in})
		if err != nil {
			c.Fail(context, err)
			return
		}
		context.Add(c.GetOutputParam(), paths[0])
	case []string:
		if len(in) == 0 {
			c.Fail(context, errors.New("no urls to download"))
			return
		}
		paths, err := c.downloadAll(context.GetContext(), dir, in)
		if err != nil {
			c.Fail(context, err)
			return
		}
		context.Add(c.GetOutputParam(), paths)
	default:
		c.Fail(context, fmt.Errorf("unsupported download input %T", in))
		return
	}
	c.Succeed(context)
}

type downloadJob struct {
	index int
	url   string
}

func (c *HTTPToScratchFile) downloadAll(ctx goctx.Context, dir string, urls []string) ([]string, error) {
	paths := make([]string, len(urls))
	errs := make([]error, len(urls))

	jobs := make(chan downloadJob, len(urls))
	for i, u := range urls {
		jobs <- downloadJob{index: i, url: u}
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < min(c.workers, len(urls)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				target := filepath.Join(dir, c.fileName(job.index))
				jobCtx, span := c.Tracer.Start(ctx, fmt.Sprintf("%s_download_%d", c.GetName(), job.index))
				span.SetAttributes(attribute.Int("index", job.index), attribute.String("url", job.url))
				if err := c.download(jobCtx, job.url, target); err != nil {
					span.SetStatus(codes.Error, err.Error())
					errs[job.index] = fmt.Errorf("download %d (%s): %w", job.index, job.url, err)
				} else {
					span.SetStatus(codes.Ok, "")
					paths[job.index] = target
				}
				span.End()
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return paths, nil
}

func (c *HTTPToScratchFile) download(ctx goctx.Context, url string, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	written, err := io.Copy(out, res.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("partial download after %d bytes: %w", written, err)
	}
	if written == 0 {
		return errors.New("empty response body")
	}
	if c.requireVideo {
		return checkVideo(target)
	}
	return nil
}

func checkVideo(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	if !filetype.IsVideo(head[:n]) {
		kind, _ := filetype.Match(head[:n])
		return fmt.Errorf("downloaded file is not a video (detected %q)", kind.MIME.Value)
	}
	return nil
}
