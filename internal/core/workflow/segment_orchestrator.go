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

// Package workflow holds the service's orchestrations. SegmentOrchestrator is
// the state machine that carries a battle session through its video segments:
// every Advance call moves the session at most one step (submit, poll,
// continue or stitch) and persists the result before returning, so a session
// abandoned by its caller can be resumed at any time from the store alone.
package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaycherian/gcp-go-battle-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/generation"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/model"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/retry"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/session"
	"github.com/jaycherian/gcp-go-battle-video/internal/core/storage"
)

// Progress statuses reported to callers.
const (
	ProgressProcessing = "processing"
	ProgressCompleted  = "completed"
	ProgressFailed     = "failed"
)

// DefaultMaxNotReadyPolls bounds how long a completed job may keep answering
// "not ready" on result fetch before its segment is given up on.
const DefaultMaxNotReadyPolls = 20

// FrameExtractor returns the encoded last frame of a video.
type FrameExtractor interface {
	ExtractLastFrame(ctx context.Context, videoUrl string) ([]byte, error)
}

// Stitcher concatenates videos in the given order.
type Stitcher interface {
	StitchVideos(ctx context.Context, orderedUrls []string) ([]byte, error)
}

// MediaProcessor is implemented by *media.Processor.
type MediaProcessor interface {
	FrameExtractor
	Stitcher
}

type OrchestratorOptions struct {
	BattlesPrefix    string            // Key prefix for frames and final videos.
	Params           generation.Params // Sent with every job.
	MaxNotReadyPolls int
	LegacyPrompt     string // Prompt of the single-job flow; defaults to model.LegacyVideoPrompt.
}

// SegmentOrchestrator drives sessions forward. Advance calls for the same
// session are serialized within the process.
type SegmentOrchestrator struct {
	store  session.Store
	client generation.Client
	media  MediaProcessor
	blobs  storage.BlobStore
	opts   OrchestratorOptions
	locks  *keyedMutex

	tracer   trace.Tracer
	segments metric.Int64Counter
}

func NewSegmentOrchestrator(
	store session.Store,
	client generation.Client,
	media MediaProcessor,
	blobs storage.BlobStore,
	opts OrchestratorOptions) *SegmentOrchestrator {

	if opts.MaxNotReadyPolls <= 0 {
		opts.MaxNotReadyPolls = DefaultMaxNotReadyPolls
	}
	if opts.LegacyPrompt == "" {
		opts.LegacyPrompt = model.LegacyVideoPrompt
	}
	counter, err := otel.Meter(cor.MeterName).Int64Counter("orchestrator.counter.segment")
	if err != nil {
		slog.Error("error creating segment counter", "error", err)
	}
	return &SegmentOrchestrator{
		store:    store,
		client:   client,
		media:    media,
		blobs:    blobs,
		opts:     opts,
		locks:    newKeyedMutex(),
		tracer:   otel.Tracer("segment-orchestrator"),
		segments: counter,
	}
}

// StartSession creates a session for seedImageUrl and submits its first
// segment. A failed first submission is reported in the result; the session
// exists either way and the next poll retries the submission.
func (o *SegmentOrchestrator) StartSession(ctx context.Context, seedImageUrl string) (*model.StartResult, error) {
	if seedImageUrl == "" {
		return nil, errors.New("seed image url is required")
	}
	s, err := o.store.Create(ctx, seedImageUrl)
	if err != nil {
		return nil, err
	}
	out := &model.StartResult{SessionId: s.Id, TotalSegments: len(s.Segments)}
	slog.InfoContext(ctx, "battle session started", "session_id", s.Id, "seed_image_url", seedImageUrl)

	progress, err := o.Advance(ctx, s.Id)
	switch {
	case err != nil:
		out.Error = err.Error()
	case progress.Error != "":
		out.Error = progress.Error
	}
	if out.Error != "" {
		slog.WarnContext(ctx, "first segment not submitted", "session_id", s.Id, "error", out.Error)
	}
	return out, nil
}

// PollSession advances the session with the given id. Ids that match no
// session are treated as request ids of the single-job flow.
func (o *SegmentOrchestrator) PollSession(ctx context.Context, id string) (*model.Progress, error) {
	progress, err := o.Advance(ctx, id)
	if session.IsNotFound(err) {
		slog.DebugContext(ctx, "no session found, polling as a single job", "id", id)
		return o.LegacyPoll(ctx, id)
	}
	return progress, err
}

// Advance moves the session one step forward and reports where it stands.
// Errors are returned only when the session cannot be read or written;
// everything else is described by the returned progress.
func (o *SegmentOrchestrator) Advance(ctx context.Context, sessionId string) (*model.Progress, error) {
	unlock := o.locks.Lock(sessionId)
	defer unlock()

	ctx, span := o.tracer.Start(ctx, "advance-session", trace.WithAttributes(attribute.String("session.id", sessionId)))
	defer span.End()

	s, err := o.store.Get(ctx, sessionId)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	progress, err := o.advance(ctx, s)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("progress.status", progress.Status),
		attribute.Int("segment.index", progress.CurrentSegment),
		attribute.Bool("progress.recoverable", progress.Recoverable),
	)
	span.SetStatus(codes.Ok, progress.Status)
	return progress, nil
}

func (o *SegmentOrchestrator) advance(ctx context.Context, s *model.Session) (*model.Progress, error) {
	var err error
	switch s.Status {
	case model.SessionCompleted:
		return completedProgress(s), nil
	case model.SessionFailed:
		if !canResume(s) {
			return failedProgress(s, s.Error, false), nil
		}
		if s, err = o.resume(ctx, s); err != nil {
			return nil, err
		}
	}

	seg := s.ActiveSegment()
	if seg == nil {
		return nil, fmt.Errorf("session %s has no segment at index %d", s.Id, s.CurrentSegmentIndex)
	}
	switch {
	case seg.RequestId == "":
		return o.startSegment(ctx, s, seg.Index)
	case seg.Status == model.SegmentCompleted && seg.VideoUrl != "":
		return o.segmentCompleted(ctx, s, seg.Index)
	default:
		return o.pollSegment(ctx, s, seg.Index)
	}
}

// canResume reports whether a failed session may be put back to processing:
// its active segment did not complete, or it did and only the final video is
// missing.
func canResume(s *model.Session) bool {
	seg := s.ActiveSegment()
	if seg == nil {
		return false
	}
	if seg.Status != model.SegmentCompleted {
		return true
	}
	return s.IsLastSegment(seg.Index) && s.FinalVideoUrl == ""
}

// resume resets a failed session to processing. A failed active segment is
// put back to pending so it is submitted again.
func (o *SegmentOrchestrator) resume(ctx context.Context, s *model.Session) (*model.Session, error) {
	slog.InfoContext(ctx, "resuming failed session", "session_id", s.Id, "segment", s.CurrentSegmentIndex)
	seg := s.ActiveSegment()
	if seg.Status == model.SegmentFailed {
		var err error
		s, err = o.store.UpdateSegment(ctx, s.Id, seg.Index, model.SegmentPatch{
			RequestId:     model.Ptr(""),
			NotReadyPolls: model.Ptr(0),
			Status:        model.Ptr(model.SegmentPending),
		})
		if err != nil {
			return nil, err
		}
	}
	return o.store.Update(ctx, s.Id, model.SessionPatch{
		Status: model.Ptr(model.SessionProcessing),
		Error:  model.Ptr(""),
	})
}

func (o *SegmentOrchestrator) startSegment(ctx context.Context, s *model.Session, index int) (*model.Progress, error) {
	seed, s, err := o.seedFor(ctx, s, index)
	if err != nil {
		slog.WarnContext(ctx, "seed image not available", "session_id", s.Id, "segment", index, "error", err)
		return transientProgress(s, err), nil
	}

	requestId, err := o.client.Submit(ctx, s.Segments[index].Prompt, seed, o.opts.Params)
	if err != nil {
		slog.WarnContext(ctx, "segment submission failed", "session_id", s.Id, "segment", index, "error", err)
		if isTransient(err) {
			return transientProgress(s, err), nil
		}
		msg := fmt.Sprintf("segment %d could not be started: %v", index+1, err)
		if s, err = o.store.Update(ctx, s.Id, model.SessionPatch{Error: &msg}); err != nil {
			return nil, err
		}
		return failedProgress(s, msg, true), nil
	}

	s, err = o.store.UpdateSegment(ctx, s.Id, index, model.SegmentPatch{
		RequestId:     &requestId,
		NotReadyPolls: model.Ptr(0),
		Status:        model.Ptr(model.SegmentProcessing),
	})
	if err != nil {
		return nil, err
	}
	o.count(ctx, "submitted")
	slog.InfoContext(ctx, "segment submitted", "session_id", s.Id, "segment", index, "request_id", requestId)
	return processingProgress(s, fmt.Sprintf("Generating segment %d of %d", index+1, len(s.Segments))), nil
}

// seedFor returns the image segment index starts from: the last frame of the
// closest earlier completed segment, or the session's seed image.
func (o *SegmentOrchestrator) seedFor(ctx context.Context, s *model.Session, index int) (string, *model.Session, error) {
	for j := index - 1; j >= 0; j-- {
		prev := s.Segments[j]
		if prev.Status == model.SegmentCompleted && prev.VideoUrl != "" {
			return o.lastFrame(ctx, s, j)
		}
	}
	return s.SeedImageUrl, s, nil
}

// lastFrame returns the uploaded last frame of segment index, extracting and
// uploading it on the first call.
func (o *SegmentOrchestrator) lastFrame(ctx context.Context, s *model.Session, index int) (string, *model.Session, error) {
	seg := s.Segments[index]
	if seg.LastFrameUrl != "" {
		return seg.LastFrameUrl, s, nil
	}
	frame, err := o.media.ExtractLastFrame(ctx, seg.VideoUrl)
	if err != nil {
		return "", s, err
	}
	url, err := o.blobs.Upload(ctx, storage.FrameKey(o.opts.BattlesPrefix, s.Id, index), bytes.NewReader(frame), "image/jpeg")
	if err != nil {
		return "", s, err
	}
	updated, err := o.store.UpdateSegment(ctx, s.Id, index, model.SegmentPatch{LastFrameUrl: &url})
	if err != nil {
		return "", s, err
	}
	return url, updated, nil
}

func (o *SegmentOrchestrator) pollSegment(ctx context.Context, s *model.Session, index int) (*model.Progress, error) {
	requestId := s.Segments[index].RequestId
	status, err := o.client.PollStatus(ctx, requestId)
	if err != nil {
		slog.WarnContext(ctx, "status check failed", "session_id", s.Id, "segment", index, "error", err)
		return transientProgress(s, err), nil
	}

	switch status.Status {
	case generation.StatusFailed:
		return o.segmentFailed(ctx, s, index, status.Error)
	case generation.StatusCompleted:
		result := status.Result
		if result == nil || result.VideoUrl == "" {
			if result, err = o.client.FetchResult(ctx, requestId); err != nil {
				return o.fetchFailed(ctx, s, index, err)
			}
		}
		s, err = o.store.UpdateSegment(ctx, s.Id, index, model.SegmentPatch{
			VideoUrl:      &result.VideoUrl,
			NotReadyPolls: model.Ptr(0),
			Status:        model.Ptr(model.SegmentCompleted),
		})
		if err != nil {
			return nil, err
		}
		o.count(ctx, "completed")
		slog.InfoContext(ctx, "segment completed", "session_id", s.Id, "segment", index, "video_url", result.VideoUrl)
		return o.segmentCompleted(ctx, s, index)
	default:
		return processingProgress(s, status.ProgressText()), nil
	}
}

// fetchFailed handles a completed job whose result could not be fetched. The
// not-ready count lives on the segment so the bound holds across restarts.
func (o *SegmentOrchestrator) fetchFailed(ctx context.Context, s *model.Session, index int, err error) (*model.Progress, error) {
	if generation.IsNotReady(err) {
		polls := s.Segments[index].NotReadyPolls + 1
		if polls <= o.opts.MaxNotReadyPolls {
			s, err = o.store.UpdateSegment(ctx, s.Id, index, model.SegmentPatch{NotReadyPolls: &polls})
			if err != nil {
				return nil, err
			}
			return processingProgress(s, "Finalizing video..."), nil
		}
		return o.segmentFailed(ctx, s, index, fmt.Sprintf("result still not ready after %d polls", polls))
	}
	if isTransient(err) {
		return transientProgress(s, err), nil
	}
	return o.segmentFailed(ctx, s, index, err.Error())
}

func (o *SegmentOrchestrator) segmentFailed(ctx context.Context, s *model.Session, index int, reason string) (*model.Progress, error) {
	if reason == "" {
		reason = "generation job failed"
	}
	s, err := o.store.UpdateSegment(ctx, s.Id, index, model.SegmentPatch{Status: model.Ptr(model.SegmentFailed)})
	if err != nil {
		return nil, err
	}
	o.count(ctx, "failed")
	msg := fmt.Sprintf("segment %d failed: %s", index+1, reason)
	slog.WarnContext(ctx, "segment failed", "session_id", s.Id, "segment", index, "reason", reason)

	if !s.IsLastSegment(index) {
		s, err = o.store.Update(ctx, s.Id, model.SessionPatch{CurrentSegmentIndex: model.Ptr(index + 1), Error: &msg})
		if err != nil {
			return nil, err
		}
		return processingProgress(s, fmt.Sprintf("Segment %d failed, continuing with segment %d", index+1, index+2)), nil
	}
	s, err = o.store.Update(ctx, s.Id, model.SessionPatch{Status: model.Ptr(model.SessionFailed), Error: &msg})
	if err != nil {
		return nil, err
	}
	return failedProgress(s, msg, false), nil
}

// segmentCompleted continues after segment index has its video: the last
// segment leads to the final video, any other one seeds the next segment.
func (o *SegmentOrchestrator) segmentCompleted(ctx context.Context, s *model.Session, index int) (*model.Progress, error) {
	if s.IsLastSegment(index) {
		return o.finalize(ctx, s)
	}
	_, s, err := o.lastFrame(ctx, s, index)
	if err != nil {
		slog.WarnContext(ctx, "last frame extraction failed", "session_id", s.Id, "segment", index, "error", err)
		return transientProgress(s, err), nil
	}
	if s, err = o.store.Update(ctx, s.Id, model.SessionPatch{CurrentSegmentIndex: model.Ptr(index + 1)}); err != nil {
		return nil, err
	}
	return o.startSegment(ctx, s, index+1)
}

func (o *SegmentOrchestrator) finalize(ctx context.Context, s *model.Session) (*model.Progress, error) {
	urls, skipped := s.CompletedVideoUrls()
	if len(skipped) > 0 {
		slog.WarnContext(ctx, "final video omits segments without a video", "session_id", s.Id, "skipped", skipped)
	}
	if len(urls) == 0 {
		msg := "no segment produced a video"
		s, err := o.store.Update(ctx, s.Id, model.SessionPatch{Status: model.Ptr(model.SessionFailed), Error: &msg})
		if err != nil {
			return nil, err
		}
		return failedProgress(s, msg, false), nil
	}

	finalUrl, err := o.stitch(ctx, s.Id, urls)
	if err != nil {
		msg := fmt.Sprintf("final video assembly failed: %v", err)
		slog.ErrorContext(ctx, "final video assembly failed", "session_id", s.Id, "error", err)
		if s, err = o.store.Update(ctx, s.Id, model.SessionPatch{Status: model.Ptr(model.SessionFailed), Error: &msg}); err != nil {
			return nil, err
		}
		return failedProgress(s, msg, true), nil
	}

	s, err = o.store.Update(ctx, s.Id, model.SessionPatch{
		Status:        model.Ptr(model.SessionCompleted),
		FinalVideoUrl: &finalUrl,
		Error:         model.Ptr(""),
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "battle video completed", "session_id", s.Id, "video_url", finalUrl, "segments", len(urls))
	return completedProgress(s), nil
}

func (o *SegmentOrchestrator) stitch(ctx context.Context, sessionId string, urls []string) (string, error) {
	data, err := o.media.StitchVideos(ctx, urls)
	if err != nil {
		return "", err
	}
	return o.blobs.Upload(ctx, storage.FinalVideoKey(o.opts.BattlesPrefix, sessionId), bytes.NewReader(data), "video/mp4")
}

// LegacyStart submits a single job without a session and returns its request id.
func (o *SegmentOrchestrator) LegacyStart(ctx context.Context, imageUrl string, prompt string) (string, error) {
	if imageUrl == "" {
		return "", errors.New("image url is required")
	}
	if prompt == "" {
		prompt = o.opts.LegacyPrompt
	}
	return o.client.Submit(ctx, prompt, imageUrl, o.opts.Params)
}

// LegacyPoll checks a single job by request id and fetches its result once
// it has completed.
func (o *SegmentOrchestrator) LegacyPoll(ctx context.Context, requestId string) (*model.Progress, error) {
	out := &model.Progress{Status: ProgressProcessing, TotalSegments: 1}
	status, err := o.client.PollStatus(ctx, requestId)
	if err != nil {
		if !isTransient(err) {
			return nil, err
		}
		out.Error, out.Recoverable = err.Error(), true
		return out, nil
	}

	switch status.Status {
	case generation.StatusFailed:
		out.Status = ProgressFailed
		out.Error = status.Error
		if out.Error == "" {
			out.Error = "generation job failed"
		}
	case generation.StatusCompleted:
		result := status.Result
		if result == nil || result.VideoUrl == "" {
			result, err = o.client.FetchResult(ctx, requestId)
		}
		switch {
		case err == nil:
			out.Status, out.VideoUrl, out.AudioUrl = ProgressCompleted, result.VideoUrl, result.AudioUrl
		case isTransient(err):
			out.ProgressMessage, out.Recoverable = "Finalizing video...", true
		default:
			out.Status, out.Error = ProgressFailed, err.Error()
		}
	default:
		out.ProgressMessage = status.ProgressText()
	}
	return out, nil
}

func isTransient(err error) bool {
	return generation.IsNotReady(err) || errors.Is(err, context.DeadlineExceeded) || retry.IsRetryable(err)
}

func (o *SegmentOrchestrator) count(ctx context.Context, outcome string) {
	if o.segments != nil {
		o.segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func progressOf(s *model.Session, status string) *model.Progress {
	return &model.Progress{
		Status:         status,
		SessionId:      s.Id,
		CurrentSegment: s.CurrentSegmentIndex,
		TotalSegments:  len(s.Segments),
	}
}

func processingProgress(s *model.Session, message string) *model.Progress {
	p := progressOf(s, ProgressProcessing)
	p.ProgressMessage = message
	return p
}

// transientProgress reports a condition the next poll may clear. The session
// is left as it was.
func transientProgress(s *model.Session, err error) *model.Progress {
	p := processingProgress(s, "Temporary problem, will retry on the next poll")
	p.Error = err.Error()
	p.Recoverable = true
	return p
}

func completedProgress(s *model.Session) *model.Progress {
	p := progressOf(s, ProgressCompleted)
	p.VideoUrl = s.FinalVideoUrl
	p.ProgressMessage = "Battle video ready"
	return p
}

func failedProgress(s *model.Session, message string, recoverable bool) *model.Progress {
	p := progressOf(s, ProgressFailed)
	p.Error = message
	p.Recoverable = recoverable
	return p
}
