// Package pipeline drives accepted submissions from acquisition through
// transcode to the adaptive outputs. One driver goroutine owns each job and
// is the only writer of its record until a terminal stage is reported.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lightcast/ingest-api/cleanup"
	"github.com/lightcast/ingest-api/clients"
	"github.com/lightcast/ingest-api/config"
	"github.com/lightcast/ingest-api/jobstore"
	"github.com/lightcast/ingest-api/log"
	"github.com/lightcast/ingest-api/metrics"
	"github.com/lightcast/ingest-api/storage"
	"github.com/lightcast/ingest-api/transcode"
	"github.com/lightcast/ingest-api/video"
)

// Route identifies how a submission arrived; it picks the stage plan and the
// acquisition step.
type Route string

const (
	RouteMultipart Route = "multipart"
	RouteRemote    Route = "remote"
	RouteYtDlp     Route = "yt-dlp"
)

// SubmissionOptions carries per-request encode overrides.
type SubmissionOptions struct {
	CRF     *uint
	CPUUsed *uint
}

type Coordinator struct {
	Jobs      jobstore.Store
	Storage   *storage.Storage
	Cleanup   *cleanup.Engine
	Prober    video.Prober
	Segmenter *transcode.Segmenter

	encoder     string
	vaapiDevice string
	defaultCRF  uint
	defaultCPU  uint

	// overridable in tests
	transcodeFn func(ctx context.Context, configuredEncoder string, req transcode.TranscodeRequest) error
	segmentFn   func(ctx context.Context, id uuid.UUID) error
	posterFn    func(input, output string, durationSec float64) error
}

func NewCoordinator(cli config.Cli, store jobstore.Store, st *storage.Storage, cleanupEngine *cleanup.Engine) *Coordinator {
	c := &Coordinator{
		Jobs:        store,
		Storage:     st,
		Cleanup:     cleanupEngine,
		Prober:      video.Probe{},
		encoder:     cli.Encoder,
		vaapiDevice: cli.VAAPIDevice,
		defaultCRF:  cli.DefaultQuality,
		defaultCPU:  cli.DefaultCPUUsed,
	}
	c.Segmenter = &transcode.Segmenter{Storage: st, Prober: c.Prober}
	c.transcodeFn = transcode.RunTranscode
	c.segmentFn = c.Segmenter.GenerateAdaptive
	c.posterFn = transcode.ExtractPoster
	return c
}

// StartLocalJob finalizes a multipart upload whose bytes the handler already
// streamed to the incoming path. The handler has reported the uploading
// stage; the driver picks up from transcoding.
func (c *Coordinator) StartLocalJob(id uuid.UUID, opts SubmissionOptions) {
	c.startJobAsync(id, RouteMultipart, nil, opts)
}

// StartRemoteJob acquires the source over HTTP or aria2, chosen by URL shape.
func (c *Coordinator) StartRemoteJob(id uuid.UUID, downloader clients.Downloader, sourceURL string, opts SubmissionOptions) {
	acquire := func(ctx context.Context) error {
		dest := c.Storage.IncomingPath(id)
		switch downloader {
		case clients.DownloaderAria2:
			err := clients.FetchAria2(ctx, id.String(), sourceURL, dest)
			if err == nil {
				c.Jobs.UpdateProgress(id, 1.0)
			}
			return err
		default:
			return clients.FetchHTTP(ctx, id.String(), sourceURL, dest, func(p float64) {
				c.Jobs.UpdateProgress(id, p)
			})
		}
	}
	c.startJobAsync(id, RouteRemote, acquire, opts)
}

// StartYtDlpJob acquires the source through yt-dlp.
func (c *Coordinator) StartYtDlpJob(id uuid.UUID, sourceURL string, opts SubmissionOptions) {
	acquire := func(ctx context.Context) error {
		err := clients.FetchYtDlp(ctx, id.String(), sourceURL, c.Storage.IncomingPath(id))
		if err == nil {
			c.Jobs.UpdateProgress(id, 1.0)
		}
		return err
	}
	c.startJobAsync(id, RouteYtDlp, acquire, opts)
}

// startJobAsync spawns the driver goroutine. Panics and errors both end as a
// failed job; the pipeline never retries internally.
func (c *Coordinator) startJobAsync(id uuid.UUID, route Route, acquire func(context.Context) error, opts SubmissionOptions) {
	metrics.Metrics.JobsInFlight.Inc()
	go func() {
		defer metrics.Metrics.JobsInFlight.Dec()
		start := time.Now()
		err := recovered(func() error {
			return c.runPipeline(context.Background(), id, route, acquire, opts)
		})
		success := err == nil
		if err != nil {
			log.LogError(id.String(), "pipeline failed", err)
			c.Jobs.Fail(id, err.Error())
			c.removeIncoming(id, true)
		}
		metrics.Metrics.PipelineDurationSec.WithLabelValues(string(route), strconv.FormatBool(success)).Observe(time.Since(start).Seconds())
		metrics.Metrics.PipelineResults.WithLabelValues(strconv.FormatBool(success)).Inc()
	}()
}

func (c *Coordinator) runPipeline(ctx context.Context, id uuid.UUID, route Route, acquire func(context.Context) error, opts SubmissionOptions) error {
	if err := c.Cleanup.EnsureFreeSpace(id.String()); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	incoming := c.Storage.IncomingPath(id)
	if acquire != nil {
		c.Jobs.UpdateStage(id, jobstore.StageDownloading)
		if err := acquire(ctx); err != nil {
			return err
		}
	}

	c.Jobs.UpdateStage(id, jobstore.StageTranscoding)

	// A failed probe is not fatal: the encode still runs, with stderr
	// drained instead of parsed and audio stripped.
	info, err := c.Prober.ProbeFile(id.String(), incoming)
	if err != nil {
		log.LogError(id.String(), "probe of source failed, encoding without progress telemetry", err)
		info = video.MediaInfo{}
	}

	if err := c.Storage.EnsureVideoDir(id); err != nil {
		return err
	}
	output := c.Storage.DownloadPath(id)
	transcodeStart := time.Now()
	err = c.transcodeFn(ctx, c.encoder, transcode.TranscodeRequest{
		JobID:       id.String(),
		InputPath:   incoming,
		OutputPath:  output,
		DurationSec: info.DurationSec,
		HasAudio:    info.HasAudio,
		Opts:        c.encodeOptions(opts),
		OnProgress:  func(p float64) { c.Jobs.UpdateProgress(id, p) },
		OnETA:       func(eta float64) { c.Jobs.UpdateStageETA(id, &eta) },
	})
	if err != nil {
		return err
	}
	metrics.Metrics.TranscodeDurationSec.Observe(time.Since(transcodeStart).Seconds())

	c.removeIncoming(id, false)

	// best effort: a missing poster never fails the job
	if err := c.posterFn(output, c.Storage.PosterPath(id), info.DurationSec); err != nil {
		log.LogError(id.String(), "poster extraction failed", err)
	}

	c.Jobs.UpdateProgress(id, 0.95)
	c.Jobs.UpdateStage(id, jobstore.StageFinalizing)

	if err := c.segmentFn(ctx, id); err != nil {
		return err
	}

	c.Jobs.UpdateProgress(id, 1.0)
	zero := float64(0)
	c.Jobs.UpdateStageETA(id, &zero)
	c.Jobs.Complete(id)
	log.Log(id.String(), "pipeline complete")
	return nil
}

func (c *Coordinator) encodeOptions(opts SubmissionOptions) transcode.EncodeOptions {
	eo := transcode.EncodeOptions{
		CRF:         c.defaultCRF,
		CPUUsed:     c.defaultCPU,
		VAAPIDevice: c.vaapiDevice,
	}
	if opts.CRF != nil {
		eo.CRF = *opts.CRF
	}
	if opts.CPUUsed != nil {
		eo.CPUUsed = *opts.CPUUsed
	}
	return eo
}

// removeIncoming deletes the temp source file. Not-found is expected on the
// local route once transcoding has consumed it; other errors are only worth
// a log line on the failure path.
func (c *Coordinator) removeIncoming(id uuid.UUID, bestEffort bool) {
	err := os.Remove(c.Storage.IncomingPath(id))
	if err == nil || os.IsNotExist(err) {
		return
	}
	if bestEffort {
		log.LogError(id.String(), "failed to remove incoming file", err)
		return
	}
	log.LogError(id.String(), "failed to remove incoming file after transcode", err)
}

func recovered(f func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoJobID("panic in pipeline goroutine, recovering", "err", rec)
			err = fmt.Errorf("panic in pipeline: %v", rec)
		}
	}()
	return f()
}
