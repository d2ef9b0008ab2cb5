package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type IngestAPIMetrics struct {
	UploadRequestCount     *prometheus.CounterVec
	HTTPRequestsInFlight   prometheus.Gauge
	JobsInFlight           prometheus.Gauge
	PipelineDurationSec    *prometheus.SummaryVec
	PipelineResults        *prometheus.CounterVec
	TranscodeDurationSec   prometheus.Histogram
	SegmentingDurationSec  *prometheus.HistogramVec
	DownloadedBytesTotal   *prometheus.CounterVec
	CleanupPrunedJobsTotal prometheus.Counter
	CleanupFreedCheckTotal prometheus.Counter
}

func NewMetrics() *IngestAPIMetrics {
	m := &IngestAPIMetrics{
		UploadRequestCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_request_count",
			Help: "The total number of submissions, broken up by ingest route",
		}, []string{"route"}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "The number of HTTP requests currently in flight",
		}),
		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "jobs_in_flight",
			Help: "The number of pipeline jobs currently running",
		}),
		PipelineDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "pipeline_duration_seconds",
			Help: "The time that ingest pipelines take to run, broken up by route and success",
		}, []string{"route", "success"}),
		PipelineResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_results",
			Help: "Number of pipeline runs, broken up by success",
		}, []string{"success"}),
		TranscodeDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcode_duration_seconds",
			Help:    "Time taken to transcode the progressive output",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		SegmentingDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "segmenting_duration_seconds",
			Help:    "Time taken to produce the adaptive outputs, broken up by format",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"format"}),
		DownloadedBytesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "downloaded_bytes_total",
			Help: "Total bytes pulled from remote sources, broken up by downloader",
		}, []string{"downloader"}),
		CleanupPrunedJobsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cleanup_pruned_jobs_total",
			Help: "Number of jobs whose derived artifacts were pruned by the cleanup engine",
		}),
		CleanupFreedCheckTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cleanup_disk_check_total",
			Help: "Number of disk free-space checks performed by the cleanup engine",
		}),
	}

	return m
}

var Metrics = NewMetrics()
