// Package metrics holds the Prometheus collectors of the editor service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload outcomes
const (
	OutcomeSuccess      = "success"
	OutcomeFailed       = "failed"
	OutcomeInvalid      = "invalid"
	OutcomeDeduplicated = "deduplicated"
	OutcomeOffline      = "offline"
)

var (
	UploadQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cms_upload_queue_depth",
		Help: "Number of uploads waiting for the media worker.",
	})
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cms_uploads_total",
		Help: "Uploads by outcome.",
	}, []string{"outcome"})
	CompressionFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_compression_fallbacks_total",
		Help: "Images kept uncompressed because compression failed or did not shrink them.",
	})

	ImageCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_image_cache_hits_total",
		Help: "Image optimization cache hits.",
	})
	ImageCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_image_cache_misses_total",
		Help: "Image optimization cache misses.",
	})
	ImageCacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_image_cache_evictions_total",
		Help: "Entries removed from the image optimization cache.",
	})
	ImageCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cms_image_cache_bytes",
		Help: "Bytes held by the image optimization cache.",
	})

	AutoSaveAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cms_autosave_attempts_total",
		Help: "Auto-save persistence attempts by outcome.",
	}, []string{"outcome"})
)
