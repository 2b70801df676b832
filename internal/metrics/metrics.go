package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	SegmentsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_segments_uploaded_total",
		Help: "Number of media segments stored durably",
	})
	UploadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_upload_retries_total",
		Help: "Number of segment uploads that were requeued after a transient failure",
	})
	UploadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_upload_failures_total",
		Help: "Number of segment uploads that failed permanently",
	})
	ActiveUploads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active_uploads",
		Help: "Number of uploads currently in flight",
	})
	TranscodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "worker_transcode_duration_seconds",
		Help:    "Wall time of the external encoding process",
		Buckets: prometheus.LinearBuckets(10, 10, 10),
	})
)

// Serve exposes /metrics on the given address in the background.
func Serve(bind string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		log.Info().Str("bind", bind).Msg("serving metrics")
		if err := http.ListenAndServe(bind, mux); err != nil {
			log.Err(err).Msg("metrics server failed")
		}
	}()
}
