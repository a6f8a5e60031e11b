package s3

import (
	"sync"
	"time"

	"github.com/objectfs/bucketcache/internal/metrics"
)

// BackendMetrics tracks S3 backend performance metrics
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`

	Retries            int64 `json:"retries"`
	MultipartUploads   int64 `json:"multipart_uploads"`
	CargoShipUploads   int64 `json:"cargoship_uploads"`
	CargoShipFallbacks int64 `json:"cargoship_fallbacks"`
}

// ErrorRate returns the share of failed requests.
func (m BackendMetrics) ErrorRate() float64 {
	if m.Requests == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Requests)
}

// metricsRecorder keeps the in-process counters and forwards each call to
// the Prometheus collector.
type metricsRecorder struct {
	mu        sync.Mutex
	metrics   BackendMetrics
	collector *metrics.Collector
	now       func() time.Time
}

func newMetricsRecorder(collector *metrics.Collector) *metricsRecorder {
	return &metricsRecorder{collector: collector, now: time.Now}
}

// record tracks one remote call. Positive bytes count as uploaded for
// writes and downloaded for reads.
func (r *metricsRecorder) record(operation string, duration time.Duration, bytes int64, upload bool, err error) {
	r.mu.Lock()
	r.metrics.Requests++
	if err != nil {
		r.metrics.Errors++
		r.metrics.LastError = err.Error()
		r.metrics.LastErrorTime = r.now()
	}
	if bytes > 0 && err == nil {
		if upload {
			r.metrics.BytesUploaded += bytes
		} else {
			r.metrics.BytesDownloaded += bytes
		}
	}

	// rolling average
	if r.metrics.Requests == 1 {
		r.metrics.AverageLatency = duration
	} else {
		r.metrics.AverageLatency = time.Duration(
			(int64(r.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
	r.mu.Unlock()

	r.collector.RecordRemoteOperation(operation, duration, bytes, err)
}

func (r *metricsRecorder) retried() {
	r.mu.Lock()
	r.metrics.Retries++
	r.mu.Unlock()
}

func (r *metricsRecorder) multipart() {
	r.mu.Lock()
	r.metrics.MultipartUploads++
	r.mu.Unlock()
}

func (r *metricsRecorder) cargoShip(fellBack bool) {
	r.mu.Lock()
	if fellBack {
		r.metrics.CargoShipFallbacks++
	} else {
		r.metrics.CargoShipUploads++
	}
	r.mu.Unlock()
}

func (r *metricsRecorder) snapshot() BackendMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}
