package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	uploadsTotal               atomic.Uint64
	uploadOrphansTotal         atomic.Uint64
	deletesTotal               atomic.Uint64
	avatarUpdatesTotal         atomic.Uint64
	avatarCleanupFailuresTotal atomic.Uint64
	cleanupJobsProcessedTotal  atomic.Uint64
	cleanupJobsFailedTotal     atomic.Uint64
	cleanupJobsDiscardedTotal  atomic.Uint64
	reconcileDeletedBlobsTotal atomic.Uint64
	storeErrorsTotal           atomic.Uint64
	rateLimitedTotal           atomic.Uint64

	uploadDuration = newHistogram([]float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000})
)

// IncUploads increments the completed upload counter.
func IncUploads() {
	uploadsTotal.Add(1)
}

// IncUploadOrphans counts blobs left without metadata after a failed upload.
func IncUploadOrphans() {
	uploadOrphansTotal.Add(1)
}

// IncDeletes increments the completed delete counter.
func IncDeletes() {
	deletesTotal.Add(1)
}

// IncAvatarUpdates increments the avatar replacement counter.
func IncAvatarUpdates() {
	avatarUpdatesTotal.Add(1)
}

// IncAvatarCleanupFailures counts predecessor avatars that could not be deleted inline.
func IncAvatarCleanupFailures() {
	avatarCleanupFailuresTotal.Add(1)
}

// IncCleanupJobsProcessed counts queued blob deletions handled by the worker.
func IncCleanupJobsProcessed() {
	cleanupJobsProcessedTotal.Add(1)
}

// IncCleanupJobsFailed counts queued deletions left on the queue for retry.
func IncCleanupJobsFailed() {
	cleanupJobsFailedTotal.Add(1)
}

// IncCleanupJobsDiscarded counts malformed queue messages dropped without processing.
func IncCleanupJobsDiscarded() {
	cleanupJobsDiscardedTotal.Add(1)
}

// AddReconcileDeletedBlobs counts blobs removed by a reconcile sweep.
func AddReconcileDeletedBlobs(n int) {
	if n > 0 {
		reconcileDeletedBlobsTotal.Add(uint64(n))
	}
}

// IncRateLimited counts requests rejected by a throttle.
func IncRateLimited() {
	rateLimitedTotal.Add(1)
}

// IncStoreErrors counts metadata or blob store failures surfaced to callers.
func IncStoreErrors() {
	storeErrorsTotal.Add(1)
}

// ObserveUploadDurationMs records an upload duration in milliseconds.
func ObserveUploadDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	uploadDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "uploads_total", "Total files uploaded", uploadsTotal.Load())
	writeCounter(&buf, "upload_orphans_total", "Blobs written without metadata", uploadOrphansTotal.Load())
	writeCounter(&buf, "deletes_total", "Total files deleted", deletesTotal.Load())
	writeCounter(&buf, "avatar_updates_total", "Total avatar replacements", avatarUpdatesTotal.Load())
	writeCounter(&buf, "avatar_cleanup_failures_total", "Previous avatars not deleted inline", avatarCleanupFailuresTotal.Load())
	writeCounter(&buf, "cleanup_jobs_processed_total", "Queued blob deletions processed", cleanupJobsProcessedTotal.Load())
	writeCounter(&buf, "cleanup_jobs_failed_total", "Queued blob deletions that failed", cleanupJobsFailedTotal.Load())
	writeCounter(&buf, "cleanup_jobs_discarded_total", "Malformed cleanup messages discarded", cleanupJobsDiscardedTotal.Load())
	writeCounter(&buf, "reconcile_deleted_blobs_total", "Orphan blobs removed by reconcile", reconcileDeletedBlobsTotal.Load())
	writeCounter(&buf, "store_errors_total", "Metadata or blob store failures", storeErrorsTotal.Load())
	writeCounter(&buf, "rate_limited_total", "Requests rejected by rate limiting", rateLimitedTotal.Load())
	writeHistogram(&buf, "upload_duration_ms", "Upload duration in milliseconds", uploadDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// SinceMillis returns the elapsed time since start in milliseconds.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
