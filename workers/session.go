package workers

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/camden-git/photoner/config"
	"github.com/google/uuid"
)

// BatchSession holds the run-scoped counters of one orchestrator run. It is
// shared by the workers of that run and discarded afterwards.
type BatchSession struct {
	ID        string
	Mode      config.Mode
	StartedAt time.Time
	Queued    int

	consecutive    atomic.Int32
	maxConsecutive int32

	mu            sync.Mutex
	successful    int
	failed        int
	skipped       int
	totalDuration time.Duration
	originalBytes int64
	enhancedBytes int64
}

func NewBatchSession(mode config.Mode, queued, maxConsecutive int, now time.Time) *BatchSession {
	return &BatchSession{
		ID:             uuid.NewString(),
		Mode:           mode,
		StartedAt:      now,
		Queued:         queued,
		maxConsecutive: int32(maxConsecutive),
	}
}

// RecordSuccess counts a success and resets the consecutive-failure counter.
func (s *BatchSession) RecordSuccess(d time.Duration, originalBytes, enhancedBytes int64) {
	s.consecutive.Store(0)
	s.mu.Lock()
	s.successful++
	s.totalDuration += d
	s.originalBytes += originalBytes
	s.enhancedBytes += enhancedBytes
	s.mu.Unlock()
}

// RecordFailure counts a failure and reports whether the abort threshold has
// been reached.
func (s *BatchSession) RecordFailure() bool {
	n := s.consecutive.Add(1)
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
	return s.maxConsecutive > 0 && n >= s.maxConsecutive
}

// RecordSkip counts a validation skip. The failure streak is left alone.
func (s *BatchSession) RecordSkip() {
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
}

func (s *BatchSession) ConsecutiveFailures() int {
	return int(s.consecutive.Load())
}

// BatchMetrics is the end-of-batch report.
type BatchMetrics struct {
	SessionID           string        `json:"session_id"`
	Mode                config.Mode   `json:"mode"`
	State               State         `json:"state"`
	Queued              int           `json:"queued"`
	Attempted           int           `json:"attempted"`
	Successful          int           `json:"successful"`
	Failed              int           `json:"failed"`
	Skipped             int           `json:"skipped"`
	NotAttempted        int           `json:"not_attempted"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Duration            time.Duration `json:"duration"`
	AvgProcessingTime   float64       `json:"avg_processing_time"` // seconds per successful item
	ImagesPerMinute     float64       `json:"images_per_minute"`
	ErrorRate           float64       `json:"error_rate"` // percent of attempted
	OriginalBytes       int64         `json:"original_bytes"`
	EnhancedBytes       int64         `json:"enhanced_bytes"`
	TempFilesSwept      int           `json:"temp_files_swept"`
}

// Metrics folds the counters into a report as of now.
func (s *BatchSession) Metrics(state State, now time.Time) BatchMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempted := s.successful + s.failed + s.skipped
	m := BatchMetrics{
		SessionID:           s.ID,
		Mode:                s.Mode,
		State:               state,
		Queued:              s.Queued,
		Attempted:           attempted,
		Successful:          s.successful,
		Failed:              s.failed,
		Skipped:             s.skipped,
		NotAttempted:        s.Queued - attempted,
		ConsecutiveFailures: int(s.consecutive.Load()),
		Duration:            now.Sub(s.StartedAt),
		OriginalBytes:       s.originalBytes,
		EnhancedBytes:       s.enhancedBytes,
	}
	if m.NotAttempted < 0 {
		m.NotAttempted = 0
	}
	if s.successful > 0 {
		m.AvgProcessingTime = s.totalDuration.Seconds() / float64(s.successful)
	}
	if minutes := m.Duration.Minutes(); minutes > 0 {
		m.ImagesPerMinute = float64(attempted) / minutes
	}
	if attempted > 0 {
		m.ErrorRate = float64(s.failed) / float64(attempted) * 100
	}
	return m
}
