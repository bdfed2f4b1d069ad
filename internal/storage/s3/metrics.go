package s3

import (
	"sync"
	"time"
)

// BackendMetrics tracks S3 backend request statistics
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`
}

// requestStats aggregates BackendMetrics under a lock
type requestStats struct {
	mu      sync.RWMutex
	metrics BackendMetrics
}

func (s *requestStats) record(duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Requests++
	if err != nil {
		s.metrics.Errors++
		s.metrics.LastError = err.Error()
		s.metrics.LastErrorTime = time.Now()
	}

	// Calculate rolling average latency
	if s.metrics.Requests == 1 {
		s.metrics.AverageLatency = duration
	} else {
		s.metrics.AverageLatency = time.Duration(
			(int64(s.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

func (s *requestStats) addUploaded(n int64) {
	s.mu.Lock()
	s.metrics.BytesUploaded += n
	s.mu.Unlock()
}

func (s *requestStats) addDownloaded(n int64) {
	s.mu.Lock()
	s.metrics.BytesDownloaded += n
	s.mu.Unlock()
}

func (s *requestStats) snapshot() BackendMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}
