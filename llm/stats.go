package llm

import (
	"sync"
	"time"
)

// Stats tracks running usage counters for one provider adapter. The
// average response time is maintained incrementally over successful
// requests only.
type Stats struct {
	mu sync.Mutex

	totalRequests      int
	successfulRequests int
	failedRequests     int
	totalTokens        int
	lastRequestTime    time.Time
	avgResponseTime    time.Duration
}

// StatsSnapshot is a point-in-time copy of a provider's counters.
type StatsSnapshot struct {
	Provider            string        `json:"provider"`
	TotalRequests       int           `json:"total_requests"`
	SuccessfulRequests  int           `json:"successful_requests"`
	FailedRequests      int           `json:"failed_requests"`
	TotalTokens         int           `json:"total_tokens"`
	LastRequestTime     time.Time     `json:"last_request_time"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	SuccessRate         float64       `json:"success_rate"`
}

// Record folds one completed request into the counters.
func (s *Stats) Record(success bool, responseTime time.Duration, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++
	if success {
		s.successfulRequests++
	} else {
		s.failedRequests++
	}
	s.totalTokens += tokens
	s.lastRequestTime = time.Now()

	if success && responseTime > 0 {
		n := s.successfulRequests
		total := s.avgResponseTime*time.Duration(n-1) + responseTime
		s.avgResponseTime = total / time.Duration(n)
	}
}

// Snapshot returns a copy of the counters labeled with the provider name.
func (s *Stats) Snapshot(provider string) StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Provider:            provider,
		TotalRequests:       s.totalRequests,
		SuccessfulRequests:  s.successfulRequests,
		FailedRequests:      s.failedRequests,
		TotalTokens:         s.totalTokens,
		LastRequestTime:     s.lastRequestTime,
		AverageResponseTime: s.avgResponseTime,
	}
	if s.totalRequests > 0 {
		snap.SuccessRate = float64(s.successfulRequests) / float64(s.totalRequests)
	}
	return snap
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests = 0
	s.successfulRequests = 0
	s.failedRequests = 0
	s.totalTokens = 0
	s.lastRequestTime = time.Time{}
	s.avgResponseTime = 0
}
