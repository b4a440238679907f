package handlers

import (
	"chat-service/internal/ratelimit"
	"chat-service/internal/repository/db"
	"net/http"
	"runtime"
)

type MemoryMetrics struct {
	HeapAllocMB uint64 `json:"heap_alloc_mb"`
	SysMB       uint64 `json:"sys_mb"`
}

type StoreMetrics struct {
	Users    int `json:"users"`
	Sessions int `json:"sessions"`
	Entries  int `json:"entries"`
}

type RateLimitMetrics struct {
	TrackedUsers int `json:"tracked_users"`
}

type MetricsResponse struct {
	InferenceTimeMS *float64          `json:"inference_time_ms"`
	Memory          MemoryMetrics     `json:"memory"`
	Store           *StoreMetrics     `json:"store,omitempty"`
	RateLimit       *RateLimitMetrics `json:"rate_limit,omitempty"`
}

// statsReporter is implemented by stores that can count their contents
type statsReporter interface {
	Stats() (users, sessions, entries int)
}

// MonitorHandlers serves health and metrics endpoints
type MonitorHandlers struct {
	latency *LatencyTracker
	stats   statsReporter
	limiter *ratelimit.Limiter
}

// NewMonitorHandlers creates a new MonitorHandlers; store counts are reported when store supports them
func NewMonitorHandlers(latency *LatencyTracker, store db.SessionStore, limiter *ratelimit.Limiter) *MonitorHandlers {
	stats, _ := store.(statsReporter)
	return &MonitorHandlers{latency: latency, stats: stats, limiter: limiter}
}

// HealthHandler reports liveness
func (mh *MonitorHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// MetricsHandler reports the last generation latency and process memory
func (mh *MonitorHandlers) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := MetricsResponse{
		InferenceTimeMS: mh.latency.LastMillis(),
		Memory: MemoryMetrics{
			HeapAllocMB: mem.HeapAlloc / (1024 * 1024),
			SysMB:       mem.Sys / (1024 * 1024),
		},
	}

	if mh.stats != nil {
		users, sessions, entries := mh.stats.Stats()
		resp.Store = &StoreMetrics{Users: users, Sessions: sessions, Entries: entries}
	}

	if mh.limiter != nil {
		resp.RateLimit = &RateLimitMetrics{TrackedUsers: mh.limiter.Tracked()}
	}

	sendJSON(w, http.StatusOK, resp)
}
