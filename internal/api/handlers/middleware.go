package handlers

import (
	"chat-service/internal/auth"
	"chat-service/internal/logger"
	"chat-service/internal/ratelimit"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EnableCORS allows the configured frontend origin to call the API
func EnableCORS(origin string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "Retry-After, "+persistenceWarningHeader)
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// RateLimit admits the authenticated caller through limiter or answers 429.
// It must run after auth.AuthMiddleware.
func RateLimit(limiter *ratelimit.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserFromContext(r.Context())
		if !ok {
			sendError(w, http.StatusUnauthorized, "Missing user identity", nil)
			return
		}

		if err := limiter.Admit(userID); err != nil {
			var limitErr *ratelimit.LimitError
			if errors.As(err, &limitErr) {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limitErr.RetryAfter)))
			}
			logger.Log.WithFields(logrus.Fields{"user_id": userID}).Warn("Rate limit exceeded")
			sendError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.", nil)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// LatencyTracker records how long the most recent wrapped request took
type LatencyTracker struct {
	mu       sync.RWMutex
	last     time.Duration
	measured bool
}

// NewLatencyTracker creates a tracker with no measurement yet
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{}
}

// statusRecorder remembers the status written through it and keeps streaming available
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Track wraps next and records its duration when it returns.
// Requests rejected before streaming started (non-200) are not recorded.
func (t *LatencyTracker) Track(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		if rec.status != http.StatusOK {
			return
		}

		t.mu.Lock()
		t.last = elapsed
		t.measured = true
		t.mu.Unlock()

		logger.Log.WithField("latency_ms", elapsed.Milliseconds()).Info("Inference latency")
	}
}

// LastMillis returns the latest measurement in milliseconds, or nil before the first one
func (t *LatencyTracker) LastMillis() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.measured {
		return nil
	}
	ms := float64(t.last) / float64(time.Millisecond)
	return &ms
}
