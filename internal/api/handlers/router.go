package handlers

import (
	"chat-service/internal/app"
	"chat-service/internal/auth"
	"net/http"
)

// NewRouter wires every route onto a Go 1.22+ method-aware ServeMux
func NewRouter(config *app.Config, login *auth.LoginHandler) http.Handler {
	chatHandler := NewChatHandlers(config)
	latency := NewLatencyTracker()
	monitor := NewMonitorHandlers(latency, config.Store, config.Limiter)

	origin := config.AppConfig.Server.FrontendOrigin
	public := func(h http.HandlerFunc) http.HandlerFunc {
		return EnableCORS(origin, h)
	}
	protected := func(h http.HandlerFunc) http.HandlerFunc {
		return EnableCORS(origin, auth.AuthMiddleware(config.Resolver, h))
	}
	// Rate limiting runs before the session lookup, so an exhausted caller gets 429 even for unknown sessions.
	generate := protected(RateLimit(config.Limiter, latency.Track(chatHandler.GenerateStreamHandler)))

	preflight := EnableCORS(origin, func(w http.ResponseWriter, r *http.Request) {})

	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("POST /auth/token", public(login.HandleToken))
	mux.HandleFunc("GET /health", public(monitor.HealthHandler))
	mux.HandleFunc("GET /metrics", public(monitor.MetricsHandler))

	// Protected routes
	mux.HandleFunc("POST /sessions", protected(chatHandler.CreateSessionHandler))
	mux.HandleFunc("GET /sessions", protected(chatHandler.ListSessionsHandler))
	mux.HandleFunc("DELETE /sessions/{id}", protected(chatHandler.DeleteSessionHandler))
	mux.HandleFunc("GET /sessions/{id}/history", protected(chatHandler.GetHistoryHandler))
	mux.HandleFunc("POST /sessions/{id}/generate", generate)
	mux.HandleFunc("POST /generate/stream/{id}", generate)

	mux.HandleFunc("OPTIONS /", preflight)

	return mux
}
