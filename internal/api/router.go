package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docsync/internal/middleware"
	"docsync/internal/server"
	"docsync/internal/transport/ws"
)

// SetupRoutes wires the admin surface and the WebSocket endpoint.
func SetupRoutes(srv *server.Server, wsHandler *ws.Handler) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)       // Add tracing spans to all requests
	r.Use(middleware.ErrorRecoveryMiddleware) // Catch panics
	r.Use(middleware.CORSMiddleware)          // Handle CORS

	h := &Handler{srv: srv}

	// Admin/observability surface
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", h.Stats).Methods("GET")
	api.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	api.HandleFunc("/documents/{name}", h.GetDocument).Methods("GET")

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler())

	// Collaboration endpoint
	r.Handle("/ws", wsHandler)

	return r
}
