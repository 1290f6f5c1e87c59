package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"docsync/internal/api"
	"docsync/internal/config"
	"docsync/internal/db"
	"docsync/internal/extensions/database"
	redisext "docsync/internal/extensions/redis"
	"docsync/internal/hooks"
	"docsync/internal/repository"
	"docsync/internal/server"
	"docsync/internal/telemetry"
	"docsync/internal/transport/ws"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

This main function demonstrates:
1. Service initialization and dependency injection
2. Extension pipeline assembly (persistence + replication)
3. Distributed tracing with Jaeger
4. Graceful shutdown handling (listening for SIGINT/SIGTERM)
5. Proper resource cleanup order
*/

func main() {
	log.Println("🚀 Starting document collaboration server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Initialize Jaeger tracing
	// Learning: Do this FIRST so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("docsync", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Initialize GORM database for document snapshots
	gormDB, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer gormDB.Close()

	snapshotRepo := repository.NewSnapshotRepository(gormDB.DB)

	// Initialize Redis client for multi-instance replication
	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	// Assemble the extension pipeline
	// Learning: Persistence and replication are extensions like any other;
	// the core server never touches Postgres or Redis directly.
	extensions := []hooks.Extension{
		database.New(snapshotRepo, database.WithSnapshotRetention(20)),
		redisext.New(rdb, redisext.Options{
			Prefix:            cfg.RedisPrefix,
			AwarenessThrottle: cfg.AwarenessThrottle,
		}),
	}

	srv := server.New(server.Config{
		Debounce:    cfg.Debounce,
		MaxDebounce: cfg.MaxDebounce,
		HookTimeout: cfg.HookTimeout,
		Extensions:  extensions,
	})

	// Setup routes
	wsHandler := ws.NewHandler(srv)
	router := api.SetupRoutes(srv, wsHandler)

	// Configure HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	// Learning: This allows us to handle shutdown signals concurrently
	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 Endpoints:")
		log.Printf("   GET /ws                    - Collaboration WebSocket")
		log.Printf("   GET /api/stats             - Server statistics")
		log.Printf("   GET /api/documents         - List loaded documents")
		log.Printf("   GET /api/documents/:name   - Inspect one document")
		log.Printf("   GET /metrics               - Prometheus metrics")
		log.Println()

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting HTTP traffic first, then flush documents.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Learning: Server.Close forces a final save for every document with
	// pending changes, so a clean shutdown never loses edits.
	if err := srv.Close(ctx); err != nil {
		log.Printf("⚠️  Collaboration server shutdown: %v", err)
	}

	log.Println("✓ Server shutdown complete")
}
