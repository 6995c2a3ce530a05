/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tanker dispatch server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment), then apply flags
  2. Open the tanker day store (memory, SQLite or PostgreSQL)
  3. Open the POD file store (memory or S3)
  4. Build the dispatch service with Prometheus metrics
  5. Configure HTTP router and start the missing-POD sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database
  -demo    Load the busy-depot scenario on startup (overrides DEMO)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/dispatch.db"

  # Run against PostgreSQL with POD files in MinIO
  DB_DRIVER=postgres DATABASE_URL=postgres://... \
  POD_DRIVER=s3 POD_S3_BUCKET=pods POD_S3_ENDPOINT=http://localhost:9000 POD_S3_PATH_STYLE=true \
  ./server

  # Demo data on a throwaway database
  ./server -db=":memory:" -demo

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Missing-POD sweeper
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/tanker-dispatch/api"
	"github.com/warp/tanker-dispatch/config"
	"github.com/warp/tanker-dispatch/dispatch"
	"github.com/warp/tanker-dispatch/dispatch/store"
	"github.com/warp/tanker-dispatch/metrics"
	"github.com/warp/tanker-dispatch/pod"
	"github.com/warp/tanker-dispatch/store/postgres"
	"github.com/warp/tanker-dispatch/store/sqlite"
)

// backend is what every store driver provides.
type backend interface {
	dispatch.Repository
	dispatch.TankerDirectory
	dispatch.Resetter
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	demo := flag.Bool("demo", cfg.Demo, "Load the busy-depot scenario on startup")
	flag.Parse()
	cfg.Port, cfg.DBPath, cfg.Demo = *port, *dbPath, *demo

	ctx := context.Background()

	// Initialize stores
	db, closer, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer closer.Close()

	pods, err := openPODStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize POD store: %v", err)
	}

	// Initialize service and handler
	loc := cfg.Location()
	recorder := metrics.New()
	svc := dispatch.NewService(db, db,
		dispatch.WithClock(func() time.Time { return time.Now().In(loc) }),
		dispatch.WithMetrics(recorder),
	)

	handler := api.NewHandler(svc, pods, db)
	handler.PODDeadline = cfg.PODDeadline
	handler.SweepLookback = cfg.SweepLookback

	if cfg.Demo {
		if err := handler.LoadScenarioByID(ctx, "busy-depot", nil); err != nil {
			log.Printf("Warning: Failed to load demo scenario: %v", err)
		} else {
			log.Println("Loaded demo scenario busy-depot")
		}
	}

	// Start the missing-POD sweeper
	sweeper := api.NewPODSweepScheduler(svc)
	sweeper.Observer = recorder
	sweeper.CheckInterval = cfg.SweepInterval
	sweeper.Deadline = cfg.PODDeadline
	sweeper.LookbackDays = cfg.SweepLookback
	sweeper.Start()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     recorder.Handler(),
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(ctx context.Context, cfg config.Config) (backend, io.Closer, error) {
	switch cfg.DBDriver {
	case "memory":
		log.Println("Using in-memory store")
		return store.NewMemory(), nopCloser{}, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Println("Using PostgreSQL store")
		return s, s, nil
	default:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Using SQLite store at %s", cfg.DBPath)
		return s, s, nil
	}
}

func openPODStore(ctx context.Context, cfg config.Config) (pod.Store, error) {
	if cfg.PODDriver != "s3" {
		log.Println("Using in-memory POD store; files are lost on restart")
		return pod.NewMemory(), nil
	}
	s, err := pod.NewS3(ctx, pod.S3Config{
		Bucket:          cfg.PODS3Bucket,
		Region:          cfg.PODS3Region,
		Endpoint:        cfg.PODS3Endpoint,
		AccessKeyID:     cfg.PODS3AccessKey,
		SecretAccessKey: cfg.PODS3SecretKey,
		PathStyle:       cfg.PODS3PathStyle,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Using S3 POD store in bucket %s", cfg.PODS3Bucket)
	return s, nil
}
