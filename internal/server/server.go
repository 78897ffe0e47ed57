// Package server provides the HTTP REST API for the matchmaking service.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pathfinder/matchmaker/internal/coord"
	"github.com/pathfinder/matchmaker/internal/db"
)

// Queries is the read surface the handlers need from durable storage
type Queries interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*db.Run, error)
	ListRuns(ctx context.Context, limit int) ([]db.Run, error)
	ListSteps(ctx context.Context, runID uuid.UUID) ([]db.Step, error)
	ListMatchesByRun(ctx context.Context, runID uuid.UUID, limit int) ([]db.Match, error)
	ListMatchesByResearcher(ctx context.Context, researcherID int64, limit int) ([]db.Match, error)
	ListMatchesByOpportunity(ctx context.Context, opportunityID int64, limit int) ([]db.Match, error)
}

// Runs is the run lifecycle surface, satisfied by *supervisor.Supervisor
type Runs interface {
	Start(ctx context.Context, trigger string, researcherIDs, opportunityIDs []int64) (uuid.UUID, error)
	Cancel(ctx context.Context, runID uuid.UUID) (bool, error)
}

// Config holds server configuration
type Config struct {
	Port int
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	queries    Queries
	runs       Runs
	coord      *coord.Store
	validate   *validator.Validate
}

// New creates a server over its storage, coordination, and run-lifecycle
// dependencies
func New(cfg Config, queries Queries, runs Runs, coordStore *coord.Store) *Server {
	s := &Server{
		queries:  queries,
		runs:     runs,
		coord:    coordStore,
		validate: validator.New(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs", s.handleStartRun)
	mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/progress", s.handleRunProgress)
	mux.HandleFunc("GET /runs/{id}/logs/stream", s.handleStreamLogs)
	mux.HandleFunc("GET /runs/{id}/matches/csv", s.handleExportMatchesCSV)
	mux.HandleFunc("GET /matches/researchers/{id}", s.handleMatchesByResearcher)
	mux.HandleFunc("GET /matches/opportunities/{id}", s.handleMatchesByOpportunity)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 16 * time.Minute, // must outlive the SSE stream ceiling
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the routed handler for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and blocks until an interrupt triggers a graceful
// shutdown
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth reports service health including the coordination store
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	coordStatus := "ok"
	if err := s.coord.Ping(r.Context()); err != nil {
		coordStatus = "unavailable"
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":             "ok",
		"coordination_store": coordStatus,
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// parseRunID extracts and validates the {id} path segment
func (s *Server) parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid run id")
		return uuid.Nil, false
	}
	return runID, true
}
