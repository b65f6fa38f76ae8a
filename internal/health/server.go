package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/garimto81/gfx-json/internal/domain"
)

// StatsFunc supplies the current agent snapshot for /stats and /ready.
type StatsFunc func() domain.AgentStats

// QueueOps exposes the retry queue's operator actions.
type QueueOps interface {
	DeadLetters(limit int) ([]domain.DeadLetterRecord, error)
	RequeueDeadLetter(id int64) (int64, error)
}

// Server exposes liveness, readiness, stats and dead-letter operations
// over HTTP.
type Server struct {
	srv   *http.Server
	stats StatsFunc
	queue QueueOps
}

// NewServer builds the health server on the given port.
func NewServer(port int, stats StatsFunc, queue QueueOps) *Server {
	s := &Server{stats: stats, queue: queue}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/deadletters", s.handleDeadLetters)
	mux.HandleFunc("/deadletters/requeue", s.handleRequeue)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in a background goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("Health server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Health server failed")
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReady reports 503 until the agent's loops are running. Load
// balancers and container orchestrators treat this as "do not route yet".
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.stats().Running {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stats()); err != nil {
		log.Warn().Err(err).Msg("Failed to encode stats response")
	}
}

// handleDeadLetters lists dead-lettered records, newest first. The optional
// limit query parameter caps the page size (default 50).
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := s.queue.DeadLetters(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list dead letters")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []domain.DeadLetterRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		log.Warn().Err(err).Msg("Failed to encode dead letter response")
	}
}

// handleRequeue moves one dead-lettered record back to the active queue.
func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id < 1 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	queueID, err := s.queue.RequeueDeadLetter(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "dead letter not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Int64("dead_letter_id", id).Msg("Failed to requeue dead letter")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"queue_id":%d}`, queueID)
}
