package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/dealer/internal/domain"
)

const cyclePollInterval = 2 * time.Second

type portfolioReader interface {
	Snapshot() *domain.PositionSnapshot
}

type taskReader interface {
	All() []*domain.ScheduledTask
}

type cycleReader interface {
	Recent(dealerType string) []domain.CycleRecord
}

// Server exposes read-only HTTP endpoints for observing the dealer:
// current portfolio, scheduled tasks, recent cycles and an SSE stream
// of cycle records as they complete.
type Server struct {
	Addr       string
	DealerType string
	Portfolio  portfolioReader
	Tasks      taskReader
	Cycles     cycleReader

	logger *zap.Logger
}

// NewServer creates a new telemetry server instance.
func NewServer(addr, dealerType string, portfolio portfolioReader, tasks taskReader, cycles cycleReader, logger *zap.Logger) *Server {
	return &Server{
		Addr:       addr,
		DealerType: dealerType,
		Portfolio:  portfolio,
		Tasks:      tasks,
		Cycles:     cycles,
		logger:     logger,
	}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/cycles", s.handleCycles)
	mux.HandleFunc("/cycles/stream", s.handleCycleStream)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusResponse struct {
	DealerType    string                   `json:"dealerType"`
	Portfolio     *domain.PositionSnapshot `json:"portfolio"`
	OpenPositions int                      `json:"openPositions"`
	ActiveTasks   int                      `json:"activeTasks"`
	LastCycleAt   *time.Time               `json:"lastCycleAt,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{DealerType: s.DealerType}
	if s.Portfolio != nil {
		snap := s.Portfolio.Snapshot()
		resp.Portfolio = snap
		resp.OpenPositions = snap.OpenCount()
	}
	if s.Tasks != nil {
		for _, task := range s.Tasks.All() {
			if !task.Terminal() {
				resp.ActiveTasks++
			}
		}
	}
	if s.Cycles != nil {
		recent := s.Cycles.Recent(s.DealerType)
		if len(recent) > 0 {
			ts := recent[len(recent)-1].Timestamp
			resp.LastCycleAt = &ts
		}
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.Tasks == nil {
		http.Error(w, "task store not available", http.StatusServiceUnavailable)
		return
	}
	tasks := s.Tasks.All()
	if tasks == nil {
		tasks = []*domain.ScheduledTask{}
	}
	s.writeJSON(w, tasks)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.Cycles == nil {
		http.Error(w, "cycle history not available", http.StatusServiceUnavailable)
		return
	}
	records := s.Cycles.Recent(s.DealerType)
	if records == nil {
		records = []domain.CycleRecord{}
	}
	s.writeJSON(w, records)
}

func (s *Server) handleCycleStream(w http.ResponseWriter, r *http.Request) {
	if s.Cycles == nil {
		http.Error(w, "cycle history not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat every 30s so proxies keep connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(cyclePollInterval)
	defer pollTicker.Stop()

	var lastSeen time.Time
	sendCycles := func() error {
		for _, record := range s.Cycles.Recent(s.DealerType) {
			if !record.Timestamp.After(lastSeen) {
				continue
			}
			payload, err := json.Marshal(record)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: cycle\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastSeen = record.Timestamp
		}
		return nil
	}

	if err := sendCycles(); err != nil {
		s.logger.Warn("cycle stream initial send failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendCycles(); err != nil {
				s.logger.Warn("cycle stream poll failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}
