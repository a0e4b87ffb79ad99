package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS generation_log (
    id             INTEGER  PRIMARY KEY,
    model_name     TEXT     NOT NULL,
    seed_runes     INTEGER  NOT NULL,
    output_runes   INTEGER  NOT NULL,
    target_length  INTEGER  NOT NULL,
    dead_end       INTEGER  NOT NULL,
    remote_addr    TEXT     NOT NULL,
    created_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generation_log_model ON generation_log (model_name);
`

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

// GenerationRecord describes one generation served by the API.
type GenerationRecord struct {
	ModelName    string    `json:"model_name"`
	SeedRunes    int       `json:"seed_runes"`
	OutputRunes  int       `json:"output_runes"`
	TargetLength int       `json:"target_length"`
	DeadEnd      bool      `json:"dead_end"`
	RemoteAddr   string    `json:"remote_addr"`
	CreatedAt    time.Time `json:"created_at"`
}

// ModelUsage is the per-model part of the stats summary.
type ModelUsage struct {
	ModelName   string `json:"model_name"`
	Generations int64  `json:"generations"`
	Runes       int64  `json:"runes"`
	DeadEnds    int64  `json:"dead_ends"`
}

// GlobalStatsSummary provides a high-level overview of the generation log.
type GlobalStatsSummary struct {
	TotalGenerations int64        `json:"total_generations"`
	TotalRunes       int64        `json:"total_runes"`
	DeadEnds         int64        `json:"dead_ends"`
	Models           []ModelUsage `json:"models"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats", s.handleSummary)
	mux.HandleFunc("/api/stats/recent", s.handleRecent)
}

// Record appends a generation to the log.
func (s *StatsAPI) Record(ctx context.Context, rec GenerationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO generation_log (model_name, seed_runes, output_runes, target_length, dead_end, remote_addr, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `, rec.ModelName, rec.SeedRunes, rec.OutputRunes, rec.TargetLength, rec.DeadEnd, rec.RemoteAddr, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert generation record: %w", err)
	}
	return nil
}

// Summary aggregates the whole generation log.
func (s *StatsAPI) Summary(ctx context.Context) (*GlobalStatsSummary, error) {
	summary := &GlobalStatsSummary{Models: make([]ModelUsage, 0)}
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_name, COUNT(*), COALESCE(SUM(output_runes), 0), COALESCE(SUM(dead_end), 0)
        FROM generation_log GROUP BY model_name ORDER BY model_name
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation log: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	for rows.Next() {
		var u ModelUsage
		if err = rows.Scan(&u.ModelName, &u.Generations, &u.Runes, &u.DeadEnds); err != nil {
			return nil, fmt.Errorf("failed to scan generation log: %w", err)
		}
		summary.TotalGenerations += u.Generations
		summary.TotalRunes += u.Runes
		summary.DeadEnds += u.DeadEnds
		summary.Models = append(summary.Models, u)
	}
	return summary, rows.Err()
}

// Recent returns the newest records first.
func (s *StatsAPI) Recent(ctx context.Context, limit int) ([]GenerationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_name, seed_runes, output_runes, target_length, dead_end, remote_addr, created_at
        FROM generation_log ORDER BY id DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation log: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	records := make([]GenerationRecord, 0)
	for rows.Next() {
		var rec GenerationRecord
		err = rows.Scan(&rec.ModelName, &rec.SeedRunes, &rec.OutputRunes, &rec.TargetLength, &rec.DeadEnd, &rec.RemoteAddr, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation log: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}
	summary, err := s.Summary(r.Context())
	if err != nil {
		s.logger.Error("Failed to summarize generation log", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := s.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to query recent generations", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, records)
}
