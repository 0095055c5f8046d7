package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/variantlab/variantlab/internal/store"
)

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var count int
	if err := s.store.DB().QueryRowContext(r.Context(), "SELECT COUNT(*) FROM experiments").Scan(&count); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var dbSize int64
	row := s.store.DB().QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	_ = row.Scan(&dbSize)

	response := HealthResponse{
		Status:           "ok",
		ExperimentsCount: count,
		DBSizeBytes:      dbSize,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

type AssignRequest struct {
	VisitorID string `json:"visitor_id"`
}

type AssignResponse struct {
	VariantID   string         `json:"variant_id"`
	VariantName string         `json:"variant_name"`
	IsControl   bool           `json:"is_control"`
	Config      map[string]any `json:"config,omitempty"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.VisitorID == "" {
		http.Error(w, "visitor_id required", http.StatusBadRequest)
		return
	}

	tenantID := r.PathValue("tenant")
	experimentID := r.PathValue("experiment")

	variant, err := s.engine.Assign(r.Context(), tenantID, experimentID, req.VisitorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Experiment not found", http.StatusNotFound)
			return
		}
		s.log.Error("assignment failed",
			zap.String("experiment_id", experimentID),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AssignResponse{
		VariantID:   variant.ID,
		VariantName: variant.Name,
		IsControl:   variant.IsControl,
		Config:      variant.Config,
	})
}

type ConvertRequest struct {
	VisitorID string   `json:"visitor_id"`
	Value     *float64 `json:"value,omitempty"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.VisitorID == "" {
		http.Error(w, "visitor_id required", http.StatusBadRequest)
		return
	}

	tenantID := r.PathValue("tenant")
	experimentID := r.PathValue("experiment")

	// Unattributed conversions are a warning inside the recorder, not an
	// error; the serving path never fails because of them.
	if err := s.recorder.Record(r.Context(), tenantID, experimentID, req.VisitorID, req.Value); err != nil {
		s.log.Error("conversion failed",
			zap.String("experiment_id", experimentID),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	experimentID := r.PathValue("experiment")

	advice, err := s.advisor.Analyze(r.Context(), tenantID, experimentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Experiment not found", http.StatusNotFound)
			return
		}
		s.log.Error("analysis failed",
			zap.String("experiment_id", experimentID),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(advice)
}

type ResultIngestRequest struct {
	VariantID     string   `json:"variant_id"`
	Date          string   `json:"date"` // YYYY-MM-DD
	Visitors      int      `json:"visitors"`
	Conversions   int      `json:"conversions"`
	Revenue       float64  `json:"revenue"`
	BounceRate    *float64 `json:"bounce_rate,omitempty"`
	AvgTimeOnPage *float64 `json:"avg_time_on_page,omitempty"`
}

// handleResultsIngest accepts daily rollups pushed by the external event
// tracker. Re-posting the same (variant, date) replaces the rollup.
func (s *Server) handleResultsIngest(w http.ResponseWriter, r *http.Request) {
	var req ResultIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		http.Error(w, "Invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	tenantID := r.PathValue("tenant")
	experimentID := r.PathValue("experiment")

	result := store.Result{
		ExperimentID:  experimentID,
		VariantID:     req.VariantID,
		Date:          date,
		Visitors:      req.Visitors,
		Conversions:   req.Conversions,
		Revenue:       req.Revenue,
		BounceRate:    req.BounceRate,
		AvgTimeOnPage: req.AvgTimeOnPage,
	}

	if err := s.store.UpsertResult(r.Context(), tenantID, result); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Experiment not found", http.StatusNotFound)
			return
		}
		s.log.Error("result ingest failed",
			zap.String("experiment_id", experimentID),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
