// Package httpapi implements the HTTP surface described in spec.md §6 as an
// external collaborator of the execution pipeline: JSON over HTTP, routed
// with gorilla/mux (grounded in TheEntropyCollective-noisefs's webui router
// shape: a mux.Router with path-parameter subroutes and one handler method
// per endpoint).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cretz/teleworker/engine"
	"github.com/cretz/teleworker/internal/store"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const version = "1.0.0"

// Server wires an Engine to the HTTP surface.
type Server struct {
	eng *engine.Engine
	log *zap.Logger
}

// NewRouter builds the mux.Router implementing spec.md §6's endpoint table.
func NewRouter(eng *engine.Engine, log *zap.Logger) *mux.Router {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{eng: eng, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/execute", s.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/status/{id}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/result/{id}", s.handleResult).Methods(http.MethodGet)
	r.HandleFunc("/cancel/{id}", s.handleCancel).Methods(http.MethodDelete)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/languages", s.handleLanguages).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"engine":    "teleworker",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// executeRequest is the wire form of spec.md §3's ExecutionRequest.
type executeRequest struct {
	ID              string `json:"id,omitempty"`
	Language        string `json:"language"`
	LanguageID      *int   `json:"language_id,omitempty"`
	SourceCode      string `json:"source_code"`
	Stdin           string `json:"stdin,omitempty"`
	AdditionalFiles string `json:"additional_files,omitempty"`

	CPUTimeSeconds      *float64 `json:"cpu_time,omitempty"`
	CPUExtraTimeSeconds *float64 `json:"cpu_extra_time,omitempty"`
	Memory              *uint64  `json:"memory,omitempty"`
	WallTimeSeconds     *float64 `json:"wall_time,omitempty"`
	Stack               *uint64  `json:"stack,omitempty"`
	FileSize            *uint64  `json:"file_size,omitempty"`
	Processes           *int     `json:"processes,omitempty"`

	RedirectStderrToStdout bool `json:"redirect_stderr_to_stdout,omitempty"`
	NumberOfRuns           *int `json:"number_of_runs,omitempty"`
	EnableNetwork          bool `json:"enable_network,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := s.eng.Submit(engine.SubmitRequest{
		ID:                     req.ID,
		Language:               req.Language,
		LanguageID:             req.LanguageID,
		SourceCode:             req.SourceCode,
		Stdin:                  req.Stdin,
		AdditionalFiles:        req.AdditionalFiles,
		CPUTime:                durationPtr(req.CPUTimeSeconds),
		CPUExtraTime:           durationPtr(req.CPUExtraTimeSeconds),
		Memory:                 req.Memory,
		WallTime:               durationPtr(req.WallTimeSeconds),
		Stack:                  req.Stack,
		FileSize:               req.FileSize,
		Processes:              req.Processes,
		RedirectStderrToStdout: req.RedirectStderrToStdout,
		NumberOfRuns:           req.NumberOfRuns,
		EnableNetwork:          req.EnableNetwork,
	})
	if err != nil {
		switch err.(type) {
		case engine.EmptySourceError:
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			// UnsupportedLanguage and job-id conflicts are also user input
			// errors per spec.md §7's taxonomy.
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":      id,
		"status":  "queued",
		"message": "execution queued",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job := s.eng.GetStatus(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, statusPayload(job))
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	includeOutput := true
	if v := r.URL.Query().Get("include_output"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid include_output: "+err.Error())
			return
		}
		includeOutput = parsed
	}
	job := s.eng.GetResult(id, includeOutput)
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, resultPayload(job))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok := s.eng.Cancel(id)
	msg := "cancelled"
	if !ok {
		msg = "job not found or already terminal"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": ok,
		"message":   msg,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.eng.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total":                  stats.Total,
		"queued":                 stats.Queued,
		"active":                 stats.Active,
		"uptime_seconds":         stats.UptimeSeconds,
		"load_average_1m":        stats.Host.LoadAverage1,
		"memory_total_bytes":     stats.Host.MemoryTotalBytes,
		"memory_available_bytes": stats.Host.MemoryAvailableBytes,
	})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Languages())
}

func statusPayload(job *store.Job) map[string]any {
	payload := map[string]any{
		"id":         job.ID,
		"status":     string(job.Status),
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		payload["started_at"] = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		payload["finished_at"] = job.FinishedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func resultPayload(job *store.Job) map[string]any {
	payload := statusPayload(job)
	if job.Result == nil {
		return payload
	}
	payload["stdout"] = job.Result.Stdout
	payload["stderr"] = job.Result.Stderr
	payload["compile_output"] = job.Result.CompileOutput
	payload["exit_code"] = job.Result.ExitCode
	payload["signal"] = job.Result.Signal
	payload["time"] = job.Result.Time.Seconds()
	payload["memory"] = job.Result.Memory
	return payload
}

func durationPtr(seconds *float64) *time.Duration {
	if seconds == nil {
		return nil
	}
	d := time.Duration(*seconds * float64(time.Second))
	return &d
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
