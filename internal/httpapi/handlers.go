package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MimeLyc/subclip/internal/jobs"
	"github.com/MimeLyc/subclip/internal/persistence"
)

type healthResponse struct {
	Status  string         `json:"status"`
	Uptime  string         `json:"uptime"`
	Workers int            `json:"workers"`
	Jobs    map[string]int `json:"jobs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	counts := make(map[string]int)
	for _, job := range s.queue.List() {
		counts[string(job.Status)]++
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Workers: s.queue.Workers(),
		Jobs:    counts,
	})
}

type enqueueJobRequest struct {
	Source    string `json:"source"`
	DedupeKey string `json:"dedupe_key"`
	VideoPath string `json:"video_path"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := jobs.Status(r.URL.Query().Get("status"))
		list := s.queue.List()
		if status != "" {
			filtered := make([]*jobs.VideoJob, 0, len(list))
			for _, job := range list {
				if job.Status == status {
					filtered = append(filtered, job)
				}
			}
			list = filtered
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var req enqueueJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.Source == "" {
			req.Source = "manual"
		}
		if req.VideoPath == "" {
			writeError(w, http.StatusBadRequest, "video_path is required")
			return
		}
		if req.DedupeKey == "" {
			req.DedupeKey = req.VideoPath
		}

		job, created := s.queue.Enqueue(jobs.EnqueueRequest{
			Source:    req.Source,
			DedupeKey: req.DedupeKey,
			Payload:   jobs.JobPayload{VideoPath: req.VideoPath},
		})
		code := http.StatusCreated
		if !created {
			code = http.StatusOK
		}
		writeJSON(w, code, map[string]any{
			"created": created,
			"job":     job,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.history == nil {
			writeError(w, http.StatusNotImplemented, "run history is not configured")
			return
		}
		limit := parsePositiveIntWithDefault(r.URL.Query().Get("limit"), 20)
		runs, err := s.history.ListRuns(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, runs)
	case http.MethodPost:
		if s.trigger == nil {
			writeError(w, http.StatusNotImplemented, "manual runs are not enabled")
			return
		}
		go s.trigger()
		writeJSON(w, http.StatusAccepted, map[string]any{
			"ok": true,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type runDetailResponse struct {
	persistence.Run
	Results []persistence.VideoResult `json:"results"`
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "run history is not configured")
		return
	}

	// /api/runs/{id}
	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if decoded, err := url.PathUnescape(runID); err == nil {
		runID = decoded
	}
	if runID == "" || strings.Contains(runID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	run, ok, err := s.history.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	results, err := s.history.ListVideoResults(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runDetailResponse{Run: run, Results: results})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
