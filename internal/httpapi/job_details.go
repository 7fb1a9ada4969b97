package httpapi

import (
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MimeLyc/subclip/internal/catalog"
	"github.com/MimeLyc/subclip/internal/jobs"
)

type jobDetailResponse struct {
	Job      *jobs.VideoJob      `json:"job"`
	Progress jobProgressResponse `json:"progress"`
	Records  []catalog.Record    `json:"records"`
	Offset   int                 `json:"offset"`
	Limit    int                 `json:"limit"`
}

type jobProgressResponse struct {
	Total   int `json:"total"`
	Clipped int `json:"clipped"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (s *Server) handleJobDetailRoutes(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleJobDetail(w, r, jobID)
}

// parseJobRoute extracts the id from /api/jobs/{id}.
func parseJobRoute(path string) (string, bool) {
	rest := strings.Trim(strings.TrimPrefix(path, "/api/jobs/"), "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	if decoded, err := url.PathUnescape(rest); err == nil {
		rest = decoded
	}
	return rest, true
}

// handleJobDetail returns the job together with a page of the records in
// its video index. A job that has not written an index yet has no records.
func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request, jobID string) {
	job, ok := s.queue.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	offset := parseNonNegativeIntWithDefault(r.URL.Query().Get("offset"), 0)
	limit := parsePositiveIntWithDefault(r.URL.Query().Get("limit"), 50)

	var records []catalog.Record
	if job.Summary.Index != "" {
		all, err := catalog.ReadVideoIndex(job.Summary.Index)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		records = all
	}

	resp := jobDetailResponse{
		Job:      job,
		Progress: computeJobProgress(records),
		Records:  pageRecords(records, offset, limit),
		Offset:   offset,
		Limit:    limit,
	}
	writeJSON(w, http.StatusOK, resp)
}

func computeJobProgress(records []catalog.Record) jobProgressResponse {
	ret := jobProgressResponse{Total: len(records)}
	for _, rec := range records {
		switch {
		case rec.Skipped:
			ret.Skipped++
		case rec.Failed:
			ret.Failed++
		default:
			ret.Clipped++
		}
	}
	return ret
}

func pageRecords(records []catalog.Record, offset, limit int) []catalog.Record {
	if offset >= len(records) {
		return []catalog.Record{}
	}
	end := min(offset+limit, len(records))
	return records[offset:end]
}

func parsePositiveIntWithDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func parseNonNegativeIntWithDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
