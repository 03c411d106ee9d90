package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/scheduler"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	maxBodyBytes    = 1 << 20
)

type submitResponse struct {
	JobID         string           `json:"jobId"`
	Status        scrape.JobStatus `json:"status"`
	EstimatedTime int64            `json:"estimatedTime"`
}

// submitJob handles POST /v1/jobs. It returns 201 with the job ID and an
// estimated completion time in seconds.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req scheduler.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	resp, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, "submit job", err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{
		JobID:         resp.JobID,
		Status:        resp.Status,
		EstimatedTime: int64(math.Ceil(resp.EstimatedTime.Seconds())),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, r, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// cancelJob always answers 200; success reports whether anything changed.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Cancel(r.Context(), chi.URLParam(r, "job_id")))
}

// listJobs handles GET /v1/jobs?status=&limit=&offset=.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := scrape.ListFilter{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := scrape.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = &status
	}
	jobs, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []scrape.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scrape.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, scrape.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scrape.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
