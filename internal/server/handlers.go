package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/jonathan/viral-agents/internal/db"
	"github.com/jonathan/viral-agents/internal/notify"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// CreateJobResponse represents the response for job creation
type CreateJobResponse struct {
	JobID  uuid.UUID          `json:"job_id"`
	Status workflow.JobStatus `json:"status"`
}

// ListJobsResponse represents the response for listing jobs
type ListJobsResponse struct {
	Jobs   []types.Job `json:"jobs"`
	Count  int         `json:"count"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// DecisionResponse represents the response of an approval decision
type DecisionResponse struct {
	Success bool               `json:"success"`
	JobID   uuid.UUID          `json:"job_id"`
	Status  workflow.JobStatus `json:"status"`
}

// parseQueryInt reads a non-negative integer query parameter, clamped to maxValue when positive
func parseQueryInt(r *http.Request, key string, defaultValue, maxValue int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 0 {
		return defaultValue
	}
	if maxValue > 0 && val > maxValue {
		return maxValue
	}
	return val
}

// decodeBody decodes a JSON request body. An empty body leaves out untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}

// jobID parses the {id} path value
func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid job ID")
		return uuid.Nil, false
	}
	return id, true
}

// requireJob loads the job and writes 404 when it does not exist
func (s *Server) requireJob(w http.ResponseWriter, r *http.Request) (*types.Job, bool) {
	id, ok := s.jobID(w, r)
	if !ok {
		return nil, false
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.failure(w, r, err)
		return nil, false
	}
	if job == nil {
		s.errorResponse(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	return job, true
}

// handleCreateJob validates the request and queues a new job
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req types.CreateJobRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.failure(w, r, err)
		return
	}

	job, err := s.intake.Create(r.Context(), &req)
	if err != nil {
		s.failure(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, CreateJobResponse{JobID: job.ID, Status: job.Status})
}

// handleListJobs lists jobs, newest first, with an optional status filter
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseQueryInt(r, "limit", 50, 100)
	offset := parseQueryInt(r, "offset", 0, 0)

	filters := db.JobFilters{Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := workflow.ParseJobStatus(raw)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid status")
			return
		}
		filters.Status = &status
	}

	jobs, err := s.store.ListJobs(r.Context(), filters)
	if err != nil {
		s.failure(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, ListJobsResponse{
		Jobs:   jobs,
		Count:  len(jobs),
		Limit:  limit,
		Offset: offset,
	})
}

// handleGetJob returns one job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.requireJob(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

// handleListContents returns the drafted variants of a job
func (s *Server) handleListContents(w http.ResponseWriter, r *http.Request) {
	job, ok := s.requireJob(w, r)
	if !ok {
		return
	}
	contents, err := s.store.ListContents(r.Context(), job.ID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, contents)
}

// handleListRuns returns the stage audit trail of a job
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	job, ok := s.requireJob(w, r)
	if !ok {
		return
	}
	runs, err := s.store.ListAgentRuns(r.Context(), job.ID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, runs)
}

// handleApprove approves the selected content of a job
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	var req types.ApproveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.failure(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.failure(w, r, &ErrValidation{Field: "content_id", Message: "is required"})
		return
	}

	if err := s.intake.Approve(r.Context(), id, req.ContentID); err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, DecisionResponse{Success: true, JobID: id, Status: workflow.StatusApproved})
}

// handleReject rejects the selected content of a job
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	if err := s.intake.Reject(r.Context(), id); err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, DecisionResponse{Success: true, JobID: id, Status: workflow.StatusRejected})
}

// handleAction applies the decision carried by a signed notification link.
// Links are opened in a browser, so the answer is plain text.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	claims, err := s.intake.HandleAction(r.Context(), r.PathValue("token"))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err != nil {
		status := HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Errorw("action link failed", "error", err)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, actionFailureText(status)+"\n")
		return
	}

	s.logger.Infow("action link applied", "job_id", claims.JobID, "action", claims.Action)
	text := "Rejected."
	if claims.Action == notify.ActionApprove {
		text = "Approved. Ready to publish."
	}
	_, _ = io.WriteString(w, text+"\n")
}

func actionFailureText(status int) string {
	switch status {
	case http.StatusForbidden:
		return "This link is invalid or has expired."
	case http.StatusConflict:
		return "This job has already been decided."
	case http.StatusNotFound:
		return "Not found."
	default:
		return "Something went wrong. Please try again later."
	}
}
