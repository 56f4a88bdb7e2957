package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/common"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/pipeline"
)

type jobSummary struct {
	JobID       string     `json:"job_id"`
	State       string     `json:"state"`
	ContentType string     `json:"content_type,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	TerminalAt  *time.Time `json:"terminal_at,omitempty"`
}

type statusResponse struct {
	JobID       string     `json:"job_id"`
	State       string     `json:"state"`
	ErrorDetail string     `json:"error_detail,omitempty"`
	TerminalAt  *time.Time `json:"terminal_at,omitempty"`
}

type resultResponse struct {
	JobID string            `json:"job_id"`
	Items []entity.LineItem `json:"items"`
}

// ownedJob loads the job and hides other owners' jobs behind a 404.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) *entity.Job {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return nil
	}

	job, err := s.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
		} else {
			s.log.Error("http.job.load_failed", zap.String("job_id", jobID.String()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "job lookup failed")
		}
		return nil
	}
	if job.OwnerID != ownerFrom(r) {
		writeError(w, http.StatusNotFound, "job not found")
		return nil
	}
	return job
}

// handleProcess triggers the asynchronous phase. The 202 is returned while
// the job is still processing; completion is observed via the status
// endpoint.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	job := s.ownedJob(w, r)
	if job == nil {
		return
	}

	err := s.disp.Dispatch(r.Context(), job.ID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"success": true,
			"job_id":  job.ID.String(),
			"state":   string(constants.JobStateProcessing),
		})
	case errors.Is(err, pipeline.ErrAlreadyProcessing):
		writeError(w, http.StatusConflict, "job is already processing")
	case errors.Is(err, common.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "job is already terminal")
	case errors.Is(err, common.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "job has no source ref")
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	default:
		s.log.Error("http.process.dispatch_failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "dispatch failed")
	}
}

// handleStatus reports the job's state without the result payload; results
// have their own endpoint so status polling stays cheap.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job := s.ownedJob(w, r)
	if job == nil {
		return
	}

	resp := statusResponse{
		JobID:      job.ID.String(),
		State:      string(job.State),
		TerminalAt: job.TerminalAt,
	}
	if job.ErrorDetail != nil {
		resp.ErrorDetail = *job.ErrorDetail
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job := s.ownedJob(w, r)
	if job == nil {
		return
	}

	if job.State != constants.JobStateProcessed {
		writeError(w, http.StatusConflict, "job is not processed")
		return
	}

	items := job.Result
	if items == nil {
		items = []entity.LineItem{}
	}
	writeJSON(w, http.StatusOK, resultResponse{JobID: job.ID.String(), Items: items})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var states []constants.JobState
	if raw := r.URL.Query().Get("state"); raw != "" {
		state := constants.JobState(raw)
		if !state.Valid() {
			writeError(w, http.StatusBadRequest, "unknown state filter")
			return
		}
		states = append(states, state)
	}

	jobs, err := s.jobs.ListByOwner(r.Context(), ownerFrom(r), states...)
	if err != nil {
		s.log.Error("http.jobs.list_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job listing failed")
		return
	}

	out := make([]jobSummary, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobSummary{
			JobID:       job.ID.String(),
			State:       string(job.State),
			ContentType: job.ContentType,
			CreatedAt:   job.CreatedAt,
			TerminalAt:  job.TerminalAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}
