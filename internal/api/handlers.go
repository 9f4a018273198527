package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/plugin"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/service"
)

type createJobRequest struct {
	Name            string                   `json:"name"`
	Mode            string                   `json:"mode"`
	Platform        string                   `json:"platform"`
	Settings        *gitmeta.FetchSettings   `json:"settings"`
	RequestedFields []gitmeta.RequestedField `json:"requested_fields"`
	RawQuery        string                   `json:"raw_query"`
}

type updateJobRequest struct {
	Name            *string                  `json:"name"`
	Mode            *string                  `json:"mode"`
	Platform        *string                  `json:"platform"`
	Settings        *gitmeta.FetchSettings   `json:"settings"`
	RequestedFields []gitmeta.RequestedField `json:"requested_fields"`
	RawQuery        *string                  `json:"raw_query"`
}

type rawQueryRequest struct {
	Platform string `json:"platform"`
	Query    string `json:"query"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	platform, err := parsePlatform(req.Platform)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.service.CreateJob(r.Context(), service.CreateJobInput{
		Name:            req.Name,
		Mode:            mode,
		Platform:        platform,
		Settings:        req.Settings,
		RequestedFields: req.RequestedFields,
		RawQuery:        req.RawQuery,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job": job})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	stateFilter := r.URL.Query().Get("state")
	if stateFilter != "" && !gitmeta.JobState(stateFilter).Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state filter: %s", stateFilter))
		return
	}

	jobs, err := s.service.ListJobs(r.Context(), queryBool(r, "include_debug"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if stateFilter != "" {
		filtered := make([]gitmeta.Job, 0, len(jobs))
		for _, job := range jobs {
			if job.State == gitmeta.JobState(stateFilter) {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetJob(r.Context(), chi.URLParam(r, "job_id"), queryBool(r, "include_debug"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobLogs(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetJob(r.Context(), chi.URLParam(r, "job_id"), queryBool(r, "include_debug"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	log := job.Log
	if log == nil {
		log = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID, "log": log})
}

func (s *Server) updateJob(w http.ResponseWriter, r *http.Request) {
	var req updateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	input := service.UpdateJobInput{
		JobID:           chi.URLParam(r, "job_id"),
		Name:            req.Name,
		Settings:        req.Settings,
		RequestedFields: req.RequestedFields,
		RawQuery:        req.RawQuery,
	}
	if req.Mode != nil {
		mode, err := parseMode(*req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		input.Mode = &mode
	}
	if req.Platform != nil {
		platform, err := parsePlatform(*req.Platform)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		input.Platform = &platform
	}

	job, err := s.service.UpdateJob(r.Context(), input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.service.DeleteJob(r.Context(), jobID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "deleted"})
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.StartJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.StopJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.service.ExportJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) runPlugin(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RunPlugin(r.Context(), chi.URLParam(r, "job_id"), chi.URLParam(r, "plugin_name"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listPlatforms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"platforms": s.service.SupportedPlatforms()})
}

func (s *Server) listPlugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plugins": s.service.Plugins()})
}

func (s *Server) debugRawQuery(w http.ResponseWriter, r *http.Request) {
	var req rawQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	platform, err := parsePlatform(req.Platform)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.service.DebugRawQuery(r.Context(), platform, req.Query)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeServiceError maps service errors onto HTTP statuses: bad input 400,
// missing jobs or plugins 404, illegal state transitions 409, anything
// else 500.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gitmeta.ErrJobNotFound), errors.Is(err, plugin.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func parseMode(raw string) (gitmeta.JobMode, error) {
	mode := gitmeta.JobMode(raw)
	switch mode {
	case gitmeta.ModeAssistant, gitmeta.ModeExpert:
		return mode, nil
	}
	return "", errors.New("mode must be one of assistant, expert")
}

func parsePlatform(raw string) (gitmeta.Platform, error) {
	platform := gitmeta.Platform(raw)
	if !platform.Valid() {
		return "", errors.New("platform must be one of github, gitlab, bitbucket")
	}
	return platform, nil
}

func queryBool(r *http.Request, key string) bool {
	value, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && value
}

// FileHandler serves exported CSVs by bare file name; lookup returns the
// content for a name, or false when it does not exist. Names containing
// path separators are rejected.
func FileHandler(lookup func(name string) ([]byte, bool)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
			writeError(w, http.StatusBadRequest, "invalid file name")
			return
		}
		content, ok := lookup(name)
		if !ok {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if _, err := w.Write(content); err != nil {
			zap.L().Error("file write failed", zap.Error(err))
		}
	})
}
