package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

type createProjectRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type createSourceRequest struct {
	Name      string         `json:"name"`
	URL       string         `json:"url"`
	Type      string         `json:"type"`
	ProjectID *uuid.UUID     `json:"projectID"`
	Metadata  map[string]any `json:"metadata"`
}

type advanceRequest struct {
	Action string `json:"action"`
}

type trackResponse struct {
	SourceID uuid.UUID `json:"sourceID"`
	Tracking bool      `json:"tracking"`
}

type summaryResponse struct {
	SourceID uuid.UUID `json:"sourceID"`
	Summary  string    `json:"summary"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"tracking": len(s.tracker.Active()),
		"lastSeq":  s.events.LastSeq(),
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.submissions.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if projects == nil {
		projects = []*domain.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	project, err := s.submissions.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	project, err := s.submissions.GetProject(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if project.Sources == nil {
		project.Sources = []*domain.DataSource{}
	}
	writeJSON(w, http.StatusOK, project)
}

// handleProjectDashboard はプロジェクトで最後に完了したジョブのダッシュボードを返します
func (s *Server) handleProjectDashboard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	dashboard, err := s.dashboards.LoadLatest(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSourceFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sources, err := s.submissions.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sources == nil {
		sources = []*domain.DataSource{}
	}
	writeJSON(w, http.StatusOK, sources)
}

// handleCreateSource はジョブを投入します
// リモートへの投入に失敗した場合は error 状態のレコードを添えて 502 を返します
func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	src, err := s.submissions.Submit(r.Context(), domain.SubmitParams{
		Name:      req.Name,
		URL:       req.URL,
		Type:      domain.SourceType(req.Type),
		ProjectID: req.ProjectID,
		Metadata:  req.Metadata,
	})

	var submissionErr *domain.SubmissionError
	if errors.As(err, &submissionErr) {
		s.logger.Warn("Submission rejected by analysis service", "sourceID", submissionErr.SourceID, "error", submissionErr.Err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Source: src})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	src, err := s.submissions.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.submissions.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTrackSource はジョブの追跡ループをバックグラウンドで開始します
func (s *Server) handleTrackSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.tracker.Start(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	tracking := false
	for _, active := range s.tracker.Active() {
		if active == id {
			tracking = true
			break
		}
	}
	writeJSON(w, http.StatusAccepted, trackResponse{SourceID: id, Tracking: tracking})
}

// handleAdvanceSource はジョブの状態を手動で進めます
func (s *Server) handleAdvanceSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req advanceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	src, err := s.submissions.Advance(r.Context(), id, req.Action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) handleSourceDashboard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	dashboard, err := s.dashboards.Load(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (s *Server) handleSourceSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	summary, err := s.summaries.Summarize(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{SourceID: id, Summary: summary})
}

// parseSourceFilter は一覧取得のクエリ文字列を解釈します
// status はカンマ区切りで複数指定できます
func parseSourceFilter(r *http.Request) (domain.SourceFilter, error) {
	q := r.URL.Query()
	filter := domain.SourceFilter{OrderBy: domain.OrderByCreatedAt}

	if raw := q.Get("project"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, &domain.ValidationError{Field: "project", Reason: "must be a UUID"}
		}
		filter.ProjectID = &id
	}

	if raw := q.Get("status"); raw != "" {
		for part := range strings.SplitSeq(raw, ",") {
			status, err := domain.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				return filter, &domain.ValidationError{Field: "status", Reason: err.Error()}
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	if raw := q.Get("type"); raw != "" {
		sourceType, err := domain.ParseSourceType(raw)
		if err != nil {
			return filter, &domain.ValidationError{Field: "type", Reason: err.Error()}
		}
		filter.Type = sourceType
	}

	switch order := domain.SourceOrder(q.Get("order")); order {
	case "", domain.OrderByCreatedAt:
	case domain.OrderByLastUpdated:
		filter.OrderBy = order
	default:
		return filter, &domain.ValidationError{Field: "order", Reason: "must be created_at or last_updated"}
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, &domain.ValidationError{Field: "limit", Reason: "must be a non-negative integer"}
		}
		filter.Limit = limit
	}

	return filter, nil
}
