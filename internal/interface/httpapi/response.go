package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jinford/feedback-flow/internal/module/collection/adapter/analysis"
	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

type errorResponse struct {
	Error  string             `json:"error"`
	Field  string             `json:"field,omitempty"`
	Source *domain.DataSource `json:"source,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError はエラーの種類からステータスコードを決めて返します
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func errorStatus(err error) (int, errorResponse) {
	body := errorResponse{Error: err.Error()}

	var validationErr *domain.ValidationError
	var apiErr *analysis.APIError
	switch {
	case errors.As(err, &validationErr):
		body.Field = validationErr.Field
		return http.StatusBadRequest, body
	case errors.Is(err, domain.ErrSourceNotFound), errors.Is(err, domain.ErrProjectNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrProjectExists),
		errors.Is(err, domain.ErrAlreadyTracking),
		errors.Is(err, domain.ErrNoTaskID),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrSummarizerDisabled):
		return http.StatusServiceUnavailable, body
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, body
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &domain.ValidationError{Field: "id", Reason: "must be a UUID"}
	}
	return id, nil
}
