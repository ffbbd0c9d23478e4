package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ortaizi/unisync/internal/application"
	"github.com/ortaizi/unisync/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// SessionResponse is the JSON representation of a derived session.
type SessionResponse struct {
	UserID              string `json:"user_id"`
	Email               string `json:"email"`
	Stage               string `json:"stage"`
	InstitutionID       string `json:"institution_id,omitempty"`
	InstitutionName     string `json:"institution_name,omitempty"`
	HasValidCredentials bool   `json:"has_valid_credentials"`
	LastSyncAt          string `json:"last_sync_at,omitempty"`
	Token               string `json:"token,omitempty"`
}

func toSessionResponse(sess application.Session, token string) SessionResponse {
	resp := SessionResponse{
		UserID:              sess.UserID,
		Email:               sess.Email,
		Stage:               string(sess.Stage),
		InstitutionID:       sess.InstitutionID,
		InstitutionName:     sess.InstitutionName,
		HasValidCredentials: sess.HasValidCredentials,
		Token:               token,
	}
	if sess.LastSyncAt != nil {
		resp.LastSyncAt = sess.LastSyncAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// JobResponse is the JSON representation of a sync job.
type JobResponse struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	Progress    int              `json:"progress"`
	Message     string           `json:"message,omitempty"`
	StageData   *model.StageData `json:"stage_data,omitempty"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
	CompletedAt string           `json:"completed_at,omitempty"`
	DurationMs  *int64           `json:"duration_ms,omitempty"`
}

func toJobResponse(job model.SyncJob, includeStageData bool) JobResponse {
	resp := JobResponse{
		ID:        job.ID,
		Status:    string(job.Status),
		Progress:  job.Progress,
		Message:   job.Message,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if includeStageData {
		data := job.StageData
		resp.StageData = &data
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	if d := job.Duration(); d != nil {
		ms := d.Milliseconds()
		resp.DurationMs = &ms
	}
	return resp
}

// conflictResponse accompanies a 409 on sync trigger: the caller learns which
// job is already running.
type conflictResponse struct {
	Error string      `json:"error"`
	Job   JobResponse `json:"active_job"`
}

// HistoryResponse is one page of sync job history.
type HistoryResponse struct {
	Jobs   []JobResponse `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ValidationResponse reports a credential test outcome.
type ValidationResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// InstitutionResponse is one supported university.
type InstitutionResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	NameHebrew string `json:"name_hebrew"`
	MoodleURL  string `json:"moodle_url"`
}

func toInstitutionResponse(inst model.Institution) InstitutionResponse {
	return InstitutionResponse{
		ID:         inst.ID,
		Name:       inst.Name,
		NameHebrew: inst.NameHebrew,
		MoodleURL:  inst.MoodleURL,
	}
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}
