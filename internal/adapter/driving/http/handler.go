// Package httphandler is the HTTP driving adapter that serves the REST API.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ortaizi/unisync/internal/application"
	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
	"github.com/ortaizi/unisync/internal/ratelimit"
)

const stateCookieName = "unisync_oauth_state"

// RateLimits carries the per-endpoint budgets the handler enforces.
type RateLimits struct {
	// CredentialTest bounds authenticated credential tests, per user.
	CredentialTest ratelimit.Policy
	// ArbitraryTest bounds unauthenticated credential tests, per client IP.
	ArbitraryTest ratelimit.Policy
	// SyncTrigger bounds sync job creation, per user.
	SyncTrigger ratelimit.Policy
}

// Handler serves the REST API.
type Handler struct {
	sessions *application.SessionService
	creds    *application.CredentialService
	sync     *application.SyncService
	attempts driven.AttemptStore
	google   GoogleAuthenticator
	limiter  ratelimit.Limiter
	limits   RateLimits
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. google may be
// nil, in which case the login endpoints report the flow as unconfigured.
func NewHandler(
	sessions *application.SessionService,
	creds *application.CredentialService,
	sync *application.SyncService,
	attempts driven.AttemptStore,
	google GoogleAuthenticator,
	limiter ratelimit.Limiter,
	limits RateLimits,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		sessions: sessions,
		creds:    creds,
		sync:     sync,
		attempts: attempts,
		google:   google,
		limiter:  limiter,
		limits:   limits,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/institutions", h.ListInstitutions)

	mux.HandleFunc("GET /api/v1/auth/google", h.StartGoogleLogin)
	mux.HandleFunc("GET /api/v1/auth/google/callback", h.GoogleCallback)

	mux.HandleFunc("POST /api/v1/credentials/test", h.TestCredentials)
	mux.HandleFunc("POST /api/v1/credentials", h.requireSession(h.SaveCredentials))
	mux.HandleFunc("POST /api/v1/credentials/revalidate", h.requireSession(h.RevalidateCredentials))
	mux.HandleFunc("DELETE /api/v1/credentials", h.requireSession(h.RevokeCredentials))

	mux.HandleFunc("GET /api/v1/session", h.requireSession(h.GetSession))
	mux.HandleFunc("POST /api/v1/session/refresh", h.requireSession(h.RefreshSession))

	mux.HandleFunc("POST /api/v1/sync", h.requireSession(
		h.rateLimited(h.limits.SyncTrigger, identifyUser, h.TriggerSync)))
	mux.HandleFunc("GET /api/v1/sync/history", h.requireSession(h.SyncHistory))
	mux.HandleFunc("DELETE /api/v1/sync/history", h.requireSession(h.PruneSyncHistory))
	mux.HandleFunc("GET /api/v1/sync/{id}", h.requireSession(h.SyncStatus))
	mux.HandleFunc("POST /api/v1/sync/{id}/cancel", h.requireSession(h.CancelSync))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

func identifyUser(r *http.Request) string {
	if claims := sessionFrom(r); claims != nil {
		return "user:" + claims.Subject
	}
	return "ip:" + clientIP(r)
}

// StartGoogleLogin redirects the browser to the Google consent screen with a
// CSRF state bound to a cookie.
func (h *Handler) StartGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, http.StatusServiceUnavailable, "google login is not configured")
		return
	}

	state, err := newStateToken()
	if err != nil {
		h.logger.Error("state token generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/api/v1/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusFound)
}

// GoogleCallback finishes stage one: it verifies the CSRF state, exchanges
// the code, and matches the Google email to a supported institution.
func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, http.StatusServiceUnavailable, "google login is not configured")
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		writeError(w, http.StatusBadRequest, "oauth state mismatch")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	profile, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("google exchange failed", "error", err)
		writeError(w, http.StatusBadGateway, "google login failed")
		return
	}

	user, err := h.sessions.CompleteGoogleLogin(r.Context(), profile.Email, profile.Name)
	if errors.Is(err, application.ErrInstitutionNotSupported) {
		writeError(w, http.StatusForbidden, "email domain does not belong to a supported university")
		return
	}
	if err != nil {
		h.logger.Error("google login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sess, token, err := h.sessions.RefreshOnDemand(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("session derivation failed", "user", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(sess, token))
}

// credentialRequest is the body for credential test and save.
type credentialRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	InstitutionID string `json:"institution_id"`
}

func (req *credentialRequest) validate() string {
	switch {
	case req.Username == "":
		return "username is required"
	case req.Password == "":
		return "password is required"
	case req.InstitutionID == "":
		return "institution_id is required"
	}
	return ""
}

// TestCredentials checks a pair against the institution without storing it.
// Authenticated callers get the per-user budget; anonymous callers get the
// tighter per-IP budget.
func (h *Handler) TestCredentials(w http.ResponseWriter, r *http.Request) {
	policy := h.limits.ArbitraryTest
	identifier := "ip:" + clientIP(r)
	if header := r.Header.Get("Authorization"); header != "" {
		// A bad token on the anonymous endpoint is still anonymous traffic.
		if claims, err := h.bearerClaims(header); err == nil {
			policy = h.limits.CredentialTest
			identifier = "user:" + claims.Subject
		}
	}

	res := h.limiter.Check(identifier, policy)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		retryAfter := int(time.Until(res.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	outcome, err := h.creds.Validate(r.Context(), identifier, req.Username, req.Password, req.InstitutionID)
	if errors.Is(err, application.ErrInstitutionNotSupported) {
		writeError(w, http.StatusBadRequest, "institution not supported")
		return
	}
	if err != nil {
		h.logger.Error("credential test failed", "institution", req.InstitutionID, "error", err)
		writeError(w, http.StatusBadGateway, "could not reach the university")
		return
	}

	writeJSON(w, http.StatusOK, ValidationResponse{Valid: outcome.Success, Message: outcome.Message})
}

// SaveCredentials validates, encrypts, and stores the pair, completing stage
// two. The response carries a refreshed token with the new stage.
func (h *Handler) SaveCredentials(w http.ResponseWriter, r *http.Request) {
	claims := sessionFrom(r)

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	_, err := h.creds.Save(r.Context(), claims.Subject, req.Username, req.Password, req.InstitutionID)
	switch {
	case errors.Is(err, application.ErrInstitutionNotSupported):
		writeError(w, http.StatusBadRequest, "institution not supported")
		return
	case errors.Is(err, application.ErrInvalidCredentials):
		writeError(w, http.StatusUnprocessableEntity, "the university rejected these credentials")
		return
	case err != nil:
		h.logger.Error("credential save failed", "user", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// A successful save should not leave the user penalized for the failed
	// attempts that preceded it.
	h.limiter.Reset("user:" + claims.Subject)

	sess, token, err := h.sessions.RefreshOnDemand(r.Context(), claims.Subject)
	if err != nil {
		h.logger.Error("session refresh after save failed", "user", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(sess, token))
}

// RevalidateCredentials re-checks the stored pair against the institution.
func (h *Handler) RevalidateCredentials(w http.ResponseWriter, r *http.Request) {
	claims := sessionFrom(r)

	valid, err := h.creds.RevalidateStored(r.Context(), claims.Subject)
	if errors.Is(err, application.ErrNoStoredCredentials) {
		writeError(w, http.StatusNotFound, "no stored credentials")
		return
	}
	if err != nil {
		h.logger.Error("revalidation failed", "user", claims.Subject, "error", err)
		writeError(w, http.StatusBadGateway, "could not reach the university")
		return
	}

	writeJSON(w, http.StatusOK, ValidationResponse{Valid: valid})
}

// RevokeCredentials deletes the stored pair and demotes the session to stage one.
func (h *Handler) RevokeCredentials(w http.ResponseWriter, r *http.Request) {
	claims := sessionFrom(r)

	if err := h.creds.Revoke(r.Context(), claims.Subject); err != nil {
		h.logger.Error("credential revoke failed", "user", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetSession returns the current derived session without issuing a new token.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	claims := sessionFrom(r)

	sess, err := h.sessions.DeriveSession(r.Context(), claims.Subject)
	if errors.Is(err, application.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	if err != nil {
		h.logger.Error("session derivation failed", "user", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(sess, ""))
}

// RefreshSession re-derives the session and issues a fresh token.
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	claims := sessionFrom(r)

	sess, token, err := h.sessions.RefreshOnDemand(r.Context(), claims.Subject)
	if errors.Is(err, application.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	if err != nil {
		h.logger.Error("session refresh failed", "user", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(sess, token))
}

// triggerSyncRequest is the optional body for TriggerSync.
type triggerSyncRequest struct {
	Force bool `json:"force"`
}

// TriggerSync starts a background sync job and returns 202 immediately. A
// second trigger while a job runs gets a 409 carrying the active job.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	claims := sessionFrom(r)

	var req triggerSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	username, password, institutionID, err := h.creds.Decrypt(r.Context(), claims.Subject)
	if errors.Is(err, application.ErrNoStoredCredentials) {
		h.recordTrigger(r, claims.Subject, false, "no stored credentials")
		writeError(w, http.StatusPreconditionFailed, "store university credentials before syncing")
		return
	}
	if err != nil {
		h.logger.Error("credential decrypt for sync failed", "user", claims.Subject, "error", err)
		h.recordTrigger(r, claims.Subject, false, "credential decrypt failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	job, err := h.sync.Trigger(r.Context(), claims.Subject, application.Credentials{
		Username:      username,
		Password:      password,
		InstitutionID: institutionID,
	}, req.Force)

	var conflict *application.JobConflictError
	if errors.As(err, &conflict) {
		h.recordTrigger(r, claims.Subject, false, "active job exists")
		writeJSON(w, http.StatusConflict, conflictResponse{
			Error: "a sync job is already running",
			Job:   toJobResponse(conflict.Job, false),
		})
		return
	}
	if err != nil {
		h.logger.Error("sync trigger failed", "user", claims.Subject, "error", err)
		h.recordTrigger(r, claims.Subject, false, "internal error")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.recordTrigger(r, claims.Subject, true, "")
	writeJSON(w, http.StatusAccepted, toJobResponse(*job, false))
}

// SyncStatus returns one job for polling. Foreign and unknown job ids are
// indistinguishable.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	claims := sessionFrom(r)

	job, err := h.sync.GetStatus(r.Context(), r.PathValue("id"), claims.Subject)
	if errors.Is(err, application.ErrForbidden) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err != nil {
		h.logger.Error("sync status failed", "user", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(*job, true))
}

// CancelSync requests cancellation of an active job.
func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	claims := sessionFrom(r)

	err := h.sync.Cancel(r.Context(), r.PathValue("id"), claims.Subject)
	switch {
	case errors.Is(err, application.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
		return
	case errors.Is(err, application.ErrJobNotActive):
		writeError(w, http.StatusConflict, "sync job already finished")
		return
	case err != nil:
		h.logger.Error("sync cancel failed", "user", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SyncHistory returns a page of the caller's past jobs, newest first.
func (h *Handler) SyncHistory(w http.ResponseWriter, r *http.Request) {
	claims := sessionFrom(r)

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	status := model.SyncStatus(q.Get("status"))

	page, err := h.sync.History(r.Context(), claims.Subject, limit, offset, status)
	if err != nil {
		h.logger.Error("sync history failed", "user", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := HistoryResponse{
		Jobs:   make([]JobResponse, 0, len(page.Jobs)),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for _, job := range page.Jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(job, false))
	}

	writeJSON(w, http.StatusOK, resp)
}

// PruneSyncHistory removes the caller's old terminal jobs.
func (h *Handler) PruneSyncHistory(w http.ResponseWriter, r *http.Request) {
	claims := sessionFrom(r)

	deleted, err := h.sync.Prune(r.Context(), claims.Subject)
	if err != nil {
		h.logger.Error("history prune failed", "user", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// ListInstitutions returns the supported universities for the login UI.
func (h *Handler) ListInstitutions(w http.ResponseWriter, _ *http.Request) {
	insts := model.Institutions()
	resp := make([]InstitutionResponse, 0, len(insts))
	for _, inst := range insts {
		resp = append(resp, toInstitutionResponse(inst))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// bearerClaims parses an Authorization header value without failing the
// request; used where authentication is optional.
func (h *Handler) bearerClaims(header string) (*application.SessionClaims, error) {
	token, ok := cutBearer(header)
	if !ok {
		return nil, application.ErrForbidden
	}
	return h.sessions.ParseToken(token)
}

func cutBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

// recordTrigger audits a sync trigger attempt. Failures to audit never fail
// the request.
func (h *Handler) recordTrigger(r *http.Request, userID string, success bool, message string) {
	attempt := model.AuthAttempt{
		Identifier: userID,
		Kind:       model.AttemptKindSyncTrigger,
		Success:    success,
		CreatedAt:  time.Now().UTC(),
	}
	if !success {
		attempt.ErrorMessage = message
	}
	if err := h.attempts.Record(r.Context(), attempt); err != nil {
		h.logger.Error("audit write failed", "user", userID, "kind", attempt.Kind, "error", err)
	}
}
