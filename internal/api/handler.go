// Package api exposes the suggestion-job HTTP surface: upload an image with
// optional context, read back the generated alt text and filename.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akarwowska/altgen/internal/domain"
	"github.com/akarwowska/altgen/internal/metrics"
	"github.com/akarwowska/altgen/internal/notifications"
	"github.com/akarwowska/altgen/internal/openrouter"
	"github.com/akarwowska/altgen/internal/ratelimit"
	"github.com/akarwowska/altgen/internal/repository"
)

// SuggestionClient is the slice of the completion client the handlers need.
type SuggestionClient interface {
	SendRequest(ctx context.Context, text string, imageRef string) (*openrouter.Response, error)
	RateLimitStatus(ctx context.Context) (ratelimit.Status, error)
}

type HandlerConfig struct {
	Jobs           repository.JobRepository
	Client         SuggestionClient
	Notifier       notifications.Notifier
	MaxUploadBytes int64
	Checkers       []HealthChecker
	CheckTimeout   time.Duration
}

type Handler struct {
	jobs           repository.JobRepository
	client         SuggestionClient
	parser         openrouter.TagParser
	notifier       notifications.Notifier
	maxUploadBytes int64
	mux            *http.ServeMux
}

const (
	defaultMaxUploadBytes = 10 << 20
	maxPageLimit          = 100
)

func NewHandler(cfg HandlerConfig) *Handler {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload == 0 {
		maxUpload = defaultMaxUploadBytes
	}
	checkTimeout := cfg.CheckTimeout
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}

	h := &Handler{
		jobs:           cfg.Jobs,
		client:         cfg.Client,
		parser:         openrouter.NewTagParser(),
		notifier:       cfg.Notifier,
		maxUploadBytes: maxUpload,
		mux:            http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/jobs", h.handleCreateJob)
	h.mux.HandleFunc("GET /v1/jobs", h.handleListJobs)
	h.mux.HandleFunc("GET /v1/jobs/{id}", h.handleGetJob)
	h.mux.HandleFunc("PATCH /v1/jobs/{id}", h.handleUpdateJob)
	h.mux.HandleFunc("DELETE /v1/jobs/{id}", h.handleDeleteJob)
	h.mux.HandleFunc("POST /v1/jobs/{id}/retry", h.handleRetryJob)
	h.mux.HandleFunc("GET /v1/ratelimit", h.handleRateLimitStatus)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.Checkers, checkTimeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

func (h *Handler) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestID(r)
	userID := userID(r)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read image: "+err.Error())
		return
	}

	contentType := http.DetectContentType(data)
	if !allowedImageTypes[contentType] {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported image type %s; use jpeg, png or webp", contentType))
		return
	}

	hash := sha256.Sum256(data)
	fileHash := hex.EncodeToString(hash[:])

	if existing, err := h.jobs.GetByFileHash(ctx, userID, fileHash); err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error": "a job for this file already exists",
			"job":   existing,
		})
		return
	}

	subject := strings.TrimSpace(r.FormValue("subject"))
	keywords := splitKeywords(r.FormValue("keywords"))

	now := time.Now().UTC()
	job := &domain.SuggestionJob{
		ID:               uuid.NewString(),
		UserID:           userID,
		OriginalFilename: header.Filename,
		FileHash:         fileHash,
		ContextSubject:   subject,
		ContextKeywords:  keywords,
		Status:           domain.JobStatusProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		if err == domain.ErrDuplicateFile {
			writeError(w, http.StatusConflict, "a job for this file already exists")
			return
		}
		slog.Error("create job failed", "error", err, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	imageRef := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	prompt := buildPrompt(subject, keywords)

	resp, err := h.client.SendRequest(ctx, prompt, imageRef)
	if err != nil {
		h.finishFailed(ctx, w, job, err, requestID)
		return
	}

	updated, err := h.completeJob(ctx, job, resp.Data.Content)
	if err != nil {
		h.finishFailed(ctx, w, job, err, requestID)
		return
	}

	metrics.RecordJob(string(domain.JobStatusCompleted))
	slog.Info("job completed",
		"job_id", job.ID,
		"user_id", userID,
		"request_id", requestID,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(updated)
}

func (h *Handler) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestID(r)

	job, err := h.jobs.GetByID(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != domain.JobStatusFailed {
		writeError(w, http.StatusConflict, "only failed jobs can be retried")
		return
	}

	status := domain.JobStatusProcessing
	if _, err := h.jobs.Update(ctx, job.ID, domain.JobUpdate{Status: &status}); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Image bytes are not stored; the retry runs on the recorded context
	// and the original filename alone.
	prompt := buildPrompt(job.ContextSubject, job.ContextKeywords) +
		fmt.Sprintf(" The original file was named %q.", job.OriginalFilename)

	resp, err := h.client.SendRequest(ctx, prompt, "")
	if err != nil {
		h.finishFailed(ctx, w, job, err, requestID)
		return
	}

	updated, err := h.completeJob(ctx, job, resp.Data.Content)
	if err != nil {
		h.finishFailed(ctx, w, job, err, requestID)
		return
	}

	metrics.RecordJob(string(domain.JobStatusCompleted))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// completeJob parses the completion and persists the suggestion.
func (h *Handler) completeJob(ctx context.Context, job *domain.SuggestionJob, content string) (*domain.SuggestionJob, error) {
	suggestion, err := h.parser.Parse(content)
	if err != nil {
		return nil, err
	}

	status := domain.JobStatusCompleted
	return h.jobs.Update(ctx, job.ID, domain.JobUpdate{
		Status:             &status,
		AltText:            suggestion.Alt,
		FilenameSuggestion: suggestion.Filename,
	})
}

// finishFailed translates a completion error into the HTTP response and the
// persisted job state.
func (h *Handler) finishFailed(ctx context.Context, w http.ResponseWriter, job *domain.SuggestionJob, err error, requestID string) {
	derr, ok := domain.AsError(err)
	if ok && derr.Kind == domain.KindRateLimit {
		// The upload itself did not fail; drop the row so the same file
		// can be submitted again once the limit clears.
		if delErr := h.jobs.Delete(ctx, job.ID); delErr != nil {
			slog.Warn("delete rate-limited job failed", "error", delErr, "job_id", job.ID)
		}
		h.notify(ctx, notifications.Event{
			Type:    notifications.EventRateLimited,
			UserID:  job.UserID,
			Message: derr.Message,
			Data:    map[string]any{"wait_seconds": derr.WaitSeconds},
		})
		w.Header().Set("Retry-After", strconv.Itoa(derr.WaitSeconds))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error":        derr.Message,
			"wait_seconds": derr.WaitSeconds,
		})
		return
	}

	failed := domain.JobStatusFailed
	msg := err.Error()
	if _, updErr := h.jobs.Update(ctx, job.ID, domain.JobUpdate{
		Status:       &failed,
		ErrorMessage: &msg,
	}); updErr != nil {
		slog.Error("persist failed job state", "error", updErr, "job_id", job.ID)
	}
	metrics.RecordJob(string(domain.JobStatusFailed))

	if !ok {
		slog.Error("job failed", "error", err, "job_id", job.ID, "request_id", requestID)
		writeError(w, http.StatusBadGateway, "completion request failed")
		return
	}

	switch derr.Kind {
	case domain.KindAuthentication:
		// Misconfigured deployment, not a user problem; keep the detail
		// out of the response.
		slog.Error("provider authentication failed", "job_id", job.ID, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "service is misconfigured, contact the operator")
	case domain.KindValidation:
		writeError(w, http.StatusBadRequest, derr.Message)
	default:
		h.notify(ctx, notifications.Event{
			Type:    notifications.EventJobFailed,
			UserID:  job.UserID,
			JobID:   job.ID,
			Message: derr.Message,
		})
		slog.Error("job failed", "error", derr, "job_id", job.ID, "request_id", requestID)
		writeError(w, http.StatusBadGateway, derr.Message)
	}
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.jobs.List(r.Context(), userID(r), page, limit)
	if err != nil {
		slog.Error("list jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *Handler) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var patch struct {
		ContextSubject  *string   `json:"context_subject"`
		ContextKeywords *[]string `json:"context_keywords"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if patch.ContextSubject == nil && patch.ContextKeywords == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	job, err := h.jobs.Update(r.Context(), r.PathValue("id"), domain.JobUpdate{
		ContextSubject:  patch.ContextSubject,
		ContextKeywords: patch.ContextKeywords,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *Handler) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.client.RateLimitStatus(r.Context())
	if err != nil {
		slog.Error("rate limit status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"minute_remaining": st.MinuteRemaining,
		"hour_remaining":   st.HourRemaining,
		"minute_reset_at":  st.MinuteResetAt.Format(time.RFC3339),
		"hour_reset_at":    st.HourResetAt.Format(time.RFC3339),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) notify(ctx context.Context, event notifications.Event) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.Send(ctx, event); err != nil {
		slog.Warn("send notification failed", "error", err, "type", event.Type)
	}
}

// buildPrompt folds the user-provided context into the instruction text.
func buildPrompt(subject string, keywords []string) string {
	var b strings.Builder
	b.WriteString("Generate the alt text and file name for this image.")
	if subject != "" {
		fmt.Fprintf(&b, " The page is about: %s.", subject)
	}
	if len(keywords) > 0 {
		fmt.Fprintf(&b, " Work in these keywords where they fit naturally: %s.", strings.Join(keywords, ", "))
	}
	return b.String()
}

func splitKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		if kw := strings.TrimSpace(p); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords
}

func pagination(r *http.Request) (page, limit int, err error) {
	page, limit = 1, 20

	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxPageLimit {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxPageLimit)
		}
	}
	return page, limit, nil
}

func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
