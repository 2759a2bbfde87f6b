package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/akarwowska/altgen/internal/domain"
	"github.com/akarwowska/altgen/internal/notifications"
	"github.com/akarwowska/altgen/internal/openrouter"
	"github.com/akarwowska/altgen/internal/ratelimit"
	"github.com/akarwowska/altgen/internal/repository"
)

// pngBytes carries the PNG signature so content sniffing sees image/png.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x42}, 64)...)

type sentRequest struct {
	text     string
	imageRef string
}

type fakeClient struct {
	calls   []sentRequest
	content string
	err     error
	status  ratelimit.Status
}

func (f *fakeClient) SendRequest(ctx context.Context, text, imageRef string) (*openrouter.Response, error) {
	f.calls = append(f.calls, sentRequest{text: text, imageRef: imageRef})
	if f.err != nil {
		return nil, f.err
	}
	return &openrouter.Response{
		Success: true,
		Message: "request successful",
		Data:    openrouter.ResponseData{Content: f.content, Model: "google/gemini-2.0-flash"},
	}, nil
}

func (f *fakeClient) RateLimitStatus(ctx context.Context) (ratelimit.Status, error) {
	return f.status, nil
}

type fixture struct {
	handler  *Handler
	jobs     *repository.InMemoryJobRepository
	client   *fakeClient
	notifier *notifications.InMemoryNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	jobs := repository.NewInMemoryJobRepository()
	client := &fakeClient{content: "Alt: a red bicycle\nNazwa: red-bicycle.jpg"}
	notifier := notifications.NewInMemoryNotifier()

	return &fixture{
		handler: NewHandler(HandlerConfig{
			Jobs:     jobs,
			Client:   client,
			Notifier: notifier,
		}),
		jobs:     jobs,
		client:   client,
		notifier: notifier,
	}
}

func uploadRequest(t *testing.T, fileBytes []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if fileBytes != nil {
		part, err := mw.CreateFormFile("image", "photo.png")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write(fileBytes)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "user-1")
	return req
}

func TestHandler_CreateJob_Success(t *testing.T) {
	f := newFixture(t)

	req := uploadRequest(t, pngBytes, map[string]string{
		"subject":  "city cycling",
		"keywords": "bike, red, commute",
	})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var job domain.SuggestionJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("Status = %v, want completed", job.Status)
	}
	if job.AltText == nil || *job.AltText != "a red bicycle" {
		t.Errorf("AltText = %v, want 'a red bicycle'", job.AltText)
	}
	if job.FilenameSuggestion == nil || *job.FilenameSuggestion != "red-bicycle" {
		t.Errorf("FilenameSuggestion = %v, want 'red-bicycle' with the extension stripped", job.FilenameSuggestion)
	}

	if len(f.client.calls) != 1 {
		t.Fatalf("client calls = %d, want 1", len(f.client.calls))
	}
	call := f.client.calls[0]
	if !strings.HasPrefix(call.imageRef, "data:image/png;base64,") {
		t.Errorf("imageRef = %.40s..., want a png data URI", call.imageRef)
	}
	if !strings.Contains(call.text, "city cycling") || !strings.Contains(call.text, "bike, red, commute") {
		t.Errorf("prompt = %q, want subject and keywords folded in", call.text)
	}
}

func TestHandler_CreateJob_DuplicateFile(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, uploadRequest(t, pngBytes, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("first upload status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, uploadRequest(t, pngBytes, nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate upload status = %d, want 409", rec.Code)
	}
	if len(f.client.calls) != 1 {
		t.Errorf("client calls = %d; the duplicate must not reach the provider", len(f.client.calls))
	}
}

func TestHandler_CreateJob_UnsupportedType(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, uploadRequest(t, []byte("plain text, not an image"), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(f.client.calls) != 0 {
		t.Errorf("client calls = %d, want 0", len(f.client.calls))
	}
}

func TestHandler_CreateJob_MissingFile(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, uploadRequest(t, nil, map[string]string{"subject": "x"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_CreateJob_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.client.err = domain.NewRateLimitError("rate limit exceeded, please wait 90 seconds", 90)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, uploadRequest(t, pngBytes, nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "90" {
		t.Errorf("Retry-After = %q, want 90", got)
	}

	var body struct {
		WaitSeconds int `json:"wait_seconds"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.WaitSeconds != 90 {
		t.Errorf("wait_seconds = %d, want 90", body.WaitSeconds)
	}

	// The row is dropped so the same file can be resubmitted later.
	page, _ := f.jobs.List(context.Background(), "user-1", 1, 10)
	if page.Total != 0 {
		t.Errorf("jobs persisted = %d, want 0 after a rate-limited upload", page.Total)
	}

	events := f.notifier.Events()
	if len(events) != 1 || events[0].Type != notifications.EventRateLimited {
		t.Errorf("events = %+v, want one rate_limited event", events)
	}
}

func TestHandler_CreateJob_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.client.err = domain.NewProviderError("upstream unavailable", 503)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, uploadRequest(t, pngBytes, nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	page, _ := f.jobs.List(context.Background(), "user-1", 1, 10)
	if page.Total != 1 {
		t.Fatalf("jobs persisted = %d, want the failed job kept", page.Total)
	}
	job := page.Jobs[0]
	if job.Status != domain.JobStatusFailed {
		t.Errorf("Status = %v, want failed", job.Status)
	}
	if job.ErrorMessage == nil || !strings.Contains(*job.ErrorMessage, "upstream unavailable") {
		t.Errorf("ErrorMessage = %v", job.ErrorMessage)
	}

	events := f.notifier.Events()
	if len(events) != 1 || events[0].Type != notifications.EventJobFailed {
		t.Errorf("events = %+v, want one job_failed event", events)
	}
}

func TestHandler_CreateJob_AuthFailureHidesDetail(t *testing.T) {
	f := newFixture(t)
	f.client.err = domain.NewAuthenticationError("invalid API key sk-or-secret")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, uploadRequest(t, pngBytes, nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-or-secret") {
		t.Error("response leaks the provider error detail")
	}
}

func TestHandler_CreateJob_UntaggedCompletion(t *testing.T) {
	f := newFixture(t)
	f.client.content = "The image shows a bicycle but no tags here."

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, uploadRequest(t, pngBytes, nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	page, _ := f.jobs.List(context.Background(), "user-1", 1, 10)
	if page.Total != 1 || page.Jobs[0].Status != domain.JobStatusFailed {
		t.Errorf("expected the job kept as failed, got %+v", page.Jobs)
	}
}

func seedJob(t *testing.T, f *fixture, status domain.JobStatus) *domain.SuggestionJob {
	t.Helper()
	now := time.Now().UTC()
	job := &domain.SuggestionJob{
		ID:               uuid.NewString(),
		UserID:           "user-1",
		OriginalFilename: "bike.jpg",
		FileHash:         uuid.NewString(),
		ContextSubject:   "cycling",
		ContextKeywords:  []string{"bike"},
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := f.jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestHandler_RetryJob(t *testing.T) {
	f := newFixture(t)
	job := seedJob(t, f, domain.JobStatusFailed)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID+"/retry", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var updated domain.SuggestionJob
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Status != domain.JobStatusCompleted {
		t.Errorf("Status = %v, want completed", updated.Status)
	}

	if len(f.client.calls) != 1 {
		t.Fatalf("client calls = %d, want 1", len(f.client.calls))
	}
	call := f.client.calls[0]
	if call.imageRef != "" {
		t.Errorf("retry must be text-only, imageRef = %q", call.imageRef)
	}
	if !strings.Contains(call.text, "bike.jpg") {
		t.Errorf("retry prompt = %q, want the original filename mentioned", call.text)
	}
}

func TestHandler_RetryJob_OnlyFailed(t *testing.T) {
	f := newFixture(t)
	job := seedJob(t, f, domain.JobStatusCompleted)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID+"/retry", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/jobs/"+uuid.NewString()+"/retry", nil)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status for missing job = %d, want 404", rec.Code)
	}
}

func TestHandler_GetJob(t *testing.T) {
	f := newFixture(t)
	job := seedJob(t, f, domain.JobStatusPending)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got domain.SuggestionJob
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != job.ID {
		t.Errorf("ID = %q, want %q", got.ID, job.ID)
	}
}

func TestHandler_UpdateJob(t *testing.T) {
	f := newFixture(t)
	job := seedJob(t, f, domain.JobStatusPending)

	body := strings.NewReader(`{"context_subject": "mountain biking", "context_keywords": ["trail", "mtb"]}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/jobs/"+job.ID, body)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got domain.SuggestionJob
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ContextSubject != "mountain biking" {
		t.Errorf("ContextSubject = %q", got.ContextSubject)
	}
	if len(got.ContextKeywords) != 2 {
		t.Errorf("ContextKeywords = %v", got.ContextKeywords)
	}

	req = httptest.NewRequest(http.MethodPatch, "/v1/jobs/"+job.ID, strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty patch status = %d, want 400", rec.Code)
	}
}

func TestHandler_DeleteJob(t *testing.T) {
	f := newFixture(t)
	job := seedJob(t, f, domain.JobStatusCompleted)

	req := httptest.NewRequest(http.MethodDelete, "/v1/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	if _, err := f.jobs.GetByID(context.Background(), job.ID); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("job still present after delete")
	}
}

func TestHandler_ListJobs_Validation(t *testing.T) {
	f := newFixture(t)

	for _, q := range []string{"?page=0", "?page=abc", "?limit=0", "?limit=101"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs"+q, nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q status = %d, want 400", q, rec.Code)
		}
	}
}

func TestHandler_ListJobs_ScopedToUser(t *testing.T) {
	f := newFixture(t)
	seedJob(t, f, domain.JobStatusCompleted)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("X-User-ID", "someone-else")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var page domain.JobPage
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 0 {
		t.Errorf("Total = %d, want 0 for another user", page.Total)
	}
}

func TestHandler_RateLimitStatus(t *testing.T) {
	f := newFixture(t)
	reset := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	f.client.status = ratelimit.Status{
		MinuteRemaining: 42,
		HourRemaining:   1200,
		MinuteResetAt:   reset,
		HourResetAt:     reset.Add(time.Hour),
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/ratelimit", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		MinuteRemaining int    `json:"minute_remaining"`
		HourRemaining   int    `json:"hour_remaining"`
		MinuteResetAt   string `json:"minute_reset_at"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.MinuteRemaining != 42 || body.HourRemaining != 1200 {
		t.Errorf("body = %+v", body)
	}
	if body.MinuteResetAt != "2026-09-01T12:00:00Z" {
		t.Errorf("minute_reset_at = %q", body.MinuteResetAt)
	}
}

func TestHandler_Health(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
