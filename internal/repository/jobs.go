// Package repository persists suggestion jobs. The Postgres implementation
// is the production path; the in-memory one backs tests and local runs
// without a database.
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akarwowska/altgen/internal/domain"
)

type JobRepository interface {
	Create(ctx context.Context, job *domain.SuggestionJob) error
	GetByID(ctx context.Context, id string) (*domain.SuggestionJob, error)
	GetByFileHash(ctx context.Context, userID, fileHash string) (*domain.SuggestionJob, error)
	List(ctx context.Context, userID string, page, limit int) (*domain.JobPage, error)
	Update(ctx context.Context, id string, update domain.JobUpdate) (*domain.SuggestionJob, error)
	Delete(ctx context.Context, id string) error
}

type InMemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.SuggestionJob
}

func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs: make(map[string]*domain.SuggestionJob),
	}
}

func (r *InMemoryJobRepository) Create(ctx context.Context, job *domain.SuggestionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.jobs {
		if existing.UserID == job.UserID && existing.FileHash == job.FileHash {
			return domain.ErrDuplicateFile
		}
	}

	stored := *job
	r.jobs[job.ID] = &stored
	return nil
}

func (r *InMemoryJobRepository) GetByID(ctx context.Context, id string) (*domain.SuggestionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *InMemoryJobRepository) GetByFileHash(ctx context.Context, userID, fileHash string) (*domain.SuggestionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, job := range r.jobs {
		if job.UserID == userID && job.FileHash == fileHash {
			copied := *job
			return &copied, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (r *InMemoryJobRepository) List(ctx context.Context, userID string, page, limit int) (*domain.JobPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*domain.SuggestionJob, 0)
	for _, job := range r.jobs {
		if job.UserID == userID {
			copied := *job
			matched = append(matched, &copied)
		}
	}

	// Newest first, ties broken by ID for a stable order.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &domain.JobPage{
		Jobs:  matched[start:end],
		Total: total,
		Page:  page,
		Limit: limit,
	}, nil
}

func (r *InMemoryJobRepository) Update(ctx context.Context, id string, update domain.JobUpdate) (*domain.SuggestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.AltText != nil {
		job.AltText = update.AltText
	}
	if update.FilenameSuggestion != nil {
		job.FilenameSuggestion = update.FilenameSuggestion
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = update.ErrorMessage
	}
	if update.ContextSubject != nil {
		job.ContextSubject = *update.ContextSubject
	}
	if update.ContextKeywords != nil {
		job.ContextKeywords = *update.ContextKeywords
	}
	job.UpdatedAt = time.Now().UTC()

	copied := *job
	return &copied, nil
}

func (r *InMemoryJobRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}
