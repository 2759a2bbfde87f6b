package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/akarwowska/altgen/internal/domain"
)

const jobColumns = `id, user_id, original_filename, file_hash, context_subject,
	       context_keywords, status, alt_text, filename_suggestion, error_message,
	       created_at, updated_at`

type PostgresJobRepository struct {
	db *sql.DB
}

func NewPostgresJobRepository(db *sql.DB) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

func (r *PostgresJobRepository) Create(ctx context.Context, job *domain.SuggestionJob) error {
	query := `
		INSERT INTO suggestion_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.UserID,
		job.OriginalFilename,
		job.FileHash,
		job.ContextSubject,
		pq.Array(job.ContextKeywords),
		string(job.Status),
		job.AltText,
		job.FilenameSuggestion,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		// 23505 is unique_violation; the (user_id, file_hash) index guards
		// against duplicate uploads.
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrDuplicateFile
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobRepository) GetByID(ctx context.Context, id string) (*domain.SuggestionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM suggestion_jobs WHERE id = $1`
	return r.scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresJobRepository) GetByFileHash(ctx context.Context, userID, fileHash string) (*domain.SuggestionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM suggestion_jobs WHERE user_id = $1 AND file_hash = $2`
	return r.scanJob(r.db.QueryRowContext(ctx, query, userID, fileHash))
}

func (r *PostgresJobRepository) List(ctx context.Context, userID string, page, limit int) (*domain.JobPage, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suggestion_jobs WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	query := `
		SELECT ` + jobColumns + `
		FROM suggestion_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.SuggestionJob, 0, limit)
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return &domain.JobPage{
		Jobs:  jobs,
		Total: total,
		Page:  page,
		Limit: limit,
	}, nil
}

func (r *PostgresJobRepository) Update(ctx context.Context, id string, update domain.JobUpdate) (*domain.SuggestionJob, error) {
	query := `
		UPDATE suggestion_jobs
		SET status = COALESCE($2, status),
		    alt_text = COALESCE($3, alt_text),
		    filename_suggestion = COALESCE($4, filename_suggestion),
		    error_message = COALESCE($5, error_message),
		    context_subject = COALESCE($6, context_subject),
		    context_keywords = COALESCE($7, context_keywords),
		    updated_at = $8
		WHERE id = $1
		RETURNING ` + jobColumns

	var status *string
	if update.Status != nil {
		s := string(*update.Status)
		status = &s
	}
	var keywords any
	if update.ContextKeywords != nil {
		keywords = pq.Array(*update.ContextKeywords)
	}

	return r.scanJob(r.db.QueryRowContext(ctx, query,
		id,
		status,
		update.AltText,
		update.FilenameSuggestion,
		update.ErrorMessage,
		update.ContextSubject,
		keywords,
		time.Now().UTC(),
	))
}

func (r *PostgresJobRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM suggestion_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresJobRepository) scanJob(row rowScanner) (*domain.SuggestionJob, error) {
	var job domain.SuggestionJob
	var keywords pq.StringArray
	var status string
	var altText, filenameSuggestion, errorMessage sql.NullString

	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.OriginalFilename,
		&job.FileHash,
		&job.ContextSubject,
		&keywords,
		&status,
		&altText,
		&filenameSuggestion,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.ContextKeywords = []string(keywords)
	job.Status = domain.JobStatus(status)
	if altText.Valid {
		job.AltText = &altText.String
	}
	if filenameSuggestion.Valid {
		job.FilenameSuggestion = &filenameSuggestion.String
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}

	return &job, nil
}
