package domain

import "time"

// JobStatus tracks a suggestion job through its lifecycle.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// SuggestionJob is one uploaded image plus the AI-generated results for it.
// Only the fields the suggestion flow reads and writes are modeled here.
type SuggestionJob struct {
	ID                 string
	UserID             string
	OriginalFilename   string
	FileHash           string
	ContextSubject     string
	ContextKeywords    []string
	Status             JobStatus
	AltText            *string
	FilenameSuggestion *string
	ErrorMessage       *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// JobUpdate carries a partial update for a job; nil fields are left untouched.
type JobUpdate struct {
	AltText            *string
	FilenameSuggestion *string
	ContextSubject     *string
	ContextKeywords    *[]string
	Status             *JobStatus
	ErrorMessage       *string
}

// JobPage is one page of a user's jobs, newest first.
type JobPage struct {
	Jobs  []*SuggestionJob
	Total int
	Page  int
	Limit int
}

// Suggestion is the parsed result of a model completion. A nil field means
// the expected tagged line was absent from the output.
type Suggestion struct {
	Alt      *string
	Filename *string
}
