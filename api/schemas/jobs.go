package schemas

import "time"

// -- Job Schemas --

// JobKind names the operation a job runs.
type JobKind string

const (
	JobCreate   JobKind = "create"
	JobNavigate JobKind = "navigate"
	JobOperate  JobKind = "operate"
	JobClose    JobKind = "close"
)

// JobStatus is the lifecycle state of a job. Terminal statuses never change.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is the pollable record of one asynchronous operation.
type Job struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	ProjectID string    `json:"project_id"`
	Status    JobStatus `json:"status"`

	// Instruction or URL the job was submitted with, for listings.
	Input string `json:"input,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	// StartedAt and FinishedAt are pointers so an unset time is omitted from
	// the wire instead of serializing as the zero timestamp.
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Result is set when Status is completed.
	Result *OperationResult `json:"result,omitempty"`
	// Error is set when Status is failed or cancelled.
	Error *OperationError `json:"error,omitempty"`
}

// JobSummary is the compact listing form of a Job.
type JobSummary struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	ProjectID string    `json:"project_id"`
	Status    JobStatus `json:"status"`
	Input     string    `json:"input,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OperationResult is the payload of a completed job.
type OperationResult struct {
	// Text is the oracle's completion summary, or a short status line for
	// session and navigation jobs.
	Text string `json:"text"`
	// Screenshot is the final page screenshot, base64 PNG. Empty for jobs
	// that finished without a live page.
	Screenshot string `json:"screenshot,omitempty"`
	// Steps is the number of oracle query cycles the operation consumed.
	Steps int `json:"steps"`
	// FinalURL is where the page ended up.
	FinalURL string `json:"final_url,omitempty"`
}
