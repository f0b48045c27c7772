package models

// Job states.
const (
	JobPending = "pending"
	JobDone    = "done"
)

// Job is a long-running server task clients poll until it is done.
// Timestamps use the server's "YYYY-MM-DD HH:MM:SS" UTC format.
type Job struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Polls       int    `json:"polls"`
	CreatedAt   string `json:"createdAt"`
	CompletedAt string `json:"completedAt,omitempty"`
}

// Done reports whether the job has finished.
func (j Job) Done() bool {
	return j.Status == JobDone
}

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	Name string `json:"name"`
	// Steps is how many status polls the job takes to finish.
	Steps int `json:"steps"`
}
