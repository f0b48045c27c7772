package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alexjbarnes/tokengate/internal/auth"
	"github.com/alexjbarnes/tokengate/internal/models"
	"github.com/google/uuid"
)

// jobTimeLayout is how the API renders job timestamps: UTC without a zone.
const jobTimeLayout = "2006-01-02 15:04:05"

const (
	defaultJobSteps = 3
	maxJobSteps     = 100
)

type job struct {
	models.Job
	owner string
	steps int
}

// Jobs is an in-memory set of jobs that finish after a fixed number of
// status polls.
type Jobs struct {
	mu   sync.Mutex
	jobs map[string]*job
	now  func() time.Time
}

// NewJobs creates an empty job set.
func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]*job), now: time.Now}
}

// Create starts a job owned by owner that completes on its steps-th poll.
func (j *Jobs) Create(owner, name string, steps int) models.Job {
	if steps <= 0 {
		steps = defaultJobSteps
	}

	steps = min(steps, maxJobSteps)

	jb := &job{
		Job: models.Job{
			ID:        uuid.NewString(),
			Name:      name,
			Status:    models.JobPending,
			CreatedAt: j.now().UTC().Format(jobTimeLayout),
		},
		owner: owner,
		steps: steps,
	}

	j.mu.Lock()
	j.jobs[jb.ID] = jb
	j.mu.Unlock()

	return jb.Job
}

// Poll records a status check on the job and returns its state. Jobs
// belonging to other users are reported as missing.
func (j *Jobs) Poll(owner, id string) (models.Job, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	jb, ok := j.jobs[id]
	if !ok || jb.owner != owner {
		return models.Job{}, false
	}

	if !jb.Done() {
		jb.Polls++
		if jb.Polls >= jb.steps {
			jb.Status = models.JobDone
			jb.CompletedAt = j.now().UTC().Format(jobTimeLayout)
		}
	}

	return jb.Job, true
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	auth.WriteJSON(w, http.StatusOK, models.Profile{Email: auth.RequestEmail(r.Context())})
}

func handleCreateJob(jobs *Jobs, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		var req models.CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			auth.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.Name == "" {
			auth.WriteError(w, http.StatusBadRequest, "name is required")
			return
		}

		email := auth.RequestEmail(r.Context())
		jb := jobs.Create(email, req.Name, req.Steps)

		logger.Info("job created",
			slog.String("id", jb.ID),
			slog.String("name", jb.Name),
			slog.String("email", email),
		)

		auth.WriteJSON(w, http.StatusCreated, jb)
	}
}

func handleGetJob(jobs *Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jb, ok := jobs.Poll(auth.RequestEmail(r.Context()), r.PathValue("id"))
		if !ok {
			auth.WriteError(w, http.StatusNotFound, "job not found")
			return
		}

		auth.WriteJSON(w, http.StatusOK, jb)
	}
}
