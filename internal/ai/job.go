package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lexline/internal/domain"
)

// ErrCancelled is the failure reason of a cancelled job.
var ErrCancelled = errors.New("cancelled")

// Job is one generation attempt: pending -> running -> succeeded|failed.
// Terminal states never transition again; a retry needs a new Job with a
// new id. Progress is monotonically non-decreasing and the update stream
// is a bounded channel closed as the completion sentinel.
type Job struct {
	ID string

	mu       sync.Mutex
	status   domain.JobStatus
	progress int
	logs     []string
	text     string
	err      error
	cancel   context.CancelFunc
}

func NewJob(id string) *Job {
	return &Job{ID: id, status: domain.JobPending}
}

// Start launches the drafting call and returns the update stream. The
// channel is buffered to the given size; a slow consumer applies
// backpressure to the producer rather than dropping updates. The channel
// closes once the job reaches a terminal state.
func (j *Job) Start(ctx context.Context, backend Backend, payload CasePayload, buffer int) (<-chan Update, error) {
	j.mu.Lock()
	if j.status != domain.JobPending {
		j.mu.Unlock()
		return nil, fmt.Errorf("job %s already started", j.ID)
	}
	jobCtx, cancel := context.WithCancel(ctx)
	j.status = domain.JobRunning
	j.cancel = cancel
	j.mu.Unlock()

	if buffer <= 0 {
		buffer = 1
	}
	updates := make(chan Update, buffer)

	emit := func(u Update) {
		u = j.apply(u)
		select {
		case updates <- u:
		case <-jobCtx.Done():
		}
	}

	go func() {
		defer close(updates)
		text, err := backend.Generate(jobCtx, payload, emit)
		if jobCtx.Err() != nil && j.cancelled() {
			err = ErrCancelled
		}
		j.finish(text, err)
		cancel()
	}()
	return updates, nil
}

// apply folds an update into job state, clamping progress so it never
// decreases, and returns the clamped update.
func (j *Job) apply(u Update) Update {
	j.mu.Lock()
	defer j.mu.Unlock()
	if u.Progress < j.progress {
		u.Progress = j.progress
	}
	if u.Progress > 100 {
		u.Progress = 100
	}
	j.progress = u.Progress
	if u.Log != "" {
		j.logs = append(j.logs, u.Log)
	}
	return u
}

func (j *Job) finish(text string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	if err != nil {
		j.status = domain.JobFailed
		j.err = err
		return
	}
	j.status = domain.JobSucceeded
	j.text = text
	j.progress = 100
}

// Cancel transitions a running job to failed with reason ErrCancelled.
// No-op for jobs already terminal.
func (j *Job) Cancel() {
	j.mu.Lock()
	if j.status.Terminal() || j.cancel == nil {
		j.mu.Unlock()
		return
	}
	j.status = domain.JobFailed
	j.err = ErrCancelled
	cancel := j.cancel
	j.mu.Unlock()
	cancel()
}

func (j *Job) cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return errors.Is(j.err, ErrCancelled)
}

func (j *Job) Status() domain.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) Progress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Logs returns a copy of the log lines emitted so far.
func (j *Job) Logs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.logs))
	copy(out, j.logs)
	return out
}

func (j *Job) Text() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.text
}

func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}
