package wizard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lexline/internal/ai"
	"lexline/internal/domain"
	"lexline/internal/events"
	"lexline/internal/validate"
)

// ValidationError carries the field-level messages that blocked
// generation. User-correctable, never fatal.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "review validation failed: " + strings.Join(e.Errors, "; ")
}

// StartGeneration reserves a credit and launches a generation job.
// Requires the review step with passing validation; after a failed
// attempt the session sits on the generation step and a start from
// there is a retry. Exactly one job may run per session; the job id is
// minted from session id and a per-session attempt counter and is
// never reused.
func (e *Engine) StartGeneration(ctx context.Context, sessionID string) (Snapshot, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// The in-flight check comes first: a running job makes any further
	// start a conflict regardless of step. jobStatus holds a terminal
	// outcome back until its settlement finishes, so a start during
	// settlement cannot double-reserve.
	if s.job != nil && !s.jobStatus().Terminal() {
		return Snapshot{}, ErrJobAlreadyInProgress
	}
	if s.step != domain.StepReview && s.step != domain.StepGeneration {
		return Snapshot{}, fmt.Errorf("%w: generation starts from review, current step %s", ErrWrongStep, s.step)
	}
	if res := validate.IsStepValid(domain.StepReview, s.validationView()); !res.Valid {
		return Snapshot{}, &ValidationError{Errors: res.Errors}
	}

	s.attempt++
	jobID := fmt.Sprintf("%s-%d", s.id, s.attempt)

	reservation, err := e.Credits.Reserve(ctx, s.accountID, s.id, jobID, s.actorID)
	if err != nil {
		return Snapshot{}, err
	}

	payload := ai.CasePayload{
		Parties:       s.parties.List(),
		Area:          s.area,
		DocType:       s.docType,
		Facts:         s.facts,
		Requests:      s.requests,
		Theses:        append([]string(nil), s.theses...),
		Jurisprudence: append([]string(nil), s.jurisprudence...),
		Meta:          s.meta,
		Model:         s.model,
	}

	job := ai.NewJob(jobID)
	jobCtx, cancel := context.WithTimeout(context.Background(), e.Config.AITimeout())
	updates, err := job.Start(jobCtx, e.Backend, payload, e.Config.Generation.LogBuffer)
	if err != nil {
		cancel()
		relErr := e.Credits.Release(ctx, reservation, "start failed", s.actorID)
		if relErr != nil {
			e.logger().Printf("release after failed start: %v", relErr)
		}
		return Snapshot{}, err
	}

	done := make(chan struct{})
	s.job = job
	s.jobDone = done
	s.reservation = reservation
	s.step = domain.StepGeneration
	s.lastFailure = ""

	if err := e.Events.Append(ctx, nil, "generation.started", s.accountID, "job", jobID, s.actorID, events.EventPayload{
		"session_id": s.id,
		"model":      s.model,
	}); err != nil {
		e.logger().Printf("append generation.started event: %v", err)
	}

	go e.finishJob(s, job, reservation, updates, done, cancel)
	return s.snapshot(), nil
}

// finishJob drains the bounded update stream and settles the outcome:
// commit + persist on success, release on failure. The done channel
// closes only after the reservation's fate is settled, so cancellation
// is complete only once the credit hold is gone.
func (e *Engine) finishJob(s *session, job *ai.Job, reservation domain.Reservation, updates <-chan ai.Update, done chan struct{}, cancel context.CancelFunc) {
	defer close(done)
	defer cancel()

	// Progress and logs accumulate on the job itself; draining here
	// keeps the producer from blocking on the bounded buffer.
	for range updates {
	}

	ctx := context.Background()
	if job.Status() == domain.JobSucceeded {
		e.settleSuccess(ctx, s, job, reservation)
		return
	}
	e.settleFailure(ctx, s, job, reservation)
}

func (e *Engine) settleSuccess(ctx context.Context, s *session, job *ai.Job, reservation domain.Reservation) {
	if err := e.Credits.Commit(ctx, reservation, s.actorID); err != nil {
		// Commit refused (e.g. balance raced to zero in another
		// session); the attempt cannot be charged, so treat it as a
		// failed attempt and free the hold.
		e.logger().Printf("credit commit for job %s: %v", job.ID, err)
		if relErr := e.Credits.Release(ctx, reservation, "commit failed", s.actorID); relErr != nil {
			e.logger().Printf("release after failed commit: %v", relErr)
		}
		s.mu.Lock()
		s.lastFailure = fmt.Sprintf("credit commit failed: %v", err)
		s.step = domain.StepGeneration
		s.mu.Unlock()
		return
	}

	text := job.Text()
	s.mu.Lock()
	doc := domain.Document{
		ID:        uuid.New().String(),
		AccountID: s.accountID,
		SessionID: s.id,
		Title:     documentTitle(s.docType, s.parties.List()),
		Area:      s.area,
		DocType:   s.docType,
		Text:      text,
		Model:     s.model,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	s.text = text
	s.step = domain.StepFinal
	s.documentID = doc.ID
	accountID, actorID := s.accountID, s.actorID
	s.mu.Unlock()

	if err := e.Store.InsertDocument(ctx, doc); err != nil {
		e.logger().Printf("persist document for job %s: %v", job.ID, err)
	}
	if err := e.Events.Append(ctx, nil, "generation.succeeded", accountID, "job", job.ID, actorID, events.EventPayload{
		"session_id":  reservation.SessionID,
		"document_id": doc.ID,
	}); err != nil {
		e.logger().Printf("append generation.succeeded event: %v", err)
	}
}

func (e *Engine) settleFailure(ctx context.Context, s *session, job *ai.Job, reservation domain.Reservation) {
	reason := "unknown failure"
	if err := job.Err(); err != nil {
		reason = err.Error()
	}
	if err := e.Credits.Release(ctx, reservation, reason, s.actorID); err != nil {
		e.logger().Printf("release reservation for job %s: %v", job.ID, err)
	}
	s.mu.Lock()
	s.lastFailure = reason
	// Stay on the generation step so the caller can decide to retry.
	s.step = domain.StepGeneration
	accountID, actorID := s.accountID, s.actorID
	s.mu.Unlock()

	if err := e.Events.Append(ctx, nil, "generation.failed", accountID, "job", job.ID, actorID, events.EventPayload{
		"session_id": reservation.SessionID,
		"reason":     reason,
	}); err != nil {
		e.logger().Printf("append generation.failed event: %v", err)
	}
}

// CancelGeneration cancels the running job and blocks until its credit
// reservation has been released.
func (e *Engine) CancelGeneration(ctx context.Context, sessionID string) (Snapshot, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	job := s.job
	done := s.jobDone
	s.mu.Unlock()
	if job == nil || job.Status().Terminal() {
		return Snapshot{}, ErrNoRunningJob
	}
	job.Cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	return e.snapshotOf(s), nil
}

// WaitForJob blocks until the current job settles. Used by tests and
// synchronous callers; HTTP callers poll the session instead.
func (e *Engine) WaitForJob(ctx context.Context, sessionID string) (Snapshot, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	done := s.jobDone
	s.mu.Unlock()
	if done == nil {
		return Snapshot{}, ErrNoRunningJob
	}
	select {
	case <-done:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	return e.snapshotOf(s), nil
}

func documentTitle(docType string, parties []domain.Party) string {
	if docType == "" {
		docType = "document"
	}
	for _, p := range parties {
		if p.Role == domain.RolePlaintiff {
			return fmt.Sprintf("%s - %s", docType, p.Name)
		}
	}
	if len(parties) > 0 {
		return fmt.Sprintf("%s - %s", docType, parties[0].Name)
	}
	return docType
}
