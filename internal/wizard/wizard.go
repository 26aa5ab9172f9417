package wizard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"lexline/internal/ai"
	"lexline/internal/config"
	"lexline/internal/domain"
	"lexline/internal/events"
	"lexline/internal/party"
	"lexline/internal/repo"
	"lexline/internal/validate"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrJobAlreadyInProgress means a second start was attempted while a
	// job is running. Caller bug: treated as a contract violation.
	ErrJobAlreadyInProgress = errors.New("generation job already in progress")
	ErrWrongStep            = errors.New("operation not allowed at current step")
	ErrPartiesLocked        = errors.New("party roles are locked from the review step onward")
	ErrNoRunningJob         = errors.New("no running generation job")
)

// CreditGate is the quota collaborator. Satisfied by credit.Gate.
type CreditGate interface {
	Reserve(ctx context.Context, accountID, sessionID, jobID, actorID string) (domain.Reservation, error)
	Commit(ctx context.Context, res domain.Reservation, actorID string) error
	Release(ctx context.Context, res domain.Reservation, reason, actorID string) error
}

// ClientDirectory is the read-only source for registry pre-population.
type ClientDirectory interface {
	ListClients(ctx context.Context, accountID string) ([]domain.ClientRecord, error)
	GetClient(ctx context.Context, id string) (domain.ClientRecord, error)
}

// DocumentStore receives the finished document once the wizard reaches
// the final step; it is not consulted before that point.
type DocumentStore interface {
	InsertDocument(ctx context.Context, d domain.Document) error
}

// BillingDirectory resolves accounts. Satisfied by repo.Repo.
type BillingDirectory interface {
	GetAccount(ctx context.Context, id string) (domain.CreditAccount, error)
}

// Engine owns all in-flight wizard sessions and composes the registry,
// validation, credit gate and AI adapters. Session state is in-memory
// and session-scoped; only credits and finished documents are shared.
type Engine struct {
	DB        *sql.DB
	Events    events.Writer
	Credits   CreditGate
	Billing   BillingDirectory
	Directory ClientDirectory
	Store     DocumentStore
	Backend   ai.Backend
	Config    *config.Config
	Logger    *log.Logger
	Now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the mutable aggregate for one in-progress document. All
// mutation goes through its mutex; the controller serializes per
// session, never across sessions.
type session struct {
	mu sync.Mutex

	id        string
	accountID string
	actorID   string
	createdAt time.Time

	step                domain.Step
	returningFromReview bool

	parties       party.Registry
	area          string
	docType       string
	facts         string
	requests      string
	theses        []string
	jurisprudence []string
	meta          domain.CaseMeta
	model         string

	suggestions []domain.Suggestion

	attempt     int
	job         *ai.Job
	jobDone     chan struct{}
	reservation domain.Reservation
	text        string
	lastFailure string
	documentID  string
}

// Snapshot is a point-in-time copy of session state, safe to hand out.
type Snapshot struct {
	ID                  string              `json:"id"`
	AccountID           string              `json:"account_id"`
	ActorID             string              `json:"actor_id"`
	Step                domain.Step         `json:"step"`
	ReturningFromReview bool                `json:"returning_from_review"`
	Parties             []domain.Party      `json:"parties"`
	Area                string              `json:"area,omitempty"`
	DocType             string              `json:"doc_type,omitempty"`
	Facts               string              `json:"facts,omitempty"`
	Requests            string              `json:"requests,omitempty"`
	Theses              []string            `json:"theses,omitempty"`
	Jurisprudence       []string            `json:"jurisprudence,omitempty"`
	Meta                domain.CaseMeta     `json:"meta"`
	Model               string              `json:"model,omitempty"`
	Suggestions         []domain.Suggestion `json:"suggestions,omitempty"`
	JobID               string              `json:"job_id,omitempty"`
	JobStatus           domain.JobStatus    `json:"job_status,omitempty"`
	Progress            int                 `json:"progress"`
	Logs                []string            `json:"logs,omitempty"`
	Text                string              `json:"text,omitempty"`
	LastFailure         string              `json:"last_failure,omitempty"`
	DocumentID          string              `json:"document_id,omitempty"`
	CreatedAt           string              `json:"created_at" format:"date-time"`
}

func New(db *sql.DB, cfg *config.Config, gate CreditGate, backend ai.Backend) *Engine {
	r := repo.Repo{DB: db}
	return &Engine{
		DB:        db,
		Events:    events.Writer{DB: db},
		Credits:   gate,
		Billing:   r,
		Directory: r,
		Store:     r,
		Backend:   backend,
		Config:    cfg,
		Now:       time.Now,
		sessions:  map[string]*session{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// OpenSession creates a wizard session for an account. The account must
// exist; session state lives only for the session.
func (e *Engine) OpenSession(ctx context.Context, accountID, actorID string) (Snapshot, error) {
	if _, err := e.Billing.GetAccount(ctx, accountID); err != nil {
		return Snapshot{}, fmt.Errorf("resolve account: %w", err)
	}
	s := &session{
		id:        uuid.New().String(),
		accountID: accountID,
		actorID:   actorID,
		createdAt: e.now().UTC(),
		step:      domain.StepParty,
		model:     e.Config.AI.Model,
	}
	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()
	if err := e.Events.Append(ctx, nil, "session.created", accountID, "session", s.id, actorID, nil); err != nil {
		return Snapshot{}, err
	}
	return e.snapshotOf(s), nil
}

// CloseSession abandons a session, cancelling any running job (which
// releases its reservation) before discarding state.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	s, err := e.get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	job := s.job
	done := s.jobDone
	s.mu.Unlock()
	if job != nil && !job.Status().Terminal() {
		job.Cancel()
		if done != nil {
			<-done
		}
	}
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
	return e.Events.Append(ctx, nil, "session.closed", s.accountID, "session", s.id, s.actorID, nil)
}

func (e *Engine) get(sessionID string) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// Session returns a snapshot of current state.
func (e *Engine) Session(sessionID string) (Snapshot, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return e.snapshotOf(s), nil
}

// --- party operations ---

// AddParty adds a manually-entered or registered party. When the new
// party has no role and the first party already has one, the role
// defaults to the opposite, since adverse parties face the primary
// client.
func (e *Engine) AddParty(ctx context.Context, sessionID string, p domain.Party) (Snapshot, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensurePartiesEditable(); err != nil {
		return Snapshot{}, err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Role == "" {
		if primary := s.parties.List(); len(primary) > 0 && primary[0].Role != "" {
			p.Role = domain.OppositeOf(primary[0].Role)
		}
	}
	if err := s.parties.Add(p); err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// AddPartyFromDirectory adds a registered party by directory id.
func (e *Engine) AddPartyFromDirectory(ctx context.Context, sessionID, clientID string, role domain.Role) (Snapshot, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	rec, err := e.Directory.GetClient(ctx, clientID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve client: %w", err)
	}
	if rec.AccountID != s.accountID {
		return Snapshot{}, fmt.Errorf("client %s not in account %s", clientID, s.accountID)
	}
	p := party.FromClient(rec)
	p.Role = role
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensurePartiesEditable(); err != nil {
		return Snapshot{}, err
	}
	if err := s.parties.Add(p); err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

func (e *Engine) RemoveParty(ctx context.Context, sessionID, partyID string) (Snapshot, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensurePartiesEditable(); err != nil {
		return Snapshot{}, err
	}
	if err := s.parties.Remove(partyID); err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

func (e *Engine) SetPartyRole(ctx context.Context, sessionID, partyID string, role domain.Role) (Snapshot, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensurePartiesEditable(); err != nil {
		return Snapshot{}, err
	}
	if err := s.parties.SetRole(partyID, role); err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// ListDirectory exposes the client directory for pre-population.
func (e *Engine) ListDirectory(ctx context.Context, sessionID string) ([]domain.ClientRecord, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return nil, err
	}
	return e.Directory.ListClients(ctx, s.accountID)
}

// ensurePartiesEditable rejects party edits once review is reached;
// navigating back re-enables them.
func (s *session) ensurePartiesEditable() error {
	if s.step.Index() >= domain.StepReview.Index() {
		return ErrPartiesLocked
	}
	return nil
}

// --- case data setters ---

func (e *Engine) SetArea(ctx context.Context, sessionID, area, docType string) (Snapshot, error) {
	return e.update(sessionID, func(s *session) error {
		s.area = area
		s.docType = docType
		return nil
	})
}

func (e *Engine) SetFacts(ctx context.Context, sessionID, facts, requests string) (Snapshot, error) {
	return e.update(sessionID, func(s *session) error {
		s.facts = facts
		s.requests = requests
		return nil
	})
}

func (e *Engine) SetMeta(ctx context.Context, sessionID string, meta domain.CaseMeta) (Snapshot, error) {
	return e.update(sessionID, func(s *session) error {
		s.meta = meta
		return nil
	})
}

func (e *Engine) SetTheses(ctx context.Context, sessionID string, theses, jurisprudence []string) (Snapshot, error) {
	return e.update(sessionID, func(s *session) error {
		s.theses = append([]string(nil), theses...)
		s.jurisprudence = append([]string(nil), jurisprudence...)
		return nil
	})
}

func (e *Engine) SetModel(ctx context.Context, sessionID, model string) (Snapshot, error) {
	return e.update(sessionID, func(s *session) error {
		for _, m := range e.Config.AI.Models {
			if m == model {
				s.model = model
				return nil
			}
		}
		return fmt.Errorf("unknown model %q", model)
	})
}

func (e *Engine) update(sessionID string, fn func(*session) error) (Snapshot, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s); err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// --- navigation ---

// GoNext validates the current step and advances on success. The
// returned result carries field-level errors when the step is invalid;
// the step does not move in that case.
func (e *Engine) GoNext(ctx context.Context, sessionID string) (validate.Result, Snapshot, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return validate.Result{}, Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res := validate.IsStepValid(s.step, s.validationView())
	if !res.Valid {
		return res, s.snapshot(), nil
	}
	if s.step == domain.StepReview || s.step == domain.StepGeneration {
		// Review exits through StartGeneration; Generation exits when
		// the job succeeds.
		if s.step == domain.StepGeneration {
			s.step = domain.StepFinal
		}
		return res, s.snapshot(), nil
	}
	s.step = s.step.Next()
	if s.step == domain.StepReview {
		s.returningFromReview = false
	}
	return res, s.snapshot(), nil
}

// GoPrev is unconditional. Navigating backward from review marks the
// session so the UI can distinguish editing a reviewed case from a
// first pass.
func (e *Engine) GoPrev(ctx context.Context, sessionID string) (Snapshot, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step == domain.StepReview {
		s.returningFromReview = true
	}
	s.step = s.step.Prev()
	return s.snapshot(), nil
}

// --- suggestions ---

// RequestSuggestions fires an advisory suggestion call. Callable from
// the facts step onward; decoupled from the main flow, it updates the
// suggestion list whenever the call returns and never blocks a step
// transition.
func (e *Engine) RequestSuggestions(ctx context.Context, sessionID string) error {
	s, err := e.get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.step.Index() < domain.StepFacts.Index() {
		s.mu.Unlock()
		return fmt.Errorf("%w: suggestions need the facts step", ErrWrongStep)
	}
	req := ai.SuggestRequest{Facts: s.facts, Area: s.area, Model: s.model}
	accountID := s.accountID
	actorID := s.actorID
	s.mu.Unlock()

	suggester := ai.Suggester{Backend: e.Backend, Logger: e.Logger}
	go func() {
		callCtx, cancel := context.WithTimeout(context.Background(), e.Config.AITimeout())
		defer cancel()
		out := suggester.Suggest(callCtx, req)
		if out == nil {
			return
		}
		s.mu.Lock()
		s.suggestions = out
		s.mu.Unlock()
		if err := e.Events.Append(context.Background(), nil, "suggestions.updated", accountID, "session", sessionID, actorID, events.EventPayload{
			"count": len(out),
		}); err != nil {
			e.logger().Printf("append suggestions event: %v", err)
		}
	}()
	return nil
}

// --- snapshots ---

func (e *Engine) snapshotOf(s *session) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// snapshot must be called with s.mu held.
func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		ID:                  s.id,
		AccountID:           s.accountID,
		ActorID:             s.actorID,
		Step:                s.step,
		ReturningFromReview: s.returningFromReview,
		Parties:             s.parties.List(),
		Area:                s.area,
		DocType:             s.docType,
		Facts:               s.facts,
		Requests:            s.requests,
		Theses:              append([]string(nil), s.theses...),
		Jurisprudence:       append([]string(nil), s.jurisprudence...),
		Meta:                s.meta,
		Model:               s.model,
		Suggestions:         append([]domain.Suggestion(nil), s.suggestions...),
		Text:                s.text,
		LastFailure:         s.lastFailure,
		DocumentID:          s.documentID,
		CreatedAt:           s.createdAt.Format(time.RFC3339),
	}
	if s.job != nil {
		snap.JobID = s.job.ID
		snap.JobStatus = s.jobStatus()
		snap.Progress = s.job.Progress()
		snap.Logs = s.job.Logs()
	}
	return snap
}

// jobStatus reports the job state as readers may observe it. A terminal
// outcome is held back as running until settlement finishes (credit
// commit or release, document persistence, step change), so a snapshot
// never shows a succeeded job without its document or charge. Must be
// called with s.mu held.
func (s *session) jobStatus() domain.JobStatus {
	if s.job == nil {
		return ""
	}
	st := s.job.Status()
	if !st.Terminal() || s.jobDone == nil {
		return st
	}
	select {
	case <-s.jobDone:
		return st
	default:
		return domain.JobRunning
	}
}

// validationView must be called with s.mu held.
func (s *session) validationView() validate.Snapshot {
	v := validate.Snapshot{
		Parties: s.parties.List(),
		Area:    s.area,
		DocType: s.docType,
		Facts:   s.facts,
	}
	if s.job != nil {
		v.JobStatus = s.jobStatus()
	}
	return v
}
