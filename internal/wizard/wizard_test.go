package wizard_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lexline/internal/ai"
	"lexline/internal/config"
	"lexline/internal/credit"
	"lexline/internal/db"
	"lexline/internal/domain"
	"lexline/internal/migrate"
	"lexline/internal/repo"
	"lexline/internal/wizard"
)

type testEnv struct {
	Engine *wizard.Engine
	Repo   repo.Repo
	Ctx    context.Context
}

func newTestEnv(t *testing.T, balance int64, backend ai.Backend) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	if backend == nil {
		backend = ai.Scripted{}
	}
	gate := credit.New(conn, cfg.ReservationTTL())
	eng := wizard.New(conn, cfg, gate, backend)
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := r.InsertAccount(ctx, domain.CreditAccount{
		ID:        "acct-1",
		OwnerID:   "tester",
		Plan:      "starter",
		Balance:   balance,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert account: %v", err)
	}
	return testEnv{Engine: eng, Repo: r, Ctx: ctx}
}

// fillCase takes a fresh session to the review step.
func fillCase(t *testing.T, env testEnv, sessionID string) {
	t.Helper()
	for _, p := range []domain.Party{
		{Name: "Acme Corp", Role: domain.RolePlaintiff},
		{Name: "Bob Ltd", Role: domain.RoleDefendant},
	} {
		if _, err := env.Engine.AddParty(env.Ctx, sessionID, p); err != nil {
			t.Fatalf("add party %s: %v", p.Name, err)
		}
	}
	if _, err := env.Engine.SetArea(env.Ctx, sessionID, "civil", "initial petition"); err != nil {
		t.Fatalf("set area: %v", err)
	}
	if _, err := env.Engine.SetFacts(env.Ctx, sessionID, "The defendant failed to deliver goods.", "damages"); err != nil {
		t.Fatalf("set facts: %v", err)
	}
	for i := 0; i < 5; i++ {
		res, snap, err := env.Engine.GoNext(env.Ctx, sessionID)
		if err != nil {
			t.Fatalf("next from step %d: %v", i, err)
		}
		if !res.Valid {
			t.Fatalf("step invalid on the way to review: %v", res.Errors)
		}
		if snap.Step == domain.StepReview {
			return
		}
	}
	t.Fatalf("never reached review")
}

type blockingBackend struct{}

func (blockingBackend) Suggest(ctx context.Context, req ai.SuggestRequest) ([]domain.Suggestion, error) {
	return nil, nil
}

func (blockingBackend) Generate(ctx context.Context, payload ai.CasePayload, emit func(ai.Update)) (string, error) {
	emit(ai.Update{Progress: 10, Log: "working"})
	<-ctx.Done()
	return "", ctx.Err()
}

type failingBackend struct{}

func (failingBackend) Suggest(ctx context.Context, req ai.SuggestRequest) ([]domain.Suggestion, error) {
	return nil, errors.New("no suggestions today")
}

func (failingBackend) Generate(ctx context.Context, payload ai.CasePayload, emit func(ai.Update)) (string, error) {
	emit(ai.Update{Progress: 5, Log: "warming up"})
	return "", errors.New("model unavailable")
}

// slowCommitGate parks inside Commit until released, holding a job in
// its settlement window.
type slowCommitGate struct {
	wizard.CreditGate
	entered chan struct{}
	release chan struct{}
}

func (g slowCommitGate) Commit(ctx context.Context, res domain.Reservation, actorID string) error {
	close(g.entered)
	<-g.release
	return g.CreditGate.Commit(ctx, res, actorID)
}

func TestGoNextGatesOnValidation(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	snap, err := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if snap.Step != domain.StepParty {
		t.Fatalf("session should open at party step, got %s", snap.Step)
	}
	// No parties yet: next must not move.
	res, snap, err := env.Engine.GoNext(env.Ctx, snap.ID)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if res.Valid || snap.Step != domain.StepParty {
		t.Fatalf("expected party step to hold, got valid=%v step=%s", res.Valid, snap.Step)
	}
	if len(res.Errors) == 0 {
		t.Fatalf("expected field errors")
	}
}

func TestAddPartyDefaultsOppositeRole(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	if _, err := env.Engine.AddParty(env.Ctx, snap.ID, domain.Party{Name: "Acme Corp", Role: domain.RolePlaintiff}); err != nil {
		t.Fatalf("add first: %v", err)
	}
	out, err := env.Engine.AddParty(env.Ctx, snap.ID, domain.Party{Name: "Bob Ltd"})
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if out.Parties[1].Role != domain.RoleDefendant {
		t.Fatalf("expected defaulted defendant role, got %q", out.Parties[1].Role)
	}
}

func TestHappyPathToFinal(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	fillCase(t, env, snap.ID)

	started, err := env.Engine.StartGeneration(env.Ctx, snap.ID)
	if err != nil {
		t.Fatalf("start generation: %v", err)
	}
	if started.Step != domain.StepGeneration {
		t.Fatalf("expected generation step, got %s", started.Step)
	}
	final, err := env.Engine.WaitForJob(env.Ctx, snap.ID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Step != domain.StepFinal {
		t.Fatalf("expected final step, got %s (failure: %s)", final.Step, final.LastFailure)
	}
	if !strings.Contains(final.Text, "Acme Corp") {
		t.Fatalf("document text missing party:\n%s", final.Text)
	}
	if final.Progress != 100 || final.JobStatus != domain.JobSucceeded {
		t.Fatalf("unexpected job state: %d %s", final.Progress, final.JobStatus)
	}
	account, _ := env.Repo.GetAccount(env.Ctx, "acct-1")
	if account.Balance != 9 {
		t.Fatalf("expected one credit consumed, balance %d", account.Balance)
	}
	doc, err := env.Repo.GetDocument(env.Ctx, final.DocumentID)
	if err != nil {
		t.Fatalf("document not persisted: %v", err)
	}
	if doc.SessionID != snap.ID || doc.Text != final.Text {
		t.Fatalf("persisted document mismatch")
	}
}

func TestUnlimitedAccountGenerates(t *testing.T) {
	env := newTestEnv(t, domain.UnlimitedBalance, nil)
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	fillCase(t, env, snap.ID)
	if _, err := env.Engine.StartGeneration(env.Ctx, snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	final, err := env.Engine.WaitForJob(env.Ctx, snap.ID)
	if err != nil || final.Step != domain.StepFinal {
		t.Fatalf("expected final, got %s (%v)", final.Step, err)
	}
	account, _ := env.Repo.GetAccount(env.Ctx, "acct-1")
	if !account.Unlimited() {
		t.Fatalf("unlimited flag lost: %d", account.Balance)
	}
}

func TestZeroBalanceBlocksBeforeJobStart(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	fillCase(t, env, snap.ID)
	_, err := env.Engine.StartGeneration(env.Ctx, snap.ID)
	if !errors.Is(err, credit.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	// The session must remain on review with no job.
	cur, _ := env.Engine.Session(snap.ID)
	if cur.Step != domain.StepReview || cur.JobID != "" {
		t.Fatalf("expected review step and no job, got %s %q", cur.Step, cur.JobID)
	}
}

func TestReviewValidationBlocksGeneration(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	_, err := env.Engine.StartGeneration(env.Ctx, snap.ID)
	if !errors.Is(err, wizard.ErrWrongStep) {
		t.Fatalf("expected wrong step before review, got %v", err)
	}
}

func TestSecondStartConflicts(t *testing.T) {
	env := newTestEnv(t, 10, blockingBackend{})
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	fillCase(t, env, snap.ID)
	if _, err := env.Engine.StartGeneration(env.Ctx, snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := env.Engine.StartGeneration(env.Ctx, snap.ID)
	if !errors.Is(err, wizard.ErrJobAlreadyInProgress) {
		t.Fatalf("expected in-progress conflict, got %v", err)
	}
	if _, err := env.Engine.CancelGeneration(env.Ctx, snap.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestSuccessVisibleOnlyAfterSettlement(t *testing.T) {
	env := newTestEnv(t, 5, nil)
	gate := slowCommitGate{
		CreditGate: env.Engine.Credits,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	env.Engine.Credits = gate
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	fillCase(t, env, snap.ID)
	if _, err := env.Engine.StartGeneration(env.Ctx, snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-gate.entered
	// The backend has produced the text but the credit is not committed
	// and no document exists; readers must not see a success yet.
	cur, _ := env.Engine.Session(snap.ID)
	if cur.JobStatus != domain.JobRunning || cur.Step != domain.StepGeneration || cur.DocumentID != "" {
		t.Fatalf("settlement window leaked: status=%s step=%s doc=%q", cur.JobStatus, cur.Step, cur.DocumentID)
	}
	// A start during the window is a conflict, not a second reservation.
	if _, err := env.Engine.StartGeneration(env.Ctx, snap.ID); !errors.Is(err, wizard.ErrJobAlreadyInProgress) {
		t.Fatalf("expected in-progress conflict during settlement, got %v", err)
	}
	close(gate.release)
	final, err := env.Engine.WaitForJob(env.Ctx, snap.ID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.JobStatus != domain.JobSucceeded || final.Step != domain.StepFinal || final.DocumentID == "" {
		t.Fatalf("expected settled success, got status=%s step=%s doc=%q", final.JobStatus, final.Step, final.DocumentID)
	}
	account, _ := env.Repo.GetAccount(env.Ctx, "acct-1")
	if account.Balance != 4 {
		t.Fatalf("expected exactly one credit consumed, balance %d", account.Balance)
	}
}

func TestFailureReleasesReservation(t *testing.T) {
	env := newTestEnv(t, 3, failingBackend{})
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	fillCase(t, env, snap.ID)
	if _, err := env.Engine.StartGeneration(env.Ctx, snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	final, err := env.Engine.WaitForJob(env.Ctx, snap.ID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Step != domain.StepGeneration || final.JobStatus != domain.JobFailed {
		t.Fatalf("expected failed job on generation step, got %s %s", final.Step, final.JobStatus)
	}
	if !strings.Contains(final.LastFailure, "model unavailable") {
		t.Fatalf("unexpected failure reason %q", final.LastFailure)
	}
	account, _ := env.Repo.GetAccount(env.Ctx, "acct-1")
	if account.Balance != 3 {
		t.Fatalf("failure must not consume credit, balance %d", account.Balance)
	}
	n, _ := env.Repo.CountReservations(env.Ctx, "acct-1")
	if n != 0 {
		t.Fatalf("reservation leaked: %d live", n)
	}
	// Retry mints a new job id and can succeed with a healthy backend.
	env.Engine.Backend = ai.Scripted{}
	retried, err := env.Engine.StartGeneration(env.Ctx, snap.ID)
	if err != nil {
		t.Fatalf("retry blocked: %v", err)
	}
	if retried.JobID == final.JobID {
		t.Fatalf("retry reused job id %s", retried.JobID)
	}
	done, err := env.Engine.WaitForJob(env.Ctx, snap.ID)
	if err != nil || done.Step != domain.StepFinal {
		t.Fatalf("retry should succeed: %s (%v)", done.Step, err)
	}
}

func TestCancelReleasesBeforeReturning(t *testing.T) {
	env := newTestEnv(t, 2, blockingBackend{})
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	fillCase(t, env, snap.ID)
	if _, err := env.Engine.StartGeneration(env.Ctx, snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancelled, err := env.Engine.CancelGeneration(env.Ctx, snap.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Step != domain.StepGeneration || cancelled.JobStatus != domain.JobFailed {
		t.Fatalf("expected failed job on generation step, got %s %s", cancelled.Step, cancelled.JobStatus)
	}
	// Cancellation is complete only once the hold is gone.
	n, _ := env.Repo.CountReservations(env.Ctx, "acct-1")
	if n != 0 {
		t.Fatalf("reservation still live after cancel")
	}
	account, _ := env.Repo.GetAccount(env.Ctx, "acct-1")
	if account.Balance != 2 {
		t.Fatalf("cancel must not consume credit, balance %d", account.Balance)
	}
	// No running job anymore.
	if _, err := env.Engine.CancelGeneration(env.Ctx, snap.ID); !errors.Is(err, wizard.ErrNoRunningJob) {
		t.Fatalf("expected no running job, got %v", err)
	}
}

func TestPartiesLockedAtReview(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	fillCase(t, env, snap.ID)
	_, err := env.Engine.AddParty(env.Ctx, snap.ID, domain.Party{Name: "Late Arrival"})
	if !errors.Is(err, wizard.ErrPartiesLocked) {
		t.Fatalf("expected parties locked, got %v", err)
	}
	// Going back re-enables editing and flags the return.
	back, err := env.Engine.GoPrev(env.Ctx, snap.ID)
	if err != nil {
		t.Fatalf("prev: %v", err)
	}
	if !back.ReturningFromReview {
		t.Fatalf("expected returning-from-review flag")
	}
	if _, err := env.Engine.AddParty(env.Ctx, snap.ID, domain.Party{Name: "Late Arrival", Role: domain.RoleDefendant}); err != nil {
		t.Fatalf("add after going back: %v", err)
	}
}

func TestDirectoryPartyOwnership(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	now := time.Now().UTC().Format(time.RFC3339)
	if err := env.Repo.InsertAccount(env.Ctx, domain.CreditAccount{
		ID: "acct-2", OwnerID: "other", Plan: "starter", Balance: 5, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert account: %v", err)
	}
	if err := env.Repo.InsertClient(env.Ctx, domain.ClientRecord{
		ID: "client-1", AccountID: "acct-1", Name: "Registered Co", CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert client: %v", err)
	}
	if err := env.Repo.InsertClient(env.Ctx, domain.ClientRecord{
		ID: "client-2", AccountID: "acct-2", Name: "Foreign Co", CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert client: %v", err)
	}
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	out, err := env.Engine.AddPartyFromDirectory(env.Ctx, snap.ID, "client-1", domain.RolePlaintiff)
	if err != nil {
		t.Fatalf("add registered party: %v", err)
	}
	if out.Parties[0].Origin != domain.OriginRegistered {
		t.Fatalf("expected registered origin")
	}
	if _, err := env.Engine.AddPartyFromDirectory(env.Ctx, snap.ID, "client-2", domain.RoleDefendant); err == nil {
		t.Fatalf("expected cross-account client to be rejected")
	}
}

func TestSuggestionsAreAdvisory(t *testing.T) {
	env := newTestEnv(t, 10, failingBackend{})
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	// Too early: suggestions need the facts step.
	if err := env.Engine.RequestSuggestions(env.Ctx, snap.ID); !errors.Is(err, wizard.ErrWrongStep) {
		t.Fatalf("expected wrong step, got %v", err)
	}
	fillCase(t, env, snap.ID)
	// Backend failure must not surface and must not block navigation.
	if err := env.Engine.RequestSuggestions(env.Ctx, snap.ID); err != nil {
		t.Fatalf("suggestion request errored: %v", err)
	}
	cur, _ := env.Engine.Session(snap.ID)
	if cur.Step != domain.StepReview {
		t.Fatalf("suggestion call moved the step to %s", cur.Step)
	}
}

func TestSetModelValidatesAgainstConfig(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	if snap.Model != "draft-std-1" {
		t.Fatalf("expected default model, got %q", snap.Model)
	}
	if _, err := env.Engine.SetModel(env.Ctx, snap.ID, "draft-pro-1"); err != nil {
		t.Fatalf("set known model: %v", err)
	}
	if _, err := env.Engine.SetModel(env.Ctx, snap.ID, "gpt-unknown"); err == nil {
		t.Fatalf("expected unknown model rejection")
	}
}

func TestCloseSessionCancelsRunningJob(t *testing.T) {
	env := newTestEnv(t, 2, blockingBackend{})
	snap, _ := env.Engine.OpenSession(env.Ctx, "acct-1", "tester")
	fillCase(t, env, snap.ID)
	if _, err := env.Engine.StartGeneration(env.Ctx, snap.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := env.Engine.CloseSession(env.Ctx, snap.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := env.Engine.Session(snap.ID); !errors.Is(err, wizard.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	n, _ := env.Repo.CountReservations(env.Ctx, "acct-1")
	if n != 0 {
		t.Fatalf("close leaked a reservation")
	}
}
