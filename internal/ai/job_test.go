package ai_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lexline/internal/ai"
	"lexline/internal/domain"
)

type fakeBackend struct {
	updates []ai.Update
	text    string
	err     error
	block   bool
}

func (f fakeBackend) Suggest(ctx context.Context, req ai.SuggestRequest) ([]domain.Suggestion, error) {
	return nil, nil
}

func (f fakeBackend) Generate(ctx context.Context, payload ai.CasePayload, emit func(ai.Update)) (string, error) {
	for _, u := range f.updates {
		emit(u)
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

func drain(t *testing.T, updates <-chan ai.Update) []ai.Update {
	t.Helper()
	var out []ai.Update
	for u := range updates {
		out = append(out, u)
	}
	return out
}

func TestJobLifecycle(t *testing.T) {
	job := ai.NewJob("job-1")
	if job.Status() != domain.JobPending {
		t.Fatalf("new job should be pending")
	}
	backend := fakeBackend{
		updates: []ai.Update{{Progress: 10, Log: "analyzing"}, {Progress: 90, Log: "drafting"}},
		text:    "THE DOCUMENT",
	}
	updates, err := job.Start(context.Background(), backend, ai.CasePayload{}, 8)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	drain(t, updates)
	if job.Status() != domain.JobSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status())
	}
	if job.Text() != "THE DOCUMENT" {
		t.Fatalf("unexpected text %q", job.Text())
	}
	if job.Progress() != 100 {
		t.Fatalf("success should report progress 100, got %d", job.Progress())
	}
	if got := strings.Join(job.Logs(), ","); got != "analyzing,drafting" {
		t.Fatalf("unexpected logs %q", got)
	}
	// Double start is a contract violation.
	if _, err := job.Start(context.Background(), backend, ai.CasePayload{}, 8); err == nil {
		t.Fatalf("expected error on second start")
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	job := ai.NewJob("job-1")
	backend := fakeBackend{
		updates: []ai.Update{{Progress: 50}, {Progress: 30}, {Progress: 120}},
		text:    "x",
	}
	updates, err := job.Start(context.Background(), backend, ai.CasePayload{}, 8)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	seen := drain(t, updates)
	if len(seen) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(seen))
	}
	if seen[0].Progress != 50 || seen[1].Progress != 50 || seen[2].Progress != 100 {
		t.Fatalf("clamping wrong: %+v", seen)
	}
}

func TestCancelFailsJob(t *testing.T) {
	job := ai.NewJob("job-1")
	updates, err := job.Start(context.Background(), fakeBackend{block: true}, ai.CasePayload{}, 8)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job.Cancel()
	drain(t, updates)
	if job.Status() != domain.JobFailed {
		t.Fatalf("expected failed, got %s", job.Status())
	}
	if !errors.Is(job.Err(), ai.ErrCancelled) {
		t.Fatalf("expected cancelled reason, got %v", job.Err())
	}
	// Cancel on a terminal job is a no-op.
	job.Cancel()
}

func TestFailureKeepsError(t *testing.T) {
	job := ai.NewJob("job-1")
	backend := fakeBackend{err: errors.New("backend exploded")}
	updates, err := job.Start(context.Background(), backend, ai.CasePayload{}, 8)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	drain(t, updates)
	if job.Status() != domain.JobFailed {
		t.Fatalf("expected failed, got %s", job.Status())
	}
	if job.Err() == nil || !strings.Contains(job.Err().Error(), "exploded") {
		t.Fatalf("unexpected error %v", job.Err())
	}
}

func TestScriptedBackendDrafts(t *testing.T) {
	s := ai.Scripted{}
	var seen []ai.Update
	text, err := s.Generate(context.Background(), ai.CasePayload{
		Parties: []domain.Party{{Name: "Acme Corp", Role: domain.RolePlaintiff}},
		Area:    "civil",
		DocType: "initial petition",
		Facts:   "Breach of contract.",
		Theses:  []string{"Liability is established"},
	}, func(u ai.Update) { seen = append(seen, u) })
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 milestones, got %d", len(seen))
	}
	for _, want := range []string{"Acme Corp", "Breach of contract.", "Liability is established"} {
		if !strings.Contains(text, want) {
			t.Fatalf("document missing %q:\n%s", want, text)
		}
	}
}

func TestScriptedBackendHonorsCancellation(t *testing.T) {
	s := ai.Scripted{Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Generate(ctx, ai.CasePayload{}, func(ai.Update) {})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
