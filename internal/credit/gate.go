package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"lexline/internal/domain"
	"lexline/internal/events"
	"lexline/internal/repo"
)

var (
	// ErrQuotaExceeded is surfaced distinctly so callers can offer an
	// upgrade or retry path.
	ErrQuotaExceeded = errors.New("credit quota exceeded")
	// ErrAlreadyReserved means a reservation exists for the job id. A
	// duplicate start request must be rejected, not double-reserved.
	ErrAlreadyReserved = errors.New("credit already reserved for job")
)

// Gate enforces the per-account generation quota with exactly-once
// consumption. Reserve records intent without decrementing; Commit
// decrements once per job id; Release discards the hold. Balance updates
// are conditional SQL updates, not in-process locks, because one account
// may have concurrent sessions in separate processes.
type Gate struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	TTL    time.Duration
	Now    func() time.Time
	Logger *log.Logger
}

func New(db *sql.DB, ttl time.Duration) Gate {
	return Gate{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		TTL:    ttl,
		Now:    time.Now,
	}
}

func (g Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g Gate) logger() *log.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return log.Default()
}

// CanConsume reports whether the account can start a generation.
func (g Gate) CanConsume(ctx context.Context, accountID string) (bool, error) {
	a, err := g.Repo.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	return a.Unlimited() || a.Balance > 0, nil
}

// Reserve records intent to consume one credit, keyed by job id. It does
// not decrement. Unlimited accounts skip the balance check entirely.
func (g Gate) Reserve(ctx context.Context, accountID, sessionID, jobID, actorID string) (domain.Reservation, error) {
	if jobID == "" {
		return domain.Reservation{}, errors.New("job id required")
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reservation{}, err
	}
	defer tx.Rollback()

	a, err := g.Repo.GetAccountTx(ctx, tx, accountID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if _, err := g.Repo.GetReservationTx(ctx, tx, jobID); err == nil {
		return domain.Reservation{}, fmt.Errorf("%w: %s", ErrAlreadyReserved, jobID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Reservation{}, err
	}
	if !a.Unlimited() && a.Balance <= 0 {
		return domain.Reservation{}, ErrQuotaExceeded
	}
	now := g.now().UTC()
	res := domain.Reservation{
		JobID:      jobID,
		AccountID:  accountID,
		SessionID:  sessionID,
		ReservedAt: now.Format(time.RFC3339),
		ExpiresAt:  now.Add(g.TTL).Format(time.RFC3339),
	}
	if err := g.Repo.InsertReservationTx(ctx, tx, res); err != nil {
		return domain.Reservation{}, err
	}
	if err := g.Events.Append(ctx, tx, "credits.reserved", accountID, "reservation", jobID, actorID, events.EventPayload{
		"session_id": sessionID,
		"expires_at": res.ExpiresAt,
	}); err != nil {
		return domain.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

// Commit finalizes a reservation as consumed: exactly one decrement per
// job id, no-op for unlimited accounts, idempotent on repeat calls.
func (g Gate) Commit(ctx context.Context, res domain.Reservation, actorID string) error {
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	fresh, err := g.Repo.MarkJobCommittedTx(ctx, tx, res.JobID, res.AccountID)
	if err != nil {
		return err
	}
	if !fresh {
		// Already committed for this job id; the first call did the work.
		return nil
	}
	if err := g.Repo.DeleteReservationTx(ctx, tx, res.JobID); err != nil {
		return err
	}
	a, err := g.Repo.GetAccountTx(ctx, tx, res.AccountID)
	if err != nil {
		return err
	}
	if !a.Unlimited() {
		decremented, err := g.Repo.DecrementBalanceTx(ctx, tx, res.AccountID)
		if err != nil {
			return err
		}
		if !decremented {
			return ErrQuotaExceeded
		}
	}
	if err := g.Events.Append(ctx, tx, "credits.committed", res.AccountID, "reservation", res.JobID, actorID, events.EventPayload{
		"session_id": res.SessionID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Release discards a reservation without decrementing, freeing the
// account to retry. Safe to call for an already-released job.
func (g Gate) Release(ctx context.Context, res domain.Reservation, reason, actorID string) error {
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := g.Repo.DeleteReservationTx(ctx, tx, res.JobID); err != nil {
		return err
	}
	if err := g.Events.Append(ctx, tx, "credits.released", res.AccountID, "reservation", res.JobID, actorID, events.EventPayload{
		"session_id": res.SessionID,
		"reason":     reason,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseExpired drops reservations whose TTL passed. Covers sessions
// abandoned mid-generation (browser closed) so holds never leak quota.
func (g Gate) ReleaseExpired(ctx context.Context) (int64, error) {
	n, err := g.Repo.DeleteExpiredReservations(ctx, g.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		g.logger().Printf("released %d expired credit reservations", n)
		if err := g.Events.Append(ctx, nil, "credits.expired", "", "reservation", "", "system", events.EventPayload{
			"count": n,
		}); err != nil {
			return n, err
		}
	}
	return n, nil
}

// SweepLoop runs ReleaseExpired on an interval until ctx is canceled.
func (g Gate) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.ReleaseExpired(ctx); err != nil {
				g.logger().Printf("reservation sweep: %v", err)
			}
		}
	}
}
