package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"lexline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const accountCols = `id,owner_id,plan,balance,COALESCE(reset_at,'') AS reset_at,created_at,updated_at`

func scanAccount(row *sql.Row) (domain.CreditAccount, error) {
	var a domain.CreditAccount
	err := row.Scan(&a.ID, &a.OwnerID, &a.Plan, &a.Balance, &a.ResetAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertAccount(ctx context.Context, a domain.CreditAccount) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO credit_accounts(id,owner_id,plan,balance,reset_at,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.OwnerID, a.Plan, a.Balance, nullable(a.ResetAt), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAccount(ctx context.Context, id string) (domain.CreditAccount, error) {
	return scanAccount(r.DB.QueryRowContext(ctx, `SELECT `+accountCols+` FROM credit_accounts WHERE id=?`, id))
}

// GetAccountTx reads an account inside a transaction.
func (r Repo) GetAccountTx(ctx context.Context, tx *sql.Tx, id string) (domain.CreditAccount, error) {
	return scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountCols+` FROM credit_accounts WHERE id=?`, id))
}

func (r Repo) ListAccounts(ctx context.Context) ([]domain.CreditAccount, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+accountCols+` FROM credit_accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CreditAccount
	for rows.Next() {
		var a domain.CreditAccount
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Plan, &a.Balance, &a.ResetAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// SetAccountBalance overwrites the balance, e.g. on plan change or top-up.
func (r Repo) SetAccountBalance(ctx context.Context, id string, balance int64, resetAt string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.DB.ExecContext(ctx, `UPDATE credit_accounts SET balance=?, reset_at=?, updated_at=? WHERE id=?`,
		balance, nullable(resetAt), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetAccountPlan(ctx context.Context, id, plan string, balance int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.DB.ExecContext(ctx, `UPDATE credit_accounts SET plan=?, balance=?, updated_at=? WHERE id=?`,
		plan, balance, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DecrementBalanceTx is the conditional compare-and-update at the core of
// credit commit. It affects zero rows when the balance is already zero,
// so a finite balance can never go negative. Unlimited accounts are
// skipped by the caller.
func (r Repo) DecrementBalanceTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `UPDATE credit_accounts SET balance=balance-1, updated_at=? WHERE id=? AND balance > 0`, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- reservations ---

func scanReservation(row *sql.Row) (domain.Reservation, error) {
	var res domain.Reservation
	err := row.Scan(&res.JobID, &res.AccountID, &res.SessionID, &res.ReservedAt, &res.ExpiresAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	return res, err
}

func (r Repo) GetReservationTx(ctx context.Context, tx *sql.Tx, jobID string) (domain.Reservation, error) {
	return scanReservation(tx.QueryRowContext(ctx, `SELECT job_id,account_id,session_id,reserved_at,expires_at FROM credit_reservations WHERE job_id=?`, jobID))
}

func (r Repo) GetReservation(ctx context.Context, jobID string) (domain.Reservation, error) {
	return scanReservation(r.DB.QueryRowContext(ctx, `SELECT job_id,account_id,session_id,reserved_at,expires_at FROM credit_reservations WHERE job_id=?`, jobID))
}

func (r Repo) InsertReservationTx(ctx context.Context, tx *sql.Tx, res domain.Reservation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO credit_reservations(job_id,account_id,session_id,reserved_at,expires_at) VALUES (?,?,?,?,?)`,
		res.JobID, res.AccountID, res.SessionID, res.ReservedAt, res.ExpiresAt)
	return err
}

func (r Repo) DeleteReservationTx(ctx context.Context, tx *sql.Tx, jobID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM credit_reservations WHERE job_id=?`, jobID)
	return err
}

// DeleteExpiredReservations drops reservations whose expiry passed,
// returning how many were released.
func (r Repo) DeleteExpiredReservations(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM credit_reservations WHERE expires_at < ?`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountReservations returns the number of live holds for an account.
func (r Repo) CountReservations(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM credit_reservations WHERE account_id=?`, accountID).Scan(&n)
	return n, err
}

// --- committed jobs (commit idempotency) ---

// MarkJobCommittedTx records that a job's credit was consumed. Returns
// false when the job was already committed, making commit idempotent per
// job id.
func (r Repo) MarkJobCommittedTx(ctx context.Context, tx *sql.Tx, jobID, accountID string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `INSERT INTO committed_jobs(job_id,account_id,committed_at) VALUES (?,?,?) ON CONFLICT(job_id) DO NOTHING`,
		jobID, accountID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) CountCommittedJobs(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM committed_jobs WHERE account_id=?`, accountID).Scan(&n)
	return n, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
