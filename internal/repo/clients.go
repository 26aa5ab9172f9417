package repo

import (
	"context"
	"database/sql"

	"lexline/internal/domain"
)

const clientCols = `id,account_id,name,COALESCE(tax_id,''),COALESCE(address,''),COALESCE(city,''),COALESCE(state,''),created_at`

func (r Repo) InsertClient(ctx context.Context, c domain.ClientRecord) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO clients(id,account_id,name,tax_id,address,city,state,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.AccountID, c.Name, nullable(c.TaxID), nullable(c.Address), nullable(c.City), nullable(c.State), c.CreatedAt)
	return err
}

func (r Repo) GetClient(ctx context.Context, id string) (domain.ClientRecord, error) {
	var c domain.ClientRecord
	err := r.DB.QueryRowContext(ctx, `SELECT `+clientCols+` FROM clients WHERE id=?`, id).
		Scan(&c.ID, &c.AccountID, &c.Name, &c.TaxID, &c.Address, &c.City, &c.State, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// ListClients returns the directory entries for one account, used to
// pre-populate the party registry.
func (r Repo) ListClients(ctx context.Context, accountID string) ([]domain.ClientRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+clientCols+` FROM clients WHERE account_id=? ORDER BY name`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ClientRecord
	for rows.Next() {
		var c domain.ClientRecord
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &c.TaxID, &c.Address, &c.City, &c.State, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
