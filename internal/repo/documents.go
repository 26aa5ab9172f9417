package repo

import (
	"context"
	"database/sql"
	"strings"

	"lexline/internal/domain"
)

const documentCols = `id,account_id,session_id,title,COALESCE(area,''),COALESCE(doc_type,''),text,COALESCE(model,''),created_at`

func (r Repo) InsertDocument(ctx context.Context, d domain.Document) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO documents(id,account_id,session_id,title,area,doc_type,text,model,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.AccountID, d.SessionID, d.Title, nullable(d.Area), nullable(d.DocType), d.Text, nullable(d.Model), d.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var d domain.Document
	err := r.DB.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id).
		Scan(&d.ID, &d.AccountID, &d.SessionID, &d.Title, &d.Area, &d.DocType, &d.Text, &d.Model, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDocuments(ctx context.Context, accountID string) ([]domain.Document, error) {
	return r.ListDocumentsWithCursor(ctx, accountID, 0, "", "")
}

func (r Repo) ListDocumentsWithCursor(ctx context.Context, accountID string, limit int, cursorCreatedAt, cursorID string) ([]domain.Document, error) {
	clauses := []string{"account_id=?"}
	args := []any{accountID}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + documentCols + ` FROM documents ` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.AccountID, &d.SessionID, &d.Title, &d.Area, &d.DocType, &d.Text, &d.Model, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
