package repo

import (
	"context"
	"database/sql"

	"redline/internal/domain"
)

const commentColumns = `id, issue_id, user_id, content, created_at, updated_at`

func scanComment(scan func(dest ...any) error) (domain.Comment, error) {
	var c domain.Comment
	err := scan(&c.ID, &c.IssueID, &c.UserID, &c.Content, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO comments(id, issue_id, user_id, content, created_at, updated_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.IssueID, c.UserID, c.Content, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=?`, id)
	return scanComment(row.Scan)
}

// ListComments returns an issue's comments in append order.
func (r Repo) ListComments(ctx context.Context, issueID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE issue_id=? ORDER BY created_at, id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateComment(ctx context.Context, tx *sql.Tx, id, content, updatedAt string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE comments SET content=?, updated_at=? WHERE id=?`, content, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteComment(ctx context.Context, tx *sql.Tx, id string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `DELETE FROM comments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
