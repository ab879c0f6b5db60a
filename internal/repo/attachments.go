package repo

import (
	"context"
	"database/sql"

	"redline/internal/domain"
)

const attachmentColumns = `id, issue_id, file_ref, filename, uploaded_by, uploaded_at`

func scanAttachment(scan func(dest ...any) error) (domain.Attachment, error) {
	var a domain.Attachment
	err := scan(&a.ID, &a.IssueID, &a.FileRef, &a.Filename, &a.UploadedBy, &a.UploadedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertAttachment(ctx context.Context, tx *sql.Tx, a domain.Attachment) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO attachments(id, issue_id, file_ref, filename, uploaded_by, uploaded_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.IssueID, a.FileRef, a.Filename, a.UploadedBy, a.UploadedAt)
	return err
}

func (r Repo) GetAttachment(ctx context.Context, id string) (domain.Attachment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id=?`, id)
	return scanAttachment(row.Scan)
}

func (r Repo) ListAttachments(ctx context.Context, issueID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE issue_id=? ORDER BY uploaded_at, id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) DeleteAttachment(ctx context.Context, tx *sql.Tx, id string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `DELETE FROM attachments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
