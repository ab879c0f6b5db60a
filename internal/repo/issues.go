package repo

import (
	"context"
	"database/sql"
	"strings"

	"redline/internal/domain"
)

const issueColumns = `id, title, description, attachment, COALESCE(attachment_name,''), status, severity, created_by, created_at, updated_at`

func scanIssue(scan func(dest ...any) error) (domain.Issue, error) {
	var i domain.Issue
	var attachment sql.NullString
	err := scan(&i.ID, &i.Title, &i.Description, &attachment, &i.AttachmentName, &i.Status, &i.Severity, &i.CreatedBy, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if attachment.Valid {
		i.Attachment = &attachment.String
	}
	return i, err
}

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	var attachment any
	if i.Attachment != nil {
		attachment = *i.Attachment
	}
	_, err := exec(ctx, `INSERT INTO issues(id, title, description, attachment, attachment_name, status, severity, created_by, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.Title, i.Description, attachment, nullable(i.AttachmentName), string(i.Status), string(i.Severity), i.CreatedBy, i.CreatedAt, i.UpdatedAt)
	return err
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id)
	return scanIssue(row.Scan)
}

// GetIssueTx reads an issue inside the caller's transaction so transition
// validation sees the persisted state, never a client-supplied one.
func (r Repo) GetIssueTx(ctx context.Context, tx *sql.Tx, id string) (domain.Issue, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id)
	return scanIssue(row.Scan)
}

// IssueFilters narrow ListIssues. Cursor fields follow created_at DESC, id
// DESC ordering.
type IssueFilters struct {
	Status          string
	Severity        string
	CreatedBy       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilters) ([]domain.Issue, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + issueColumns + ` FROM issues WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		i, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// UpdateIssueFields writes the non-status columns. Status is deliberately not
// part of this statement; it only moves through UpdateIssueStatus.
func (r Repo) UpdateIssueFields(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	var attachment any
	if i.Attachment != nil {
		attachment = *i.Attachment
	}
	res, err := tx.ExecContext(ctx, `UPDATE issues SET title=?, description=?, attachment=?, attachment_name=?, severity=?, updated_at=? WHERE id=?`,
		i.Title, i.Description, attachment, nullable(i.AttachmentName), string(i.Severity), i.UpdatedAt, i.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateIssueStatus performs the compare-and-swap write of a transition: the
// row is only updated when the persisted status still equals from. A zero row
// count for an existing issue means a concurrent transition won.
func (r Repo) UpdateIssueStatus(ctx context.Context, tx *sql.Tx, id string, from, to domain.Status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE issues SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(to), updatedAt, id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM issues WHERE id=?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStatusConflict
}

func (r Repo) DeleteIssue(ctx context.Context, tx *sql.Tx, id string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `DELETE FROM issues WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountIssuesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM issues GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
