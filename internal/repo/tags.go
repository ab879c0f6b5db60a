package repo

import (
	"context"
	"database/sql"

	"redline/internal/domain"
)

func (r Repo) InsertTag(ctx context.Context, t domain.Tag) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tags(id, name, color) VALUES (?,?,?)`, t.ID, t.Name, t.Color)
	return err
}

func (r Repo) GetTagByName(ctx context.Context, name string) (domain.Tag, error) {
	var t domain.Tag
	err := r.DB.QueryRowContext(ctx, `SELECT id, name, color FROM tags WHERE name=?`, name).Scan(&t.ID, &t.Name, &t.Color)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, color FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTag(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tags WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
