package repo

import (
	"database/sql"
	"errors"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStatusConflict indicates the persisted status changed between the read
// and the compare-and-swap write. Callers may retry with fresh state.
var ErrStatusConflict = errors.New("status changed concurrently")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
