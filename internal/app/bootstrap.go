package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"redline/internal/config"
	"redline/internal/db"
	"redline/internal/domain"
	"redline/internal/engine"
	"redline/internal/migrate"
	"redline/internal/repo"
)

// Open prepares a workspace: database opened, migrations applied, config
// loaded (defaults when redline.yml is absent). Caller closes the connection.
func Open(workspace string) (*sql.DB, *config.Config, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, cfg, nil
}

// WriteDefaultConfig creates redline.yml unless one already exists.
func WriteDefaultConfig(workspace string) (string, error) {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// EnsureAdmin seeds the first admin account. A populated users table means the
// workspace is already bootstrapped and nothing is written.
func EnsureAdmin(ctx context.Context, e engine.Engine, username, email, password string) (domain.User, bool, error) {
	n, err := e.Repo.CountUsers(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	if n > 0 {
		return domain.User{}, false, nil
	}
	if password == "" {
		return domain.User{}, false, fmt.Errorf("admin password required to bootstrap a workspace")
	}
	u, err := e.CreateUser(ctx, engine.UserCreateOptions{
		Username: username,
		Email:    email,
		Password: password,
		Role:     string(domain.RoleAdmin),
	})
	if err != nil {
		return domain.User{}, false, err
	}
	return u, true, nil
}

// ResolvePrincipal maps a CLI-supplied username to a principal.
func ResolvePrincipal(ctx context.Context, r repo.Repo, username string) (domain.Principal, error) {
	if username == "" {
		return domain.Principal{}, fmt.Errorf("username required; use --as")
	}
	u, err := r.GetUserByUsername(ctx, username)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Principal{}, fmt.Errorf("unknown user %q", username)
	}
	if err != nil {
		return domain.Principal{}, err
	}
	return u.Principal(), nil
}
