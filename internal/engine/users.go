package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"redline/internal/crypto"
	"redline/internal/domain"
	"redline/internal/engine/auth"
	"redline/internal/events"
	"redline/internal/repo"
)

var (
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("unable to log in with provided credentials")
	// ErrLoginRestricted is returned for valid reporter credentials; reporters
	// use API keys instead of interactive sessions.
	ErrLoginRestricted = errors.New("only maintainers and admins can log in")
)

// EmailDomainError rejects emails outside the configured organization domain.
type EmailDomainError struct {
	Domain string
}

func (e EmailDomainError) Error() string {
	return fmt.Sprintf("only %s email addresses are allowed", e.Domain)
}

type UserCreateOptions struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

// CreateUser registers a user with an Argon2id password hash. Role defaults
// to reporter when empty.
func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if opts.Username == "" {
		return domain.User{}, errors.New("username is required")
	}
	if !strings.Contains(opts.Email, "@") {
		return domain.User{}, fmt.Errorf("invalid email %q", opts.Email)
	}
	if len(opts.Password) < 8 {
		return domain.User{}, errors.New("password must be at least 8 characters")
	}
	role := domain.Role(opts.Role)
	if opts.Role == "" {
		role = domain.RoleReporter
	}
	if !role.Valid() {
		return domain.User{}, fmt.Errorf("invalid role %q", opts.Role)
	}
	if _, err := e.Repo.GetUserByUsername(ctx, opts.Username); err == nil {
		return domain.User{}, fmt.Errorf("username %q already exists", opts.Username)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	if _, err := e.Repo.GetUserByEmail(ctx, strings.ToLower(opts.Email)); err == nil {
		return domain.User{}, fmt.Errorf("email %q already exists", opts.Email)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	salt, err := crypto.RandBytes(16)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:        uuid.New().String(),
		Username:  opts.Username,
		Email:     strings.ToLower(opts.Email),
		FirstName: opts.FirstName,
		LastName:  opts.LastName,
		Role:      role,
		PassHash:  hex.EncodeToString(crypto.HashPassword([]byte(opts.Password), salt)),
		PassSalt:  hex.EncodeToString(salt),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, "user.created", "user", u.ID, u.ID, events.EventPayload{
		"username": u.Username,
		"role":     u.Role,
	}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Login authenticates an interactive session by email and password. Email
// domain is checked first, then credentials, then the role restriction.
func (e Engine) Login(ctx context.Context, email, password string) (domain.User, error) {
	email = strings.ToLower(email)
	if e.Config != nil && e.Config.Auth.EmailDomain != "" {
		if !strings.HasSuffix(email, "@"+e.Config.Auth.EmailDomain) {
			return domain.User{}, EmailDomainError{Domain: e.Config.Auth.EmailDomain}
		}
	}
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	hash, err := hex.DecodeString(u.PassHash)
	if err != nil {
		return domain.User{}, err
	}
	salt, err := hex.DecodeString(u.PassSalt)
	if err != nil {
		return domain.User{}, err
	}
	if !crypto.VerifyPassword([]byte(password), salt, hash) {
		return domain.User{}, ErrInvalidCredentials
	}
	if !u.Role.IsMaintainer() {
		return domain.User{}, ErrLoginRestricted
	}
	return u, nil
}

// SetUserRole reassigns a user's role by username.
func (e Engine) SetUserRole(ctx context.Context, username string, role domain.Role, actorID string) (domain.User, error) {
	if !role.Valid() {
		return domain.User{}, fmt.Errorf("invalid role %q", role)
	}
	u, err := e.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateUserRole(ctx, tx, u.ID, role); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, "user.role_changed", "user", u.ID, actorID, events.EventPayload{
		"username": u.Username,
		"from":     u.Role,
		"to":       role,
	}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	u.Role = role
	return u, nil
}

// CreateAPIKey mints an API key for a user, typically a reporter. The
// plaintext is returned exactly once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, username, name string) (domain.APIKey, string, error) {
	u, err := e.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	raw, err := crypto.RandBytes(24)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	plaintext := "rk_" + hex.EncodeToString(raw)
	k := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, k); err != nil {
		return domain.APIKey{}, "", err
	}
	return k, plaintext, nil
}

// Authenticate resolves an API key plaintext to its principal.
func (e Engine) Authenticate(ctx context.Context, apiKey string) (domain.Principal, error) {
	k, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(apiKey))
	if err != nil {
		return domain.Principal{}, err
	}
	u, err := e.Repo.GetUser(ctx, k.UserID)
	if err != nil {
		return domain.Principal{}, err
	}
	return u.Principal(), nil
}

// ListIssues applies filters for any authenticated principal.
func (e Engine) ListIssues(ctx context.Context, f repo.IssueFilters, p domain.Principal) ([]domain.Issue, error) {
	if err := auth.RequireAuthenticated(p, auth.CapIssueView); err != nil {
		return nil, err
	}
	return e.Repo.ListIssues(ctx, f)
}
