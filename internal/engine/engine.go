package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"redline/internal/config"
	"redline/internal/domain"
	"redline/internal/engine/auth"
	"redline/internal/events"
	"redline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// IssueCreateOptions are caller-supplied fields for a new issue.
type IssueCreateOptions struct {
	Title          string
	Description    string
	Severity       string
	Attachment     *string
	AttachmentName string
}

// CreateIssue opens a new issue for the principal. Any authenticated
// principal may create; the server assigns id, creator, status and
// timestamps.
func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions, p domain.Principal) (domain.Issue, error) {
	if err := auth.RequireAuthenticated(p, auth.CapIssueCreate); err != nil {
		return domain.Issue{}, err
	}
	if opts.Title == "" {
		return domain.Issue{}, errors.New("title is required")
	}
	if opts.Description == "" {
		return domain.Issue{}, errors.New("description is required")
	}
	severity := domain.Severity(opts.Severity)
	if opts.Severity == "" && e.Config != nil && e.Config.Defaults.Severity != "" {
		severity = domain.Severity(e.Config.Defaults.Severity)
	}
	if !severity.Valid() {
		return domain.Issue{}, fmt.Errorf("invalid severity %q", opts.Severity)
	}
	now := e.now().UTC().Format(time.RFC3339)
	i := domain.Issue{
		ID:             uuid.New().String(),
		Title:          opts.Title,
		Description:    opts.Description,
		Attachment:     opts.Attachment,
		AttachmentName: opts.AttachmentName,
		Status:         domain.StatusOpen,
		Severity:       severity,
		CreatedBy:      p.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if i.Attachment != nil && i.AttachmentName == "" {
		i.AttachmentName = path.Base(*i.Attachment)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertIssue(ctx, tx, i); err != nil {
		return domain.Issue{}, err
	}
	if err := e.Events.Append(ctx, tx, "issue.created", "issue", i.ID, p.UserID, events.EventPayload{
		"title":    i.Title,
		"status":   i.Status,
		"severity": i.Severity,
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return i, nil
}

// IssueUpdateOptions are the editable non-status fields. Nil means leave
// unchanged; ClearAttachment drops the inline reference.
type IssueUpdateOptions struct {
	ID              string
	Title           *string
	Description     *string
	Severity        *string
	Attachment      *string
	AttachmentName  *string
	ClearAttachment bool
}

// UpdateIssue edits issue fields. The status column is not reachable from
// this path; it only moves through Transition. Authorization is checked
// before the payload is validated.
func (e Engine) UpdateIssue(ctx context.Context, opts IssueUpdateOptions, p domain.Principal) (domain.Issue, error) {
	if err := auth.RequireMaintainer(p, auth.CapIssueEdit); err != nil {
		return domain.Issue{}, err
	}
	i, err := e.Repo.GetIssue(ctx, opts.ID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := auth.RequireActOn(p, i, auth.CapIssueEdit); err != nil {
		return domain.Issue{}, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return i, errors.New("title is required")
		}
		i.Title = *opts.Title
	}
	if opts.Description != nil {
		if *opts.Description == "" {
			return i, errors.New("description is required")
		}
		i.Description = *opts.Description
	}
	if opts.Severity != nil {
		sev := domain.Severity(*opts.Severity)
		if !sev.Valid() {
			return i, fmt.Errorf("invalid severity %q", *opts.Severity)
		}
		i.Severity = sev
	}
	if opts.ClearAttachment {
		i.Attachment = nil
		i.AttachmentName = ""
	} else if opts.Attachment != nil {
		i.Attachment = opts.Attachment
		if opts.AttachmentName != nil {
			i.AttachmentName = *opts.AttachmentName
		}
		if i.AttachmentName == "" {
			i.AttachmentName = path.Base(*opts.Attachment)
		}
	} else if opts.AttachmentName != nil {
		i.AttachmentName = *opts.AttachmentName
	}
	i.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return i, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateIssueFields(ctx, tx, i); err != nil {
		return i, err
	}
	if err := e.Events.Append(ctx, tx, "issue.updated", "issue", i.ID, p.UserID, events.EventPayload{
		"title":    i.Title,
		"severity": i.Severity,
	}); err != nil {
		return i, err
	}
	if err := tx.Commit(); err != nil {
		return i, err
	}
	return i, nil
}

// Transition moves an issue to next. Only maintainers and admins drive the
// workflow. Validation runs against the persisted status inside the
// transaction, and the write is a compare-and-swap on that same status, so
// two racing transitions can never both commit.
func (e Engine) Transition(ctx context.Context, id string, next domain.Status, p domain.Principal) (domain.Issue, error) {
	if err := auth.RequireMaintainer(p, auth.CapIssueTransition); err != nil {
		return domain.Issue{}, err
	}
	if !next.Valid() {
		return domain.Issue{}, fmt.Errorf("invalid status %q", next)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	i, err := e.Repo.GetIssueTx(ctx, tx, id)
	if err != nil {
		return domain.Issue{}, err
	}
	if next == i.Status {
		// Keeping the current status is not a transition.
		return i, tx.Commit()
	}
	if !i.Status.CanTransitionTo(next) {
		return i, domain.InvalidTransitionError{From: i.Status, To: next}
	}
	updatedAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateIssueStatus(ctx, tx, i.ID, i.Status, next, updatedAt); err != nil {
		return i, err
	}
	if err := e.Events.Append(ctx, tx, "issue.transitioned", "issue", i.ID, p.UserID, events.EventPayload{
		"from": i.Status,
		"to":   next,
	}); err != nil {
		return i, err
	}
	if err := tx.Commit(); err != nil {
		return i, err
	}
	i.Status = next
	i.UpdatedAt = updatedAt
	return i, nil
}

// DeleteIssue removes an issue; comments and attachments cascade.
func (e Engine) DeleteIssue(ctx context.Context, id string, p domain.Principal) error {
	if err := auth.RequireMaintainer(p, auth.CapIssueDelete); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	i, err := e.Repo.GetIssueTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteIssue(ctx, tx, i.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "issue.deleted", "issue", i.ID, p.UserID, events.EventPayload{
		"title": i.Title,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// GetIssue reads a single issue; any authenticated principal may view.
func (e Engine) GetIssue(ctx context.Context, id string, p domain.Principal) (domain.Issue, error) {
	if err := auth.RequireAuthenticated(p, auth.CapIssueView); err != nil {
		return domain.Issue{}, err
	}
	return e.Repo.GetIssue(ctx, id)
}
