package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/google/uuid"

	"redline/internal/domain"
	"redline/internal/engine/auth"
	"redline/internal/events"
	"redline/internal/repo"
)

// AddComment appends a comment to an issue. Any authenticated principal may
// comment on any issue.
func (e Engine) AddComment(ctx context.Context, issueID, content string, p domain.Principal) (domain.Comment, error) {
	if err := auth.RequireAuthenticated(p, auth.CapCommentCreate); err != nil {
		return domain.Comment{}, err
	}
	if content == "" {
		return domain.Comment{}, errors.New("content is required")
	}
	if _, err := e.Repo.GetIssue(ctx, issueID); err != nil {
		return domain.Comment{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Comment{
		ID:        uuid.New().String(),
		IssueID:   issueID,
		UserID:    p.UserID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Events.Append(ctx, tx, "comment.added", "comment", c.ID, p.UserID, events.EventPayload{
		"issue_id": issueID,
	}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// UpdateComment edits a comment's content. Authors edit their own; maintainers
// and admins edit any.
func (e Engine) UpdateComment(ctx context.Context, id, content string, p domain.Principal) (domain.Comment, error) {
	c, err := e.Repo.GetComment(ctx, id)
	if err != nil {
		return domain.Comment{}, err
	}
	if err := auth.RequireActOn(p, c, auth.CapCommentEdit); err != nil {
		return domain.Comment{}, err
	}
	if content == "" {
		return c, errors.New("content is required")
	}
	c.Content = content
	c.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateComment(ctx, tx, c.ID, c.Content, c.UpdatedAt); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "comment.updated", "comment", c.ID, p.UserID, events.EventPayload{
		"issue_id": c.IssueID,
	}); err != nil {
		return c, err
	}
	return c, tx.Commit()
}

// DeleteComment removes a comment under the same ownership rule as edits.
func (e Engine) DeleteComment(ctx context.Context, id string, p domain.Principal) error {
	c, err := e.Repo.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.RequireActOn(p, c, auth.CapCommentEdit); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteComment(ctx, tx, c.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "comment.deleted", "comment", c.ID, p.UserID, events.EventPayload{
		"issue_id": c.IssueID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListComments returns an issue's comments oldest first.
func (e Engine) ListComments(ctx context.Context, issueID string, p domain.Principal) ([]domain.Comment, error) {
	if err := auth.RequireAuthenticated(p, auth.CapIssueView); err != nil {
		return nil, err
	}
	if _, err := e.Repo.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, issueID)
}

// AddAttachment records file metadata against an issue. The issue owner and
// maintainers may attach.
func (e Engine) AddAttachment(ctx context.Context, issueID, fileRef, filename string, p domain.Principal) (domain.Attachment, error) {
	i, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return domain.Attachment{}, err
	}
	if err := auth.RequireActOn(p, i, auth.CapAttachmentAdd); err != nil {
		return domain.Attachment{}, err
	}
	if fileRef == "" {
		return domain.Attachment{}, errors.New("file_ref is required")
	}
	if filename == "" {
		filename = path.Base(fileRef)
	}
	a := domain.Attachment{
		ID:         uuid.New().String(),
		IssueID:    issueID,
		FileRef:    fileRef,
		Filename:   filename,
		UploadedBy: p.UserID,
		UploadedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Attachment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAttachment(ctx, tx, a); err != nil {
		return domain.Attachment{}, err
	}
	if err := e.Events.Append(ctx, tx, "attachment.added", "attachment", a.ID, p.UserID, events.EventPayload{
		"issue_id": issueID,
		"filename": filename,
	}); err != nil {
		return domain.Attachment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Attachment{}, err
	}
	return a, nil
}

// DeleteAttachment removes attachment metadata; uploader or maintainer only.
func (e Engine) DeleteAttachment(ctx context.Context, id string, p domain.Principal) error {
	a, err := e.Repo.GetAttachment(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.RequireActOn(p, a, auth.CapAttachmentAdd); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteAttachment(ctx, tx, a.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "attachment.deleted", "attachment", a.ID, p.UserID, events.EventPayload{
		"issue_id": a.IssueID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListAttachments returns an issue's attachment metadata.
func (e Engine) ListAttachments(ctx context.Context, issueID string, p domain.Principal) ([]domain.Attachment, error) {
	if err := auth.RequireAuthenticated(p, auth.CapIssueView); err != nil {
		return nil, err
	}
	if _, err := e.Repo.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}
	return e.Repo.ListAttachments(ctx, issueID)
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

const defaultTagColor = "#007bff"

// CreateTag registers a label. Maintainer only.
func (e Engine) CreateTag(ctx context.Context, name, color string, p domain.Principal) (domain.Tag, error) {
	if err := auth.RequireMaintainer(p, auth.CapTagManage); err != nil {
		return domain.Tag{}, err
	}
	if name == "" {
		return domain.Tag{}, errors.New("name is required")
	}
	if color == "" {
		color = defaultTagColor
	}
	if !colorPattern.MatchString(color) {
		return domain.Tag{}, fmt.Errorf("invalid color %q", color)
	}
	if _, err := e.Repo.GetTagByName(ctx, name); err == nil {
		return domain.Tag{}, fmt.Errorf("tag %q already exists", name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Tag{}, err
	}
	t := domain.Tag{
		ID:    uuid.New().String(),
		Name:  name,
		Color: color,
	}
	if err := e.Repo.InsertTag(ctx, t); err != nil {
		return domain.Tag{}, err
	}
	return t, nil
}

// DeleteTag removes a label. Maintainer only.
func (e Engine) DeleteTag(ctx context.Context, id string, p domain.Principal) error {
	if err := auth.RequireMaintainer(p, auth.CapTagManage); err != nil {
		return err
	}
	return e.Repo.DeleteTag(ctx, id)
}

// ListTags returns all labels.
func (e Engine) ListTags(ctx context.Context, p domain.Principal) ([]domain.Tag, error) {
	if err := auth.RequireAuthenticated(p, auth.CapIssueView); err != nil {
		return nil, err
	}
	return e.Repo.ListTags(ctx)
}
