// Package auth answers capability and ownership questions for principals.
// Checks are pure functions over the role enum; no storage access and no
// shape probing of arbitrary objects.
package auth

import (
	"fmt"

	"redline/internal/domain"
)

// Capability names used in forbidden errors and audit payloads.
const (
	CapIssueView       = "issue.view"
	CapIssueCreate     = "issue.create"
	CapIssueEdit       = "issue.edit"
	CapIssueTransition = "issue.transition"
	CapIssueDelete     = "issue.delete"
	CapCommentCreate   = "comment.create"
	CapCommentEdit     = "comment.edit"
	CapAttachmentAdd   = "attachment.add"
	CapTagManage       = "tag.manage"
)

// ForbiddenError indicates a principal lacks a capability or ownership.
type ForbiddenError struct {
	Capability string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("capability %s required", e.Capability)
}

// Authenticated reports whether p identifies a real principal with a role.
func Authenticated(p domain.Principal) bool {
	return p.UserID != "" && p.Role.Valid()
}

// RequireAuthenticated gates capabilities every authenticated principal
// holds, issue creation included.
func RequireAuthenticated(p domain.Principal, capability string) error {
	if !Authenticated(p) {
		return ForbiddenError{Capability: capability}
	}
	return nil
}

// RequireMaintainer gates capabilities reserved to maintainers and admins.
func RequireMaintainer(p domain.Principal, capability string) error {
	if !Authenticated(p) || !p.Role.IsMaintainer() {
		return ForbiddenError{Capability: capability}
	}
	return nil
}

// CanActOn is the object-level gate: maintainers and admins bypass ownership
// entirely, everyone else must own the object. Safe to call with a zero
// principal or a nil object; both deny.
func CanActOn(p domain.Principal, obj domain.Ownable) bool {
	if !Authenticated(p) {
		return false
	}
	if p.Role.IsMaintainer() {
		return true
	}
	if obj == nil {
		return false
	}
	owner := obj.OwnerID()
	return owner != "" && owner == p.UserID
}

// RequireActOn wraps CanActOn into a capability error.
func RequireActOn(p domain.Principal, obj domain.Ownable, capability string) error {
	if !CanActOn(p, obj) {
		return ForbiddenError{Capability: capability}
	}
	return nil
}
