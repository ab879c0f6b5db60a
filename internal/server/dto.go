package server

import (
	"redline/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type CreateIssueRequest struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Severity       string  `json:"severity,omitempty" enum:"LOW,MEDIUM,HIGH,CRITICAL"`
	Attachment     *string `json:"attachment,omitempty"`
	AttachmentName string  `json:"attachment_name,omitempty"`
}

type UpdateIssueRequest struct {
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Severity        *string `json:"severity,omitempty" enum:"LOW,MEDIUM,HIGH,CRITICAL"`
	Attachment      *string `json:"attachment,omitempty"`
	AttachmentName  *string `json:"attachment_name,omitempty"`
	ClearAttachment bool    `json:"clear_attachment,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status" enum:"OPEN,TRIAGED,IN_PROGRESS,DONE"`
}

type CommentRequest struct {
	Content string `json:"content"`
}

type AddAttachmentRequest struct {
	FileRef  string `json:"file_ref"`
	Filename string `json:"filename,omitempty"`
}

type CreateTagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type CreateUserRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email" format:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role,omitempty" enum:"ADMIN,MAINTAINER,REPORTER"`
}

type SetRoleRequest struct {
	Role string `json:"role" enum:"ADMIN,MAINTAINER,REPORTER"`
}

type CreateAPIKeyRequest struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

// Response payloads

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role" enum:"ADMIN,MAINTAINER,REPORTER"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type IssueResponse struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Attachment     *string `json:"attachment,omitempty"`
	AttachmentName string  `json:"attachment_name,omitempty"`
	Status         string  `json:"status" enum:"OPEN,TRIAGED,IN_PROGRESS,DONE"`
	Severity       string  `json:"severity" enum:"LOW,MEDIUM,HIGH,CRITICAL"`
	CreatedBy      string  `json:"created_by"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type IssueListResponse struct {
	Items      []IssueResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type CommentResponse struct {
	ID        string `json:"id"`
	IssueID   string `json:"issue_id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type AttachmentResponse struct {
	ID         string `json:"id"`
	IssueID    string `json:"issue_id"`
	FileRef    string `json:"file_ref"`
	Filename   string `json:"filename"`
	UploadedBy string `json:"uploaded_by"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
}

type TagResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func issueResponse(i domain.Issue) IssueResponse {
	return IssueResponse{
		ID:             i.ID,
		Title:          i.Title,
		Description:    i.Description,
		Attachment:     i.Attachment,
		AttachmentName: i.AttachmentName,
		Status:         string(i.Status),
		Severity:       string(i.Severity),
		CreatedBy:      i.CreatedBy,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

func mapIssues(items []domain.Issue) []IssueResponse {
	res := make([]IssueResponse, 0, len(items))
	for _, i := range items {
		res = append(res, issueResponse(i))
	}
	return res
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		IssueID:   c.IssueID,
		UserID:    c.UserID,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func mapComments(items []domain.Comment) []CommentResponse {
	res := make([]CommentResponse, 0, len(items))
	for _, c := range items {
		res = append(res, commentResponse(c))
	}
	return res
}

func attachmentResponse(a domain.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:         a.ID,
		IssueID:    a.IssueID,
		FileRef:    a.FileRef,
		Filename:   a.Filename,
		UploadedBy: a.UploadedBy,
		UploadedAt: a.UploadedAt,
	}
}

func mapAttachments(items []domain.Attachment) []AttachmentResponse {
	res := make([]AttachmentResponse, 0, len(items))
	for _, a := range items {
		res = append(res, attachmentResponse(a))
	}
	return res
}

func tagResponse(t domain.Tag) TagResponse {
	return TagResponse{ID: t.ID, Name: t.Name, Color: t.Color}
}

func mapTags(items []domain.Tag) []TagResponse {
	res := make([]TagResponse, 0, len(items))
	for _, t := range items {
		res = append(res, tagResponse(t))
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return res
}
