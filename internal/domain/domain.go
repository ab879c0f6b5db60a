package domain

// User is an authenticated identity. Every user carries exactly one role,
// assigned at creation and never null.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      Role   `json:"role"`
	PassHash  string `json:"-"`
	PassSalt  string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Principal is the identity+role pair passed explicitly into every engine
// operation. A zero Principal is unauthenticated and fails every gate.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (u User) Principal() Principal {
	return Principal{UserID: u.ID, Role: u.Role}
}

// Ownable is implemented by entities that have an owning user.
type Ownable interface {
	OwnerID() string
}

type Issue struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Attachment     *string  `json:"attachment,omitempty"`
	AttachmentName string   `json:"attachment_name,omitempty"`
	Status         Status   `json:"status" enum:"OPEN,TRIAGED,IN_PROGRESS,DONE"`
	Severity       Severity `json:"severity" enum:"LOW,MEDIUM,HIGH,CRITICAL"`
	CreatedBy      string   `json:"created_by"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

func (i Issue) OwnerID() string { return i.CreatedBy }

type Comment struct {
	ID        string `json:"id"`
	IssueID   string `json:"issue_id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

func (c Comment) OwnerID() string { return c.UserID }

// Attachment is detached file metadata, distinct from the inline
// attachment reference on Issue.
type Attachment struct {
	ID         string `json:"id"`
	IssueID    string `json:"issue_id"`
	FileRef    string `json:"file_ref"`
	Filename   string `json:"filename"`
	UploadedBy string `json:"uploaded_by"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
}

func (a Attachment) OwnerID() string { return a.UploadedBy }

// Tag labels issues by name. No issue relation exists in the current model.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
