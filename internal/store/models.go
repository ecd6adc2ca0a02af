package store

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

type User struct {
	ID           string    `json:"id"` // UUID
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Document struct {
	ID        string    `json:"id"` // UUID
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Summary   string    `json:"summary"` // Empty until generation succeeds
	Tags      []string  `json:"tags"`
	Embedding []float32 `json:"-"` // 768 floats or empty, internal
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy *Author   `json:"created_by,omitempty"` // Set by GetDocument and ListDocuments
}

// Author is the public part of a document owner's profile.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Activity is one append-only lifecycle entry.
type Activity struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	DocID     string    `json:"doc_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ActivityEntry is an Activity joined with who did it and what it was done to.
// DocTitle is empty once the document has been deleted.
type ActivityEntry struct {
	Activity
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	DocTitle  string `json:"doc_title"`
}

// CorpusEntry is the slice of a document handed to the QA prompt.
type CorpusEntry struct {
	ID      string `json:"-"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Author  string `json:"author"`
}

// VectorHit is the projection returned by similarity queries. Content and
// embedding are never included.
type VectorHit struct {
	ID      string   `json:"-"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
	Score   float64  `json:"score"`
}
