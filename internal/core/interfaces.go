package core

import (
	"context"

	"github.com/knowledge-hub/server/internal/store"
)

// Generator is the contract with the external generative service. Methods
// never fail: an unavailable service yields "" or an empty slice, and callers
// treat empty as "generation unavailable".
type Generator interface {
	Summarize(ctx context.Context, text string) string
	Tag(ctx context.Context, text string) []string
	Embed(ctx context.Context, text string) []float32
	Synthesize(ctx context.Context, prompt string) string
}

// DocumentStore persists documents. Lookups return nil, nil for missing rows.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *store.Document) error
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	ListDocuments(ctx context.Context, ownerID string) ([]store.Document, error)
	ListDocumentsMissingEmbedding(ctx context.Context) ([]store.Document, error)
	ReplaceDocument(ctx context.Context, doc *store.Document) (*store.Document, error)
	UpdateSummary(ctx context.Context, id string, version int64, summary string) (*store.Document, error)
	UpdateTags(ctx context.Context, id string, version int64, tags []string) (*store.Document, error)
	UpdateArtifacts(ctx context.Context, id string, version int64, summary string, tags []string, embedding []float32) (*store.Document, error)
	DeleteDocument(ctx context.Context, id string) (bool, error)
	ListActivity(ctx context.Context, userID string, limit int) ([]store.ActivityEntry, error)
}

// SearchStore serves lexical matches and nearest-neighbour queries.
type SearchStore interface {
	SearchDocuments(ctx context.Context, query string) ([]store.Document, error)
	QueryVector(ctx context.Context, vec []float32, numCandidates, limit int) ([]store.VectorHit, error)
}

type CorpusStore interface {
	ListCorpus(ctx context.Context) ([]store.CorpusEntry, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user *store.User) error
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
}

// EventSink receives lifecycle events after a mutation has committed.
type EventSink interface {
	RecordActivity(ctx context.Context, action, docID, userID string) error
}
