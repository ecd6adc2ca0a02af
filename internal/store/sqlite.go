package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/sirupsen/logrus"

	"github.com/knowledge-hub/server/internal/utils"
	"github.com/knowledge-hub/server/internal/vectorindex"
)

// ErrStaleVersion is returned by version-guarded writes when the document
// changed after it was read.
var ErrStaleVersion = errors.New("document version changed")

// SQLiteStore persists users, documents and activities, and keeps the vector
// index in step with every committed document write.
type SQLiteStore struct {
	db    *sql.DB
	index *vectorindex.Index
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	index, err := vectorindex.New()
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db, index: index}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err = store.loadIndex(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY, -- UUID
        name TEXT NOT NULL,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS documents (
        id TEXT PRIMARY KEY, -- UUID
        owner_id TEXT NOT NULL,
        title TEXT NOT NULL,
        content TEXT NOT NULL,
        summary TEXT,
        tags_json TEXT NOT NULL DEFAULT '[]',
        embedding BLOB, -- little-endian float32 x 768, NULL when generation failed
        version INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        FOREIGN KEY (owner_id) REFERENCES users (id)
    );
    CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents (owner_id);

    CREATE TABLE IF NOT EXISTS activities (
        id TEXT PRIMARY KEY, -- UUID
        action TEXT NOT NULL CHECK (action IN ('create', 'update', 'delete')),
        doc_id TEXT NOT NULL, -- no FK: entries outlive deleted documents
        user_id TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_activities_created ON activities (created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

// loadIndex rebuilds the in-memory vector index from stored embeddings.
func (s *SQLiteStore) loadIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding FROM documents WHERE embedding IS NOT NULL AND length(embedding) > 0")
	if err != nil {
		return fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("failed to scan embedding row: %w", err)
		}
		vec, err := utils.DecodeEmbedding(blob)
		if err != nil {
			logrus.Warnf("Skipping document %s: undecodable embedding: %v", id, err)
			continue
		}
		if err := s.index.Upsert(ctx, id, vec); err != nil {
			logrus.Warnf("Skipping document %s: %v", id, err)
			continue
		}
		loaded++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	logrus.Infof("Vector index loaded with %d documents.", loaded)
	return nil
}

// syncIndex mirrors a committed embedding into the vector index. The database
// is the source of truth; a failure here only degrades search until restart.
func (s *SQLiteStore) syncIndex(ctx context.Context, id string, embedding []float32) {
	if err := s.index.Upsert(context.WithoutCancel(ctx), id, embedding); err != nil {
		logrus.WithField("doc_id", id).Errorf("Failed to sync vector index: %v", err)
	}
}
