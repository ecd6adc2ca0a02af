package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/knowledge-hub/server/internal/utils"
)

const documentColumns = "id, owner_id, title, content, summary, tags_json, embedding, version, created_at, updated_at"

// authoredDocumentQuery selects documents joined with their owner's profile.
const authoredDocumentQuery = `
        SELECT d.id, d.owner_id, d.title, d.content, d.summary, d.tags_json, d.embedding, d.version,
               d.created_at, d.updated_at, COALESCE(u.name, ''), COALESCE(u.email, '')
        FROM documents d
        LEFT JOIN users u ON u.id = d.owner_id
    `

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	return scanDocumentWith(row)
}

// scanAuthoredDocument scans a row of authoredDocumentQuery. CreatedBy stays
// nil when the owner no longer exists.
func scanAuthoredDocument(row rowScanner) (*Document, error) {
	var author Author
	doc, err := scanDocumentWith(row, &author.Name, &author.Email)
	if err != nil {
		return nil, err
	}
	if author.Name != "" || author.Email != "" {
		doc.CreatedBy = &author
	}
	return doc, nil
}

func scanDocumentWith(row rowScanner, extra ...any) (*Document, error) {
	var doc Document
	var summary sql.NullString
	var tagsJSON string
	var blob []byte
	dest := []any{&doc.ID, &doc.OwnerID, &doc.Title, &doc.Content, &summary, &tagsJSON, &blob,
		&doc.Version, &doc.CreatedAt, &doc.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	var err error
	doc.Summary = summary.String
	if doc.Tags, err = decodeTags(tagsJSON); err != nil {
		return nil, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	if doc.Embedding, err = utils.DecodeEmbedding(blob); err != nil {
		return nil, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	return &doc, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(tagsJSON string) ([]string, error) {
	tags := []string{}
	if tagsJSON == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	return tags, nil
}

// CreateDocument inserts doc with version 0 and fresh id and timestamps.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document) error {
	blob, err := utils.EncodeEmbedding(doc.Embedding)
	if err != nil {
		return err
	}
	tagsJSON, err := encodeTags(doc.Tags)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc.ID = uuid.NewString()
	doc.Version = 0
	doc.CreatedAt, doc.UpdatedAt = now, now
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if doc.Embedding == nil {
		doc.Embedding = []float32{}
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents ("+documentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		doc.ID, doc.OwnerID, doc.Title, doc.Content, doc.Summary, tagsJSON, blob, doc.Version, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	s.syncIndex(ctx, doc.ID, doc.Embedding)
	return nil
}

// GetDocument returns nil, nil when the document does not exist.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc, err := scanAuthoredDocument(s.db.QueryRowContext(ctx, authoredDocumentQuery+"WHERE d.id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns every document, or only ownerID's when it is set.
func (s *SQLiteStore) ListDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	query := authoredDocumentQuery + "WHERE (? = '' OR d.owner_id = ?) ORDER BY d.created_at DESC"
	return s.scanDocuments(ctx, scanAuthoredDocument, query, ownerID, ownerID)
}

// ListDocumentsMissingEmbedding returns documents whose enrichment degraded.
func (s *SQLiteStore) ListDocumentsMissingEmbedding(ctx context.Context) ([]Document, error) {
	return s.queryDocuments(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE embedding IS NULL OR length(embedding) = 0 ORDER BY created_at ASC")
}

// SearchDocuments matches query as a case-insensitive substring of the title,
// the content or any single tag. Results are unranked, oldest first.
func (s *SQLiteStore) SearchDocuments(ctx context.Context, query string) ([]Document, error) {
	pattern := "%" + escapeLike(query) + "%"
	q := `
        SELECT ` + documentColumns + `
        FROM documents d
        WHERE d.title LIKE ? ESCAPE '\'
           OR d.content LIKE ? ESCAPE '\'
           OR EXISTS (SELECT 1 FROM json_each(d.tags_json) t WHERE t.value LIKE ? ESCAPE '\')
        ORDER BY d.created_at ASC
    `
	return s.queryDocuments(ctx, q, pattern, pattern, pattern)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *SQLiteStore) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	return s.scanDocuments(ctx, scanDocument, query, args...)
}

func (s *SQLiteStore) scanDocuments(ctx context.Context, scan func(rowScanner) (*Document, error), query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// ReplaceDocument writes title, content and all three artifacts of doc in one
// statement and bumps the version. It returns nil, nil if the document is gone.
// A context cancelled before commit leaves the stored document untouched.
func (s *SQLiteStore) ReplaceDocument(ctx context.Context, doc *Document) (*Document, error) {
	blob, err := utils.EncodeEmbedding(doc.Embedding)
	if err != nil {
		return nil, err
	}
	tagsJSON, err := encodeTags(doc.Tags)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE documents
        SET title = ?, content = ?, summary = ?, tags_json = ?, embedding = ?, version = version + 1, updated_at = ?
        WHERE id = ?`,
		doc.Title, doc.Content, doc.Summary, tagsJSON, blob, time.Now().UTC(), doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}

	updated, err := scanDocument(tx.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", doc.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to reload document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit document update: %w", err)
	}
	s.syncIndex(ctx, updated.ID, updated.Embedding)
	return updated, nil
}

// UpdateSummary replaces only the summary, provided the document is still at version.
func (s *SQLiteStore) UpdateSummary(ctx context.Context, id string, version int64, summary string) (*Document, error) {
	return s.updateAtVersion(ctx, id, version, "summary = ?", summary)
}

// UpdateTags replaces only the tags, provided the document is still at version.
func (s *SQLiteStore) UpdateTags(ctx context.Context, id string, version int64, tags []string) (*Document, error) {
	tagsJSON, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}
	return s.updateAtVersion(ctx, id, version, "tags_json = ?", tagsJSON)
}

// UpdateArtifacts replaces all three artifacts without touching content or
// version, provided the document is still at version.
func (s *SQLiteStore) UpdateArtifacts(ctx context.Context, id string, version int64, summary string, tags []string, embedding []float32) (*Document, error) {
	blob, err := utils.EncodeEmbedding(embedding)
	if err != nil {
		return nil, err
	}
	tagsJSON, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}
	doc, err := s.updateAtVersion(ctx, id, version, "summary = ?, tags_json = ?, embedding = ?", summary, tagsJSON, blob)
	if err != nil || doc == nil {
		return doc, err
	}
	s.syncIndex(ctx, doc.ID, doc.Embedding)
	return doc, nil
}

// updateAtVersion applies set to the document only if its version is unchanged.
// It returns nil, nil if the document does not exist and ErrStaleVersion if it
// moved on.
func (s *SQLiteStore) updateAtVersion(ctx context.Context, id string, version int64, set string, args ...any) (*Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args = append(args, time.Now().UTC(), id, version)
	res, err := tx.ExecContext(ctx, "UPDATE documents SET "+set+", updated_at = ? WHERE id = ? AND version = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE id = ?", id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check document: %w", err)
		}
		return nil, ErrStaleVersion
	}

	doc, err := scanDocument(tx.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("failed to reload document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit document update: %w", err)
	}
	return doc, nil
}

// DeleteDocument reports whether a document was removed.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	if err := s.index.Remove(context.WithoutCancel(ctx), id); err != nil {
		logrus.WithField("doc_id", id).Errorf("Failed to remove document from vector index: %v", err)
	}
	return true, nil
}

// QueryVector runs a nearest-neighbour query over numCandidates documents and
// returns the best limit of them, projected to title, summary and tags.
func (s *SQLiteStore) QueryVector(ctx context.Context, vec []float32, numCandidates, limit int) ([]VectorHit, error) {
	matches, err := s.index.Query(ctx, vec, numCandidates)
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	hits := []VectorHit{}
	if len(matches) == 0 {
		return hits, nil
	}

	ids := make([]any, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, summary, tags_json FROM documents WHERE id IN ("+placeholders+")", ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector hits: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]VectorHit, len(matches))
	for rows.Next() {
		var hit VectorHit
		var summary sql.NullString
		var tagsJSON string
		if err := rows.Scan(&hit.ID, &hit.Title, &summary, &tagsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		hit.Summary = summary.String
		if hit.Tags, err = decodeTags(tagsJSON); err != nil {
			return nil, err
		}
		byID[hit.ID] = hit
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vector hits: %w", err)
	}

	for _, m := range matches {
		hit, ok := byID[m.ID]
		if !ok {
			continue // deleted between index query and load
		}
		hit.Score = m.Score
		hits = append(hits, hit)
	}
	return hits, nil
}

// ListCorpus returns every document with its author's name for QA prompting.
func (s *SQLiteStore) ListCorpus(ctx context.Context) ([]CorpusEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT d.id, d.title, d.content, COALESCE(u.name, '')
        FROM documents d
        LEFT JOIN users u ON u.id = d.owner_id
        ORDER BY d.created_at ASC
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query corpus: %w", err)
	}
	defer rows.Close()

	corpus := []CorpusEntry{}
	for rows.Next() {
		var entry CorpusEntry
		if err := rows.Scan(&entry.ID, &entry.Title, &entry.Content, &entry.Author); err != nil {
			return nil, fmt.Errorf("failed to scan corpus row: %w", err)
		}
		corpus = append(corpus, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate corpus: %w", err)
	}
	return corpus, nil
}
