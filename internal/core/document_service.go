package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-hub/server/internal/store"
)

const activityFeedLimit = 5

// DocumentService sequences artifact generation with document writes so that
// content and its derived artifacts are always committed together, and emits
// lifecycle events after each successful mutation.
type DocumentService struct {
	docs      DocumentStore
	events    EventSink
	generator *ArtifactGenerator
	locks     keyedMutex // serializes mutations of the same document
}

func NewDocumentService(docs DocumentStore, events EventSink, generator *ArtifactGenerator) *DocumentService {
	return &DocumentService{
		docs:      docs,
		events:    events,
		generator: generator,
	}
}

// CreateDocument enriches content and stores the document at version 0.
func (s *DocumentService) CreateDocument(ctx context.Context, p Principal, title, content string) (*store.Document, error) {
	if err := ValidateDocument(title, content); err != nil {
		return nil, err
	}

	artifacts, err := s.generator.Generate(ctx, content)
	if err != nil {
		return nil, err
	}
	logDegraded(artifacts, "", "create")

	doc := &store.Document{
		OwnerID:   p.UserID,
		Title:     title,
		Content:   content,
		Summary:   artifacts.Summary,
		Tags:      artifacts.Tags,
		Embedding: artifacts.Embedding,
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	s.recordEvent(ctx, store.ActionCreate, doc.ID, p.UserID)
	return doc, nil
}

// UpdateDocument replaces title and content, regenerates every artifact from
// the new content and bumps the version, all in one write.
func (s *DocumentService) UpdateDocument(ctx context.Context, p Principal, id, title, content string) (*store.Document, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := s.loadForModification(ctx, p, id); err != nil {
		return nil, err
	}
	if err := ValidateDocument(title, content); err != nil {
		return nil, err
	}

	artifacts, err := s.generator.Generate(ctx, content)
	if err != nil {
		return nil, err
	}
	logDegraded(artifacts, id, "update")

	updated, err := s.docs.ReplaceDocument(ctx, &store.Document{
		ID:        id,
		Title:     title,
		Content:   content,
		Summary:   artifacts.Summary,
		Tags:      artifacts.Tags,
		Embedding: artifacts.Embedding,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	if updated == nil {
		return nil, ErrNotFound
	}

	s.recordEvent(ctx, store.ActionUpdate, id, p.UserID)
	return updated, nil
}

func (s *DocumentService) DeleteDocument(ctx context.Context, p Principal, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := s.loadForModification(ctx, p, id); err != nil {
		return err
	}

	deleted, err := s.docs.DeleteDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}

	s.recordEvent(ctx, store.ActionDelete, id, p.UserID)
	return nil
}

// Resummarize regenerates only the summary. The version is left alone and no
// event is emitted. If generation is unavailable the current summary is kept.
func (s *DocumentService) Resummarize(ctx context.Context, p Principal, id string) (*store.Document, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	doc, err := s.loadForModification(ctx, p, id)
	if err != nil {
		return nil, err
	}

	summary, err := s.generator.Summary(ctx, doc.Content)
	if err != nil {
		return nil, err
	}
	if summary == "" {
		logrus.WithField("doc_id", id).Warn("Summary regeneration degraded, keeping current summary")
		return doc, nil
	}

	updated, err := s.docs.UpdateSummary(ctx, id, doc.Version, summary)
	return s.afterRefresh(updated, err)
}

// RegenerateTags regenerates only the tags, like Resummarize.
func (s *DocumentService) RegenerateTags(ctx context.Context, p Principal, id string) (*store.Document, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	doc, err := s.loadForModification(ctx, p, id)
	if err != nil {
		return nil, err
	}

	tags, err := s.generator.Tags(ctx, doc.Content)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		logrus.WithField("doc_id", id).Warn("Tag regeneration degraded, keeping current tags")
		return doc, nil
	}

	updated, err := s.docs.UpdateTags(ctx, id, doc.Version, tags)
	return s.afterRefresh(updated, err)
}

// Reenrich regenerates all three artifacts from the stored content without a
// version bump. It is a maintenance repair for documents created while the
// generative service was down, so it needs no principal. The content is
// unchanged, so an artifact that fails to regenerate keeps its stored value.
func (s *DocumentService) Reenrich(ctx context.Context, id string) (*store.Document, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	doc, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc == nil {
		return nil, ErrNotFound
	}

	artifacts, err := s.generator.Generate(ctx, doc.Content)
	if err != nil {
		return nil, err
	}
	logDegraded(artifacts, id, "re-enrich")
	artifacts = artifacts.fillFrom(doc)

	updated, err := s.docs.UpdateArtifacts(ctx, id, doc.Version, artifacts.Summary, artifacts.Tags, artifacts.Embedding)
	return s.afterRefresh(updated, err)
}

// PendingEnrichment lists documents that have no embedding yet.
func (s *DocumentService) PendingEnrichment(ctx context.Context) ([]store.Document, error) {
	docs, err := s.docs.ListDocumentsMissingEmbedding(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents missing embeddings: %w", err)
	}
	return docs, nil
}

func (s *DocumentService) GetDocument(ctx context.Context, p Principal, id string) (*store.Document, error) {
	return s.loadForModification(ctx, p, id)
}

// ListDocuments returns every document for admins and only the caller's own otherwise.
func (s *DocumentService) ListDocuments(ctx context.Context, p Principal) ([]store.Document, error) {
	owner := p.UserID
	if p.IsAdmin() {
		owner = ""
	}
	docs, err := s.docs.ListDocuments(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// ActivityFeed returns the most recent lifecycle events visible to p.
func (s *DocumentService) ActivityFeed(ctx context.Context, p Principal) ([]store.ActivityEntry, error) {
	user := p.UserID
	if p.IsAdmin() {
		user = ""
	}
	feed, err := s.docs.ListActivity(ctx, user, activityFeedLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity feed: %w", err)
	}
	return feed, nil
}

func (s *DocumentService) loadForModification(ctx context.Context, p Principal, id string) (*store.Document, error) {
	doc, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	if !p.CanModify(doc.OwnerID) {
		return nil, ErrForbidden
	}
	return doc, nil
}

func (s *DocumentService) afterRefresh(updated *store.Document, err error) (*store.Document, error) {
	if errors.Is(err, store.ErrStaleVersion) {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save regenerated artifacts: %w", err)
	}
	if updated == nil {
		return nil, ErrNotFound
	}
	return updated, nil
}

// recordEvent runs after the mutation has committed. Its failure is logged and
// never reaches the caller.
func (s *DocumentService) recordEvent(ctx context.Context, action, docID, userID string) {
	if s.events == nil {
		return
	}
	if err := s.events.RecordActivity(context.WithoutCancel(ctx), action, docID, userID); err != nil {
		logrus.WithFields(logrus.Fields{
			"action":  action,
			"doc_id":  docID,
			"user_id": userID,
		}).Warnf("Failed to record activity: %v", err)
	}
}

func logDegraded(a Artifacts, docID, op string) {
	if !a.Degraded() {
		return
	}
	logrus.WithFields(logrus.Fields{
		"doc_id":        docID,
		"op":            op,
		"has_summary":   a.Summary != "",
		"tag_count":     len(a.Tags),
		"has_embedding": len(a.Embedding) > 0,
	}).Warn("Generation degraded, some artifacts are empty")
}
