package core

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-hub/server/internal/store"
)

// angled returns a unit vector whose cosine similarity with vector(1) is cos.
func angled(cos float64) []float32 {
	return vector(float32(cos), float32(math.Sqrt(1-cos*cos)))
}

func TestSearchService_SemanticThresholdAndLimit(t *testing.T) {
	s := newTestStore(t)
	llm := newFakeGenerator()
	ctx := context.Background()

	scores := []float64{0.99, 0.95, 0.9, 0.85, 0.8, 0.78, 0.7, 0.5, 0.1}
	for i, score := range scores {
		require.NoError(t, s.CreateDocument(ctx, &store.Document{
			OwnerID:   "alice",
			Title:     fmt.Sprintf("doc-%d", i),
			Content:   "content",
			Summary:   "summary",
			Tags:      []string{"t"},
			Embedding: angled(score),
		}))
	}
	llm.vectors["query"] = vector(1)

	svc := NewSearchService(s, llm, DefaultSearchOptions())
	hits, err := svc.SearchSemantic(ctx, "query")
	require.NoError(t, err)
	require.Len(t, hits, 5)
	for i, hit := range hits {
		assert.Equal(t, fmt.Sprintf("doc-%d", i), hit.Title)
		assert.GreaterOrEqual(t, hit.Score, DefaultSearchMinScore)
		assert.Equal(t, "summary", hit.Summary)
		assert.Equal(t, []string{"t"}, hit.Tags)
	}
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestSearchService_SemanticDropsLowScores(t *testing.T) {
	s := newTestStore(t)
	llm := newFakeGenerator()
	ctx := context.Background()

	for i, score := range []float64{0.9, 0.76, 0.74, 0.2} {
		require.NoError(t, s.CreateDocument(ctx, &store.Document{
			Title:     fmt.Sprintf("doc-%d", i),
			Content:   "content",
			Embedding: angled(score),
		}))
	}
	llm.vectors["query"] = vector(1)

	hits, err := NewSearchService(s, llm, DefaultSearchOptions()).SearchSemantic(ctx, "query")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc-0", hits[0].Title)
	assert.Equal(t, "doc-1", hits[1].Title)
}

// recordingSearchStore captures the pool size the service asks for.
type recordingSearchStore struct {
	candidates, limit int
}

func (r *recordingSearchStore) SearchDocuments(context.Context, string) ([]store.Document, error) {
	return nil, nil
}

func (r *recordingSearchStore) QueryVector(_ context.Context, _ []float32, numCandidates, limit int) ([]store.VectorHit, error) {
	r.candidates, r.limit = numCandidates, limit
	return []store.VectorHit{{ID: "a", Title: "a", Score: 0.9}}, nil
}

func TestSearchService_CandidatePool(t *testing.T) {
	rec := &recordingSearchStore{}
	svc := NewSearchService(rec, newFakeGenerator(), SearchOptions{})

	hits, err := svc.SearchVector(context.Background(), vector(1))
	require.NoError(t, err)
	assert.Equal(t, 20, rec.candidates)
	assert.Equal(t, 5, rec.limit)
	require.Len(t, hits, 1)
	assert.Equal(t, []string{}, hits[0].Tags)
}

func TestSearchService_SemanticDegraded(t *testing.T) {
	s := newTestStore(t)
	llm := newFakeGenerator()
	svc := NewSearchService(s, llm, DefaultSearchOptions())
	ctx := context.Background()

	require.NoError(t, s.CreateDocument(ctx, &store.Document{Title: "a", Content: "a", Embedding: vector(1)}))

	llm.down.Store(true)
	hits, err := svc.SearchSemantic(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, []store.VectorHit{}, hits)

	hits, err = svc.SearchSemantic(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchService_SemanticEmptyIndex(t *testing.T) {
	svc := NewSearchService(newTestStore(t), newFakeGenerator(), DefaultSearchOptions())

	hits, err := svc.SearchSemantic(context.Background(), "query")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchService_Lexical(t *testing.T) {
	s := newTestStore(t)
	svc := NewSearchService(s, newFakeGenerator(), DefaultSearchOptions())
	ctx := context.Background()

	require.NoError(t, s.CreateDocument(ctx, &store.Document{Title: "Plan", Content: "The Roadmap for Q3"}))
	require.NoError(t, s.CreateDocument(ctx, &store.Document{Title: "Notes", Content: "misc", Tags: []string{"ROADMAP-review"}}))
	require.NoError(t, s.CreateDocument(ctx, &store.Document{Title: "Other", Content: "unrelated"}))

	docs, err := svc.SearchLexical(ctx, "roadmap")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = svc.SearchLexical(ctx, "  plan ")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Plan", docs[0].Title)

	docs, err = svc.SearchLexical(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []store.Document{}, docs)
}
