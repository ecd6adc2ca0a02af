package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-hub/server/internal/store"
)

const (
	DefaultSearchCandidates = 20
	DefaultSearchTopK       = 5
	DefaultSearchMinScore   = 0.75
)

// SearchOptions bound a similarity query: the index is asked for Candidates
// neighbours, the best TopK are kept and anything under MinScore is dropped.
type SearchOptions struct {
	Candidates int
	TopK       int
	MinScore   float64
}

func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Candidates: DefaultSearchCandidates,
		TopK:       DefaultSearchTopK,
		MinScore:   DefaultSearchMinScore,
	}
}

type SearchService struct {
	store SearchStore
	llm   Generator
	opts  SearchOptions
}

func NewSearchService(s SearchStore, llm Generator, opts SearchOptions) *SearchService {
	def := DefaultSearchOptions()
	if opts.Candidates <= 0 {
		opts.Candidates = def.Candidates
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.TopK > opts.Candidates {
		opts.TopK = opts.Candidates
	}
	return &SearchService{store: s, llm: llm, opts: opts}
}

// SearchLexical returns every document whose title, content or one of its
// tags contains query, ignoring case. A blank query matches nothing.
func (s *SearchService) SearchLexical(ctx context.Context, query string) ([]store.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []store.Document{}, nil
	}
	docs, err := s.store.SearchDocuments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	if docs == nil {
		docs = []store.Document{}
	}
	return docs, nil
}

// SearchSemantic embeds query and returns the closest documents. An
// unavailable embedding service yields no results rather than an error.
func (s *SearchService) SearchSemantic(ctx context.Context, query string) ([]store.VectorHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []store.VectorHit{}, nil
	}
	vec := s.llm.Embed(ctx, query)
	if len(vec) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logrus.Warn("Semantic search degraded: query embedding unavailable")
		return []store.VectorHit{}, nil
	}
	return s.SearchVector(ctx, vec)
}

// SearchVector runs a similarity query for an already embedded vector.
func (s *SearchService) SearchVector(ctx context.Context, vec []float32) ([]store.VectorHit, error) {
	hits, err := s.store.QueryVector(ctx, vec, s.opts.Candidates, s.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector index: %w", err)
	}

	results := make([]store.VectorHit, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < s.opts.MinScore {
			continue
		}
		if hit.Tags == nil {
			hit.Tags = []string{}
		}
		results = append(results, hit)
		if len(results) == s.opts.TopK {
			break
		}
	}
	return results, nil
}
