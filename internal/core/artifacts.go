package core

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/knowledge-hub/server/internal/store"
	"github.com/knowledge-hub/server/internal/utils"
)

// Artifacts are the fields derived from a document's content.
type Artifacts struct {
	Summary   string
	Tags      []string
	Embedding []float32
}

// Degraded reports whether any artifact came back empty because generation
// was unavailable.
func (a Artifacts) Degraded() bool {
	return a.Summary == "" || len(a.Tags) == 0 || len(a.Embedding) == 0
}

// fillFrom keeps doc's stored value for every artifact that came back empty.
func (a Artifacts) fillFrom(doc *store.Document) Artifacts {
	if a.Summary == "" {
		a.Summary = doc.Summary
	}
	if len(a.Tags) == 0 && len(doc.Tags) > 0 {
		a.Tags = doc.Tags
	}
	if len(a.Embedding) == 0 && len(doc.Embedding) > 0 {
		a.Embedding = doc.Embedding
	}
	return a
}

type ArtifactGenerator struct {
	llm Generator
}

func NewArtifactGenerator(llm Generator) *ArtifactGenerator {
	return &ArtifactGenerator{llm: llm}
}

// Generate derives summary, tags and embedding from content concurrently and
// returns once all three have settled. Generation failures leave the affected
// artifact empty. The only error is a cancelled ctx, in which case nothing
// derived from content may be committed.
func (g *ArtifactGenerator) Generate(ctx context.Context, content string) (Artifacts, error) {
	var a Artifacts
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.Summary = g.llm.Summarize(gctx, content)
		return gctx.Err()
	})
	group.Go(func() error {
		a.Tags = g.llm.Tag(gctx, content)
		return gctx.Err()
	})
	group.Go(func() error {
		a.Embedding = g.llm.Embed(gctx, content)
		return gctx.Err()
	})

	// Single join point: a cancelled ctx surfaces here and nothing is returned.
	if err := group.Wait(); err != nil {
		return Artifacts{}, fmt.Errorf("artifact generation interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Artifacts{}, fmt.Errorf("artifact generation interrupted: %w", err)
	}
	return normalizeArtifacts(a), nil
}

// Summary regenerates only the summary.
func (g *ArtifactGenerator) Summary(ctx context.Context, content string) (string, error) {
	summary := g.llm.Summarize(ctx, content)
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("summary generation interrupted: %w", err)
	}
	return summary, nil
}

// Tags regenerates only the tags.
func (g *ArtifactGenerator) Tags(ctx context.Context, content string) ([]string, error) {
	tags := g.llm.Tag(ctx, content)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tag generation interrupted: %w", err)
	}
	return normalizeArtifacts(Artifacts{Tags: tags}).Tags, nil
}

func normalizeArtifacts(a Artifacts) Artifacts {
	if a.Tags == nil {
		a.Tags = []string{}
	}
	if a.Embedding == nil || !utils.ValidEmbedding(a.Embedding) {
		a.Embedding = []float32{}
	}
	return a
}
