package core

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/knowledge-hub/server/internal/store"
	"github.com/knowledge-hub/server/internal/utils"
)

// fakeGenerator derives artifacts deterministically from the text it is given.
// Setting down makes every call behave like an unreachable service.
type fakeGenerator struct {
	down    atomic.Bool
	calls   atomic.Int32
	vectors map[string][]float32

	mu      sync.Mutex
	prompts []string
	answer  string
	block   chan struct{} // when set, calls wait for it or for ctx
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{vectors: map[string][]float32{}}
}

func (f *fakeGenerator) wait(ctx context.Context) bool {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return false
		}
	}
	return !f.down.Load() && ctx.Err() == nil
}

func (f *fakeGenerator) Summarize(ctx context.Context, text string) string {
	if !f.wait(ctx) {
		return ""
	}
	return "summary of " + text
}

func (f *fakeGenerator) Tag(ctx context.Context, text string) []string {
	if !f.wait(ctx) {
		return []string{}
	}
	return ParseTags("tag-" + strings.ToLower(strings.Fields(text)[0]) + ", generated")
}

func (f *fakeGenerator) Embed(ctx context.Context, text string) []float32 {
	if !f.wait(ctx) {
		return []float32{}
	}
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return vector(1, float32(len(text)))
}

func (f *fakeGenerator) Synthesize(ctx context.Context, prompt string) string {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if !f.wait(ctx) {
		return ""
	}
	if f.answer != "" {
		return f.answer
	}
	return "an answer"
}

func vector(components ...float32) []float32 {
	v := make([]float32, utils.EmbeddingDimension)
	copy(v, components)
	return v
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type failingEvents struct{}

func (failingEvents) RecordActivity(context.Context, string, string, string) error {
	return context.DeadlineExceeded
}
