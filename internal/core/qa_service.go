package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-hub/server/internal/store"
)

const fallbackAnswer = "I'm sorry, I couldn't generate an answer right now. Please try again later."

const qaPromptTemplate = `You are an expert assistant. Use the following documents and their authors (author) as context to answer the question accurately.
Each document includes title, content, and author name.

Documents:
%s

Question: %q

Provide a clear, concise answer based only on the documents and authors. Return ONLY plain text, no markdown or extra labels.`

type DocumentRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Answer struct {
	Answer      string        `json:"answer"`
	ContextDocs []DocumentRef `json:"contextDocs"`
}

// QAService answers questions using the whole corpus as context.
type QAService struct {
	corpus CorpusStore
	llm    Generator
}

func NewQAService(corpus CorpusStore, llm Generator) *QAService {
	return &QAService{corpus: corpus, llm: llm}
}

// Answer builds a prompt from every document and asks the model. The model is
// consulted even when the corpus is empty.
func (s *QAService) Answer(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &ValidationError{Field: "question"}
	}

	entries, err := s.corpus.ListCorpus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	prompt, err := BuildQAPrompt(question, entries)
	if err != nil {
		return nil, err
	}

	answer := s.llm.Synthesize(ctx, prompt)
	if answer == "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logrus.Warn("Answer synthesis degraded, returning fallback answer")
		answer = fallbackAnswer
	}

	refs := make([]DocumentRef, 0, len(entries))
	for _, e := range entries {
		refs = append(refs, DocumentRef{ID: e.ID, Title: e.Title})
	}
	return &Answer{Answer: answer, ContextDocs: refs}, nil
}

// BuildQAPrompt serializes entries as a JSON array of {title, content,
// author} objects and embeds it with the question.
func BuildQAPrompt(question string, entries []store.CorpusEntry) (string, error) {
	if entries == nil {
		entries = []store.CorpusEntry{}
	}
	docs, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to serialize corpus: %w", err)
	}
	return fmt.Sprintf(qaPromptTemplate, docs, question), nil
}
