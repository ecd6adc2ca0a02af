package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/knowledge-hub/server/internal/utils"
)

const (
	defaultChatModelName      = "gemini-2.5-flash"
	defaultEmbeddingModelName = "text-embedding-004"
	defaultGeminiTimeout      = 30 * time.Second

	summaryPrompt = "Summarize the following document:\n\n%s"
	tagsPrompt    = "Generate 5 relevant tags for the following document (comma-separated):\n\n%s"
)

var codeFenceRe = regexp.MustCompile("(?s)```.*?```")

// textModel and embeddingModel are the parts of genai the service uses;
// *genai.GenerativeModel and *genai.EmbeddingModel satisfy them.
type textModel interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type embeddingModel interface {
	EmbedContent(ctx context.Context, parts ...genai.Part) (*genai.EmbedContentResponse, error)
}

type LLMOptions struct {
	ChatModel      string
	EmbeddingModel string
	Timeout        time.Duration // per request
	RatePerSecond  float64       // <= 0 disables pacing
	MaxRetries     int           // extra attempts after a rate-limit error
	RetryDelay     time.Duration
}

// LLMService talks to Gemini. Every call is paced, time-bounded and retried on
// rate limiting; any remaining failure degrades to an empty result.
type LLMService struct {
	client     *genai.Client
	chat       textModel
	embedder   embeddingModel
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

var _ Generator = (*LLMService)(nil)

func NewLLMService(ctx context.Context, apiKey string, opts LLMOptions) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if opts.ChatModel == "" {
		opts.ChatModel = defaultChatModelName
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = defaultEmbeddingModelName
	}

	s := newLLMService(client.GenerativeModel(opts.ChatModel), client.EmbeddingModel(opts.EmbeddingModel), opts)
	s.client = client
	return s, nil
}

func newLLMService(chat textModel, embedder embeddingModel, opts LLMOptions) *LLMService {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultGeminiTimeout
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &LLMService{
		chat:       chat,
		embedder:   embedder,
		limiter:    limiter,
		timeout:    timeout,
		maxRetries: retries,
		retryDelay: opts.RetryDelay,
	}
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			logrus.Errorf("Error closing GenAI client: %v", err)
		} else {
			logrus.Info("GenAI client closed.")
		}
	}
}

func (s *LLMService) Summarize(ctx context.Context, text string) string {
	summary, err := s.generateText(ctx, "summary", fmt.Sprintf(summaryPrompt, text))
	if err != nil {
		logrus.Warnf("Summary generation unavailable: %v", err)
		return ""
	}
	return strings.TrimSpace(summary)
}

func (s *LLMService) Tag(ctx context.Context, text string) []string {
	raw, err := s.generateText(ctx, "tags", fmt.Sprintf(tagsPrompt, text))
	if err != nil {
		logrus.Warnf("Tag generation unavailable: %v", err)
		return []string{}
	}
	return ParseTags(raw)
}

func (s *LLMService) Embed(ctx context.Context, text string) []float32 {
	var resp *genai.EmbedContentResponse
	err := s.call(ctx, "embedding", func(ctx context.Context) error {
		var err error
		resp, err = s.embedder.EmbedContent(ctx, genai.Text(text))
		return err
	})
	if err != nil {
		logrus.Warnf("Embedding generation unavailable: gemini embedding request failed: %v", err)
		return []float32{}
	}
	if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		logrus.Warn("Embedding generation unavailable: no embedding data received from gemini")
		return []float32{}
	}
	if len(resp.Embedding.Values) != utils.EmbeddingDimension {
		logrus.Warnf("Embedding generation unavailable: got %d dimensions, want %d", len(resp.Embedding.Values), utils.EmbeddingDimension)
		return []float32{}
	}
	return append([]float32(nil), resp.Embedding.Values...)
}

// Synthesize returns the model's answer to prompt with fenced code blocks
// removed and surrounding whitespace trimmed.
func (s *LLMService) Synthesize(ctx context.Context, prompt string) string {
	raw, err := s.generateText(ctx, "answer", prompt)
	if err != nil {
		logrus.Warnf("Answer synthesis unavailable: %v", err)
		return ""
	}
	return StripCodeFences(raw)
}

func (s *LLMService) generateText(ctx context.Context, op, prompt string) (string, error) {
	var resp *genai.GenerateContentResponse
	err := s.call(ctx, op, func(ctx context.Context) error {
		var err error
		resp, err = s.chat.GenerateContent(ctx, genai.Text(prompt))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("gemini %s request failed: %w", op, err)
	}
	return responseText(resp), nil
}

// call runs fn under the shared rate limiter with a per-attempt timeout.
// Rate-limit errors are retried; the request is a pure function of its input,
// so repeating it is harmless.
func (s *LLMService) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err = s.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = fn(callCtx)
		cancel()

		if err == nil || !isRateLimited(err) || attempt == s.maxRetries {
			return err
		}

		delay := s.retryDelay * time.Duration(attempt+1)
		logrus.Warnf("Gemini %s rate limited (attempt %d/%d), retrying in %v", op, attempt+1, s.maxRetries+1, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "resourceexhausted")
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	return text.String()
}

// StripCodeFences removes every ```-delimited block and trims the rest.
func StripCodeFences(raw string) string {
	return strings.TrimSpace(codeFenceRe.ReplaceAllString(raw, ""))
}

// ParseTags turns the model's comma-separated tag list into tags: split on
// commas, trim, collapse inner whitespace, drop empties. No deduplication or
// case folding is applied.
func ParseTags(raw string) []string {
	tags := []string{}
	for _, part := range strings.Split(raw, ",") {
		if tag := strings.Join(strings.Fields(part), " "); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
