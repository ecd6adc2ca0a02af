package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-hub/server/internal/auth"
	"github.com/knowledge-hub/server/internal/core"
	"github.com/knowledge-hub/server/internal/store"
	"github.com/knowledge-hub/server/internal/utils"
)

// echoGenerator produces artifacts that depend only on the input text.
type echoGenerator struct{}

func (echoGenerator) Summarize(_ context.Context, text string) string { return "summary: " + text }

func (echoGenerator) Tag(_ context.Context, text string) []string {
	return core.ParseTags(strings.ToLower(text) + ", doc")
}

func (echoGenerator) Embed(_ context.Context, text string) []float32 {
	v := make([]float32, utils.EmbeddingDimension)
	v[0] = 1
	if strings.Contains(strings.ToLower(text), "roadmap") {
		v[1] = 0.2
	} else {
		v[1] = 5
	}
	return v
}

func (echoGenerator) Synthesize(_ context.Context, prompt string) string {
	return "```json\n{}\n```\nIt ships in Q3."
}

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var llm core.Generator = echoGenerator{}
	isAdmin := func(email string) bool { return email == "admin@example.com" }
	users := core.NewUserService(s, auth.NewTokenManager("test-secret", time.Hour), isAdmin)
	docs := core.NewDocumentService(s, s, core.NewArtifactGenerator(llm))
	search := core.NewSearchService(s, llm, core.DefaultSearchOptions())
	qa := core.NewQAService(s, llm)

	srv := httptest.NewServer(NewRouter(NewAPIHandler(users, docs, search, qa)))
	t.Cleanup(srv.Close)
	return &testServer{srv}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (ts *testServer) register(t *testing.T, name, email string) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "pw",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var session core.Session
	require.NoError(t, json.Unmarshal(body, &session))
	return session.Token
}

func (ts *testServer) createDoc(t *testing.T, token, title, content string) store.Document {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/docs", token, map[string]string{"title": title, "content": content})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var doc store.Document
	require.NoError(t, json.Unmarshal(body, &doc))
	return doc
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "Alice", "alice@example.com")

	resp, _ := ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Alice", "email": "alice@example.com", "password": "pw",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "password")

	resp, _ = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/docs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/docs", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDocumentLifecycle(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com")
	bob := ts.register(t, "Bob", "bob@example.com")

	doc := ts.createDoc(t, alice, "Plan", "Roadmap for Q3")
	assert.Equal(t, "summary: Roadmap for Q3", doc.Summary)
	assert.Equal(t, []string{"roadmap for q3", "doc"}, doc.Tags)
	assert.Equal(t, int64(0), doc.Version)

	resp, body := ts.do(t, http.MethodGet, "/api/docs/"+doc.ID, alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "embedding")
	var fetched store.Document
	require.NoError(t, json.Unmarshal(body, &fetched))
	require.NotNil(t, fetched.CreatedBy)
	assert.Equal(t, store.Author{Name: "Alice", Email: "alice@example.com"}, *fetched.CreatedBy)

	resp, body = ts.do(t, http.MethodGet, "/api/docs", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []store.Document
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].CreatedBy)
	assert.Equal(t, "Alice", listed[0].CreatedBy.Name)
	assert.Equal(t, "alice@example.com", listed[0].CreatedBy.Email)

	resp, _ = ts.do(t, http.MethodPut, "/api/docs/"+doc.ID, bob, map[string]string{"title": "x", "content": "y"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPut, "/api/docs/"+doc.ID, alice, map[string]string{"title": "Plan", "content": "Budget"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated store.Document
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, "summary: Budget", updated.Summary)

	resp, body = ts.do(t, http.MethodPost, "/api/docs/"+doc.ID+"/summarize", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summarized store.Document
	require.NoError(t, json.Unmarshal(body, &summarized))
	assert.Equal(t, doc.ID, summarized.ID)
	assert.Equal(t, "Plan", summarized.Title)
	assert.Equal(t, "Budget", summarized.Content)
	assert.Equal(t, "summary: Budget", summarized.Summary)
	assert.Equal(t, int64(1), summarized.Version)

	resp, body = ts.do(t, http.MethodPost, "/api/docs/"+doc.ID+"/tags", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tagged store.Document
	require.NoError(t, json.Unmarshal(body, &tagged))
	assert.Equal(t, doc.ID, tagged.ID)
	assert.Equal(t, []string{"budget", "doc"}, tagged.Tags)
	assert.Equal(t, "summary: Budget", tagged.Summary)
	assert.Equal(t, int64(1), tagged.Version)

	resp, _ = ts.do(t, http.MethodDelete, "/api/docs/"+doc.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/api/docs/"+doc.ID, alice, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/docs/"+doc.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/docs/activity/feed", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var feed []store.ActivityEntry
	require.NoError(t, json.Unmarshal(body, &feed))
	require.Len(t, feed, 3)
	assert.Equal(t, store.ActionDelete, feed[0].Action)
	assert.Equal(t, "Alice", feed[0].UserName)
}

func TestCreateValidation(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com")

	resp, body := ts.do(t, http.MethodPost, "/api/docs", alice, map[string]string{"title": "", "content": "c"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"message":"title is required"}`, string(body))

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/docs", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice)
	r, err := ts.Client().Do(req)
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestListVisibility(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com")
	bob := ts.register(t, "Bob", "bob@example.com")
	admin := ts.register(t, "Admin", "admin@example.com")

	ts.createDoc(t, alice, "A", "alpha")
	ts.createDoc(t, bob, "B", "beta")

	var docs []store.Document
	_, body := ts.do(t, http.MethodGet, "/api/docs", alice, nil)
	require.NoError(t, json.Unmarshal(body, &docs))
	assert.Len(t, docs, 1)

	_, body = ts.do(t, http.MethodGet, "/api/docs", admin, nil)
	require.NoError(t, json.Unmarshal(body, &docs))
	assert.Len(t, docs, 2)
}

func TestSearchEndpoints(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com")
	ts.createDoc(t, alice, "Plan", "The Roadmap")
	ts.createDoc(t, alice, "Notes", "Unrelated")

	resp, body := ts.do(t, http.MethodGet, "/api/docs/search?q=roadmap", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var docs []store.Document
	require.NoError(t, json.Unmarshal(body, &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "Plan", docs[0].Title)

	resp, body = ts.do(t, http.MethodPost, "/api/docs/semantic-search", alice, map[string]string{"query": "roadmap please"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hits []map[string]any
	require.NoError(t, json.Unmarshal(body, &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "Plan", hits[0]["title"])
	assert.ElementsMatch(t, []string{"title", "summary", "tags", "score"}, keys(hits[0]))

	resp, body = ts.do(t, http.MethodPost, "/api/docs/semantic-search", alice, map[string]string{"query": ""})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestQAEndpoint(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "Alice", "alice@example.com")
	doc := ts.createDoc(t, alice, "Plan", "Roadmap")

	resp, body := ts.do(t, http.MethodPost, "/api/docs/qa", alice, map[string]string{"question": "When?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var answer core.Answer
	require.NoError(t, json.Unmarshal(body, &answer))
	assert.Equal(t, "It ships in Q3.", answer.Answer)
	assert.Equal(t, []core.DocumentRef{{ID: doc.ID, Title: "Plan"}}, answer.ContextDocs)

	resp, _ = ts.do(t, http.MethodPost, "/api/docs/qa", alice, map[string]string{"question": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
