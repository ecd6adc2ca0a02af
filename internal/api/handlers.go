package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/knowledge-hub/server/internal/core"
)

type contextKey string

const principalKey contextKey = "principal"

type APIHandler struct {
	users     *core.UserService
	documents *core.DocumentService
	search    *core.SearchService
	qa        *core.QAService
}

func NewAPIHandler(users *core.UserService, documents *core.DocumentService, search *core.SearchService, qa *core.QAService) *APIHandler {
	return &APIHandler{users: users, documents: documents, search: search, qa: qa}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		principal, err := h.users.Authenticate(r.Context(), tokenString)
		if err != nil {
			if errors.Is(err, core.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			logrus.Errorf("Error in JWTAuthMiddleware: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to process user identity")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(r *http.Request) core.Principal {
	p, _ := r.Context().Value(principalKey).(core.Principal)
	return p
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.users.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err, "Failed to register user")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err, "Failed to log in")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type DocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *APIHandler) CreateDocumentHandler(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	doc, err := h.documents.CreateDocument(r.Context(), principalFrom(r), req.Title, req.Content)
	if err != nil {
		writeServiceError(w, err, "Failed to create document")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *APIHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := h.documents.ListDocuments(r.Context(), principalFrom(r))
	if err != nil {
		writeServiceError(w, err, "Failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *APIHandler) GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.GetDocument(r.Context(), principalFrom(r), chi.URLParam(r, "docID"))
	if err != nil {
		writeServiceError(w, err, "Failed to get document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *APIHandler) UpdateDocumentHandler(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	doc, err := h.documents.UpdateDocument(r.Context(), principalFrom(r), chi.URLParam(r, "docID"), req.Title, req.Content)
	if err != nil {
		writeServiceError(w, err, "Failed to update document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *APIHandler) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.documents.DeleteDocument(r.Context(), principalFrom(r), chi.URLParam(r, "docID")); err != nil {
		writeServiceError(w, err, "Failed to delete document")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted"})
}

func (h *APIHandler) SummarizeHandler(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.Resummarize(r.Context(), principalFrom(r), chi.URLParam(r, "docID"))
	if err != nil {
		writeServiceError(w, err, "Failed to regenerate summary")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *APIHandler) TagsHandler(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.RegenerateTags(r.Context(), principalFrom(r), chi.URLParam(r, "docID"))
	if err != nil {
		writeServiceError(w, err, "Failed to regenerate tags")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := h.search.SearchLexical(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, err, "Failed to search documents")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

type QueryRequest struct {
	Query string `json:"query"`
}

func (h *APIHandler) SemanticSearchHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	hits, err := h.search.SearchSemantic(r.Context(), req.Query)
	if err != nil {
		writeServiceError(w, err, "Failed to run semantic search")
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

type QuestionRequest struct {
	Question string `json:"question"`
}

func (h *APIHandler) QAHandler(w http.ResponseWriter, r *http.Request) {
	var req QuestionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	answer, err := h.qa.Answer(r.Context(), req.Question)
	if err != nil {
		writeServiceError(w, err, "Failed to answer question")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (h *APIHandler) ActivityFeedHandler(w http.ResponseWriter, r *http.Request) {
	feed, err := h.documents.ActivityFeed(r.Context(), principalFrom(r))
	if err != nil {
		writeServiceError(w, err, "Failed to load activity feed")
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps core errors to status codes. Anything unrecognised is
// logged and reported as an internal error with fallback as the message.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "Document not found")
	case errors.Is(err, core.ErrForbidden):
		writeError(w, http.StatusForbidden, "Not authorized")
	case errors.Is(err, core.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, context.Canceled):
		logrus.Warnf("%s: request cancelled", fallback)
		writeError(w, http.StatusServiceUnavailable, fallback)
	default:
		logrus.Errorf("%s: %v", fallback, err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Error encoding response: %v", err)
	}
}
