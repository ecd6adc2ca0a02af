package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", apiHandler.RegisterHandler)
			r.Post("/login", apiHandler.LoginHandler)
		})

		r.Route("/docs", func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/", apiHandler.CreateDocumentHandler)
			r.Get("/", apiHandler.ListDocumentsHandler)

			// Static segments are matched before {docID}.
			r.Get("/search", apiHandler.SearchHandler)
			r.Post("/semantic-search", apiHandler.SemanticSearchHandler)
			r.Post("/qa", apiHandler.QAHandler)
			r.Get("/activity/feed", apiHandler.ActivityFeedHandler)

			r.Route("/{docID}", func(r chi.Router) {
				r.Get("/", apiHandler.GetDocumentHandler)
				r.Put("/", apiHandler.UpdateDocumentHandler)
				r.Delete("/", apiHandler.DeleteDocumentHandler)
				r.Post("/summarize", apiHandler.SummarizeHandler)
				r.Post("/tags", apiHandler.TagsHandler)
			})
		})
	})

	return r
}
