package app

import (
	"database/sql"
	"net/http"

	"examprep/internal/app/observability"
	"examprep/internal/attempt"
	"examprep/internal/auth"
	"examprep/internal/catalog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	authSvc := auth.NewService(db, cfg.JWTSecret, cfg.TokenTTL())
	authHandler := auth.NewHandler(authSvc)

	catalogSvc := catalog.NewService(db)
	catalogHandler := catalog.NewHandler(catalogSvc)

	attemptSvc := attempt.NewService(db, catalogSvc)
	attemptHandler := attempt.NewHandler(attemptSvc)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	r.Get("/internal/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/auth/login", authHandler.Login)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)

			secure.Get("/categories", catalogHandler.ListCategories)
			secure.Get("/tests", catalogHandler.ListTests)

			secure.Post("/tests/{testID}/start", attemptHandler.Start)
			secure.Get("/attempts", attemptHandler.ListMine)
			secure.Get("/attempts/{attemptID}/questions", attemptHandler.Questions)
			secure.Put("/attempts/{attemptID}/answers/{questionID}", attemptHandler.SaveAnswer)
			secure.Post("/attempts/{attemptID}/finish", attemptHandler.Finish)
			secure.Get("/attempts/{attemptID}/result", attemptHandler.Result)
		})
	})

	return r
}
