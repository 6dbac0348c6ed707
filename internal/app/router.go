package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"quizdesk/internal/app/apiresp"
	"quizdesk/internal/app/observability"
	"quizdesk/internal/auth"
	"quizdesk/internal/events"
	"quizdesk/internal/question"
	"quizdesk/internal/quiz"
	"quizdesk/internal/report"
	"quizdesk/internal/selection"
	"quizdesk/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(cfg Config, db *sql.DB, sessions session.Store, publisher events.Publisher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", csrfHeaderName},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authSvc := auth.NewService(db, auth.ServiceConfig{
		JWTSecret:      cfg.JWTSecret,
		TokenTTL:       cfg.JWTTTL,
		BootstrapToken: cfg.BootstrapToken,
	})
	authHandler := auth.NewHandler(authSvc)

	bankSvc := question.NewService(db)
	bankHandler := question.NewHandler(bankSvc)

	quizSvc := quiz.NewService(db, quiz.ServiceConfig{
		Bank:          bankSvc,
		Sessions:      sessions,
		Events:        publisher,
		Selector:      selection.New(nil),
		Grace:         cfg.SessionGrace,
		DefaultLocale: cfg.DefaultLocale,
	})
	quizHandler := quiz.NewHandler(quizSvc)

	reportHandler := report.NewHandler(report.NewService(db))

	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)
	publicLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin*10, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.Get("/csrf", CSRFTokenHandler(cfg.Production()))

		api.Group(func(pub chi.Router) {
			pub.Use(RateLimitMiddleware(authLimiter))
			pub.Post("/bootstrap/init", authHandler.BootstrapInit)
			pub.Post("/auth/login", authHandler.Login)
		})

		api.Route("/public", func(pub chi.Router) {
			pub.Use(RateLimitMiddleware(publicLimiter))
			pub.Get("/quizzes/{id}", quizHandler.PublicQuiz)
			pub.Post("/quizzes/{id}/sessions", quizHandler.StartSession)
			pub.Get("/sessions/{sessionID}", quizHandler.GetSession)
			pub.Put("/sessions/{sessionID}/answers/{questionID}", quizHandler.SaveAnswer)
			pub.Post("/sessions/{sessionID}/submit", quizHandler.Submit)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireOwner)
			secure.Use(observability.TagOwner)

			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/owners", authHandler.CreateOwner)

			secure.Get("/sections", bankHandler.ListSections)
			secure.Post("/sections", bankHandler.CreateSection)
			secure.Put("/sections/{id}", bankHandler.UpdateSection)
			secure.Delete("/sections/{id}", bankHandler.DeleteSection)

			secure.Get("/bank/questions", bankHandler.ListBank)
			secure.Post("/bank/questions", bankHandler.CreateQuestion)
			secure.Post("/bank/questions/import", bankHandler.ImportXLSX)
			secure.Get("/bank/questions/import/template", bankHandler.ImportTemplate)
			secure.Get("/bank/questions/{id}", bankHandler.GetQuestion)
			secure.Put("/bank/questions/{id}", bankHandler.UpdateQuestion)
			secure.Delete("/bank/questions/{id}", bankHandler.DeleteQuestion)

			secure.Get("/quizzes", quizHandler.ListQuizzes)
			secure.Post("/quizzes", quizHandler.CreateQuiz)
			secure.Get("/quizzes/{id}", quizHandler.GetQuiz)
			secure.Put("/quizzes/{id}", quizHandler.UpdateQuiz)
			secure.Delete("/quizzes/{id}", quizHandler.DeleteQuiz)
			secure.Get("/quizzes/{id}/supply", quizHandler.PreviewSupply)
			secure.Get("/quizzes/{id}/submissions", quizHandler.ListSubmissions)
			secure.Post("/quizzes/{id}/recorrect", quizHandler.RecorrectQuiz)
			secure.Get("/quizzes/{id}/report", reportHandler.Summary)
			secure.Get("/quizzes/{id}/report/export", reportHandler.Export)

			secure.Get("/submissions/{submissionID}", quizHandler.GetSubmission)
			secure.Delete("/submissions/{submissionID}", quizHandler.DeleteSubmission)
			secure.Post("/submissions/{submissionID}/recorrect", quizHandler.Recorrect)
		})
	})

	return r
}
