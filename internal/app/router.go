package app

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"codequiz/internal/app/observability"
	"codequiz/internal/auth"
	"codequiz/internal/llm"
	"codequiz/internal/question"
	"codequiz/internal/report"
	"codequiz/internal/session"

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

	authSvc := auth.NewService(db, auth.ServiceConfig{
		SessionTTL: time.Duration(cfg.SessionTTLHours) * time.Hour,
	})
	authHandler := auth.NewHandler(authSvc)

	llmClient := llm.New(llm.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
	})

	questionSvc := question.NewService(db)
	questionHandler := question.NewHandler(questionSvc, question.NewGenerator(llmClient))

	settings := session.NewSettingsService(db)
	sessionSvc := session.NewService(session.NewPGStore(db), questionSvc, settings)
	sessionHandler := session.NewHandler(sessionSvc, questionSvc, settings)

	mailer, err := report.NewMailer(report.MailerConfig{
		Addr:     cfg.SMTPAddr(),
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		log.Printf("smtp disabled: %v", err)
	}
	reportSvc := report.NewService(db, sessionSvc, authSvc, llmClient, mailer)
	reportHandler := report.NewHandler(reportSvc)

	loginLimiter := NewIPRateLimiter(cfg.RateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))

		api.Group(func(public chi.Router) {
			public.Use(RateLimitMiddleware(loginLimiter))
			public.Post("/auth/login", authHandler.Login)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Post("/sessions/start", sessionHandler.Start)
			secure.Get("/sessions/current", sessionHandler.Current)
			secure.Get("/sessions/{id}", sessionHandler.Get)
			secure.Put("/sessions/{id}/answers/{questionKey}", sessionHandler.SaveAnswer)
			secure.Post("/sessions/{id}/submit", sessionHandler.Submit)

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))

				admin.Post("/admin/question-sets/generate", questionHandler.Generate)
				admin.Post("/admin/question-sets", questionHandler.Save)
				admin.Get("/admin/question-sets", questionHandler.List)
				admin.Get("/admin/question-sets/stats", questionHandler.Stats)
				admin.Delete("/admin/question-sets/{id}", questionHandler.Delete)
				admin.Delete("/admin/question-sets", questionHandler.DeleteAll)

				admin.Post("/admin/students", authHandler.CreateStudent)
				admin.Get("/admin/students", authHandler.ListStudents)
				admin.Delete("/admin/students/{id}", authHandler.DeleteStudent)
				admin.Get("/admin/students/export", authHandler.ExportStudents)
				admin.Post("/admin/students/import", authHandler.ImportStudents)

				admin.Get("/admin/results", reportHandler.ListResults)
				admin.Get("/admin/results/export", reportHandler.ExportResults)
				admin.Post("/admin/sessions/{id}/grade-coding", sessionHandler.GradeCoding)
				admin.Post("/admin/sessions/{id}/feedback", reportHandler.GenerateFeedback)
				admin.Post("/admin/sessions/{id}/email-report", reportHandler.EmailReport)
				admin.Delete("/admin/sessions/{id}", sessionHandler.Delete)

				admin.Get("/admin/settings/contest", sessionHandler.GetSettings)
				admin.Put("/admin/settings/contest", sessionHandler.UpdateSettings)
			})
		})
	})

	return r
}
