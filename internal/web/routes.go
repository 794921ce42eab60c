package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/rollcall/rollcall/internal/web/handlers"
	"github.com/rollcall/rollcall/internal/web/middleware"
)

func (s *Server) setupRoutes(tokens *middleware.TokenManager, deps Deps) {
	authHandler := handlers.NewAuthHandler(deps.Users, tokens)
	subjectsHandler := handlers.NewSubjectsHandler(deps.Subjects, deps.Extractor, s.config.Matching.Threshold)
	attendanceHandler := handlers.NewAttendanceHandler(deps.Engine, deps.Ledger, deps.Subjects)
	s.subjects = subjectsHandler

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Token issuance is the only unauthenticated endpoint besides health.
		r.Post("/auth/token", authHandler.Token)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(tokens))

			// Subjects
			r.Get("/subjects", subjectsHandler.List)
			r.Post("/subjects", subjectsHandler.Create)
			r.Post("/subjects/check-duplicate", subjectsHandler.CheckDuplicate)
			r.Get("/subjects/{id}", subjectsHandler.Get)
			r.Put("/subjects/{id}", subjectsHandler.Update)
			r.Delete("/subjects/{id}", subjectsHandler.Delete)
			r.Post("/subjects/{id}/enroll", subjectsHandler.Enroll)
			r.Get("/subjects/{id}/attendance", attendanceHandler.ListBySubject)

			// Attendance
			r.Post("/attendance/recognize", attendanceHandler.Recognize)
			r.Get("/attendance", attendanceHandler.ListByDay)
		})
	})
}
