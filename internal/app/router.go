package app

import (
	"net/http"
	"time"

	"ebslms/internal/accreditation"
	"ebslms/internal/app/observability"
	"ebslms/internal/attempt"
	"ebslms/internal/auth"
	"ebslms/internal/certificate"
	"ebslms/internal/course"
	"ebslms/internal/enrollment"
	"ebslms/internal/forum"
	"ebslms/internal/preference"
	"ebslms/internal/progress"
	"ebslms/internal/question"
	"ebslms/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Handlers groups everything NewRouter mounts. Built by Build, or by tests.
type Handlers struct {
	Collector *observability.Collector
	Health    map[string]observability.Pinger

	Auth          *auth.Handler
	User          *user.Handler
	Course        *course.Handler
	Question      *question.Handler
	Attempt       *attempt.Handler
	Accreditation *accreditation.Handler
	Enrollment    *enrollment.Handler
	Certificate   *certificate.Handler
	Forum         *forum.Handler
	Preference    *preference.Handler
	Progress      *progress.Handler
}

func NewRouter(cfg Config, h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.Collector.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", csrfHeaderName},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	limiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)
	privileged := h.Auth.RequireRoles(auth.RoleCoordinator, auth.RoleAdmin)

	r.Get("/healthz", h.Collector.HealthHandler(h.Health))
	r.Get("/metrics", h.Collector.MetricsHandler)

	r.Route("/api", func(api chi.Router) {
		// Public endpoints.
		api.With(RateLimitMiddleware(limiter)).Get("/certificados/{certificateID}/verificar", h.Certificate.Verify)
		api.With(auth.RequireInternalKey(cfg.InternalKeyHash)).Post("/internal/certificados/{enrollmentID}/emitir", h.Certificate.Issue)

		api.Route("/auth", func(ar chi.Router) {
			ar.Use(RateLimitMiddleware(limiter))
			ar.Post("/tokens", h.Auth.SetTokens)
			ar.Get("/tokens", h.Auth.Tokens)
			ar.With(CSRFMiddleware(cfg.CSRFEnforced)).Post("/logout", h.Auth.Logout)
			ar.With(h.Auth.RequireAuth).Get("/profile", h.Auth.Profile)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(h.Auth.RequireAuth)
			secure.Use(CSRFMiddleware(cfg.CSRFEnforced))

			secure.Get("/usuarios/me", h.User.Me)
			secure.Put("/usuarios/me", h.User.UpdateMe)
			secure.Get("/usuarios/{userID}", h.User.Get)
			secure.With(privileged).Get("/usuarios", h.User.List)

			secure.Route("/cursos", func(cr chi.Router) {
				cr.Get("/", h.Course.ListCourses)
				cr.With(privileged).Post("/", h.Course.CreateCourse)
				cr.Get("/{courseID}", h.Course.GetCourse)
				cr.With(privileged).Put("/{courseID}", h.Course.UpdateCourse)
				cr.Get("/{courseID}/modulos", h.Course.ListCourseModules)
				cr.Get("/{courseID}/guias-estudio", h.Course.ListGuides)
				cr.With(privileged).Post("/{courseID}/guias-estudio", h.Course.CreateGuide)
				cr.Get("/{courseID}/examen-final", h.Question.GetCourseExam)
				cr.Post("/{courseID}/inscribir", h.Enrollment.Enroll)
			})

			secure.Route("/modulos", func(mr chi.Router) {
				mr.Get("/", h.Course.ListModules)
				mr.With(privileged).Post("/", h.Course.CreateModule)
				mr.Get("/{moduleID}", h.Course.GetModule)
				mr.With(privileged).Put("/{moduleID}", h.Course.UpdateModule)
				mr.Get("/{moduleID}/lecciones", h.Course.ListModuleLessons)
				mr.Get("/{moduleID}/cursos", h.Course.ListModuleCourses)
				mr.With(privileged).Post("/{moduleID}/cursos", h.Course.AttachModule)
			})

			secure.Route("/lecciones", func(lr chi.Router) {
				lr.With(privileged).Post("/", h.Course.CreateLesson)
				lr.Get("/{lessonID}", h.Course.GetLesson)
				lr.With(privileged).Put("/{lessonID}", h.Course.UpdateLesson)
				lr.Get("/{lessonID}/contenidos", h.Course.ListContents)
			})

			secure.Route("/contenidos", func(cr chi.Router) {
				cr.Use(privileged)
				cr.Post("/", h.Course.CreateContent)
				cr.Put("/{contentID}", h.Course.UpdateContent)
				cr.Delete("/{contentID}", h.Course.DeleteContent)
			})

			secure.Route("/quizzes", func(qr chi.Router) {
				qr.With(privileged).Post("/", h.Question.CreateQuiz)
				qr.Get("/{quizID}", h.Question.GetQuiz)
				qr.With(privileged).Put("/{quizID}", h.Question.UpdateQuiz)
				qr.Post("/{quizID}/intentos", h.Attempt.StartQuiz)
				qr.Get("/{quizID}/intentos", h.Attempt.ListQuiz)
				qr.Put("/{quizID}/intentos/{attemptID}", h.Attempt.SubmitQuiz)
			})

			secure.Route("/examenes-finales", func(er chi.Router) {
				er.With(privileged).Post("/", h.Question.CreateExam)
				er.Get("/{examID}", h.Question.GetExam)
				er.With(privileged).Put("/{examID}", h.Question.UpdateExam)
				er.Post("/{examID}/intentos", h.Attempt.StartExam)
				er.Get("/{examID}/intentos", h.Attempt.ListExam)
				er.Put("/{examID}/intentos/{attemptID}", h.Attempt.SubmitExam)
			})

			secure.Route("/preguntas", func(pr chi.Router) {
				pr.Use(privileged)
				pr.Post("/", h.Question.CreateQuestion)
				pr.Put("/{questionID}", h.Question.UpdateQuestion)
				pr.Delete("/{questionID}", h.Question.DeleteQuestion)
			})

			secure.Get("/intentos/{attemptID}", h.Attempt.Get)

			secure.Get("/mis-cursos", h.Enrollment.ListMine)
			secure.Get("/inscripciones/{enrollmentID}", h.Enrollment.Get)
			secure.Post("/inscripciones/{enrollmentID}/pausar", h.Enrollment.Pause)
			secure.Post("/inscripciones/{enrollmentID}/reanudar", h.Enrollment.Resume)

			secure.Route("/certificados", func(cr chi.Router) {
				cr.Get("/", h.Certificate.ListMine)
				cr.Post("/", h.Certificate.Request)
				cr.Get("/inscripciones/{enrollmentID}", h.Certificate.ListByEnrollment)
				cr.Get("/{certificateID}", h.Certificate.Get)
				cr.Get("/{certificateID}/estado", h.Certificate.Status)
			})

			secure.Route("/foro", func(fr chi.Router) {
				fr.Get("/cursos/{courseID}/lecciones/{lessonID}/comentarios", h.Forum.List)
				fr.Post("/cursos/{courseID}/lecciones/{lessonID}/comentarios", h.Forum.Create)
				fr.Put("/comentarios/{commentID}", h.Forum.Update)
				fr.Delete("/comentarios/{commentID}", h.Forum.Delete)
			})

			secure.Get("/preferencias", h.Preference.Get)
			secure.Put("/preferencias", h.Preference.Update)

			secure.Route("/progreso", func(pr chi.Router) {
				pr.Post("/lecciones/{lessonID}/completar", h.Progress.CompleteLesson)
				pr.Get("/cursos/{courseID}", h.Progress.Course)
				pr.Get("/cursos/{courseID}/metricas", h.Progress.CourseMetrics)
				pr.Get("/metricas-generales", h.Progress.GeneralMetrics)
			})

			secure.Route("/admin", func(admin chi.Router) {
				admin.Use(h.Auth.RequireRoles(auth.RoleAdmin))

				admin.Get("/usuarios", h.User.List)
				admin.Get("/usuarios/export", h.User.Export)
				admin.Put("/usuarios/{userID}/roles", h.User.SetRoles)

				admin.Get("/intentos", h.Attempt.AdminList)
				admin.Get("/intentos/export", h.Attempt.Export)
				admin.Put("/intentos/{attemptID}/permitir-nuevo", h.Attempt.AllowNew)

				admin.Get("/inscripciones", h.Enrollment.AdminList)
				admin.Put("/inscripciones/{enrollmentID}/estado", h.Enrollment.ChangeStatus)

				admin.Get("/reglas-acreditacion", h.Accreditation.List)
				admin.Post("/reglas-acreditacion", h.Accreditation.Create)
				admin.Get("/reglas-acreditacion/{ruleID}", h.Accreditation.Get)
				admin.Put("/reglas-acreditacion/{ruleID}", h.Accreditation.Update)
				admin.Delete("/reglas-acreditacion/{ruleID}", h.Accreditation.Delete)
			})
		})
	})

	return r
}
