package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/TutorAppBack/internal/config"
	"github.com/saeid-a/TutorAppBack/internal/handlers"
	"github.com/saeid-a/TutorAppBack/internal/middleware"
	"github.com/saeid-a/TutorAppBack/internal/repository"
	"github.com/saeid-a/TutorAppBack/internal/services"
	"go.uber.org/zap"
)

// RegisterRoutes wires repositories, services and handlers onto the app
// and returns the sweeper that owns reservation-TTL cleanup. The caller
// starts and stops it with the server lifecycle.
func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool, log *zap.Logger) *services.ReservationSweeper {
	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)

	ledger := services.NewReservationLedger(cfg.ReservationTTL)
	gateway := services.NewHTTPPaymentGateway(cfg.PaymentGatewayURL, cfg.PaymentGatewayKey)

	scheduleService := services.NewScheduleService(db, sessionRepo, userRepo, courseRepo)
	enrollmentService := services.NewEnrollmentService(
		sessionRepo,
		courseRepo,
		enrollmentRepo,
		gateway,
		ledger,
		log,
		cfg.PaymentTimeout,
	)
	sweeper := services.NewReservationSweeper(enrollmentService, cfg.SweepInterval, log)

	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret)
	courseHandler := handlers.NewCourseHandler(courseRepo)
	scheduleHandler := handlers.NewScheduleHandler(scheduleService)
	enrollmentHandler := handlers.NewEnrollmentHandler(enrollmentService)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	v1 := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	courses := v1.Group("/courses")
	courses.Post("/", courseHandler.CreateCourse)
	courses.Get("/", courseHandler.ListCourses)
	courses.Get("/:id", courseHandler.GetCourse)
	courses.Get("/:id/sessions", scheduleHandler.ListSessionsForCourse)

	sessions := v1.Group("/sessions")
	sessions.Post("/", scheduleHandler.CreateSession)
	sessions.Get("/:id", scheduleHandler.GetSession)
	sessions.Put("/:id", scheduleHandler.UpdateSession)
	sessions.Delete("/:id", scheduleHandler.CancelSession)
	sessions.Post("/:id/complete", scheduleHandler.CompleteSession)
	sessions.Post("/:id/enroll", enrollmentHandler.Enroll)

	v1.Get("/tutors/:id/sessions", scheduleHandler.ListSessionsForTutor)
	v1.Get("/students/me/sessions", scheduleHandler.ListMySessions)

	enrollments := v1.Group("/enrollments")
	enrollments.Get("/me", enrollmentHandler.ListMyEnrollments)
	enrollments.Delete("/:id", enrollmentHandler.CancelEnrollment)

	return sweeper
}
