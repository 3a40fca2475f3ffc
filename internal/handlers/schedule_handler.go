package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/TutorAppBack/internal/models"
	"github.com/saeid-a/TutorAppBack/internal/services"
)

type scheduleApplicationService interface {
	CreateSession(ctx context.Context, actorID int64, role string, input services.CreateSessionInput) (*models.Session, error)
	UpdateSession(ctx context.Context, actorID int64, role string, sessionID int64, input services.UpdateSessionInput) (*models.Session, error)
	CancelSession(ctx context.Context, actorID int64, role string, sessionID int64) (*models.Session, error)
	CompleteSession(ctx context.Context, actorID int64, role string, sessionID int64) (*models.Session, error)
	GetSession(ctx context.Context, sessionID int64) (*models.Session, error)
	ListSessionsForTutor(ctx context.Context, tutorID int64, status string) ([]models.Session, error)
	ListSessionsForCourse(ctx context.Context, courseID int64, status string) ([]models.Session, error)
	ListSessionsForStudent(ctx context.Context, studentID int64) ([]models.Session, error)
}

type ScheduleHandler struct {
	service scheduleApplicationService
}

func NewScheduleHandler(service *services.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: service}
}

type sessionRequest struct {
	CourseID  int64    `json:"course_id" validate:"required,gt=0"`
	TutorID   int64    `json:"tutor_id" validate:"required,gt=0"`
	Weekdays  []string `json:"weekdays" validate:"required,min=1"`
	StartTime string   `json:"start_time" validate:"required"`
	EndTime   string   `json:"end_time" validate:"required"`
	Capacity  int      `json:"capacity" validate:"required,gte=1"`
}

type updateSessionRequest struct {
	Weekdays  []string `json:"weekdays" validate:"required,min=1"`
	StartTime string   `json:"start_time" validate:"required"`
	EndTime   string   `json:"end_time" validate:"required"`
	Capacity  int      `json:"capacity" validate:"required,gte=1"`
}

func scheduleActor(c *fiber.Ctx) (int64, string, error) {
	role, ok := c.Locals("role").(string)
	if !ok || (role != models.RoleAdmin && role != models.RoleTutor) {
		return 0, "", errors.New("forbidden")
	}
	actorID, err := parseActorID(c)
	if err != nil {
		return 0, "", err
	}
	return actorID, role, nil
}

func (h *ScheduleHandler) CreateSession(c *fiber.Ctx) error {
	actorID, role, err := scheduleActor(c)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	var req sessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	startTime, err := models.ParseMinuteOfDay(req.StartTime)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "start_time must be HH:MM"})
	}
	endTime, err := models.ParseMinuteOfDay(req.EndTime)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "end_time must be HH:MM"})
	}

	session, err := h.service.CreateSession(c.Context(), actorID, role, services.CreateSessionInput{
		CourseID:  req.CourseID,
		TutorID:   req.TutorID,
		Weekdays:  req.Weekdays,
		StartTime: startTime,
		EndTime:   endTime,
		Capacity:  req.Capacity,
	})
	if err != nil {
		return mapScheduleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session": session})
}

func (h *ScheduleHandler) UpdateSession(c *fiber.Ctx) error {
	actorID, role, err := scheduleActor(c)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	var req updateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	startTime, err := models.ParseMinuteOfDay(req.StartTime)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "start_time must be HH:MM"})
	}
	endTime, err := models.ParseMinuteOfDay(req.EndTime)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "end_time must be HH:MM"})
	}

	session, err := h.service.UpdateSession(c.Context(), actorID, role, sessionID, services.UpdateSessionInput{
		Weekdays:  req.Weekdays,
		StartTime: startTime,
		EndTime:   endTime,
		Capacity:  req.Capacity,
	})
	if err != nil {
		return mapScheduleError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *ScheduleHandler) CancelSession(c *fiber.Ctx) error {
	actorID, role, err := scheduleActor(c)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.CancelSession(c.Context(), actorID, role, sessionID)
	if err != nil {
		return mapScheduleError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *ScheduleHandler) CompleteSession(c *fiber.Ctx) error {
	actorID, role, err := scheduleActor(c)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.CompleteSession(c.Context(), actorID, role, sessionID)
	if err != nil {
		return mapScheduleError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *ScheduleHandler) GetSession(c *fiber.Ctx) error {
	sessionID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.GetSession(c.Context(), sessionID)
	if err != nil {
		return mapScheduleError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *ScheduleHandler) ListSessionsForTutor(c *fiber.Ctx) error {
	tutorID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid tutor id"})
	}

	sessions, err := h.service.ListSessionsForTutor(c.Context(), tutorID, strings.TrimSpace(c.Query("status")))
	if err != nil {
		return mapScheduleError(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *ScheduleHandler) ListSessionsForCourse(c *fiber.Ctx) error {
	courseID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid course id"})
	}

	sessions, err := h.service.ListSessionsForCourse(c.Context(), courseID, strings.TrimSpace(c.Query("status")))
	if err != nil {
		return mapScheduleError(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions})
}

// ListMySessions returns the sessions the calling student holds a
// confirmed enrollment in.
func (h *ScheduleHandler) ListMySessions(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleStudent {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}
	studentID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessions, err := h.service.ListSessionsForStudent(c.Context(), studentID)
	if err != nil {
		return mapScheduleError(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions})
}

func mapScheduleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Requested slot conflicts with another session of this tutor"})
	case errors.Is(err, services.ErrInvalidStateTransition):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrTutorNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Tutor not found"})
	case errors.Is(err, services.ErrCourseNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Course not found"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process schedule request"})
	}
}
