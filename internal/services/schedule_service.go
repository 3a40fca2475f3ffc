package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/TutorAppBack/internal/models"
	"github.com/saeid-a/TutorAppBack/internal/repository"
)

var (
	ErrForbidden              = errors.New("forbidden")
	ErrConflict               = errors.New("conflict")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrTutorNotFound          = errors.New("tutor not found")
	ErrCourseNotFound         = errors.New("course not found")
)

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type courseReader interface {
	GetByID(ctx context.Context, id int64) (*models.Course, error)
}

type ScheduleService struct {
	db          *pgxpool.Pool
	sessionRepo *repository.SessionRepository
	userRepo    userReader
	courseRepo  courseReader
}

func NewScheduleService(
	db *pgxpool.Pool,
	sessionRepo *repository.SessionRepository,
	userRepo userReader,
	courseRepo courseReader,
) *ScheduleService {
	return &ScheduleService{
		db:          db,
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		courseRepo:  courseRepo,
	}
}

type CreateSessionInput struct {
	CourseID  int64
	TutorID   int64
	Weekdays  []string
	StartTime models.MinuteOfDay
	EndTime   models.MinuteOfDay
	Capacity  int
}

type UpdateSessionInput struct {
	Weekdays  []string
	StartTime models.MinuteOfDay
	EndTime   models.MinuteOfDay
	Capacity  int
}

func validateSlot(weekdays []string, start, end models.MinuteOfDay, capacity int) ([]string, error) {
	if start >= end || capacity < 1 {
		return nil, ErrInvalidInput
	}
	normalized, err := models.NormalizeWeekdays(weekdays)
	if err != nil || len(normalized) == 0 {
		return nil, ErrInvalidInput
	}
	return normalized, nil
}

func canManageSchedule(role string, actorID, tutorID int64) bool {
	if role == models.RoleAdmin {
		return true
	}
	return role == models.RoleTutor && actorID == tutorID
}

func (s *ScheduleService) CreateSession(ctx context.Context, actorID int64, role string, input CreateSessionInput) (*models.Session, error) {
	if input.CourseID <= 0 || input.TutorID <= 0 {
		return nil, ErrInvalidInput
	}
	if !canManageSchedule(role, actorID, input.TutorID) {
		return nil, ErrForbidden
	}
	weekdays, err := validateSlot(input.Weekdays, input.StartTime, input.EndTime, input.Capacity)
	if err != nil {
		return nil, err
	}

	tutor, err := s.userRepo.GetByID(ctx, input.TutorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTutorNotFound
		}
		return nil, err
	}
	if tutor.Role != models.RoleTutor {
		return nil, ErrInvalidInput
	}

	if _, err := s.courseRepo.GetByID(ctx, input.CourseID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txSessionRepo := repository.NewSessionRepository(tx)

	// Serializes conflict check and commit per tutor; sessions of other
	// tutors stay fully concurrent.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", input.TutorID); err != nil {
		return nil, err
	}

	existing, err := txSessionRepo.ListByTutor(ctx, input.TutorID, models.SessionStatusScheduled)
	if err != nil {
		return nil, err
	}

	candidate := models.Session{
		CourseID:  input.CourseID,
		TutorID:   input.TutorID,
		Weekdays:  weekdays,
		StartTime: input.StartTime,
		EndTime:   input.EndTime,
		Status:    models.SessionStatusScheduled,
	}
	if conflicting := findConflict(candidate, existing); conflicting != nil {
		return nil, ErrConflict
	}

	session, err := txSessionRepo.Create(ctx, repository.CreateSessionInput{
		CourseID:  input.CourseID,
		TutorID:   input.TutorID,
		Weekdays:  weekdays,
		StartTime: input.StartTime,
		EndTime:   input.EndTime,
		Capacity:  input.Capacity,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ScheduleService) UpdateSession(ctx context.Context, actorID int64, role string, sessionID int64, input UpdateSessionInput) (*models.Session, error) {
	if sessionID <= 0 {
		return nil, ErrInvalidInput
	}
	weekdays, err := validateSlot(input.Weekdays, input.StartTime, input.EndTime, input.Capacity)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txSessionRepo := repository.NewSessionRepository(tx)

	session, err := txSessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !canManageSchedule(role, actorID, session.TutorID) {
		return nil, ErrForbidden
	}
	if session.Status != models.SessionStatusScheduled {
		return nil, ErrInvalidStateTransition
	}
	if input.Capacity < session.EnrolledCount {
		return nil, ErrInvalidInput
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", session.TutorID); err != nil {
		return nil, err
	}

	existing, err := txSessionRepo.ListByTutor(ctx, session.TutorID, models.SessionStatusScheduled)
	if err != nil {
		return nil, err
	}

	candidate := models.Session{
		ID:        session.ID,
		CourseID:  session.CourseID,
		TutorID:   session.TutorID,
		Weekdays:  weekdays,
		StartTime: input.StartTime,
		EndTime:   input.EndTime,
		Status:    models.SessionStatusScheduled,
	}
	if conflicting := findConflict(candidate, existing); conflicting != nil {
		return nil, ErrConflict
	}

	updated, err := txSessionRepo.Update(ctx, sessionID, repository.UpdateSessionInput{
		Weekdays:  weekdays,
		StartTime: input.StartTime,
		EndTime:   input.EndTime,
		Capacity:  input.Capacity,
	})
	if err != nil {
		// The update carries an enrolled_count <= capacity guard; losing
		// that race surfaces as no row updated.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidInput
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// CancelSession soft-cancels: the row stays for listings and the audit
// trail, but the session stops accepting enrollments and no longer counts
// for conflicts.
func (s *ScheduleService) CancelSession(ctx context.Context, actorID int64, role string, sessionID int64) (*models.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !canManageSchedule(role, actorID, session.TutorID) {
		return nil, ErrForbidden
	}
	cancelled, err := s.sessionRepo.UpdateStatusIfCurrent(ctx, sessionID, models.SessionStatusScheduled, models.SessionStatusCancelled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}
	return cancelled, nil
}

func (s *ScheduleService) CompleteSession(ctx context.Context, actorID int64, role string, sessionID int64) (*models.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !canManageSchedule(role, actorID, session.TutorID) {
		return nil, ErrForbidden
	}
	completed, err := s.sessionRepo.UpdateStatusIfCurrent(ctx, sessionID, models.SessionStatusScheduled, models.SessionStatusCompleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}
	return completed, nil
}

func (s *ScheduleService) GetSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	return s.sessionRepo.GetByID(ctx, sessionID)
}

func (s *ScheduleService) ListSessionsForTutor(ctx context.Context, tutorID int64, status string) ([]models.Session, error) {
	return s.sessionRepo.ListByTutor(ctx, tutorID, status)
}

func (s *ScheduleService) ListSessionsForCourse(ctx context.Context, courseID int64, status string) ([]models.Session, error) {
	return s.sessionRepo.ListByCourse(ctx, courseID, status)
}

func (s *ScheduleService) ListSessionsForStudent(ctx context.Context, studentID int64) ([]models.Session, error) {
	return s.sessionRepo.ListByStudent(ctx, studentID)
}
