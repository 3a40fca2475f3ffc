package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/saeid-a/TutorAppBack/internal/models"
)

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

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = "id, course_id, tutor_id, weekdays, start_min, end_min, capacity, enrolled_count, status, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var session models.Session
	var startMin, endMin int
	err := row.Scan(
		&session.ID,
		&session.CourseID,
		&session.TutorID,
		&session.Weekdays,
		&startMin,
		&endMin,
		&session.Capacity,
		&session.EnrolledCount,
		&session.Status,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	session.StartTime = models.MinuteOfDay(startMin)
	session.EndTime = models.MinuteOfDay(endMin)
	return &session, nil
}

func (r *SessionRepository) Create(ctx context.Context, input CreateSessionInput) (*models.Session, error) {
	query := fmt.Sprintf(`
		INSERT INTO sessions (course_id, tutor_id, weekdays, start_min, end_min, capacity, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'scheduled')
		RETURNING %s
	`, sessionColumns)

	return scanSession(r.db.QueryRow(
		ctx,
		query,
		input.CourseID,
		input.TutorID,
		input.Weekdays,
		int(input.StartTime),
		int(input.EndTime),
		input.Capacity,
	))
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE id = $1
	`, sessionColumns)
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

// Update rewrites the schedulable fields of a session. Callers run the
// conflict check first, inside the same advisory-locked transaction.
func (r *SessionRepository) Update(ctx context.Context, sessionID int64, input UpdateSessionInput) (*models.Session, error) {
	query := fmt.Sprintf(`
		UPDATE sessions
		SET weekdays = $2, start_min = $3, end_min = $4, capacity = $5, updated_at = NOW()
		WHERE id = $1 AND enrolled_count <= $5
		RETURNING %s
	`, sessionColumns)

	return scanSession(r.db.QueryRow(
		ctx,
		query,
		sessionID,
		input.Weekdays,
		int(input.StartTime),
		int(input.EndTime),
		input.Capacity,
	))
}

func (r *SessionRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	sessionID int64,
	currentStatus string,
	nextStatus string,
) (*models.Session, error) {
	query := fmt.Sprintf(`
		UPDATE sessions
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING %s
	`, sessionColumns)
	return scanSession(r.db.QueryRow(ctx, query, sessionID, currentStatus, nextStatus))
}

func (r *SessionRepository) ListByTutor(ctx context.Context, tutorID int64, status string) ([]models.Session, error) {
	return r.list(ctx, "tutor_id = $1", tutorID, status)
}

func (r *SessionRepository) ListByCourse(ctx context.Context, courseID int64, status string) ([]models.Session, error) {
	return r.list(ctx, "course_id = $1", courseID, status)
}

func (r *SessionRepository) list(ctx context.Context, ownerClause string, ownerID int64, status string) ([]models.Session, error) {
	args := []any{ownerID}
	whereParts := []string{ownerClause}
	if status = strings.TrimSpace(status); status != "" {
		args = append(args, status)
		whereParts = append(whereParts, fmt.Sprintf("status = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE %s
		ORDER BY start_min ASC, id ASC
	`, sessionColumns, strings.Join(whereParts, " AND "))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListByStudent returns the sessions a student holds a confirmed
// enrollment in.
func (r *SessionRepository) ListByStudent(ctx context.Context, studentID int64) ([]models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions s
		WHERE EXISTS (
			SELECT 1
			FROM enrollments e
			WHERE e.session_id = s.id
			  AND e.student_id = $1
			  AND e.status = 'confirmed'
		)
		ORDER BY s.start_min ASC, s.id ASC
	`, sessionColumns)

	rows, err := r.db.Query(ctx, query, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
