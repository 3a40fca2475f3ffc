package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/TutorAppBack/internal/models"
)

// ErrSessionFull is returned when a finalize transaction would push
// enrolled_count past capacity. The ledger normally prevents this; the SQL
// guard is the durable backstop.
var ErrSessionFull = errors.New("session full")

const enrollmentColumns = "id, session_id, student_id, status, payment_ref, created_at, updated_at"

// EnrollmentRepository holds the pool rather than a DBTX because Confirm
// and Refund must update the enrollment row and the session counter in one
// transaction.
type EnrollmentRepository struct {
	db *pgxpool.Pool
}

func NewEnrollmentRepository(db *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := row.Scan(
		&enrollment.ID,
		&enrollment.SessionID,
		&enrollment.StudentID,
		&enrollment.Status,
		&enrollment.PaymentRef,
		&enrollment.CreatedAt,
		&enrollment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (r *EnrollmentRepository) CreatePending(ctx context.Context, sessionID, studentID int64) (*models.Enrollment, error) {
	query := fmt.Sprintf(`
		INSERT INTO enrollments (session_id, student_id, status)
		VALUES ($1, $2, 'pending_payment')
		RETURNING %s
	`, enrollmentColumns)
	return scanEnrollment(r.db.QueryRow(ctx, query, sessionID, studentID))
}

func (r *EnrollmentRepository) GetByID(ctx context.Context, enrollmentID int64) (*models.Enrollment, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM enrollments
		WHERE id = $1
	`, enrollmentColumns)
	return scanEnrollment(r.db.QueryRow(ctx, query, enrollmentID))
}

// FindActive returns the single non-terminal enrollment for the
// (session, student) pair, or pgx.ErrNoRows.
func (r *EnrollmentRepository) FindActive(ctx context.Context, sessionID, studentID int64) (*models.Enrollment, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM enrollments
		WHERE session_id = $1
		  AND student_id = $2
		  AND status IN ('pending_payment', 'confirmed')
		ORDER BY id DESC
		LIMIT 1
	`, enrollmentColumns)
	return scanEnrollment(r.db.QueryRow(ctx, query, sessionID, studentID))
}

func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM enrollments
		WHERE student_id = $1
		ORDER BY id DESC
	`, enrollmentColumns)

	rows, err := r.db.Query(ctx, query, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	enrollments := make([]models.Enrollment, 0)
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, *enrollment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return enrollments, nil
}

// ListStalePending returns pending_payment enrollments not touched since
// the cutoff. The sweeper feeds these back through the release path.
func (r *EnrollmentRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM enrollments
		WHERE status = 'pending_payment'
		  AND updated_at < $1
		ORDER BY id ASC
	`, enrollmentColumns)

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	enrollments := make([]models.Enrollment, 0)
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, *enrollment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return enrollments, nil
}

// Confirm moves a pending_payment enrollment to confirmed and bumps the
// session's enrolled_count in the same transaction. pgx.ErrNoRows means the
// enrollment was no longer pending (for example already swept).
func (r *EnrollmentRepository) Confirm(ctx context.Context, enrollmentID int64, paymentRef string) (*models.Enrollment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := fmt.Sprintf(`
		UPDATE enrollments
		SET status = 'confirmed', payment_ref = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending_payment'
		RETURNING %s
	`, enrollmentColumns)
	enrollment, err := scanEnrollment(tx.QueryRow(ctx, query, enrollmentID, paymentRef))
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE sessions
		SET enrolled_count = enrolled_count + 1, updated_at = NOW()
		WHERE id = $1 AND enrolled_count < capacity
	`, enrollment.SessionID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrSessionFull
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// CancelPending moves a pending_payment enrollment to cancelled.
// pgx.ErrNoRows means someone else resolved it first.
func (r *EnrollmentRepository) CancelPending(ctx context.Context, enrollmentID int64) (*models.Enrollment, error) {
	query := fmt.Sprintf(`
		UPDATE enrollments
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending_payment'
		RETURNING %s
	`, enrollmentColumns)
	return scanEnrollment(r.db.QueryRow(ctx, query, enrollmentID))
}

// Refund moves a confirmed enrollment to refunded and releases its seat in
// the same transaction.
func (r *EnrollmentRepository) Refund(ctx context.Context, enrollmentID int64) (*models.Enrollment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := fmt.Sprintf(`
		UPDATE enrollments
		SET status = 'refunded', updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed'
		RETURNING %s
	`, enrollmentColumns)
	enrollment, err := scanEnrollment(tx.QueryRow(ctx, query, enrollmentID))
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE sessions
		SET enrolled_count = enrolled_count - 1, updated_at = NOW()
		WHERE id = $1 AND enrolled_count > 0
	`, enrollment.SessionID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("refund enrollment %d: session %d counter underflow", enrollmentID, enrollment.SessionID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return enrollment, nil
}
