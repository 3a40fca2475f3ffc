package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/TutorAppBack/internal/models"
	"github.com/saeid-a/TutorAppBack/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrReservationExpired = errors.New("reservation expired")
)

// resolveTimeout bounds the finalize/release writes that run on a context
// detached from the caller, so a client disconnect after payment cannot
// strand a reservation.
const resolveTimeout = 10 * time.Second

type sessionReader interface {
	GetByID(ctx context.Context, sessionID int64) (*models.Session, error)
}

type enrollmentStore interface {
	CreatePending(ctx context.Context, sessionID, studentID int64) (*models.Enrollment, error)
	GetByID(ctx context.Context, enrollmentID int64) (*models.Enrollment, error)
	FindActive(ctx context.Context, sessionID, studentID int64) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Enrollment, error)
	Confirm(ctx context.Context, enrollmentID int64, paymentRef string) (*models.Enrollment, error)
	CancelPending(ctx context.Context, enrollmentID int64) (*models.Enrollment, error)
	Refund(ctx context.Context, enrollmentID int64) (*models.Enrollment, error)
}

// EnrollmentService coordinates the seat-reservation and
// payment-confirmation workflow. Reserve, finalize and release each run
// under the session's ledger lock; the payment gateway round trip never
// does.
type EnrollmentService struct {
	sessions       sessionReader
	courses        courseReader
	enrollments    enrollmentStore
	gateway        PaymentGateway
	ledger         *ReservationLedger
	logger         *zap.Logger
	paymentTimeout time.Duration
}

func NewEnrollmentService(
	sessions sessionReader,
	courses courseReader,
	enrollments enrollmentStore,
	gateway PaymentGateway,
	ledger *ReservationLedger,
	logger *zap.Logger,
	paymentTimeout time.Duration,
) *EnrollmentService {
	return &EnrollmentService{
		sessions:       sessions,
		courses:        courses,
		enrollments:    enrollments,
		gateway:        gateway,
		ledger:         ledger,
		logger:         logger,
		paymentTimeout: paymentTimeout,
	}
}

// Enroll admits a student into a session seat, gated by payment. The call
// is idempotent per (session, student): a confirmed enrollment is returned
// unchanged without charging again, and a pending one is resumed rather
// than duplicated.
func (s *EnrollmentService) Enroll(ctx context.Context, sessionID, studentID int64, details models.PaymentDetails) (*models.Enrollment, error) {
	if sessionID <= 0 || studentID <= 0 {
		return nil, ErrInvalidInput
	}

	enrollment, session, err := s.reserve(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusConfirmed {
		return enrollment, nil
	}

	course, err := s.courses.GetByID(ctx, session.CourseID)
	if err != nil {
		s.release(sessionID, enrollment.ID)
		return nil, err
	}

	payCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	result, err := s.gateway.Process(payCtx, enrollmentPaymentKey(enrollment.ID), course.Price, details)
	if err != nil {
		s.release(sessionID, enrollment.ID)
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}
	if !result.Success {
		s.release(sessionID, enrollment.ID)
		if result.Reason != "" {
			return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, result.Reason)
		}
		return nil, ErrPaymentFailed
	}

	return s.finalize(sessionID, enrollment.ID, result.Reference)
}

// reserve is the atomic admission step: under the session's lock it either
// returns the student's existing active enrollment or, when
// reserved + enrolled < capacity, creates a pending one holding a seat.
func (s *EnrollmentService) reserve(ctx context.Context, sessionID, studentID int64) (*models.Enrollment, *models.Session, error) {
	seats := s.ledger.lockSession(sessionID)
	defer s.ledger.unlockSession(sessionID, seats)

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.Status != models.SessionStatusScheduled {
		return nil, nil, ErrInvalidStateTransition
	}

	now := time.Now()
	existing, err := s.enrollments.FindActive(ctx, sessionID, studentID)
	switch {
	case err == nil && existing.Status == models.EnrollmentStatusConfirmed:
		return existing, session, nil
	case err == nil:
		// Resume an abandoned pending flow; re-acquire the hold if it
		// lapsed or was lost to a restart.
		if !seats.holdActive(existing.ID, now) {
			if seats.reserved(now)+session.EnrolledCount >= session.Capacity {
				return nil, nil, ErrCapacityExceeded
			}
			seats.hold(existing.ID, now.Add(s.ledger.ttl))
		}
		return existing, session, nil
	case errors.Is(err, pgx.ErrNoRows):
		if seats.reserved(now)+session.EnrolledCount >= session.Capacity {
			return nil, nil, ErrCapacityExceeded
		}
		created, err := s.enrollments.CreatePending(ctx, sessionID, studentID)
		if err != nil {
			return nil, nil, err
		}
		seats.hold(created.ID, now.Add(s.ledger.ttl))
		return created, session, nil
	default:
		return nil, nil, err
	}
}

// finalize moves the seat from reserved to enrolled once payment
// succeeded. The store bumps enrolled_count and confirms the enrollment in
// one transaction; the hold is dropped only after that commit so the
// capacity check never sees a gap.
func (s *EnrollmentService) finalize(sessionID, enrollmentID int64, paymentRef string) (*models.Enrollment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	seats := s.ledger.lockSession(sessionID)
	defer s.ledger.unlockSession(sessionID, seats)

	confirmed, err := s.enrollments.Confirm(ctx, enrollmentID, paymentRef)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// The sweeper resolved this reservation while payment was in
		// flight; the enrollment is already cancelled.
		seats.release(enrollmentID)
		return nil, ErrReservationExpired
	case errors.Is(err, repository.ErrSessionFull):
		if _, cancelErr := s.enrollments.CancelPending(ctx, enrollmentID); cancelErr != nil && !errors.Is(cancelErr, pgx.ErrNoRows) {
			s.logger.Error("cancel enrollment after full session", zap.Int64("enrollment_id", enrollmentID), zap.Error(cancelErr))
		}
		seats.release(enrollmentID)
		return nil, ErrCapacityExceeded
	case err != nil:
		// Transient commit failure. Keep the hold and the pending row:
		// the caller can retry Enroll and resume this reservation.
		return nil, err
	}

	seats.release(enrollmentID)
	return confirmed, nil
}

// release resolves a reservation whose payment failed or never finished:
// the enrollment goes to cancelled and the seat returns to the pool.
func (s *EnrollmentService) release(sessionID, enrollmentID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	seats := s.ledger.lockSession(sessionID)
	defer s.ledger.unlockSession(sessionID, seats)

	if _, err := s.enrollments.CancelPending(ctx, enrollmentID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		s.logger.Error("release reservation", zap.Int64("enrollment_id", enrollmentID), zap.Error(err))
	}
	seats.release(enrollmentID)
}

// CancelEnrollment refunds a confirmed enrollment and frees its seat for
// future Enroll calls. Only confirmed enrollments can be cancelled.
func (s *EnrollmentService) CancelEnrollment(ctx context.Context, enrollmentID, actorID int64, role string) (*models.Enrollment, error) {
	if enrollmentID <= 0 {
		return nil, ErrInvalidInput
	}

	enrollment, err := s.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if role == models.RoleStudent && enrollment.StudentID != actorID {
		return nil, ErrForbidden
	}
	if enrollment.Status != models.EnrollmentStatusConfirmed {
		return nil, ErrInvalidStateTransition
	}

	refunded, err := s.enrollments.Refund(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}
	return refunded, nil
}

func (s *EnrollmentService) GetEnrollment(ctx context.Context, enrollmentID int64) (*models.Enrollment, error) {
	return s.enrollments.GetByID(ctx, enrollmentID)
}

func (s *EnrollmentService) ListEnrollmentsForStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error) {
	return s.enrollments.ListByStudent(ctx, studentID)
}

// ReleaseExpired forces the release path for enrollments stuck in
// pending_payment past the reservation TTL. The sweeper calls it
// periodically; it is safe to run concurrently with live Enroll calls
// because each release takes the session's lock and the status
// compare-and-set decides the winner.
func (s *EnrollmentService) ReleaseExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.ledger.ttl)
	stale, err := s.enrollments.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, enrollment := range stale {
		seats := s.ledger.lockSession(enrollment.SessionID)
		_, err := s.enrollments.CancelPending(ctx, enrollment.ID)
		if err == nil {
			seats.release(enrollment.ID)
			released++
		} else if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Error("sweep stale reservation",
				zap.Int64("enrollment_id", enrollment.ID),
				zap.Int64("session_id", enrollment.SessionID),
				zap.Error(err),
			)
		}
		s.ledger.unlockSession(enrollment.SessionID, seats)
	}
	return released, nil
}
