package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/TutorAppBack/internal/models"
	"github.com/saeid-a/TutorAppBack/internal/repository"
	"go.uber.org/zap"
)

// memEnrollmentStore mimics the transactional guarantees of the real
// store: status changes are compare-and-set, and Confirm only lands while
// the session has spare capacity.
type memEnrollmentStore struct {
	mu          sync.Mutex
	nextID      int64
	sessions    map[int64]*models.Session
	enrollments map[int64]*models.Enrollment
	confirmErr  error
}

func newMemEnrollmentStore(sessions ...*models.Session) *memEnrollmentStore {
	store := &memEnrollmentStore{
		sessions:    make(map[int64]*models.Session),
		enrollments: make(map[int64]*models.Enrollment),
	}
	for _, session := range sessions {
		store.sessions[session.ID] = session
	}
	return store
}

func (m *memEnrollmentStore) GetByIDSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *session
	return &copied, nil
}

func (m *memEnrollmentStore) CreatePending(ctx context.Context, sessionID, studentID int64) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	enrollment := &models.Enrollment{
		ID:        m.nextID,
		SessionID: sessionID,
		StudentID: studentID,
		Status:    models.EnrollmentStatusPendingPayment,
		UpdatedAt: time.Now(),
	}
	m.enrollments[enrollment.ID] = enrollment
	copied := *enrollment
	return &copied, nil
}

func (m *memEnrollmentStore) GetByID(ctx context.Context, enrollmentID int64) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	enrollment, ok := m.enrollments[enrollmentID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *enrollment
	return &copied, nil
}

func (m *memEnrollmentStore) FindActive(ctx context.Context, sessionID, studentID int64) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Enrollment
	for _, enrollment := range m.enrollments {
		if enrollment.SessionID != sessionID || enrollment.StudentID != studentID {
			continue
		}
		if enrollment.Status != models.EnrollmentStatusPendingPayment && enrollment.Status != models.EnrollmentStatusConfirmed {
			continue
		}
		if latest == nil || enrollment.ID > latest.ID {
			latest = enrollment
		}
	}
	if latest == nil {
		return nil, pgx.ErrNoRows
	}
	copied := *latest
	return &copied, nil
}

func (m *memEnrollmentStore) ListByStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Enrollment
	for _, enrollment := range m.enrollments {
		if enrollment.StudentID == studentID {
			out = append(out, *enrollment)
		}
	}
	return out, nil
}

func (m *memEnrollmentStore) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Enrollment
	for _, enrollment := range m.enrollments {
		if enrollment.Status == models.EnrollmentStatusPendingPayment && enrollment.UpdatedAt.Before(cutoff) {
			out = append(out, *enrollment)
		}
	}
	return out, nil
}

func (m *memEnrollmentStore) Confirm(ctx context.Context, enrollmentID int64, paymentRef string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		err := m.confirmErr
		m.confirmErr = nil
		return nil, err
	}
	enrollment, ok := m.enrollments[enrollmentID]
	if !ok || enrollment.Status != models.EnrollmentStatusPendingPayment {
		return nil, pgx.ErrNoRows
	}
	session := m.sessions[enrollment.SessionID]
	if session.EnrolledCount >= session.Capacity {
		return nil, repository.ErrSessionFull
	}
	session.EnrolledCount++
	enrollment.Status = models.EnrollmentStatusConfirmed
	enrollment.PaymentRef = &paymentRef
	enrollment.UpdatedAt = time.Now()
	copied := *enrollment
	return &copied, nil
}

func (m *memEnrollmentStore) CancelPending(ctx context.Context, enrollmentID int64) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	enrollment, ok := m.enrollments[enrollmentID]
	if !ok || enrollment.Status != models.EnrollmentStatusPendingPayment {
		return nil, pgx.ErrNoRows
	}
	enrollment.Status = models.EnrollmentStatusCancelled
	enrollment.UpdatedAt = time.Now()
	copied := *enrollment
	return &copied, nil
}

func (m *memEnrollmentStore) Refund(ctx context.Context, enrollmentID int64) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	enrollment, ok := m.enrollments[enrollmentID]
	if !ok || enrollment.Status != models.EnrollmentStatusConfirmed {
		return nil, pgx.ErrNoRows
	}
	session := m.sessions[enrollment.SessionID]
	if session.EnrolledCount > 0 {
		session.EnrolledCount--
	}
	enrollment.Status = models.EnrollmentStatusRefunded
	enrollment.UpdatedAt = time.Now()
	copied := *enrollment
	return &copied, nil
}

func (m *memEnrollmentStore) session(sessionID int64) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sessions[sessionID]
}

// sessionReaderFunc adapts the store to the session lookup the service
// needs.
type sessionReaderFunc func(ctx context.Context, sessionID int64) (*models.Session, error)

func (f sessionReaderFunc) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	return f(ctx, sessionID)
}

type stubCourseReader struct {
	course *models.Course
}

func (s *stubCourseReader) GetByID(ctx context.Context, id int64) (*models.Course, error) {
	if s.course == nil || s.course.ID != id {
		return nil, pgx.ErrNoRows
	}
	copied := *s.course
	return &copied, nil
}

type stubGateway struct {
	mu     sync.Mutex
	calls  atomic.Int64
	keys   []string
	result *PaymentResult
	err    error
}

func (s *stubGateway) Process(ctx context.Context, idempotencyKey string, amount float64, details models.PaymentDetails) (*PaymentResult, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.keys = append(s.keys, idempotencyKey)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &PaymentResult{Success: true, Reference: "pay_test"}, nil
}

func (s *stubGateway) sentKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func testSession(id int64, capacity int) *models.Session {
	return &models.Session{
		ID:        id,
		CourseID:  1,
		TutorID:   1,
		Weekdays:  []string{"monday"},
		StartTime: 9 * 60,
		EndTime:   10 * 60,
		Capacity:  capacity,
		Status:    models.SessionStatusScheduled,
	}
}

func newTestEnrollmentService(store *memEnrollmentStore, gateway PaymentGateway, ttl time.Duration) *EnrollmentService {
	courses := &stubCourseReader{course: &models.Course{ID: 1, Name: "Algebra", Price: 50}}
	return NewEnrollmentService(
		sessionReaderFunc(store.GetByIDSession),
		courses,
		store,
		gateway,
		NewReservationLedger(ttl),
		zap.NewNop(),
		time.Second,
	)
}

func TestEnrollConfirms(t *testing.T) {
	store := newMemEnrollmentStore(testSession(1, 5))
	gateway := &stubGateway{}
	svc := newTestEnrollmentService(store, gateway, time.Minute)

	enrollment, err := svc.Enroll(context.Background(), 1, 100, models.PaymentDetails{})
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if enrollment.Status != models.EnrollmentStatusConfirmed {
		t.Errorf("status = %q, want confirmed", enrollment.Status)
	}
	if enrollment.PaymentRef == nil || *enrollment.PaymentRef != "pay_test" {
		t.Errorf("payment ref = %v, want pay_test", enrollment.PaymentRef)
	}
	if got := store.session(1).EnrolledCount; got != 1 {
		t.Errorf("enrolled count = %d, want 1", got)
	}
}

func TestEnrollIdempotent(t *testing.T) {
	store := newMemEnrollmentStore(testSession(1, 5))
	gateway := &stubGateway{}
	svc := newTestEnrollmentService(store, gateway, time.Minute)

	first, err := svc.Enroll(context.Background(), 1, 100, models.PaymentDetails{})
	if err != nil {
		t.Fatalf("first Enroll() error = %v", err)
	}
	second, err := svc.Enroll(context.Background(), 1, 100, models.PaymentDetails{})
	if err != nil {
		t.Fatalf("second Enroll() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second enrollment id = %d, want %d", second.ID, first.ID)
	}
	if got := gateway.calls.Load(); got != 1 {
		t.Errorf("gateway calls = %d, want 1", got)
	}
	if got := store.session(1).EnrolledCount; got != 1 {
		t.Errorf("enrolled count = %d, want 1", got)
	}
}

func TestEnrollRetryReusesIdempotencyKey(t *testing.T) {
	store := newMemEnrollmentStore(testSession(1, 1))
	store.confirmErr = errors.New("connection reset")
	gateway := &stubGateway{}
	svc := newTestEnrollmentService(store, gateway, time.Minute)
	ctx := context.Background()

	// Payment lands but the confirm write fails transiently; the pending
	// reservation survives for a retry.
	if _, err := svc.Enroll(ctx, 1, 100, models.PaymentDetails{}); err == nil {
		t.Fatal("expected transient confirm failure to surface")
	}

	enrollment, err := svc.Enroll(ctx, 1, 100, models.PaymentDetails{})
	if err != nil {
		t.Fatalf("retry Enroll() error = %v", err)
	}
	if enrollment.Status != models.EnrollmentStatusConfirmed {
		t.Errorf("status = %q, want confirmed", enrollment.Status)
	}

	keys := gateway.sentKeys()
	if len(keys) != 2 {
		t.Fatalf("gateway calls = %d, want 2", len(keys))
	}
	if keys[0] != keys[1] {
		t.Errorf("retry sent a different idempotency key: %q vs %q", keys[0], keys[1])
	}
	if keys[0] != enrollmentPaymentKey(enrollment.ID) {
		t.Errorf("key = %q, want the one derived from enrollment %d", keys[0], enrollment.ID)
	}
}

func TestEnrollCapacityUnderContention(t *testing.T) {
	const capacity = 3
	const students = 10

	store := newMemEnrollmentStore(testSession(1, capacity))
	gateway := &stubGateway{}
	svc := newTestEnrollmentService(store, gateway, time.Minute)

	var wg sync.WaitGroup
	errs := make([]error, students)
	for i := 0; i < students; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Enroll(context.Background(), 1, int64(100+i), models.PaymentDetails{})
		}(i)
	}
	wg.Wait()

	confirmed, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			confirmed++
		case errors.Is(err, ErrCapacityExceeded):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if confirmed != capacity {
		t.Errorf("confirmed = %d, want %d", confirmed, capacity)
	}
	if rejected != students-capacity {
		t.Errorf("rejected = %d, want %d", rejected, students-capacity)
	}
	if got := store.session(1).EnrolledCount; got != capacity {
		t.Errorf("enrolled count = %d, want %d", got, capacity)
	}
}

func TestEnrollPaymentDeclined(t *testing.T) {
	store := newMemEnrollmentStore(testSession(1, 1))
	gateway := &stubGateway{result: &PaymentResult{Success: false, Reason: "card declined"}}
	svc := newTestEnrollmentService(store, gateway, time.Minute)

	_, err := svc.Enroll(context.Background(), 1, 100, models.PaymentDetails{})
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("Enroll() error = %v, want ErrPaymentFailed", err)
	}
	if got := store.session(1).EnrolledCount; got != 0 {
		t.Errorf("enrolled count = %d, want 0", got)
	}

	// The failed attempt must not pin the seat.
	gateway.result = nil
	enrollment, err := svc.Enroll(context.Background(), 1, 101, models.PaymentDetails{})
	if err != nil {
		t.Fatalf("Enroll() after declined payment error = %v", err)
	}
	if enrollment.Status != models.EnrollmentStatusConfirmed {
		t.Errorf("status = %q, want confirmed", enrollment.Status)
	}
}

func TestEnrollGatewayError(t *testing.T) {
	store := newMemEnrollmentStore(testSession(1, 1))
	gateway := &stubGateway{err: errors.New("gateway unreachable")}
	svc := newTestEnrollmentService(store, gateway, time.Minute)

	_, err := svc.Enroll(context.Background(), 1, 100, models.PaymentDetails{})
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("Enroll() error = %v, want ErrPaymentFailed", err)
	}
	if got := store.session(1).EnrolledCount; got != 0 {
		t.Errorf("enrolled count = %d, want 0", got)
	}
}

func TestEnrollSessionNotScheduled(t *testing.T) {
	session := testSession(1, 5)
	session.Status = models.SessionStatusCancelled
	store := newMemEnrollmentStore(session)
	svc := newTestEnrollmentService(store, &stubGateway{}, time.Minute)

	_, err := svc.Enroll(context.Background(), 1, 100, models.PaymentDetails{})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("Enroll() error = %v, want ErrInvalidStateTransition", err)
	}
}

func TestCancelEnrollmentFreesSeat(t *testing.T) {
	store := newMemEnrollmentStore(testSession(1, 2))
	svc := newTestEnrollmentService(store, &stubGateway{}, time.Minute)
	ctx := context.Background()

	first, err := svc.Enroll(ctx, 1, 100, models.PaymentDetails{})
	if err != nil {
		t.Fatalf("Enroll(student 100) error = %v", err)
	}
	if _, err := svc.Enroll(ctx, 1, 101, models.PaymentDetails{}); err != nil {
		t.Fatalf("Enroll(student 101) error = %v", err)
	}
	if _, err := svc.Enroll(ctx, 1, 102, models.PaymentDetails{}); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("Enroll(student 102) error = %v, want ErrCapacityExceeded", err)
	}

	refunded, err := svc.CancelEnrollment(ctx, first.ID, 100, models.RoleStudent)
	if err != nil {
		t.Fatalf("CancelEnrollment() error = %v", err)
	}
	if refunded.Status != models.EnrollmentStatusRefunded {
		t.Errorf("status = %q, want refunded", refunded.Status)
	}

	enrollment, err := svc.Enroll(ctx, 1, 102, models.PaymentDetails{})
	if err != nil {
		t.Fatalf("Enroll(student 102) after refund error = %v", err)
	}
	if enrollment.Status != models.EnrollmentStatusConfirmed {
		t.Errorf("status = %q, want confirmed", enrollment.Status)
	}
	if got := store.session(1).EnrolledCount; got != 2 {
		t.Errorf("enrolled count = %d, want 2", got)
	}
}

func TestCancelEnrollmentAuthorization(t *testing.T) {
	store := newMemEnrollmentStore(testSession(1, 5))
	svc := newTestEnrollmentService(store, &stubGateway{}, time.Minute)
	ctx := context.Background()

	enrollment, err := svc.Enroll(ctx, 1, 100, models.PaymentDetails{})
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}

	if _, err := svc.CancelEnrollment(ctx, enrollment.ID, 999, models.RoleStudent); !errors.Is(err, ErrForbidden) {
		t.Errorf("CancelEnrollment(other student) error = %v, want ErrForbidden", err)
	}
	if _, err := svc.CancelEnrollment(ctx, enrollment.ID, 999, models.RoleAdmin); err != nil {
		t.Errorf("CancelEnrollment(admin) error = %v", err)
	}
}

func TestCancelEnrollmentOnlyConfirmed(t *testing.T) {
	store := newMemEnrollmentStore(testSession(1, 5))
	svc := newTestEnrollmentService(store, &stubGateway{}, time.Minute)
	ctx := context.Background()

	pending, err := store.CreatePending(ctx, 1, 100)
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}
	if _, err := svc.CancelEnrollment(ctx, pending.ID, 100, models.RoleStudent); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("CancelEnrollment(pending) error = %v, want ErrInvalidStateTransition", err)
	}
}

func TestReleaseExpired(t *testing.T) {
	store := newMemEnrollmentStore(testSession(1, 1))
	svc := newTestEnrollmentService(store, &stubGateway{}, time.Minute)
	ctx := context.Background()

	stale, err := store.CreatePending(ctx, 1, 100)
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}
	store.mu.Lock()
	store.enrollments[stale.ID].UpdatedAt = time.Now().Add(-2 * time.Minute)
	store.mu.Unlock()

	released, err := svc.ReleaseExpired(ctx)
	if err != nil {
		t.Fatalf("ReleaseExpired() error = %v", err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}
	swept, err := store.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if swept.Status != models.EnrollmentStatusCancelled {
		t.Errorf("status = %q, want cancelled", swept.Status)
	}

	// The swept seat is free for a fresh enrollment.
	enrollment, err := svc.Enroll(ctx, 1, 101, models.PaymentDetails{})
	if err != nil {
		t.Fatalf("Enroll() after sweep error = %v", err)
	}
	if enrollment.Status != models.EnrollmentStatusConfirmed {
		t.Errorf("status = %q, want confirmed", enrollment.Status)
	}
}

func TestReleaseExpiredKeepsFresh(t *testing.T) {
	store := newMemEnrollmentStore(testSession(1, 5))
	svc := newTestEnrollmentService(store, &stubGateway{}, time.Minute)
	ctx := context.Background()

	fresh, err := store.CreatePending(ctx, 1, 100)
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}

	released, err := svc.ReleaseExpired(ctx)
	if err != nil {
		t.Fatalf("ReleaseExpired() error = %v", err)
	}
	if released != 0 {
		t.Errorf("released = %d, want 0", released)
	}
	kept, err := store.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if kept.Status != models.EnrollmentStatusPendingPayment {
		t.Errorf("status = %q, want pending_payment", kept.Status)
	}
}
