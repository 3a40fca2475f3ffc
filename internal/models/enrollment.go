package models

import "time"

const (
	EnrollmentStatusPendingPayment = "pending_payment"
	EnrollmentStatusConfirmed      = "confirmed"
	EnrollmentStatusCancelled      = "cancelled"
	EnrollmentStatusRefunded       = "refunded"
)

// Enrollment is a student's claim on one seat within a Session. Rows are
// never deleted; terminal states (cancelled, refunded) stay for the audit
// trail.
type Enrollment struct {
	ID         int64     `json:"id"`
	SessionID  int64     `json:"session_id"`
	StudentID  int64     `json:"student_id"`
	Status     string    `json:"status"`
	PaymentRef *string   `json:"payment_ref"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
