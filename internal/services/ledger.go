package services

import (
	"sync"
	"time"
)

// ReservationLedger tracks provisional seat holds per session. A hold is
// keyed by enrollment id and lapses after the reservation TTL, so an
// abandoned payment flow can never pin a seat. Holds for different
// sessions are fully independent: operations on session A never wait on
// session B. Entries are created on first use and retired once their last
// hold is gone, so the ledger only holds state for sessions with payments
// in flight.
type ReservationLedger struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[int64]*sessionSeats
}

// sessionSeats is the per-session exclusion unit. Its mutex guards the
// reserve/finalize/release windows; the payment gateway round trip always
// runs with the mutex released. retired marks an entry that was pruned
// from the ledger while a late caller still holds a pointer to it.
type sessionSeats struct {
	mu      sync.Mutex
	holds   map[int64]time.Time
	retired bool
}

func NewReservationLedger(ttl time.Duration) *ReservationLedger {
	return &ReservationLedger{
		ttl:      ttl,
		sessions: make(map[int64]*sessionSeats),
	}
}

// lockSession returns the session's seat state with its mutex held,
// creating it on first use. A caller that raced a prune gets a fresh
// entry instead of the retired one.
func (l *ReservationLedger) lockSession(sessionID int64) *sessionSeats {
	for {
		l.mu.Lock()
		seats, ok := l.sessions[sessionID]
		if !ok {
			seats = &sessionSeats{holds: make(map[int64]time.Time)}
			l.sessions[sessionID] = seats
		}
		l.mu.Unlock()

		seats.mu.Lock()
		if !seats.retired {
			return seats
		}
		seats.mu.Unlock()
	}
}

// unlockSession releases the mutex taken by lockSession, retiring the
// entry first if no holds remain.
func (l *ReservationLedger) unlockSession(sessionID int64, seats *sessionSeats) {
	if len(seats.holds) == 0 && !seats.retired {
		seats.retired = true
		l.mu.Lock()
		if l.sessions[sessionID] == seats {
			delete(l.sessions, sessionID)
		}
		l.mu.Unlock()
	}
	seats.mu.Unlock()
}

// The methods below assume the caller holds s.mu.

// reserved counts unexpired holds and prunes lapsed ones.
func (s *sessionSeats) reserved(now time.Time) int {
	count := 0
	for enrollmentID, expiry := range s.holds {
		if expiry.After(now) {
			count++
		} else {
			delete(s.holds, enrollmentID)
		}
	}
	return count
}

func (s *sessionSeats) hold(enrollmentID int64, expiry time.Time) {
	s.holds[enrollmentID] = expiry
}

func (s *sessionSeats) holdActive(enrollmentID int64, now time.Time) bool {
	expiry, ok := s.holds[enrollmentID]
	return ok && expiry.After(now)
}

func (s *sessionSeats) release(enrollmentID int64) {
	delete(s.holds, enrollmentID)
}
