package services

import "github.com/saeid-a/TutorAppBack/internal/models"

// sessionsOverlap reports whether two recurring sessions share a weekday
// and their time ranges overlap. Ranges are half-open: a session ending
// exactly when another begins does not conflict.
func sessionsOverlap(a, b models.Session) bool {
	if !shareWeekday(a.Weekdays, b.Weekdays) {
		return false
	}
	return a.StartTime < b.EndTime && b.StartTime < a.EndTime
}

func shareWeekday(a, b []string) bool {
	for _, dayA := range a {
		for _, dayB := range b {
			if dayA == dayB {
				return true
			}
		}
	}
	return false
}

// findConflict returns the first scheduled session of the same tutor that
// collides with the candidate, skipping the candidate itself so updates
// can re-check against the tutor's other sessions. Sessions of other
// tutors never conflict: courses may run parallel sections.
func findConflict(candidate models.Session, existing []models.Session) *models.Session {
	for i := range existing {
		other := &existing[i]
		if other.ID != 0 && other.ID == candidate.ID {
			continue
		}
		if other.TutorID != candidate.TutorID {
			continue
		}
		if other.Status != models.SessionStatusScheduled {
			continue
		}
		if sessionsOverlap(candidate, *other) {
			return other
		}
	}
	return nil
}
