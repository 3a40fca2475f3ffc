package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	SessionStatusScheduled = "scheduled"
	SessionStatusCancelled = "cancelled"
	SessionStatusCompleted = "completed"
)

// MinuteOfDay is a time of day expressed as minutes since midnight.
// It marshals as "HH:MM", the format the admin screens send.
type MinuteOfDay int

func ParseMinuteOfDay(value string) (MinuteOfDay, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	return MinuteOfDay(hours*60 + minutes), nil
}

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

func (m MinuteOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *MinuteOfDay) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseMinuteOfDay(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Session is a recurring weekly tutoring slot. Weekdays hold canonical
// lowercase day names ("monday".."sunday"). EnrolledCount is mutated only
// through the enrollment store's guarded transactions.
type Session struct {
	ID            int64       `json:"id"`
	CourseID      int64       `json:"course_id"`
	TutorID       int64       `json:"tutor_id"`
	Weekdays      []string    `json:"weekdays"`
	StartTime     MinuteOfDay `json:"start_time"`
	EndTime       MinuteOfDay `json:"end_time"`
	Capacity      int         `json:"capacity"`
	EnrolledCount int         `json:"enrolled_count"`
	Status        string      `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

var canonicalWeekdays = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// NormalizeWeekday maps inputs like "Mon", "monday" or "MONDAY" to the
// canonical lowercase name.
func NormalizeWeekday(value string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	for _, day := range canonicalWeekdays {
		if trimmed == day || trimmed == day[:3] {
			return day, nil
		}
	}
	return "", fmt.Errorf("invalid weekday %q", value)
}

// NormalizeWeekdays canonicalizes and de-duplicates a weekday list,
// preserving calendar order.
func NormalizeWeekdays(values []string) ([]string, error) {
	seen := make(map[string]bool, len(values))
	for _, value := range values {
		day, err := NormalizeWeekday(value)
		if err != nil {
			return nil, err
		}
		seen[day] = true
	}
	normalized := make([]string, 0, len(seen))
	for _, day := range canonicalWeekdays {
		if seen[day] {
			normalized = append(normalized, day)
		}
	}
	return normalized, nil
}
