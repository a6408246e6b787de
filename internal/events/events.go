package events

import "time"

type EventType string

const (
	SessionStarted EventType = "assessment.session.started"
	ReportCreated  EventType = "assessment.report.created"
)

// AssessmentEvent is the message body published for session lifecycle changes.
type AssessmentEvent struct {
	EventType  EventType `json:"event_type"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	Variant    string    `json:"variant"`
	ReportID   string    `json:"report_id,omitempty"`
	Score      int       `json:"score,omitempty"`
	Category   string    `json:"category,omitempty"`
	Escalated  bool      `json:"escalated,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
