package services

import (
	"time"

	"github.com/soaringjerry/Mindwell/internal/assessment"
)

type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// Stage is the position inside a staged variant. Variants without learning
// items leave it empty.
type Stage string

const (
	StageLearning   Stage = "learning"
	StageAssessment Stage = "assessment"
	StageReport     Stage = "report"
)

// Collection names shared by every document store backend.
const (
	SessionsCollection = "assessment_sessions"
	ReportsCollection  = "assessment_reports"
	UsersCollection    = "users"
)

// Session is one attempt at one variant by one user.
type Session struct {
	ID                string               `json:"id" bson:"_id,omitempty"`
	UserID            string               `json:"user_id" bson:"user_id"`
	Variant           string               `json:"variant" bson:"variant"`
	Status            SessionStatus        `json:"status" bson:"status"`
	Stage             Stage                `json:"stage,omitempty" bson:"stage,omitempty"`
	CompletedLearning []string             `json:"completed_learning" bson:"completed_learning"`
	Responses         assessment.Responses `json:"responses" bson:"responses"`
	CreatedAt         time.Time            `json:"created_at" bson:"created_at"`
	SavedAt           time.Time            `json:"saved_at" bson:"saved_at"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	ReportID          string               `json:"report_id,omitempty" bson:"report_id,omitempty"`
}

// Report is the immutable result of a submitted session.
type Report struct {
	ID              string         `json:"id" bson:"_id,omitempty"`
	UserID          string         `json:"user_id" bson:"user_id"`
	SessionID       string         `json:"session_id" bson:"session_id"`
	Variant         string         `json:"variant" bson:"variant"`
	Sequence        int            `json:"sequence" bson:"sequence"`
	Score           int            `json:"score" bson:"score"`
	Category        string         `json:"category" bson:"category"`
	Topics          map[string]int `json:"topics" bson:"topics"`
	Flags           int            `json:"flags,omitempty" bson:"flags,omitempty"`
	Recommendations []string       `json:"recommendations" bson:"recommendations"`
	Reflection      string         `json:"reflection,omitempty" bson:"reflection,omitempty"`
	CreatedAt       time.Time      `json:"created_at" bson:"created_at"`
}

// HistoryPoint projects the fields the trend needs.
func (r *Report) HistoryPoint() assessment.HistoryPoint {
	return assessment.HistoryPoint{Score: r.Score, Sequence: r.Sequence, CreatedAt: r.CreatedAt}
}

// ReportView is a stored report together with its trend series.
type ReportView struct {
	ReportID  string    `json:"report_id"`
	SessionID string    `json:"session_id"`
	Variant   string    `json:"variant"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
	assessment.ReportView
}

// ProgressUpdate carries an autosave. A nil Responses keeps the stored set.
type ProgressUpdate struct {
	Responses assessment.Responses `json:"responses"`
	Stage     Stage                `json:"stage,omitempty"`
}

type User struct {
	ID          string    `json:"id" bson:"_id,omitempty"`
	Email       string    `json:"email" bson:"email"`
	DisplayName string    `json:"display_name,omitempty" bson:"display_name,omitempty"`
	PassHash    []byte    `json:"pass_hash" bson:"pass_hash"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}
