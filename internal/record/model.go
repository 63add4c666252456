package record

import (
	"time"

	"github.com/google/uuid"
)

// Episode lifecycle
type Stage string

const (
	StageMentioned     Stage = "mentioned"
	StageExplored      Stage = "explored"
	StageCharacterized Stage = "characterized"
	StageLinked        Stage = "linked"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

type RecommendedAction string

const (
	ActionSelfCare   RecommendedAction = "self-care"
	ActionSeeGP      RecommendedAction = "see-gp"
	ActionUrgentCare RecommendedAction = "urgent-care"
	ActionEmergency  RecommendedAction = "emergency"
)

type AppointmentStatus string

const (
	AppointmentProposed  AppointmentStatus = "proposed"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Symptom is a per-user named condition type. Created on first mention,
// immutable afterwards except for description backfill.
type Symptom struct {
	ID          uuid.UUID `json:"id" db:"id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Episode is one tracked occurrence of a Symptom.
type Episode struct {
	ID        uuid.UUID `json:"id" db:"id"`
	SymptomID uuid.UUID `json:"symptom_id" db:"symptom_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`

	Stage  Stage  `json:"stage" db:"stage"`
	Status Status `json:"status" db:"status"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	// Descriptive detail, filled in over the conversation.
	Severity  int      `json:"severity,omitempty" db:"severity"` // 1-10, 0 = unset
	Location  string   `json:"location,omitempty" db:"location"`
	Frequency string   `json:"frequency,omitempty" db:"frequency"`
	Triggers  []string `json:"triggers,omitempty" db:"triggers"`
	Relievers []string `json:"relievers,omitempty" db:"relievers"`
	Pattern   string   `json:"pattern,omitempty" db:"pattern"`

	Timeline []TimelineEntry `json:"timeline,omitempty" db:"timeline"`

	RelatedEpisodeID *uuid.UUID `json:"related_episode_id,omitempty" db:"related_episode_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type TimelineEntry struct {
	Note       string    `json:"note"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NegativeFinding records an explicitly denied symptom. Append-only.
// SymptomName is free text, deliberately not FK'd to Symptom.
type NegativeFinding struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	SymptomName string     `json:"symptom_name" db:"symptom_name"`
	EpisodeID   *uuid.UUID `json:"episode_id,omitempty" db:"episode_id"`
	ReportedAt  time.Time  `json:"reported_at" db:"reported_at"`
}

// Assessment is a diagnostic hypothesis for a conversation.
type Assessment struct {
	ID             uuid.UUID `json:"id" db:"id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`

	Hypothesis        string            `json:"hypothesis" db:"hypothesis"`
	Confidence        float64           `json:"confidence" db:"confidence"` // [0,1]
	Differentials     []string          `json:"differentials,omitempty" db:"differentials"`
	Reasoning         string            `json:"reasoning" db:"reasoning"`
	RecommendedAction RecommendedAction `json:"recommended_action" db:"recommended_action"`

	NegativeFindingIDs []uuid.UUID             `json:"negative_finding_ids,omitempty" db:"negative_finding_ids"`
	EpisodeLinks       []AssessmentEpisodeLink `json:"episode_links,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AssessmentEpisodeLink ties an episode into an assessment with a weight in [0,1].
type AssessmentEpisodeLink struct {
	AssessmentID uuid.UUID `json:"assessment_id" db:"assessment_id"`
	EpisodeID    uuid.UUID `json:"episode_id" db:"episode_id"`
	Weight       float64   `json:"weight" db:"weight"`
	Reasoning    string    `json:"reasoning,omitempty" db:"reasoning"`
}

// Appointment is a proposed follow-up created during a conversation.
type Appointment struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	UserID         uuid.UUID         `json:"user_id" db:"user_id"`
	ConversationID uuid.UUID         `json:"conversation_id" db:"conversation_id"`
	Reason         string            `json:"reason" db:"reason"`
	ScheduledFor   *time.Time        `json:"scheduled_for,omitempty" db:"scheduled_for"`
	Status         AppointmentStatus `json:"status" db:"status"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// ClampWeight bounds an assessment link weight to [0,1].
func ClampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
