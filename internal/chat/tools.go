package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"health-companion/internal/record"
)

// Ops is the catalog of mutating operations the model loop may invoke. Each
// operation persists synchronously, updates the turn context so later calls in
// the same turn see fresh state, records an explicit change event at the point
// of mutation, and pushes the matching real-time status event.
type Ops struct {
	store record.Store
	pub   Publisher
	log   *zap.Logger
}

func NewOps(store record.Store, pub Publisher, log *zap.Logger) *Ops {
	if pub == nil {
		pub = NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ops{store: store, pub: pub, log: log}
}

type CreateEpisodeInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type CreateEpisodeResult struct {
	EpisodeID uuid.UUID `json:"episodeId"`
	SymptomID uuid.UUID `json:"symptomId"`
	Existing  bool      `json:"existing"`
	Note      string    `json:"note,omitempty"`
}

// CreateEpisode opens a new episode for a symptom, creating the symptom on
// first mention. A second create for the same name within one turn context is
// suppressed and answered with the existing episode's id.
func (o *Ops) CreateEpisode(ctx context.Context, tc *TurnContext, in CreateEpisodeInput) (*CreateEpisodeResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("symptom name is required")
	}

	if existing, ok := tc.OpenEpisodeFor(name); ok {
		return &CreateEpisodeResult{
			EpisodeID: existing.ID,
			SymptomID: existing.SymptomID,
			Existing:  true,
			Note:      fmt.Sprintf("an episode for %q is already being tracked; use update_episode instead", name),
		}, nil
	}

	sym, err := o.store.SymptomByName(ctx, tc.UserID, name)
	switch {
	case err == nil:
		if sym.Description == "" && in.Description != "" {
			sym.Description = in.Description
			if err := o.store.SaveSymptom(ctx, sym); err != nil {
				return nil, fmt.Errorf("save symptom: %w", err)
			}
		}
	case isNotFound(err):
		sym = &record.Symptom{
			ID:          uuid.New(),
			UserID:      tc.UserID,
			Name:        name,
			Description: in.Description,
			CreatedAt:   time.Now(),
		}
		if err := o.store.SaveSymptom(ctx, sym); err != nil {
			return nil, fmt.Errorf("save symptom: %w", err)
		}
	default:
		return nil, fmt.Errorf("lookup symptom: %w", err)
	}

	now := time.Now()
	episode := &record.Episode{
		ID:        uuid.New(),
		SymptomID: sym.ID,
		UserID:    tc.UserID,
		Stage:     record.StageMentioned,
		Status:    record.StatusActive,
		StartedAt: now,
	}
	if err := o.store.SaveEpisode(ctx, episode); err != nil {
		return nil, fmt.Errorf("save episode: %w", err)
	}
	tc.TrackEpisode(sym, episode)

	tc.RecordChange(EntityChange{
		ID: episode.ID, Kind: KindSymptom, Action: ActionCreated, Name: sym.Name, At: now,
	})
	epID := episode.ID
	o.pub.Publish(ctx, tc.UserID, StatusEvent{
		Type:        StatusSymptomAdded,
		SymptomName: sym.Name,
		EpisodeID:   &epID,
		Timestamp:   now,
	})
	o.log.Info("episode created",
		zap.String("episode_id", episode.ID.String()),
		zap.String("symptom", sym.Name))

	return &CreateEpisodeResult{EpisodeID: episode.ID, SymptomID: sym.ID}, nil
}

type UpdateEpisodeInput struct {
	EpisodeID uuid.UUID `json:"episodeId"`
	Severity  *int      `json:"severity,omitempty"`
	Location  *string   `json:"location,omitempty"`
	Frequency *string   `json:"frequency,omitempty"`
	Triggers  []string  `json:"triggers,omitempty"`
	Relievers []string  `json:"relievers,omitempty"`
	Pattern   *string   `json:"pattern,omitempty"`
	Note      *string   `json:"note,omitempty"`
}

type EpisodeResult struct {
	EpisodeID uuid.UUID     `json:"episodeId"`
	Stage     record.Stage  `json:"stage"`
	Status    record.Status `json:"status"`
}

// UpdateEpisode applies only the supplied fields and advances the stage from
// the detail now present. The stage never regresses.
func (o *Ops) UpdateEpisode(ctx context.Context, tc *TurnContext, in UpdateEpisodeInput) (*EpisodeResult, error) {
	episode, err := o.loadEpisode(ctx, tc, in.EpisodeID)
	if err != nil {
		return nil, err
	}

	if in.Severity != nil {
		sev := *in.Severity
		if sev < 1 || sev > 10 {
			return nil, fmt.Errorf("severity must be between 1 and 10, got %d", sev)
		}
		episode.Severity = sev
	}
	if in.Location != nil {
		episode.Location = *in.Location
	}
	if in.Frequency != nil {
		episode.Frequency = *in.Frequency
	}
	if len(in.Triggers) > 0 {
		episode.Triggers = in.Triggers
	}
	if len(in.Relievers) > 0 {
		episode.Relievers = in.Relievers
	}
	if in.Pattern != nil {
		episode.Pattern = *in.Pattern
	}
	if in.Note != nil && *in.Note != "" {
		episode.Timeline = append(episode.Timeline, record.TimelineEntry{
			Note:       *in.Note,
			RecordedAt: time.Now(),
		})
	}
	episode.AdvanceStage(record.StageForDetail(episode))

	if err := o.store.SaveEpisode(ctx, episode); err != nil {
		return nil, fmt.Errorf("save episode: %w", err)
	}

	name := o.symptomNameFor(ctx, tc, episode.SymptomID)
	now := time.Now()
	tc.RecordChange(EntityChange{
		ID: episode.ID, Kind: KindSymptom, Action: ActionUpdated,
		Name: name, Location: episode.Location, At: now,
	})
	epID := episode.ID
	o.pub.Publish(ctx, tc.UserID, StatusEvent{
		Type:        StatusSymptomAdded,
		SymptomName: name,
		EpisodeID:   &epID,
		Location:    episode.Location,
		Timestamp:   now,
	})

	return &EpisodeResult{EpisodeID: episode.ID, Stage: episode.Stage, Status: episode.Status}, nil
}

type LinkEpisodeInput struct {
	EpisodeID        uuid.UUID `json:"episodeId"`
	RelatedEpisodeID uuid.UUID `json:"relatedEpisodeId"`
}

// LinkEpisode marks two episodes as related and moves the episode to the
// linked stage.
func (o *Ops) LinkEpisode(ctx context.Context, tc *TurnContext, in LinkEpisodeInput) (*EpisodeResult, error) {
	episode, err := o.loadEpisode(ctx, tc, in.EpisodeID)
	if err != nil {
		return nil, err
	}
	related, err := o.loadEpisode(ctx, tc, in.RelatedEpisodeID)
	if err != nil {
		return nil, err
	}

	relID := related.ID
	episode.RelatedEpisodeID = &relID
	episode.AdvanceStage(record.StageLinked)

	if err := o.store.SaveEpisode(ctx, episode); err != nil {
		return nil, fmt.Errorf("save episode: %w", err)
	}

	tc.RecordChange(EntityChange{
		ID: episode.ID, Kind: KindSymptom, Action: ActionUpdated,
		Name: o.symptomNameFor(ctx, tc, episode.SymptomID), At: time.Now(),
	})
	return &EpisodeResult{EpisodeID: episode.ID, Stage: episode.Stage, Status: episode.Status}, nil
}

type ResolveEpisodeInput struct {
	EpisodeID uuid.UUID `json:"episodeId"`
}

// ResolveEpisode closes an episode and stamps the resolution time.
func (o *Ops) ResolveEpisode(ctx context.Context, tc *TurnContext, in ResolveEpisodeInput) (*EpisodeResult, error) {
	episode, err := o.loadEpisode(ctx, tc, in.EpisodeID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	episode.Resolve(now)
	if err := o.store.SaveEpisode(ctx, episode); err != nil {
		return nil, fmt.Errorf("save episode: %w", err)
	}

	name := o.symptomNameFor(ctx, tc, episode.SymptomID)
	tc.DropOpenIndex(name)
	tc.RecordChange(EntityChange{
		ID: episode.ID, Kind: KindSymptom, Action: ActionResolved, Name: name, At: now,
	})
	epID := episode.ID
	o.pub.Publish(ctx, tc.UserID, StatusEvent{
		Type:        StatusSymptomAdded,
		SymptomName: name,
		EpisodeID:   &epID,
		Timestamp:   now,
	})

	return &EpisodeResult{EpisodeID: episode.ID, Stage: episode.Stage, Status: episode.Status}, nil
}

type RecordNegativeFindingInput struct {
	SymptomName string     `json:"symptomName"`
	EpisodeID   *uuid.UUID `json:"episodeId,omitempty"`
}

type RecordNegativeFindingResult struct {
	FindingID uuid.UUID `json:"findingId"`
}

// RecordNegativeFinding appends an explicitly denied symptom.
func (o *Ops) RecordNegativeFinding(ctx context.Context, tc *TurnContext, in RecordNegativeFindingInput) (*RecordNegativeFindingResult, error) {
	name := strings.TrimSpace(in.SymptomName)
	if name == "" {
		return nil, fmt.Errorf("symptom name is required")
	}

	finding := &record.NegativeFinding{
		ID:          uuid.New(),
		UserID:      tc.UserID,
		SymptomName: name,
		EpisodeID:   in.EpisodeID,
		ReportedAt:  time.Now(),
	}
	if err := o.store.SaveNegativeFinding(ctx, finding); err != nil {
		return nil, fmt.Errorf("save negative finding: %w", err)
	}
	tc.AddNegativeFinding(finding)

	return &RecordNegativeFindingResult{FindingID: finding.ID}, nil
}

type EpisodeWeightInput struct {
	EpisodeID uuid.UUID `json:"episodeId"`
	Weight    float64   `json:"weight"`
	Reasoning string    `json:"reasoning,omitempty"`
}

type CreateAssessmentInput struct {
	Hypothesis         string               `json:"hypothesis"`
	Confidence         float64              `json:"confidence"`
	Differentials      []string             `json:"differentials,omitempty"`
	Reasoning          string               `json:"reasoning"`
	RecommendedAction  string               `json:"recommendedAction"`
	NegativeFindingIDs []uuid.UUID          `json:"negativeFindingIds,omitempty"`
	EpisodeWeights     []EpisodeWeightInput `json:"episodeWeights,omitempty"`
}

type AssessmentResult struct {
	AssessmentID uuid.UUID `json:"assessmentId"`
	Hypothesis   string    `json:"hypothesis"`
	Confidence   float64   `json:"confidence"`
}

func parseRecommendedAction(s string) (record.RecommendedAction, error) {
	switch record.RecommendedAction(strings.ToLower(strings.TrimSpace(s))) {
	case record.ActionSelfCare:
		return record.ActionSelfCare, nil
	case record.ActionSeeGP:
		return record.ActionSeeGP, nil
	case record.ActionUrgentCare:
		return record.ActionUrgentCare, nil
	case record.ActionEmergency:
		return record.ActionEmergency, nil
	default:
		return "", fmt.Errorf("recommendedAction must be one of self-care, see-gp, urgent-care, emergency; got %q", s)
	}
}

// CreateAssessment records a diagnostic hypothesis for the conversation.
// Confidence and link weights are clamped to [0,1]; without explicit weights
// the weight is split evenly across the episodes active in the turn context.
func (o *Ops) CreateAssessment(ctx context.Context, tc *TurnContext, in CreateAssessmentInput) (*AssessmentResult, error) {
	if strings.TrimSpace(in.Hypothesis) == "" {
		return nil, fmt.Errorf("hypothesis is required")
	}
	action, err := parseRecommendedAction(in.RecommendedAction)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	o.pub.Publish(ctx, tc.UserID, StatusEvent{
		Type:      StatusAssessmentGenerating,
		Message:   "Generating your assessment...",
		Timestamp: now,
	})

	assessment := &record.Assessment{
		ID:                 uuid.New(),
		UserID:             tc.UserID,
		ConversationID:     tc.ConversationID,
		Hypothesis:         strings.TrimSpace(in.Hypothesis),
		Confidence:         record.ClampWeight(in.Confidence),
		Differentials:      in.Differentials,
		Reasoning:          in.Reasoning,
		RecommendedAction:  action,
		NegativeFindingIDs: in.NegativeFindingIDs,
		CreatedAt:          now,
	}
	assessment.EpisodeLinks = o.episodeLinks(tc, assessment.ID, in.EpisodeWeights)

	if err := o.store.SaveAssessment(ctx, assessment); err != nil {
		return nil, fmt.Errorf("save assessment: %w", err)
	}
	tc.SetAssessment(assessment)

	conf := assessment.Confidence
	tc.RecordChange(EntityChange{
		ID: assessment.ID, Kind: KindAssessment, Action: ActionCreated,
		Name: assessment.Hypothesis, Confidence: &conf, At: now,
	})
	aID := assessment.ID
	o.pub.Publish(ctx, tc.UserID, StatusEvent{
		Type:         StatusAssessmentCreated,
		AssessmentID: &aID,
		Hypothesis:   assessment.Hypothesis,
		Confidence:   assessment.Confidence,
		Timestamp:    time.Now(),
	})
	o.log.Info("assessment created",
		zap.String("assessment_id", assessment.ID.String()),
		zap.Float64("confidence", assessment.Confidence))

	return &AssessmentResult{
		AssessmentID: assessment.ID,
		Hypothesis:   assessment.Hypothesis,
		Confidence:   assessment.Confidence,
	}, nil
}

func (o *Ops) episodeLinks(tc *TurnContext, assessmentID uuid.UUID, weights []EpisodeWeightInput) []record.AssessmentEpisodeLink {
	if len(weights) > 0 {
		links := make([]record.AssessmentEpisodeLink, 0, len(weights))
		for _, w := range weights {
			links = append(links, record.AssessmentEpisodeLink{
				AssessmentID: assessmentID,
				EpisodeID:    w.EpisodeID,
				Weight:       record.ClampWeight(w.Weight),
				Reasoning:    w.Reasoning,
			})
		}
		return links
	}

	active := tc.ActiveEpisodes()
	if len(active) == 0 {
		return nil
	}
	even := 1.0 / float64(len(active))
	links := make([]record.AssessmentEpisodeLink, 0, len(active))
	for _, e := range active {
		links = append(links, record.AssessmentEpisodeLink{
			AssessmentID: assessmentID,
			EpisodeID:    e.ID,
			Weight:       even,
		})
	}
	return links
}

type UpdateAssessmentInput struct {
	AssessmentID       uuid.UUID            `json:"assessmentId"`
	Hypothesis         *string              `json:"hypothesis,omitempty"`
	Confidence         *float64             `json:"confidence,omitempty"`
	Differentials      []string             `json:"differentials,omitempty"`
	Reasoning          *string              `json:"reasoning,omitempty"`
	RecommendedAction  *string              `json:"recommendedAction,omitempty"`
	NegativeFindingIDs []uuid.UUID          `json:"negativeFindingIds,omitempty"`
	EpisodeWeights     []EpisodeWeightInput `json:"episodeWeights,omitempty"`
}

// UpdateAssessment applies a partial update; only supplied fields change.
func (o *Ops) UpdateAssessment(ctx context.Context, tc *TurnContext, in UpdateAssessmentInput) (*AssessmentResult, error) {
	assessment := tc.Assessment()
	if assessment == nil || assessment.ID != in.AssessmentID {
		loaded, err := o.store.GetAssessment(ctx, in.AssessmentID)
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("assessment %s: %w", in.AssessmentID, ErrNotFound)
			}
			return nil, err
		}
		if loaded.UserID != tc.UserID {
			return nil, fmt.Errorf("assessment %s: %w", in.AssessmentID, ErrNotFound)
		}
		assessment = loaded
	}

	o.pub.Publish(ctx, tc.UserID, StatusEvent{
		Type:      StatusAssessmentAnalyzing,
		Message:   "Analyzing your assessment...",
		Timestamp: time.Now(),
	})

	if in.Hypothesis != nil {
		assessment.Hypothesis = *in.Hypothesis
	}
	if in.Confidence != nil {
		assessment.Confidence = record.ClampWeight(*in.Confidence)
	}
	if len(in.Differentials) > 0 {
		assessment.Differentials = in.Differentials
	}
	if in.Reasoning != nil {
		assessment.Reasoning = *in.Reasoning
	}
	if in.RecommendedAction != nil {
		action, err := parseRecommendedAction(*in.RecommendedAction)
		if err != nil {
			return nil, err
		}
		assessment.RecommendedAction = action
	}
	if len(in.NegativeFindingIDs) > 0 {
		assessment.NegativeFindingIDs = in.NegativeFindingIDs
	}
	if len(in.EpisodeWeights) > 0 {
		assessment.EpisodeLinks = o.episodeLinks(tc, assessment.ID, in.EpisodeWeights)
	}

	if err := o.store.SaveAssessment(ctx, assessment); err != nil {
		return nil, fmt.Errorf("save assessment: %w", err)
	}
	tc.SetAssessment(assessment)

	now := time.Now()
	conf := assessment.Confidence
	tc.RecordChange(EntityChange{
		ID: assessment.ID, Kind: KindAssessment, Action: ActionUpdated,
		Name: assessment.Hypothesis, Confidence: &conf, At: now,
	})
	aID := assessment.ID
	o.pub.Publish(ctx, tc.UserID, StatusEvent{
		Type:         StatusAssessmentCreated,
		AssessmentID: &aID,
		Hypothesis:   assessment.Hypothesis,
		Confidence:   assessment.Confidence,
		Timestamp:    now,
	})

	return &AssessmentResult{
		AssessmentID: assessment.ID,
		Hypothesis:   assessment.Hypothesis,
		Confidence:   assessment.Confidence,
	}, nil
}

type ScheduleAppointmentInput struct {
	Reason       string     `json:"reason"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
}

type ScheduleAppointmentResult struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
}

// ScheduleAppointment proposes a follow-up appointment for the conversation.
func (o *Ops) ScheduleAppointment(ctx context.Context, tc *TurnContext, in ScheduleAppointmentInput) (*ScheduleAppointmentResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, fmt.Errorf("reason is required")
	}

	now := time.Now()
	appt := &record.Appointment{
		ID:             uuid.New(),
		UserID:         tc.UserID,
		ConversationID: tc.ConversationID,
		Reason:         reason,
		ScheduledFor:   in.ScheduledFor,
		Status:         record.AppointmentProposed,
		CreatedAt:      now,
	}
	if err := o.store.SaveAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("save appointment: %w", err)
	}
	tc.TrackAppointment(appt)

	tc.RecordChange(EntityChange{
		ID: appt.ID, Kind: KindAppointment, Action: ActionCreated, Name: reason, At: now,
	})
	o.pub.Publish(ctx, tc.UserID, StatusEvent{
		Type:      StatusGeneral,
		Message:   fmt.Sprintf("Proposed a follow-up appointment: %s", reason),
		Timestamp: now,
	})

	return &ScheduleAppointmentResult{AppointmentID: appt.ID}, nil
}

type EpisodeSummary struct {
	EpisodeID   uuid.UUID     `json:"episodeId"`
	SymptomName string        `json:"symptomName"`
	Stage       record.Stage  `json:"stage"`
	Status      record.Status `json:"status"`
	Severity    int           `json:"severity,omitempty"`
	Location    string        `json:"location,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
}

// GetActiveEpisodes lists the episodes currently tracked in the turn context.
// Read-only; the model uses it to avoid duplicate creation.
func (o *Ops) GetActiveEpisodes(ctx context.Context, tc *TurnContext) []EpisodeSummary {
	active := tc.ActiveEpisodes()
	out := make([]EpisodeSummary, 0, len(active))
	for _, e := range active {
		out = append(out, EpisodeSummary{
			EpisodeID:   e.ID,
			SymptomName: o.symptomNameFor(ctx, tc, e.SymptomID),
			Stage:       e.Stage,
			Status:      e.Status,
			Severity:    e.Severity,
			Location:    e.Location,
			StartedAt:   e.StartedAt,
		})
	}
	return out
}

type SymptomHistoryInput struct {
	SymptomName string `json:"symptomName"`
}

// GetSymptomHistory lists all episodes ever recorded for a symptom name.
func (o *Ops) GetSymptomHistory(ctx context.Context, tc *TurnContext, in SymptomHistoryInput) ([]EpisodeSummary, error) {
	name := strings.TrimSpace(in.SymptomName)
	if name == "" {
		return nil, fmt.Errorf("symptom name is required")
	}
	episodes, err := o.store.EpisodesBySymptomName(ctx, tc.UserID, name)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]EpisodeSummary, 0, len(episodes))
	for _, e := range episodes {
		out = append(out, EpisodeSummary{
			EpisodeID:   e.ID,
			SymptomName: name,
			Stage:       e.Stage,
			Status:      e.Status,
			Severity:    e.Severity,
			Location:    e.Location,
			StartedAt:   e.StartedAt,
		})
	}
	return out, nil
}

func (o *Ops) loadEpisode(ctx context.Context, tc *TurnContext, id uuid.UUID) (*record.Episode, error) {
	if e, ok := tc.Episode(id); ok {
		return e, nil
	}
	e, err := o.store.GetEpisode(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("episode %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	// Another user's episode is indistinguishable from a missing one.
	if e.UserID != tc.UserID {
		return nil, fmt.Errorf("episode %s: %w", id, ErrNotFound)
	}
	sym, symErr := o.store.GetSymptom(ctx, e.SymptomID)
	if symErr != nil {
		sym = nil
	}
	tc.TrackEpisode(sym, e)
	return e, nil
}

func (o *Ops) symptomNameFor(ctx context.Context, tc *TurnContext, symptomID uuid.UUID) string {
	if sym, ok := tc.Symptom(symptomID); ok {
		return sym.Name
	}
	sym, err := o.store.GetSymptom(ctx, symptomID)
	if err != nil {
		return ""
	}
	return sym.Name
}
