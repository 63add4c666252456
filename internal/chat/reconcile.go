package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"health-companion/internal/record"
)

type EntityKind string

const (
	KindSymptom     EntityKind = "symptom"
	KindAppointment EntityKind = "appointment"
	KindAssessment  EntityKind = "assessment"
)

type ChangeAction string

const (
	ActionCreated  ChangeAction = "created"
	ActionUpdated  ChangeAction = "updated"
	ActionResolved ChangeAction = "resolved"
)

// EntityChange is the canonical record of one entity mutation in a turn. For
// symptom changes the ID is the episode id and Name the symptom name; for
// assessments Name carries the hypothesis.
type EntityChange struct {
	ID         uuid.UUID    `json:"id"`
	Kind       EntityKind   `json:"kind"`
	Action     ChangeAction `json:"action"`
	Name       string       `json:"name"`
	Location   string       `json:"location,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`
	At         time.Time    `json:"at"`
}

// Snapshot captures the ids visible before the model loop runs, so the diff
// fallback can classify what it finds afterwards.
type Snapshot struct {
	TakenAt        time.Time
	EpisodeStatus  map[uuid.UUID]record.Status
	EpisodeNames   map[uuid.UUID]string
	AppointmentIDs map[uuid.UUID]bool
	AssessmentIDs  map[uuid.UUID]bool
}

// TakeSnapshot records the before-state of a hydrated turn context.
func TakeSnapshot(tc *TurnContext) *Snapshot {
	snap := &Snapshot{
		TakenAt:        time.Now(),
		EpisodeStatus:  make(map[uuid.UUID]record.Status),
		EpisodeNames:   make(map[uuid.UUID]string),
		AppointmentIDs: make(map[uuid.UUID]bool),
		AssessmentIDs:  make(map[uuid.UUID]bool),
	}
	for _, e := range tc.ActiveEpisodes() {
		snap.EpisodeStatus[e.ID] = e.Status
		if sym, ok := tc.Symptom(e.SymptomID); ok {
			snap.EpisodeNames[e.ID] = sym.Name
		}
	}
	for _, a := range tc.Appointments() {
		snap.AppointmentIDs[a.ID] = true
	}
	if a := tc.Assessment(); a != nil {
		snap.AssessmentIDs[a.ID] = true
	}
	return snap
}

// Reconciler turns the mutations of one turn into a canonical change list.
// The explicit events recorded by tool operations are the preferred path; the
// time-windowed diff only runs when zero events were captured, and is racy
// against model calls outliving the window. That race is a documented
// limitation, not something corrected here.
type Reconciler struct {
	store  record.Store
	window time.Duration
}

const defaultDiffWindow = 30 * time.Second

func NewReconciler(store record.Store, window time.Duration) *Reconciler {
	if window <= 0 {
		window = defaultDiffWindow
	}
	return &Reconciler{store: store, window: window}
}

func (r *Reconciler) Reconcile(ctx context.Context, tc *TurnContext, snap *Snapshot) ([]EntityChange, error) {
	if explicit := tc.Changes(); len(explicit) > 0 {
		return explicit, nil
	}
	return r.diff(ctx, tc, snap)
}

func (r *Reconciler) diff(ctx context.Context, tc *TurnContext, snap *Snapshot) ([]EntityChange, error) {
	since := time.Now().Add(-r.window)
	if snap.TakenAt.Before(since) {
		since = snap.TakenAt
	}

	modified, err := r.store.ModifiedSince(ctx, tc.UserID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: diff query: %v", ErrStoreUnavailable, err)
	}

	var changes []EntityChange
	for _, e := range modified.Episodes {
		name := snap.EpisodeNames[e.ID]
		if name == "" {
			name = r.symptomName(ctx, tc, e.SymptomID)
		}
		before, known := snap.EpisodeStatus[e.ID]
		switch {
		case !known:
			changes = append(changes, EntityChange{
				ID: e.ID, Kind: KindSymptom, Action: ActionCreated,
				Name: name, Location: e.Location, At: e.CreatedAt,
			})
		case before != e.Status && e.Status == record.StatusResolved:
			changes = append(changes, EntityChange{
				ID: e.ID, Kind: KindSymptom, Action: ActionResolved,
				Name: name, Location: e.Location, At: e.UpdatedAt,
			})
		default:
			changes = append(changes, EntityChange{
				ID: e.ID, Kind: KindSymptom, Action: ActionUpdated,
				Name: name, Location: e.Location, At: e.UpdatedAt,
			})
		}
	}

	for _, a := range modified.Appointments {
		action := ActionUpdated
		if !snap.AppointmentIDs[a.ID] {
			action = ActionCreated
		}
		changes = append(changes, EntityChange{
			ID: a.ID, Kind: KindAppointment, Action: action, Name: a.Reason, At: a.UpdatedAt,
		})
	}

	for _, a := range modified.Assessments {
		action := ActionUpdated
		at := a.UpdatedAt
		if !snap.AssessmentIDs[a.ID] {
			action = ActionCreated
			at = a.CreatedAt
		}
		conf := a.Confidence
		changes = append(changes, EntityChange{
			ID: a.ID, Kind: KindAssessment, Action: action, Name: a.Hypothesis,
			Confidence: &conf, At: at,
		})
	}

	return changes, nil
}

func (r *Reconciler) symptomName(ctx context.Context, tc *TurnContext, symptomID uuid.UUID) string {
	if sym, ok := tc.Symptom(symptomID); ok {
		return sym.Name
	}
	sym, err := r.store.GetSymptom(ctx, symptomID)
	if err != nil {
		return ""
	}
	return sym.Name
}

// SplitChanges partitions a change list into the symptom/appointment/assessment
// lists the orchestrator returns to its caller.
func SplitChanges(changes []EntityChange) (symptoms, appointments, assessments []EntityChange) {
	for _, c := range changes {
		switch c.Kind {
		case KindSymptom:
			symptoms = append(symptoms, c)
		case KindAppointment:
			appointments = append(appointments, c)
		case KindAssessment:
			assessments = append(assessments, c)
		}
	}
	return
}
