package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"health-companion/internal/record"
)

type Phase string

const (
	PhaseGathering Phase = "gathering"
	PhaseAssessing Phase = "assessing"
)

const (
	defaultEpisodeWindow = 14 * 24 * time.Hour
	defaultFindingWindow = 7 * 24 * time.Hour
)

// TurnContext is the mutable working set for one conversation turn. It is
// owned exclusively by the orchestrating call and discarded after persistence.
// Tool operations mutate it so later operations in the same turn see fresh
// state; the mutex exists because the tool loop may execute parallel tool
// calls within a turn.
type TurnContext struct {
	UserID         uuid.UUID
	ConversationID uuid.UUID
	Phase          Phase

	mu               sync.Mutex
	episodes         []*record.Episode
	symptoms         map[uuid.UUID]*record.Symptom
	openByName       map[string]*record.Episode
	negativeFindings []*record.NegativeFinding
	appointments     []*record.Appointment
	assessment       *record.Assessment

	changes []EntityChange
}

func newTurnContext(userID uuid.UUID) *TurnContext {
	return &TurnContext{
		UserID:     userID,
		Phase:      PhaseGathering,
		symptoms:   make(map[uuid.UUID]*record.Symptom),
		openByName: make(map[string]*record.Episode),
	}
}

// OpenEpisodeFor returns the most recent open episode tracked for a symptom
// name, if any. This is the duplicate-suppression index.
func (tc *TurnContext) OpenEpisodeFor(name string) (*record.Episode, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	e, ok := tc.openByName[strings.ToLower(strings.TrimSpace(name))]
	return e, ok
}

// TrackEpisode adds an episode (and its symptom) to the working set, updating
// the dedup index when the episode is open and newer than the indexed one.
func (tc *TurnContext) TrackEpisode(sym *record.Symptom, e *record.Episode) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.trackEpisodeLocked(sym, e)
}

func (tc *TurnContext) trackEpisodeLocked(sym *record.Symptom, e *record.Episode) {
	if sym != nil {
		tc.symptoms[sym.ID] = sym
	}
	for _, existing := range tc.episodes {
		if existing.ID == e.ID {
			return
		}
	}
	tc.episodes = append(tc.episodes, e)
	if sym == nil || !e.IsOpen() {
		return
	}
	key := strings.ToLower(strings.TrimSpace(sym.Name))
	if cur, ok := tc.openByName[key]; !ok || e.StartedAt.After(cur.StartedAt) {
		tc.openByName[key] = e
	}
}

// DropOpenIndex removes a symptom name from the dedup index, used when its
// tracked episode resolves.
func (tc *TurnContext) DropOpenIndex(name string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.openByName, strings.ToLower(strings.TrimSpace(name)))
}

// ActiveEpisodes returns a copy of the currently active episodes in the set.
func (tc *TurnContext) ActiveEpisodes() []*record.Episode {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]*record.Episode, 0, len(tc.episodes))
	for _, e := range tc.episodes {
		if e.IsOpen() {
			out = append(out, e)
		}
	}
	return out
}

// Symptom returns the working-set symptom for an id, if hydrated.
func (tc *TurnContext) Symptom(id uuid.UUID) (*record.Symptom, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	s, ok := tc.symptoms[id]
	return s, ok
}

// Episode returns the working-set episode for an id, if hydrated.
func (tc *TurnContext) Episode(id uuid.UUID) (*record.Episode, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, e := range tc.episodes {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

func (tc *TurnContext) AddNegativeFinding(f *record.NegativeFinding) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.negativeFindings = append(tc.negativeFindings, f)
}

func (tc *TurnContext) NegativeFindings() []*record.NegativeFinding {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]*record.NegativeFinding(nil), tc.negativeFindings...)
}

func (tc *TurnContext) TrackAppointment(a *record.Appointment) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, existing := range tc.appointments {
		if existing.ID == a.ID {
			return
		}
	}
	tc.appointments = append(tc.appointments, a)
}

func (tc *TurnContext) Appointments() []*record.Appointment {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]*record.Appointment(nil), tc.appointments...)
}

func (tc *TurnContext) SetAssessment(a *record.Assessment) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.assessment = a
	tc.Phase = PhaseAssessing
}

func (tc *TurnContext) Assessment() *record.Assessment {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.assessment
}

// RecordChange captures an explicit change event emitted by a tool operation.
// These are the preferred reconciliation input; the diff fallback only runs
// when none were recorded.
func (tc *TurnContext) RecordChange(c EntityChange) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.changes = append(tc.changes, c)
}

// Changes returns the explicit change events captured so far this turn.
func (tc *TurnContext) Changes() []EntityChange {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]EntityChange(nil), tc.changes...)
}

// Hydrator builds a TurnContext from durable state.
type Hydrator struct {
	store         record.Store
	episodeWindow time.Duration
	findingWindow time.Duration
}

func NewHydrator(store record.Store, episodeWindow, findingWindow time.Duration) *Hydrator {
	if episodeWindow <= 0 {
		episodeWindow = defaultEpisodeWindow
	}
	if findingWindow <= 0 {
		findingWindow = defaultFindingWindow
	}
	return &Hydrator{store: store, episodeWindow: episodeWindow, findingWindow: findingWindow}
}

// Hydrate loads the working set for a turn. It fails only on store errors;
// there is no partial hydration.
func (h *Hydrator) Hydrate(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID) (*TurnContext, error) {
	tc := newTurnContext(userID)
	now := time.Now()

	episodes, err := h.store.ActiveEpisodesSince(ctx, userID, now.Add(-h.episodeWindow))
	if err != nil {
		return nil, fmt.Errorf("%w: load episodes: %v", ErrStoreUnavailable, err)
	}

	symptomIDs := make([]uuid.UUID, 0, len(episodes))
	for _, e := range episodes {
		symptomIDs = append(symptomIDs, e.SymptomID)
	}
	symptoms, err := h.store.SymptomsByIDs(ctx, symptomIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: load symptoms: %v", ErrStoreUnavailable, err)
	}
	for _, e := range episodes {
		tc.TrackEpisode(symptoms[e.SymptomID], e)
	}

	findings, err := h.store.NegativeFindingsSince(ctx, userID, now.Add(-h.findingWindow))
	if err != nil {
		return nil, fmt.Errorf("%w: load negative findings: %v", ErrStoreUnavailable, err)
	}
	for _, f := range findings {
		tc.AddNegativeFinding(f)
	}

	appointments, err := h.store.AppointmentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: load appointments: %v", ErrStoreUnavailable, err)
	}
	for _, a := range appointments {
		tc.TrackAppointment(a)
	}

	if conversationID != nil {
		tc.ConversationID = *conversationID
		assessment, err := h.store.AssessmentByConversation(ctx, *conversationID)
		switch {
		case err == nil:
			tc.SetAssessment(assessment)
		case isNotFound(err):
			// no assessment yet, stay in the gathering phase
		default:
			return nil, fmt.Errorf("%w: load assessment: %v", ErrStoreUnavailable, err)
		}
	}

	return tc, nil
}
