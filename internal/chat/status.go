package chat

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type StatusType string

const (
	StatusSymptomAdded         StatusType = "symptom-added"
	StatusGeneral              StatusType = "general"
	StatusAssessmentGenerating StatusType = "assessment-generating"
	StatusAssessmentAnalyzing  StatusType = "assessment-analyzing"
	StatusAssessmentCreated    StatusType = "assessment-created"
)

// StatusEvent is the client-visible progress payload, pushed in real time
// during a turn and persisted as the assistant message's timeline. The same
// shape serializes identically whether freshly merged or replayed from storage.
type StatusEvent struct {
	Type StatusType `json:"type"`

	Message string `json:"message,omitempty"`

	SymptomName string     `json:"symptomName,omitempty"`
	EpisodeID   *uuid.UUID `json:"episodeId,omitempty"`
	Location    string     `json:"location,omitempty"`

	AssessmentID *uuid.UUID `json:"assessmentId,omitempty"`
	Hypothesis   string     `json:"hypothesis,omitempty"`
	Confidence   float64    `json:"confidence,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the fire-and-forget push boundary to connected clients.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, event StatusEvent)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, uuid.UUID, StatusEvent) {}

// eventCollector fans a turn's realtime events out to the push channel while
// keeping a copy for the merger. Events may arrive from parallel tool calls,
// so the buffer is a channel drained once at merge time.
type eventCollector struct {
	userID uuid.UUID
	pub    Publisher
	tee    chan<- StatusEvent // optional per-turn stream (SSE), may be nil
	buf    chan StatusEvent
}

func newEventCollector(userID uuid.UUID, pub Publisher, tee chan<- StatusEvent) *eventCollector {
	return &eventCollector{
		userID: userID,
		pub:    pub,
		tee:    tee,
		buf:    make(chan StatusEvent, 128),
	}
}

func (c *eventCollector) Publish(ctx context.Context, userID uuid.UUID, event StatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if c.pub != nil {
		c.pub.Publish(ctx, userID, event)
	}
	if c.tee != nil {
		select {
		case c.tee <- event:
		default:
		}
	}
	select {
	case c.buf <- event:
	default:
		// a turn producing more than the buffer holds is already pathological;
		// dropping for the merger is safe, the diff fallback still covers it
	}
}

func (c *eventCollector) Drain() []StatusEvent {
	var out []StatusEvent
	for {
		select {
		case e := <-c.buf:
			out = append(out, e)
		default:
			return out
		}
	}
}

// typePriority fixes the narrative order the client should see regardless of
// network races: generating, then symptom changes, then analyzing, then the
// rest. Groups keep their internal timestamp order.
func typePriority(t StatusType) int {
	switch t {
	case StatusAssessmentGenerating:
		return 0
	case StatusSymptomAdded:
		return 1
	case StatusAssessmentAnalyzing:
		return 2
	default:
		return 3
	}
}

func placeholderName(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "unknown", "unknown symptom":
		return true
	}
	return false
}

// MergeStatus combines realtime progress events with reconciled entity changes
// into one deduplicated, ordered timeline. Returns nil when nothing remains.
func MergeStatus(realtime []StatusEvent, changes []EntityChange) []StatusEvent {
	merged := append([]StatusEvent(nil), realtime...)

	seenAssessments := make(map[uuid.UUID]bool)
	for _, e := range realtime {
		if e.Type == StatusAssessmentCreated && e.AssessmentID != nil {
			seenAssessments[*e.AssessmentID] = true
		}
	}

	for _, c := range changes {
		switch c.Kind {
		case KindSymptom:
			if placeholderName(c.Name) {
				continue
			}
			switch c.Action {
			case ActionCreated, ActionUpdated, ActionResolved:
			default:
				continue
			}
			id := c.ID
			merged = append(merged, StatusEvent{
				Type:        StatusSymptomAdded,
				SymptomName: c.Name,
				EpisodeID:   &id,
				Location:    c.Location,
				Timestamp:   c.At,
			})
		case KindAssessment:
			if c.Action != ActionCreated || seenAssessments[c.ID] {
				continue
			}
			id := c.ID
			ev := StatusEvent{
				Type:         StatusAssessmentCreated,
				AssessmentID: &id,
				Hypothesis:   c.Name,
				Timestamp:    c.At,
			}
			if c.Confidence != nil {
				ev.Confidence = *c.Confidence
			}
			merged = append(merged, ev)
			seenAssessments[c.ID] = true
		}
	}

	var (
		out             []StatusEvent
		haveGenerating  bool
		haveAnalyzing   bool
		createdByID     = make(map[uuid.UUID]bool)
		symptomByID     = make(map[uuid.UUID]bool)
		generalMessages = make(map[string]bool)
	)
	for _, e := range merged {
		switch e.Type {
		case StatusAssessmentGenerating:
			if haveGenerating {
				continue
			}
			haveGenerating = true
		case StatusAssessmentAnalyzing:
			if haveAnalyzing {
				continue
			}
			haveAnalyzing = true
		case StatusAssessmentCreated:
			if e.AssessmentID != nil {
				if createdByID[*e.AssessmentID] {
					continue
				}
				createdByID[*e.AssessmentID] = true
			}
		case StatusGeneral:
			if generalMessages[e.Message] {
				continue
			}
			generalMessages[e.Message] = true
		case StatusSymptomAdded:
			if placeholderName(e.SymptomName) {
				continue
			}
			if e.EpisodeID != nil {
				if symptomByID[*e.EpisodeID] {
					continue
				}
				symptomByID[*e.EpisodeID] = true
			}
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := typePriority(out[i].Type), typePriority(out[j].Type)
		if pi != pj {
			return pi < pj
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if len(out) == 0 {
		return nil
	}
	return out
}

// MarshalTimeline serializes a status timeline for the assistant message row.
func MarshalTimeline(events []StatusEvent) (json.RawMessage, error) {
	if len(events) == 0 {
		return nil, nil
	}
	return json.Marshal(events)
}

// UnmarshalTimeline restores a persisted timeline for history replay.
func UnmarshalTimeline(raw json.RawMessage) ([]StatusEvent, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var events []StatusEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, err
	}
	return events, nil
}
