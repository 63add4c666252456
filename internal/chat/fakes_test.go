package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"health-companion/internal/conversation"
	"health-companion/internal/record"
)

// fakeStore is an in-memory record.Store for tests.
type fakeStore struct {
	mu           sync.Mutex
	symptoms     map[uuid.UUID]*record.Symptom
	episodes     map[uuid.UUID]*record.Episode
	findings     []*record.NegativeFinding
	assessments  map[uuid.UUID]*record.Assessment
	appointments map[uuid.UUID]*record.Appointment
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		symptoms:     make(map[uuid.UUID]*record.Symptom),
		episodes:     make(map[uuid.UUID]*record.Episode),
		assessments:  make(map[uuid.UUID]*record.Assessment),
		appointments: make(map[uuid.UUID]*record.Appointment),
	}
}

func (s *fakeStore) GetSymptom(_ context.Context, id uuid.UUID) (*record.Symptom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sym, ok := s.symptoms[id]; ok {
		return sym, nil
	}
	return nil, fmt.Errorf("symptom %s: %w", id, record.ErrNotFound)
}

func (s *fakeStore) SymptomByName(_ context.Context, userID uuid.UUID, name string) (*record.Symptom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range s.symptoms {
		if sym.UserID == userID && strings.EqualFold(sym.Name, name) {
			return sym, nil
		}
	}
	return nil, fmt.Errorf("symptom %q: %w", name, record.ErrNotFound)
}

func (s *fakeStore) SymptomsByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*record.Symptom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]*record.Symptom)
	for _, id := range ids {
		if sym, ok := s.symptoms[id]; ok {
			out[id] = sym
		}
	}
	return out, nil
}

func (s *fakeStore) SaveSymptom(_ context.Context, sym *record.Symptom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symptoms[sym.ID] = sym
	return nil
}

func (s *fakeStore) GetEpisode(_ context.Context, id uuid.UUID) (*record.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.episodes[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("episode %s: %w", id, record.ErrNotFound)
}

func (s *fakeStore) ActiveEpisodesSince(_ context.Context, userID uuid.UUID, since time.Time) ([]*record.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*record.Episode
	for _, e := range s.episodes {
		if e.UserID == userID && e.Status == record.StatusActive && !e.StartedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) EpisodesBySymptomName(_ context.Context, userID uuid.UUID, name string) ([]*record.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*record.Episode
	for _, e := range s.episodes {
		sym, ok := s.symptoms[e.SymptomID]
		if ok && sym.UserID == userID && strings.EqualFold(sym.Name, name) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveEpisode(_ context.Context, e *record.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = time.Now()
	s.episodes[e.ID] = e
	return nil
}

func (s *fakeStore) NegativeFindingsSince(_ context.Context, userID uuid.UUID, since time.Time) ([]*record.NegativeFinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*record.NegativeFinding
	for _, f := range s.findings {
		if f.UserID == userID && !f.ReportedAt.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveNegativeFinding(_ context.Context, f *record.NegativeFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, f)
	return nil
}

func (s *fakeStore) GetAssessment(_ context.Context, id uuid.UUID) (*record.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assessments[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("assessment %s: %w", id, record.ErrNotFound)
}

func (s *fakeStore) AssessmentByConversation(_ context.Context, conversationID uuid.UUID) (*record.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *record.Assessment
	for _, a := range s.assessments {
		if a.ConversationID != conversationID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("assessment for conversation %s: %w", conversationID, record.ErrNotFound)
	}
	return latest, nil
}

func (s *fakeStore) SaveAssessment(_ context.Context, a *record.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.UpdatedAt = time.Now()
	for i := range a.EpisodeLinks {
		a.EpisodeLinks[i].Weight = record.ClampWeight(a.EpisodeLinks[i].Weight)
	}
	s.assessments[a.ID] = a
	return nil
}

func (s *fakeStore) AppointmentsByUser(_ context.Context, userID uuid.UUID) ([]*record.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*record.Appointment
	for _, a := range s.appointments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveAppointment(_ context.Context, a *record.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.UpdatedAt = time.Now()
	s.appointments[a.ID] = a
	return nil
}

func (s *fakeStore) ModifiedSince(_ context.Context, userID uuid.UUID, since time.Time) (*record.ModifiedSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := &record.ModifiedSet{}
	for _, e := range s.episodes {
		if e.UserID == userID && (!e.CreatedAt.Before(since) || !e.UpdatedAt.Before(since)) {
			set.Episodes = append(set.Episodes, e)
		}
	}
	for _, a := range s.appointments {
		if a.UserID == userID && (!a.CreatedAt.Before(since) || !a.UpdatedAt.Before(since)) {
			set.Appointments = append(set.Appointments, a)
		}
	}
	for _, a := range s.assessments {
		if a.UserID == userID && (!a.CreatedAt.Before(since) || !a.UpdatedAt.Before(since)) {
			set.Assessments = append(set.Assessments, a)
		}
	}
	return set, nil
}

// fakeConvRepo is an in-memory conversation.Repository.
type fakeConvRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*conversation.Conversation
	messages      map[uuid.UUID][]*conversation.Message
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		conversations: make(map[uuid.UUID]*conversation.Conversation),
		messages:      make(map[uuid.UUID][]*conversation.Message),
	}
}

func (r *fakeConvRepo) GetByID(_ context.Context, id, userID uuid.UUID) (*conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok || c.UserID != userID {
		return nil, fmt.Errorf("conversation %s: %w", id, conversation.ErrNotFound)
	}
	return c, nil
}

func (r *fakeConvRepo) Create(_ context.Context, c *conversation.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[c.ID] = c
	return nil
}

func (r *fakeConvRepo) TouchActivity(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conversations[id]; ok {
		c.LastActivityAt = at
	}
	return nil
}

func (r *fakeConvRepo) SaveMessage(_ context.Context, m *conversation.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.ConversationID] = append(r.messages[m.ConversationID], m)
	return nil
}

func (r *fakeConvRepo) ListMessages(_ context.Context, conversationID uuid.UUID) ([]*conversation.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*conversation.Message(nil), r.messages[conversationID]...), nil
}

// capturePublisher records every published event.
type capturePublisher struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (p *capturePublisher) Publish(_ context.Context, _ uuid.UUID, event StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}
