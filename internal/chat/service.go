package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"health-companion/internal/conversation"
	"health-companion/internal/record"
)

// LoopResult is what the tool-calling model loop hands back: the raw final
// text and, when the loop used a structured final-answer tool, the already
// parsed reply.
type LoopResult struct {
	RawText    string
	Structured *StructuredReply
}

// AgentLoop is the model-loop boundary. The runtime behind it is a black box
// that executes the Ops catalog against the turn context and returns free-form
// text; explicit change events accumulate on the context as tools run.
type AgentLoop interface {
	Run(ctx context.Context, ops *Ops, tc *TurnContext, history []*conversation.Message, userText string) (*LoopResult, error)
}

// Indexer asynchronously indexes messages for later semantic retrieval.
type Indexer interface {
	IndexMessage(ctx context.Context, conversationID, messageID uuid.UUID, role, content string) error
}

// HandoffService delivers a care-handoff report when an assessment recommends
// urgent attention.
type HandoffService interface {
	SendHandoff(ctx context.Context, tc *TurnContext, a *record.Assessment) error
}

const loopFailureMessage = "I'm sorry, something went wrong while I was thinking that over. Could you say that again?"

type TurnRequest struct {
	UserID         uuid.UUID
	ConversationID *uuid.UUID
	Message        string
}

type TurnResult struct {
	ConversationID     uuid.UUID      `json:"conversationId"`
	Reply              string         `json:"reply"`
	SymptomChanges     []EntityChange `json:"symptomChanges,omitempty"`
	AppointmentChanges []EntityChange `json:"appointmentChanges,omitempty"`
	AssessmentChanges  []EntityChange `json:"assessmentChanges,omitempty"`
	Timeline           []StatusEvent  `json:"timeline,omitempty"`
}

// Service sequences one conversation turn: hydrate, run the tool loop,
// reconcile, merge status, parse the reply, persist, index.
type Service struct {
	convRepo conversation.Repository
	store    record.Store
	hydrator *Hydrator
	recon    *Reconciler
	parser   *Parser
	loop     AgentLoop
	pub      Publisher
	indexer  Indexer
	handoff  HandoffService
	log      *zap.Logger

	// Turns on the same conversation must not interleave: the diff window and
	// the dedup-by-name index are not safe under concurrent mutation.
	turnMu   sync.Mutex
	turnLock map[uuid.UUID]*sync.Mutex
}

func NewService(
	convRepo conversation.Repository,
	store record.Store,
	hydrator *Hydrator,
	recon *Reconciler,
	parser *Parser,
	loop AgentLoop,
	pub Publisher,
	indexer Indexer,
	handoff HandoffService,
	log *zap.Logger,
) *Service {
	if pub == nil {
		pub = NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		convRepo: convRepo,
		store:    store,
		hydrator: hydrator,
		recon:    recon,
		parser:   parser,
		loop:     loop,
		pub:      pub,
		indexer:  indexer,
		handoff:  handoff,
		log:      log,
		turnLock: make(map[uuid.UUID]*sync.Mutex),
	}
}

// StartConversation creates a fresh conversation for a user.
func (s *Service) StartConversation(ctx context.Context, userID uuid.UUID, title string) (*conversation.Conversation, error) {
	c := &conversation.Conversation{
		ID:     uuid.New(),
		UserID: userID,
		Title:  title,
	}
	if err := s.convRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("%w: create conversation: %v", ErrStoreUnavailable, err)
	}
	return c, nil
}

// ListMessages returns a conversation's history for replay.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]*conversation.Message, error) {
	if _, err := s.convRepo.GetByID(ctx, conversationID, userID); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	msgs, err := s.convRepo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return msgs, nil
}

// ProcessTurn runs one conversation turn.
func (s *Service) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	return s.processTurn(ctx, req, nil)
}

// ProcessTurnStream is ProcessTurn with the turn's status events teed onto the
// given channel while the turn runs. The caller owns the channel.
func (s *Service) ProcessTurnStream(ctx context.Context, req TurnRequest, events chan<- StatusEvent) (*TurnResult, error) {
	return s.processTurn(ctx, req, events)
}

func (s *Service) processTurn(ctx context.Context, req TurnRequest, tee chan<- StatusEvent) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("message must not be empty")
	}

	// 1. Resolve or create the conversation.
	conv, err := s.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	unlock := s.lockConversation(conv.ID)
	defer unlock()

	log := s.log.With(
		zap.String("conversation_id", conv.ID.String()),
		zap.String("user_id", req.UserID.String()),
	)

	// 2. Hydrate the working set and snapshot the before-state.
	convID := conv.ID
	tc, err := s.hydrator.Hydrate(ctx, req.UserID, &convID)
	if err != nil {
		return nil, err
	}
	snap := TakeSnapshot(tc)

	// 3. Run the tool loop. Ops publish through a collector so the merger can
	// re-order events independently of their arrival.
	collector := newEventCollector(req.UserID, s.pub, tee)
	ops := NewOps(s.store, collector, log)

	history, err := s.convRepo.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", ErrStoreUnavailable, err)
	}

	loopRes, loopErr := s.loop.Run(ctx, ops, tc, history, req.Message)
	if loopErr != nil {
		// A failed model call does not abort the turn; tool calls that already
		// committed are picked up below and the user gets a degraded reply.
		log.Error("model loop failed", zap.Error(loopErr))
		loopRes = &LoopResult{}
	}

	// 4. Reconcile what actually changed.
	changes, err := s.recon.Reconcile(ctx, tc, snap)
	if err != nil {
		return nil, err
	}
	symptoms, appointments, assessments := SplitChanges(changes)

	// 5. Merge the status timeline.
	timeline := MergeStatus(collector.Drain(), changes)

	// 6. Extract the reply.
	reply := s.extractReply(loopRes, loopErr != nil)

	// 7. Persist both messages; the assistant row carries the timeline.
	now := time.Now()
	userMsg := &conversation.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           "user",
		Content:        req.Message,
		CreatedAt:      now,
	}
	assistantMsg := &conversation.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        reply,
		CreatedAt:      now.Add(time.Millisecond),
	}
	if payload, err := MarshalTimeline(timeline); err == nil {
		assistantMsg.StatusPayload = payload
	}
	if err := s.convRepo.SaveMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("%w: save user message: %v", ErrStoreUnavailable, err)
	}
	if err := s.convRepo.SaveMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("%w: save assistant message: %v", ErrStoreUnavailable, err)
	}
	if err := s.convRepo.TouchActivity(ctx, conv.ID, now); err != nil {
		log.Warn("failed to touch conversation activity", zap.Error(err))
	}

	// 8. Background work: semantic indexing, and a care handoff when the
	// assessment warrants urgent attention. Best effort, detached context.
	go s.afterTurn(tc, userMsg, assistantMsg, assessments)

	return &TurnResult{
		ConversationID:     conv.ID,
		Reply:              reply,
		SymptomChanges:     symptoms,
		AppointmentChanges: appointments,
		AssessmentChanges:  assessments,
		Timeline:           timeline,
	}, nil
}

func (s *Service) resolveConversation(ctx context.Context, req TurnRequest) (*conversation.Conversation, error) {
	if req.ConversationID != nil {
		conv, err := s.convRepo.GetByID(ctx, *req.ConversationID, req.UserID)
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("conversation %s: %w", *req.ConversationID, ErrNotFound)
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return conv, nil
	}
	title := req.Message
	if len(title) > 60 {
		title = title[:60]
	}
	return s.StartConversation(ctx, req.UserID, title)
}

func (s *Service) extractReply(res *LoopResult, loopFailed bool) string {
	if res.Structured != nil && strings.TrimSpace(res.Structured.Message) != "" {
		return res.Structured.Message
	}
	if strings.TrimSpace(res.RawText) != "" {
		return s.parser.Parse(res.RawText).Message
	}
	if loopFailed {
		return loopFailureMessage
	}
	return FallbackMessage
}

func (s *Service) afterTurn(tc *TurnContext, userMsg, assistantMsg *conversation.Message, assessments []EntityChange) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.indexer != nil {
		for _, m := range []*conversation.Message{userMsg, assistantMsg} {
			if err := s.indexer.IndexMessage(ctx, m.ConversationID, m.ID, m.Role, m.Content); err != nil {
				s.log.Warn("message indexing failed",
					zap.String("message_id", m.ID.String()), zap.Error(err))
			}
		}
	}

	if s.handoff == nil || len(assessments) == 0 {
		return
	}
	a := tc.Assessment()
	if a == nil {
		return
	}
	switch a.RecommendedAction {
	case record.ActionUrgentCare, record.ActionEmergency:
		if err := s.handoff.SendHandoff(ctx, tc, a); err != nil {
			s.log.Warn("care handoff failed",
				zap.String("assessment_id", a.ID.String()), zap.Error(err))
		}
	}
}

func (s *Service) lockConversation(id uuid.UUID) func() {
	s.turnMu.Lock()
	mu, ok := s.turnLock[id]
	if !ok {
		mu = &sync.Mutex{}
		s.turnLock[id] = mu
	}
	s.turnMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
