package service

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tunablelabs/codebase-rag/internal/backend"
	"github.com/tunablelabs/codebase-rag/internal/catalog"
	"github.com/tunablelabs/codebase-rag/internal/config"
	"github.com/tunablelabs/codebase-rag/internal/domain"
	"github.com/tunablelabs/codebase-rag/internal/repository"
)

// QueryState tracks where the current question is in its lifecycle.
type QueryState string

const (
	StateIdle         QueryState = "idle"
	StateSending      QueryState = "sending"
	StateStreaming    QueryState = "streaming"
	StateComplete     QueryState = "complete"
	StateErrored      QueryState = "errored"
	StateLimitReached QueryState = "limit_reached"
)

const defaultLimitNotice = "Query limit reached."

// MessageEvent carries one observable update of an in-flight question: the
// current shape of the answer message plus the orchestrator state. Notice is
// set when the update was caused by a limit or failure.
type MessageEvent struct {
	SessionID string
	Message   domain.Message
	State     QueryState
	Notice    string
}

// correlation pins an in-flight stream to the session and answer message it
// was started for. Frames arriving after the user moved on are dropped.
type correlation struct {
	sessionID string
	messageID string
}

// QueryService owns the question lifecycle: it appends the user's question
// and a growing answer message to the ledger, relays the question over the
// backend stream, and folds inbound frames into the answer as they arrive.
// One question at a time; a second Ask while one is in flight is rejected.
type QueryService struct {
	cfg     *config.Config
	client  *backend.Client
	catalog *catalog.Catalog
	history *repository.HistoryRepository
	logger  *zap.Logger

	mu      sync.Mutex
	state   QueryState
	tracked correlation
}

// NewQueryService creates a new query service
func NewQueryService(
	cfg *config.Config,
	client *backend.Client,
	cat *catalog.Catalog,
	history *repository.HistoryRepository,
	logger *zap.Logger,
) *QueryService {
	return &QueryService{
		cfg:     cfg,
		client:  client,
		catalog: cat,
		history: history,
		logger:  logger,
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *QueryService) State() QueryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ask submits a question against the active session and returns a channel of
// message events. The channel closes once the answer reaches a terminal
// state. The first two events carry the appended user message and the empty
// answer placeholder.
func (s *QueryService) Ask(ctx context.Context, question string) (<-chan MessageEvent, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}
	active, ok := s.catalog.Active()
	if !ok {
		return nil, domain.ErrNoActiveSession
	}

	s.mu.Lock()
	if s.state == StateSending || s.state == StateStreaming {
		s.mu.Unlock()
		return nil, domain.ErrQueryInFlight
	}
	s.state = StateSending
	s.mu.Unlock()

	userMsg, err := s.catalog.Append(active.ID, domain.Message{
		Role: domain.RoleUser,
		Text: question,
	})
	if err != nil {
		s.setState(StateIdle)
		return nil, err
	}
	answer, err := s.catalog.Append(active.ID, domain.Message{
		ID:   uuid.New().String(),
		Role: domain.RoleBot,
	})
	if err != nil {
		s.setState(StateIdle)
		return nil, err
	}

	s.mu.Lock()
	s.tracked = correlation{sessionID: active.ID, messageID: answer.ID}
	s.mu.Unlock()

	events := make(chan MessageEvent, 64)
	go s.run(ctx, question, active.ID, userMsg, answer, events)
	return events, nil
}

func (s *QueryService) run(ctx context.Context, question, sessionID string, userMsg, answer domain.Message, events chan<- MessageEvent) {
	defer close(events)
	// An abandoned stream reaches no terminal state; the lifecycle must
	// still return to idle so the next question is accepted.
	defer func() {
		s.mu.Lock()
		if s.state == StateSending || s.state == StateStreaming {
			s.state = StateIdle
		}
		s.mu.Unlock()
	}()

	s.emit(events, MessageEvent{SessionID: sessionID, Message: userMsg, State: StateSending})
	s.emit(events, MessageEvent{SessionID: sessionID, Message: answer, State: StateSending})

	env := backend.QueryEnvelope{
		UserID:    s.cfg.Identity.UserID,
		SessionID: sessionID,
		Query:     question,
		SysPrompt: s.cfg.Query.SysPrompt,
		ASTFlag:   backend.WireBool(s.cfg.Query.IncludeAST),
		UseLLM:    backend.WireBool(s.cfg.Query.Evaluate),
		Limit:     s.cfg.Query.Limit,
	}
	stream, err := s.client.OpenQueryStream(ctx, env)
	if err != nil {
		s.logger.Error("failed to open query stream", zap.Error(err))
		s.fail(ctx, events, sessionID, answer.ID, err.Error())
		return
	}
	defer stream.Close()
	s.setState(StateStreaming)

	var text strings.Builder
	for frame := range stream.Frames() {
		if !s.stillTracked(sessionID, answer.ID) {
			s.logger.Debug("dropping frames for superseded stream",
				zap.String("session_id", sessionID))
			return
		}
		switch {
		case frame.LimitReached:
			notice := frame.Message
			if notice == "" {
				notice = defaultLimitNotice
			}
			// The limit notice replaces whatever partial answer arrived.
			s.catalog.UpdateByID(sessionID, answer.ID, domain.MessagePatch{Text: &notice})
			s.finish(ctx, events, sessionID, answer.ID, StateLimitReached, notice)
			return
		case frame.Error != "":
			s.fail(ctx, events, sessionID, answer.ID, frame.Error)
			return
		case frame.Complete:
			s.finish(ctx, events, sessionID, answer.ID, StateComplete, "")
			return
		case frame.Metric != nil:
			s.catalog.UpdateByID(sessionID, answer.ID, domain.MessagePatch{Metric: frame.Metric})
			s.emitCurrent(events, sessionID, answer.ID, StateStreaming, "")
		case frame.PartialResponse != "":
			text.WriteString(frame.PartialResponse)
			full := text.String()
			s.catalog.UpdateByID(sessionID, answer.ID, domain.MessagePatch{Text: &full})
			s.emitCurrent(events, sessionID, answer.ID, StateStreaming, "")
		}
	}

	if !s.stillTracked(sessionID, answer.ID) {
		return
	}
	if err := stream.Err(); err != nil {
		s.fail(ctx, events, sessionID, answer.ID, err.Error())
		return
	}
	s.finish(ctx, events, sessionID, answer.ID, StateComplete, "")
}

// fail appends the failure notice below whatever partial text arrived and
// moves the lifecycle to errored.
func (s *QueryService) fail(ctx context.Context, events chan<- MessageEvent, sessionID, messageID, reason string) {
	notice := "The query could not be completed: " + reason
	current, ok := s.catalog.Message(sessionID, messageID)
	text := notice
	if ok && current.Text != "" {
		text = current.Text + "\n\n" + notice
	}
	s.catalog.UpdateByID(sessionID, messageID, domain.MessagePatch{Text: &text})
	s.finish(ctx, events, sessionID, messageID, StateErrored, notice)
}

// finish records the terminal state, emits the final event, and mirrors the
// completed exchange into the local cache. The terminal event is never
// dropped: unlike streaming updates it blocks until the consumer takes it
// or gives up.
func (s *QueryService) finish(ctx context.Context, events chan<- MessageEvent, sessionID, messageID string, state QueryState, notice string) {
	s.setState(state)
	s.catalog.Touch(sessionID)
	if msg, ok := s.catalog.Message(sessionID, messageID); ok {
		ev := MessageEvent{SessionID: sessionID, Message: msg, State: state, Notice: notice}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	s.persist(sessionID)
}

func (s *QueryService) emitCurrent(events chan<- MessageEvent, sessionID, messageID string, state QueryState, notice string) {
	msg, ok := s.catalog.Message(sessionID, messageID)
	if !ok {
		return
	}
	s.emit(events, MessageEvent{SessionID: sessionID, Message: msg, State: state, Notice: notice})
}

func (s *QueryService) emit(events chan<- MessageEvent, ev MessageEvent) {
	select {
	case events <- ev:
	default:
		s.logger.Warn("dropping message event, consumer too slow",
			zap.String("session_id", ev.SessionID))
	}
}

func (s *QueryService) persist(sessionID string) {
	if s.history == nil {
		return
	}
	session, ok := s.catalog.Get(sessionID)
	if !ok {
		return
	}
	if err := s.history.SaveSession(session); err != nil {
		s.logger.Warn("failed to cache session", zap.Error(err))
		return
	}
	for i, m := range session.Messages {
		if err := s.history.SaveMessage(m, i); err != nil {
			s.logger.Warn("failed to cache message", zap.Error(err))
			return
		}
	}
}

func (s *QueryService) setState(state QueryState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// stillTracked reports whether inbound frames still belong to the message
// the user is looking at. A session switch or a newer question untracks the
// old stream; its frames are then discarded without touching the ledger.
func (s *QueryService) stillTracked(sessionID, messageID string) bool {
	if s.catalog.ActiveID() != sessionID {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracked.sessionID == sessionID && s.tracked.messageID == messageID
}
