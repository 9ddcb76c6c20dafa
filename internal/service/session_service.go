package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tunablelabs/codebase-rag/internal/backend"
	"github.com/tunablelabs/codebase-rag/internal/catalog"
	"github.com/tunablelabs/codebase-rag/internal/config"
	"github.com/tunablelabs/codebase-rag/internal/domain"
	"github.com/tunablelabs/codebase-rag/internal/repository"
)

// SessionService applies confirm-then-mutate semantics to catalog mutations:
// the backend call is issued first and local state changes only on success,
// so there is never an optimistic value to roll back. Mutations for one
// session id are serialized so a rename issued after a delete can never
// resurrect the row.
type SessionService struct {
	cfg     *config.Config
	client  *backend.Client
	catalog *catalog.Catalog
	history *repository.HistoryRepository
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSessionService creates a new session service
func NewSessionService(
	cfg *config.Config,
	client *backend.Client,
	cat *catalog.Catalog,
	history *repository.HistoryRepository,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		cfg:     cfg,
		client:  client,
		catalog: cat,
		history: history,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Sessions returns catalog snapshots in insertion order.
func (s *SessionService) Sessions() []domain.Session {
	return s.catalog.List()
}

// ActiveID returns the active session id, "" when none.
func (s *SessionService) ActiveID() string {
	return s.catalog.ActiveID()
}

// Select marks a session active.
func (s *SessionService) Select(sessionID string) error {
	return s.catalog.Select(sessionID)
}

// Messages returns the ledger snapshot of one session.
func (s *SessionService) Messages(sessionID string) ([]domain.Message, error) {
	if _, ok := s.catalog.Get(sessionID); !ok {
		return nil, domain.ErrNotFound
	}
	return s.catalog.Messages(sessionID), nil
}

// Rename renames a session, backend first. On failure local state is left
// unchanged and the error is surfaced.
func (s *SessionService) Rename(ctx context.Context, sessionID, name string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, ok := s.catalog.Get(sessionID)
	if !ok {
		return domain.ErrNotFound
	}
	if err := s.client.RenameSession(ctx, s.cfg.Identity.UserID, sessionID, name); err != nil {
		return err
	}
	if err := s.catalog.Rename(sessionID, name); err != nil {
		return err
	}
	if s.history != nil {
		session.DisplayName = name
		if err := s.history.SaveSession(session); err != nil {
			s.logger.Warn("failed to cache rename", zap.Error(err))
		}
	}
	return nil
}

// Delete deletes a session, backend first. When the deleted session was
// active, the catalog falls back to the most recently created remaining one.
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := s.catalog.Get(sessionID); !ok {
		return domain.ErrNotFound
	}
	if err := s.client.DeleteSession(ctx, s.cfg.Identity.UserID, sessionID); err != nil {
		return err
	}
	if err := s.catalog.Remove(sessionID); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.DeleteSession(sessionID); err != nil {
			s.logger.Warn("failed to evict deleted session from cache", zap.Error(err))
		}
	}
	return nil
}

// Hydrate rebuilds the catalog from the backend's session list and stored
// conversations. When the backend is unreachable it falls back to the local
// cache so past conversations remain readable.
func (s *SessionService) Hydrate(ctx context.Context) error {
	userID := s.cfg.Identity.UserID

	records, err := s.client.ListSessions(ctx, userID)
	if err != nil {
		if s.history != nil {
			cached, cerr := s.history.LoadSessions()
			if cerr == nil && len(cached) > 0 {
				s.catalog.Hydrate(cached)
				s.logger.Warn("backend unreachable, catalog loaded from local cache", zap.Error(err))
				return nil
			}
		}
		return fmt.Errorf("hydrate catalog: %w", err)
	}

	sessions := make([]domain.Session, 0, len(records))
	for _, rec := range records {
		exchanges, err := s.client.SessionExchanges(ctx, userID, rec.SessionID)
		if err != nil {
			return fmt.Errorf("hydrate session %s: %w", rec.SessionID, err)
		}

		name := rec.SessionName
		if name == "" {
			name = rec.SessionID
		}
		session := domain.Session{
			ID:          rec.SessionID,
			DisplayName: name,
			CreatedAt:   backend.ParseTime(rec.CreatedAt),
			LastActive:  backend.ParseTime(rec.LastActive),
		}
		// The backend stores conversations as question/answer pairs; expand
		// each pair into the user and bot ledger entries.
		for _, ex := range exchanges {
			ts := backend.ParseTime(ex.Timestamp)
			session.Messages = append(session.Messages,
				domain.Message{
					ID:        uuid.New().String(),
					SessionID: rec.SessionID,
					Role:      domain.RoleUser,
					Text:      ex.Query,
					Timestamp: ts,
				},
				domain.Message{
					ID:        uuid.New().String(),
					SessionID: rec.SessionID,
					Role:      domain.RoleBot,
					Text:      ex.Response,
					Metric:    ex.Metric,
					Timestamp: ts,
				},
			)
		}
		sessions = append(sessions, session)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	s.catalog.Hydrate(sessions)

	if s.history != nil {
		if err := s.history.ReplaceAll(sessions); err != nil {
			s.logger.Warn("failed to refresh local cache", zap.Error(err))
		}
	}
	s.logger.Info("catalog hydrated", zap.Int("sessions", len(sessions)))
	return nil
}

// lockFor returns the mutation lock for one session id. Serializing through
// a per-session mutex makes each mutation wait for the prior one to settle.
func (s *SessionService) lockFor(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[sessionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[sessionID] = l
	return l
}
