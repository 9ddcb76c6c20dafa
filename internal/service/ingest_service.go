package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tunablelabs/codebase-rag/internal/backend"
	"github.com/tunablelabs/codebase-rag/internal/catalog"
	"github.com/tunablelabs/codebase-rag/internal/config"
	"github.com/tunablelabs/codebase-rag/internal/domain"
	"github.com/tunablelabs/codebase-rag/internal/repository"
)

// IngestService drives the ordered repository ingestion pipeline: confirm
// identity, upload the source, trigger indexing, fetch statistics. A session
// is registered in the catalog only after every step has succeeded, so a
// partial ingestion never produces a visible, unusable session.
type IngestService struct {
	cfg      *config.Config
	client   *backend.Client
	catalog  *catalog.Catalog
	history  *repository.HistoryRepository
	reporter *Reporter
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight bool
}

// IngestResult is the outcome of a successful ingestion.
type IngestResult struct {
	Session domain.Session     `json:"session"`
	Stats   domain.IngestStats `json:"stats"`
}

// NewIngestService creates a new ingest service
func NewIngestService(
	cfg *config.Config,
	client *backend.Client,
	cat *catalog.Catalog,
	history *repository.HistoryRepository,
	reporter *Reporter,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		cfg:      cfg,
		client:   client,
		catalog:  cat,
		history:  history,
		reporter: reporter,
		logger:   logger,
	}
}

// Progress returns the current ingestion progress snapshot.
func (s *IngestService) Progress() Progress {
	return s.reporter.Snapshot()
}

// Ingest runs one ingestion attempt to completion or failure. Only one
// attempt may be in flight per service; a second submission is rejected
// rather than interleaved. There are no automatic retries: the caller
// re-invokes with the same source.
func (s *IngestService) Ingest(ctx context.Context, src domain.RepoSource) (*IngestResult, error) {
	if src.IsEmpty() {
		return nil, domain.ErrNoSource
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, domain.ErrIngestInFlight
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	s.reporter.Start()
	result, err := s.run(ctx, src)
	if err != nil {
		s.reporter.Fail(err)
		s.logger.Error("ingestion failed", zap.Error(err))
		return nil, err
	}
	s.reporter.Complete()
	return result, nil
}

func (s *IngestService) run(ctx context.Context, src domain.RepoSource) (*IngestResult, error) {
	userID := s.cfg.Identity.UserID

	if err := s.client.CreateUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("confirm identity: %w", err)
	}

	sessionID, err := s.client.UploadProject(ctx, userID, src)
	if err != nil {
		return nil, err
	}
	s.reporter.Observe(sessionID)

	if err := s.client.TriggerStorage(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	stats, err := s.client.FetchStats(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	name := src.DisplayName()
	if name == "" {
		name = sessionID
	}
	session := s.catalog.Create(name, sessionID)
	if s.history != nil {
		if err := s.history.SaveSession(session); err != nil {
			s.logger.Warn("failed to cache new session", zap.Error(err))
		}
	}

	s.logger.Info("repository ingested",
		zap.String("session_id", sessionID),
		zap.Int("total_code_files", stats.TotalCodeFiles),
	)
	return &IngestResult{Session: session, Stats: *stats}, nil
}
