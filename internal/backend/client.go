package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tunablelabs/codebase-rag/internal/config"
	"github.com/tunablelabs/codebase-rag/internal/domain"
)

// Client talks to the remote code-analysis backend. It covers the ingestion
// steps, session listing/mutation, and opening query streams.
type Client struct {
	httpc   *http.Client
	baseURL string
	wsURL   string
	logger  *zap.Logger
}

// NewClient creates a backend client from configuration.
func NewClient(cfg config.BackendConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpc:   &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		wsURL:   strings.TrimRight(cfg.WSURL, "/"),
		logger:  logger,
	}
}

// CreateUser confirms the user identity with the backend.
func (c *Client) CreateUser(ctx context.Context, userID string) error {
	body := map[string]string{"user_id": userID}
	return c.postJSON(ctx, "/create/user", body, nil)
}

// UploadProject submits the repository source and returns the new session id.
// The form carries local_dir as "True"/"False"; when the source holds a URL
// the files are ignored, matching the backend's precedence rule.
func (c *Client) UploadProject(ctx context.Context, userID string, src domain.RepoSource) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("user_id", userID); err != nil {
		return "", fmt.Errorf("write form: %w", err)
	}
	if err := w.WriteField("local_dir", WireBool(!src.IsRemote())); err != nil {
		return "", fmt.Errorf("write form: %w", err)
	}
	if src.IsRemote() {
		if err := w.WriteField("repo", strings.TrimSpace(src.RepoURL)); err != nil {
			return "", fmt.Errorf("write form: %w", err)
		}
	} else {
		for _, f := range src.Files {
			part, err := w.CreateFormFile("files", f.Path)
			if err != nil {
				return "", fmt.Errorf("write form file %s: %w", f.Path, err)
			}
			if _, err := part.Write(f.Data); err != nil {
				return "", fmt.Errorf("write form file %s: %w", f.Path, err)
			}
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/create/session/uploadproject", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp uploadResponse
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("upload project: %w", err)
	}
	if !resp.Success || resp.SessionID == "" {
		return "", fmt.Errorf("upload project: backend did not return a session id")
	}
	c.logger.Info("project uploaded", zap.String("session_id", resp.SessionID))
	return resp.SessionID, nil
}

// TriggerStorage starts chunking and indexing of the uploaded repository.
// This call can take substantially longer than the others.
func (c *Client) TriggerStorage(ctx context.Context, userID, sessionID string) error {
	if err := c.postJSON(ctx, "/storage", userSessionRequest{UserID: userID, SessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("trigger storage: %w", err)
	}
	return nil
}

// FetchStats retrieves the indexed-repository statistics.
func (c *Client) FetchStats(ctx context.Context, userID, sessionID string) (*domain.IngestStats, error) {
	var resp statsResponse
	if err := c.postJSON(ctx, "/stats", userSessionRequest{UserID: userID, SessionID: sessionID}, &resp); err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}
	return &domain.IngestStats{
		TotalCodeFiles:       resp.Stats.TotalCodeFiles,
		LanguageDistribution: resp.Stats.LanguageDistribution,
	}, nil
}

// ListSessions returns the user's session records for catalog hydration.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]SessionRecord, error) {
	u := fmt.Sprintf("%s/session/list?user_id=%s", c.baseURL, url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var records []SessionRecord
	if err := c.do(req, &records); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return records, nil
}

// SessionExchanges returns the stored question/answer pairs of one session.
func (c *Client) SessionExchanges(ctx context.Context, userID, sessionID string) ([]ExchangeRecord, error) {
	u := fmt.Sprintf("%s/session/data?user_id=%s&session_id=%s",
		c.baseURL, url.QueryEscape(userID), url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var records []ExchangeRecord
	if err := c.do(req, &records); err != nil {
		return nil, fmt.Errorf("session data: %w", err)
	}
	return records, nil
}

// RenameSession renames a session on the backend.
func (c *Client) RenameSession(ctx context.Context, userID, sessionID, updatedName string) error {
	req := renameRequest{UserID: userID, SessionID: sessionID, UpdatedName: updatedName}
	if err := c.postJSON(ctx, "/session/rename", req, nil); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return nil
}

// DeleteSession deletes a session and its indexed data on the backend.
func (c *Client) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := c.postJSON(ctx, "/session/delete", userSessionRequest{UserID: userID, SessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var ack ackResponse
		if json.Unmarshal(data, &ack) == nil && ack.Detail != "" {
			return fmt.Errorf("backend returned %d: %s", resp.StatusCode, ack.Detail)
		}
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
