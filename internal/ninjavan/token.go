package ninjavan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// tokenLeeway keeps a token from being used right before it expires.
const tokenLeeway = 60 * time.Second

// TokenStore persists the courier access token between processes.
// LoadNinjaVanToken returns an empty token when nothing is stored.
type TokenStore interface {
	LoadNinjaVanToken(ctx context.Context) (string, time.Time, error)
	SaveNinjaVanToken(ctx context.Context, accessToken string, expiresAt time.Time) error
}

type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

func (t Token) validAt(now time.Time) bool {
	return t.AccessToken != "" && t.ExpiresAt.After(now.Add(tokenLeeway))
}

type oauthResponse struct {
	AccessToken string `json:"access_token"`
	Expires     int64  `json:"expires"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenSource hands out bearer tokens: memory first, then the stored row, then
// a fresh client-credentials exchange.
type TokenSource struct {
	cfg        Config
	httpClient *http.Client
	store      TokenStore
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	cached  Token
	revoked string
	group   singleflight.Group
}

func NewTokenSource(cfg Config, httpClient *http.Client, store TokenStore, logger *zap.Logger) *TokenSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenSource{
		cfg:        cfg,
		httpClient: httpClient,
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.cached.validAt(s.now()) {
		token := s.cached.AccessToken
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	// the refresh is shared, so it must outlive the caller that started it
	ch := s.group.DoChan("token", func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout())
		defer cancel()
		return s.refresh(refreshCtx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Token).AccessToken, nil
	}
}

func (s *TokenSource) refreshTimeout() time.Duration {
	if s.cfg.Timeout > 0 {
		return s.cfg.Timeout
	}
	return 20 * time.Second
}

// Invalidate drops a token the API has rejected so the next call fetches a new one.
func (s *TokenSource) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached.AccessToken == token {
		s.cached = Token{}
	}
	s.revoked = token
}

func (s *TokenSource) refresh(ctx context.Context) (Token, error) {
	now := s.now()

	s.mu.Lock()
	if s.cached.validAt(now) {
		token := s.cached
		s.mu.Unlock()
		return token, nil
	}
	revoked := s.revoked
	s.mu.Unlock()

	if s.store != nil {
		accessToken, expiresAt, err := s.store.LoadNinjaVanToken(ctx)
		if err != nil {
			s.logger.Warn("ninjavan token load failed", zap.Error(err))
		} else {
			stored := Token{AccessToken: accessToken, ExpiresAt: expiresAt}
			if stored.validAt(now) && stored.AccessToken != revoked {
				s.setCached(stored)
				return stored, nil
			}
		}
	}

	token, err := s.exchange(ctx)
	if err != nil {
		return Token{}, err
	}
	if s.store != nil {
		if err := s.store.SaveNinjaVanToken(ctx, token.AccessToken, token.ExpiresAt); err != nil {
			s.logger.Warn("ninjavan token save failed", zap.Error(err))
		}
	}
	s.setCached(token)
	return token, nil
}

func (s *TokenSource) setCached(token Token) {
	s.mu.Lock()
	s.cached = token
	s.mu.Unlock()
}

func (s *TokenSource) exchange(ctx context.Context) (Token, error) {
	payload, err := json.Marshal(map[string]string{
		"client_id":     s.cfg.ClientID,
		"client_secret": s.cfg.ClientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return Token{}, err
	}

	endpoint := fmt.Sprintf("%s/%s/2.0/oauth/access_token", s.cfg.BaseURL, s.cfg.CountryCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("ninjavan oauth: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}

	var out oauthResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Token{}, fmt.Errorf("ninjavan oauth: decode: %w", err)
	}
	if out.AccessToken == "" {
		return Token{}, fmt.Errorf("ninjavan oauth: empty access token")
	}

	now := s.now()
	expiresAt := now.Add(time.Hour)
	switch {
	case out.Expires > 0:
		expiresAt = time.Unix(out.Expires, 0)
	case out.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	s.logger.Info("ninjavan token refreshed", zap.Time("expires_at", expiresAt))
	return Token{AccessToken: out.AccessToken, ExpiresAt: expiresAt}, nil
}
