// Package token holds the current JWT credential pair and performs the
// refresh exchange. The token is an immutable value: replaced wholesale on a
// successful refresh, cleared wholesale on logout or refresh failure.
//
// The manager itself is not a concurrency gate. System-wide "one refresh at
// a time" is enforced by the auth retry coordinator; Refresh must not be
// called concurrently outside that gate.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"synckit/internal/domain"
	"synckit/internal/faults"
	"synckit/internal/metrics"
	"synckit/internal/models"
	"synckit/internal/transport"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const storeKey = "auth.token"

type Manager struct {
	executor    transport.Executor
	store       domain.SecureStore
	refreshPath string
	lead        time.Duration
	logger      *zerolog.Logger

	mu      sync.RWMutex
	current *models.JwtToken
}

func NewManager(executor transport.Executor, store domain.SecureStore, refreshPath string, lead time.Duration, logger *zerolog.Logger) *Manager {
	if lead <= 0 {
		lead = models.DefaultRefreshLead
	}
	return &Manager{
		executor:    executor,
		store:       store,
		refreshPath: refreshPath,
		lead:        lead,
		logger:      logger,
	}
}

// Load restores a persisted token from the secure store, if any.
func (m *Manager) Load(ctx context.Context) error {
	raw, err := m.store.Get(ctx, storeKey)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if raw == "" {
		return nil
	}

	var tok models.JwtToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return fmt.Errorf("decode stored token: %w", err)
	}

	m.mu.Lock()
	m.current = &tok
	m.mu.Unlock()
	return nil
}

// Current returns a copy of the held token, or nil when logged out.
func (m *Manager) Current() *models.JwtToken {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	tok := *m.current
	return &tok
}

// SetToken installs a new credential set (login success) and persists it.
func (m *Manager) SetToken(ctx context.Context, tok *models.JwtToken) error {
	m.mu.Lock()
	m.current = tok
	m.mu.Unlock()

	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := m.store.Set(ctx, storeKey, string(raw)); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

// ShouldRefresh reports whether the held token is inside the refresh lead
// window. A missing token never triggers a proactive refresh.
func (m *Manager) ShouldRefresh(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && m.current.ShouldRefresh(now, m.lead)
}

// Expired reports whether the held token is past expiry. No token counts as
// expired.
func (m *Manager) Expired(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == nil || m.current.Expired(now)
}

// AuthHeader builds the Authorization header value, or "" when logged out.
func (m *Manager) AuthHeader() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.current.AccessToken == "" {
		return ""
	}
	typ := m.current.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + m.current.AccessToken
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	CSRFToken    string `json:"csrf_token"`
}

// Refresh exchanges the refresh token for a new pair. On success the held
// token is replaced atomically and persisted; on any failure all credentials
// are cleared.
func (m *Manager) Refresh(ctx context.Context) (*models.JwtToken, error) {
	m.mu.RLock()
	var refreshToken string
	if m.current != nil {
		refreshToken = m.current.RefreshToken
	}
	m.mu.RUnlock()

	if refreshToken == "" {
		metrics.IncTokenRefresh("no_refresh_token")
		return nil, &faults.AuthError{Message: "no refresh token held"}
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode refresh request: %w", err)
	}

	resp, err := m.executor.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   m.refreshPath,
		Body:   string(body),
	})
	if err != nil {
		m.clear(ctx)
		metrics.IncTokenRefresh("network_error")
		return nil, fmt.Errorf("refresh exchange: %w", err)
	}
	if !resp.Success() {
		m.clear(ctx)
		metrics.IncTokenRefresh("rejected")
		return nil, &faults.AuthError{Message: fmt.Sprintf("refresh rejected with status %d", resp.StatusCode)}
	}

	var payload refreshResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		m.clear(ctx)
		metrics.IncTokenRefresh("bad_response")
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if payload.AccessToken == "" {
		m.clear(ctx)
		metrics.IncTokenRefresh("bad_response")
		return nil, &faults.AuthError{Message: "refresh response missing access token"}
	}

	now := time.Now()
	tok := &models.JwtToken{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
		CSRFToken:    payload.CSRFToken,
		IssuedAt:     now,
		ExpiresAt:    expiryFor(payload, now),
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	if err := m.SetToken(ctx, tok); err != nil {
		m.logger.Error().Err(err).Msg("persist refreshed token failed")
	}
	metrics.IncTokenRefresh("success")
	m.logger.Info().Time("expires_at", tok.ExpiresAt).Msg("token refreshed")
	return tok, nil
}

// Clear drops all held credentials (logout or unrecoverable refresh failure).
func (m *Manager) Clear(ctx context.Context) {
	m.clear(ctx)
}

func (m *Manager) clear(ctx context.Context) {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	if err := m.store.Delete(ctx, storeKey); err != nil {
		m.logger.Error().Err(err).Msg("clear stored token failed")
	}
}

// expiryFor prefers the server-provided expires_in, falling back to the exp
// claim inside the access token when the server omits it.
func expiryFor(payload refreshResponse, now time.Time) time.Time {
	if payload.ExpiresIn > 0 {
		return now.Add(time.Duration(payload.ExpiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(payload.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	// No usable expiry anywhere: assume a short-lived token.
	return now.Add(15 * time.Minute)
}
