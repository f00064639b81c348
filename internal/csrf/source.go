// Package csrf fetches ephemeral anti-forgery tokens. Tokens are never
// cached: each mutating request gets a fresh one to keep the replay surface
// minimal.
package csrf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"synckit/internal/faults"
	"synckit/internal/transport"

	"github.com/rs/zerolog"
)

type Source struct {
	executor transport.Executor
	path     string
	logger   *zerolog.Logger
}

func NewSource(executor transport.Executor, path string, logger *zerolog.Logger) *Source {
	return &Source{executor: executor, path: path, logger: logger}
}

// GetToken fetches a fresh CSRF token. Fails closed: any server or network
// problem is an error, never an empty token.
func (s *Source) GetToken(ctx context.Context) (string, error) {
	resp, err := s.executor.Do(ctx, transport.Request{Method: http.MethodGet, Path: s.path})
	if err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	if !resp.Success() {
		return "", &faults.ServerError{Status: resp.StatusCode, Message: "csrf endpoint rejected request"}
	}

	var payload struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("decode csrf response: %w", err)
	}
	if payload.CSRFToken == "" {
		return "", &faults.ServerError{Status: resp.StatusCode, Message: "csrf response missing token"}
	}
	return payload.CSRFToken, nil
}

// GetTokenOrNull converts any failure to an absent token so callers can
// proceed without CSRF protection on endpoints that tolerate it.
func (s *Source) GetTokenOrNull(ctx context.Context) string {
	token, err := s.GetToken(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("csrf token unavailable, proceeding without")
		return ""
	}
	return token
}
