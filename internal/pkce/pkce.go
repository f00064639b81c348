// Package pkce implements the Proof Key for Code Exchange contract of the
// login flow: verifier generation, challenge derivation, and the
// code-for-token exchange. Malformed parameters are rejected before any
// network call.
package pkce

import (
	"context"
	"time"

	"synckit/internal/faults"
	"synckit/internal/models"

	"golang.org/x/oauth2"
)

// RFC 7636 verifier length bounds.
const (
	minVerifierLen = 43
	maxVerifierLen = 128
)

// Challenge is the client half of one authorization attempt. The verifier
// stays local; only the derived challenge travels with the authorization
// request.
type Challenge struct {
	Verifier string
	AuthURL  string
	State    string
}

type Flow struct {
	config *oauth2.Config
}

func NewFlow(clientID, authURL, tokenURL, redirectURL string, scopes []string) *Flow {
	return &Flow{
		config: &oauth2.Config{
			ClientID:    clientID,
			RedirectURL: redirectURL,
			Scopes:      scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
	}
}

// Start generates a fresh verifier and builds the authorization URL carrying
// its S256 challenge.
func (f *Flow) Start(state string) (*Challenge, error) {
	if state == "" {
		return nil, &faults.PKCEError{Message: "state parameter is required"}
	}

	verifier := oauth2.GenerateVerifier()
	authURL := f.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	return &Challenge{
		Verifier: verifier,
		AuthURL:  authURL,
		State:    state,
	}, nil
}

// Exchange trades the authorization code plus verifier for a token pair.
func (f *Flow) Exchange(ctx context.Context, code, verifier string) (*models.JwtToken, error) {
	if code == "" {
		return nil, &faults.PKCEError{Message: "authorization code is required"}
	}
	if err := ValidateVerifier(verifier); err != nil {
		return nil, err
	}

	tok, err := f.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, &faults.AuthError{Message: "token exchange failed: " + err.Error()}
	}

	return &models.JwtToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		IssuedAt:     time.Now(),
		ExpiresAt:    tok.Expiry,
	}, nil
}

// ValidateVerifier enforces the RFC 7636 length and character constraints.
func ValidateVerifier(verifier string) error {
	if len(verifier) < minVerifierLen || len(verifier) > maxVerifierLen {
		return &faults.PKCEError{Message: "verifier length must be between 43 and 128 characters"}
	}
	for i := 0; i < len(verifier); i++ {
		if !isUnreserved(verifier[i]) {
			return &faults.PKCEError{Message: "verifier contains characters outside the unreserved set"}
		}
	}
	return nil
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}
