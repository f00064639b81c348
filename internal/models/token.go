package models

import "time"

// DefaultRefreshLead is how long before expiry a token is considered stale.
const DefaultRefreshLead = 5 * time.Minute

// JwtToken is the current credential set. Immutable value: replaced wholesale
// on refresh, cleared wholesale on logout or refresh failure.
type JwtToken struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	CSRFToken    string    `json:"csrf_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry.
func (t *JwtToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// ShouldRefresh reports whether the token is within the refresh lead window.
func (t *JwtToken) ShouldRefresh(now time.Time, lead time.Duration) bool {
	if lead <= 0 {
		lead = DefaultRefreshLead
	}
	return now.After(t.ExpiresAt.Add(-lead))
}
