package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Token is the persisted sign-in state.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Username    string    `json:"username,omitempty"`
	ObtainedAt  time.Time `json:"obtained_at,omitempty"`
}

// Empty reports whether no access token is present.
func (t Token) Empty() bool { return strings.TrimSpace(t.AccessToken) == "" }

// ExpiresAt returns the exp claim of the access token. Tokens without a
// readable exp claim report ok=false and are treated as non-expiring.
func (t Token) ExpiresAt() (time.Time, bool) {
	exp, err := jwtExpiry(t.AccessToken)
	if err != nil {
		return time.Time{}, false
	}
	return exp, true
}

// Valid reports whether the token is present and not within skew of expiry.
func (t Token) Valid(now time.Time, skew time.Duration) bool {
	if t.Empty() {
		return false
	}
	exp, ok := t.ExpiresAt()
	if !ok {
		return true
	}
	return now.Add(skew).Before(exp)
}

// jwtExpiry reads the exp claim without verifying the signature; the
// service verifies the token on every request.
func jwtExpiry(token string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return time.Time{}, errors.New("not a jwt")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, err
	}
	var claims struct {
		Exp json.Number `json:"exp"`
	}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.Exp == "" {
		return time.Time{}, errors.New("no exp claim")
	}
	secs, err := claims.Exp.Float64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(secs), 0), nil
}
