package domain

import "time"

// TokenClaims represents the claims carried by an access token
type TokenClaims struct {
	UserID string `json:"user_id"`
	Exp    int64  `json:"exp"`
	Iat    int64  `json:"iat"`
}

// TokenPair represents a pair of access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Session is the authenticated credential state of the current device
type Session struct {
	UserID          string    `json:"userId"`
	AccessToken     string    `json:"-"`
	RefreshToken    string    `json:"-"`
	AuthenticatedAt time.Time `json:"authenticatedAt"`
}

// IsExpired checks if the token is expired
func (tc TokenClaims) IsExpired() bool {
	return tc.Exp != 0 && time.Now().Unix() > tc.Exp
}

// ExpiresWithin reports whether the token expires inside d
func (tc TokenClaims) ExpiresWithin(d time.Duration) bool {
	if tc.Exp == 0 {
		return false
	}
	return time.Now().Add(d).Unix() > tc.Exp
}

// Complete reports whether both tokens are present
func (p *TokenPair) Complete() bool {
	return p != nil && p.AccessToken != "" && p.RefreshToken != ""
}

// IsAuthenticated is true iff an access token is present
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.AccessToken != ""
}
