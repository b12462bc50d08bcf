package utils

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prperemyshlev/chatsync/internal/domain"
)

// ParseAccessToken decodes the claims of an access token without verifying its signature.
// The backend owns the signing key; the client only reads the user id and expiry.
// Opaque (non-JWT) tokens return an error and should be treated as claim-less.
func ParseAccessToken(tokenString string) (*domain.TokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	tokenClaims := &domain.TokenClaims{}

	if userID, ok := claims["user_id"].(string); ok {
		tokenClaims.UserID = userID
	} else if sub, err := claims.GetSubject(); err == nil {
		tokenClaims.UserID = sub
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tokenClaims.Exp = exp.Unix()
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		tokenClaims.Iat = iat.Unix()
	}

	return tokenClaims, nil
}
