package session

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var signatureAlgorithms = []jose.SignatureAlgorithm{jose.RS256}

// accessTokenClaims is the claim set the core embeds in access tokens. All
// times are unix milliseconds.
type accessTokenClaims struct {
	SessionHandle           string         `json:"sessionHandle"`
	UserID                  string         `json:"userId"`
	RefreshTokenHash1       string         `json:"refreshTokenHash1"`
	ParentRefreshTokenHash1 string         `json:"parentRefreshTokenHash1,omitempty"`
	UserData                map[string]any `json:"userData"`
	AntiCsrfToken           string         `json:"antiCsrfToken,omitempty"`
	ExpiryTime              int64          `json:"expiryTime"`
	TimeCreated             int64          `json:"timeCreated"`
}

func (c accessTokenClaims) validate() error {
	if c.SessionHandle == "" || c.UserID == "" || c.RefreshTokenHash1 == "" ||
		c.ExpiryTime == 0 || c.TimeCreated == 0 {
		return errors.New("access token is missing required claims")
	}

	return nil
}

func (c accessTokenClaims) session() Session {
	payload := c.UserData
	if payload == nil {
		payload = map[string]any{}
	}

	return Session{
		Handle:             c.SessionHandle,
		UserID:             c.UserID,
		AccessTokenPayload: payload,
	}
}

// parseAccessToken reads the claims and the signing key ID without checking
// the signature. Callers must follow up with verifyAccessToken before
// trusting the claims.
func parseAccessToken(token string) (accessTokenClaims, string, error) {
	tok, err := jwt.ParseSigned(token, signatureAlgorithms)
	if err != nil {
		return accessTokenClaims{}, "", fmt.Errorf("parsing access token: %w", err)
	}

	var claims accessTokenClaims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return accessTokenClaims{}, "", fmt.Errorf("reading access token claims: %w", err)
	}

	if err := claims.validate(); err != nil {
		return accessTokenClaims{}, "", err
	}

	kid := ""
	if len(tok.Headers) > 0 {
		kid = tok.Headers[0].KeyID
	}

	return claims, kid, nil
}

// verifyAccessToken checks the token signature against key and returns the
// verified claims.
func verifyAccessToken(token string, key *rsa.PublicKey) (accessTokenClaims, error) {
	tok, err := jwt.ParseSigned(token, signatureAlgorithms)
	if err != nil {
		return accessTokenClaims{}, fmt.Errorf("parsing access token: %w", err)
	}

	var claims accessTokenClaims
	if err := tok.Claims(key, &claims); err != nil {
		return accessTokenClaims{}, fmt.Errorf("verifying access token signature: %w", err)
	}

	if err := claims.validate(); err != nil {
		return accessTokenClaims{}, err
	}

	return claims, nil
}
