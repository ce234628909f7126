package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/sessiond/sessiond-go/internal/keyset"
	"github.com/sessiond/sessiond-go/pkg/procstate"
)

// Core recipe paths.
const (
	pathSession           = "/recipe/session"
	pathSessionVerify     = "/recipe/session/verify"
	pathSessionRefresh    = "/recipe/session/refresh"
	pathSessionRemove     = "/recipe/session/remove"
	pathSessionUser       = "/recipe/session/user"
	pathSessionData       = "/recipe/session/data"
	pathJWTData           = "/recipe/jwt/data"
	pathSessionRegenerate = "/recipe/session/regenerate"
	pathHandshake         = "/recipe/handshake"
)

// Core response statuses.
const (
	statusOK                 = "OK"
	statusUnauthorised       = "UNAUTHORISED"
	statusTryRefreshToken    = "TRY_REFRESH_TOKEN"
	statusTokenTheftDetected = "TOKEN_THEFT_DETECTED"
)

type coreSession struct {
	Handle        string         `json:"handle"`
	UserID        string         `json:"userId"`
	UserDataInJWT map[string]any `json:"userDataInJWT"`
}

func (s coreSession) session() Session {
	payload := s.UserDataInJWT
	if payload == nil {
		payload = map[string]any{}
	}

	return Session{Handle: s.Handle, UserID: s.UserID, AccessTokenPayload: payload}
}

// coreSessionResponse is the token set the core returns on session creation
// and refresh.
type coreSessionResponse struct {
	Status         string      `json:"status"`
	Message        string      `json:"message"`
	Session        coreSession `json:"session"`
	AccessToken    TokenInfo   `json:"accessToken"`
	RefreshToken   TokenInfo   `json:"refreshToken"`
	IDRefreshToken TokenInfo   `json:"idRefreshToken"`
	AntiCsrfToken  string      `json:"antiCsrfToken"`

	JWTSigningPublicKey           string `json:"jwtSigningPublicKey"`
	JWTSigningPublicKeyExpiryTime int64  `json:"jwtSigningPublicKeyExpiryTime"`
}

func (c coreSessionResponse) tokens() SessionTokens {
	return SessionTokens{
		Session:        c.Session.session(),
		AccessToken:    c.AccessToken,
		RefreshToken:   c.RefreshToken,
		IDRefreshToken: c.IDRefreshToken,
		AntiCsrfToken:  c.AntiCsrfToken,
	}
}

type coreVerifyResponse struct {
	Status      string      `json:"status"`
	Message     string      `json:"message"`
	Session     coreSession `json:"session"`
	AccessToken *TokenInfo  `json:"accessToken"`

	JWTSigningPublicKey           string `json:"jwtSigningPublicKey"`
	JWTSigningPublicKeyExpiryTime int64  `json:"jwtSigningPublicKeyExpiryTime"`
}

type coreRevokeResponse struct {
	Status                string   `json:"status"`
	SessionHandlesRevoked []string `json:"sessionHandlesRevoked"`
}

type coreStatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type coreSessionInfoResponse struct {
	Status             string         `json:"status"`
	Message            string         `json:"message"`
	UserID             string         `json:"userId"`
	UserDataInDatabase map[string]any `json:"userDataInDatabase"`
	UserDataInJWT      map[string]any `json:"userDataInJWT"`
	Expiry             int64          `json:"expiry"`
	TimeCreated        int64          `json:"timeCreated"`
}

type coreRegenerateResponse struct {
	Status      string      `json:"status"`
	Session     coreSession `json:"session"`
	AccessToken *TokenInfo  `json:"accessToken"`
}

func (r *recipeImplementation) createNewSession(ctx context.Context, userID string, accessTokenPayload, sessionData map[string]any) (SessionTokens, error) {
	if accessTokenPayload == nil {
		accessTokenPayload = map[string]any{}
	}

	if sessionData == nil {
		sessionData = map[string]any{}
	}

	body := map[string]any{
		"userId":             userID,
		"userDataInJWT":      accessTokenPayload,
		"userDataInDatabase": sessionData,
		"enableAntiCsrf":     r.config.AntiCsrf == AntiCsrfViaToken,
	}

	var resp coreSessionResponse
	if err := r.core.Post(ctx, pathSession, body, &resp); err != nil {
		return SessionTokens{}, NewGeneralError(fmt.Errorf("creating session on core: %w", err))
	}

	r.cacheSigningKey(ctx, resp.JWTSigningPublicKey, resp.JWTSigningPublicKeyExpiryTime)

	return resp.tokens(), nil
}

// getSession verifies an access token locally when possible. The core is
// consulted only when the local key material cannot settle the question or
// when the token state requires a core-side update.
func (r *recipeImplementation) getSession(ctx context.Context, accessToken, antiCsrfToken string, doAntiCsrfCheck bool, idRefreshToken string) (VerifyResult, error) {
	if idRefreshToken == "" {
		return VerifyResult{}, NewUnauthorisedError("session does not exist, id refresh token is missing")
	}

	_, kid, err := parseAccessToken(accessToken)
	if err != nil {
		return VerifyResult{}, NewTryRefreshTokenError("access token is not readable")
	}

	var verified *accessTokenClaims

	key, err := r.keys.Key(ctx, kid)
	switch {
	case err == nil:
		claims, err := verifyAccessToken(accessToken, key)
		if err != nil {
			return VerifyResult{}, NewTryRefreshTokenError("access token signature is invalid")
		}

		verified = &claims
	case errors.Is(err, keyset.ErrUnknownKey):
		// Signed by a key this process does not know. The core decides.
	default:
		return VerifyResult{}, NewGeneralError(fmt.Errorf("loading signing keys: %w", err))
	}

	if verified != nil && r.config.AntiCsrf == AntiCsrfViaToken && doAntiCsrfCheck {
		if verified.AntiCsrfToken == "" ||
			subtle.ConstantTimeCompare([]byte(verified.AntiCsrfToken), []byte(antiCsrfToken)) != 1 {
			return VerifyResult{}, NewTryRefreshTokenError("anti-csrf check failed")
		}
	}

	// A token that verified locally, has already lost its parent and is not
	// expired needs no core round trip unless blacklisting demands one.
	if verified != nil && verified.ParentRefreshTokenHash1 == "" &&
		verified.ExpiryTime > time.Now().UnixMilli() && !r.keys.BlacklistingEnabled() {
		return VerifyResult{Session: verified.session()}, nil
	}

	r.config.ProcessState.Record(procstate.CallingServiceInVerify)

	body := map[string]any{
		"accessToken":     accessToken,
		"doAntiCsrfCheck": doAntiCsrfCheck,
		"enableAntiCsrf":  r.config.AntiCsrf == AntiCsrfViaToken,
	}
	if antiCsrfToken != "" {
		body["antiCsrfToken"] = antiCsrfToken
	}

	var resp coreVerifyResponse
	if err := r.core.Post(ctx, pathSessionVerify, body, &resp); err != nil {
		return VerifyResult{}, NewGeneralError(fmt.Errorf("verifying session on core: %w", err))
	}

	switch resp.Status {
	case statusOK:
		r.cacheSigningKey(ctx, resp.JWTSigningPublicKey, resp.JWTSigningPublicKeyExpiryTime)

		return VerifyResult{Session: resp.Session.session(), AccessToken: resp.AccessToken}, nil
	case statusUnauthorised:
		return VerifyResult{}, NewUnauthorisedError(resp.Message)
	case statusTryRefreshToken:
		r.cacheSigningKey(ctx, resp.JWTSigningPublicKey, resp.JWTSigningPublicKeyExpiryTime)

		return VerifyResult{}, NewTryRefreshTokenError(resp.Message)
	default:
		return VerifyResult{}, NewGeneralError(fmt.Errorf("unexpected core verify status %q", resp.Status))
	}
}

func (r *recipeImplementation) refreshSession(ctx context.Context, refreshToken, antiCsrfToken string, containsCustomHeader bool) (SessionTokens, error) {
	if r.config.AntiCsrf == AntiCsrfViaCustomHeader && !containsCustomHeader {
		err := NewUnauthorisedError("anti-csrf check failed, rid header was not passed")
		err.KeepTokens = true

		return SessionTokens{}, err
	}

	body := map[string]any{
		"refreshToken":   refreshToken,
		"enableAntiCsrf": r.config.AntiCsrf == AntiCsrfViaToken,
	}
	if antiCsrfToken != "" {
		body["antiCsrfToken"] = antiCsrfToken
	}

	var resp coreSessionResponse
	if err := r.core.Post(ctx, pathSessionRefresh, body, &resp); err != nil {
		return SessionTokens{}, NewGeneralError(fmt.Errorf("refreshing session on core: %w", err))
	}

	switch resp.Status {
	case statusOK:
		return resp.tokens(), nil
	case statusUnauthorised:
		return SessionTokens{}, NewUnauthorisedError(resp.Message)
	case statusTokenTheftDetected:
		return SessionTokens{}, NewTokenTheftDetectedError(resp.Session.Handle, resp.Session.UserID)
	default:
		return SessionTokens{}, NewGeneralError(fmt.Errorf("unexpected core refresh status %q", resp.Status))
	}
}

func (r *recipeImplementation) revokeSession(ctx context.Context, sessionHandle string) (bool, error) {
	revoked, err := r.revokeSessions(ctx, map[string]any{"sessionHandles": []string{sessionHandle}})
	if err != nil {
		return false, err
	}

	return len(revoked) > 0, nil
}

func (r *recipeImplementation) revokeAllSessionsForUser(ctx context.Context, userID string) ([]string, error) {
	return r.revokeSessions(ctx, map[string]any{"userId": userID})
}

func (r *recipeImplementation) revokeMultipleSessions(ctx context.Context, sessionHandles []string) ([]string, error) {
	if sessionHandles == nil {
		sessionHandles = []string{}
	}

	return r.revokeSessions(ctx, map[string]any{"sessionHandles": sessionHandles})
}

func (r *recipeImplementation) revokeSessions(ctx context.Context, body map[string]any) ([]string, error) {
	var resp coreRevokeResponse
	if err := r.core.Post(ctx, pathSessionRemove, body, &resp); err != nil {
		return nil, NewGeneralError(fmt.Errorf("revoking sessions on core: %w", err))
	}

	return resp.SessionHandlesRevoked, nil
}

func (r *recipeImplementation) getSessionInformation(ctx context.Context, sessionHandle string) (*SessionInformation, error) {
	query := url.Values{"sessionHandle": []string{sessionHandle}}

	var resp coreSessionInfoResponse
	if err := r.core.Get(ctx, pathSession, query, &resp); err != nil {
		return nil, NewGeneralError(fmt.Errorf("fetching session from core: %w", err))
	}

	if resp.Status != statusOK {
		return nil, nil
	}

	return &SessionInformation{
		Handle:             sessionHandle,
		UserID:             resp.UserID,
		SessionData:        resp.UserDataInDatabase,
		AccessTokenPayload: resp.UserDataInJWT,
		Expiry:             resp.Expiry,
		TimeCreated:        resp.TimeCreated,
	}, nil
}

func (r *recipeImplementation) getAllSessionHandlesForUser(ctx context.Context, userID string) ([]string, error) {
	query := url.Values{"userId": []string{userID}}

	var resp struct {
		Status         string   `json:"status"`
		SessionHandles []string `json:"sessionHandles"`
	}

	if err := r.core.Get(ctx, pathSessionUser, query, &resp); err != nil {
		return nil, NewGeneralError(fmt.Errorf("listing sessions from core: %w", err))
	}

	return resp.SessionHandles, nil
}

func (r *recipeImplementation) updateSessionData(ctx context.Context, sessionHandle string, newSessionData map[string]any) (bool, error) {
	if newSessionData == nil {
		newSessionData = map[string]any{}
	}

	body := map[string]any{
		"sessionHandle":      sessionHandle,
		"userDataInDatabase": newSessionData,
	}

	var resp coreStatusResponse
	if err := r.core.Put(ctx, pathSessionData, body, &resp); err != nil {
		return false, NewGeneralError(fmt.Errorf("updating session data on core: %w", err))
	}

	return resp.Status == statusOK, nil
}

func (r *recipeImplementation) updateAccessTokenPayload(ctx context.Context, sessionHandle string, newAccessTokenPayload map[string]any) (bool, error) {
	if newAccessTokenPayload == nil {
		newAccessTokenPayload = map[string]any{}
	}

	body := map[string]any{
		"sessionHandle": sessionHandle,
		"userDataInJWT": newAccessTokenPayload,
	}

	var resp coreStatusResponse
	if err := r.core.Put(ctx, pathJWTData, body, &resp); err != nil {
		return false, NewGeneralError(fmt.Errorf("updating access token payload on core: %w", err))
	}

	return resp.Status == statusOK, nil
}

func (r *recipeImplementation) regenerateAccessToken(ctx context.Context, accessToken string, newAccessTokenPayload map[string]any) (RegenerateResult, error) {
	body := map[string]any{"accessToken": accessToken}
	if newAccessTokenPayload != nil {
		body["userDataInJWT"] = newAccessTokenPayload
	}

	var resp coreRegenerateResponse
	if err := r.core.Post(ctx, pathSessionRegenerate, body, &resp); err != nil {
		return RegenerateResult{}, NewGeneralError(fmt.Errorf("regenerating access token on core: %w", err))
	}

	if resp.Status != statusOK {
		return RegenerateResult{}, NewUnauthorisedError("session does not exist")
	}

	return RegenerateResult{Session: resp.Session.session(), AccessToken: resp.AccessToken}, nil
}

// cacheSigningKey feeds key material piggybacked on core responses into the
// keyset so later verifications stay local.
func (r *recipeImplementation) cacheSigningKey(ctx context.Context, publicKey string, expiry int64) {
	if publicKey == "" {
		return
	}

	if _, err := r.keys.Add(publicKey, expiry); err != nil {
		slogctx.Warn(ctx, "Ignoring unusable signing key from core", "error", err)
	}
}
