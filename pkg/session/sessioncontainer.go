package session

import (
	"context"
	"net/http"
)

// Container is the live session attached to one request. Handlers reach it
// through FromContext after VerifySession ran, or receive it from
// CreateNewSession and the API overrides.
//
// A container belongs to the request that produced it and is not safe for
// concurrent use.
type Container struct {
	recipeImpl RecipeInterface
	config     NormalisedConfig

	handle      string
	userID      string
	payload     map[string]any
	accessToken string

	revoked bool

	// Pending response instructions. Only one of these is set: a full
	// token set after create or refresh, or a re-issued access token
	// after verification or a payload change.
	newTokens      *SessionTokens
	newAccessToken *TokenInfo
}

func newContainerFromTokens(impl RecipeInterface, config NormalisedConfig, tokens SessionTokens) *Container {
	return &Container{
		recipeImpl:  impl,
		config:      config,
		handle:      tokens.Session.Handle,
		userID:      tokens.Session.UserID,
		payload:     tokens.Session.AccessTokenPayload,
		accessToken: tokens.AccessToken.Token,
		newTokens:   &tokens,
	}
}

func newContainerFromVerify(impl RecipeInterface, config NormalisedConfig, result VerifyResult, presentedToken string) *Container {
	c := &Container{
		recipeImpl:  impl,
		config:      config,
		handle:      result.Session.Handle,
		userID:      result.Session.UserID,
		payload:     result.Session.AccessTokenPayload,
		accessToken: presentedToken,
	}

	if result.AccessToken != nil {
		c.accessToken = result.AccessToken.Token
		c.newAccessToken = result.AccessToken
	}

	return c
}

// Handle returns the session handle, which is stable across refreshes.
func (c *Container) Handle() string {
	return c.handle
}

// UserID returns the user the session belongs to.
func (c *Container) UserID() string {
	return c.userID
}

// AccessToken returns the current access token for this request, which may
// have been re-issued during verification.
func (c *Container) AccessToken() string {
	return c.accessToken
}

// AccessTokenPayload returns the claims carried by the access token. Use
// UpdateAccessTokenPayload to change them.
func (c *Container) AccessTokenPayload() map[string]any {
	return c.payload
}

// SessionData fetches the server-side data of this session from the core.
func (c *Container) SessionData(ctx context.Context) (map[string]any, error) {
	info, err := c.recipeImpl.GetSessionInformation(ctx, c.handle)
	if err != nil {
		return nil, err
	}

	if info == nil {
		return nil, NewUnauthorisedError("session does not exist")
	}

	return info.SessionData, nil
}

// UpdateSessionData replaces the server-side data of this session.
func (c *Container) UpdateSessionData(ctx context.Context, newSessionData map[string]any) error {
	found, err := c.recipeImpl.UpdateSessionData(ctx, c.handle, newSessionData)
	if err != nil {
		return err
	}

	if !found {
		return NewUnauthorisedError("session does not exist")
	}

	return nil
}

// UpdateAccessTokenPayload re-issues the access token with a new payload.
// The replacement token is attached to the response when this request came
// through the middleware.
func (c *Container) UpdateAccessTokenPayload(ctx context.Context, newAccessTokenPayload map[string]any) error {
	result, err := c.recipeImpl.RegenerateAccessToken(ctx, c.accessToken, newAccessTokenPayload)
	if err != nil {
		return err
	}

	c.payload = result.Session.AccessTokenPayload

	if result.AccessToken != nil {
		c.accessToken = result.AccessToken.Token
		c.setNewAccessToken(*result.AccessToken)
	}

	return nil
}

// RevokeSession revokes this session on the core. The middleware clears the
// session cookies when the response is written.
func (c *Container) RevokeSession(ctx context.Context) error {
	if _, err := c.recipeImpl.RevokeSession(ctx, c.handle); err != nil {
		return err
	}

	c.revoked = true

	return nil
}

func (c *Container) sessionInfo() Session {
	return Session{Handle: c.handle, UserID: c.userID, AccessTokenPayload: c.payload}
}

func (c *Container) setNewAccessToken(info TokenInfo) {
	if c.newTokens != nil {
		c.newTokens.AccessToken = info
		c.newTokens.Session.AccessTokenPayload = c.payload

		return
	}

	c.newAccessToken = &info
}

// attachToResponse writes this container's pending token instructions. A
// revoked session always wins and clears the cookies.
func (c *Container) attachToResponse(ctx context.Context, w http.ResponseWriter) error {
	switch {
	case c.revoked:
		clearSessionCookies(ctx, w, c.config)

		return nil
	case c.newTokens != nil:
		return attachTokens(ctx, w, c.config, *c.newTokens)
	case c.newAccessToken != nil:
		return attachAccessToken(ctx, w, c.config, c.sessionInfo(), *c.newAccessToken)
	default:
		return nil
	}
}
