package session

import (
	"context"
	"errors"
	"net/http"
)

// RecipeInterface is the set of session operations, exposed as function
// fields so callers can override individual behaviours while delegating the
// rest to the default implementation.
type RecipeInterface struct {
	// CreateNewSession mints a fresh session for userID on the core.
	CreateNewSession func(ctx context.Context, userID string, accessTokenPayload, sessionData map[string]any) (SessionTokens, error)

	// GetSession verifies an access token, preferring local signature
	// checks and falling back to the core when required. doAntiCsrfCheck
	// applies only in VIA_TOKEN mode.
	GetSession func(ctx context.Context, accessToken, antiCsrfToken string, doAntiCsrfCheck bool, idRefreshToken string) (VerifyResult, error)

	// RefreshSession rotates the token pair. containsCustomHeader reports
	// whether the request carried the rid header, which stands in for the
	// anti-csrf check in VIA_CUSTOM_HEADER mode.
	RefreshSession func(ctx context.Context, refreshToken, antiCsrfToken string, containsCustomHeader bool) (SessionTokens, error)

	// RevokeSession revokes one session and reports whether it existed.
	RevokeSession func(ctx context.Context, sessionHandle string) (bool, error)

	// RevokeAllSessionsForUser revokes every session of a user and returns
	// the handles that were revoked.
	RevokeAllSessionsForUser func(ctx context.Context, userID string) ([]string, error)

	// RevokeMultipleSessions revokes the given handles and returns the
	// ones that existed.
	RevokeMultipleSessions func(ctx context.Context, sessionHandles []string) ([]string, error)

	// GetSessionInformation fetches the core-side state of a session.
	// Unknown handles yield (nil, nil).
	GetSessionInformation func(ctx context.Context, sessionHandle string) (*SessionInformation, error)

	// GetAllSessionHandlesForUser lists the live sessions of a user.
	GetAllSessionHandlesForUser func(ctx context.Context, userID string) ([]string, error)

	// UpdateSessionData replaces the server-side data of a session. It
	// reports false when the handle does not exist.
	UpdateSessionData func(ctx context.Context, sessionHandle string, newSessionData map[string]any) (bool, error)

	// UpdateAccessTokenPayload replaces the payload issued with future
	// access tokens. It reports false when the handle does not exist.
	UpdateAccessTokenPayload func(ctx context.Context, sessionHandle string, newAccessTokenPayload map[string]any) (bool, error)

	// RegenerateAccessToken re-issues the given access token with a new
	// payload. A nil newAccessTokenPayload keeps the current one.
	RegenerateAccessToken func(ctx context.Context, accessToken string, newAccessTokenPayload map[string]any) (RegenerateResult, error)
}

func (r RecipeInterface) validate() error {
	if r.CreateNewSession == nil || r.GetSession == nil || r.RefreshSession == nil ||
		r.RevokeSession == nil || r.RevokeAllSessionsForUser == nil || r.RevokeMultipleSessions == nil ||
		r.GetSessionInformation == nil || r.GetAllSessionHandlesForUser == nil ||
		r.UpdateSessionData == nil || r.UpdateAccessTokenPayload == nil || r.RegenerateAccessToken == nil {
		return errors.New("recipe interface override left a function nil")
	}

	return nil
}

// APIOptions is handed to API implementations so overrides can reach the
// request, the buffered response and the default recipe functions.
type APIOptions struct {
	RecipeImplementation RecipeInterface
	Config               NormalisedConfig
	RecipeID             string

	Request  *http.Request
	Response http.ResponseWriter
}

// APIInterface holds the HTTP-facing behaviours of the recipe. Setting a
// field to nil disables that endpoint entirely; requests then fall through
// to the host application.
type APIInterface struct {
	// RefreshPOST serves the session refresh endpoint and returns the
	// refreshed session.
	RefreshPOST func(ctx context.Context, options APIOptions) (*Container, error)

	// SignOutPOST serves the signout endpoint. It revokes the current
	// session when one is attached to the request.
	SignOutPOST func(ctx context.Context, options APIOptions) (*Container, error)

	// VerifySession guards host endpoints wrapped with the middleware
	// returned by Recipe.VerifySession.
	VerifySession func(ctx context.Context, verifyOptions VerifySessionOptions, options APIOptions) (*Container, error)
}

// VerifySessionOptions tunes per-route verification.
type VerifySessionOptions struct {
	// AntiCsrfCheck forces the anti-csrf check on or off. When nil the
	// check runs for every method except GET, HEAD and OPTIONS.
	AntiCsrfCheck *bool

	// SessionRequired, when false, turns a missing session into a nil
	// container instead of an unauthorised error.
	SessionRequired *bool
}

func (o VerifySessionOptions) sessionRequired() bool {
	return o.SessionRequired == nil || *o.SessionRequired
}
