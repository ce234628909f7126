package session

// Session identifies a logged-in session and carries the claims embedded in
// its access token.
type Session struct {
	Handle             string         `json:"handle"`
	UserID             string         `json:"userId"`
	AccessTokenPayload map[string]any `json:"accessTokenPayload"`
}

// TokenInfo is an issued token together with its lifetime. Times are unix
// milliseconds.
type TokenInfo struct {
	Token       string `json:"token"`
	Expiry      int64  `json:"expiry"`
	CreatedTime int64  `json:"createdTime"`
}

// SessionTokens is the full set of credentials minted when a session is
// created or refreshed.
type SessionTokens struct {
	Session Session

	AccessToken    TokenInfo
	RefreshToken   TokenInfo
	IDRefreshToken TokenInfo

	// AntiCsrfToken is set only when anti-csrf protection is VIA_TOKEN.
	AntiCsrfToken string
}

// VerifyResult is the outcome of verifying an access token. AccessToken is
// non-nil only when verification produced a replacement token that must
// reach the client.
type VerifyResult struct {
	Session Session

	AccessToken *TokenInfo
}

// RegenerateResult is the outcome of re-issuing an access token with an
// updated payload.
type RegenerateResult struct {
	Session Session

	// AccessToken is nil when the session exists but its current access
	// token has already expired; the payload change still took effect.
	AccessToken *TokenInfo
}

// SessionInformation is the core-side view of a session, fetched by handle.
type SessionInformation struct {
	Handle             string
	UserID             string
	SessionData        map[string]any
	AccessTokenPayload map[string]any

	// Expiry is when the session as a whole lapses, unix milliseconds.
	Expiry int64

	// TimeCreated is when the session was created, unix milliseconds.
	TimeCreated int64
}
