package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

const (
	accessTokenCookie    = "sAccessToken"
	refreshTokenCookie   = "sRefreshToken"
	idRefreshTokenCookie = "sIdRefreshToken"

	antiCsrfHeader       = "anti-csrf"
	ridHeader            = "rid"
	idRefreshTokenHeader = "id-refresh-token"
	frontTokenHeader     = "front-token"

	exposeHeadersHeader = "Access-Control-Expose-Headers"
)

// frontToken is the header payload frontends read to learn about the session
// without parsing the access token itself.
type frontToken struct {
	UserID       string         `json:"uid"`
	AccessExpiry int64          `json:"ate"`
	UserPayload  map[string]any `json:"up"`
}

// attachTokens writes freshly issued session credentials to the response:
// the three cookies, the id-refresh-token and front-token headers, and the
// anti-csrf header when one was minted.
func attachTokens(ctx context.Context, w http.ResponseWriter, config NormalisedConfig, tokens SessionTokens) error {
	if err := attachAccessToken(ctx, w, config, tokens.Session, tokens.AccessToken); err != nil {
		return err
	}

	setSessionCookie(ctx, w, config, refreshTokenCookie, tokens.RefreshToken.Token, config.RefreshPath, unixMilli(tokens.RefreshToken.Expiry))
	setSessionCookie(ctx, w, config, idRefreshTokenCookie, tokens.IDRefreshToken.Token, "/", unixMilli(tokens.IDRefreshToken.Expiry))
	setResponseHeader(w, idRefreshTokenHeader, fmt.Sprintf("%s;%d", tokens.IDRefreshToken.Token, tokens.IDRefreshToken.Expiry))

	if tokens.AntiCsrfToken != "" {
		setResponseHeader(w, antiCsrfHeader, tokens.AntiCsrfToken)
	}

	return nil
}

// attachAccessToken writes a re-issued access token and its front-token
// companion. Verification that passes without minting a new token attaches
// nothing.
func attachAccessToken(ctx context.Context, w http.ResponseWriter, config NormalisedConfig, s Session, token TokenInfo) error {
	setSessionCookie(ctx, w, config, accessTokenCookie, token.Token, "/", unixMilli(token.Expiry))

	front, err := json.Marshal(frontToken{
		UserID:       s.UserID,
		AccessExpiry: token.Expiry,
		UserPayload:  s.AccessTokenPayload,
	})
	if err != nil {
		return fmt.Errorf("encoding front token: %w", err)
	}

	setResponseHeader(w, frontTokenHeader, base64.StdEncoding.EncodeToString(front))

	return nil
}

// clearSessionCookies expires all three session cookies and tells the
// frontend to drop its copy of the id refresh token.
func clearSessionCookies(ctx context.Context, w http.ResponseWriter, config NormalisedConfig) {
	epoch := time.Unix(0, 0).UTC()

	setSessionCookie(ctx, w, config, accessTokenCookie, "", "/", epoch)
	setSessionCookie(ctx, w, config, idRefreshTokenCookie, "", "/", epoch)
	setSessionCookie(ctx, w, config, refreshTokenCookie, "", config.RefreshPath, epoch)
	setResponseHeader(w, idRefreshTokenHeader, "remove")
}

func setSessionCookie(ctx context.Context, w http.ResponseWriter, config NormalisedConfig, name, value, path string, expiry time.Time) {
	if config.CookieSameSite == SameSiteNone && !config.CookieSecure {
		slogctx.Warn(ctx, "Session cookie has SameSite=None without Secure, browsers will reject it", "cookie", name)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   config.CookieDomain,
		Expires:  expiry,
		Secure:   config.CookieSecure,
		HttpOnly: true,
		SameSite: sameSiteOf(config.CookieSameSite),
	})
}

func sameSiteOf(s CookieSameSite) http.SameSite {
	switch s {
	case SameSiteNone:
		return http.SameSiteNoneMode
	case SameSiteStrict:
		return http.SameSiteStrictMode
	default:
		return http.SameSiteLaxMode
	}
}

// setResponseHeader sets a session header and lists it in
// Access-Control-Expose-Headers so browser frontends can read it.
func setResponseHeader(w http.ResponseWriter, name, value string) {
	w.Header().Set(name, value)

	existing := w.Header().Get(exposeHeadersHeader)
	for _, part := range strings.Split(existing, ",") {
		if strings.TrimSpace(part) == name {
			return
		}
	}

	if existing == "" {
		w.Header().Set(exposeHeadersHeader, name)

		return
	}

	w.Header().Set(exposeHeadersHeader, existing+", "+name)
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}

	return cookie.Value
}

func antiCsrfFromRequest(r *http.Request) string {
	return r.Header.Get(antiCsrfHeader)
}

// containsCustomHeader reports whether the frontend sent the rid header,
// which cross-site form posts cannot do.
func containsCustomHeader(r *http.Request) bool {
	return r.Header.Get(ridHeader) != ""
}

func unixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
