package session

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sessiond/sessiond-go/pkg/procstate"
	"github.com/sessiond/sessiond-go/pkg/sessiond"
)

// AntiCsrfMode selects how requests are protected against CSRF.
type AntiCsrfMode string

const (
	// AntiCsrfViaToken pairs every access token with a random anti-csrf
	// token that the frontend must echo in the anti-csrf header.
	AntiCsrfViaToken AntiCsrfMode = "VIA_TOKEN"

	// AntiCsrfViaCustomHeader relies on the frontend sending the rid
	// header, which cross-site form posts cannot forge.
	AntiCsrfViaCustomHeader AntiCsrfMode = "VIA_CUSTOM_HEADER"

	// AntiCsrfNone disables CSRF protection.
	AntiCsrfNone AntiCsrfMode = "NONE"
)

// CookieSameSite is the SameSite attribute applied to session cookies.
type CookieSameSite string

const (
	SameSiteNone   CookieSameSite = "none"
	SameSiteLax    CookieSameSite = "lax"
	SameSiteStrict CookieSameSite = "strict"
)

// ErrorHandlers customises how session errors are written to HTTP responses.
// A nil handler keeps the default behaviour.
type ErrorHandlers struct {
	// OnUnauthorised runs when a request carries no usable session. The
	// default writes the configured session-expired status code. Session
	// cookies are cleared before the handler runs.
	OnUnauthorised func(w http.ResponseWriter, r *http.Request, message string)

	// OnTryRefreshToken runs when the access token needs refreshing. The
	// default writes the configured session-expired status code. Cookies
	// are left untouched so the frontend can still call the refresh
	// endpoint.
	OnTryRefreshToken func(w http.ResponseWriter, r *http.Request, message string)

	// OnTokenTheftDetected runs when a stolen refresh token is used. The
	// default revokes the session and writes the configured
	// session-expired status code. Session cookies are cleared before the
	// handler runs.
	OnTokenTheftDetected func(w http.ResponseWriter, r *http.Request, sessionHandle, userID string)
}

// Override swaps out parts of the recipe behaviour. Each function receives
// the default implementation and returns the one to use; callers typically
// replace a few fields and keep the rest.
type Override struct {
	Functions func(original RecipeInterface) RecipeInterface
	APIs      func(original APIInterface) APIInterface
}

// Config is the user-facing recipe configuration. Zero values pick safe
// defaults during normalisation.
type Config struct {
	// CookieDomain sets the Domain attribute on session cookies. Empty
	// scopes them to the exact API host.
	CookieDomain string

	// CookieSecure marks session cookies Secure. When nil it is derived
	// from the API domain scheme.
	CookieSecure *bool

	// CookieSameSite defaults to lax.
	CookieSameSite CookieSameSite

	// AntiCsrf defaults to VIA_CUSTOM_HEADER when CookieSameSite is none,
	// NONE otherwise.
	AntiCsrf AntiCsrfMode

	// SessionExpiredStatusCode is the status written by the default error
	// handlers. Defaults to 401.
	SessionExpiredStatusCode int

	ErrorHandlers ErrorHandlers

	Override *Override

	// ProcessState receives in-process events, mainly for tests asserting
	// on whether verification reached the core. Defaults to a discarding
	// sink.
	ProcessState procstate.Sink
}

// NormalisedConfig is the resolved recipe configuration with all defaults
// applied.
type NormalisedConfig struct {
	APIBasePath string
	RefreshPath string
	SignOutPath string

	CookieDomain   string
	CookieSecure   bool
	CookieSameSite CookieSameSite

	AntiCsrf AntiCsrfMode

	SessionExpiredStatusCode int

	ErrorHandlers ErrorHandlers

	ProcessState procstate.Sink
}

func normaliseConfig(app sessiond.AppInfo, cfg Config) (NormalisedConfig, error) {
	sameSite := cfg.CookieSameSite
	if sameSite == "" {
		sameSite = SameSiteLax
	}

	switch sameSite {
	case SameSiteNone, SameSiteLax, SameSiteStrict:
	default:
		return NormalisedConfig{}, fmt.Errorf("cookie same site %q must be one of none, lax or strict", cfg.CookieSameSite)
	}

	antiCsrf := cfg.AntiCsrf
	if antiCsrf == "" {
		if sameSite == SameSiteNone {
			antiCsrf = AntiCsrfViaCustomHeader
		} else {
			antiCsrf = AntiCsrfNone
		}
	}

	switch antiCsrf {
	case AntiCsrfViaToken, AntiCsrfViaCustomHeader, AntiCsrfNone:
	default:
		return NormalisedConfig{}, fmt.Errorf("anti-csrf mode %q must be one of VIA_TOKEN, VIA_CUSTOM_HEADER or NONE", cfg.AntiCsrf)
	}

	secure := strings.HasPrefix(app.APIDomain, "https://")
	if cfg.CookieSecure != nil {
		secure = *cfg.CookieSecure
	}

	statusCode := cfg.SessionExpiredStatusCode
	if statusCode == 0 {
		statusCode = http.StatusUnauthorized
	}

	state := cfg.ProcessState
	if state == nil {
		state = procstate.Discard
	}

	return NormalisedConfig{
		APIBasePath:              app.APIBasePath,
		RefreshPath:              app.APIFullPath("/session/refresh"),
		SignOutPath:              app.APIFullPath("/signout"),
		CookieDomain:             cfg.CookieDomain,
		CookieSecure:             secure,
		CookieSameSite:           sameSite,
		AntiCsrf:                 antiCsrf,
		SessionExpiredStatusCode: statusCode,
		ErrorHandlers:            cfg.ErrorHandlers,
		ProcessState:             state,
	}, nil
}
