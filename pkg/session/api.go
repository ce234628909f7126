package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/sessiond/sessiond-go/internal/bufresp"
)

func defaultAPIImplementation() APIInterface {
	return APIInterface{
		RefreshPOST:   refreshPOST,
		SignOutPOST:   signOutPOST,
		VerifySession: verifySessionAPI,
	}
}

func refreshPOST(ctx context.Context, options APIOptions) (*Container, error) {
	refreshToken := cookieValue(options.Request, refreshTokenCookie)
	if refreshToken == "" {
		return nil, NewUnauthorisedError("refresh token not found in request cookies")
	}

	tokens, err := options.RecipeImplementation.RefreshSession(ctx,
		refreshToken, antiCsrfFromRequest(options.Request), containsCustomHeader(options.Request))
	if err != nil {
		return nil, err
	}

	return newContainerFromTokens(options.RecipeImplementation, options.Config, tokens), nil
}

func signOutPOST(ctx context.Context, options APIOptions) (*Container, error) {
	notRequired := false

	container, err := sessionFromRequest(ctx, options, VerifySessionOptions{SessionRequired: &notRequired})
	if err != nil {
		return nil, err
	}

	if container == nil {
		return nil, nil
	}

	if err := container.RevokeSession(ctx); err != nil {
		return nil, err
	}

	return container, nil
}

func verifySessionAPI(ctx context.Context, verifyOptions VerifySessionOptions, options APIOptions) (*Container, error) {
	return sessionFromRequest(ctx, options, verifyOptions)
}

// sessionFromRequest reads the session credentials off the request and
// verifies them. A missing session yields (nil, nil) when the options allow
// optional sessions.
func sessionFromRequest(ctx context.Context, options APIOptions, verifyOptions VerifySessionOptions) (*Container, error) {
	idRefreshToken := cookieValue(options.Request, idRefreshTokenCookie)
	if idRefreshToken == "" {
		if verifyOptions.sessionRequired() {
			return nil, NewUnauthorisedError("session does not exist, are the session cookies being sent?")
		}

		return nil, nil
	}

	doAntiCsrfCheck := methodNeedsAntiCsrfCheck(options.Request.Method)
	if verifyOptions.AntiCsrfCheck != nil {
		doAntiCsrfCheck = *verifyOptions.AntiCsrfCheck
	}

	if doAntiCsrfCheck && options.Config.AntiCsrf == AntiCsrfViaCustomHeader && !containsCustomHeader(options.Request) {
		return nil, NewTryRefreshTokenError("anti-csrf check failed, rid header was not passed")
	}

	accessToken := cookieValue(options.Request, accessTokenCookie)

	result, err := options.RecipeImplementation.GetSession(ctx,
		accessToken, antiCsrfFromRequest(options.Request), doAntiCsrfCheck, idRefreshToken)
	if err != nil {
		return nil, err
	}

	return newContainerFromVerify(options.RecipeImplementation, options.Config, result, accessToken), nil
}

// methodNeedsAntiCsrfCheck excludes methods that browsers send without CSRF
// exposure.
func methodNeedsAntiCsrfCheck(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func (rec *Recipe) serveRefresh(bufw *bufresp.Writer, r *http.Request, holder *containerHolder) error {
	container, err := rec.apiImpl.RefreshPOST(r.Context(), rec.apiOptions(bufw, r))
	if err != nil {
		return err
	}

	holder.container = container

	if bufw.Written() {
		return nil
	}

	return writeJSON(bufw, map[string]any{})
}

func (rec *Recipe) serveSignOut(bufw *bufresp.Writer, r *http.Request, holder *containerHolder) error {
	container, err := rec.apiImpl.SignOutPOST(r.Context(), rec.apiOptions(bufw, r))
	if err != nil {
		return err
	}

	holder.container = container

	if bufw.Written() {
		return nil
	}

	return writeJSON(bufw, map[string]any{"status": "OK"})
}

// writeError translates a session error into an HTTP response, clearing the
// session cookies where the failure means the session is gone.
func (rec *Recipe) writeError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	if bufw, ok := w.(*bufresp.Writer); ok {
		bufw.Reset()
	}

	var serr *Error
	if !errors.As(err, &serr) {
		slogctx.Error(ctx, "Session request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	switch serr.Err {
	case CodeUnauthorised:
		if !serr.KeepTokens {
			clearSessionCookies(ctx, w, rec.config)
		}

		if handler := rec.config.ErrorHandlers.OnUnauthorised; handler != nil {
			handler(w, r, serr.Description)

			return
		}

		http.Error(w, "unauthorised", rec.config.SessionExpiredStatusCode)
	case CodeTryRefreshToken:
		if handler := rec.config.ErrorHandlers.OnTryRefreshToken; handler != nil {
			handler(w, r, serr.Description)

			return
		}

		http.Error(w, "try refresh token", rec.config.SessionExpiredStatusCode)
	case CodeTokenTheftDetected:
		clearSessionCookies(ctx, w, rec.config)

		if handler := rec.config.ErrorHandlers.OnTokenTheftDetected; handler != nil {
			handler(w, r, serr.SessionHandle, serr.UserID)

			return
		}

		if _, revokeErr := rec.recipeImpl.RevokeSession(ctx, serr.SessionHandle); revokeErr != nil {
			slogctx.Error(ctx, "Revoking stolen session failed",
				"sessionHandle", serr.SessionHandle, "error", revokeErr)
		}

		http.Error(w, "token theft detected", rec.config.SessionExpiredStatusCode)
	default:
		slogctx.Error(ctx, "Session request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, body any) error {
	w.Header().Set("Content-Type", "application/json")

	return json.NewEncoder(w).Encode(body)
}
