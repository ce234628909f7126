// Package session implements cookie-based session management on top of the
// core service: creating sessions, verifying and refreshing them, and the
// HTTP endpoints and middleware a host application mounts to serve it all.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sessiond/sessiond-go/internal/bufresp"
	"github.com/sessiond/sessiond-go/internal/keyset"
	"github.com/sessiond/sessiond-go/pkg/sessiond"
)

// RID is the recipe identifier sent to the core on every session call.
const RID = "session"

// Recipe is the initialised session recipe. Obtain it with FromApp after
// sessiond.Init ran.
type Recipe struct {
	recipeImpl RecipeInterface
	apiImpl    APIInterface
	config     NormalisedConfig
	keys       *keyset.Store
}

// Init returns the recipe initialiser to list in sessiond.Config.Recipes.
func Init(config Config) sessiond.RecipeInit {
	return func(app sessiond.AppInfo, core sessiond.CoreClient) (sessiond.Recipe, error) {
		return newRecipe(app, core.WithRecipeID(RID), config)
	}
}

func newRecipe(app sessiond.AppInfo, core sessiond.CoreClient, config Config) (*Recipe, error) {
	normalised, err := normaliseConfig(app, config)
	if err != nil {
		return nil, fmt.Errorf("normalising session config: %w", err)
	}

	keys := keyset.New(handshakeFetcher(core))

	recipeImpl := defaultRecipeImplementation(core, keys, normalised)
	if config.Override != nil && config.Override.Functions != nil {
		recipeImpl = config.Override.Functions(recipeImpl)
	}

	if err := recipeImpl.validate(); err != nil {
		return nil, err
	}

	apiImpl := defaultAPIImplementation()
	if config.Override != nil && config.Override.APIs != nil {
		apiImpl = config.Override.APIs(apiImpl)
	}

	return &Recipe{
		recipeImpl: recipeImpl,
		apiImpl:    apiImpl,
		config:     normalised,
		keys:       keys,
	}, nil
}

// FromApp returns the session recipe registered on app.
func FromApp(app *sessiond.App) (*Recipe, error) {
	registered, ok := app.Recipe(RID)
	if !ok {
		return nil, errors.New("session recipe is not initialised on this app")
	}

	recipe, ok := registered.(*Recipe)
	if !ok {
		return nil, fmt.Errorf("recipe %q has unexpected type %T", RID, registered)
	}

	return recipe, nil
}

func (rec *Recipe) ID() string {
	return RID
}

// Config returns the normalised recipe configuration.
func (rec *Recipe) Config() NormalisedConfig {
	return rec.config
}

// Functions returns the recipe operations with any configured overrides
// applied, for callers that work with raw tokens instead of HTTP requests.
func (rec *Recipe) Functions() RecipeInterface {
	return rec.recipeImpl
}

// Middleware serves the refresh and signout endpoints and attaches session
// tokens produced anywhere in the request to the response. Host handlers
// behind it can use VerifySession and CreateNewSession.
func (rec *Recipe) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.serveBuffered(w, r, func(bufw *bufresp.Writer, r *http.Request, holder *containerHolder) error {
			switch {
			case r.Method == http.MethodPost && r.URL.Path == rec.config.RefreshPath && rec.apiImpl.RefreshPOST != nil:
				return rec.serveRefresh(bufw, r, holder)
			case r.Method == http.MethodPost && r.URL.Path == rec.config.SignOutPath && rec.apiImpl.SignOutPOST != nil:
				return rec.serveSignOut(bufw, r, holder)
			default:
				next.ServeHTTP(bufw, r)

				return nil
			}
		})
	})
}

// VerifySession wraps a handler with session verification. The session is
// reachable through FromContext inside the handler.
func (rec *Recipe) VerifySession(options VerifySessionOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if holder, ok := holderFromContext(r.Context()); ok {
				if err := rec.verifySession(w, r, holder, options, next); err != nil {
					rec.writeError(r.Context(), w, r, err)
				}

				return
			}

			// Not running under the recipe middleware, so buffer here.
			rec.serveBuffered(w, r, func(bufw *bufresp.Writer, r *http.Request, holder *containerHolder) error {
				return rec.verifySession(bufw, r, holder, options, next)
			})
		})
	}
}

func (rec *Recipe) verifySession(w http.ResponseWriter, r *http.Request, holder *containerHolder, options VerifySessionOptions, next http.Handler) error {
	container, err := rec.apiImpl.VerifySession(r.Context(), options, rec.apiOptions(w, r))
	if err != nil {
		return err
	}

	holder.container = container

	if container != nil {
		r = r.WithContext(withContainer(r.Context(), container))
	}

	next.ServeHTTP(w, r)

	return nil
}

// CreateNewSession mints a new session for userID and attaches its tokens to
// the response of the request. The request must be served under Middleware.
func (rec *Recipe) CreateNewSession(r *http.Request, userID string, accessTokenPayload, sessionData map[string]any) (*Container, error) {
	tokens, err := rec.recipeImpl.CreateNewSession(r.Context(), userID, accessTokenPayload, sessionData)
	if err != nil {
		return nil, err
	}

	container := newContainerFromTokens(rec.recipeImpl, rec.config, tokens)

	holder, ok := holderFromContext(r.Context())
	if !ok {
		return nil, errors.New("request is not served under the session middleware")
	}

	holder.container = container

	return container, nil
}

// GetSession returns the verified session for a request outside VerifySession,
// or nil when SessionRequired is false and no session exists.
func (rec *Recipe) GetSession(r *http.Request, options VerifySessionOptions) (*Container, error) {
	container, err := rec.apiImpl.VerifySession(r.Context(), options, rec.apiOptions(bufresp.NewWriter(), r))
	if err != nil {
		return nil, err
	}

	if holder, ok := holderFromContext(r.Context()); ok {
		holder.container = container
	}

	return container, nil
}

// RevokeSession revokes one session and reports whether it existed.
func (rec *Recipe) RevokeSession(ctx context.Context, sessionHandle string) (bool, error) {
	return rec.recipeImpl.RevokeSession(ctx, sessionHandle)
}

// RevokeAllSessionsForUser revokes every session of a user and returns the
// revoked handles.
func (rec *Recipe) RevokeAllSessionsForUser(ctx context.Context, userID string) ([]string, error) {
	return rec.recipeImpl.RevokeAllSessionsForUser(ctx, userID)
}

// RevokeMultipleSessions revokes the given handles and returns the ones that
// existed.
func (rec *Recipe) RevokeMultipleSessions(ctx context.Context, sessionHandles []string) ([]string, error) {
	return rec.recipeImpl.RevokeMultipleSessions(ctx, sessionHandles)
}

// GetSessionInformation fetches the core-side state of a session. Unknown
// handles yield (nil, nil).
func (rec *Recipe) GetSessionInformation(ctx context.Context, sessionHandle string) (*SessionInformation, error) {
	return rec.recipeImpl.GetSessionInformation(ctx, sessionHandle)
}

// GetAllSessionHandlesForUser lists the live sessions of a user.
func (rec *Recipe) GetAllSessionHandlesForUser(ctx context.Context, userID string) ([]string, error) {
	return rec.recipeImpl.GetAllSessionHandlesForUser(ctx, userID)
}

// UpdateSessionData replaces the server-side data of a session. It reports
// false when the handle does not exist.
func (rec *Recipe) UpdateSessionData(ctx context.Context, sessionHandle string, newSessionData map[string]any) (bool, error) {
	return rec.recipeImpl.UpdateSessionData(ctx, sessionHandle, newSessionData)
}

// UpdateAccessTokenPayload replaces the payload issued with future access
// tokens of a session. It reports false when the handle does not exist.
func (rec *Recipe) UpdateAccessTokenPayload(ctx context.Context, sessionHandle string, newAccessTokenPayload map[string]any) (bool, error) {
	return rec.recipeImpl.UpdateAccessTokenPayload(ctx, sessionHandle, newAccessTokenPayload)
}

// serveBuffered runs serve against a buffered response, attaches any pending
// token instructions and flushes the result to w.
func (rec *Recipe) serveBuffered(w http.ResponseWriter, r *http.Request, serve func(*bufresp.Writer, *http.Request, *containerHolder) error) {
	bufw := bufresp.NewWriter()
	holder := &containerHolder{}
	r = r.WithContext(withHolder(r.Context(), holder))

	err := serve(bufw, r, holder)

	if err == nil && holder.container != nil {
		err = holder.container.attachToResponse(r.Context(), bufw)
	}

	if err != nil {
		rec.writeError(r.Context(), bufw, r, err)
	}

	// Write failures here mean the client went away.
	_ = bufw.CopyTo(w)
}

func (rec *Recipe) apiOptions(w http.ResponseWriter, r *http.Request) APIOptions {
	return APIOptions{
		RecipeImplementation: rec.recipeImpl,
		Config:               rec.config,
		RecipeID:             RID,
		Request:              r,
		Response:             w,
	}
}

type contextKey string

const (
	containerKey contextKey = "sessionContainer"
	holderKey    contextKey = "sessionHolder"
)

// containerHolder carries the session produced during a request out to the
// middleware that writes the response.
type containerHolder struct {
	container *Container
}

func withHolder(ctx context.Context, holder *containerHolder) context.Context {
	return context.WithValue(ctx, holderKey, holder)
}

func holderFromContext(ctx context.Context) (*containerHolder, bool) {
	holder, ok := ctx.Value(holderKey).(*containerHolder)

	return holder, ok
}

func withContainer(ctx context.Context, container *Container) context.Context {
	return context.WithValue(ctx, containerKey, container)
}

// FromContext returns the session that VerifySession attached to the request
// context.
func FromContext(ctx context.Context) (*Container, error) {
	container, ok := ctx.Value(containerKey).(*Container)
	if !ok || container == nil {
		return nil, errors.New("no session attached to this request context")
	}

	return container, nil
}
