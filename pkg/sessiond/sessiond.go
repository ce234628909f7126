// Package sessiond bootstraps the SDK inside a host application. It connects
// to the core service, constructs the configured recipes and exposes the
// combined HTTP middleware that serves their APIs.
package sessiond

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sessiond/sessiond-go/internal/querier"
)

// CoreClient is the JSON transport recipes use to talk to the core service.
type CoreClient interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error

	// WithRecipeID returns a client that tags its calls with the given
	// recipe ID while sharing connection state with the receiver.
	WithRecipeID(rid string) CoreClient
}

// Recipe is one functional unit registered with an App.
type Recipe interface {
	// ID returns the recipe identifier sent to the core as the rid header.
	ID() string

	// Middleware serves the recipe's own endpoints and passes everything
	// else to next.
	Middleware(next http.Handler) http.Handler
}

// RecipeInit constructs a recipe from the normalised app info and a core
// client. Recipe packages expose one, typically as <pkg>.Init(config).
type RecipeInit func(app AppInfo, core CoreClient) (Recipe, error)

// App holds the initialised SDK state. Construct one with Init during
// start-up and share it by reference; tests build a fresh App per scenario.
type App struct {
	appInfo AppInfo
	core    *querier.Querier
	recipes []Recipe
	byID    map[string]Recipe
}

// Init validates the configuration, prepares the core connection and
// constructs every configured recipe.
func Init(cfg Config) (*App, error) {
	appInfo, err := cfg.AppInfo.normalise()
	if err != nil {
		return nil, fmt.Errorf("normalising app info: %w", err)
	}

	hosts, err := cfg.Core.hosts()
	if err != nil {
		return nil, fmt.Errorf("reading core connection URI: %w", err)
	}

	core, err := querier.New(querier.Config{
		Hosts:  hosts,
		APIKey: cfg.Core.APIKey,
		Client: cfg.Core.Client,
	})
	if err != nil {
		return nil, fmt.Errorf("creating core client: %w", err)
	}

	if len(cfg.Recipes) == 0 {
		return nil, errors.New("at least one recipe must be configured")
	}

	app := &App{
		appInfo: appInfo,
		core:    core,
		byID:    make(map[string]Recipe, len(cfg.Recipes)),
	}

	for _, init := range cfg.Recipes {
		recipe, err := init(appInfo, coreClient{q: core})
		if err != nil {
			return nil, fmt.Errorf("initialising recipe: %w", err)
		}

		if _, ok := app.byID[recipe.ID()]; ok {
			return nil, fmt.Errorf("recipe %q configured twice", recipe.ID())
		}

		app.recipes = append(app.recipes, recipe)
		app.byID[recipe.ID()] = recipe
	}

	return app, nil
}

// AppInfo returns the normalised application info.
func (a *App) AppInfo() AppInfo {
	return a.appInfo
}

// Middleware wraps next with every recipe's middleware, in configuration
// order. Mount it on the host router so recipe endpoints are served and
// session state reaches the handlers behind it.
func (a *App) Middleware(next http.Handler) http.Handler {
	h := next

	for i := len(a.recipes) - 1; i >= 0; i-- {
		h = a.recipes[i].Middleware(h)
	}

	return h
}

// Recipe returns the registered recipe with the given ID.
func (a *App) Recipe(id string) (Recipe, bool) {
	r, ok := a.byID[id]

	return r, ok
}

// Hello probes core connectivity without touching recipe state.
func (a *App) Hello(ctx context.Context) error {
	return a.core.Hello(ctx)
}

// APIVersion returns the core API version negotiated for this app.
func (a *App) APIVersion(ctx context.Context) (string, error) {
	return a.core.APIVersion(ctx)
}

// coreClient adapts the querier to the CoreClient interface.
type coreClient struct {
	q *querier.Querier
}

func (c coreClient) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.q.Get(ctx, path, query, out)
}

func (c coreClient) Post(ctx context.Context, path string, body, out any) error {
	return c.q.Post(ctx, path, body, out)
}

func (c coreClient) Put(ctx context.Context, path string, body, out any) error {
	return c.q.Put(ctx, path, body, out)
}

func (c coreClient) WithRecipeID(rid string) CoreClient {
	return coreClient{q: c.q.WithRecipeID(rid)}
}
