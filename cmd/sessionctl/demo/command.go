// Package demo hosts a minimal application wired with the session SDK, for
// trying out a core service end to end with nothing but curl.
package demo

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sessiond/sessiond-go/internal/cmdutils"
	"github.com/sessiond/sessiond-go/internal/config"
	"github.com/sessiond/sessiond-go/pkg/session"
	"github.com/sessiond/sessiond-go/pkg/sessiond"

	slogctx "github.com/veqryn/slog-context"
)

func Cmd() *cobra.Command {
	return cmdutils.CobraCommand(
		"demo",
		"Serve the demo application",
		"Demo hosts a small application with the session middleware mounted: POST /login opens a session, GET /sessioninfo requires one, and the refresh and signout endpoints come from the SDK.",
		run,
	)
}

func run(ctx context.Context, cfg *config.Config, _ []string) error {
	app, recipe, err := cmdutils.NewApp(cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: app.Middleware(router(app, recipe)),
	}

	return serve(ctx, cfg, server)
}

func router(app *sessiond.App, recipe *session.Recipe) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := app.Hello(req.Context()); err != nil {
			slogctx.Error(req.Context(), "Core is not reachable", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/login", loginHandler(recipe))
	r.With(recipe.VerifySession(session.VerifySessionOptions{})).Get("/sessioninfo", sessionInfoHandler)

	return r
}

func loginHandler(recipe *session.Recipe) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			UserID string `json:"userId"`
		}

		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.UserID == "" {
			http.Error(w, "body must be JSON with a userId", http.StatusBadRequest)

			return
		}

		container, err := recipe.CreateNewSession(req, body.UserID, nil, nil)
		if err != nil {
			slogctx.Error(req.Context(), "Creating session failed", "error", err)
			http.Error(w, "could not create a session", http.StatusInternalServerError)

			return
		}

		slogctx.Info(req.Context(), "Session created",
			"userId", body.UserID,
			"sessionHandle", container.Handle(),
		)

		writeJSON(w, map[string]string{
			"status":        "OK",
			"sessionHandle": container.Handle(),
		})
	}
}

func sessionInfoHandler(w http.ResponseWriter, req *http.Request) {
	s, err := session.FromContext(req.Context())
	if err != nil {
		http.Error(w, "no session on the request", http.StatusInternalServerError)

		return
	}

	writeJSON(w, map[string]any{
		"sessionHandle":      s.Handle(),
		"userId":             s.UserID(),
		"accessTokenPayload": s.AccessTokenPayload(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// requestID tags every request's log lines with a correlation id.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := slogctx.With(req.Context(), "requestId", uuid.New().String())
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func serve(ctx context.Context, cfg *config.Config, server *http.Server) error {
	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// The address may carry an explicit network as network://address, which
	// lets tests bind unix sockets instead of hunting for a free TCP port.
	network := "tcp"
	if idx := strings.Index(server.Addr, "://"); idx != -1 {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	go func() {
		slogctx.Info(ctx, "Serving the demo application", "address", listener.Addr().String())

		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve the demo application", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down the server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown")

	return nil
}
