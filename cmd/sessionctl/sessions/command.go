package sessions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sessiond/sessiond-go/internal/cmdutils"
	"github.com/sessiond/sessiond-go/internal/config"
	"github.com/sessiond/sessiond-go/pkg/session"
)

func Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage sessions on the core",
	}

	cmd.AddCommand(
		createCmd(),
		verifyCmd(),
		refreshCmd(),
		handlesCmd(),
		infoCmd(),
		revokeCmd(),
		revokeUserCmd(),
		updateDataCmd(),
		updatePayloadCmd(),
	)

	return cmd
}

// withRecipe builds the SDK before handing off, so every subcommand body
// works directly with the session recipe.
func withRecipe(fn func(ctx context.Context, recipe *session.Recipe, args []string) error) func(context.Context, *config.Config, []string) error {
	return func(ctx context.Context, cfg *config.Config, args []string) error {
		_, recipe, err := cmdutils.NewApp(cfg)
		if err != nil {
			return err
		}

		return fn(ctx, recipe, args)
	}
}

func parseJSONMap(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}

	return m, nil
}

func createCmd() *cobra.Command {
	var payloadJSON, dataJSON string

	cmd := cmdutils.CobraCommand(
		"create <userID>",
		"Create a new session",
		"Create mints a session for the given user on the core and prints the full token set.",
		withRecipe(func(ctx context.Context, recipe *session.Recipe, args []string) error {
			payload, err := parseJSONMap(payloadJSON)
			if err != nil {
				return fmt.Errorf("parsing --payload: %w", err)
			}

			data, err := parseJSONMap(dataJSON)
			if err != nil {
				return fmt.Errorf("parsing --data: %w", err)
			}

			tokens, err := recipe.Functions().CreateNewSession(ctx, args[0], payload, data)
			if err != nil {
				return err
			}

			return cmdutils.PrintJSON(tokens)
		}),
	)
	cmd.Args = cobra.ExactArgs(1)
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "access token payload as JSON")
	cmd.Flags().StringVar(&dataJSON, "data", "", "session data as JSON")

	return cmd
}

func verifyCmd() *cobra.Command {
	var (
		antiCsrf      string
		checkAntiCsrf bool
	)

	cmd := cmdutils.CobraCommand(
		"verify <accessToken> <idRefreshToken>",
		"Verify an access token",
		"Verify checks an access token locally where possible, consulting the core otherwise, and prints the session it belongs to.",
		withRecipe(func(ctx context.Context, recipe *session.Recipe, args []string) error {
			result, err := recipe.Functions().GetSession(ctx, args[0], antiCsrf, checkAntiCsrf, args[1])
			if err != nil {
				return err
			}

			out := map[string]any{
				"status":  "OK",
				"session": result.Session,
			}
			if result.AccessToken != nil {
				out["accessToken"] = result.AccessToken
			}

			return cmdutils.PrintJSON(out)
		}),
	)
	cmd.Args = cobra.ExactArgs(2)
	cmd.Flags().StringVar(&antiCsrf, "anti-csrf", "", "anti-csrf token minted with the session")
	cmd.Flags().BoolVar(&checkAntiCsrf, "check-anti-csrf", false, "enforce the anti-csrf check")

	return cmd
}

func refreshCmd() *cobra.Command {
	var antiCsrf string

	cmd := cmdutils.CobraCommand(
		"refresh <refreshToken>",
		"Rotate a session's tokens",
		"Refresh exchanges a refresh token for a new token set on the core and prints it.",
		withRecipe(func(ctx context.Context, recipe *session.Recipe, args []string) error {
			tokens, err := recipe.Functions().RefreshSession(ctx, args[0], antiCsrf, true)
			if err != nil {
				return err
			}

			return cmdutils.PrintJSON(tokens)
		}),
	)
	cmd.Args = cobra.ExactArgs(1)
	cmd.Flags().StringVar(&antiCsrf, "anti-csrf", "", "anti-csrf token minted with the session")

	return cmd
}

func handlesCmd() *cobra.Command {
	cmd := cmdutils.CobraCommand(
		"handles <userID>",
		"List a user's session handles",
		"Handles prints the handle of every active session belonging to the given user.",
		withRecipe(func(ctx context.Context, recipe *session.Recipe, args []string) error {
			handles, err := recipe.GetAllSessionHandlesForUser(ctx, args[0])
			if err != nil {
				return err
			}

			return cmdutils.PrintJSON(map[string]any{
				"status":         "OK",
				"sessionHandles": handles,
			})
		}),
	)
	cmd.Args = cobra.ExactArgs(1)

	return cmd
}

func infoCmd() *cobra.Command {
	cmd := cmdutils.CobraCommand(
		"info <sessionHandle>",
		"Show a session",
		"Info prints the stored state of one session: its user, session data, token payload and expiry.",
		withRecipe(func(ctx context.Context, recipe *session.Recipe, args []string) error {
			info, err := recipe.GetSessionInformation(ctx, args[0])
			if err != nil {
				return err
			}

			if info == nil {
				return fmt.Errorf("session %q does not exist", args[0])
			}

			return cmdutils.PrintJSON(info)
		}),
	)
	cmd.Args = cobra.ExactArgs(1)

	return cmd
}

func revokeCmd() *cobra.Command {
	cmd := cmdutils.CobraCommand(
		"revoke <sessionHandle>...",
		"Revoke sessions by handle",
		"Revoke removes the named sessions from the core and prints the handles that were actually revoked.",
		withRecipe(func(ctx context.Context, recipe *session.Recipe, args []string) error {
			revoked, err := recipe.RevokeMultipleSessions(ctx, args)
			if err != nil {
				return err
			}

			return cmdutils.PrintJSON(map[string]any{
				"status":                "OK",
				"sessionHandlesRevoked": revoked,
			})
		}),
	)
	cmd.Args = cobra.MinimumNArgs(1)

	return cmd
}

func revokeUserCmd() *cobra.Command {
	cmd := cmdutils.CobraCommand(
		"revoke-user <userID>",
		"Revoke all of a user's sessions",
		"Revoke-user removes every session belonging to the given user and prints the revoked handles.",
		withRecipe(func(ctx context.Context, recipe *session.Recipe, args []string) error {
			revoked, err := recipe.RevokeAllSessionsForUser(ctx, args[0])
			if err != nil {
				return err
			}

			return cmdutils.PrintJSON(map[string]any{
				"status":                "OK",
				"sessionHandlesRevoked": revoked,
			})
		}),
	)
	cmd.Args = cobra.ExactArgs(1)

	return cmd
}

func updateDataCmd() *cobra.Command {
	var dataJSON string

	cmd := cmdutils.CobraCommand(
		"update-data <sessionHandle>",
		"Replace a session's data",
		"Update-data replaces the server-side session data of one session.",
		withRecipe(func(ctx context.Context, recipe *session.Recipe, args []string) error {
			data, err := parseJSONMap(dataJSON)
			if err != nil {
				return fmt.Errorf("parsing --data: %w", err)
			}

			found, err := recipe.UpdateSessionData(ctx, args[0], data)
			if err != nil {
				return err
			}

			if !found {
				return fmt.Errorf("session %q does not exist", args[0])
			}

			return cmdutils.PrintJSON(map[string]string{"status": "OK"})
		}),
	)
	cmd.Args = cobra.ExactArgs(1)
	cmd.Flags().StringVar(&dataJSON, "data", "", "session data as JSON")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func updatePayloadCmd() *cobra.Command {
	var payloadJSON string

	cmd := cmdutils.CobraCommand(
		"update-payload <sessionHandle>",
		"Replace a session's access token payload",
		"Update-payload replaces the token payload stored for one session. Tokens already issued keep their old payload until they are refreshed.",
		withRecipe(func(ctx context.Context, recipe *session.Recipe, args []string) error {
			payload, err := parseJSONMap(payloadJSON)
			if err != nil {
				return fmt.Errorf("parsing --payload: %w", err)
			}

			found, err := recipe.UpdateAccessTokenPayload(ctx, args[0], payload)
			if err != nil {
				return err
			}

			if !found {
				return fmt.Errorf("session %q does not exist", args[0])
			}

			return cmdutils.PrintJSON(map[string]string{"status": "OK"})
		}),
	)
	cmd.Args = cobra.ExactArgs(1)
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "access token payload as JSON")
	_ = cmd.MarkFlagRequired("payload")

	return cmd
}
