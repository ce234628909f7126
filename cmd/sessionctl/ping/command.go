package ping

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sessiond/sessiond-go/internal/cmdutils"
	"github.com/sessiond/sessiond-go/internal/config"
)

func Cmd() *cobra.Command {
	return cmdutils.CobraCommand(
		"ping",
		"Check core connectivity",
		"Ping calls the core's hello endpoint and reports the negotiated API version.",
		run,
	)
}

func run(ctx context.Context, cfg *config.Config, _ []string) error {
	app, _, err := cmdutils.NewApp(cfg)
	if err != nil {
		return err
	}

	if err := app.Hello(ctx); err != nil {
		return fmt.Errorf("calling core hello: %w", err)
	}

	version, err := app.APIVersion(ctx)
	if err != nil {
		return err
	}

	return cmdutils.PrintJSON(map[string]string{
		"status":     "OK",
		"apiVersion": version,
	})
}
