package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telekom/invite-mailer/pkg/api"
)

func NewServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local HTTP server that accepts invocations on POST /invoke",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := api.NewServer(rt.log, rt.newHandler(), rt.debug)
			return server.Listen(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", getEnvString("SERVE_ADDRESS", ":8080"), "Listen address for the local invoke server (env: SERVE_ADDRESS)")

	return cmd
}
