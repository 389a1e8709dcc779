package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/invite-mailer/pkg/invite"
	"github.com/telekom/invite-mailer/pkg/system"
)

type Config struct {
	OutputWriter io.Writer
	// HandlerOptions are applied to every invite.Handler the commands build.
	HandlerOptions []invite.Option
}

type runtimeState struct {
	debug          bool
	logLevel       string
	writer         io.Writer
	handlerOptions []invite.Option
	log            *zap.Logger
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{OutputWriter: os.Stdout}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		debug:          getEnvBool("debug", false),
		logLevel:       getEnvString("log_level", "info"),
		writer:         cfg.OutputWriter,
		handlerOptions: cfg.HandlerOptions,
	}

	root := &cobra.Command{
		Use:           "invite-mailer",
		Short:         "Render and send invitation emails over SMTPS",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if cmd.Name() == "version" {
				return nil
			}
			logger, err := system.NewLogger(rt.debug, rt.logLevel)
			if err != nil {
				return err
			}
			rt.log = logger
			return nil
		},
		// Without a subcommand the binary acts as the Lambda bootstrap.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLambda(cmd)
		},
	}

	root.PersistentFlags().BoolVar(&rt.debug, "debug", rt.debug, "Enable development logging at debug level (env: debug)")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", rt.logLevel, "Log level: debug, info, warn, error (env: log_level)")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewLambdaCommand(),
		NewInvokeCommand(),
		NewServeCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer == nil {
		return os.Stdout
	}
	return rt.writer
}

func (rt *runtimeState) newHandler() *invite.Handler {
	return invite.NewHandler(rt.log.Sugar(), rt.handlerOptions...)
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
