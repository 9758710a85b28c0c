package cli

import (
	"context"
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

// globalConfig holds flags of the root command
type globalConfig struct {
	logLevel  string
	logFormat string
}

func Run(ctx context.Context, argv []string) *Error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Default().Warn("failed to load .env", logging.ErrAttr(err))
	}

	var g globalConfig
	cmd := &cli.Command{
		Name:  "burrow",
		Usage: "LLM tool-calling agent and RAG toolkit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("BURROW_LOG_LEVEL"),
				Destination: &g.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Value:       "console",
				Sources:     cli.EnvVars("BURROW_LOG_FORMAT"),
				Destination: &g.logFormat,
			},
		},
		Commands: []*cli.Command{
			chatCommand(&g),
			serveCommand(&g),
			ingestCommand(&g),
			addCommand(&g),
			askCommand(&g),
			searchCommand(&g),
			similarityCommand(&g),
			readmeCommand(&g),
			historyCommand(&g),
			mcpCommand(&g),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.From(ctx).Error("command failed", logging.ErrAttr(err))
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// action attaches the logger configured by root flags before running fn
func (g *globalConfig) action(fn cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		logger := logging.New(g.logLevel, c.Root().ErrWriter, logging.WithFormat(g.logFormat))
		logging.SetDefault(logger)
		return fn(logging.With(ctx, logger), c)
	}
}
