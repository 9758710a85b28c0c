package cli

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/server"
	"github.com/m-mizutani/burrow/pkg/usecase/rag"
	"github.com/urfave/cli/v3"
)

func serveCommand(g *globalConfig) *cli.Command {
	var (
		cfg   config
		addr  string
		limit int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Listen address",
			Value:       "127.0.0.1:8000",
			Sources:     cli.EnvVars("BURROW_ADDR"),
			Destination: &addr,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Chunks retrieved per question on /ask",
			Value:       rag.DefaultLimit,
			Sources:     cli.EnvVars("BURROW_RAG_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, agentFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve /chat, /agent and /ask over HTTP",
		Flags: flags,
		Action: g.action(func(ctx context.Context, c *cli.Command) error {
			deps, err := cfg.newAgent(ctx)
			if err != nil {
				return err
			}
			defer cfg.close(ctx)

			uc := rag.New(deps.repo, deps.embedder,
				rag.WithChatModel(deps.llm),
				rag.WithLimit(int(limit)),
			)

			srv := server.New(server.WithAgent(deps.agent), server.WithRAG(uc))
			return srv.Run(ctx, addr)
		}),
	}
}
