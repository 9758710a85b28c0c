package cli

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/service/mcp"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/urfave/cli/v3"
)

func mcpCommand(g *globalConfig) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Model Context Protocol commands",
		Commands: []*cli.Command{
			mcpServeCommand(g),
		},
	}
}

func mcpServeCommand(g *globalConfig) *cli.Command {
	var cfg config

	flags := append(repositoryFlags(&cfg), agentFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Expose the built-in tools as an MCP server over stdio",
		Flags: flags,
		Action: g.action(func(ctx context.Context, c *cli.Command) error {
			defer cfg.close(ctx)
			client := &tool.Client{}

			// The knowledge base tool is offered only when embeddings are available
			if llm, err := cfg.newLLM(ctx); err == nil {
				embedder, err := cfg.newEmbedder(ctx, llm)
				if err != nil {
					return err
				}
				repo, err := cfg.newRepository(ctx)
				if err != nil {
					return err
				}
				cfg.onClose(repo.Close)
				client.Repo, client.Embedder = repo, embedder
			}

			prof, err := loadProfile(cfg.profile)
			if err != nil {
				return err
			}

			// MCP servers are not re-exported
			cfg.mcpConfig = ""
			prof.MCPServers = nil
			registry, err := cfg.newRegistry(ctx, client, prof)
			if err != nil {
				return err
			}

			return mcp.Serve(ctx, mcp.NewServer(registry))
		}),
	}
}
