package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func historyCommand(g *globalConfig) *cli.Command {
	var (
		cfg    config
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Offset for pagination",
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of items to list",
			Value:       20,
			Destination: &limit,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "List conversations",
		Flags: flags,
		Commands: []*cli.Command{
			historyShowCommand(g, &cfg, &limit),
		},
		Action: g.action(func(ctx context.Context, c *cli.Command) error {
			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			convs, err := repo.ListConversations(ctx, int(offset), int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list conversations")
			}

			if len(convs) == 0 {
				fmt.Fprintf(c.Root().Writer, "No conversations found\n")
				return nil
			}

			for _, conv := range convs {
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\t%s\n",
					conv.ID,
					conv.Title,
					conv.CreatedAt.Format("2006-01-02 15:04:05"),
					conv.UpdatedAt.Format("2006-01-02 15:04:05"),
				)
			}
			return nil
		}),
	}
}

func historyShowCommand(g *globalConfig, cfg *config, limit *int64) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print the records of a conversation",
		ArgsUsage: "<conversation-id>",
		Action: g.action(func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return goerr.New("conversation ID is required")
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			records, err := repo.ListRecords(ctx, model.ConversationID(id), int(*limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list records", goerr.V("id", id))
			}

			for _, r := range records {
				fmt.Fprintf(c.Root().Writer, "[%s] %s: %s\n",
					r.CreatedAt.Format("2006-01-02 15:04:05"), r.Role, r.Content)
			}
			return nil
		}),
	}
}
