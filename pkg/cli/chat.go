package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/usecase/agent"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func chatCommand(g *globalConfig) *cli.Command {
	var (
		cfg            config
		conversationID string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "conversation-id",
			Aliases:     []string{"c"},
			Usage:       "Resume a previous conversation",
			Sources:     cli.EnvVars("BURROW_CONVERSATION_ID"),
			Destination: &conversationID,
		},
	}
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, agentFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat with the tool-calling agent",
		Flags: flags,
		Action: g.action(func(ctx context.Context, c *cli.Command) error {
			w := c.Root().Writer

			deps, err := cfg.newAgent(ctx, agent.WithObserver(func(ctx context.Context, ev *agent.ToolEvent) {
				switch {
				case ev.Denied:
					fmt.Fprintf(w, "\r[tool] %s denied\n", ev.Call.Name)
				case ev.Err != nil:
					fmt.Fprintf(w, "\r[tool] %s failed\n", ev.Call.Name)
				default:
					fmt.Fprintf(w, "\r[tool] %s(%s)\n", ev.Call.Name, ev.Call.Arguments)
				}
			}))
			if err != nil {
				return err
			}
			defer cfg.close(ctx)

			var session *agent.Session
			if conversationID != "" {
				session, err = deps.agent.Resume(ctx, model.ConversationID(conversationID))
				if err != nil {
					return goerr.Wrap(err, "failed to resume conversation")
				}
				fmt.Fprintf(w, "Resumed conversation %s\n", session.ID())
			} else {
				session = deps.agent.NewSession(ctx)
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			fmt.Fprintf(w, "Chat session %s started. Type 'exit' to quit.\n", session.ID())

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				input := strings.TrimSpace(line)
				if input == "" {
					continue
				}
				if input == "exit" || input == "quit" {
					break
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(c.Root().ErrWriter))
				sp.Suffix = " thinking..."
				sp.Start()
				reply, err := session.Send(ctx, input)
				sp.Stop()

				if err != nil {
					// Keep the session alive; the failed turn was rolled back
					logging.From(ctx).Error("failed to get reply", logging.ErrAttr(err))
					continue
				}
				fmt.Fprintf(w, "\n%s\n\n", reply)
			}

			fmt.Fprintf(w, "Conversation ID: %s\n", session.ID())
			return nil
		}),
	}
}
