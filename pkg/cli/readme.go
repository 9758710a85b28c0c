package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/burrow/pkg/usecase/readme"
	"github.com/urfave/cli/v3"
)

func readmeCommand(g *globalConfig) *cli.Command {
	var (
		cfg    config
		input  string
		output string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Source file to document",
			Required:    true,
			Destination: &input,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Markdown file to write",
			Value:       "README_Generated.md",
			Destination: &output,
		},
	}
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "readme",
		Usage: "Generate a README from a source file",
		Flags: flags,
		Action: g.action(func(ctx context.Context, c *cli.Command) error {
			llm, err := cfg.newLLM(ctx)
			if err != nil {
				return err
			}

			doc, err := readme.New(llm).Generate(ctx, input)
			if err != nil {
				return err
			}
			if err := readme.Save(output, doc); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Saved to %s\n", output)
			return nil
		}),
	}
}
