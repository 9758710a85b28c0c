package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/usecase/rag"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// sampleDocuments are ranked by the search command when no --doc is given
var sampleDocuments = []string{
	"The python programming language is great for AI.",
	"Apples and bananas are rich in potassium.",
	"To restart the server, run sudo systemctl restart nginx.",
	"React uses a virtual DOM to optimize rendering.",
}

// newRAG creates the RAG usecase, without a repository when withRepo is false.
// Opened resources are released by cfg.close.
func (cfg *config) newRAG(ctx context.Context, withRepo bool, opts ...rag.Option) (_ *rag.UseCase, err error) {
	defer func() {
		if err != nil {
			cfg.close(ctx)
		}
	}()

	llm, err := cfg.newLLM(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := cfg.newEmbedder(ctx, llm)
	if err != nil {
		return nil, err
	}

	var repo repository.Repository
	if withRepo {
		if repo, err = cfg.newRepository(ctx); err != nil {
			return nil, err
		}
		cfg.onClose(repo.Close)
	}

	opts = append([]rag.Option{rag.WithChatModel(llm)}, opts...)
	return rag.New(repo, embedder, opts...), nil
}

func ingestCommand(g *globalConfig) *cli.Command {
	var (
		cfg       config
		chunkSize int64
		batchSize int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "Chunk size in characters",
			Value:       rag.DefaultChunkSize,
			Sources:     cli.EnvVars("BURROW_CHUNK_SIZE"),
			Destination: &chunkSize,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "Chunks embedded per request",
			Value:       rag.DefaultBatchSize,
			Sources:     cli.EnvVars("BURROW_BATCH_SIZE"),
			Destination: &batchSize,
		},
	}
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:      "ingest",
		Usage:     "Chunk, embed and store PDF or text files",
		ArgsUsage: "<file>...",
		Flags:     flags,
		Action: g.action(func(ctx context.Context, c *cli.Command) error {
			files := c.Args().Slice()
			if len(files) == 0 {
				return goerr.New("at least one file is required")
			}

			uc, err := cfg.newRAG(ctx, true,
				rag.WithChunkSize(int(chunkSize)),
				rag.WithBatchSize(int(batchSize)),
			)
			if err != nil {
				return err
			}
			defer cfg.close(ctx)

			for _, file := range files {
				n, err := uc.IngestFile(ctx, file)
				if err != nil {
					return goerr.Wrap(err, "failed to ingest file", goerr.V("file", file))
				}
				fmt.Fprintf(c.Root().Writer, "%s: %d chunks\n", file, n)
			}
			return nil
		}),
	}
}

func addCommand(g *globalConfig) *cli.Command {
	var (
		cfg  config
		id   string
		text string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "id",
			Usage:       "Document ID",
			Required:    true,
			Destination: &id,
		},
		&cli.StringFlag{
			Name:        "text",
			Usage:       "Document text",
			Required:    true,
			Destination: &text,
		},
	}
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "add",
		Usage: "Upsert a single document",
		Flags: flags,
		Action: g.action(func(ctx context.Context, c *cli.Command) error {
			uc, err := cfg.newRAG(ctx, true)
			if err != nil {
				return err
			}
			defer cfg.close(ctx)

			if err := uc.AddText(ctx, id, text); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Added document %s\n", id)
			return nil
		}),
	}
}

func askCommand(g *globalConfig) *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Chunks retrieved as context",
			Value:       rag.DefaultLimit,
			Sources:     cli.EnvVars("BURROW_RAG_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question from the knowledge base",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: g.action(func(ctx context.Context, c *cli.Command) error {
			question := c.Args().First()
			if question == "" {
				return goerr.New("question is required")
			}

			uc, err := cfg.newRAG(ctx, true, rag.WithLimit(int(limit)))
			if err != nil {
				return err
			}
			defer cfg.close(ctx)

			w := c.Root().Writer
			answer, err := uc.Answer(ctx, question)
			if err != nil {
				return err
			}

			for _, src := range answer.Sources {
				fmt.Fprintf(w, "Found context (%s, distance %.4f): %s\n", src.Reference(), src.Distance, src.Content)
			}
			fmt.Fprintf(w, "\nAnswer: %s\n", answer.Text)
			return nil
		}),
	}
}

func searchCommand(g *globalConfig) *cli.Command {
	var (
		cfg  config
		docs []string
		top  int64
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "doc",
			Aliases:     []string{"d"},
			Usage:       "Document to rank, repeatable (built-in samples if omitted)",
			Destination: &docs,
		},
		&cli.IntFlag{
			Name:        "top",
			Usage:       "Number of results to show (0 shows all)",
			Destination: &top,
		},
	}
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "search",
		Usage:     "Rank documents against a query by cosine similarity",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: g.action(func(ctx context.Context, c *cli.Command) error {
			query := c.Args().First()
			if query == "" {
				return goerr.New("query is required")
			}
			if len(docs) == 0 {
				docs = sampleDocuments
			}

			uc, err := cfg.newRAG(ctx, false)
			if err != nil {
				return err
			}
			defer cfg.close(ctx)

			results, err := uc.Rank(ctx, query, docs)
			if err != nil {
				return err
			}
			if top > 0 && int(top) < len(results) {
				results = results[:top]
			}

			for _, r := range results {
				fmt.Fprintf(c.Root().Writer, "%.4f\t%s\n", r.Score, r.Content)
			}
			return nil
		}),
	}
}

func similarityCommand(g *globalConfig) *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "similarity",
		Usage:     "Show pairwise cosine similarity of texts",
		ArgsUsage: "<text> <text>...",
		Flags:     llmFlags(&cfg),
		Action: g.action(func(ctx context.Context, c *cli.Command) error {
			texts := c.Args().Slice()
			if len(texts) < 2 {
				return goerr.New("at least two texts are required")
			}

			uc, err := cfg.newRAG(ctx, false)
			if err != nil {
				return err
			}
			defer cfg.close(ctx)

			pairs, err := uc.Similarity(ctx, texts)
			if err != nil {
				return err
			}
			for _, p := range pairs {
				fmt.Fprintf(c.Root().Writer, "Similarity (%s <-> %s): %.4f\n", texts[p.I], texts[p.J], p.Similarity)
			}
			return nil
		}),
	}
}
