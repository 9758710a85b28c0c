package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	defaultLimit = 3
	maxLimit     = 10
	noDocuments  = "No relevant documents found."
)

type searchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type knowledge struct {
	repo     repository.Repository
	embedder adapter.Embedder
}

// New creates a search_knowledge_base tool. It is enabled only when a repository and an embedder are available.
func New() *knowledge {
	return &knowledge{}
}

func (x *knowledge) Flags() []cli.Flag {
	return nil
}

func (x *knowledge) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if client == nil || client.Repo == nil || client.Embedder == nil {
		return false, nil
	}
	x.repo = client.Repo
	x.embedder = client.Embedder
	return true, nil
}

func (x *knowledge) Prompt(ctx context.Context) string {
	return "Use search_knowledge_base to look up documents that were ingested into the local knowledge base before answering questions about them."
}

func (x *knowledge) Specs() []*model.ToolSpec {
	return []*model.ToolSpec{
		{
			Name:        "search_knowledge_base",
			Description: "Search the ingested documents for passages relevant to the query.",
			Parameters: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {
						Type:        "string",
						Description: "Natural language query",
					},
					"limit": {
						Type:        "integer",
						Description: fmt.Sprintf("Maximum number of passages (default %d, max %d)", defaultLimit, maxLimit),
					},
				},
				Required: []string{"query"},
			},
		},
	}
}

func (x *knowledge) Execute(ctx context.Context, call *model.ToolCall) (string, error) {
	var input searchInput
	if err := call.Decode(&input); err != nil {
		return "", err
	}
	if input.Query == "" {
		return "", goerr.New("query is required")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	vectors, err := x.embedder.Embed(ctx, []string{input.Query})
	if err != nil {
		return "", goerr.Wrap(err, "failed to embed query")
	}

	chunks, err := x.repo.SearchChunks(ctx, vectors[0], limit)
	if err != nil {
		return "", goerr.Wrap(err, "failed to search knowledge base")
	}
	if len(chunks) == 0 {
		return noDocuments, nil
	}

	lines := make([]string, len(chunks))
	for i, c := range chunks {
		lines[i] = fmt.Sprintf("[%s] %s", c.Reference(), c.Content)
	}
	return strings.Join(lines, "\n"), nil
}
