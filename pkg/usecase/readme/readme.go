package readme

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const systemPrompt = "You are a senior technical writer. Analyze the code and generate professional documentation."

// Structure is the documentation the model fills in
type Structure struct {
	Title             string   `json:"title"`
	Summary           string   `json:"summary"`
	Features          []string `json:"features"`
	UsageInstructions string   `json:"usage_instructions"`
	Requirements      []string `json:"requirements"`
	ComplexityScore   int      `json:"complexity_score"`
}

func responseSchema() *model.ResponseSchema {
	str := &jsonschema.Schema{Type: "string"}
	strList := &jsonschema.Schema{Type: "array", Items: str}

	return &model.ResponseSchema{
		Name:        "readme_structure",
		Description: "Sections of a README document",
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"title":              str,
				"summary":            str,
				"features":           strList,
				"usage_instructions": str,
				"requirements":       {Type: "array", Items: str, Description: `e.g. "Go 1.25", "Node.js"`},
				"complexity_score":   {Type: "integer"},
			},
			Required: []string{
				"title", "summary", "features", "usage_instructions", "requirements", "complexity_score",
			},
		},
	}
}

// Generator asks a chat model to document a source file
type Generator struct {
	chat adapter.ChatModel
}

func New(chat adapter.ChatModel) *Generator {
	return &Generator{chat: chat}
}

// Generate reads the file at path and returns the structured documentation
func (g *Generator) Generate(ctx context.Context, path string) (*Structure, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read source file", goerr.V("path", path))
	}

	logging.From(ctx).Info("analyzing source", "path", path, "bytes", len(source))

	req := &model.ChatRequest{
		Messages: []*model.Message{
			model.NewSystemMessage(systemPrompt),
			model.NewUserMessage("Here is the source code:\n\n" + string(source)),
		},
		ResponseSchema: responseSchema(),
	}

	resp, err := g.chat.Chat(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate documentation", goerr.V("path", path))
	}

	var out Structure
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return nil, goerr.Wrap(err, "failed to parse documentation",
			goerr.V("path", path),
			goerr.V("content", resp.Content))
	}
	return &out, nil
}

// Render assembles the markdown document
func Render(s *Structure) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n## Summary\n%s\n\n## Key Features\n", s.Title, s.Summary)
	for _, f := range s.Features {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	fmt.Fprintf(&b, "\n## Requirements\n%s\n", strings.Join(s.Requirements, ", "))
	fmt.Fprintf(&b, "\n## Usage\n%s\n", s.UsageInstructions)
	fmt.Fprintf(&b, "\n## Complexity Score\n%d\n", s.ComplexityScore)

	return b.String()
}

// Save writes the rendered markdown to path
func Save(path string, s *Structure) error {
	if err := os.WriteFile(path, []byte(Render(s)), 0644); err != nil {
		return goerr.Wrap(err, "failed to write readme", goerr.V("path", path))
	}
	return nil
}
