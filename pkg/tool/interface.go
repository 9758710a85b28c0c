package tool

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/urfave/cli/v3"
)

// Tool represents an external tool that can be called by the LLM
type Tool interface {
	// Flags returns CLI flags for this tool
	// Returns nil if no flags are needed
	Flags() []cli.Flag

	// Init prepares the tool with shared resources and reports whether it should be enabled
	Init(ctx context.Context, client *Client) (bool, error)

	// Specs returns the functions provided by this tool
	Specs() []*model.ToolSpec

	// Execute runs the function named in call and returns the result text for the model
	Execute(ctx context.Context, call *model.ToolCall) (string, error)

	// Prompt returns additional information to be added to the system prompt
	// Returns empty string if no additional prompt is needed
	Prompt(ctx context.Context) string
}
