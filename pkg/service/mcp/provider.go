package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/urfave/cli/v3"
)

// Provider offers the functions of a Client as a tool.Tool
type Provider struct {
	client *Client
}

var _ tool.Tool = (*Provider)(nil)

func NewProvider(client *Client) *Provider {
	return &Provider{client: client}
}

// Flags returns nil. Servers come from the MCP config or the profile.
func (p *Provider) Flags() []cli.Flag {
	return nil
}

// Init enables the provider when at least one remote function is available
func (p *Provider) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if p.client == nil {
		return false, nil
	}
	return len(p.client.Specs()) > 0, nil
}

func (p *Provider) Specs() []*model.ToolSpec {
	if p.client == nil {
		return nil
	}
	return p.client.Specs()
}

func (p *Provider) Prompt(ctx context.Context) string {
	if p.client == nil || len(p.client.Specs()) == 0 {
		return ""
	}
	return fmt.Sprintf("Some tools are served by external MCP servers (%s). Their results come from those servers as is.",
		strings.Join(p.client.Servers(), ", "))
}

func (p *Provider) Execute(ctx context.Context, call *model.ToolCall) (string, error) {
	if p.client == nil {
		return "", tool.ErrToolNotFound
	}
	return p.client.Call(ctx, call)
}

// Close ends the sessions to all servers
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
