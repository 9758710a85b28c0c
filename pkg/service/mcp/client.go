package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/burrow/pkg/utils/yamlfile"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerConfig is one MCP server entry, in the --mcp-config file or the mcp_servers list of a profile.
// Transport may be omitted: a URL means http, otherwise stdio.
type ServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	Command   []string          `yaml:"command"`
	URL       string            `yaml:"url"`
	Env       map[string]string `yaml:"env"`
}

// Config is the --mcp-config file
//
//	servers:
//	  - name: files
//	    command: [npx, -y, "@modelcontextprotocol/server-filesystem", /tmp]
//	  - name: remote
//	    url: http://localhost:8080/mcp
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
}

// LoadConfig reads the server list at path. An empty path yields no servers.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}
	if err := yamlfile.Load(path, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to load MCP config")
	}
	for i, s := range cfg.Servers {
		if s.Name == "" {
			return nil, goerr.New("MCP server name is required", goerr.V("path", path), goerr.V("index", i))
		}
	}
	return &cfg, nil
}

// Client holds sessions to MCP servers and indexes their tools by function name.
// A function name belongs to the first server that offered it.
type Client struct {
	mu       sync.RWMutex
	sessions map[string]*mcp.ClientSession
	tools    map[string]*remoteTool
}

type remoteTool struct {
	server string
	spec   *model.ToolSpec
}

func NewClient() *Client {
	return &Client{
		sessions: make(map[string]*mcp.ClientSession),
		tools:    make(map[string]*remoteTool),
	}
}

// Connect opens a session to the server and registers its tools
func (c *Client) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return goerr.New("MCP server name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sessions[cfg.Name]; exists {
		return goerr.New("MCP server already connected", goerr.V("server", cfg.Name))
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return goerr.Wrap(err, "invalid MCP server config", goerr.V("server", cfg.Name))
	}

	impl := &mcp.Implementation{Name: "burrow", Version: Version}
	session, err := mcp.NewClient(impl, nil).Connect(ctx, transport, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to connect to MCP server", goerr.V("server", cfg.Name))
	}

	listed, err := listTools(ctx, session)
	if err != nil {
		_ = session.Close()
		return goerr.Wrap(err, "failed to list MCP tools", goerr.V("server", cfg.Name))
	}

	logger := logging.From(ctx)
	for _, t := range listed {
		if owner, taken := c.tools[t.Name]; taken {
			logger.Warn("MCP tool name already taken, skipped", "tool", t.Name, "server", cfg.Name, "owner", owner.server)
			continue
		}
		spec, err := toToolSpec(t)
		if err != nil {
			logger.Warn("MCP tool skipped", "tool", t.Name, "server", cfg.Name, logging.ErrAttr(err))
			continue
		}
		c.tools[t.Name] = &remoteTool{server: cfg.Name, spec: spec}
	}
	c.sessions[cfg.Name] = session

	return nil
}

// listTools follows the pagination cursor until every tool is listed
func listTools(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Tool, error) {
	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		result, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		tools = append(tools, result.Tools...)
		if result.NextCursor == "" {
			return tools, nil
		}
		params.Cursor = result.NextCursor
	}
}

func newTransport(cfg ServerConfig) (mcp.Transport, error) {
	transport := cfg.Transport
	if transport == "" {
		transport = "stdio"
		if cfg.URL != "" {
			transport = "http"
		}
	}

	switch transport {
	case "stdio":
		if len(cfg.Command) == 0 {
			return nil, goerr.New("command is required for stdio transport")
		}
		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcp.CommandTransport{Command: cmd}, nil

	case "http":
		if cfg.URL == "" {
			return nil, goerr.New("url is required for http transport")
		}
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL}, nil

	default:
		return nil, goerr.New("unsupported transport",
			goerr.V("transport", cfg.Transport),
			goerr.V("supported", []string{"stdio", "http"}))
	}
}

// toToolSpec converts an MCP tool to a provider neutral ToolSpec
func toToolSpec(t *mcp.Tool) (*model.ToolSpec, error) {
	spec := &model.ToolSpec{
		Name:        t.Name,
		Description: t.Description,
	}
	if t.InputSchema == nil {
		return spec, nil
	}

	// InputSchema arrives as decoded JSON
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema")
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, goerr.Wrap(err, "failed to decode input schema")
	}
	spec.Parameters = &schema

	return spec, nil
}

// Specs returns the functions of all connected servers, sorted by name
func (c *Client) Specs() []*model.ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	specs := make([]*model.ToolSpec, 0, len(c.tools))
	for _, t := range c.tools {
		specs = append(specs, t.spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Name < specs[j].Name
	})
	return specs
}

// Servers returns the names of connected servers, sorted
func (c *Client) Servers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.sessions))
	for name := range c.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs the function on the server that owns it. Text content is returned as is and joined
// by newlines. Other content is passed on as JSON. A result flagged as an error becomes an error
// carrying its text.
func (c *Client) Call(ctx context.Context, call *model.ToolCall) (string, error) {
	c.mu.RLock()
	t, ok := c.tools[call.Name]
	var session *mcp.ClientSession
	if ok {
		session = c.sessions[t.server]
	}
	c.mu.RUnlock()

	if session == nil {
		return "", goerr.Wrap(tool.ErrToolNotFound, "MCP tool not found", goerr.V("name", call.Name))
	}

	args, err := call.ArgumentMap()
	if err != nil {
		return "", err
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      call.Name,
		Arguments: args,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to call MCP tool", goerr.V("server", t.server), goerr.V("tool", call.Name))
	}

	text, err := resultText(result)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", goerr.Wrap(errors.New(text), "MCP tool reported an error", goerr.V("server", t.server), goerr.V("tool", call.Name))
	}
	return text, nil
}

func resultText(result *mcp.CallToolResult) (string, error) {
	parts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		raw, err := json.Marshal(content)
		if err != nil {
			return "", goerr.Wrap(err, "failed to marshal MCP content")
		}
		parts = append(parts, string(raw))
	}

	if len(parts) == 0 && result.StructuredContent != nil {
		raw, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return "", goerr.Wrap(err, "failed to marshal MCP structured content")
		}
		return string(raw), nil
	}
	return strings.Join(parts, "\n"), nil
}

// Close ends every session, even when one of them fails to close
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	for name, session := range c.sessions {
		if err := session.Close(); err != nil && first == nil {
			first = goerr.Wrap(err, "failed to close MCP session", goerr.V("server", name))
		}
	}
	c.sessions = make(map[string]*mcp.ClientSession)
	c.tools = make(map[string]*remoteTool)
	return first
}

// Start connects to the servers and returns a Provider over the ones that answered.
// Unreachable servers are logged and skipped. It returns nil when no server connected.
func Start(ctx context.Context, servers []ServerConfig) *Provider {
	if len(servers) == 0 {
		return nil
	}

	logger := logging.From(ctx)
	client := NewClient()
	for _, s := range servers {
		if err := client.Connect(ctx, s); err != nil {
			logger.Warn("failed to connect to MCP server", "server", s.Name, logging.ErrAttr(err))
			continue
		}
		logger.Info("connected to MCP server", "server", s.Name)
	}

	if len(client.Servers()) == 0 {
		logger.Warn("no MCP server connected", "configured", len(servers))
		return nil
	}
	return NewProvider(client)
}
