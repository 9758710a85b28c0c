package tool

import (
	"context"
	"sort"
	"strings"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// ErrToolNotFound is returned when the model calls a function no enabled tool provides
var ErrToolNotFound = goerr.New("tool not found")

// Registry manages available tools for the LLM
type Registry struct {
	allTools []Tool
	enabled  []Tool
	tools    map[string]Tool
	specs    []*model.ToolSpec
}

// New creates a new tool registry with the given tools. No tool is enabled until Init is called.
func New(tools ...Tool) *Registry {
	return &Registry{
		allTools: tools,
		tools:    make(map[string]Tool),
	}
}

// Init initializes every tool and keeps the ones that report themselves enabled
func (r *Registry) Init(ctx context.Context, client *Client) error {
	if client == nil {
		client = &Client{}
	}

	r.enabled = nil
	r.tools = make(map[string]Tool)
	r.specs = nil

	for _, t := range r.allTools {
		enabled, err := t.Init(ctx, client)
		if err != nil {
			return goerr.Wrap(err, "failed to initialize tool")
		}
		if !enabled {
			continue
		}

		for _, spec := range t.Specs() {
			if _, exists := r.tools[spec.Name]; exists {
				return goerr.New("duplicate tool name", goerr.V("name", spec.Name))
			}
			r.tools[spec.Name] = t
			r.specs = append(r.specs, spec)
		}
		r.enabled = append(r.enabled, t)
	}

	sort.Slice(r.specs, func(i, j int) bool {
		return r.specs[i].Name < r.specs[j].Name
	})

	names := make([]string, len(r.specs))
	for i, s := range r.specs {
		names[i] = s.Name
	}
	logging.From(ctx).Debug("tools initialized", "tools", names)

	return nil
}

// Specs returns specifications of all enabled functions, sorted by name
func (r *Registry) Specs() []*model.ToolSpec {
	return r.specs
}

// EnabledTools returns tools that were enabled by Init
func (r *Registry) EnabledTools() []Tool {
	return r.enabled
}

// Prompts returns prompts of enabled tools concatenated
func (r *Registry) Prompts(ctx context.Context) string {
	var prompts []string
	for _, t := range r.enabled {
		if prompt := t.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// Flags returns all tool flags combined
func (r *Registry) Flags() []cli.Flag {
	var flags []cli.Flag
	for _, t := range r.allTools {
		if toolFlags := t.Flags(); toolFlags != nil {
			flags = append(flags, toolFlags...)
		}
	}
	return flags
}

// Execute runs the tool with the given function call
func (r *Registry) Execute(ctx context.Context, call *model.ToolCall) (string, error) {
	tool, ok := r.tools[call.Name]
	if !ok {
		return "", goerr.Wrap(ErrToolNotFound, "tool not found", goerr.V("name", call.Name))
	}

	return tool.Execute(ctx, call)
}

// Filter keeps only the named functions. An empty list keeps everything.
func (r *Registry) Filter(names []string) {
	if len(names) == 0 {
		return
	}

	allow := make(map[string]bool, len(names))
	for _, n := range names {
		allow[n] = true
	}

	specs := r.specs[:0]
	for _, s := range r.specs {
		if allow[s.Name] {
			specs = append(specs, s)
		} else {
			delete(r.tools, s.Name)
		}
	}
	r.specs = specs
}
