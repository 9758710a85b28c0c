package cli

import (
	"github.com/m-mizutani/burrow/pkg/service/mcp"
	"github.com/m-mizutani/burrow/pkg/utils/yamlfile"
	"github.com/m-mizutani/goerr/v2"
)

// profile is an agent configuration file
//
//	system_prompt: You are a travel assistant.
//	max_rounds: 3
//	tools: [get_weather, get_current_time]
//	mcp_servers:
//	  - name: files
//	    command: [mcp-files, /tmp]
type profile struct {
	SystemPrompt string             `yaml:"system_prompt"`
	MaxRounds    int                `yaml:"max_rounds"`
	Tools        []string           `yaml:"tools"`
	MCPServers   []mcp.ServerConfig `yaml:"mcp_servers"`
}

// loadProfile reads the profile at path. An empty path yields an empty profile.
func loadProfile(path string) (*profile, error) {
	if path == "" {
		return &profile{}, nil
	}

	var p profile
	if err := yamlfile.Load(path, &p); err != nil {
		return nil, goerr.Wrap(err, "failed to load profile")
	}
	if p.MaxRounds < 0 {
		return nil, goerr.New("max_rounds must not be negative", goerr.V("path", path), goerr.V("max_rounds", p.MaxRounds))
	}
	for i, s := range p.MCPServers {
		if s.Name == "" {
			return nil, goerr.New("MCP server name is required", goerr.V("path", path), goerr.V("index", i))
		}
	}
	return &p, nil
}
