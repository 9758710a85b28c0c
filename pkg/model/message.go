package model

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn of a chat conversation, independent of the LLM provider
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls is set on assistant messages that request tool execution
	ToolCalls []*ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool messages carrying a tool result
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a message carrying the result of the given tool call
func NewToolMessage(call *ToolCall, result string) *Message {
	return &Message{
		Role:       RoleTool,
		Content:    result,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

// HasToolCalls returns true if the message requests one or more tool executions
func (m *Message) HasToolCalls() bool {
	return m != nil && len(m.ToolCalls) > 0
}

// ToolCall is a function invocation requested by the model
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Arguments is the raw JSON object produced by the model
	Arguments string `json:"arguments"`
}

// Decode unmarshals the call arguments into v. Empty arguments are treated as an empty object.
func (c *ToolCall) Decode(v any) error {
	args := c.Arguments
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return goerr.Wrap(err, "failed to decode tool arguments",
			goerr.V("tool", c.Name),
			goerr.V("arguments", c.Arguments))
	}
	return nil
}

// ArgumentMap returns the call arguments as a generic map
func (c *ToolCall) ArgumentMap() (map[string]any, error) {
	args := map[string]any{}
	if err := c.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

// ToolSpec describes a function that the model may call
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON schema of type object. nil means the function takes no arguments.
	Parameters *jsonschema.Schema
}

// ParameterSchema returns Parameters, or an empty object schema if nil
func (s *ToolSpec) ParameterSchema() *jsonschema.Schema {
	if s.Parameters != nil {
		return s.Parameters
	}
	return &jsonschema.Schema{Type: "object"}
}

// ResponseSchema asks the model to reply with JSON matching Schema
type ResponseSchema struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// ChatRequest is a provider independent chat completion request
type ChatRequest struct {
	Messages       []*Message
	Tools          []*ToolSpec
	ResponseSchema *ResponseSchema
}
