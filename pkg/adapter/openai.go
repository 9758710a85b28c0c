package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
)

const (
	DefaultOpenAIChatModel      = "gpt-4o-mini"
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

// OpenAIClient implements LLM with the OpenAI API or any compatible server
type OpenAIClient struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
	temperature    *float32
	maxRetries     int
}

type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	client *OpenAIClient
	base   openai.ClientConfig
}

func WithOpenAIChatModel(name string) OpenAIOption {
	return func(c *openAIConfig) {
		c.client.chatModel = name
	}
}

func WithOpenAIEmbeddingModel(name string) OpenAIOption {
	return func(c *openAIConfig) {
		c.client.embeddingModel = name
	}
}

// WithOpenAIBaseURL points the client at an OpenAI compatible endpoint such as Ollama or Groq
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		if url != "" {
			c.base.BaseURL = url
		}
	}
}

func WithOpenAITemperature(t float32) OpenAIOption {
	return func(c *openAIConfig) {
		c.client.temperature = &t
	}
}

func WithOpenAIMaxRetries(n int) OpenAIOption {
	return func(c *openAIConfig) {
		c.client.maxRetries = n
	}
}

// NewOpenAI creates a new OpenAI client. apiKey may be empty for local compatible servers.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	cfg := &openAIConfig{
		client: &OpenAIClient{
			chatModel:      DefaultOpenAIChatModel,
			embeddingModel: DefaultOpenAIEmbeddingModel,
			maxRetries:     defaultMaxRetries,
		},
		base: openai.DefaultConfig(apiKey),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	cfg.client.client = openai.NewClientWithConfig(cfg.base)
	return cfg.client
}

func (x *OpenAIClient) Chat(ctx context.Context, req *model.ChatRequest) (*model.Message, error) {
	chatReq, err := x.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := withRetry(ctx, x.maxRetries, "openai.chat", func() (openai.ChatCompletionResponse, error) {
		return x.client.CreateChatCompletion(ctx, chatReq)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chat completion", goerr.V("model", x.chatModel))
	}
	if len(resp.Choices) == 0 {
		return nil, goerr.New("no choices in chat completion", goerr.V("model", x.chatModel))
	}

	return fromOpenAIMessage(resp.Choices[0].Message), nil
}

func (x *OpenAIClient) Stream(ctx context.Context, req *model.ChatRequest, fn func(delta string) error) error {
	chatReq, err := x.buildRequest(req)
	if err != nil {
		return err
	}
	chatReq.Stream = true

	stream, err := withRetry(ctx, x.maxRetries, "openai.stream", func() (*openai.ChatCompletionStream, error) {
		return x.client.CreateChatCompletionStream(ctx, chatReq)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to create chat completion stream", goerr.V("model", x.chatModel))
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to receive stream chunk")
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := fn(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

func (x *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, goerr.New("input is empty")
	}

	resp, err := withRetry(ctx, x.maxRetries, "openai.embed", func() (openai.EmbeddingResponse, error) {
		return x.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(x.embeddingModel),
		})
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embeddings", goerr.V("model", x.embeddingModel))
	}

	if len(resp.Data) != len(texts) {
		return nil, goerr.New("embedding count mismatch",
			goerr.V("expected", len(texts)),
			goerr.V("actual", len(resp.Data)))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, goerr.New("embedding index out of range", goerr.V("index", d.Index))
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// EmbeddingModel returns the model name, used as a cache namespace
func (x *OpenAIClient) EmbeddingModel() string {
	return x.embeddingModel
}

func (x *OpenAIClient) buildRequest(req *model.ChatRequest) (openai.ChatCompletionRequest, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    x.chatModel,
		Messages: toOpenAIMessages(req.Messages),
	}
	if x.temperature != nil {
		chatReq.Temperature = *x.temperature
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = make([]openai.Tool, 0, len(req.Tools))
		for _, spec := range req.Tools {
			params, err := json.Marshal(spec.ParameterSchema())
			if err != nil {
				return chatReq, goerr.Wrap(err, "failed to marshal tool parameters", goerr.V("tool", spec.Name))
			}
			chatReq.Tools = append(chatReq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        spec.Name,
					Description: spec.Description,
					Parameters:  json.RawMessage(params),
				},
			})
		}
		chatReq.ToolChoice = "auto"
	}

	if rs := req.ResponseSchema; rs != nil {
		schema, err := json.Marshal(rs.Schema)
		if err != nil {
			return chatReq, goerr.Wrap(err, "failed to marshal response schema", goerr.V("name", rs.Name))
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        rs.Name,
				Description: rs.Description,
				Schema:      json.RawMessage(schema),
			},
		}
	}

	return chatReq, nil
}

func toOpenAIMessages(messages []*model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) *model.Message {
	out := &model.Message{
		Role:    model.RoleAssistant,
		Content: msg.Content,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, &model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}
