package adapter

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const (
	DefaultGeminiChatModel      = "gemini-2.5-flash"
	DefaultGeminiEmbeddingModel = "gemini-embedding-001"
)

// GeminiClient implements LLM with Gemini on Vertex AI or the Gemini API
type GeminiClient struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string
	dimensions      int32
	maxRetries      int
	baseURL         string
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(name string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = name
	}
}

func WithEmbeddingModel(name string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = name
	}
}

// WithEmbeddingDimensions truncates embeddings to n dimensions. 0 keeps the model default.
func WithEmbeddingDimensions(n int) GeminiOption {
	return func(g *GeminiClient) {
		g.dimensions = int32(n)
	}
}

func WithGeminiMaxRetries(n int) GeminiOption {
	return func(g *GeminiClient) {
		g.maxRetries = n
	}
}

// WithGeminiBaseURL overrides the API endpoint
func WithGeminiBaseURL(url string) GeminiOption {
	return func(g *GeminiClient) {
		g.baseURL = url
	}
}

// NewGemini creates a Vertex AI backed client
func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	return newGemini(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}, opts...)
}

// NewGeminiWithAPIKey creates a Gemini API backed client
func NewGeminiWithAPIKey(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	return newGemini(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, opts...)
}

func newGemini(ctx context.Context, cfg *genai.ClientConfig, opts ...GeminiOption) (*GeminiClient, error) {
	g := &GeminiClient{
		generativeModel: DefaultGeminiChatModel,
		embeddingModel:  DefaultGeminiEmbeddingModel,
		maxRetries:      defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.baseURL != "" {
		cfg.HTTPOptions.BaseURL = g.baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	g.client = client

	return g, nil
}

func (g *GeminiClient) Chat(ctx context.Context, req *model.ChatRequest) (*model.Message, error) {
	contents, config, err := toGeminiRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := withRetry(ctx, g.maxRetries, "gemini.generate", func() (*genai.GenerateContentResponse, error) {
		return g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, goerr.New("no candidates in response", goerr.V("model", g.generativeModel))
	}

	return fromGeminiContent(resp.Candidates[0].Content)
}

func (g *GeminiClient) Stream(ctx context.Context, req *model.ChatRequest, fn func(delta string) error) error {
	contents, config, err := toGeminiRequest(req)
	if err != nil {
		return err
	}

	// Opening the stream is retried until the first chunk arrives. Later failures are not.
	var next func() (*genai.GenerateContentResponse, error, bool)
	var stop func()
	defer func() {
		if stop != nil {
			stop()
		}
	}()

	first, err := withRetry(ctx, g.maxRetries, "gemini.stream", func() (*genai.GenerateContentResponse, error) {
		if stop != nil {
			stop()
		}
		next, stop = iter.Pull2(g.client.Models.GenerateContentStream(ctx, g.generativeModel, contents, config))
		resp, err, ok := next()
		if !ok {
			return nil, nil
		}
		return resp, err
	})
	if err != nil {
		return goerr.Wrap(err, "failed to start content stream", goerr.V("model", g.generativeModel))
	}

	if err := emitGeminiText(first, fn); err != nil {
		return err
	}
	for {
		resp, err, ok := next()
		if !ok {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to receive stream chunk", goerr.V("model", g.generativeModel))
		}
		if err := emitGeminiText(resp, fn); err != nil {
			return err
		}
	}
}

// emitGeminiText passes the visible text parts of resp to fn
func emitGeminiText(resp *genai.GenerateContentResponse, fn func(delta string) error) error {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text == "" || part.Thought {
			continue
		}
		if err := fn(part.Text); err != nil {
			return err
		}
	}
	return nil
}

func (g *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, goerr.New("input is empty")
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	config := &genai.EmbedContentConfig{}
	if g.dimensions > 0 {
		config.OutputDimensionality = &g.dimensions
	}

	resp, err := withRetry(ctx, g.maxRetries, "gemini.embed", func() (*genai.EmbedContentResponse, error) {
		return g.client.Models.EmbedContent(ctx, g.embeddingModel, contents, config)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.embeddingModel))
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, goerr.New("embedding count mismatch",
			goerr.V("expected", len(texts)),
			goerr.V("actual", len(resp.Embeddings)))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

// EmbeddingModel returns the model name, used as a cache namespace
func (g *GeminiClient) EmbeddingModel() string {
	return g.embeddingModel
}

func toGeminiRequest(req *model.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}
	var contents []*genai.Content

	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			config.SystemInstruction = genai.NewContentFromText(m.Content, "")

		case model.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))

		case model.RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args, err := tc.ArgumentMap()
				if err != nil {
					return nil, nil, err
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
				})
			}
			contents = append(contents, content)

		case model.RoleTool:
			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.Name,
					Response: map[string]any{"result": m.Content},
				},
			}
			// Consecutive tool results go back as a single user content
			if n := len(contents); n > 0 && isFunctionResponse(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
			} else {
				contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
			}

		default:
			return nil, nil, goerr.New("unknown message role", goerr.V("role", m.Role))
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, spec := range req.Tools {
			decl := &genai.FunctionDeclaration{
				Name:        spec.Name,
				Description: spec.Description,
			}
			if spec.Parameters != nil {
				schema, err := convertJSONSchemaToGenai(spec.Parameters)
				if err != nil {
					return nil, nil, goerr.Wrap(err, "failed to convert tool schema", goerr.V("tool", spec.Name))
				}
				decl.Parameters = schema
			}
			decls = append(decls, decl)
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	if rs := req.ResponseSchema; rs != nil {
		schema, err := convertJSONSchemaToGenai(rs.Schema)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to convert response schema", goerr.V("name", rs.Name))
		}
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schema
	}

	return contents, config, nil
}

func isFunctionResponse(c *genai.Content) bool {
	return c.Role == genai.RoleUser && len(c.Parts) > 0 && c.Parts[0].FunctionResponse != nil
}

func fromGeminiContent(content *genai.Content) (*model.Message, error) {
	msg := &model.Message{Role: model.RoleAssistant}
	for _, part := range content.Parts {
		if part.Text != "" && !part.Thought {
			msg.Content += part.Text
		}
		if fc := part.FunctionCall; fc != nil {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to marshal function call arguments", goerr.V("name", fc.Name))
			}
			id := fc.ID
			if id == "" {
				// Vertex AI does not always return call IDs
				id = fc.Name
			}
			msg.ToolCalls = append(msg.ToolCalls, &model.ToolCall{
				ID:        id,
				Name:      fc.Name,
				Arguments: string(args),
			})
		}
	}
	return msg, nil
}
