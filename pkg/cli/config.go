package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/policy"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/service/mcp"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/m-mizutani/burrow/pkg/tool/clock"
	"github.com/m-mizutani/burrow/pkg/tool/knowledge"
	"github.com/m-mizutani/burrow/pkg/tool/search"
	"github.com/m-mizutani/burrow/pkg/tool/weather"
	"github.com/m-mizutani/burrow/pkg/usecase/agent"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	providerOpenAI = "openai"
	providerGemini = "gemini"
)

// config holds configuration values
type config struct {
	// LLM
	provider       string
	openAIAPIKey   string
	openAIBaseURL  string
	chatModel      string
	embeddingModel string
	geminiProject  string
	geminiLocation string
	geminiAPIKey   string
	redisURL       string

	// Persistence
	repository    string
	storageBucket string
	storagePrefix string
	storageDir    string

	// Agent
	profile   string
	policyDir string
	mcpConfig string
	maxRounds int64
	sysPrompt string
	builtins  []tool.Tool

	// closers release what the constructors opened, run in reverse by close
	closers []func() error
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "LLM provider (openai, gemini)",
			Value:       providerOpenAI,
			Sources:     cli.EnvVars("BURROW_LLM"),
			Destination: &cfg.provider,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openAIAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "Base URL of an OpenAI compatible API",
			Sources:     cli.EnvVars("BURROW_OPENAI_BASE_URL", "OPENAI_BASE_URL"),
			Destination: &cfg.openAIBaseURL,
		},
		&cli.StringFlag{
			Name:        "chat-model",
			Usage:       "Chat model name (provider default if empty)",
			Sources:     cli.EnvVars("BURROW_CHAT_MODEL"),
			Destination: &cfg.chatModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name (provider default if empty)",
			Sources:     cli.EnvVars("BURROW_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key, used instead of Vertex AI when set",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Usage:       "Redis URL for the embedding cache, e.g. redis://localhost:6379/0",
			Sources:     cli.EnvVars("BURROW_REDIS_URL"),
			Destination: &cfg.redisURL,
		},
	}
}

// repositoryFlags returns flags for the chunk and conversation store
func repositoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "repository",
			Aliases:     []string{"r"},
			Usage:       "Repository DSN (memory://, sqlite://path, postgres://..., firestore://project/database)",
			Value:       "sqlite://burrow.db",
			Sources:     cli.EnvVars("BURROW_REPOSITORY"),
			Destination: &cfg.repository,
		},
	}
}

// storageFlags returns flags for conversation snapshots
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "storage-bucket",
			Usage:       "Cloud Storage bucket for conversation snapshots",
			Sources:     cli.EnvVars("BURROW_STORAGE_BUCKET"),
			Destination: &cfg.storageBucket,
		},
		&cli.StringFlag{
			Name:        "storage-prefix",
			Usage:       "Object name prefix in the bucket",
			Sources:     cli.EnvVars("BURROW_STORAGE_PREFIX"),
			Destination: &cfg.storagePrefix,
		},
		&cli.StringFlag{
			Name:        "storage-dir",
			Usage:       "Local directory for conversation snapshots, used when no bucket is set",
			Value:       ".burrow",
			Sources:     cli.EnvVars("BURROW_STORAGE_DIR"),
			Destination: &cfg.storageDir,
		},
	}
}

// agentFlags returns flags for the tool-calling agent, including flags of built-in tools
func agentFlags(cfg *config) []cli.Flag {
	cfg.builtins = []tool.Tool{
		clock.New(),
		weather.New(),
		search.New(),
		knowledge.New(),
	}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "profile",
			Usage:       "Agent profile YAML (system_prompt, max_rounds, tools)",
			Sources:     cli.EnvVars("BURROW_PROFILE"),
			Destination: &cfg.profile,
		},
		&cli.StringFlag{
			Name:        "system-prompt",
			Usage:       "System prompt, overrides the profile",
			Sources:     cli.EnvVars("BURROW_SYSTEM_PROMPT"),
			Destination: &cfg.sysPrompt,
		},
		&cli.IntFlag{
			Name:        "max-rounds",
			Usage:       "Chat completion rounds per turn, the last one without tools (0 uses the profile or default)",
			Sources:     cli.EnvVars("BURROW_MAX_ROUNDS"),
			Destination: &cfg.maxRounds,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policies for tool calls (package tool)",
			Sources:     cli.EnvVars("BURROW_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "YAML file listing MCP servers whose tools are offered to the agent",
			Sources:     cli.EnvVars("BURROW_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
	}
	return append(flags, tool.New(cfg.builtins...).Flags()...)
}

// newLLM creates the chat and embedding client of the selected provider
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, error) {
	switch cfg.provider {
	case providerOpenAI, "":
		if cfg.openAIAPIKey == "" && cfg.openAIBaseURL == "" {
			return nil, goerr.New("openai-api-key is required")
		}
		opts := []adapter.OpenAIOption{adapter.WithOpenAIBaseURL(cfg.openAIBaseURL)}
		if cfg.chatModel != "" {
			opts = append(opts, adapter.WithOpenAIChatModel(cfg.chatModel))
		}
		if cfg.embeddingModel != "" {
			opts = append(opts, adapter.WithOpenAIEmbeddingModel(cfg.embeddingModel))
		}
		return adapter.NewOpenAI(cfg.openAIAPIKey, opts...), nil

	case providerGemini:
		var opts []adapter.GeminiOption
		if cfg.chatModel != "" {
			opts = append(opts, adapter.WithGenerativeModel(cfg.chatModel))
		}
		if cfg.embeddingModel != "" {
			opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
		}

		if cfg.geminiAPIKey != "" {
			return adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey, opts...)
		}
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-project or gemini-api-key is required")
		}
		return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)

	default:
		return nil, goerr.New("unsupported LLM provider", goerr.V("llm", cfg.provider))
	}
}

// newEmbedder returns llm as an Embedder, wrapped with the Redis cache when configured
func (cfg *config) newEmbedder(ctx context.Context, llm adapter.Embedder) (adapter.Embedder, error) {
	if cfg.redisURL == "" {
		return llm, nil
	}

	client, err := adapter.NewRedisClient(ctx, cfg.redisURL)
	if err != nil {
		return nil, err
	}
	cfg.onClose(client.Close)

	return adapter.NewEmbeddingCache(llm, client, cfg.embeddingNamespace(llm)), nil
}

// embeddingNamespace names the provider and the embedding model the client resolved
func (cfg *config) embeddingNamespace(e adapter.Embedder) string {
	provider := cfg.provider
	if provider == "" {
		provider = providerOpenAI
	}

	name := cfg.embeddingModel
	if m, ok := e.(interface{ EmbeddingModel() string }); ok {
		name = m.EmbeddingModel()
	}
	return provider + ":" + name
}

// newRepository opens the repository named by the DSN
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	repo, err := repository.New(ctx, cfg.repository)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newStorage creates a Cloud Storage or local directory Storage
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.storageBucket != "" {
		return adapter.NewCloudStorage(ctx, cfg.storageBucket, cfg.storagePrefix)
	}
	if cfg.storageDir == "" {
		return nil, goerr.New("storage-bucket or storage-dir is required")
	}
	if err := os.MkdirAll(cfg.storageDir, 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.V("dir", cfg.storageDir))
	}
	return adapter.NewFileStorage(cfg.storageDir)
}

// newRegistry initializes built-in tools and the tools of MCP servers listed in the profile
// and the --mcp-config file, then applies the profile allow-list
func (cfg *config) newRegistry(ctx context.Context, client *tool.Client, prof *profile) (*tool.Registry, error) {
	tools := append([]tool.Tool{}, cfg.builtins...)

	mcpCfg, err := mcp.LoadConfig(cfg.mcpConfig)
	if err != nil {
		return nil, err
	}
	servers := append(append([]mcp.ServerConfig{}, prof.MCPServers...), mcpCfg.Servers...)
	if provider := mcp.Start(ctx, servers); provider != nil {
		cfg.onClose(provider.Close)
		tools = append(tools, provider)
	}

	registry := tool.New(tools...)
	if err := registry.Init(ctx, client); err != nil {
		return nil, goerr.Wrap(err, "failed to initialize tools")
	}
	registry.Filter(prof.Tools)
	return registry, nil
}

// onClose registers fn to be run by close
func (cfg *config) onClose(fn func() error) {
	cfg.closers = append(cfg.closers, fn)
}

// close runs the registered closers, latest first. Failures are logged.
func (cfg *config) close(ctx context.Context) {
	for i := len(cfg.closers) - 1; i >= 0; i-- {
		if err := cfg.closers[i](); err != nil {
			logging.From(ctx).Warn("failed to release resource", logging.ErrAttr(err))
		}
	}
	cfg.closers = nil
}

// agentDeps are the resources an agent command needs
type agentDeps struct {
	llm      adapter.LLM
	embedder adapter.Embedder
	repo     repository.Repository
	agent    *agent.Agent
}

// newAgent wires the LLM, repository, storage, tools and policy into an Agent.
// Opened resources are released by cfg.close, and already on error.
func (cfg *config) newAgent(ctx context.Context, opts ...agent.Option) (_ *agentDeps, err error) {
	defer func() {
		if err != nil {
			cfg.close(ctx)
		}
	}()

	prof, err := loadProfile(cfg.profile)
	if err != nil {
		return nil, err
	}

	llm, err := cfg.newLLM(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := cfg.newEmbedder(ctx, llm)
	if err != nil {
		return nil, err
	}

	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}
	cfg.onClose(repo.Close)

	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, err
	}

	registry, err := cfg.newRegistry(ctx, &tool.Client{Repo: repo, Embedder: embedder}, prof)
	if err != nil {
		return nil, err
	}

	engine, err := policy.New(ctx, cfg.policyDir)
	if err != nil {
		return nil, err
	}

	systemPrompt := prof.SystemPrompt
	if cfg.sysPrompt != "" {
		systemPrompt = cfg.sysPrompt
	}
	maxRounds := prof.MaxRounds
	if cfg.maxRounds > 0 {
		maxRounds = int(cfg.maxRounds)
	}
	if maxRounds == 0 {
		maxRounds = agent.DefaultMaxRounds
	}

	base := []agent.Option{
		agent.WithRegistry(registry),
		agent.WithPolicy(engine),
		agent.WithRepository(repo),
		agent.WithStorage(storage),
		agent.WithSystemPrompt(systemPrompt),
		agent.WithMaxRounds(maxRounds),
	}

	return &agentDeps{
		llm:      llm,
		embedder: embedder,
		repo:     repo,
		agent:    agent.New(llm, append(base, opts...)...),
	}, nil
}
