package agent

import (
	"context"
	"strings"

	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/policy"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultSystemPrompt = "You are a helpful AI assistant."

	// DefaultMaxRounds allows up to four tool rounds before the forced final answer
	DefaultMaxRounds = 5
)

// ToolEvent describes one tool call handled by the loop
type ToolEvent struct {
	Call   *model.ToolCall
	Result string
	Err    error
	Denied bool
}

// Observer is notified after every tool call
type Observer func(ctx context.Context, ev *ToolEvent)

// Agent holds the configuration shared by all sessions
type Agent struct {
	chat         adapter.ChatModel
	registry     *tool.Registry
	policy       *policy.Engine
	repo         repository.Repository
	storage      adapter.Storage
	systemPrompt string
	maxRounds    int
	observer     Observer
}

type Option func(*Agent)

// WithRegistry sets the tools offered to the model. The registry must be initialized.
func WithRegistry(registry *tool.Registry) Option {
	return func(a *Agent) {
		a.registry = registry
	}
}

func WithPolicy(engine *policy.Engine) Option {
	return func(a *Agent) {
		a.policy = engine
	}
}

// WithRepository enables conversation metadata and record persistence
func WithRepository(repo repository.Repository) Option {
	return func(a *Agent) {
		a.repo = repo
	}
}

// WithStorage enables conversation snapshots, required by Resume
func WithStorage(storage adapter.Storage) Option {
	return func(a *Agent) {
		a.storage = storage
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		if prompt != "" {
			a.systemPrompt = prompt
		}
	}
}

// WithMaxRounds sets the number of chat completion calls per turn. Values below 1 are treated as 1.
func WithMaxRounds(n int) Option {
	return func(a *Agent) {
		a.maxRounds = n
	}
}

func WithObserver(observer Observer) Option {
	return func(a *Agent) {
		a.observer = observer
	}
}

// New creates an Agent on top of the chat model
func New(chat adapter.ChatModel, opts ...Option) *Agent {
	a := &Agent{
		chat:         chat,
		systemPrompt: DefaultSystemPrompt,
		maxRounds:    DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.maxRounds < 1 {
		a.maxRounds = 1
	}
	return a
}

// MaxRounds returns the effective number of rounds per turn
func (a *Agent) MaxRounds() int {
	return a.maxRounds
}

// sessionPrompt is the system prompt followed by the prompts of enabled tools
func (a *Agent) sessionPrompt(ctx context.Context) string {
	if a.registry == nil {
		return a.systemPrompt
	}
	if extra := a.registry.Prompts(ctx); extra != "" {
		return a.systemPrompt + "\n\n" + extra
	}
	return a.systemPrompt
}

// NewSession starts an empty conversation
func (a *Agent) NewSession(ctx context.Context) *Session {
	return &Session{
		agent: a,
		conv: &model.Conversation{
			ID: model.NewConversationID(),
		},
		messages: []*model.Message{
			model.NewSystemMessage(a.sessionPrompt(ctx)),
		},
	}
}

// Resume restores a conversation from its snapshot
func (a *Agent) Resume(ctx context.Context, id model.ConversationID) (*Session, error) {
	if a.storage == nil {
		return nil, goerr.New("conversation storage is not configured")
	}

	conv, err := loadConversation(ctx, a.repo, a.storage, id)
	if err != nil {
		return nil, err
	}

	messages := conv.Messages
	conv.Messages = nil
	if len(messages) == 0 || messages[0].Role != model.RoleSystem {
		messages = append([]*model.Message{model.NewSystemMessage(a.sessionPrompt(ctx))}, messages...)
	}

	return &Session{
		agent:    a,
		conv:     conv,
		messages: messages,
	}, nil
}

// Reply streams a single answer to prompt with only the system prompt as context.
// No tools are offered and no session state is touched.
func (a *Agent) Reply(ctx context.Context, prompt string, fn func(delta string) error) error {
	if strings.TrimSpace(prompt) == "" {
		return goerr.New("prompt is empty")
	}

	req := &model.ChatRequest{
		Messages: []*model.Message{
			model.NewSystemMessage(a.systemPrompt),
			model.NewUserMessage(prompt),
		},
	}
	if err := a.chat.Stream(ctx, req, fn); err != nil {
		return goerr.Wrap(err, "failed to stream reply")
	}
	return nil
}
