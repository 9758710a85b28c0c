package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/policy"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/m-mizutani/burrow/pkg/tool/weather"
	"github.com/m-mizutani/burrow/pkg/usecase/agent"
	"github.com/m-mizutani/gt"
	"github.com/sashabaranov/go-openai"
)

// mockChat returns scripted replies in order and records every request
type mockChat struct {
	mu       sync.Mutex
	replies  []*model.Message
	requests []*model.ChatRequest
	chatErr  error
	deltas   []string
}

func (m *mockChat) Chat(ctx context.Context, req *model.ChatRequest) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *req
	copied.Messages = append([]*model.Message{}, req.Messages...)
	m.requests = append(m.requests, &copied)

	if m.chatErr != nil {
		return nil, m.chatErr
	}
	if len(m.replies) == 0 {
		return model.NewAssistantMessage("default answer"), nil
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

func (m *mockChat) Stream(ctx context.Context, req *model.ChatRequest, fn func(string) error) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	for _, d := range m.deltas {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func toolCallReply(calls ...*model.ToolCall) *model.Message {
	return &model.Message{Role: model.RoleAssistant, ToolCalls: calls}
}

func newRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	r := tool.New(weather.New())
	gt.NoError(t, r.Init(context.Background(), nil))
	return r
}

func TestSendWithoutToolCalls(t *testing.T) {
	chat := &mockChat{replies: []*model.Message{model.NewAssistantMessage("Hello!")}}
	a := agent.New(chat, agent.WithRegistry(newRegistry(t)))
	s := a.NewSession(context.Background())

	reply, err := s.Send(context.Background(), "hi")
	gt.NoError(t, err)
	gt.Equal(t, reply, "Hello!")

	gt.A(t, chat.requests).Length(1)
	gt.A(t, chat.requests[0].Tools).Length(1)

	msgs := s.Messages()
	gt.A(t, msgs).Length(3)
	gt.Equal(t, msgs[0].Role, model.RoleSystem)
	gt.Equal(t, msgs[0].Content, agent.DefaultSystemPrompt)
	gt.Equal(t, msgs[1].Content, "hi")
	gt.Equal(t, msgs[2].Content, "Hello!")
}

func TestSendTwoRoundDispatch(t *testing.T) {
	call := &model.ToolCall{ID: "call_1", Name: "get_weather", Arguments: `{"location":"Paris"}`}
	chat := &mockChat{replies: []*model.Message{
		toolCallReply(call),
		model.NewAssistantMessage("It is 18°C and cloudy in Paris."),
	}}

	var events []*agent.ToolEvent
	a := agent.New(chat,
		agent.WithRegistry(newRegistry(t)),
		agent.WithMaxRounds(2),
		agent.WithObserver(func(ctx context.Context, ev *agent.ToolEvent) {
			events = append(events, ev)
		}),
	)
	s := a.NewSession(context.Background())

	reply, err := s.Send(context.Background(), "Weather in Paris?")
	gt.NoError(t, err)
	gt.Equal(t, reply, "It is 18°C and cloudy in Paris.")

	// plan with tools, then final answer without tools
	gt.A(t, chat.requests).Length(2)
	gt.A(t, chat.requests[0].Tools).Length(1)
	gt.A(t, chat.requests[1].Tools).Length(0)

	second := chat.requests[1].Messages
	gt.A(t, second).Length(4)
	gt.True(t, second[2].HasToolCalls())
	gt.Equal(t, second[3].Role, model.RoleTool)
	gt.Equal(t, second[3].ToolCallID, "call_1")
	gt.Equal(t, second[3].Name, "get_weather")
	gt.Equal(t, second[3].Content, `{"location":"Paris","weather":"18°C, Cloudy"}`)

	gt.A(t, events).Length(1)
	gt.Equal(t, events[0].Call.Name, "get_weather")
	gt.NoError(t, events[0].Err)
}

func TestSendToolErrorsDoNotAbort(t *testing.T) {
	chat := &mockChat{replies: []*model.Message{
		toolCallReply(
			&model.ToolCall{ID: "a", Name: "unknown_tool", Arguments: `{}`},
			&model.ToolCall{ID: "b", Name: "get_weather", Arguments: `{"location":`},
		),
		model.NewAssistantMessage("Sorry, something went wrong."),
	}}
	a := agent.New(chat, agent.WithRegistry(newRegistry(t)))
	s := a.NewSession(context.Background())

	reply, err := s.Send(context.Background(), "do things")
	gt.NoError(t, err)
	gt.Equal(t, reply, "Sorry, something went wrong.")

	msgs := chat.requests[1].Messages
	gt.Equal(t, msgs[3].ToolCallID, "a")
	gt.True(t, strings.HasPrefix(msgs[3].Content, "Error: "))
	gt.Equal(t, msgs[4].ToolCallID, "b")
	gt.True(t, strings.HasPrefix(msgs[4].Content, "Error: "))
}

func TestSendForcesFinalAnswerAtMaxRounds(t *testing.T) {
	call := func(id string) *model.ToolCall {
		return &model.ToolCall{ID: id, Name: "get_weather", Arguments: `{"location":"Rabat"}`}
	}
	chat := &mockChat{replies: []*model.Message{
		toolCallReply(call("1")),
		toolCallReply(call("2")),
		model.NewAssistantMessage("done"),
	}}
	a := agent.New(chat, agent.WithRegistry(newRegistry(t)), agent.WithMaxRounds(3))

	reply, err := a.NewSession(context.Background()).Send(context.Background(), "loop")
	gt.NoError(t, err)
	gt.Equal(t, reply, "done")
	gt.A(t, chat.requests).Length(3)
	gt.A(t, chat.requests[1].Tools).Length(1)
	gt.A(t, chat.requests[2].Tools).Length(0)
}

func TestMaxRoundsFloor(t *testing.T) {
	chat := &mockChat{}
	a := agent.New(chat, agent.WithRegistry(newRegistry(t)), agent.WithMaxRounds(0))
	gt.Equal(t, a.MaxRounds(), 1)

	reply, err := a.NewSession(context.Background()).Send(context.Background(), "hi")
	gt.NoError(t, err)
	gt.Equal(t, reply, "default answer")
	gt.A(t, chat.requests[0].Tools).Length(0)
}

func TestSendPolicyDenial(t *testing.T) {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "tool.rego"), []byte(`package tool

default allow := false

reason := "weather lookups are disabled"
`), 0644))
	engine, err := policy.New(context.Background(), dir)
	gt.NoError(t, err)

	chat := &mockChat{replies: []*model.Message{
		toolCallReply(&model.ToolCall{ID: "x", Name: "get_weather", Arguments: `{"location":"Paris"}`}),
		model.NewAssistantMessage("I cannot check the weather."),
	}}
	var denied bool
	a := agent.New(chat,
		agent.WithRegistry(newRegistry(t)),
		agent.WithPolicy(engine),
		agent.WithObserver(func(ctx context.Context, ev *agent.ToolEvent) { denied = ev.Denied }),
	)

	_, err = a.NewSession(context.Background()).Send(context.Background(), "weather?")
	gt.NoError(t, err)
	gt.True(t, denied)
	gt.Equal(t, chat.requests[1].Messages[3].Content, "Error: tool call denied by policy: weather lookups are disabled")
}

func TestSendChatErrorRollsBack(t *testing.T) {
	chat := &mockChat{chatErr: errors.New("api down")}
	a := agent.New(chat)
	s := a.NewSession(context.Background())

	_, err := s.Send(context.Background(), "hi")
	gt.Error(t, err)
	gt.A(t, s.Messages()).Length(1)

	_, err = s.Send(context.Background(), "   ")
	gt.Error(t, err)
}

func TestPersistAndResume(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	longInput := strings.Repeat("あ", 60)
	chat := &mockChat{replies: []*model.Message{
		model.NewAssistantMessage("first answer"),
		model.NewAssistantMessage("second answer"),
	}}
	a := agent.New(chat, agent.WithRepository(repo), agent.WithStorage(storage))

	s := a.NewSession(ctx)
	_, err = s.Send(ctx, longInput)
	gt.NoError(t, err)

	conv, err := repo.GetConversation(ctx, s.ID())
	gt.NoError(t, err)
	gt.Equal(t, conv.Title, strings.Repeat("あ", 50))

	records, err := repo.ListRecords(ctx, s.ID(), 10)
	gt.NoError(t, err)
	gt.A(t, records).Length(2)
	gt.Equal(t, records[0].Role, model.RoleUser)
	gt.Equal(t, records[1].Content, "first answer")

	r, err := storage.Get(ctx, agent.SnapshotKey(s.ID()))
	gt.NoError(t, err)
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.NoError(t, r.Close())
	var snap map[string]any
	gt.NoError(t, json.Unmarshal(data, &snap))
	gt.A(t, snap["messages"].([]any)).Length(3)

	resumed, err := a.Resume(ctx, s.ID())
	gt.NoError(t, err)
	gt.Equal(t, resumed.ID(), s.ID())
	gt.A(t, resumed.Messages()).Length(3)

	reply, err := resumed.Send(ctx, "again")
	gt.NoError(t, err)
	gt.Equal(t, reply, "second answer")
	gt.A(t, chat.requests[1].Messages).Length(4)

	conv, err = repo.GetConversation(ctx, s.ID())
	gt.NoError(t, err)
	gt.Equal(t, conv.Title, strings.Repeat("あ", 50))
}

func TestResumeMissing(t *testing.T) {
	ctx := context.Background()
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	a := agent.New(&mockChat{}, agent.WithStorage(storage))
	_, err = a.Resume(ctx, model.NewConversationID())
	gt.Error(t, err)
	gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))

	_, err = agent.New(&mockChat{}).Resume(ctx, model.NewConversationID())
	gt.Error(t, err)
}

func TestReply(t *testing.T) {
	chat := &mockChat{deltas: []string{"Hel", "lo"}}
	a := agent.New(chat, agent.WithSystemPrompt("be brief"), agent.WithRegistry(newRegistry(t)))

	var b strings.Builder
	gt.NoError(t, a.Reply(context.Background(), "hi", func(d string) error {
		b.WriteString(d)
		return nil
	}))
	gt.Equal(t, b.String(), "Hello")

	req := chat.requests[0]
	gt.A(t, req.Messages).Length(2)
	gt.Equal(t, req.Messages[0].Content, "be brief")
	gt.Equal(t, req.Messages[1].Content, "hi")
	gt.A(t, req.Tools).Length(0)

	gt.Error(t, a.Reply(context.Background(), "", func(string) error { return nil }))
}

func TestTitle(t *testing.T) {
	gt.Equal(t, agent.Title("short"), "short")
	gt.Equal(t, agent.Title(strings.Repeat("x", 51)), strings.Repeat("x", 50))
}

// limitChat fails with a context length error while the request holds more than limit messages
type limitChat struct {
	limit    int
	requests []*model.ChatRequest
}

func (m *limitChat) Chat(ctx context.Context, req *model.ChatRequest) (*model.Message, error) {
	m.requests = append(m.requests, req)

	last := req.Messages[len(req.Messages)-1]
	if strings.HasPrefix(last.Content, "Summarize the conversation") {
		return model.NewAssistantMessage("user asked about weather twice"), nil
	}
	if len(req.Messages) > m.limit {
		return nil, &openai.APIError{Code: "context_length_exceeded", HTTPStatusCode: 400, Message: "too long"}
	}
	return model.NewAssistantMessage("ok"), nil
}

func (m *limitChat) Stream(ctx context.Context, req *model.ChatRequest, fn func(string) error) error {
	return nil
}

func TestSendCompressesHistoryOnContextLimit(t *testing.T) {
	ctx := context.Background()
	chat := &limitChat{limit: 100}
	s := agent.New(chat).NewSession(ctx)

	for _, input := range []string{"first question", "second question", "third question"} {
		_, err := s.Send(ctx, input)
		gt.NoError(t, err)
	}
	gt.A(t, s.Messages()).Length(7)

	chat.limit = 5
	reply, err := s.Send(ctx, strings.Repeat("long question ", 10))
	gt.NoError(t, err)
	gt.Equal(t, reply, "ok")

	msgs := s.Messages()
	gt.Equal(t, msgs[0].Role, model.RoleSystem)
	gt.S(t, msgs[1].Content).Contains("=== Previous Conversation Summary ===")
	gt.S(t, msgs[1].Content).Contains("user asked about weather twice")
	gt.Equal(t, msgs[len(msgs)-1].Content, "ok")
	gt.True(t, len(msgs) < 9)
}

func TestSendContextLimitWithoutHistory(t *testing.T) {
	ctx := context.Background()
	chat := &limitChat{limit: 1}
	s := agent.New(chat).NewSession(ctx)

	_, err := s.Send(ctx, "hello")
	gt.Error(t, err)
	gt.A(t, s.Messages()).Length(1)
}
