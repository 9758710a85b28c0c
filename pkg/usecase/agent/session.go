package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/metrics"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/tool"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Session is one conversation with the agent. It is safe for concurrent use;
// turns are serialized.
type Session struct {
	agent *Agent

	mu       sync.Mutex
	conv     *model.Conversation
	messages []*model.Message
}

func (s *Session) ID() model.ConversationID {
	return s.conv.ID
}

// Messages returns a copy of the conversation including the system message
func (s *Session) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Send runs one turn: the model may call tools for up to MaxRounds-1 rounds,
// and the last round is called without tools to force a final answer.
func (s *Session) Send(ctx context.Context, input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", goerr.New("input is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logger := logging.From(ctx).With("conversation_id", s.conv.ID)
	ctx = logging.With(ctx, logger)

	base := len(s.messages)
	s.messages = append(s.messages, model.NewUserMessage(input))

	var specs []*model.ToolSpec
	if s.agent.registry != nil {
		specs = s.agent.registry.Specs()
	}

	var reply string
	compressed := false
	maxRounds := s.agent.maxRounds
	for round := 1; round <= maxRounds; round++ {
		req := &model.ChatRequest{Messages: s.messages}
		if round < maxRounds && len(specs) > 0 {
			req.Tools = specs
		}

		metrics.LLMRoundsTotal.Inc()
		logger.Debug("chat round", "round", round, "max_rounds", maxRounds, "tools", len(req.Tools))

		resp, err := s.agent.chat.Chat(ctx, req)
		if err != nil && !compressed && adapter.IsContextLengthError(err) {
			// One retry per turn with older history summarized
			compressed = true
			shift, cErr := s.compress(ctx, base)
			if cErr == nil {
				base -= shift
				logger.Info("conversation history compressed", "removed_messages", shift)
				round--
				continue
			}
			logger.Warn("failed to compress history", logging.ErrAttr(cErr))
		}
		if err != nil {
			// Drop the partial turn so the session can be retried
			s.messages = s.messages[:base]
			return "", goerr.Wrap(err, "failed to get chat completion", goerr.V("round", round))
		}

		if req.Tools != nil && resp.HasToolCalls() {
			s.messages = append(s.messages, resp)
			for _, call := range resp.ToolCalls {
				result := s.runTool(ctx, call)
				s.messages = append(s.messages, model.NewToolMessage(call, result))
			}
			continue
		}

		reply = resp.Content
		s.messages = append(s.messages, model.NewAssistantMessage(reply))
		break
	}

	s.persist(ctx, input, reply)
	return reply, nil
}

// runTool applies the policy, executes the call and returns the text sent back to the model.
// Failures become "Error: ..." results instead of aborting the turn.
func (s *Session) runTool(ctx context.Context, call *model.ToolCall) string {
	logger := logging.From(ctx)
	ev := &ToolEvent{Call: call}

	defer func() {
		if s.agent.observer != nil {
			s.agent.observer(ctx, ev)
		}
	}()

	decision, err := s.agent.policy.Evaluate(ctx, call)
	if err != nil {
		ev.Err = err
		ev.Result = fmt.Sprintf("Error: %v", err)
		metrics.ToolCallsTotal.WithLabelValues(call.Name, metrics.OutcomeError).Inc()
		logger.Warn("tool policy evaluation failed", "tool", call.Name, logging.ErrAttr(err))
		return ev.Result
	}
	if !decision.Allow {
		ev.Denied = true
		ev.Result = "Error: tool call denied by policy: " + decision.Reason
		metrics.ToolCallsTotal.WithLabelValues(call.Name, metrics.OutcomeDenied).Inc()
		logger.Warn("tool call denied", "tool", call.Name, "reason", decision.Reason)
		return ev.Result
	}

	logger.Info("agent is using tool", "tool", call.Name, "arguments", call.Arguments)

	if s.agent.registry == nil {
		err = goerr.Wrap(tool.ErrToolNotFound, "no tools are registered", goerr.V("name", call.Name))
	} else {
		ev.Result, err = s.agent.registry.Execute(ctx, call)
	}
	if err != nil {
		ev.Err = err
		ev.Result = fmt.Sprintf("Error: %v", err)
		metrics.ToolCallsTotal.WithLabelValues(call.Name, metrics.OutcomeError).Inc()
		logger.Warn("tool execution failed", "tool", call.Name, logging.ErrAttr(err))
		return ev.Result
	}

	metrics.ToolCallsTotal.WithLabelValues(call.Name, metrics.OutcomeOK).Inc()
	return ev.Result
}

// compress summarizes the history before the current turn, which starts at base.
// It returns how many messages were removed.
func (s *Session) compress(ctx context.Context, base int) (int, error) {
	prior := s.messages[1:base]
	shrunk, err := compressHistory(ctx, s.agent.chat, prior)
	if err != nil {
		return 0, err
	}

	messages := make([]*model.Message, 0, 1+len(shrunk)+len(s.messages)-base)
	messages = append(messages, s.messages[0])
	messages = append(messages, shrunk...)
	messages = append(messages, s.messages[base:]...)

	shift := len(s.messages) - len(messages)
	s.messages = messages
	return shift, nil
}
