package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// compressionRatio is the share of history, by byte size, replaced with a summary
const compressionRatio = 0.7

const summaryHeader = "=== Previous Conversation Summary ===\n\n"

const summarizePrompt = `Summarize the conversation so far for your own later reference.
Keep user goals, facts learned from tools, decisions made and open questions.
Reply with the summary only.`

// ErrNothingToCompress is returned when the history is too short to shrink
var ErrNothingToCompress = goerr.New("insufficient history to compress")

func messageSize(msg *model.Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0
	}
	return len(data)
}

// compressHistory replaces the oldest 70% of history, by byte size, with a summary
// message. history must not contain the system message. The kept part never starts
// with a tool message so tool results stay next to the call that requested them.
func compressHistory(ctx context.Context, chat adapter.ChatModel, history []*model.Message) ([]*model.Message, error) {
	if len(history) == 0 {
		return nil, ErrNothingToCompress
	}

	total := 0
	sizes := make([]int, len(history))
	for i, msg := range history {
		sizes[i] = messageSize(msg)
		total += sizes[i]
	}

	threshold := int(float64(total) * compressionRatio)
	cut, cumulative := 0, 0
	for i, size := range sizes {
		cumulative += size
		if cumulative >= threshold {
			cut = i + 1
			break
		}
	}
	for cut < len(history) && history[cut].Role == model.RoleTool {
		cut++
	}

	if cut == 0 || cut >= len(history) {
		return nil, ErrNothingToCompress
	}

	summary, err := summarize(ctx, chat, history[:cut])
	if err != nil {
		return nil, err
	}

	compressed := append([]*model.Message{model.NewUserMessage(summaryHeader + summary)}, history[cut:]...)
	return compressed, nil
}

func summarize(ctx context.Context, chat adapter.ChatModel, history []*model.Message) (string, error) {
	msgs := make([]*model.Message, 0, len(history)+2)
	msgs = append(msgs, model.NewSystemMessage("You are an assistant that writes concise conversation summaries."))
	msgs = append(msgs, history...)
	msgs = append(msgs, model.NewUserMessage(summarizePrompt))

	resp, err := chat.Chat(ctx, &model.ChatRequest{Messages: msgs})
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate summary")
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", goerr.New("empty summary generated")
	}
	return summary, nil
}
