package adapter_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/gt"
)

func setupGemini(t *testing.T) *adapter.GeminiClient {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	location := os.Getenv("TEST_GEMINI_LOCATION")
	if location == "" {
		location = "us-central1"
	}

	client, err := adapter.NewGemini(context.Background(), projectID, location)
	gt.NoError(t, err)
	return client
}

func TestGeminiChat(t *testing.T) {
	client := setupGemini(t)

	resp, err := client.Chat(context.Background(), &model.ChatRequest{
		Messages: []*model.Message{
			model.NewSystemMessage("Answer in one word."),
			model.NewUserMessage("Hello, what is the capital of France?"),
		},
	})
	gt.NoError(t, err)
	gt.S(t, strings.ToLower(resp.Content)).Contains("paris")
}

func TestGeminiStream(t *testing.T) {
	client := setupGemini(t)

	var b strings.Builder
	err := client.Stream(context.Background(), &model.ChatRequest{
		Messages: []*model.Message{model.NewUserMessage("Count from 1 to 5.")},
	}, func(delta string) error {
		b.WriteString(delta)
		return nil
	})
	gt.NoError(t, err)
	gt.S(t, b.String()).Contains("3")
}

func TestGeminiEmbed(t *testing.T) {
	client := setupGemini(t)

	vectors, err := client.Embed(context.Background(), []string{"hello", "world"})
	gt.NoError(t, err)
	gt.A(t, vectors).Length(2)
	gt.A(t, vectors[0]).Longer(0)
}
