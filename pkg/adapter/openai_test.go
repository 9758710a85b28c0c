package adapter_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/gt"
)

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *adapter.OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return adapter.NewOpenAI("test-key", adapter.WithOpenAIBaseURL(srv.URL+"/v1"))
}

func TestOpenAIChatWithTools(t *testing.T) {
	var captured map[string]any
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/v1/chat/completions")
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "get_weather", "arguments": "{\"location\":\"Paris\"}"}
					}]
				}
			}]
		}`)
	})

	resp, err := client.Chat(context.Background(), &model.ChatRequest{
		Messages: []*model.Message{
			model.NewSystemMessage("You are a helpful assistant."),
			model.NewUserMessage("Weather in Paris?"),
		},
		Tools: []*model.ToolSpec{
			{
				Name:        "get_weather",
				Description: "Get the weather",
				Parameters: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"location": {Type: "string"},
					},
					Required: []string{"location"},
				},
			},
		},
	})
	gt.NoError(t, err)
	gt.True(t, resp.HasToolCalls())
	gt.Equal(t, resp.ToolCalls[0].ID, "call_1")
	gt.Equal(t, resp.ToolCalls[0].Name, "get_weather")

	var args struct {
		Location string `json:"location"`
	}
	gt.NoError(t, resp.ToolCalls[0].Decode(&args))
	gt.Equal(t, args.Location, "Paris")

	gt.Equal(t, captured["model"], any(adapter.DefaultOpenAIChatModel))
	gt.Equal(t, captured["tool_choice"], any("auto"))
	tools, ok := captured["tools"].([]any)
	gt.True(t, ok)
	gt.A(t, tools).Length(1)
}

func TestOpenAIChatResponseSchema(t *testing.T) {
	var captured map[string]any
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"title\":\"x\"}"}}]}`)
	})

	resp, err := client.Chat(context.Background(), &model.ChatRequest{
		Messages: []*model.Message{model.NewUserMessage("doc")},
		ResponseSchema: &model.ResponseSchema{
			Name:   "readme",
			Schema: &jsonschema.Schema{Type: "object"},
		},
	})
	gt.NoError(t, err)
	gt.Equal(t, resp.Content, `{"title":"x"}`)

	format, ok := captured["response_format"].(map[string]any)
	gt.True(t, ok)
	gt.Equal(t, format["type"], any("json_schema"))
	_, hasTools := captured["tools"]
	gt.False(t, hasTools)
}

func TestOpenAIStream(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, s := range []string{"Hel", "lo", " world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", s)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var deltas []string
	err := client.Stream(context.Background(), &model.ChatRequest{
		Messages: []*model.Message{model.NewUserMessage("hi")},
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	gt.NoError(t, err)
	gt.Equal(t, strings.Join(deltas, ""), "Hello world")
	gt.A(t, deltas).Length(3)
}

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/v1/embeddings")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`)
	})

	vectors, err := client.Embed(context.Background(), []string{"a", "b"})
	gt.NoError(t, err)
	gt.A(t, vectors).Length(2)
	gt.Equal(t, vectors[0], []float32{1, 0})
	gt.Equal(t, vectors[1], []float32{0, 1})

	_, err = client.Embed(context.Background(), nil)
	gt.Error(t, err)
}

func TestOpenAIRetry(t *testing.T) {
	t.Run("server error is retried", func(t *testing.T) {
		var calls atomic.Int32
		client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
				return
			}
			fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
		})

		resp, err := client.Chat(context.Background(), &model.ChatRequest{
			Messages: []*model.Message{model.NewUserMessage("hi")},
		})
		gt.NoError(t, err)
		gt.Equal(t, resp.Content, "ok")
		gt.Equal(t, calls.Load(), int32(2))
	})

	t.Run("client error fails at once", func(t *testing.T) {
		var calls atomic.Int32
		client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
		})

		_, err := client.Chat(context.Background(), &model.ChatRequest{
			Messages: []*model.Message{model.NewUserMessage("hi")},
		})
		gt.Error(t, err)
		gt.Equal(t, calls.Load(), int32(1))
	})
}

func TestOpenAILive(t *testing.T) {
	apiKey := os.Getenv("TEST_OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_OPENAI_API_KEY is not set")
	}

	client := adapter.NewOpenAI(apiKey)
	resp, err := client.Chat(context.Background(), &model.ChatRequest{
		Messages: []*model.Message{model.NewUserMessage("What is the capital of France? Answer in one word.")},
	})
	gt.NoError(t, err)
	gt.S(t, strings.ToLower(resp.Content)).Contains("paris")

	vectors, err := client.Embed(context.Background(), []string{"hello"})
	gt.NoError(t, err)
	gt.A(t, vectors).Length(1)
}
