package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/policy"
	"github.com/m-mizutani/gt"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "tool.rego"), []byte(body), 0644))
	return dir
}

func TestNoPolicyAllows(t *testing.T) {
	ctx := context.Background()

	for _, dir := range []string{"", t.TempDir()} {
		engine, err := policy.New(ctx, dir)
		gt.NoError(t, err)

		d, err := engine.Evaluate(ctx, &model.ToolCall{Name: "anything"})
		gt.NoError(t, err)
		gt.True(t, d.Allow)
	}

	var nilEngine *policy.Engine
	d, err := nilEngine.Evaluate(ctx, &model.ToolCall{Name: "anything"})
	gt.NoError(t, err)
	gt.True(t, d.Allow)
}

func TestPolicyDecision(t *testing.T) {
	ctx := context.Background()
	dir := writePolicy(t, `package tool

default allow := false

allow if input.name != "search_internet"

allow if {
	input.name == "search_internet"
	not contains(lower(input.arguments.query), "password")
}

reason := "searching for credentials is not allowed" if not allow
`)

	engine, err := policy.New(ctx, dir)
	gt.NoError(t, err)

	t.Run("other tools are allowed", func(t *testing.T) {
		d, err := engine.Evaluate(ctx, &model.ToolCall{Name: "get_weather", Arguments: `{"location":"Paris"}`})
		gt.NoError(t, err)
		gt.True(t, d.Allow)
		gt.Equal(t, d.Reason, "")
	})

	t.Run("harmless search is allowed", func(t *testing.T) {
		d, err := engine.Evaluate(ctx, &model.ToolCall{Name: "search_internet", Arguments: `{"query":"golang"}`})
		gt.NoError(t, err)
		gt.True(t, d.Allow)
	})

	t.Run("denied with reason", func(t *testing.T) {
		d, err := engine.Evaluate(ctx, &model.ToolCall{Name: "search_internet", Arguments: `{"query":"admin PASSWORD leak"}`})
		gt.NoError(t, err)
		gt.False(t, d.Allow)
		gt.Equal(t, d.Reason, "searching for credentials is not allowed")
	})
}

func TestPolicyOtherPackageAllows(t *testing.T) {
	ctx := context.Background()
	dir := writePolicy(t, `package other

x := 1
`)
	engine, err := policy.New(ctx, dir)
	gt.NoError(t, err)

	d, err := engine.Evaluate(ctx, &model.ToolCall{Name: "get_weather"})
	gt.NoError(t, err)
	gt.True(t, d.Allow)
}

func TestPolicyInvalidRego(t *testing.T) {
	dir := writePolicy(t, `package tool

allow if {
`)
	_, err := policy.New(context.Background(), dir)
	gt.Error(t, err)
}
