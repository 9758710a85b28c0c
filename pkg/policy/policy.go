package policy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const query = "data.tool"

// Decision is the result of evaluating a tool call
type Decision struct {
	Allow  bool
	Reason string
}

var allowAll = &Decision{Allow: true}

// Engine evaluates tool calls against Rego policies in package "tool".
// A nil Engine allows everything.
type Engine struct {
	query *rego.PreparedEvalQuery
}

// regoPrintHook forwards Rego print() statements to the logger
type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(pctx print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message, "location", pctx.Location)
	return nil
}

// New loads all Rego files in policyDir. An empty policyDir or a directory
// without .rego files yields an Engine that allows every call.
func New(ctx context.Context, policyDir string) (*Engine, error) {
	if policyDir == "" {
		return &Engine{}, nil
	}

	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", policyDir))
	}
	if len(files) == 0 {
		return &Engine{}, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+2)
	options = append(options, rego.Query(query), rego.EnablePrintStatements(true))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy query", goerr.V("dir", policyDir))
	}

	logging.From(ctx).Debug("tool policy loaded", "files", files)
	return &Engine{query: &prepared}, nil
}

// Evaluate decides whether call may run. When package "tool" is defined but
// "allow" is not true, the call is denied.
func (e *Engine) Evaluate(ctx context.Context, call *model.ToolCall) (*Decision, error) {
	if e == nil || e.query == nil {
		return allowAll, nil
	}

	args, err := call.ArgumentMap()
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"name":      call.Name,
		"arguments": args,
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate tool policy", goerr.V("tool", call.Name))
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return allowAll, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("tool policy result is not an object",
			goerr.V("tool", call.Name),
			goerr.V("result", rs[0].Expressions[0].Value))
	}

	decision := &Decision{}
	decision.Allow, _ = data["allow"].(bool)
	decision.Reason, _ = data["reason"].(string)
	return decision, nil
}
