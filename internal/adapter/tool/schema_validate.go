package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"autopilot/internal/domain"
)

// validated checks call arguments against the tool's parameter schema. A
// rejected call never reaches the tool; the model gets a tool_logic result
// naming the violation so it can correct its arguments.
type validated struct {
	domain.Tool
	schema *jsonschema.Schema
}

// Validated wraps t with argument validation. Tools without a parameter
// schema are returned unchanged.
func Validated(t domain.Tool) (domain.Tool, error) {
	params := bytes.TrimSpace(t.Schema().Parameters)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		return t, nil
	}
	schema, err := jsonschema.NewCompiler().Compile(params)
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile parameter schema: %w", t.Name(), err)
	}
	return &validated{Tool: t, schema: schema}, nil
}

func (v *validated) Execute(ctx context.Context, tc domain.ToolContext, params json.RawMessage) (*domain.ToolResult, error) {
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage(`{}`)
	}
	var args any
	if err := json.Unmarshal(params, &args); err != nil {
		return rejected("arguments are not valid JSON: %v", err), nil
	}
	if res := v.schema.Validate(args); !res.IsValid() {
		return rejected("schema validation failed for %s: %s", v.Name(), res.Error()), nil
	}
	return v.Tool.Execute(ctx, tc, params)
}

func rejected(format string, args ...any) *domain.ToolResult {
	return &domain.ToolResult{IsError: true, Kind: domain.KindToolLogic, Content: fmt.Sprintf(format, args...)}
}
