package tool

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// Registry maps declared function names to tools and dispatches model
// function calls. Safe for concurrent use once constructed.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates a registry over the given tools. Later tools
// shadow earlier ones with the same name.
func NewRegistry(logger *slog.Logger, tools ...Tool) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]Tool, len(tools)),
		logger: logger,
	}
	for _, t := range tools {
		if _, ok := r.tools[t.Name()]; !ok {
			r.order = append(r.order, t.Name())
		}
		r.tools[t.Name()] = t
	}
	return r
}

// Declarations returns the function schemas in registration order,
// for inclusion in a genai.Tool.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.tools[name].Declaration())
	}
	return decls
}

// Execute dispatches a model function call. Failures — unknown tool
// name, tool errors — come back as text in the response so the model
// can react; Execute itself never fails.
func (r *Registry) Execute(ctx context.Context, call genai.FunctionCall) (*genai.FunctionResponse, []Source) {
	t, ok := r.tools[call.Name]
	if !ok {
		r.logger.Warn("model called unknown tool", "name", call.Name)
		return functionResponse(call.Name, fmt.Sprintf("Tool %q is not available.", call.Name)), nil
	}

	result, sources, err := t.Execute(ctx, call.Args)
	if err != nil {
		r.logger.Warn("tool execution failed", "name", call.Name, "error", err)
		return functionResponse(call.Name, fmt.Sprintf("Tool execution failed: %v", err)), nil
	}

	r.logger.Debug("tool executed", "name", call.Name, "sources", len(sources))
	return functionResponse(call.Name, result), sources
}

func functionResponse(name, text string) *genai.FunctionResponse {
	return &genai.FunctionResponse{
		Name:     name,
		Response: map[string]any{"result": text},
	}
}
