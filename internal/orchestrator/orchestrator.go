// Package orchestrator drives the bounded multi-round exchange between
// the model and the tool registry.
//
// Each query runs an explicit state machine: the orchestrator awaits a
// model response, executes any requested tool calls, feeds the results
// back, and repeats until the model answers in text or the round cap is
// reached. On the final round the tool declarations are withheld so the
// model must produce an answer, which guarantees termination even when
// it would otherwise keep calling tools.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/coursechat/coursechat/internal/session"
	"github.com/coursechat/coursechat/internal/tool"
)

// systemPrompt steers the model toward tool-grounded answers with
// bracketed citations matching the search tool's output format.
const systemPrompt = `You are an AI assistant for course materials. Answer questions about courses, lessons, and their content.

Guidelines:
- For questions about specific course content, use the search_course_content tool and ground your answer in its results.
- For general knowledge questions, answer directly without searching.
- Keep answers concise and factual. Do not mention the search process or the tools.
- If the search returns no relevant content, say so plainly.`

// DefaultMaxRounds caps tool-execution rounds per query.
const DefaultMaxRounds = 2

type state int

const (
	stateAwaitingModel state = iota
	stateExecutingTools
	stateDone
)

// Orchestrator coordinates model calls and tool execution for one
// configured model. Safe for concurrent use; per-query state lives on
// the stack.
type Orchestrator struct {
	model     ModelClient
	registry  *tool.Registry
	limiter   *rate.Limiter
	retry     RetryConfig
	maxRounds int
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxRounds sets the tool-round cap. Non-positive values keep the
// default.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithRetryConfig overrides the retry/backoff settings.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(o *Orchestrator) { o.retry = cfg }
}

// WithRateLimiter sets a proactive request rate limiter applied to
// every model call attempt.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// New creates an Orchestrator over a model client and tool registry.
func New(model ModelClient, registry *tool.Registry, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		model:     model,
		registry:  registry,
		retry:     DefaultRetryConfig(),
		maxRounds: DefaultMaxRounds,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer runs one query to completion and returns the model's answer
// plus the deduplicated sources behind it, in tool-call order. history
// is prior conversation in order; it is read, never modified. A
// terminal model failure returns an error and no partial answer.
func (o *Orchestrator) Answer(ctx context.Context, query string, history []session.Message) (string, []tool.Source, error) {
	contents := o.buildContents(query, history)

	toolDecls := o.registry.Declarations()
	var answer strings.Builder
	var sources tool.Sources
	var pendingCalls []genai.FunctionCall

	rounds := 0
	st := stateAwaitingModel

	for st != stateDone {
		switch st {
		case stateAwaitingModel:
			config := &genai.GenerateContentConfig{
				SystemInstruction: genai.NewContentFromText(systemPrompt, ""),
			}
			// Withholding tools on the last round forces a text answer.
			if rounds < o.maxRounds && len(toolDecls) > 0 {
				config.Tools = []*genai.Tool{{FunctionDeclarations: toolDecls}}
			}

			resp, err := o.generateWithRetry(ctx, contents, config)
			if err != nil {
				return "", nil, err
			}

			text, calls, content := splitResponse(resp)
			if content != nil {
				contents = append(contents, content)
			}
			if text != "" {
				answer.Reset()
				answer.WriteString(text)
			}

			if len(calls) > 0 && rounds < o.maxRounds {
				pendingCalls = calls
				st = stateExecutingTools
			} else {
				st = stateDone
			}

		case stateExecutingTools:
			responses := make([]*genai.Part, 0, len(pendingCalls))
			for _, call := range pendingCalls {
				funcResp, callSources := o.registry.Execute(ctx, call)
				sources.Add(callSources...)
				responses = append(responses, &genai.Part{FunctionResponse: funcResp})
			}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: responses,
			})

			rounds++
			pendingCalls = nil
			st = stateAwaitingModel
		}
	}

	o.logger.Debug("query answered",
		"rounds", rounds,
		"sources", len(sources.Items()),
		"answer_len", answer.Len())
	return answer.String(), sources.Items(), nil
}

// buildContents assembles prior history plus the current query into
// the model's content list.
func (o *Orchestrator) buildContents(query string, history []session.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		role := genai.Role(genai.RoleUser)
		if msg.Role == session.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return append(contents, genai.NewContentFromText(query, genai.RoleUser))
}

// splitResponse extracts the answer text and tool calls from the first
// candidate, returning its content for the conversation transcript.
func splitResponse(resp *genai.GenerateContentResponse) (string, []genai.FunctionCall, *genai.Content) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil, nil
	}
	content := resp.Candidates[0].Content

	var text strings.Builder
	var calls []genai.FunctionCall
	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			calls = append(calls, *part.FunctionCall)
		}
	}
	return text.String(), calls, content
}
