package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"google.golang.org/genai"

	"github.com/coursechat/coursechat/internal/session"
	"github.com/coursechat/coursechat/internal/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeModel returns scripted responses (or errors) in order and
// records what it was called with.
type fakeModel struct {
	responses []*genai.GenerateContentResponse
	errs      []error
	call      int

	contents [][]*genai.Content
	configs  []*genai.GenerateContentConfig
}

func (f *fakeModel) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	i := f.call
	f.call++
	f.contents = append(f.contents, contents)
	f.configs = append(f.configs, config)

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return textResponse("fallback answer"), nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: text}},
			},
		}},
	}
}

func toolCallResponse(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: name, Args: args}}},
			},
		}},
	}
}

// stubTool implements tool.Tool with a canned result.
type stubTool struct {
	calls   int
	lastArg map[string]any
}

func (s *stubTool) Name() string { return "search_course_content" }

func (s *stubTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name: s.Name(),
		Parameters: &genai.Schema{
			Type:     genai.TypeObject,
			Required: []string{"query"},
		},
	}
}

func (s *stubTool) Execute(ctx context.Context, args map[string]any) (string, []tool.Source, error) {
	s.calls++
	s.lastArg = args
	return "[Course X - Lesson 1]\nsome content", []tool.Source{
		{CourseTitle: "Course X", LessonNumber: 1, Link: "https://example.com/l1"},
	}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func newTestOrchestrator(model ModelClient, st *stubTool, opts ...Option) *Orchestrator {
	registry := tool.NewRegistry(nil, st)
	opts = append([]Option{WithRetryConfig(fastRetry())}, opts...)
	return New(model, registry, nil, opts...)
}

func TestAnswerDirectText(t *testing.T) {
	model := &fakeModel{responses: []*genai.GenerateContentResponse{
		textResponse("Go is a programming language."),
	}}
	st := &stubTool{}
	o := newTestOrchestrator(model, st)

	answer, sources, err := o.Answer(context.Background(), "what is Go?", nil)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer != "Go is a programming language." {
		t.Errorf("answer = %q", answer)
	}
	if len(sources) != 0 {
		t.Errorf("direct answer must have no sources, got %d", len(sources))
	}
	if st.calls != 0 {
		t.Error("tool must not run for a direct answer")
	}
	if model.call != 1 {
		t.Errorf("model calls = %d, want 1", model.call)
	}
}

func TestAnswerSingleToolRound(t *testing.T) {
	model := &fakeModel{responses: []*genai.GenerateContentResponse{
		toolCallResponse("search_course_content", map[string]any{"query": "indexing"}),
		textResponse("Indexing builds the search structures."),
	}}
	st := &stubTool{}
	o := newTestOrchestrator(model, st)

	answer, sources, err := o.Answer(context.Background(), "explain indexing", nil)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if answer != "Indexing builds the search structures." {
		t.Errorf("answer = %q", answer)
	}
	if st.calls != 1 {
		t.Errorf("tool calls = %d, want 1", st.calls)
	}
	if len(sources) != 1 || sources[0].CourseTitle != "Course X" {
		t.Errorf("unexpected sources: %+v", sources)
	}

	// The second model call must carry the tool result back.
	second := model.contents[1]
	var sawFunctionResponse bool
	for _, content := range second {
		for _, part := range content.Parts {
			if part.FunctionResponse != nil {
				sawFunctionResponse = true
			}
		}
	}
	if !sawFunctionResponse {
		t.Error("tool result was not fed back to the model")
	}
}

func TestAnswerRoundCapTerminates(t *testing.T) {
	// The model asks for a tool on every turn. With a cap of 2 rounds
	// the third call gets no tool declarations and the loop ends.
	model := &fakeModel{responses: []*genai.GenerateContentResponse{
		toolCallResponse("search_course_content", map[string]any{"query": "a"}),
		toolCallResponse("search_course_content", map[string]any{"query": "b"}),
		textResponse("final answer"),
	}}
	st := &stubTool{}
	o := newTestOrchestrator(model, st, WithMaxRounds(2))

	answer, _, err := o.Answer(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer != "final answer" {
		t.Errorf("answer = %q", answer)
	}
	if st.calls != 2 {
		t.Errorf("tool calls = %d, want 2", st.calls)
	}
	if model.call != 3 {
		t.Fatalf("model calls = %d, want 3", model.call)
	}

	if model.configs[0].Tools == nil || model.configs[1].Tools == nil {
		t.Error("tool declarations missing while rounds remain")
	}
	if model.configs[2].Tools != nil {
		t.Error("final round must withhold tool declarations")
	}
}

func TestAnswerStopsWhenCapReachedWithToolCall(t *testing.T) {
	// Even if the final, tool-less call still yields a function call,
	// the loop must terminate rather than execute it.
	model := &fakeModel{responses: []*genai.GenerateContentResponse{
		toolCallResponse("search_course_content", map[string]any{"query": "a"}),
		toolCallResponse("search_course_content", map[string]any{"query": "b"}),
	}}
	st := &stubTool{}
	o := newTestOrchestrator(model, st, WithMaxRounds(1))

	_, _, err := o.Answer(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if st.calls != 1 {
		t.Errorf("tool calls = %d, want 1", st.calls)
	}
	if model.call != 2 {
		t.Errorf("model calls = %d, want 2", model.call)
	}
}

func TestAnswerHistoryIncluded(t *testing.T) {
	model := &fakeModel{responses: []*genai.GenerateContentResponse{
		textResponse("answer"),
	}}
	o := newTestOrchestrator(model, &stubTool{})

	history := []session.Message{
		{Role: session.RoleUser, Content: "first question"},
		{Role: session.RoleAssistant, Content: "first answer"},
	}
	if _, _, err := o.Answer(context.Background(), "follow-up", history); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	contents := model.contents[0]
	if len(contents) != 3 {
		t.Fatalf("got %d contents, want history + query = 3", len(contents))
	}
	if contents[0].Role != genai.RoleUser || contents[1].Role != genai.RoleModel {
		t.Errorf("history roles mapped wrong: %s, %s", contents[0].Role, contents[1].Role)
	}
	if contents[2].Parts[0].Text != "follow-up" {
		t.Errorf("query not last: %q", contents[2].Parts[0].Text)
	}
}

func TestAnswerRetriesTransientError(t *testing.T) {
	model := &fakeModel{
		errs: []error{errors.New("503 service unavailable")},
		responses: []*genai.GenerateContentResponse{
			nil, // consumed by the error slot
			textResponse("recovered"),
		},
	}
	o := newTestOrchestrator(model, &stubTool{})

	answer, _, err := o.Answer(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer != "recovered" {
		t.Errorf("answer = %q", answer)
	}
	if model.call != 2 {
		t.Errorf("model calls = %d, want 2", model.call)
	}
}

func TestAnswerTerminalErrorFailsFast(t *testing.T) {
	model := &fakeModel{errs: []error{errors.New("invalid api key")}}
	o := newTestOrchestrator(model, &stubTool{})

	_, _, err := o.Answer(context.Background(), "query", nil)
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if model.call != 1 {
		t.Errorf("terminal errors must not retry, got %d calls", model.call)
	}
}

func TestAnswerRetriesExhausted(t *testing.T) {
	transient := errors.New("rate limit exceeded")
	model := &fakeModel{errs: []error{transient, transient, transient}}
	o := newTestOrchestrator(model, &stubTool{})

	_, _, err := o.Answer(context.Background(), "query", nil)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if model.call != 3 {
		t.Errorf("model calls = %d, want MaxRetries+1 = 3", model.call)
	}
	if !strings.Contains(err.Error(), "rate limit") {
		t.Errorf("last error not preserved: %v", err)
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"server error", errors.New("got 503: service UNAVAILABLE"), true},
		{"network", errors.New("read tcp: connection reset by peer"), true},
		{"auth", errors.New("invalid api key"), false},
		{"bad request", errors.New("400 bad request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSplitResponseEmpty(t *testing.T) {
	text, calls, content := splitResponse(nil)
	if text != "" || calls != nil || content != nil {
		t.Error("nil response must split to zero values")
	}
	text, calls, content = splitResponse(&genai.GenerateContentResponse{})
	if text != "" || calls != nil || content != nil {
		t.Error("candidate-less response must split to zero values")
	}
}
