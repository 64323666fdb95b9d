package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openshift/sippy-chat/internal/correlate"
	"github.com/openshift/sippy-chat/internal/llm"
	"github.com/openshift/sippy-chat/internal/testutil"
)

type stepRecorder struct {
	mu    sync.Mutex
	steps []correlate.Step
}

func (r *stepRecorder) record(s correlate.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

func (r *stepRecorder) all() []correlate.Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]correlate.Step(nil), r.steps...)
}

func newDriver(p llm.Provider, opts Options, tools ...llm.Tool) *Driver {
	reg := llm.NewToolRegistry()
	for _, t := range tools {
		reg.Register(t)
	}
	return NewDriver(llm.NewEngine(p, reg), opts)
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestHandle_ParallelToolsAndAnswer(t *testing.T) {
	bDone := make(chan struct{})
	summary := testutil.NewMockToolFunc("get_prow_job_summary", func(ctx context.Context, args json.RawMessage) (string, error) {
		<-bDone
		time.Sleep(20 * time.Millisecond)
		return `{"name":"periodic-ci-e2e"}`, nil
	})
	incidents := testutil.NewMockToolFunc("check_known_incidents", func(ctx context.Context, args json.RawMessage) (string, error) {
		defer close(bDone)
		return `{"incidents":[]}`, nil
	})

	answer := "The job failed in install.\nVISUALIZATION_START\n{\"data\":[{\"type\":\"bar\"}],\"layout\":{\"title\":\"x\"}}\nVISUALIZATION_END"
	p := llm.NewMockProvider("mock").
		WithCapabilities(llm.Capabilities{ToolCalls: true, ReasoningMode: llm.ReasoningTokenStream}).
		AddTurn(llm.MockTurn{
			Reasoning: []string{"Summary and", " incidents are independent."},
			ToolCalls: []llm.ToolCall{
				toolCall("a", "get_prow_job_summary", `{"prow_job_run_id":"1934795512955801600"}`),
				toolCall("b", "check_known_incidents", `{}`),
			},
		}).
		AddTextResponse(answer)

	d := newDriver(p, Options{MaxIterations: 5}, summary, incidents)
	var rec stepRecorder
	res, err := d.Handle(context.Background(), TurnInput{Message: "why did it fail?", ShowThinking: true}, rec.record)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Status != StatusAnswered {
		t.Fatalf("status = %s", res.Status)
	}
	if res.TurnID == "" {
		t.Fatal("missing turn id")
	}

	updates := rec.all()
	type want struct {
		number   int
		action   string
		complete bool
	}
	wantUpdates := []want{
		{1, correlate.ActionThinking, true},
		{2, "get_prow_job_summary", false},
		{3, "check_known_incidents", false},
		{3, "check_known_incidents", true},
		{2, "get_prow_job_summary", true},
	}
	if len(updates) != len(wantUpdates) {
		t.Fatalf("updates = %+v", updates)
	}
	for i, w := range wantUpdates {
		u := updates[i]
		if u.Number != w.number || u.Action != w.action || u.Complete != w.complete {
			t.Fatalf("update %d = %+v, want %+v", i, u, w)
		}
	}
	if updates[0].Thought != "Summary and incidents are independent." {
		t.Fatalf("thinking step = %q", updates[0].Thought)
	}

	if len(res.Steps) != 3 || res.Steps[1].Number != 3 || res.Steps[2].Number != 2 {
		t.Fatalf("final steps = %+v", res.Steps)
	}
	if res.Steps[2].Observation != `{"name":"periodic-ci-e2e"}` {
		t.Fatalf("observation = %q", res.Steps[2].Observation)
	}
	if strings.Join(res.ToolsUsed, ",") != "get_prow_job_summary,check_known_incidents" {
		t.Fatalf("tools used = %v", res.ToolsUsed)
	}
	if res.FinalText != "The job failed in install." {
		t.Fatalf("final text = %q", res.FinalText)
	}
	if len(res.Visualizations) != 1 {
		t.Fatalf("visualizations = %+v", res.Visualizations)
	}
}

func TestHandle_TruncatedAtCeiling(t *testing.T) {
	tool := testutil.NewMockTool("analyze_job_logs", "{}")
	p := llm.NewMockProvider("mock").
		AddTurn(llm.MockTurn{Text: "Looking at logs.", ToolCalls: []llm.ToolCall{toolCall("a", "analyze_job_logs", `{}`)}})

	d := newDriver(p, Options{MaxIterations: 1}, tool)
	res, err := d.Handle(context.Background(), TurnInput{Message: "logs?"}, nil)
	if err != nil {
		t.Fatalf("truncation must not be an error: %v", err)
	}
	if res.Status != StatusTruncated {
		t.Fatalf("status = %s", res.Status)
	}
	if tool.InvocationCount() != 0 {
		t.Fatalf("tool ran %d times past the ceiling", tool.InvocationCount())
	}
	if res.FinalText != "Looking at logs." || len(res.Steps) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestHandle_CancelDuringTools(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	slow := testutil.NewMockToolFunc("parse_junit_xml", func(ctx context.Context, args json.RawMessage) (string, error) {
		close(started)
		<-release
		return "late", nil
	})
	p := llm.NewMockProvider("mock").
		AddToolCall("a", "parse_junit_xml", map[string]string{"junit_xml_url": "https://example.com/junit.xml"}).
		AddTextResponse("fresh answer")

	d := newDriver(p, Options{}, slow)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	var rec stepRecorder
	res, err := d.Handle(ctx, TurnInput{Message: "parse it"}, rec.record)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("status = %s", res.Status)
	}
	for _, s := range rec.all() {
		if s.Complete {
			t.Fatalf("completed step delivered after cancellation: %+v", s)
		}
	}

	// A new turn starts from a clean correlation state.
	res, err = d.Handle(context.Background(), TurnInput{Message: "again"}, nil)
	if err != nil || res.Status != StatusAnswered || res.FinalText != "fresh answer" || len(res.Steps) != 0 {
		t.Fatalf("follow-up turn = %+v, %v", res, err)
	}
}

func TestHandle_Timeout(t *testing.T) {
	p := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{Text: "slow", Delay: time.Second})
	d := newDriver(p, Options{MaxExecutionTime: 20 * time.Millisecond})

	res, err := d.Handle(context.Background(), TurnInput{Message: "hi"}, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if res.Status != StatusError {
		t.Fatalf("status = %s, want error", res.Status)
	}
}

func TestHandle_CallerDeadlineIsTimeout(t *testing.T) {
	p := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{Text: "slow", Delay: time.Second})
	d := newDriver(p, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := d.Handle(ctx, TurnInput{Message: "hi"}, nil)
	if !errors.Is(err, ErrTimeout) || errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if res.Status != StatusError {
		t.Fatalf("status = %s, want error", res.Status)
	}
}

func TestHandle_DeadlineAfterDoneStillAnswers(t *testing.T) {
	p := llm.NewMockProvider("mock").
		WithCapabilities(llm.Capabilities{ToolCalls: true, ReasoningMode: llm.ReasoningWholeBlock}).
		AddTurn(llm.MockTurn{Reasoning: []string{"quick look"}, Text: "all green"})
	d := newDriver(p, Options{MaxExecutionTime: 30 * time.Millisecond})

	// The slow consumer lets the deadline pass while the finished feed is
	// still buffered.
	res, err := d.Handle(context.Background(), TurnInput{Message: "status?", ShowThinking: true}, func(correlate.Step) {
		time.Sleep(100 * time.Millisecond)
	})
	if err != nil {
		t.Fatalf("completed turn reported as failure: %v", err)
	}
	if res.Status != StatusAnswered || res.FinalText != "all green" {
		t.Fatalf("result = %+v", res)
	}
}

func TestHandle_ProviderError(t *testing.T) {
	p := llm.NewMockProvider("mock").AddError(errors.New("401 invalid api key"))
	d := newDriver(p, Options{})

	res, err := d.Handle(context.Background(), TurnInput{Message: "hi"}, nil)
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("err = %v", err)
	}
	if res.Status != StatusError {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestHandle_RequestShape(t *testing.T) {
	p := llm.NewMockProvider("mock").
		WithCapabilities(llm.Capabilities{ToolCalls: true, ReasoningMode: llm.ReasoningWholeBlock}).
		AddTurn(llm.MockTurn{Reasoning: []string{"hidden"}, Text: "ok"})
	d := newDriver(p, Options{Model: "gemini-2.5-pro"})

	in := TurnInput{
		Message: "what is failing?",
		History: []ChatMessage{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
			{Role: "system", Content: "ignored"},
		},
		Persona:     "zorp",
		PageContext: map[string]any{"page": "jobs", "instructions": "Focus on pass rates."},
	}
	var rec stepRecorder
	res, err := d.Handle(context.Background(), in, rec.record)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.all()) != 0 || len(res.Steps) != 0 {
		t.Fatalf("reasoning must be hidden when ShowThinking is off: %+v", res.Steps)
	}

	req := p.Requests[0]
	if req.Model != "gemini-2.5-pro" || req.IncludeReasoning {
		t.Fatalf("request = %+v", req)
	}
	if len(req.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(req.Messages))
	}
	system := req.Messages[0].Parts[0].Text
	if !strings.HasPrefix(system, "PERSONA OVERRIDE: ZORP") || !strings.Contains(system, "You are Sippy") {
		t.Fatalf("system prompt = %.80q", system)
	}
	user := req.Messages[3].Parts[0].Text
	if !strings.HasPrefix(user, "[Current Page Context]") || !strings.HasSuffix(user, "User question: what is failing?") {
		t.Fatalf("user message = %q", user)
	}
	if !strings.Contains(user, "[Page-Specific Instructions]\nFocus on pass rates.") {
		t.Fatalf("instructions missing: %q", user)
	}
}

func TestHandle_DebugLog(t *testing.T) {
	dir := t.TempDir()
	p := llm.NewMockProvider("mock").AddToolCall("a", "check_known_incidents", map[string]any{}).AddTextResponse("done")
	d := newDriver(p, Options{DebugLogDir: dir}, testutil.NewMockTool("check_known_incidents", "{}"))

	res, err := d.Handle(context.Background(), TurnInput{Message: "incidents?"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAnswered || len(res.Steps) != 1 {
		t.Fatalf("result = %+v", res)
	}
}
