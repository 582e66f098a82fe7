package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/config"
)

// fakeExecutor scripts the three stages without touching an LLM or the
// network.
type fakeExecutor struct {
	mu sync.Mutex

	buckets     URLBuckets
	discoverErr error

	specialistErr map[Platform]error
	synthesisErr  error

	synthesisGoal string
}

func (f *fakeExecutor) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	switch req.Schema {
	case SchemaURLBuckets:
		if f.discoverErr != nil {
			return ExecResult{}, f.discoverErr
		}
		raw, _ := json.Marshal(f.buckets)
		return StructuredResult(raw), nil
	case SchemaSpecialistOutput:
		if err := f.specialistErr[req.Platform]; err != nil {
			return ExecResult{}, err
		}
		out := SpecialistOutput{
			Platform: req.Platform,
			URL:      req.URLs[0],
			Summary:  fmt.Sprintf("findings from %s", req.Platform),
			Metadata: map[string]interface{}{},
		}
		raw, _ := json.Marshal(out)
		return StructuredResult(raw), nil
	case SchemaMarkdown:
		f.mu.Lock()
		f.synthesisGoal = req.Goal
		f.mu.Unlock()
		if f.synthesisErr != nil {
			return ExecResult{}, f.synthesisErr
		}
		return RawTextResult("# Research Report"), nil
	}
	return ExecResult{}, fmt.Errorf("unexpected schema %q", req.Schema)
}

func (f *fakeExecutor) capturedSynthesisGoal() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.synthesisGoal
}

func testConfig() *config.Config {
	return &config.Config{
		Research: config.ResearchConfig{
			MaxURLsPerPlatform:       2,
			MaxConcurrentSpecialists: 3,
		},
	}
}

func runPipeline(t *testing.T, exec *fakeExecutor, query string) (*Registry, string, *recorderChannel) {
	t.Helper()
	reg := newTestRegistry()
	id := reg.Create(query)
	ch := &recorderChannel{}
	if _, ok := reg.AttachChannel(id, ch); !ok {
		t.Fatalf("attach failed")
	}

	p := NewPipeline(testConfig(), nil, reg, exec, nil)
	p.Run(context.Background(), id)
	return reg, id, ch
}

func TestRunHappyPath(t *testing.T) {
	exec := &fakeExecutor{
		buckets: URLBuckets{
			Instagram: []string{"https://instagram.com/p/1"},
			YouTube:   []string{"https://youtube.com/watch?v=1"},
			Web:       []string{"https://example.com/article"},
		},
	}
	reg, id, ch := runPipeline(t, exec, "ai adoption in healthcare")

	sess, _ := reg.Get(id)
	if sess.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", sess.Status)
	}
	if sess.Result != "# Research Report" {
		t.Fatalf("unexpected result %q", sess.Result)
	}
	for slot, st := range sess.Agents {
		if st.Status != AgentDone {
			t.Fatalf("slot %s should be done, got %s", slot, st.Status)
		}
	}

	events := ch.recorded()
	if len(events) == 0 {
		t.Fatalf("expected events on the live channel")
	}
	if events[0].Type != EventAgentUpdate || events[0].AgentID != SlotSearch {
		t.Fatalf("first event should be the search slot update, got %+v", events[0])
	}
	var sawFlowStarted, sawComplete bool
	for _, evt := range events {
		switch evt.Type {
		case EventFlowStarted:
			sawFlowStarted = true
			if evt.Query != "ai adoption in healthcare" {
				t.Fatalf("flow_started should carry the query, got %q", evt.Query)
			}
		case EventResearchComplete:
			sawComplete = true
			if evt.Result != "# Research Report" {
				t.Fatalf("research_complete should carry the result")
			}
		case EventError:
			t.Fatalf("happy path must not emit an error event")
		}
	}
	if !sawFlowStarted || !sawComplete {
		t.Fatalf("expected flow_started and research_complete, got %+v", events)
	}
}

func TestRunSpecialistFailureYieldsSentinel(t *testing.T) {
	exec := &fakeExecutor{
		buckets: URLBuckets{
			X:   []string{"https://x.com/status/1"},
			Web: []string{"https://example.com/article"},
		},
		specialistErr: map[Platform]error{PlatformX: fmt.Errorf("scrape blocked")},
	}
	reg, id, _ := runPipeline(t, exec, "q")

	sess, _ := reg.Get(id)
	if sess.Status != StatusCompleted {
		t.Fatalf("one failed branch must not fail the run, got %s", sess.Status)
	}
	if got := sess.Agents[string(PlatformX)]; got.Status != AgentError || got.Message != "scrape blocked" {
		t.Fatalf("x slot should hold the error, got %+v", got)
	}
	if sess.Agents[string(PlatformWeb)].Status != AgentDone {
		t.Fatalf("sibling branch must complete")
	}

	goal := exec.capturedSynthesisGoal()
	if !strings.Contains(goal, SentinelURL) {
		t.Fatalf("synthesis must receive the sentinel record, goal: %s", goal)
	}
	if !strings.Contains(goal, "findings from web") {
		t.Fatalf("synthesis must receive the surviving branch output")
	}
}

func TestRunDiscoveryFailureDegradesToNoSources(t *testing.T) {
	exec := &fakeExecutor{discoverErr: fmt.Errorf("search backend down")}
	reg, id, _ := runPipeline(t, exec, "q")

	sess, _ := reg.Get(id)
	if sess.Status != StatusCompleted {
		t.Fatalf("discovery failure must degrade, not abort, got %s", sess.Status)
	}
	if sess.Agents[SlotSearch].Status != AgentDone {
		t.Fatalf("search slot must still finish, got %s", sess.Agents[SlotSearch].Status)
	}
	for _, p := range Platforms() {
		if sess.Agents[string(p)].Status != AgentDone {
			t.Fatalf("undispatched platform %s should be swept to done", p)
		}
	}
	goal := exec.capturedSynthesisGoal()
	if !strings.Contains(goal, "Do not include a sources section") {
		t.Fatalf("zero-source synthesis must suppress the sources section")
	}
}

func TestRunSynthesisFailureMarksSessionError(t *testing.T) {
	exec := &fakeExecutor{
		buckets:      URLBuckets{Web: []string{"https://example.com/a"}},
		synthesisErr: fmt.Errorf("model unavailable"),
	}
	reg, id, ch := runPipeline(t, exec, "q")

	sess, _ := reg.Get(id)
	if sess.Status != StatusError {
		t.Fatalf("expected error status, got %s", sess.Status)
	}
	if sess.Result != "" {
		t.Fatalf("failed run must not publish a result")
	}

	var sawError bool
	for _, evt := range ch.recorded() {
		if evt.Type == EventResearchComplete {
			t.Fatalf("failed run must not emit research_complete")
		}
		if evt.Type == EventError {
			sawError = true
			if !strings.Contains(evt.Message, "model unavailable") {
				t.Fatalf("error event should carry the cause, got %q", evt.Message)
			}
		}
	}
	if !sawError {
		t.Fatalf("expected an error event")
	}
}

func TestRunUnknownSessionIsDropped(t *testing.T) {
	exec := &fakeExecutor{}
	reg := newTestRegistry()
	p := NewPipeline(testConfig(), nil, reg, exec, nil)
	// Must return without panicking or creating state.
	p.Run(context.Background(), "ghost")
	if _, ok := reg.Get("ghost"); ok {
		t.Fatalf("run on unknown id must not create a session")
	}
}

func TestFanInPreservesPlatformOrder(t *testing.T) {
	exec := &fakeExecutor{
		buckets: URLBuckets{
			Instagram: []string{"https://instagram.com/p/1"},
			LinkedIn:  []string{"https://linkedin.com/posts/1"},
			YouTube:   []string{"https://youtube.com/watch?v=1"},
			X:         []string{"https://x.com/status/1"},
			Web:       []string{"https://example.com/a"},
		},
	}
	_, _, _ = runPipeline(t, exec, "q")

	goal := exec.capturedSynthesisGoal()
	last := -1
	for _, p := range Platforms() {
		idx := strings.Index(goal, fmt.Sprintf("[%s]", p))
		if idx < 0 {
			t.Fatalf("synthesis goal missing platform %s", p)
		}
		if idx < last {
			t.Fatalf("platform %s out of order in synthesis input", p)
		}
		last = idx
	}
}

func TestRunWorksWithZeroObservers(t *testing.T) {
	exec := &fakeExecutor{buckets: URLBuckets{Web: []string{"https://example.com/a"}}}
	reg := newTestRegistry()
	id := reg.Create("q")

	p := NewPipeline(testConfig(), nil, reg, exec, nil)
	p.Run(context.Background(), id)

	sess, _ := reg.Get(id)
	if sess.Status != StatusCompleted || sess.Result == "" {
		t.Fatalf("run must complete without any channel attached")
	}
}

func TestLateAttachSeesCurrentSnapshot(t *testing.T) {
	reg := newTestRegistry()
	id := reg.Create("q")
	reg.UpdateAgentStatus(id, SlotSearch, AgentDone, "URL discovery complete")
	reg.UpdateAgentStatus(id, string(PlatformWeb), AgentRunning, "Analyzing 1 web link(s)...")

	snapshot, ok := reg.AttachChannel(id, &recorderChannel{})
	if !ok {
		t.Fatalf("attach failed")
	}
	if snapshot.Agents[SlotSearch].Status != AgentDone {
		t.Fatalf("snapshot must reflect completed search slot")
	}
	if snapshot.Agents[string(PlatformWeb)].Status != AgentRunning {
		t.Fatalf("snapshot must reflect in-flight platform slot")
	}
	if snapshot.Agents[SlotSynthesis].Status != AgentWaiting {
		t.Fatalf("snapshot must keep untouched slots waiting")
	}
}
