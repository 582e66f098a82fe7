package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
)

// Agent roles per stage.
const (
	RoleSearch    = "Multiplatform Web Discovery Specialist"
	RoleSynthesis = "Deep Research Synthesis Specialist"
)

// Tool names handed to the executor per stage.
const (
	ToolSearchEngine = "search_engine"
	ToolWebScrape    = "web_scrape"
)

// Pipeline drives one research run through the Discover, Extract and
// Synthesize stages, pushing every state transition through the
// session registry. The pipeline never mutates a Session directly.
type Pipeline struct {
	cfg       *config.Config
	logger    *log.Logger
	registry  *Registry
	executor  AgentExecutor
	telemetry *telemetry.Telemetry

	// Caps concurrent specialist branches across all runs.
	semaphore chan struct{}
}

// NewPipeline creates a pipeline bound to a registry and an executor.
func NewPipeline(cfg *config.Config, logger *log.Logger, registry *Registry, executor AgentExecutor, tele *telemetry.Telemetry) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	maxSpecialists := cfg.Research.MaxConcurrentSpecialists
	if maxSpecialists <= 0 {
		maxSpecialists = 5
	}
	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		executor:  executor,
		telemetry: tele,
		semaphore: make(chan struct{}, maxSpecialists),
	}
}

// Start launches a run asynchronously against an existing session id.
func (p *Pipeline) Start(sessionID string) {
	go p.Run(context.Background(), sessionID)
}

// Run executes the full pipeline for a session. The session must have
// been created beforehand; unknown ids are logged and dropped. The run
// works correctly with zero observers attached for its entire
// lifetime.
func (p *Pipeline) Run(ctx context.Context, sessionID string) {
	sess, ok := p.registry.Get(sessionID)
	if !ok {
		p.logger.Printf("session %s not found, dropping run", sessionID)
		return
	}
	started := time.Now()
	p.telemetry.RecordRunStarted()

	if p.cfg.Research.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Research.RunTimeout)
		defer cancel()
	}

	p.logger.Printf("starting research for session %s", sessionID)
	p.registry.SetStatus(sessionID, StatusRunning)
	p.registry.UpdateAgentStatus(sessionID, SlotSearch, AgentRunning, "Searching for relevant URLs...")
	p.registry.Broadcast(sessionID, FlowStartedEvent(sess.Query))

	buckets := p.discover(ctx, sessionID, sess.Query)
	outputs := p.extract(ctx, sessionID, buckets)
	result, err := p.synthesize(ctx, sessionID, sess.Query, outputs)
	if err != nil {
		p.logger.Printf("synthesis failed for session %s: %v", sessionID, err)
		p.registry.SetStatus(sessionID, StatusError)
		p.registry.Broadcast(sessionID, ErrorEvent(err.Error()))
		p.telemetry.RecordRunFailed(time.Since(started))
		return
	}

	// Closing invariant: every slot not already terminal ends done,
	// covering platforms that never had URLs dispatched.
	for _, slot := range AgentSlots() {
		p.registry.UpdateAgentStatus(sessionID, slot, AgentDone, "")
	}
	p.registry.SetResult(sessionID, result)
	p.registry.SetStatus(sessionID, StatusCompleted)
	p.registry.Broadcast(sessionID, ResearchCompleteEvent(result))
	p.telemetry.RecordRunCompleted(time.Since(started))
	p.logger.Printf("research completed for session %s in %v", sessionID, time.Since(started))
}

func (p *Pipeline) stageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Research.StageTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.Research.StageTimeout)
	}
	return context.WithCancel(ctx)
}

// discover runs the URL discovery stage. It never aborts the run: any
// failure degrades to all-empty buckets, and the search slot is marked
// done on exit regardless of outcome.
func (p *Pipeline) discover(ctx context.Context, sessionID, query string) URLBuckets {
	stageStart := time.Now()
	sctx, cancel := p.stageCtx(ctx)
	defer cancel()

	var buckets URLBuckets
	message := "URL discovery complete"
	res, err := p.executor.Execute(sctx, ExecRequest{
		Role:   RoleSearch,
		Goal:   discoveryGoal(query, p.cfg.Research.MaxURLsPerPlatform),
		Tools:  []string{ToolSearchEngine},
		Schema: SchemaURLBuckets,
		Query:  query,
	})
	if err != nil {
		p.logger.Printf("discovery failed for session %s: %v", sessionID, err)
		p.telemetry.RecordStageFailure("discover")
		message = "URL discovery failed, continuing with no sources"
	} else {
		var ok bool
		if buckets, ok = CoerceURLBuckets(res); !ok {
			p.logger.Printf("discovery result unparseable for session %s, using empty buckets", sessionID)
			p.telemetry.RecordStageFailure("discover")
			buckets = URLBuckets{}
			message = "URL discovery returned nothing usable"
		}
	}
	buckets.Normalize(p.cfg.Research.MaxURLsPerPlatform)

	p.registry.UpdateAgentStatus(sessionID, SlotSearch, AgentDone, message)
	p.telemetry.RecordStage("discover", time.Since(stageStart))
	return buckets
}

// extract fans out one specialist branch per platform with URLs and
// joins on all of them. A failed branch is converted to a sentinel
// output, never cancelling its siblings, so fan-in always yields
// exactly one record per dispatched platform. Results are ordered by
// platform key, not completion time.
func (p *Pipeline) extract(ctx context.Context, sessionID string, buckets URLBuckets) []SpecialistOutput {
	stageStart := time.Now()
	dispatched := buckets.Dispatched()
	if len(dispatched) == 0 {
		p.logger.Printf("no platforms dispatched for session %s", sessionID)
		return nil
	}
	sctx, cancel := p.stageCtx(ctx)
	defer cancel()

	results := make([]SpecialistOutput, len(dispatched))
	var wg sync.WaitGroup
	for i, platform := range dispatched {
		wg.Add(1)
		go func(i int, platform Platform, urls []string) {
			defer wg.Done()
			p.semaphore <- struct{}{}
			defer func() { <-p.semaphore }()

			p.registry.UpdateAgentStatus(sessionID, string(platform), AgentRunning,
				fmt.Sprintf("Analyzing %d %s link(s)...", len(urls), platform))

			out, err := p.runSpecialist(sctx, platform, urls)
			if err != nil {
				p.logger.Printf("%s specialist failed for session %s: %v", platform, sessionID, err)
				p.telemetry.RecordBranchFailure(string(platform))
				results[i] = SentinelOutput(platform, err)
				p.registry.UpdateAgentStatus(sessionID, string(platform), AgentError, err.Error())
				return
			}
			results[i] = out
			p.registry.UpdateAgentStatus(sessionID, string(platform), AgentDone, "")
		}(i, platform, buckets.Bucket(platform))
	}
	wg.Wait()

	p.telemetry.RecordStage("extract", time.Since(stageStart))
	return results
}

func (p *Pipeline) runSpecialist(ctx context.Context, platform Platform, urls []string) (SpecialistOutput, error) {
	res, err := p.executor.Execute(ctx, ExecRequest{
		Role:     specialistRole(platform),
		Goal:     specialistGoal(platform, urls),
		Tools:    []string{ToolWebScrape},
		Schema:   SchemaSpecialistOutput,
		Platform: platform,
		URLs:     urls,
	})
	if err != nil {
		return SpecialistOutput{}, err
	}
	out, err := CoerceSpecialistOutput(res, platform, urls)
	if err != nil {
		return SpecialistOutput{}, err
	}
	return out, nil
}

// synthesize aggregates every specialist output, sentinels included,
// into one narrative. It is the only stage without a safe default: a
// failure here surfaces as the session's error state.
func (p *Pipeline) synthesize(ctx context.Context, sessionID, query string, outputs []SpecialistOutput) (string, error) {
	stageStart := time.Now()
	sctx, cancel := p.stageCtx(ctx)
	defer cancel()

	p.registry.UpdateAgentStatus(sessionID, SlotSynthesis, AgentRunning, "Synthesizing findings...")

	res, err := p.executor.Execute(sctx, ExecRequest{
		Role:   RoleSynthesis,
		Goal:   synthesisGoal(query, outputs),
		Schema: SchemaMarkdown,
		Query:  query,
	})
	if err != nil {
		return "", fmt.Errorf("synthesis execution: %w", err)
	}
	text, err := CoerceText(res)
	if err != nil {
		return "", fmt.Errorf("synthesis result: %w", err)
	}

	p.registry.UpdateAgentStatus(sessionID, SlotSynthesis, AgentDone, "")
	p.telemetry.RecordStage("synthesize", time.Since(stageStart))
	return text, nil
}

// platformHosts constrains discovery results per platform bucket.
var platformHosts = map[Platform][]string{
	PlatformInstagram: {"instagram.com"},
	PlatformLinkedIn:  {"linkedin.com"},
	PlatformYouTube:   {"youtube.com"},
	PlatformX:         {"x.com", "twitter.com"},
}

// PlatformSites returns the site filters for a platform's discovery
// query. The open web has no host constraint.
func PlatformSites(p Platform) []string { return platformHosts[p] }

func specialistRole(platform Platform) string {
	return fmt.Sprintf("%s Specialist Research Agent", titleCase(string(platform)))
}

func discoveryGoal(query string, maxPerPlatform int) string {
	return fmt.Sprintf(`Query: %q

Return JSON with these exact keys: ["instagram","linkedin","youtube","x","web"]
Each key has a list of max %d URL(s) (the most relevant ones).
Empty list [] if no relevant result for that platform.

Rules:
- instagram: instagram.com URLs only
- linkedin: linkedin.com URLs only
- youtube: youtube.com URLs only
- x: x.com or twitter.com URLs only
- web: article/blog URLs only
- never include duplicates and never fabricate URLs

Output: Pure JSON, no markdown, no explanation.`, query, maxPerPlatform)
}

func specialistGoal(platform Platform, urls []string) string {
	return fmt.Sprintf(`Fetch and summarize: %s

Output JSON with:
- platform: %q
- url: the URL processed (one of the URLs above, echoed back exactly)
- summary: key findings in 3-5 bullet points (max 200 words)
- metadata: {}`, strings.Join(urls, ", "), platform)
}

func synthesisGoal(query string, outputs []SpecialistOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original Query: %q\n\nResearch Context:\n", query)
	sources := 0
	for _, out := range outputs {
		fmt.Fprintf(&b, "\n[%s] %s\n%s\n", out.Platform, out.URL, out.Summary)
		if !out.IsSentinel() {
			sources++
		}
	}
	if len(outputs) == 0 {
		b.WriteString("\n(no sources were recovered for this query)\n")
	}

	b.WriteString(`
Your Task:
Create a comprehensive, well-structured markdown response that:

1. Directly answers the user's query with clear, actionable insights
2. Synthesizes findings from all available sources into coherent themes
3. Provides specific details with supporting evidence from sources
4. Uses clear headings and bullet points for easy scanning
5. Highlights key takeaways and important implications

Structure your response with:
- Executive Summary (2-3 key points)
- Detailed Findings (organized by topic/theme)
- Key Insights & Implications`)
	if sources > 0 {
		b.WriteString("\n- Sources & References (only the sources listed above — never invent sources)")
	} else {
		b.WriteString("\nDo not include a sources section: no sources were collected.")
	}
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
