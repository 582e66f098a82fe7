package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/research"
	"github.com/mohammad-safakhou/deepresearch/provider"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch"
	fetchmodels "github.com/mohammad-safakhou/deepresearch/tools/web_fetch/models"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search"
	"github.com/mohammad-safakhou/deepresearch/utils"
)

// Executor runs agent goals against an LLM provider, pre-invoking the
// discovery and fetch tools so the model only ever reasons over
// material that was actually retrieved.
type Executor struct {
	cfg      *config.Config
	logger   *log.Logger
	llm      provider.Provider
	searcher web_search.WebSearcher
	fetcher  web_fetch.WebFetcher
}

// NewExecutor wires an executor from configuration. It fails when no
// usable LLM provider or search backend is configured.
func NewExecutor(cfg *config.Config, logger *log.Logger) (*Executor, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}

	name, providerCfg, err := selectProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	llm, err := provider.NewProvider(provider.Client(providerCfg.Type), providerCfg)
	if err != nil {
		return nil, fmt.Errorf("llm provider %q: %w", name, err)
	}

	searchCfg := cfg.Tools.WebSearch
	apiKey := searchCfg.SerperAPIKey
	if web_search.Provider(searchCfg.Provider) == web_search.BraveProvider {
		apiKey = searchCfg.BraveAPIKey
	}
	searcher, err := web_search.NewWebSearcher(web_search.Provider(searchCfg.Provider), apiKey)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}

	fetcher, err := web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType, cfg.Tools.WebFetch.Timeout, cfg.Tools.WebFetch.MaxChars)
	if err != nil {
		return nil, fmt.Errorf("web fetch: %w", err)
	}

	return &Executor{cfg: cfg, logger: logger, llm: llm, searcher: searcher, fetcher: fetcher}, nil
}

func selectProvider(cfg config.LLMConfig) (string, config.LLMProvider, error) {
	if len(cfg.Providers) == 0 {
		return "", config.LLMProvider{}, fmt.Errorf("no llm providers configured")
	}
	if p, ok := cfg.Providers["openai"]; ok {
		return "openai", p, nil
	}
	for name, p := range cfg.Providers {
		return name, p, nil
	}
	return "", config.LLMProvider{}, fmt.Errorf("no llm providers configured")
}

// Execute dispatches a goal to the stage-appropriate path. Tool usage
// is decided by the requested schema, not by the model.
func (e *Executor) Execute(ctx context.Context, req research.ExecRequest) (research.ExecResult, error) {
	switch req.Schema {
	case research.SchemaURLBuckets:
		return e.executeDiscovery(ctx, req)
	case research.SchemaSpecialistOutput:
		return e.executeSpecialist(ctx, req)
	case research.SchemaMarkdown:
		return e.executeSynthesis(ctx, req)
	default:
		return research.ExecResult{}, fmt.Errorf("unknown schema %q", req.Schema)
	}
}

func (e *Executor) executeDiscovery(ctx context.Context, req research.ExecRequest) (research.ExecResult, error) {
	maxResults := e.cfg.Tools.WebSearch.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	var evidence strings.Builder
	found := 0
	for _, platform := range research.Platforms() {
		results, err := e.searcher.Discover(ctx, req.Query, maxResults, research.PlatformSites(platform))
		if err != nil {
			e.logger.Printf("search for %s failed: %v", platform, err)
			continue
		}
		if len(results) == 0 {
			continue
		}
		fmt.Fprintf(&evidence, "\n%s candidates:\n", platform)
		for _, r := range results {
			fmt.Fprintf(&evidence, "- %s | %s\n", r.URL, utils.Truncate(r.Title, 120))
			found++
		}
	}
	if found == 0 {
		return research.ExecResult{}, fmt.Errorf("search produced no candidates")
	}

	user := req.Goal + "\n\nSearch results:\n" + evidence.String()
	text, err := e.llm.Complete(ctx, e.cfg.LLM.Routing.Model("search"), discoverySystemPrompt(req.Role), user)
	if err != nil {
		return research.ExecResult{}, fmt.Errorf("discovery completion: %w", err)
	}
	return research.ClassifyText(text), nil
}

func (e *Executor) executeSpecialist(ctx context.Context, req research.ExecRequest) (research.ExecResult, error) {
	var pages []fetchmodels.Result
	for _, url := range req.URLs {
		page, err := e.fetcher.Exec(ctx, url)
		if err != nil {
			e.logger.Printf("fetch %s failed: %v", url, err)
			continue
		}
		if strings.TrimSpace(page.Text) == "" {
			e.logger.Printf("fetch %s yielded no readable content (status %d)", url, page.Status)
			continue
		}
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return research.ExecResult{}, fmt.Errorf("no %s page could be fetched", req.Platform)
	}

	var evidence strings.Builder
	for _, page := range pages {
		fmt.Fprintf(&evidence, "\n--- %s (%s) ---\n%s\n", page.Title, page.URL, page.Text)
	}

	user := req.Goal + "\n\nFetched content:\n" + evidence.String()
	text, err := e.llm.Complete(ctx, e.cfg.LLM.Routing.Model("specialist"), specialistSystemPrompt(req.Role, req.Platform), user)
	if err != nil {
		return research.ExecResult{}, fmt.Errorf("%s completion: %w", req.Platform, err)
	}
	return research.ClassifyText(text), nil
}

func (e *Executor) executeSynthesis(ctx context.Context, req research.ExecRequest) (research.ExecResult, error) {
	text, err := e.llm.Complete(ctx, e.cfg.LLM.Routing.Model("response"), synthesisSystemPrompt(req.Role), req.Goal)
	if err != nil {
		return research.ExecResult{}, fmt.Errorf("synthesis completion: %w", err)
	}
	return research.ClassifyText(text), nil
}
