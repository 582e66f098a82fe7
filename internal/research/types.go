package research

import (
	"time"
)

// Platform identifies one content platform a research run can cover.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformYouTube   Platform = "youtube"
	PlatformX         Platform = "x"
	PlatformWeb       Platform = "web"
)

// Platforms returns every platform in stable order. Fan-in result
// ordering and the agent slot map are both keyed off this order.
func Platforms() []Platform {
	return []Platform{PlatformInstagram, PlatformLinkedIn, PlatformYouTube, PlatformX, PlatformWeb}
}

// Agent slots that are not platform branches.
const (
	SlotSearch    = "search"
	SlotSynthesis = "synthesis"
)

// AgentSlots returns every slot name in stable order: search first,
// then the platform branches, then synthesis.
func AgentSlots() []string {
	slots := make([]string, 0, len(Platforms())+2)
	slots = append(slots, SlotSearch)
	for _, p := range Platforms() {
		slots = append(slots, string(p))
	}
	return append(slots, SlotSynthesis)
}

// AgentState is the lifecycle state of one agent slot.
type AgentState string

const (
	AgentWaiting AgentState = "waiting"
	AgentRunning AgentState = "running"
	AgentDone    AgentState = "done"
	AgentError   AgentState = "error"
)

// stateRank orders agent states so that slots never move backward.
// done and error are both terminal.
func stateRank(s AgentState) int {
	switch s {
	case AgentWaiting:
		return 0
	case AgentRunning:
		return 1
	case AgentDone, AgentError:
		return 2
	default:
		return 0
	}
}

// SessionStatus is the lifecycle state of one research run.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
)

// AgentStatus is the progress record for one agent slot. The message is
// overwritten on each update, never accumulated.
type AgentStatus struct {
	Status  AgentState `json:"status"`
	Message string     `json:"message,omitempty"`
}

// Session represents one end-to-end research run.
type Session struct {
	ID        string                 `json:"session_id"`
	Query     string                 `json:"query"`
	Status    SessionStatus          `json:"status"`
	Agents    map[string]AgentStatus `json:"agents"`
	Result    string                 `json:"result,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// URLBuckets holds discovered URLs grouped by platform.
type URLBuckets struct {
	Instagram []string `json:"instagram"`
	LinkedIn  []string `json:"linkedin"`
	YouTube   []string `json:"youtube"`
	X         []string `json:"x"`
	Web       []string `json:"web"`
}

// Bucket returns the URL list for one platform.
func (b URLBuckets) Bucket(p Platform) []string {
	switch p {
	case PlatformInstagram:
		return b.Instagram
	case PlatformLinkedIn:
		return b.LinkedIn
	case PlatformYouTube:
		return b.YouTube
	case PlatformX:
		return b.X
	case PlatformWeb:
		return b.Web
	}
	return nil
}

func (b *URLBuckets) setBucket(p Platform, urls []string) {
	switch p {
	case PlatformInstagram:
		b.Instagram = urls
	case PlatformLinkedIn:
		b.LinkedIn = urls
	case PlatformYouTube:
		b.YouTube = urls
	case PlatformX:
		b.X = urls
	case PlatformWeb:
		b.Web = urls
	}
}

// Normalize deduplicates each bucket and caps it at maxPerPlatform.
func (b *URLBuckets) Normalize(maxPerPlatform int) {
	if maxPerPlatform <= 0 {
		maxPerPlatform = 1
	}
	for _, p := range Platforms() {
		urls := b.Bucket(p)
		if len(urls) == 0 {
			continue
		}
		seen := make(map[string]struct{}, len(urls))
		deduped := urls[:0]
		for _, u := range urls {
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			deduped = append(deduped, u)
		}
		if len(deduped) > maxPerPlatform {
			deduped = deduped[:maxPerPlatform]
		}
		b.setBucket(p, deduped)
	}
}

// Dispatched returns the platforms with at least one URL, in stable order.
func (b URLBuckets) Dispatched() []Platform {
	var out []Platform
	for _, p := range Platforms() {
		if len(b.Bucket(p)) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// SentinelURL marks the SpecialistOutput substituted for a failed branch.
const SentinelURL = "https://invalid.local"

// SpecialistOutput is the extraction result for one platform branch.
type SpecialistOutput struct {
	Platform Platform               `json:"platform"`
	URL      string                 `json:"url"`
	Summary  string                 `json:"summary"`
	Metadata map[string]interface{} `json:"metadata"`
}

// SentinelOutput builds the placeholder result for a failed branch so
// fan-in arity is preserved.
func SentinelOutput(platform Platform, err error) SpecialistOutput {
	return SpecialistOutput{
		Platform: platform,
		URL:      SentinelURL,
		Summary:  "Error: " + err.Error(),
		Metadata: map[string]interface{}{"detail": err.Error()},
	}
}

// IsSentinel reports whether the output was substituted for a failure.
func (o SpecialistOutput) IsSentinel() bool { return o.URL == SentinelURL }
