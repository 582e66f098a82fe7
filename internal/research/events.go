package research

// Event types pushed over the live channel.
const (
	EventInitialState     = "initial_state"
	EventAgentUpdate      = "agent_update"
	EventHeartbeat        = "heartbeat"
	EventFlowStarted      = "flow_started"
	EventResearchComplete = "research_complete"
	EventError            = "error"
)

// Event is one tagged record pushed to an observer. Only the fields for
// the given Type are populated.
type Event struct {
	Type    string                 `json:"type"`
	AgentID string                 `json:"agent_id,omitempty"`
	Status  AgentState             `json:"status,omitempty"`
	Message string                 `json:"message,omitempty"`
	Query   string                 `json:"query,omitempty"`
	Result  string                 `json:"result,omitempty"`
	Agents  map[string]AgentStatus `json:"agents,omitempty"`
}

func InitialStateEvent(agents map[string]AgentStatus) Event {
	return Event{Type: EventInitialState, Agents: agents}
}

func AgentUpdateEvent(agentID string, status AgentState, message string) Event {
	return Event{Type: EventAgentUpdate, AgentID: agentID, Status: status, Message: message}
}

func HeartbeatEvent() Event { return Event{Type: EventHeartbeat} }

func FlowStartedEvent(query string) Event { return Event{Type: EventFlowStarted, Query: query} }

func ResearchCompleteEvent(result string) Event {
	return Event{Type: EventResearchComplete, Result: result}
}

func ErrorEvent(message string) Event { return Event{Type: EventError, Message: message} }
