package messagequeue

// SessionStagePayload is the schema for sessions.stage messages.
type SessionStagePayload struct {
	SessionID     string `json:"session_id"`
	Project       string `json:"project"`
	Function      string `json:"function"`
	Iteration     int    `json:"iteration"`
	From          string `json:"from"`
	To            string `json:"to"`
	Note          string `json:"note,omitempty"`
	FixCount      int    `json:"fix_count"`
	ToolCallCount int    `json:"tool_call_count"`
}

// SessionFinishedPayload is the schema for sessions.finished messages.
type SessionFinishedPayload struct {
	SessionID  string `json:"session_id"`
	Project    string `json:"project"`
	Function   string `json:"function"`
	Iteration  int    `json:"iteration"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	FixCount   int    `json:"fix_count"`
	Diagnostic string `json:"diagnostic,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}
