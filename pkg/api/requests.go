package api

// SubmitIntentRequest is the HTTP request body for POST /api/v1/intents.
// RawCommand is the only field a caller must supply; Type, Slots, and
// Confidence are normally produced upstream by the NLU layer, but the
// API also accepts them pre-parsed for callers (CI hooks, scripts) that
// bypass NLU entirely.
type SubmitIntentRequest struct {
	RawCommand          string         `json:"raw_command" binding:"required"`
	Type                string         `json:"type,omitempty"`
	Slots               map[string]any `json:"slots,omitempty"`
	Confidence          float64        `json:"confidence,omitempty"`
	NeedsClarification  bool           `json:"needs_clarification,omitempty"`
	ClarificationPrompt string         `json:"clarification_prompt,omitempty"`
}

// ResolveHITLRequest is the HTTP request body for
// POST /api/v1/hitl/:task_id/resolve.
type ResolveHITLRequest struct {
	RootCause   string `json:"root_cause" binding:"required"`
	FixStrategy string `json:"fix_strategy" binding:"required"`
	Severity    string `json:"severity"`
	HumanNotes  string `json:"human_notes"`
	Patch       string `json:"patch,omitempty"`
}
