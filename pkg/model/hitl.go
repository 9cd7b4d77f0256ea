package model

// HITLStatus is the closed enumeration of human-in-the-loop queue item
// states.
type HITLStatus string

const (
	HITLPending  HITLStatus = "pending"
	HITLResolved HITLStatus = "resolved"
)

// HITLResolution is written by the (external) reviewer UI once a human
// has disposed of an escalated Task.
type HITLResolution struct {
	RootCause   string `json:"root_cause"`
	FixStrategy string `json:"fix_strategy"`
	Severity    string `json:"severity"`
	HumanNotes  string `json:"human_notes"`
	Patch       string `json:"patch,omitempty"`
}

// HITLContextBundle carries everything a human reviewer needs to
// diagnose an escalated Task without re-running the pipeline.
type HITLContextBundle struct {
	TestPath        string   `json:"test_path"`
	ErrorMessage    string   `json:"error_message"`
	AIDiagnosis     string   `json:"ai_diagnosis"`
	CodeChanges     string   `json:"code_changes,omitempty"`
	Screenshots     []string `json:"screenshots"`
	AttemptHistory  []Attempt `json:"attempt_history"`
}

// HITLItem is a Task escalated to the human review queue after a bound
// breach (spec §4.1, §6). Priority is a float in [0,1]; higher values
// sort first in the reviewer queue.
type HITLItem struct {
	TaskID         string             `json:"task_id"`
	Priority       float64            `json:"priority"`
	Attempts       int                `json:"attempts"`
	LastError      string             `json:"last_error"`
	ContextBundle  HITLContextBundle  `json:"context_bundle"`
	Status         HITLStatus         `json:"status"`
	Resolution     *HITLResolution    `json:"resolution,omitempty"`
}
