package dresscode

// Outcome types.
const (
	OutcomeResult = "result"
	OutcomeError  = "error"
)

// Outcome is the message form of a run: either a verdict or an error message, never both.
type Outcome struct {
	Type    string   `json:"type"`
	RunID   string   `json:"run_id,omitempty"`
	Verdict *Verdict `json:"verdict,omitempty"`
	Message string   `json:"message,omitempty"`
}

// NewOutcome converts the return values of Pipeline.Run.
func NewOutcome(runID string, v *Verdict, err error) Outcome {
	if err != nil {
		return Outcome{Type: OutcomeError, RunID: runID, Message: err.Error()}
	}
	return Outcome{Type: OutcomeResult, RunID: runID, Verdict: v}
}
