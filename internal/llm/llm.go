package llm

import "context"

// ExtractedCommitment is one follow-up promise as reported by the model.
type ExtractedCommitment struct {
	Type             string  `json:"type"`              // follow_up, document_sending, policy_update, ...
	Description      string  `json:"description"`       // what the agent promised, imperative form
	When             string  `json:"when"`              // due phrase as spoken ("tomorrow", "by friday")
	Target           string  `json:"target"`            // crm | agency
	RequiresApproval bool    `json:"requires_approval"` // policy changes need a manager sign-off
	Priority         string  `json:"priority"`          // low | normal | high
	Quote            string  `json:"quote"`             // sentence from the transcript
	Confidence       float64 `json:"confidence"`        // 0-1
}

// Message represents a conversation message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Extractor defines the interface for LLM providers.
type Extractor interface {
	// ExtractCommitments returns the agent's commitments found in transcript.
	ExtractCommitments(ctx context.Context, transcript string) ([]ExtractedCommitment, error)
}
