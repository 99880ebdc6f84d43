package commitment

import (
	"context"
	"strings"
	"time"

	"github.com/RMSTrucks/jakebot/internal/llm"
	"github.com/RMSTrucks/jakebot/internal/model"
)

// LLMClassifier asks a language model for commitments. When the model call
// fails and a fallback is configured, the fallback's answer is used instead.
type LLMClassifier struct {
	extractor llm.Extractor
	fallback  Classifier
	dates     DueDateParser
	now       func() time.Time
}

// NewLLMClassifier wraps extractor. fallback may be nil.
func NewLLMClassifier(extractor llm.Extractor, fallback Classifier, loc *time.Location) *LLMClassifier {
	return &LLMClassifier{
		extractor: extractor,
		fallback:  fallback,
		dates:     DefaultDueDateParser(loc),
		now:       time.Now,
	}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, transcript string) ([]model.Commitment, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, nil
	}
	extracted, err := c.extractor.ExtractCommitments(ctx, transcript)
	if err != nil {
		if c.fallback != nil {
			return c.fallback.Classify(ctx, transcript)
		}
		return nil, &model.ClassifierError{Err: err}
	}

	ref := c.now()
	out := make([]model.Commitment, 0, len(extracted))
	for _, e := range extracted {
		due, confidence := c.dates.Parse(e.When, ref)
		if e.Confidence > 0 {
			confidence = e.Confidence
		}
		system, err := model.ParseTarget(e.Target)
		if err != nil {
			system = model.TargetCRM
		}
		base := model.Priority(strings.ToLower(e.Priority))
		switch base {
		case model.PriorityLow, model.PriorityNormal, model.PriorityHigh:
		default:
			base = model.PriorityNormal
		}
		out = append(out, model.Commitment{
			Type:             e.Type,
			Description:      strings.TrimSpace(e.Description),
			System:           system,
			DueDate:          &due,
			RequiresApproval: e.RequiresApproval,
			Priority:         scorePriority(base, e.Description, due, ref),
			SourceText:       e.Quote,
			Confidence:       confidence,
		})
	}
	return out, nil
}
