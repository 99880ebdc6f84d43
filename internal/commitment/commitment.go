// Package commitment detects follow-up promises in call transcripts.
package commitment

import (
	"context"

	"github.com/RMSTrucks/jakebot/internal/model"
)

// Classifier turns a transcript into zero or more commitments.
// An empty transcript yields no commitments and no error.
type Classifier interface {
	Classify(ctx context.Context, transcript string) ([]model.Commitment, error)
}

// Func adapts a plain function to the Classifier interface.
type Func func(ctx context.Context, transcript string) ([]model.Commitment, error)

func (f Func) Classify(ctx context.Context, transcript string) ([]model.Commitment, error) {
	return f(ctx, transcript)
}
