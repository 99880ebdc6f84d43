// Package tasks turns detected commitments into per-system task requests.
package tasks

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/RMSTrucks/jakebot/internal/model"
	"github.com/google/uuid"
)

const (
	maxTitleRunes  = 120
	titlePrefix    = "Follow up: "
	DefaultDueDays = 1
)

// Builder creates one TaskRequest per (commitment, target) pair.
type Builder struct {
	targets []model.Target
	now     func() time.Time
	newID   func() string
}

// NewBuilder returns a builder for the given targets. now may be nil.
func NewBuilder(targets []model.Target, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{
		targets: targets,
		now:     now,
		newID:   uuid.NewString,
	}
}

// Targets returns the configured targets.
func (b *Builder) Targets() []model.Target {
	return append([]model.Target(nil), b.targets...)
}

// Build expands commitments into task requests, commitments first, then
// targets in configured order. No commitments yields an empty list.
func (b *Builder) Build(event model.CallEvent, commitments []model.Commitment) ([]model.TaskRequest, error) {
	switch {
	case strings.TrimSpace(event.CallID) == "":
		return nil, model.NewValidationError("call_id", "is required")
	case strings.TrimSpace(event.LeadID) == "":
		return nil, model.NewValidationError("lead_id", "is required")
	case strings.TrimSpace(event.UserID) == "":
		return nil, model.NewValidationError("user_id", "is required")
	}

	out := make([]model.TaskRequest, 0, len(commitments)*len(b.targets))
	if len(commitments) == 0 {
		return out, nil
	}

	defaultDue := b.now().AddDate(0, 0, DefaultDueDays)
	for _, c := range commitments {
		due := defaultDue
		if c.DueDate != nil && !c.DueDate.IsZero() {
			due = *c.DueDate
		}
		priority := c.Priority
		if priority == "" {
			priority = model.PriorityNormal
		}
		for _, target := range b.targets {
			out = append(out, model.TaskRequest{
				ID:               b.newID(),
				Target:           target,
				Title:            Title(c.Description),
				Description:      describe(event, c),
				DueDate:          due,
				CallID:           event.CallID,
				LeadID:           event.LeadID,
				UserID:           event.UserID,
				UserName:         event.UserName,
				Priority:         priority,
				CommitmentType:   c.Type,
				RequiresApproval: c.RequiresApproval,
			})
		}
	}
	return out, nil
}

// Title builds a task title, truncated to 120 runes.
func Title(description string) string {
	title := titlePrefix + strings.TrimSpace(description)
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	r := []rune(title)
	return string(r[:maxTitleRunes-1]) + "…"
}

func describe(event model.CallEvent, c model.Commitment) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(c.Description))
	if c.SourceText != "" && c.SourceText != c.Description {
		fmt.Fprintf(&sb, "\n\nFrom the call: %q", c.SourceText)
	}
	fmt.Fprintf(&sb, "\n\nCall: %s", event.CallID)
	if event.UserName != "" {
		fmt.Fprintf(&sb, "\nAgent: %s", event.UserName)
	}
	if c.RequiresApproval {
		sb.WriteString("\nRequires approval before changes are made.")
	}
	return sb.String()
}
