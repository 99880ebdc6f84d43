package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/RMSTrucks/jakebot/internal/eventlog"
	"github.com/RMSTrucks/jakebot/internal/model"
	"github.com/RMSTrucks/jakebot/internal/notifications"
	"go.uber.org/zap"
)

// notify delivers ev in the background. Delivery errors are logged and
// never reach the processing result.
func (p *Processor) notify(ev notifications.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now().UTC()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := p.notifier.Notify(ctx, ev); err != nil {
			p.logger.Warn("notification failed",
				zap.String("call_id", ev.CallID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
			p.eventLog.LogAsync(ev.CallID, eventlog.EventNotificationFailed, map[string]any{
				"kind":  string(ev.Kind),
				"error": err.Error(),
			})
		}
	}()
}

func (p *Processor) notifyFailedTasks(event model.CallEvent, failed []model.Outcome) {
	fields := make([]notifications.Field, 0, len(failed))
	lines := make([]string, 0, len(failed))
	for _, o := range failed {
		fields = append(fields, notifications.Field{
			Name:   string(o.Target),
			Value:  fmt.Sprintf("%s after %d attempt(s)", o.ErrorKind, o.Attempts),
			Inline: true,
		})
		lines = append(lines, o.Error)
	}
	p.notify(notifications.Event{
		Kind:     notifications.KindFailure,
		CallID:   event.CallID,
		LeadID:   event.LeadID,
		UserName: event.UserName,
		Title:    fmt.Sprintf("Failed to create %d follow-up task(s)", len(failed)),
		Message:  strings.Join(lines, "\n"),
		Fields:   fields,
	})
}

func (p *Processor) notifyFatal(event model.CallEvent, res *model.ProcessingResult) {
	p.notify(notifications.Event{
		Kind:     notifications.KindFailure,
		CallID:   event.CallID,
		LeadID:   event.LeadID,
		UserName: event.UserName,
		Title:    "Call processing failed",
		Message:  res.Error,
		Fields: []notifications.Field{
			{Name: "Error type", Value: model.ErrorType(res.Err), Inline: true},
			{Name: "Tasks", Value: fmt.Sprintf("%d", len(res.Outcomes)), Inline: true},
		},
	})
}

// requestApprovals flags commitments that change a policy. The tasks are
// still created; the notification asks a manager to review them.
func (p *Processor) requestApprovals(event model.CallEvent, commitments []model.Commitment) {
	for _, c := range commitments {
		if !c.RequiresApproval {
			continue
		}
		p.eventLog.LogAsync(event.CallID, eventlog.EventApprovalRequested, map[string]any{
			"type":        c.Type,
			"description": c.Description,
		})
		fields := []notifications.Field{
			{Name: "Type", Value: c.Type, Inline: true},
			{Name: "Priority", Value: string(c.Priority), Inline: true},
		}
		if c.DueDate != nil {
			fields = append(fields, notifications.Field{Name: "Due", Value: c.DueDate.Format("2006-01-02 15:04 MST"), Inline: true})
		}
		if c.SourceText != "" {
			fields = append(fields, notifications.Field{Name: "Quote", Value: c.SourceText})
		}
		p.notify(notifications.Event{
			Kind:     notifications.KindApproval,
			CallID:   event.CallID,
			LeadID:   event.LeadID,
			UserName: event.UserName,
			Title:    "Approval required",
			Message:  c.Description,
			Fields:   fields,
		})
	}
}

func (p *Processor) notifySummaryEvent(event model.CallEvent, commitments []model.Commitment, res *model.ProcessingResult) {
	var sb strings.Builder
	for _, c := range commitments {
		due := "no due date"
		if c.DueDate != nil {
			due = c.DueDate.Format("Mon Jan 2 15:04")
		}
		fmt.Fprintf(&sb, "• %s (%s, %s)\n", c.Description, c.Priority, due)
	}
	created := 0
	for _, o := range res.Outcomes {
		if o.Success {
			created++
		}
	}
	p.notify(notifications.Event{
		Kind:     notifications.KindSummary,
		CallID:   event.CallID,
		LeadID:   event.LeadID,
		UserName: event.UserName,
		Title:    fmt.Sprintf("Call summary: %d commitment(s)", len(commitments)),
		Message:  strings.TrimSpace(sb.String()),
		Fields: []notifications.Field{
			{Name: "Tasks created", Value: fmt.Sprintf("%d/%d", created, len(res.Outcomes)), Inline: true},
		},
	})
}
