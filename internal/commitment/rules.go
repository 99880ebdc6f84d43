package commitment

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/RMSTrucks/jakebot/internal/model"
)

// RuleConfig configures the rule-based classifier.
type RuleConfig struct {
	Patterns []Pattern        // defaults to DefaultPatterns()
	Location *time.Location   // time zone for due dates, defaults to UTC
	Now      func() time.Time // reference clock, defaults to time.Now
}

// RuleClassifier detects commitments with regular expressions applied to
// the agent's side of the conversation.
type RuleClassifier struct {
	patterns []Pattern
	dates    DueDateParser
	now      func() time.Time
}

// NewRuleClassifier creates a classifier from cfg.
func NewRuleClassifier(cfg RuleConfig) *RuleClassifier {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RuleClassifier{
		patterns: patterns,
		dates:    DefaultDueDateParser(cfg.Location),
		now:      now,
	}
}

var (
	speakerLine   = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z.'-]*(?: [A-Za-z][A-Za-z.'-]*){0,2})\s*:\s*(.*)$`)
	sentenceSplit = regexp.MustCompile(`[.!?;]+(?:\s+|$)`)
	leadingSelf   = regexp.MustCompile(`(?i)^I(?:'ll| will|'m going to| am going to)\s+`)
	urgentWords   = []string{"urgent", "asap", "immediately", "emergency"}
)

// Speakers whose lines never carry agent commitments.
var customerSpeakers = map[string]bool{
	"customer": true,
	"client":   true,
	"caller":   true,
	"prospect": true,
	"insured":  true,
	"lead":     true,
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(ctx context.Context, transcript string) ([]model.Commitment, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, nil
	}
	ref := c.now()

	var out []model.Commitment
	for _, sentence := range agentSentences(transcript) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for _, p := range c.patterns {
			for _, m := range p.Expr.FindAllStringSubmatchIndex(sentence, -1) {
				cm := c.fromMatch(p, sentence, m, ref)
				if cm.Description == "" || seen[cm.Description] {
					continue
				}
				seen[cm.Description] = true
				out = append(out, cm)
			}
		}
	}
	return out, nil
}

func (c *RuleClassifier) fromMatch(p Pattern, sentence string, m []int, ref time.Time) model.Commitment {
	when := group(p.Expr, "when", sentence, m)
	due, confidence := c.dates.Parse(when, ref)

	desc := strings.TrimSpace(sentence[m[0]:])
	desc = leadingSelf.ReplaceAllString(desc, "")
	desc = strings.TrimRight(desc, " ,.!?;:")

	return model.Commitment{
		Type:             p.Type,
		Description:      desc,
		System:           p.System,
		DueDate:          &due,
		RequiresApproval: p.RequiresApproval,
		Priority:         scorePriority(p.Priority, desc, due, ref),
		SourceText:       strings.TrimSpace(sentence),
		Confidence:       confidence,
	}
}

func group(expr *regexp.Regexp, name, s string, m []int) string {
	i := expr.SubexpIndex(name)
	if i < 0 || m[2*i] < 0 {
		return ""
	}
	return strings.TrimSpace(s[m[2*i]:m[2*i+1]])
}

// agentSentences returns the sentences spoken by the agent. When the
// transcript carries speaker tags, customer turns are skipped and untagged
// lines continue the previous speaker's turn; lines before the first tag
// belong to nobody. Without tags every sentence is considered.
func agentSentences(transcript string) []string {
	transcript = strings.ReplaceAll(transcript, "\r\n", "\n")
	transcript = strings.ReplaceAll(transcript, "\r", "\n")
	transcript = strings.ReplaceAll(transcript, "’", "'")

	lines := strings.Split(transcript, "\n")
	tagged := false
	for _, line := range lines {
		if speakerLine.MatchString(line) {
			tagged = true
			break
		}
	}

	var out []string
	split := func(text string) {
		for _, s := range sentenceSplit.Split(text, -1) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	if !tagged {
		for _, line := range lines {
			split(line)
		}
		return out
	}

	var turn []string
	skip := true
	for _, line := range lines {
		if m := speakerLine.FindStringSubmatch(line); m != nil {
			split(strings.Join(turn, " "))
			turn = turn[:0]
			skip = customerSpeakers[strings.ToLower(strings.TrimSpace(m[1]))]
			line = m[2]
		}
		if line = strings.TrimSpace(line); line != "" && !skip {
			turn = append(turn, line)
		}
	}
	split(strings.Join(turn, " "))
	return out
}

// scorePriority raises the pattern's base priority for near deadlines and
// urgent wording.
func scorePriority(base model.Priority, description string, due, ref time.Time) model.Priority {
	score := 2
	switch base {
	case model.PriorityHigh:
		score = 3
	case model.PriorityLow:
		score = 1
	}
	if due.Sub(ref) < 24*time.Hour {
		score++
	}
	lower := strings.ToLower(description)
	for _, w := range urgentWords {
		if strings.Contains(lower, w) {
			score++
			break
		}
	}
	switch {
	case score >= 4:
		return model.PriorityHigh
	case score >= 2:
		return model.PriorityNormal
	}
	return model.PriorityLow
}
