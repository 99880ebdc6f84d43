package commitment

import (
	"fmt"
	"os"
	"regexp"

	"github.com/RMSTrucks/jakebot/internal/model"
	"gopkg.in/yaml.v3"
)

// Pattern is one compiled commitment rule. Expr must define a "when"
// named group; a "what" group is optional.
type Pattern struct {
	Type             string
	System           model.Target
	RequiresApproval bool
	Priority         model.Priority
	Expr             *regexp.Regexp
}

// PatternSpec is the YAML form of a Pattern.
type PatternSpec struct {
	Type             string `yaml:"type"`
	System           string `yaml:"system"`
	RequiresApproval bool   `yaml:"requires_approval"`
	Priority         string `yaml:"priority"`
	Pattern          string `yaml:"pattern"`
}

type patternFile struct {
	Patterns []PatternSpec `yaml:"patterns"`
}

const (
	subject = `\bI(?:'ll| will|'m going to| am going to) `
	by      = `by (?:today|tomorrow|tonight|noon|monday|tuesday|wednesday|thursday|friday|eod|cob|close of business|end of (?:the )?(?:day|week)|\d{1,2}(?::\d{2})?\s*(?:am|pm))`
	within  = `within (?:the hour|\d+ (?:business )?(?:days?|hours?|weeks?))`
	when    = `(?P<when>today|tomorrow|tonight|next week|next business day|end of (?:the )?(?:day|week)|soon|` + by + `|` + within + `|in \d+ (?:days?|weeks?))(?:\W|$)`
)

var builtinSpecs = []PatternSpec{
	// agency system
	{Type: "document_sending", System: "agency", Priority: "normal",
		Pattern: subject + `(?:send|email|forward) (?:you )?(?:the )?(?P<what>.*?)` + when},
	{Type: "policy_update", System: "agency", RequiresApproval: true, Priority: "high",
		Pattern: subject + `(?:update|modify|change) (?:the |your )?(?P<what>policy|coverage|limits?|deductible).*?` + when},
	{Type: "vehicle_update", System: "agency", RequiresApproval: true, Priority: "high",
		Pattern: subject + `(?:add|remove|update) (?:the |your )?(?P<what>vehicle|car|truck|auto).*?` + when},
	{Type: "coverage_adjustment", System: "agency", RequiresApproval: true, Priority: "high",
		Pattern: subject + `(?:increase|decrease|adjust) (?:the |your )?(?P<what>coverage limits?|liability limits?|deductible amounts?).*?` + when},
	{Type: "endorsement", System: "agency", RequiresApproval: true, Priority: "high",
		Pattern: subject + `(?:add|process) (?:the |an )?(?P<what>endorsement|policy change|rider).*?` + when},
	{Type: "certificate", System: "agency", Priority: "high",
		Pattern: subject + `(?:send|prepare|issue) (?:the |a )?(?P<what>certificate of insurance|COI|proof of insurance).*?` + when},

	// crm
	{Type: "follow_up", System: "crm", Priority: "normal",
		Pattern: subject + `(?:call|contact|follow up with|get back to|reach out to) (?:you )?(?:back )?(?:about )?(?P<what>.*?)` + when},
	{Type: "research", System: "crm", Priority: "normal",
		Pattern: subject + `(?:look into|research|check on|verify) (?:the )?(?P<what>.*?)` + when},
	{Type: "review", System: "crm", Priority: "normal",
		Pattern: subject + `(?:review|go over) (?:the )?(?P<what>.*?)` + when},
	{Type: "quote", System: "crm", Priority: "normal",
		Pattern: subject + `(?:prepare|put together|run|work up) (?:a |the |your |you a )?(?P<what>(?:new |renewal )?(?:quotes?|estimates?)).*?` + when},
}

// DefaultPatterns returns the built-in insurance and CRM rules, insurance first.
func DefaultPatterns() []Pattern {
	out, err := CompilePatterns(builtinSpecs)
	if err != nil {
		panic(err)
	}
	return out
}

// CompilePatterns validates and compiles specs. Matching is case-insensitive.
func CompilePatterns(specs []PatternSpec) ([]Pattern, error) {
	out := make([]Pattern, 0, len(specs))
	for i, s := range specs {
		if s.Type == "" {
			return nil, fmt.Errorf("pattern %d: type is required", i)
		}
		system, err := model.ParseTarget(s.System)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", s.Type, err)
		}
		priority := model.Priority(s.Priority)
		switch priority {
		case model.PriorityLow, model.PriorityNormal, model.PriorityHigh:
		case "":
			priority = model.PriorityNormal
		default:
			return nil, fmt.Errorf("pattern %s: unknown priority %q", s.Type, s.Priority)
		}
		expr, err := regexp.Compile(`(?i)` + s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", s.Type, err)
		}
		if expr.SubexpIndex("when") < 0 {
			return nil, fmt.Errorf("pattern %s: missing named group \"when\"", s.Type)
		}
		out = append(out, Pattern{
			Type:             s.Type,
			System:           system,
			RequiresApproval: s.RequiresApproval,
			Priority:         priority,
			Expr:             expr,
		})
	}
	return out, nil
}

// LoadPatterns reads extra rules from a YAML file and appends them to the
// built-in set.
func LoadPatterns(path string) ([]Pattern, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns: %w", err)
	}
	var f patternFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode patterns: %w", err)
	}
	extra, err := CompilePatterns(f.Patterns)
	if err != nil {
		return nil, err
	}
	return append(DefaultPatterns(), extra...), nil
}
