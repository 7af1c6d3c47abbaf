package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opsignal/responder/internal/models"
)

// RuleEngine scores incidents against an operator-maintained YAML rule pack.
// It is the generic fallback scorer: broadly applicable, modest confidence.
type RuleEngine struct {
	rules []Rule
}

// Rule represents a single diagnosis rule.
type Rule struct {
	ID         string       `yaml:"id"`
	Match      RuleMatch    `yaml:"match"`
	RootCause  string       `yaml:"rootCause"`
	Confidence float64      `yaml:"confidence"`
	Actions    []RuleAction `yaml:"actions"`
}

// RuleMatch defines optional attributes for rule matching. All set fields
// must match.
type RuleMatch struct {
	Source              string   `yaml:"source"`
	EventType           string   `yaml:"eventType"`
	DescriptionContains []string `yaml:"descriptionContains"`
	MinSeverity         float64  `yaml:"minSeverity"`
}

// RuleAction names a suggested action emitted by a matching rule.
type RuleAction struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// ruleConfigFile is the YAML root structure.
type ruleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. A missing file yields an
// engine with no rules, which reports itself unavailable at analysis time.
func NewRuleEngine(path string) (*RuleEngine, error) {
	if path == "" {
		return &RuleEngine{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &RuleEngine{}, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	var cfg ruleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	return &RuleEngine{rules: cfg.Rules}, nil
}

// NewRuleEngineFromRules builds an engine from in-memory rules.
func NewRuleEngineFromRules(rules []Rule) *RuleEngine {
	return &RuleEngine{rules: rules}
}

func (e *RuleEngine) Kind() Kind {
	return KindRuleBased
}

// Analyze matches every rule against the incident's signals and keeps the
// highest-confidence match.
func (e *RuleEngine) Analyze(ctx context.Context, incident *models.Incident, signals []*models.Signal) (PartialVerdict, error) {
	if len(e.rules) == 0 {
		return PartialVerdict{}, fmt.Errorf("no rule pack loaded: %w", models.ErrEngineUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return PartialVerdict{}, err
	}

	var best *Rule
	for i := range e.rules {
		rule := &e.rules[i]
		if !ruleMatches(rule.Match, signals) {
			continue
		}
		if best == nil || rule.Confidence > best.Confidence {
			best = rule
		}
	}
	if best == nil {
		return PartialVerdict{}, fmt.Errorf("no rule matched: %w", models.ErrEngineUnavailable)
	}

	verdict := PartialVerdict{
		Engine:     KindRuleBased,
		RootCause:  best.RootCause,
		Confidence: best.Confidence,
		Rationale:  "rule " + best.ID,
	}
	for _, action := range best.Actions {
		actionType := models.ActionType(action.Type)
		verdict.SuggestedActions = append(verdict.SuggestedActions, models.SuggestedAction{
			Type:        actionType,
			Target:      actionTarget(actionType, incident, signals),
			Description: action.Description,
		})
	}
	return verdict, nil
}

func ruleMatches(match RuleMatch, signals []*models.Signal) bool {
	for _, sig := range signals {
		if match.Source != "" && !strings.EqualFold(match.Source, string(sig.Source)) {
			continue
		}
		if match.EventType != "" && !strings.EqualFold(match.EventType, sig.EventType) {
			continue
		}
		if match.MinSeverity > 0 && sig.Severity < match.MinSeverity {
			continue
		}
		if len(match.DescriptionContains) > 0 && !descriptionContains(match.DescriptionContains, sig.Description) {
			continue
		}
		return true
	}
	return false
}

func descriptionContains(keywords []string, description string) bool {
	lower := strings.ToLower(description)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
