package usecase

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/automagik/omni/access/domain"
)

// Decision is the outcome of an access check.
type Decision struct {
	Allowed     bool               `json:"allowed"`
	MatchedRule *domain.AccessRule `json:"matched_rule,omitempty"`
}

// Engine decides allow/deny for a (phone, instance) pair from the layered
// rule set. The decision is a pure function of the current rules.
type Engine struct {
	repo domain.IAccessRuleRepository
}

func NewEngine(repo domain.IAccessRuleRepository) *Engine {
	return &Engine{repo: repo}
}

// Check evaluates the rules for the given sender against the instance
// scope. An empty phone (no digits) short-circuits to allow.
func (e *Engine) Check(ctx context.Context, phone, instanceName string) (Decision, error) {
	normalized := domain.NormalizePhone(phone)
	if normalized == "" {
		return Decision{Allowed: true}, nil
	}

	rules, err := e.repo.Candidates(ctx, instanceName)
	if err != nil {
		return Decision{}, err
	}

	var best *domain.AccessRule
	for i := range rules {
		if !matches(rules[i], normalized) {
			continue
		}
		if best == nil || moreSpecific(rules[i], *best) {
			best = &rules[i]
		}
	}

	if best != nil {
		allowed := best.RuleType == domain.RuleAllow
		logrus.WithFields(logrus.Fields{
			"instance": instanceName,
			"phone":    normalized,
			"rule_id":  best.ID,
			"allowed":  allowed,
		}).Debug("[ACCESS] Rule matched")
		return Decision{Allowed: allowed, MatchedRule: best}, nil
	}

	// No match: allowlist posture denies unknown senders when any allow
	// rule exists in scope; otherwise default-open.
	for _, r := range rules {
		if r.RuleType == domain.RuleAllow {
			return Decision{Allowed: false}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// AddRule validates and stores a rule. The pattern is kept as supplied
// ("+*" is a valid match-all prefix) but a bare "*" is rejected.
func (e *Engine) AddRule(ctx context.Context, rule domain.AccessRule) (domain.AccessRule, error) {
	rule.PhonePattern = strings.TrimSpace(rule.PhonePattern)
	if rule.PhonePattern == "" || rule.PhonePattern == "*" {
		return domain.AccessRule{}, domain.ErrBarePatternWildcard
	}
	if rule.RuleType != domain.RuleAllow && rule.RuleType != domain.RuleBlock {
		return domain.AccessRule{}, domain.ErrInvalidRule
	}
	return e.repo.Create(ctx, rule)
}

func (e *Engine) ListRules(ctx context.Context, instanceName string) ([]domain.AccessRule, error) {
	return e.repo.List(ctx, instanceName)
}

func (e *Engine) DeleteRule(ctx context.Context, id uint) error {
	return e.repo.Delete(ctx, id)
}

func matches(rule domain.AccessRule, phone string) bool {
	if rule.IsPrefix() {
		return strings.HasPrefix(phone, rule.PatternDigits())
	}
	return rule.PatternDigits() == phone
}

// moreSpecific reports whether a wins over b. Tiers: instance-scoped over
// global, exact over prefix, longer pattern over shorter, lowest id last.
func moreSpecific(a, b domain.AccessRule) bool {
	if a.Scoped() != b.Scoped() {
		return a.Scoped()
	}
	aExact, bExact := !a.IsPrefix(), !b.IsPrefix()
	if aExact != bExact {
		return aExact
	}
	aLen, bLen := len(a.PatternDigits()), len(b.PatternDigits())
	if aLen != bLen {
		return aLen > bLen
	}
	// Same tier and length: block beats allow, then lowest id.
	if a.RuleType != b.RuleType {
		return a.RuleType == domain.RuleBlock
	}
	return a.ID < b.ID
}
