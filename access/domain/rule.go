package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

type RuleType string

const (
	RuleAllow RuleType = "allow"
	RuleBlock RuleType = "block"
)

var (
	ErrRuleNotFound        = errors.New("access rule not found")
	ErrRuleExists          = errors.New("access rule already exists for this pattern and scope")
	ErrInvalidRule         = errors.New("invalid access rule")
	ErrBarePatternWildcard = errors.New("pattern \"*\" alone is not allowed")
)

// AccessRule is an allow/block entry. An empty InstanceName means the rule
// is global. PhonePattern is either an exact normalized phone or a digit
// prefix ending in '*'.
type AccessRule struct {
	ID           uint      `json:"id"`
	PhonePattern string    `json:"phone_pattern"`
	RuleType     RuleType  `json:"rule_type"`
	InstanceName string    `json:"instance_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsPrefix reports whether the pattern is a prefix rule.
func (r AccessRule) IsPrefix() bool {
	return strings.HasSuffix(r.PhonePattern, "*")
}

// Scoped reports whether the rule is bound to a single instance.
func (r AccessRule) Scoped() bool {
	return r.InstanceName != ""
}

// NormalizePhone strips everything but digits. Patterns keep a trailing '*'.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// PatternDigits returns the digit part of a pattern: the prefix digits for
// wildcard rules, the whole normalized phone otherwise. "+*" yields "".
func (r AccessRule) PatternDigits() string {
	if r.IsPrefix() {
		return NormalizePhone(strings.TrimSuffix(r.PhonePattern, "*"))
	}
	return NormalizePhone(r.PhonePattern)
}

type IAccessRuleRepository interface {
	Init(ctx context.Context) error
	// Candidates returns all rules scoped to the instance plus all global rules.
	Candidates(ctx context.Context, instanceName string) ([]AccessRule, error)
	List(ctx context.Context, instanceName string) ([]AccessRule, error)
	Create(ctx context.Context, rule AccessRule) (AccessRule, error)
	Delete(ctx context.Context, id uint) error
}
