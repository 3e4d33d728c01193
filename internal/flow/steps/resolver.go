// Package steps resolves which wizard step a citizen must complete next.
//
// Routing is forward-chaining over an ordered rule chain: state is implicit
// in which document fields are populated, and the first rule that names a
// step wins. Resolution is pure: no I/O, no clock, no randomness.
package steps

import (
	"portal/internal/flow/document"
	"portal/pkg/domain"
)

// Outcome is what one rule decides. An empty Next means the rule's concern
// is satisfied and evaluation moves on. StepValid describes the step the
// user is currently viewing, not the step Next names; callers use it to
// disable confirmation actions when upstream data is known stale.
type Outcome struct {
	Next      domain.StepKey
	StepValid bool
}

// Continue is the outcome of a satisfied rule.
func Continue() Outcome {
	return Outcome{Next: domain.NoStep, StepValid: true}
}

// Redirect stops routing at step.
func Redirect(step domain.StepKey, stepValid bool) Outcome {
	return Outcome{Next: step, StepValid: stepValid}
}

// Rule is a total function of the document: it must not fail or panic on
// documents missing fields it does not care about.
type Rule interface {
	Evaluate(doc document.Document) Outcome
}

// RuleFunc adapts a plain function to Rule, for genuinely flow-specific logic.
type RuleFunc func(doc document.Document) Outcome

func (f RuleFunc) Evaluate(doc document.Document) Outcome {
	return f(doc)
}

// Chain is an ordered rule sequence. Order encodes precedence and is part of
// a flow's configuration.
type Chain []Rule

// Resolution is the routing result. Key is empty when the chain is exhausted.
// Rule names the rule that stopped routing when that rule is named.
type Resolution struct {
	Key         domain.StepKey
	IsStepValid bool
	Rule        string
}

// Done reports whether the flow has no outstanding required step.
func (r Resolution) Done() bool {
	return r.Key.IsNone()
}

type named interface {
	Name() string
}

// Resolve walks chain in order and returns the first rule outcome that names
// a step. When every rule continues the result is (none, true).
func Resolve(chain Chain, doc document.Document) Resolution {
	for _, rule := range chain {
		out := rule.Evaluate(doc)
		if out.Next.IsNone() {
			continue
		}
		res := Resolution{Key: out.Next, IsStepValid: out.StepValid}
		if n, ok := rule.(named); ok {
			res.Rule = n.Name()
		}
		return res
	}
	return Resolution{Key: domain.NoStep, IsStepValid: true}
}
