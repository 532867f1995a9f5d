package rules

import (
	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/store"
)

// matchPredicate evaluates one typed condition term against the action's
// context fields. A missing field never matches.
func matchPredicate(p store.Predicate, params map[string]any) bool {
	v, ok := params[p.Field]
	if !ok {
		return false
	}

	switch p.Op {
	case store.OpEq:
		return looseEqual(v, p.Value)
	case store.OpNeq:
		return !looseEqual(v, p.Value)
	case store.OpGt, store.OpGte, store.OpLt, store.OpLte:
		a, aok := model.ToFloat(v)
		b, bok := model.ToFloat(p.Value)
		if !aok || !bok {
			return false
		}
		switch p.Op {
		case store.OpGt:
			return a > b
		case store.OpGte:
			return a >= b
		case store.OpLt:
			return a < b
		default:
			return a <= b
		}
	case store.OpIn:
		for _, candidate := range p.Values {
			if looseEqual(v, candidate) {
				return true
			}
		}
		return false
	default:
		// Unknown ops are rejected at config write time; treat a stale
		// one as non-matching rather than guessing.
		return false
	}
}

// looseEqual compares values across the numeric types JSON and YAML
// decoding produce. Strings and bools compare directly.
func looseEqual(a, b any) bool {
	if af, aok := model.ToFloat(a); aok {
		if bf, bok := model.ToFloat(b); bok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

// ruleMatches reports whether every condition of the rule holds for the
// action, and how specific the match is (number of matched predicate
// terms, plus one for a non-wildcard action type).
func ruleMatches(rule store.ActionRule, action model.ProposedAction) (bool, int) {
	specificity := 0
	if rule.ActionType != "*" {
		if rule.ActionType != action.Type {
			return false, 0
		}
		specificity++
	}
	for _, p := range rule.When {
		if !matchPredicate(p, action.Params) {
			return false, 0
		}
		specificity++
	}
	return true, specificity
}
