// Package routing resolves which template steps become active after a
// step finishes. It is a pure component: no repositories, no clock.
package routing

import "github.com/workstream-io/workstream/internal/domain/entity"

// NextStepIDs computes the set of next step ids to activate after the
// given step definition finishes, in this precedence:
//
//  1. every transition whose condition holds fires (multiple
//     simultaneously-true conditions fan out in parallel; this is a
//     deliberate permissive policy, not an error)
//  2. if nothing fired, the step is a decision and a decision value was
//     supplied, a transition whose condition literally equals the
//     decision value fires alone
//  3. if still nothing fired and transitions exist, the first transition
//     is the default path
//  4. otherwise the set is empty and the process completes
func NextStepIDs(def *entity.StepDefinition, step *entity.StepInstance, decision string) []string {
	if def == nil || len(def.NextSteps) == 0 {
		return nil
	}

	var next []string
	for _, t := range def.NextSteps {
		if EvaluateCondition(t.Condition, step, decision) {
			next = append(next, t.StepID)
		}
	}
	if len(next) > 0 {
		return next
	}

	if def.Type == entity.StepTypeDecision && decision != "" {
		for _, t := range def.NextSteps {
			if t.Condition == decision {
				return []string{t.StepID}
			}
		}
	}

	return []string{def.NextSteps[0].StepID}
}

// EvaluateCondition evaluates a transition condition. The language is
// deliberately literal: an empty condition or the string "true" always
// holds, and otherwise the condition holds only when it equals the
// supplied decision value exactly. There is no expression grammar.
func EvaluateCondition(condition string, _ *entity.StepInstance, decision string) bool {
	if condition == "" || condition == "true" {
		return true
	}
	return decision != "" && condition == decision
}
