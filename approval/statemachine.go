/*
statemachine.go - Per-expense approval state

STATES:
  draft -> pending_manager_gate -> pending_rule_evaluation -> approved -> paid
                 |                          |
                 +--------> rejected <------+

  pending_manager_gate is entered only when the rule requires manager
  approval and the submitter has a manager. A manager reject is a veto.

DERIVATION:
  The stage is never stored as a source of truth. Replay walks the history
  in order and recomputes it:
    - manager-gate decisions clear or veto the gate
    - rule decisions are accumulated and the rule is re-evaluated after each
      one; the first terminal verdict sticks
    - override decisions force the stage
    - payment decisions move approved -> paid

  Walking the history in order is what makes approval sticky: once a quorum
  is reached, a later decision cannot undo it.
*/
package approval

import (
	"time"
)

// gateRequired reports whether the manager gate applies to this expense.
func gateRequired(rule *ApprovalRule, manager EmployeeID) bool {
	return rule != nil && rule.RequireManagerApproval && manager != ""
}

// initialStage is the stage an expense enters on submit.
func initialStage(rule *ApprovalRule, manager EmployeeID) Stage {
	if gateRequired(rule, manager) {
		return StagePendingManagerGate
	}
	return StagePendingRuleEvaluation
}

// Replay derives the stage of a submitted expense from its bound rule and history.
func Replay(rule *ApprovalRule, manager EmployeeID, history []Decision) Stage {
	stage := initialStage(rule, manager)
	var config RuleConfig
	var approvers []ApproverRef
	if rule != nil {
		config = rule.Config
		approvers = config.Approvers()
	}

	var ruleHistory []Decision
	for _, d := range history {
		switch d.Gate {
		case GateOverride:
			if isReopen(d) {
				stage = initialStage(rule, manager)
				ruleHistory = nil
				continue
			}
			stage = stageFor(d.OverrideStatus)
			continue
		case GatePayment:
			if stage == StageApproved {
				stage = StagePaid
			}
			continue
		}

		if stage.IsTerminal() {
			continue
		}

		switch d.Gate {
		case GateManager:
			if stage != StagePendingManagerGate || d.ApproverID != manager {
				continue
			}
			if d.Action == ActionRejected {
				stage = StageRejected
				continue
			}
			stage = StagePendingRuleEvaluation
			// The manager's gate approval also counts as their rule decision
			// when they are one of the rule's approvers.
			if containsRef(approvers, ApproverRef(manager)) {
				ruleHistory = append(ruleHistory, Decision{ApproverID: manager, Gate: GateRule, Action: ActionApproved, At: d.At})
			}
		case GateRule:
			ruleHistory = append(ruleHistory, d)
		}

		if stage == StagePendingRuleEvaluation && config != nil {
			switch Evaluate(config, ruleHistory) {
			case VerdictApproved:
				stage = StageApproved
			case VerdictRejected:
				stage = StageRejected
			}
		}
	}
	return stage
}

// RuleHistory returns the decisions the evaluator sees for e: rule-gate
// decisions plus the manager's gate approval when the manager is an approver.
func RuleHistory(e *Expense) []Decision {
	var approvers []ApproverRef
	if e.MatchedRule != nil && e.MatchedRule.Config != nil {
		approvers = e.MatchedRule.Config.Approvers()
	}
	var out []Decision
	for _, d := range e.History[roundStart(e.History):] {
		switch {
		case d.Gate == GateRule:
			out = append(out, d)
		case d.Gate == GateManager && d.Action == ActionApproved && d.ApproverID == e.ManagerID &&
			containsRef(approvers, ApproverRef(e.ManagerID)):
			out = append(out, Decision{ApproverID: d.ApproverID, Gate: GateRule, Action: ActionApproved, At: d.At})
		}
	}
	return out
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// CurrentGate returns the gate an incoming decision would be recorded
// against and the approvers eligible for it.
func CurrentGate(e *Expense) (Gate, []EmployeeID) {
	switch e.Stage {
	case StagePendingManagerGate:
		return GateManager, []EmployeeID{e.ManagerID}
	case StagePendingRuleEvaluation:
		if e.MatchedRule == nil || e.MatchedRule.Config == nil {
			return GateRule, nil
		}
		refs := e.MatchedRule.Config.Approvers()
		out := make([]EmployeeID, len(refs))
		for i, r := range refs {
			out[i] = EmployeeID(r)
		}
		return GateRule, out
	default:
		return "", nil
	}
}

// Waiting returns who must act next on e, or nil once it is resolved.
func Waiting(e *Expense) []EmployeeID {
	switch e.Stage {
	case StagePendingManagerGate:
		return []EmployeeID{e.ManagerID}
	case StagePendingRuleEvaluation:
		if e.MatchedRule == nil || e.MatchedRule.Config == nil {
			return nil
		}
		return NextApprovers(e.MatchedRule.Config, RuleHistory(e))
	default:
		return nil
	}
}

// record appends d to the history, replacing the approver's earlier decision
// on the same gate in place. Overrides and payments always append.
func record(history []Decision, d Decision) []Decision {
	if d.Gate == GateManager || d.Gate == GateRule {
		for i := roundStart(history); i < len(history); i++ {
			if history[i].Gate == d.Gate && history[i].ApproverID == d.ApproverID {
				history[i] = d
				return history
			}
		}
	}
	return append(history, d)
}

// apply records d on e and re-derives the stage, status and resolution time.
func apply(e *Expense, d Decision, now time.Time) {
	e.History = record(e.History, d)
	resync(e, now)
}

func resync(e *Expense, now time.Time) {
	before := e.Stage
	e.Stage = Replay(e.MatchedRule, e.ManagerID, e.History)
	e.Status = e.Stage.Status()
	e.UpdatedAt = now

	if e.Stage.IsTerminal() && !before.IsTerminal() {
		e.ResolvedAt = &now
	}
	if !e.Stage.IsTerminal() {
		e.ResolvedAt = nil
	}
	switch {
	case e.Stage == StagePaid && e.PaidAt == nil:
		e.PaidAt = &now
	case e.Stage != StagePaid:
		e.PaidAt = nil
	}
}

// isReopen reports whether d sends the expense back for a fresh round of
// approvals.
func isReopen(d Decision) bool {
	return d.Gate == GateOverride && d.OverrideStatus == StatusPendingApproval
}

// roundStart is the index of the first decision after the latest reopen.
// Earlier decisions no longer count toward the rule.
func roundStart(history []Decision) int {
	for i := len(history) - 1; i >= 0; i-- {
		if isReopen(history[i]) {
			return i + 1
		}
	}
	return 0
}
