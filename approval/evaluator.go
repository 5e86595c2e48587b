/*
evaluator.go - Rule verdicts from decision history

PURPOSE:
  Evaluate(config, history) is a pure function: the same (config, history)
  always yields the same Verdict. There is no clock and no I/O. The config is
  assumed to have passed ApprovalRule.Validate and to be bound to an expense
  (no ManagerRef left), so nothing here returns an error.

  Only the latest rule-gate decision of each approver counts. Manager-gate
  and override decisions are filtered out by the caller (see statemachine.go).

VARIANTS:
  Sequential       first unsatisfied step decides: rejected -> Rejected,
                   undecided -> Pending. Later steps are held until their turn.
  Percentage       approved*100 >= required*eligible -> Approved;
                   (eligible-rejected)*100 < required*eligible -> Rejected.
  SpecificApprover that approver's latest decision, else Pending.
  Hybrid           either path Approved -> Approved; specific Rejected ->
                   Rejected; percentage dead with no specific path -> Rejected.
*/
package approval

type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

func (v Verdict) IsTerminal() bool { return v != VerdictPending }

// latestDecisions maps each approver to their most recent action.
func latestDecisions(history []Decision) map[EmployeeID]Action {
	latest := make(map[EmployeeID]Action, len(history))
	for _, d := range history {
		latest[d.ApproverID] = d.Action
	}
	return latest
}

// Evaluate returns the verdict of config given the rule-gate history.
func Evaluate(config RuleConfig, history []Decision) Verdict {
	latest := latestDecisions(history)

	switch c := config.(type) {
	case Sequential:
		return evaluateSequential(c, latest)
	case Percentage:
		return evaluatePercentage(c, latest)
	case SpecificApprover:
		return evaluateSpecific(c, latest)
	case Hybrid:
		return evaluateHybrid(c, latest)
	default:
		return VerdictPending
	}
}

func evaluateSequential(c Sequential, latest map[EmployeeID]Action) Verdict {
	for _, step := range c.Steps {
		action, ok := latest[EmployeeID(step)]
		switch {
		case ok && action == ActionApproved:
			continue
		case ok && action == ActionRejected:
			return VerdictRejected
		default:
			return VerdictPending
		}
	}
	return VerdictApproved
}

// quorum tallies a Percentage configuration.
type quorum struct {
	eligible int
	approved int
	rejected int
	required int
}

func tally(c Percentage, latest map[EmployeeID]Action) quorum {
	q := quorum{eligible: len(c.Approvers), required: c.Required}
	for _, ref := range c.Approvers {
		switch latest[EmployeeID(ref)] {
		case ActionApproved:
			q.approved++
		case ActionRejected:
			q.rejected++
		}
	}
	return q
}

func (q quorum) reached() bool {
	return q.eligible > 0 && q.approved*100 >= q.required*q.eligible
}

// dead reports that even if every undecided approver approves, the quorum
// cannot be reached.
func (q quorum) dead() bool {
	return (q.eligible-q.rejected)*100 < q.required*q.eligible
}

func evaluatePercentage(c Percentage, latest map[EmployeeID]Action) Verdict {
	q := tally(c, latest)
	switch {
	case q.reached():
		return VerdictApproved
	case q.dead():
		return VerdictRejected
	default:
		return VerdictPending
	}
}

func evaluateSpecific(c SpecificApprover, latest map[EmployeeID]Action) Verdict {
	switch latest[EmployeeID(c.Approver)] {
	case ActionApproved:
		return VerdictApproved
	case ActionRejected:
		return VerdictRejected
	default:
		return VerdictPending
	}
}

func evaluateHybrid(c Hybrid, latest map[EmployeeID]Action) Verdict {
	specific := VerdictPending
	if c.Specific != nil {
		specific = evaluateSpecific(*c.Specific, latest)
	}
	if specific == VerdictApproved {
		return VerdictApproved
	}

	percentageDead := false
	if c.Percentage != nil {
		q := tally(*c.Percentage, latest)
		if q.reached() {
			return VerdictApproved
		}
		percentageDead = q.dead()
	}

	if specific == VerdictRejected {
		return VerdictRejected
	}
	// An undecided specific approver can still approve on their own.
	if c.Specific == nil && percentageDead {
		return VerdictRejected
	}
	return VerdictPending
}

// =============================================================================
// NEXT APPROVERS
// =============================================================================

// NextApprovers lists who can move a pending config forward: the current
// sequential step, the undecided members of a quorum, or the specific approver.
// It returns nil once the verdict is terminal.
func NextApprovers(config RuleConfig, history []Decision) []EmployeeID {
	if Evaluate(config, history).IsTerminal() {
		return nil
	}
	latest := latestDecisions(history)

	switch c := config.(type) {
	case Sequential:
		for _, step := range c.Steps {
			if latest[EmployeeID(step)] != ActionApproved {
				return []EmployeeID{EmployeeID(step)}
			}
		}
		return nil
	case Percentage:
		return undecided(c.Approvers, latest)
	case SpecificApprover:
		return []EmployeeID{EmployeeID(c.Approver)}
	case Hybrid:
		var refs []ApproverRef
		if c.Percentage != nil {
			refs = append(refs, c.Percentage.Approvers...)
		}
		if c.Specific != nil && !containsRef(refs, c.Specific.Approver) {
			refs = append(refs, c.Specific.Approver)
		}
		return undecided(refs, latest)
	default:
		return nil
	}
}

func undecided(refs []ApproverRef, latest map[EmployeeID]Action) []EmployeeID {
	var out []EmployeeID
	for _, ref := range refs {
		if _, ok := latest[EmployeeID(ref)]; !ok {
			out = append(out, EmployeeID(ref))
		}
	}
	return out
}
