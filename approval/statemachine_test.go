package approval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-engine/approval"
)

func gateDecision(who approval.EmployeeID, action approval.Action) approval.Decision {
	return approval.Decision{ApproverID: who, Gate: approval.GateManager, Action: action, At: fixedNow}
}

func overrideDecision(status approval.Status) approval.Decision {
	action := approval.ActionApproved
	if status == approval.StatusRejected {
		action = approval.ActionRejected
	}
	return approval.Decision{
		ApproverID: approval.OverrideApprover, ActorID: admin,
		Gate: approval.GateOverride, Action: action, OverrideStatus: status, At: fixedNow,
	}
}

func TestReplay_ManagerGate(t *testing.T) {
	rule := &approval.ApprovalRule{
		ID:                     "r",
		RequireManagerApproval: true,
		Config:                 approval.SpecificApprover{Approver: approval.ApproverRef(cfo)},
	}

	// GIVEN: no decisions
	assert.Equal(t, approval.StagePendingManagerGate, approval.Replay(rule, manager, nil))

	// WHEN: the manager approves, THEN the rule takes over
	assert.Equal(t, approval.StagePendingRuleEvaluation,
		approval.Replay(rule, manager, history(gateDecision(manager, approved))))

	// WHEN: the manager rejects, THEN the veto is final
	assert.Equal(t, approval.StageRejected,
		approval.Replay(rule, manager, history(gateDecision(manager, rejected), ruleDecision(cfo, approved))))

	// WHEN: the rule approver acts before the gate clears, THEN it is held
	assert.Equal(t, approval.StageApproved,
		approval.Replay(rule, manager, history(ruleDecision(cfo, approved), gateDecision(manager, approved))))

	// WHEN: there is no manager, THEN the gate is skipped
	assert.Equal(t, approval.StagePendingRuleEvaluation, approval.Replay(rule, "", nil))
}

func TestReplay_ManagerGateApprovalCountsWhenManagerIsApprover(t *testing.T) {
	// GIVEN: a sequential rule whose first step is the manager, behind the gate
	rule := &approval.ApprovalRule{
		ID:                     "r",
		RequireManagerApproval: true,
		Config:                 approval.Sequential{Steps: refs(manager, admin)},
	}

	// WHEN: the manager clears the gate
	stage := approval.Replay(rule, manager, history(gateDecision(manager, approved)))

	// THEN: step one is satisfied too, and only the admin remains
	assert.Equal(t, approval.StagePendingRuleEvaluation, stage)
	e := &approval.Expense{MatchedRule: rule, ManagerID: manager, Stage: stage, History: history(gateDecision(manager, approved))}
	assert.Equal(t, []approval.EmployeeID{admin}, approval.Waiting(e))
}

func TestReplay_ApprovalIsSticky(t *testing.T) {
	// GIVEN: a hybrid rule whose quorum is reached before the specific approver rejects
	rule := &approval.ApprovalRule{
		ID: "hybrid",
		Config: approval.Hybrid{
			Percentage: &approval.Percentage{Approvers: refs(admin, director), Required: 50},
			Specific:   &approval.SpecificApprover{Approver: approval.ApproverRef(cfo)},
		},
	}
	h := history(ruleDecision(admin, approved), ruleDecision(cfo, rejected))

	// THEN: the first terminal verdict wins
	assert.Equal(t, approval.StageApproved, approval.Replay(rule, "", h))

	// AND: the reverse order rejects
	h = history(ruleDecision(cfo, rejected), ruleDecision(admin, approved))
	assert.Equal(t, approval.StageRejected, approval.Replay(rule, "", h))
}

func TestReplay_PercentageApprovalDoesNotFlipBack(t *testing.T) {
	rule := &approval.ApprovalRule{ID: "p", Config: approval.Percentage{Approvers: refs(admin, cfo, director), Required: 60}}

	h := history(ruleDecision(admin, approved), ruleDecision(cfo, approved))
	assert.Equal(t, approval.StageApproved, approval.Replay(rule, "", h))

	// A later change of mind cannot undo a reached quorum.
	h = append(h, ruleDecision(cfo, rejected), ruleDecision(director, rejected))
	assert.Equal(t, approval.StageApproved, approval.Replay(rule, "", h))
}

func TestReplay_OverrideAndPayment(t *testing.T) {
	rule := &approval.ApprovalRule{ID: "s", Config: approval.SpecificApprover{Approver: approval.ApproverRef(cfo)}}

	// Override forces the stage from anywhere.
	assert.Equal(t, approval.StageApproved, approval.Replay(rule, "", history(overrideDecision(approval.StatusApproved))))
	assert.Equal(t, approval.StageRejected, approval.Replay(rule, "", history(
		ruleDecision(cfo, approved), overrideDecision(approval.StatusRejected),
	)))
	assert.Equal(t, approval.StagePaid, approval.Replay(rule, "", history(overrideDecision(approval.StatusPaid))))

	// Payment applies only after approval.
	pay := approval.Decision{ApproverID: admin, Gate: approval.GatePayment, Action: approved, At: fixedNow}
	assert.Equal(t, approval.StagePaid, approval.Replay(rule, "", history(ruleDecision(cfo, approved), pay)))
	assert.Equal(t, approval.StagePendingRuleEvaluation, approval.Replay(rule, "", history(pay)))
}

func TestReplay_ReopenStartsNewRound(t *testing.T) {
	rule := &approval.ApprovalRule{
		ID:                     "r",
		RequireManagerApproval: true,
		Config:                 approval.Percentage{Approvers: refs(admin, cfo, director), Required: 60},
	}
	before := []approval.Decision{
		gateDecision(manager, approved),
		ruleDecision(admin, approved),
		ruleDecision(cfo, approved),
	}
	require.Equal(t, approval.StageApproved, approval.Replay(rule, manager, before))

	// GIVEN: the expense is reopened
	reopened := append(append([]approval.Decision{}, before...), overrideDecision(approval.StatusPendingApproval))

	// THEN: the manager gate applies again
	assert.Equal(t, approval.StagePendingManagerGate, approval.Replay(rule, manager, reopened))

	// WHEN: the gate passes and one approver re-approves
	reopened = append(reopened, gateDecision(manager, approved), ruleDecision(admin, approved))

	// THEN: approvals from the previous round do not complete the quorum
	assert.Equal(t, approval.StagePendingRuleEvaluation, approval.Replay(rule, manager, reopened))
}

func TestStage_Status(t *testing.T) {
	assert.Equal(t, approval.StatusPendingApproval, approval.StagePendingManagerGate.Status())
	assert.Equal(t, approval.StatusPendingApproval, approval.StagePendingRuleEvaluation.Status())
	assert.Equal(t, approval.StatusApproved, approval.StageApproved.Status())
	assert.Equal(t, approval.StatusPaid, approval.StagePaid.Status())
	assert.True(t, approval.StageRejected.IsTerminal())
	assert.False(t, approval.StageDraft.IsTerminal())
}
