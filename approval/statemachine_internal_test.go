package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecord_OverwritesSameApproverAndGate(t *testing.T) {
	h := record(nil, Decision{ApproverID: "a", Gate: GateRule, Action: ActionRejected})
	h = record(h, Decision{ApproverID: "b", Gate: GateRule, Action: ActionApproved})
	h = record(h, Decision{ApproverID: "a", Gate: GateRule, Action: ActionApproved})
	h = record(h, Decision{ApproverID: OverrideApprover, Gate: GateOverride, OverrideStatus: StatusApproved})
	h = record(h, Decision{ApproverID: OverrideApprover, Gate: GateOverride, OverrideStatus: StatusRejected})

	assert.Len(t, h, 4)
	assert.Equal(t, EmployeeID("a"), h[0].ApproverID)
	assert.Equal(t, ActionApproved, h[0].Action)
}

func TestRecord_ReopenStartsNewRound(t *testing.T) {
	h := record(nil, Decision{ApproverID: "a", Gate: GateRule, Action: ActionRejected})
	h = record(h, Decision{ApproverID: OverrideApprover, Gate: GateOverride, OverrideStatus: StatusPendingApproval})
	h = record(h, Decision{ApproverID: "a", Gate: GateRule, Action: ActionApproved})

	assert.Len(t, h, 3)
	assert.Equal(t, ActionRejected, h[0].Action)
	assert.Equal(t, 2, roundStart(h))
}
