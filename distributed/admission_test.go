package distributed

import "testing"

func TestAdmission_AllowsWithinBudgetDeniesOverBudget(t *testing.T) {
	a := newAdmission()
	addr := "10.0.0.5:9"

	allowed := 0
	for i := 0; i < 10; i++ {
		if a.allowPing(addr) {
			allowed++
		}
	}
	if allowed == 0 {
		t.Fatal("expected at least one ping to be admitted")
	}
	if allowed >= 10 {
		t.Fatal("expected the per-second ping budget to reject some of 10 rapid pings")
	}
}

func TestAdmission_SeparatePeersHaveSeparateBudgets(t *testing.T) {
	a := newAdmission()
	if !a.allowConn("10.0.0.1:1") {
		t.Fatal("first connection from peer 1 should be admitted")
	}
	if !a.allowConn("10.0.0.2:1") {
		t.Fatal("first connection from peer 2 should be admitted regardless of peer 1's budget")
	}
}
