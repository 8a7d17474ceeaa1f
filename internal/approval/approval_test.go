package approval

import (
	"testing"
	"time"

	"github.com/opsgate/opsgate/internal/preferences"
	"github.com/opsgate/opsgate/internal/risk"
)

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, *preferences.Store) {
	t.Helper()
	store, err := preferences.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(store, Config{Timeout: timeout, Learn: true, AutoApproveSafe: true}), store
}

func samplePlan(command string) []PlannedCommand {
	return []PlannedCommand{{Command: command, Kind: "shell"}}
}

func TestRequiresApprovalSafeNeverAsks(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	if m.RequiresApproval(risk.Report{Tier: risk.TierSafe, HeadCommand: "ls"}, "alice") {
		t.Error("expected safe tier to never require approval")
	}
}

func TestRequiresApprovalSafeStillAsksWithoutAutoApproveSafe(t *testing.T) {
	store, err := preferences.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := New(store, Config{Timeout: time.Minute, AutoApproveSafe: false})
	if !m.RequiresApproval(risk.Report{Tier: risk.TierSafe, HeadCommand: "ls"}, "alice") {
		t.Error("expected safe tier to require approval when auto_approve_safe is off")
	}
}

func TestRequiresApprovalSafeRespectsExplicitDeny(t *testing.T) {
	m, store := newTestManager(t, time.Minute)
	for i := 0; i < 4; i++ {
		store.Learn("alice", "fp-deny", "ls", "ls /secret", nil, false, "")
	}
	if !m.RequiresApproval(risk.Report{Tier: risk.TierSafe, HeadCommand: "ls", Fingerprint: "fp-deny"}, "alice") {
		t.Error("expected a prior explicit deny to still require approval even for a safe-tier command")
	}
}

func TestRequiresApprovalCriticalAlwaysAsks(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	if !m.RequiresApproval(risk.Report{Tier: risk.TierCritical}, "alice") {
		t.Error("expected critical tier to always require approval")
	}
}

func TestRequiresApprovalLearnedAutoApprove(t *testing.T) {
	m, store := newTestManager(t, time.Minute)
	for i := 0; i < 4; i++ {
		store.Learn("alice", "fp-other", "kubectl", "kubectl get pods", nil, true, "")
	}
	if m.RequiresApproval(risk.Report{Tier: risk.TierMedium, HeadCommand: "kubectl", Fingerprint: "unrelated-fp"}, "alice") {
		t.Error("expected learned auto-approve to skip approval")
	}
}

func TestResolveAtMostOnce(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	pa := m.RequestApproval("kubectl apply -f x.yaml", "alice", risk.TierMedium, "fp1", "kubectl", samplePlan("kubectl apply -f x.yaml"))

	_, ok := m.Resolve(pa.ID, true, "")
	if !ok {
		t.Fatal("expected first resolve to succeed")
	}
	_, ok2 := m.Resolve(pa.ID, false, "")
	if ok2 {
		t.Error("expected second resolve on the same id to fail")
	}
}

func TestResolveCarriesValidatedPlan(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	plan := []PlannedCommand{{Command: "chown root /tmp/foo", Kind: "shell"}}
	pa := m.RequestApproval("fix ownership", "alice", risk.TierHigh, "fp1", "chown", plan)

	resolved, ok := m.Resolve(pa.ID, true, "")
	if !ok {
		t.Fatal("expected resolve to succeed")
	}
	if len(resolved.Plan) != 1 || resolved.Plan[0].Command != "chown root /tmp/foo" {
		t.Errorf("expected resolved approval to carry the validated plan, got %+v", resolved.Plan)
	}
}

func TestApprovalExpires(t *testing.T) {
	expired := make(chan string, 1)
	store, err := preferences.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := New(store, Config{
		Timeout: 50 * time.Millisecond,
		OnExpire: func(pa *PendingApproval) {
			expired <- pa.ID
		},
	})

	pa := m.RequestApproval("rm -rf build/", "alice", risk.TierHigh, "fp1", "rm", samplePlan("rm -rf build/"))

	select {
	case id := <-expired:
		if id != pa.ID {
			t.Errorf("expected expiry callback for %s, got %s", pa.ID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected approval to expire")
	}

	got, ok := m.Get(pa.ID)
	if !ok || got.Status != StatusExpired {
		t.Errorf("expected status expired, got %+v ok=%v", got, ok)
	}
}

func TestListOnlyReturnsPending(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	pa1 := m.RequestApproval("cmd1", "alice", risk.TierMedium, "fp1", "cmd1", samplePlan("cmd1"))
	m.RequestApproval("cmd2", "alice", risk.TierMedium, "fp2", "cmd2", samplePlan("cmd2"))
	m.Resolve(pa1.ID, true, "")

	pending := m.List()
	if len(pending) != 1 {
		t.Errorf("expected 1 pending approval, got %d", len(pending))
	}
}
