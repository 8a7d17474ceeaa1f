package job

import (
	"context"
	"testing"
	"time"

	"github.com/opsgate/opsgate/internal/approval"
	"github.com/opsgate/opsgate/internal/modelgateway"
	"github.com/opsgate/opsgate/internal/modelrouter"
	"github.com/opsgate/opsgate/internal/preferences"
	"github.com/opsgate/opsgate/internal/prompt"
	"github.com/opsgate/opsgate/internal/sandbox"
)

type fixedContext struct{}

func (fixedContext) Snapshot() prompt.ContextSnapshot {
	return prompt.ContextSnapshot{WorkDir: "/proj"}
}

func newTestEngine(t *testing.T, response modelgateway.ModelResponse) *Engine {
	t.Helper()
	store, err := preferences.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr := approval.New(store, approval.Config{Timeout: time.Minute, Learn: true, AutoApproveSafe: true})
	backend := &modelgateway.MockBackend{Response: response}

	return New(Config{
		Gateway:         modelgateway.New(backend),
		Registry:        modelrouter.DefaultRegistry(),
		ApprovalManager: mgr,
		Preferences:     store,
		SandboxExecutor: sandbox.New(5 * time.Second),
		ContextProvider: fixedContext{},
	})
}

func waitForStatus(t *testing.T, e *Engine, id string, want Status, timeout time.Duration) Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, ok := e.Get(id)
		if ok {
			snap := j.Snapshot()
			if snap.Status == want.String() {
				return snap
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	j, _ := e.Get(id)
	t.Fatalf("timed out waiting for status %s, last snapshot: %+v", want, j.Snapshot())
	return Snapshot{}
}

func TestSubmitAutoApprovedSafeCommand(t *testing.T) {
	e := newTestEngine(t, modelgateway.ModelResponse{Text: "Commands:\nls -la"})
	j := e.Submit(context.Background(), "list files", "alice")

	snap := waitForStatus(t, e, j.ID, StatusCompleted, 3*time.Second)
	if snap.RequiresApproval {
		t.Error("expected safe command to not require approval")
	}
}

func TestSubmitDangerousCommandRequiresApproval(t *testing.T) {
	e := newTestEngine(t, modelgateway.ModelResponse{Text: "Commands:\nchown root /tmp/foo"})
	j := e.Submit(context.Background(), "fix ownership", "alice")

	snap := waitForStatus(t, e, j.ID, StatusPending, 3*time.Second)
	if !snap.RequiresApproval {
		t.Error("expected dangerous command to require approval")
	}
	if snap.ApprovalID == "" {
		t.Error("expected an approval id to be assigned")
	}
}

func TestResolveApprovalRunsJob(t *testing.T) {
	// The job's free-text instruction ("fix ownership by renaming the
	// vault") never appears as a runnable command — only the model's
	// validated plan step does. Resolving approval must replay that
	// validated step, not the instruction, per the engine's plan-caching
	// contract.
	e := newTestEngine(t, modelgateway.ModelResponse{Text: "Commands:\nchown root /tmp/foo"})
	j := e.Submit(context.Background(), "fix ownership by renaming the vault", "alice")
	waitForStatus(t, e, j.ID, StatusPending, 3*time.Second)

	if err := e.ResolveApproval(context.Background(), j.ID, true, false, ""); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}

	snap := waitForStatus(t, e, j.ID, StatusCompleted, 3*time.Second)
	if snap.Status != StatusCompleted.String() {
		t.Errorf("expected completed after approval, got %s", snap.Status)
	}

	jb, ok := e.Get(j.ID)
	if !ok {
		t.Fatal("expected job to still be registered")
	}
	jb.mu.Lock()
	result := jb.Result
	jb.mu.Unlock()
	if result == nil || len(result.Steps) != 1 {
		t.Fatalf("expected exactly one executed step, got %+v", result)
	}
	if result.Steps[0].Command != "chown root /tmp/foo" {
		t.Errorf("expected the validated plan step to run, got %q", result.Steps[0].Command)
	}
}

func TestResolveApprovalRejection(t *testing.T) {
	e := newTestEngine(t, modelgateway.ModelResponse{Text: "Commands:\nchown root /tmp/foo"})
	j := e.Submit(context.Background(), "fix ownership", "alice")
	waitForStatus(t, e, j.ID, StatusPending, 3*time.Second)

	if err := e.ResolveApproval(context.Background(), j.ID, false, false, "not today"); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}

	snap := waitForStatus(t, e, j.ID, StatusRejected, 3*time.Second)
	if snap.Status != StatusRejected.String() {
		t.Errorf("expected rejected, got %s", snap.Status)
	}
}

func TestListFiltersbyUser(t *testing.T) {
	e := newTestEngine(t, modelgateway.ModelResponse{Text: "Commands:\nls"})
	j1 := e.Submit(context.Background(), "list files", "alice")
	e.Submit(context.Background(), "list files", "bob")
	waitForStatus(t, e, j1.ID, StatusCompleted, 3*time.Second)

	aliceJobs := e.List("alice", 10)
	if len(aliceJobs) != 1 {
		t.Errorf("expected 1 job for alice, got %d", len(aliceJobs))
	}
}

func TestInvalidModelOutputFailsJob(t *testing.T) {
	e := newTestEngine(t, modelgateway.ModelResponse{Text: "Commands:\nrm -rf /"})
	j := e.Submit(context.Background(), "clean up", "alice")

	snap := waitForStatus(t, e, j.ID, StatusFailed, 3*time.Second)
	if snap.Error == "" {
		t.Error("expected an error message explaining the validation rejection")
	}
}
