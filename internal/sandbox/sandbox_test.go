package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func shellStep(command string, destructive bool) PlannedStep {
	return PlannedStep{Command: command, Kind: KindShell, Destructive: destructive}
}

func TestRunOneSuccess(t *testing.T) {
	e := New(5 * time.Second)
	result := e.RunPlan(context.Background(), []PlannedStep{shellStep("echo hello", false)}, "")
	if !result.Success {
		t.Fatalf("expected success, got %+v", result.Steps)
	}
	if result.Steps[0].Output != "hello" {
		t.Errorf("expected output 'hello', got %q", result.Steps[0].Output)
	}
}

func TestRunPlanAbortsOnDestructiveFailure(t *testing.T) {
	e := New(5 * time.Second)
	result := e.RunPlan(context.Background(), []PlannedStep{
		shellStep("false", true),
		shellStep("echo should-not-run", false),
	}, "")
	if result.Success {
		t.Error("expected overall failure")
	}
	if len(result.Steps) != 1 {
		t.Fatalf("expected plan to abort after destructive step failure, got %d steps", len(result.Steps))
	}
}

func TestRunPlanContinuesOnNonDestructiveFailure(t *testing.T) {
	e := New(5 * time.Second)
	result := e.RunPlan(context.Background(), []PlannedStep{
		shellStep("false", false),
		shellStep("echo still-runs", false),
	}, "")
	if len(result.Steps) != 2 {
		t.Fatalf("expected both steps to run, got %d", len(result.Steps))
	}
	if result.Steps[1].Output != "still-runs" {
		t.Errorf("expected second step to run, got %q", result.Steps[1].Output)
	}
}

func TestRunOneTimeout(t *testing.T) {
	e := New(100 * time.Millisecond)
	result := e.RunPlan(context.Background(), []PlannedStep{shellStep("sleep 2", false)}, "")
	if result.Steps[0].ExitCode != 124 {
		t.Errorf("expected exit code 124 on timeout, got %d", result.Steps[0].ExitCode)
	}
}

func TestRunPlanQueryStepNotSupported(t *testing.T) {
	e := New(5 * time.Second)
	result := e.RunPlan(context.Background(), []PlannedStep{
		{Command: "SELECT * FROM users", Kind: KindQuery},
	}, "")
	if result.Success {
		t.Error("expected query step to fail as unsupported")
	}
	if result.Steps[0].ExitCode != 1 || result.Steps[0].Error == "" {
		t.Errorf("expected a structured not-supported failure, got %+v", result.Steps[0])
	}
}

func TestEmbeddedScriptWrapperShellsOutToInterpreter(t *testing.T) {
	wrapped := embeddedScriptWrapper("1 + 1")
	if !strings.HasPrefix(wrapped, "python3 -c ") {
		t.Errorf("expected embedded-scripting steps to wrap in a python3 invocation, got %q", wrapped)
	}
}

func TestApplySandboxRestrictionsRefusesDangerous(t *testing.T) {
	_, reason := applySandboxRestrictions("sudo rm -rf /tmp")
	if reason == "" {
		t.Error("expected refusal for sudo rm pattern")
	}
}

func TestApplySandboxRestrictionsRewritesRm(t *testing.T) {
	rewritten, reason := applySandboxRestrictions("rm file.txt")
	if reason != "" {
		t.Fatalf("did not expect refusal, got %q", reason)
	}
	if rewritten != "rm -i file.txt" {
		t.Errorf("expected rm rewritten to rm -i, got %q", rewritten)
	}
}

func TestDetectAffectedFilesRedirection(t *testing.T) {
	files := detectAffectedFiles("echo hi > output.txt")
	if len(files) != 1 || files[0] != "output.txt" {
		t.Errorf("expected [output.txt], got %v", files)
	}
}

func TestDetectAffectedFilesRemove(t *testing.T) {
	files := detectAffectedFiles("rm -f a.txt b.txt")
	if len(files) != 2 {
		t.Errorf("expected 2 affected files, got %v", files)
	}
}
