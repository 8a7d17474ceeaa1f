// Package job implements the job engine: it owns the Job state machine,
// coordinates the other eight components per submitted instruction, and
// exposes the operations the transport layer (an external collaborator)
// mounts as HTTP/WebSocket endpoints.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsgate/opsgate/internal/approval"
	"github.com/opsgate/opsgate/internal/modelgateway"
	"github.com/opsgate/opsgate/internal/modelrouter"
	"github.com/opsgate/opsgate/internal/notify"
	"github.com/opsgate/opsgate/internal/preferences"
	"github.com/opsgate/opsgate/internal/prompt"
	"github.com/opsgate/opsgate/internal/risk"
	"github.com/opsgate/opsgate/internal/sandbox"
	"github.com/opsgate/opsgate/internal/validator"
)

// Status is a Job's lifecycle state. Pending/Approved/Executing/Completed/
// Failed/Rejected, with Completed/Failed/Rejected absorbing (terminal).
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusExecuting
	StatusCompleted
	StatusFailed
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusExecuting:
		return "executing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// Job is the unit of work tracked by the engine, mirroring models.py's Job
// dataclass.
type Job struct {
	mu sync.Mutex

	ID               string
	Command          string
	User             string
	Status           Status
	RequiresApproval bool
	ApprovalID       string
	ModelUsed        string
	EstimatedCostUSD float64
	TokensConsumed   int
	Progress         int
	Result           *sandbox.PlanResult
	Error            string
	Logs             []string
	CreatedAt        time.Time
}

func (j *Job) setStatus(s Status, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = s
	j.addLogLocked(s.String() + ": " + reason)
}

func (j *Job) addLogLocked(line string) {
	j.Logs = append(j.Logs, time.Now().Format(time.RFC3339)+" "+line)
}

func (j *Job) setProgress(p int, note string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = p
	j.addLogLocked(fmt.Sprintf("progress %d%%: %s", p, note))
}

// Snapshot is a concurrency-safe copy of a Job's externally visible fields.
type Snapshot struct {
	ID               string
	Command          string
	User             string
	Status           string
	RequiresApproval bool
	ApprovalID       string
	ModelUsed        string
	EstimatedCostUSD float64
	TokensConsumed   int
	Progress         int
	Error            string
	Logs             []string
	CreatedAt        time.Time
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	logs := make([]string, len(j.Logs))
	copy(logs, j.Logs)
	return Snapshot{
		ID:               j.ID,
		Command:          j.Command,
		User:             j.User,
		Status:           j.Status.String(),
		RequiresApproval: j.RequiresApproval,
		ApprovalID:       j.ApprovalID,
		ModelUsed:        j.ModelUsed,
		EstimatedCostUSD: j.EstimatedCostUSD,
		TokensConsumed:   j.TokensConsumed,
		Progress:         j.Progress,
		Error:            j.Error,
		Logs:             logs,
		CreatedAt:        j.CreatedAt,
	}
}

// ContextProvider supplies the current system context snapshot for prompt
// assembly. Its real implementations (filesystem/process/git collectors)
// are external collaborators; the engine only depends on this interface.
type ContextProvider interface {
	Snapshot() prompt.ContextSnapshot
}

// Engine owns the job registry and coordinates C1-C8 for each submitted
// instruction.
type Engine struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	gateway      *modelgateway.Gateway
	registry     modelrouter.Registry
	approvalMgr  *approval.Manager
	prefs        *preferences.Store
	sandboxExec  *sandbox.Executor
	contextProv  ContextProvider
	notifier     notify.Notifier
}

// Config wires the engine's collaborators together.
type Config struct {
	Gateway         *modelgateway.Gateway
	Registry        modelrouter.Registry
	ApprovalManager *approval.Manager
	Preferences     *preferences.Store
	SandboxExecutor *sandbox.Executor
	ContextProvider ContextProvider
	Notifier        notify.Notifier
}

// New creates a job Engine from its collaborators.
func New(cfg Config) *Engine {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Noop{}
	}
	return &Engine{
		jobs:        make(map[string]*Job),
		gateway:     cfg.Gateway,
		registry:    cfg.Registry,
		approvalMgr: cfg.ApprovalManager,
		prefs:       cfg.Preferences,
		sandboxExec: cfg.SandboxExecutor,
		contextProv: cfg.ContextProvider,
		notifier:    cfg.Notifier,
	}
}

// Submit creates a new Job for instruction and starts its owner goroutine.
// It returns immediately with the job's initial snapshot; the caller polls
// Get or subscribes to updates via the transport layer.
//
// ctx is used only to seed the job's own run context; the owner goroutine
// deliberately does not inherit cancellation from it; a job submitted over
// HTTP must keep running after the request that created it has returned,
// the same way the Python original hands instructions off to a background
// task instead of blocking the request on them.
func (e *Engine) Submit(ctx context.Context, instruction, user string) *Job {
	j := &Job{
		ID:        uuid.NewString(),
		Command:   instruction,
		User:      user,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	e.mu.Lock()
	e.jobs[j.ID] = j
	e.mu.Unlock()

	go e.run(context.Background(), j)

	return j
}

// run is the owner goroutine for one job: it drives the job through model
// routing, approval, and execution. Exactly one goroutine ever mutates a
// given job's Status/Progress fields past Submit, per spec's per-job
// ownership rule.
func (e *Engine) run(ctx context.Context, j *Job) {
	j.setProgress(10, "analyzing instruction")

	ctxSnapshot := prompt.ContextSnapshot{}
	if e.contextProv != nil {
		ctxSnapshot = e.contextProv.Snapshot()
	}

	req := prompt.Assemble(j.Command, ctxSnapshot)
	routerDecision := modelrouter.Route(j.Command, len(req.UserPrompt), e.registry)

	j.mu.Lock()
	j.ModelUsed = routerDecision.Model.Name
	j.EstimatedCostUSD = routerDecision.EstimatedCostUSD
	j.mu.Unlock()

	plan, err := e.gateway.Invoke(ctx, modelgateway.ModelRequest{
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Model:        routerDecision.Model.Name,
	})
	if err != nil {
		j.setStatus(StatusFailed, "model invocation failed: "+err.Error())
		j.mu.Lock()
		j.Error = err.Error()
		j.mu.Unlock()
		return
	}

	j.mu.Lock()
	j.TokensConsumed = plan.TokensUsed
	j.mu.Unlock()
	j.setProgress(30, "generated execution plan")

	// Validate every step before deciding on approval: an invalid plan is
	// failed outright rather than offered for human approval. The validated
	// steps are cached here, keyed to their declared kind/safety level, so
	// whichever path executes them later (auto-approved below, or resolved
	// by a human in ResolveApproval) replays exactly what was validated.
	var steps []sandbox.PlannedStep
	var headCommands []string
	for _, step := range plan.Steps {
		result := validator.Validate(step.Command, step.Kind, step.SafetyLevel)
		if !result.Valid {
			j.setStatus(StatusFailed, "validation rejected step: "+result.Reason)
			j.mu.Lock()
			j.Error = result.Reason
			j.mu.Unlock()
			return
		}
		steps = append(steps, sandbox.PlannedStep{
			Command:     step.Command,
			Kind:        step.Kind,
			Destructive: step.SafetyLevel == "destructive",
		})
		headCommands = append(headCommands, step.Command)
	}

	report := highestRiskReport(headCommands, ctxSnapshot)

	requiresApproval := true
	if e.approvalMgr != nil {
		requiresApproval = e.approvalMgr.RequiresApproval(report, j.User)
	}
	j.mu.Lock()
	j.RequiresApproval = requiresApproval
	j.mu.Unlock()

	if requiresApproval {
		pa := e.approvalMgr.RequestApproval(j.Command, j.User, report.Tier, report.Fingerprint, report.HeadCommand, plannedCommands(steps))
		j.mu.Lock()
		j.ApprovalID = pa.ID
		j.mu.Unlock()
		j.setStatus(StatusPending, "waiting for user approval")
		e.notifier.Notify(notify.Event{
			Type:    "approval_request",
			JobID:   j.ID,
			Message: "approval required for: " + j.Command,
		})
		return // execution resumes from ResolveApproval
	}

	j.setStatus(StatusApproved, "auto-approved based on safety assessment")
	e.execute(ctx, j, steps)
}

// plannedCommands converts validated sandbox steps into the
// approval.PlannedCommand form cached on a pending approval.
func plannedCommands(steps []sandbox.PlannedStep) []approval.PlannedCommand {
	out := make([]approval.PlannedCommand, len(steps))
	for i, s := range steps {
		out[i] = approval.PlannedCommand{Command: s.Command, Kind: s.Kind, Destructive: s.Destructive}
	}
	return out
}

// execute runs the validated plan and records the result, matching
// api.py's execute_command progress sequence (40 -> 90 -> 100).
func (e *Engine) execute(ctx context.Context, j *Job, steps []sandbox.PlannedStep) {
	j.setStatus(StatusExecuting, "starting command execution")
	j.setProgress(40, "executing commands")

	result := e.sandboxExec.RunPlan(ctx, steps, "")

	j.setProgress(90, "processing results")
	j.mu.Lock()
	j.Result = &result
	j.mu.Unlock()

	if result.Success {
		j.setStatus(StatusCompleted, "command executed successfully")
	} else {
		j.setStatus(StatusFailed, "one or more steps failed")
	}
	j.setProgress(100, "complete")

	e.notifier.Notify(notify.Event{
		Type:    "job_update",
		JobID:   j.ID,
		Message: j.Status.String(),
	})
}

// ResolveApproval processes a human decision for a job waiting on approval.
func (e *Engine) ResolveApproval(ctx context.Context, jobID string, approved bool, remember bool, note string) error {
	j, ok := e.Get(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}

	j.mu.Lock()
	if j.Status != StatusPending {
		approvalID := j.ApprovalID
		j.mu.Unlock()
		return fmt.Errorf("job %s is not pending approval (approval id %s)", jobID, approvalID)
	}
	approvalID := j.ApprovalID
	j.mu.Unlock()

	pa, ok := e.approvalMgr.Resolve(approvalID, approved, note)
	if !ok {
		return fmt.Errorf("approval %s already resolved or expired", approvalID)
	}

	if remember && e.prefs != nil {
		_ = e.prefs.Learn(pa.User, pa.Fingerprint, pa.HeadCommand, pa.Command, nil, approved, note)
	}

	if !approved {
		j.setStatus(StatusRejected, "rejected by user: "+note)
		return nil
	}

	j.setStatus(StatusApproved, "approved by user")

	// Replay the exact steps cached on the approval at request time, not
	// the original free-text instruction: those steps already passed
	// validation, and re-deriving anything from j.Command here would let an
	// unvalidated command slip into execution.
	steps := make([]sandbox.PlannedStep, len(pa.Plan))
	for i, pc := range pa.Plan {
		steps[i] = sandbox.PlannedStep{Command: pc.Command, Kind: pc.Kind, Destructive: pc.Destructive}
	}
	e.execute(ctx, j, steps)
	return nil
}

// Get returns a job by id.
func (e *Engine) Get(id string) (*Job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	j, ok := e.jobs[id]
	return j, ok
}

// List returns snapshots of jobs for a user (or all jobs if user is empty),
// newest first, capped at limit.
func (e *Engine) List(user string, limit int) []Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Snapshot
	for _, j := range e.jobs {
		snap := j.Snapshot()
		if user != "" && snap.User != user {
			continue
		}
		out = append(out, snap)
	}

	for i := 0; i < len(out); i++ {
		for k := i + 1; k < len(out); k++ {
			if out[k].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[k] = out[k], out[i]
			}
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// highestRiskReport classifies every command in a plan and returns the
// report with the highest tier, since approval gates on the riskiest step.
func highestRiskReport(commands []string, ctxSnapshot prompt.ContextSnapshot) risk.Report {
	var worst risk.Report
	riskCtx := risk.Context{WorkDir: ctxSnapshot.WorkDir, IsGitRepo: ctxSnapshot.GitBranch != "", GitBranch: ctxSnapshot.GitBranch}
	for _, cmd := range commands {
		rep := risk.Classify(cmd, riskCtx)
		if rep.Tier > worst.Tier || worst.HeadCommand == "" {
			worst = rep
		}
	}
	return worst
}
