// Package approval implements the approval manager: it decides whether a
// command needs a human in the loop, and if so tracks the pending request
// until it is resolved or expires. Grounded on manager.py.
package approval

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsgate/opsgate/internal/preferences"
	"github.com/opsgate/opsgate/internal/risk"
)

// Status is the lifecycle state of a PendingApproval.
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusRejected
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// PlannedCommand is one validated step of the plan awaiting approval, cached
// on the PendingApproval so the engine can replay the exact validated plan
// once the human decision comes back, rather than re-deriving it from the
// original free-text instruction.
type PlannedCommand struct {
	Command     string
	Kind        string
	Destructive bool
}

// PendingApproval tracks one outstanding human-in-the-loop decision.
type PendingApproval struct {
	ID          string
	Command     string // the original free-text instruction, for display only
	Plan        []PlannedCommand
	User        string
	Tier        risk.Tier
	Fingerprint string
	HeadCommand string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Status      Status
	Note        string

	timer *time.Timer
}

// Manager coordinates approval decisions and the pending-approval registry.
// It is safe for concurrent use.
type Manager struct {
	mu              sync.Mutex
	pending         map[string]*PendingApproval
	prefs           *preferences.Store
	timeout         time.Duration
	learn           bool
	autoApproveSafe bool

	// onExpire is invoked (outside the lock) when an entry times out, so
	// the job engine can react without polling.
	onExpire func(*PendingApproval)
}

// Config configures a Manager.
type Config struct {
	Timeout  time.Duration
	Learn    bool // whether approvals/rejections are fed back into the preference store
	OnExpire func(*PendingApproval)
	// AutoApproveSafe mirrors config.ApprovalConfig.AutoApproveSafe: when
	// false, even a safe-tier command always requires approval.
	AutoApproveSafe bool
}

// New creates an approval Manager backed by prefs.
func New(prefs *preferences.Store, cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Manager{
		pending:         make(map[string]*PendingApproval),
		prefs:           prefs,
		timeout:         cfg.Timeout,
		learn:           cfg.Learn,
		autoApproveSafe: cfg.AutoApproveSafe,
		onExpire:        cfg.OnExpire,
	}
}

// RequiresApproval decides whether a command needs human approval, given
// its risk report and the user's learned preferences. Any internal error
// (e.g. a preference-store read failure) fails closed — defaults to
// requiring approval, per manager.py's exception handling.
//
// Step 3 of spec.md's requiresApproval algorithm: a safe-tier command only
// skips approval when auto_approve_safe is on AND the user has not
// explicitly denied that exact command before.
func (m *Manager) RequiresApproval(report risk.Report, user string) bool {
	if report.Tier == risk.TierCritical {
		return true
	}
	if report.Tier == risk.TierSafe {
		if !m.autoApproveSafe {
			return true
		}
		if m.prefs != nil {
			dec, err := m.prefs.Decide(user, report.Fingerprint, report.HeadCommand, nil)
			if err != nil {
				return true // fail closed
			}
			if dec == preferences.DecisionAutoDeny {
				return true
			}
		}
		return false
	}

	if m.prefs != nil {
		dec, err := m.prefs.Decide(user, report.Fingerprint, report.HeadCommand, nil)
		if err != nil {
			return true // fail closed
		}
		switch dec {
		case preferences.DecisionAutoApprove:
			return false
		case preferences.DecisionAutoDeny:
			return true
		}
	}

	// low/medium/high with no learned preference: require approval.
	return true
}

// RequestApproval registers a new pending approval and starts its expiry
// timer, caching the already-validated plan so Resolve can replay exactly
// what was reviewed rather than the original free-text instruction.
func (m *Manager) RequestApproval(command, user string, tier risk.Tier, fingerprint, headCommand string, plan []PlannedCommand) *PendingApproval {
	m.mu.Lock()
	defer m.mu.Unlock()

	pa := &PendingApproval{
		ID:          uuid.NewString(),
		Command:     command,
		Plan:        plan,
		User:        user,
		Tier:        tier,
		Fingerprint: fingerprint,
		HeadCommand: headCommand,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(m.timeout),
		Status:      StatusPending,
	}

	pa.timer = time.AfterFunc(m.timeout, func() {
		m.expire(pa.ID)
	})

	m.pending[pa.ID] = pa
	return pa
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	pa, ok := m.pending[id]
	if !ok || pa.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	pa.Status = StatusExpired
	m.mu.Unlock()

	if m.onExpire != nil {
		m.onExpire(pa)
	}
}

// Resolve processes a user's approve/reject decision. It is at-most-once:
// a second call on an already-resolved id returns false.
func (m *Manager) Resolve(id string, approved bool, note string) (*PendingApproval, bool) {
	m.mu.Lock()
	pa, ok := m.pending[id]
	if !ok || pa.Status != StatusPending {
		m.mu.Unlock()
		return pa, false
	}
	if pa.timer != nil {
		pa.timer.Stop()
	}
	if approved {
		pa.Status = StatusApproved
	} else {
		pa.Status = StatusRejected
	}
	pa.Note = note
	m.mu.Unlock()

	// Learning is the caller's decision (the job engine only learns when
	// the user opted to "remember" this specific decision), not something
	// Resolve does unconditionally — m.learn only gates whether learning is
	// possible at all, reported via GetStats.
	return pa, true
}

// Get returns a pending approval by id, lazily evicting it if it has
// expired but the timer callback hasn't fired yet, matching manager.py's
// lazy-eviction read path.
func (m *Manager) Get(id string) (*PendingApproval, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pa, ok := m.pending[id]
	if !ok {
		return nil, false
	}
	if pa.Status == StatusPending && time.Now().After(pa.ExpiresAt) {
		pa.Status = StatusExpired
	}
	return pa, true
}

// List returns all currently pending (not yet resolved or expired) approvals.
func (m *Manager) List() []*PendingApproval {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*PendingApproval
	for _, pa := range m.pending {
		if pa.Status == StatusPending {
			out = append(out, pa)
		}
	}
	return out
}

// Stats reports aggregate approval-manager state for diagnostics.
type Stats struct {
	PendingCount int
	Timeout      time.Duration
	Learn        bool
}

func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, pa := range m.pending {
		if pa.Status == StatusPending {
			count++
		}
	}
	return Stats{PendingCount: count, Timeout: m.timeout, Learn: m.learn}
}
