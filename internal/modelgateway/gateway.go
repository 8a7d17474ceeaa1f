// Package modelgateway is the boundary to the remote LLM vendor. The vendor
// SDK itself is an external collaborator (per the system's scope — only a
// generic backend interface lives here); this package adds a circuit
// breaker and response parsing around whatever ModelBackend is wired in,
// the same role the teacher's evaluator.go gave to its Evaluator interface.
package modelgateway

import (
	"bufio"
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// ModelRequest is what the gateway sends to a ModelBackend.
type ModelRequest struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
}

// ModelResponse is what a ModelBackend returns.
type ModelResponse struct {
	Text         string
	TotalTokens  int
}

// ModelBackend is satisfied by whatever vendor SDK is wired in at the
// application boundary. A mock implementation (mockbackend.go) satisfies it
// for tests, matching the teacher's pattern of a mockEvaluator in
// daemon_test.go.
type ModelBackend interface {
	Invoke(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// Step kinds, mirroring spec's PlannedStep.kind enum.
const (
	KindShell             = "shell"
	KindEmbeddedScripting = "embedded-scripting"
	KindQuery             = "query"
)

// Step is one planned command in a generated execution plan.
type Step struct {
	Command     string
	Kind        string // "shell", "embedded-scripting", "query"
	SafetyLevel string // "safe", "moderate", "destructive" — from the model's own assessment, re-verified by the risk classifier
}

// Plan is the parsed result of a model invocation: a sequence of steps plus
// the model's own commentary.
type Plan struct {
	Steps          []Step
	Interpretation string
	Explanation    string
	Degraded       bool // true if parsing fell back to wrap-as-single-step
	TokensUsed     int
}

// Gateway wraps a ModelBackend with a circuit breaker so repeated vendor
// failures fail fast to the caller (which, per the approval manager's
// fail-closed rule, treats a gateway error as "requires approval").
type Gateway struct {
	backend ModelBackend
	breaker *gobreaker.CircuitBreaker
}

// New wraps backend in a circuit breaker configured to open after 5
// consecutive failures and probe again after 30 seconds.
func New(backend ModelBackend) *Gateway {
	settings := gobreaker.Settings{
		Name:        "model-gateway",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Gateway{
		backend: backend,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Invoke calls the backend through the circuit breaker and parses the
// response into a Plan.
func (g *Gateway) Invoke(ctx context.Context, req ModelRequest) (Plan, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.backend.Invoke(ctx, req)
	})
	if err != nil {
		return Plan{}, err
	}
	resp := result.(ModelResponse)
	plan := ParseResponse(resp.Text)
	plan.TokensUsed = resp.TotalTokens
	return plan, nil
}

// ParseResponse extracts a Plan from raw model output. It understands the
// "Commands:"/"Interpretation:"/"Explanation:" section format (with or
// without code fences); anything it cannot make sense of is wrapped as a
// single degraded shell step, matching model_router.py's
// _parse_llm_response fallback exactly.
func ParseResponse(text string) Plan {
	text = strings.TrimSpace(text)
	if text == "" {
		return Plan{Degraded: true}
	}

	var plan Plan
	scanner := bufio.NewScanner(strings.NewReader(text))
	section := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "```" || line == "```bash" || line == "```sh" {
			continue
		}

		switch {
		case strings.HasPrefix(strings.ToLower(line), "commands:"):
			section = "commands"
			rest := strings.TrimSpace(line[len("commands:"):])
			if rest != "" {
				plan.Steps = append(plan.Steps, parseStepLine(rest))
			}
			continue
		case strings.HasPrefix(strings.ToLower(line), "interpretation:"):
			section = "interpretation"
			plan.Interpretation = strings.TrimSpace(line[len("interpretation:"):])
			continue
		case strings.HasPrefix(strings.ToLower(line), "explanation:"):
			section = "explanation"
			plan.Explanation = strings.TrimSpace(line[len("explanation:"):])
			continue
		}

		switch section {
		case "commands":
			plan.Steps = append(plan.Steps, parseStepLine(line))
		case "interpretation":
			plan.Interpretation += " " + line
		case "explanation":
			plan.Explanation += " " + line
		}
	}

	if len(plan.Steps) == 0 {
		// Could not find a recognizable structure — wrap the entire
		// response as a single shell step marked safe and flag it as
		// degraded so the caller can log the parse failure, per spec's
		// model fallback behavior (scenario 6: "echo hi marked safe").
		return Plan{
			Steps:    []Step{{Command: text, Kind: KindShell, SafetyLevel: "safe"}},
			Degraded: true,
		}
	}

	return plan
}

// stepTag recognizes an optional leading "[kind:safety]" annotation a model
// uses to self-declare a step's kind and safety level, e.g.
// "[embedded-scripting:moderate] print(open('x').read())".
var stepTag = regexp.MustCompile(`^\[(shell|embedded-scripting|query)(?::(safe|moderate|destructive))?\]\s*(.*)$`)

// parseStepLine strips list markers ("1.", "-", "*") and code-fence
// backticks from a command line, then reads an optional kind/safety tag.
// A line with no recognizable tag defaults to a shell step marked safe,
// the same least-privileged assumption the whole-response fallback makes.
func parseStepLine(line string) Step {
	line = strings.TrimLeft(line, "0123456789.-* \t")
	line = strings.Trim(line, "`")
	line = strings.TrimSpace(line)

	if m := stepTag.FindStringSubmatch(line); m != nil {
		kind, safety, command := m[1], m[2], strings.TrimSpace(m[3])
		if safety == "" {
			safety = "safe"
		}
		return Step{Command: command, Kind: kind, SafetyLevel: safety}
	}

	return Step{Command: line, Kind: KindShell, SafetyLevel: "safe"}
}
