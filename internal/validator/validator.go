// Package validator implements the command validator: given a single shell
// command, it decides whether the command is even eligible for execution,
// independent of whether a human has approved it. This is a narrower
// question than risk classification — a command can be well-understood and
// low risk yet still be rejected here for touching a forbidden path.
package validator

import (
	"fmt"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Result is the outcome of validating a single command.
type Result struct {
	Valid    bool
	Reason   string
	Warnings []string
}

// blockedSubstrings are rejected outright wherever they appear in the raw
// command text, before any tokenization.
var blockedSubstrings = []string{
	"$(", "`", // command substitution
	"/dev/sda", "/dev/nvme",
}

// dangerousPatterns mirror validators.py's dangerous_patterns: matched
// against the tokenized argv, not the raw string, so quoting doesn't evade
// them.
var dangerousPatterns = []string{
	"rm -rf /", "rm -rf ~", "rm -rf *",
	"mkfs", "dd if=",
	":(){ :|:& };:",
}

// allowedCommands is the base-command allowlist. A command whose head token
// is not here is rejected unless it is explicitly in extraAllowed (passed by
// the caller to extend the list per deployment).
var allowedCommands = map[string]bool{
	"ls": true, "cat": true, "pwd": true, "echo": true, "grep": true,
	"find": true, "git": true, "cd": true, "mkdir": true, "touch": true,
	"cp": true, "mv": true, "rm": true, "chmod": true, "chown": true,
	"npm": true, "pip": true, "go": true, "docker": true, "kubectl": true,
	"kill": true, "systemctl": true, "tar": true, "curl": true, "wget": true,
	"sed": true, "awk": true, "head": true, "tail": true, "wc": true,
	"make": true, "python": true, "python3": true, "node": true,
}

// protectedPaths escalate to rejection when a command's arguments reference
// them directly (as opposed to risk scoring, which only escalates tier).
var protectedPaths = []string{"/etc", "/boot", "/sys", "/proc"}

// destructiveCommands require an extra argument check beyond the allowlist,
// on top of the generic extreme-pattern sweep every declared-destructive
// step gets regardless of its head command.
var destructiveCommands = map[string]bool{"rm": true, "dd": true, "mkfs": true}

// extremePatterns are refused outright whenever a step is declared
// destructive, regardless of kind or head command — spec.md step 6's
// "stricter pattern sweep" (rm -rf /, mkfs, device zero-fill, root
// permission flips).
var extremePatterns = []string{
	"rm -rf /", "rm -rf ~", "rm -rf *",
	"mkfs", "dd if=", "of=/dev/",
	"chmod -r 777", "chmod 777 /", "chown -r root",
}

// Step kind constants, mirroring modelgateway.Step's Kind values. Duplicated
// here (rather than imported) so the validator has no dependency on the
// gateway's wire-format parsing.
const (
	KindShell             = "shell"
	KindEmbeddedScripting = "embedded-scripting"
	KindQuery             = "query"
)

const safetyDestructive = "destructive"

// reflectivePatterns reject dynamic/reflective execution in an
// embedded-scripting step, grounded on spec.md §4.3's "reflective execution
// (dynamic eval, dynamic import)" rule.
var reflectivePatterns = []string{
	"eval(", "exec(", "__import__(", "Function(", "importlib.import_module(",
}

// ioPrimitivePatterns reject file I/O in an embedded-scripting step unless
// the step is declared destructive.
var ioPrimitivePatterns = []string{
	"open(", "fopen(", "os.remove(", "os.unlink(", "os.rename(",
	"writefilesync(", "unlinksync(",
}

// schemaMutatingKeywords reject schema-mutating SQL in a query step unless
// the step is declared destructive.
var schemaMutatingKeywords = []string{"drop ", "alter ", "truncate ", "create ", "rename "}

// Validate runs the validation pipeline for one planned step: empty check,
// blocked-substring check, dangerous-pattern check, allowlist check,
// protected-path check (unless the step is destructive), a stricter
// extreme-pattern sweep for destructive steps, and kind-specific rules for
// embedded-scripting and query steps.
func Validate(command, kind, safetyLevel string) Result {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Result{Valid: false, Reason: "empty command"}
	}

	for _, substr := range blockedSubstrings {
		if strings.Contains(trimmed, substr) {
			return Result{Valid: false, Reason: fmt.Sprintf("command contains blocked construct %q", substr)}
		}
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(trimmed, pattern) {
			return Result{Valid: false, Reason: fmt.Sprintf("command matches dangerous pattern %q", pattern)}
		}
	}

	isDestructive := safetyLevel == safetyDestructive

	if kind == KindEmbeddedScripting {
		if reason, ok := checkEmbeddedScripting(trimmed, isDestructive); !ok {
			return Result{Valid: false, Reason: reason}
		}
	}
	if kind == KindQuery {
		if reason, ok := checkQuery(trimmed, isDestructive); !ok {
			return Result{Valid: false, Reason: reason}
		}
	}

	argv, err := tokenize(trimmed)
	if err != nil || len(argv) == 0 {
		return Result{Valid: false, Reason: "could not parse command into arguments"}
	}

	head := argv[0]
	if head == "sudo" && len(argv) > 1 {
		head = argv[1]
		argv = argv[1:]
	}

	if kind == KindShell && !allowedCommands[head] {
		return Result{Valid: false, Reason: fmt.Sprintf("command %q is not in the allowed set", head)}
	}

	if !isDestructive {
		for _, arg := range argv[1:] {
			for _, p := range protectedPaths {
				if arg == p || strings.HasPrefix(arg, p+"/") {
					return Result{Valid: false, Reason: fmt.Sprintf("command references protected path %q", p)}
				}
			}
		}
	}

	if isDestructive {
		lower := strings.ToLower(trimmed)
		for _, p := range extremePatterns {
			if strings.Contains(lower, p) {
				return Result{Valid: false, Reason: fmt.Sprintf("declared-destructive step matches extreme pattern %q", p)}
			}
		}
	}

	if destructiveCommands[head] {
		if reason, ok := extraDestructiveCheck(head, argv); !ok {
			return Result{Valid: false, Reason: reason}
		}
	}

	return Result{Valid: true, Warnings: warningsFor(head, argv)}
}

// checkEmbeddedScripting rejects reflective execution outright and rejects
// I/O primitives unless the step is declared destructive.
func checkEmbeddedScripting(command string, destructive bool) (string, bool) {
	lower := strings.ToLower(command)
	for _, p := range reflectivePatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return fmt.Sprintf("embedded-scripting step uses reflective execution %q", p), false
		}
	}
	if !destructive {
		for _, p := range ioPrimitivePatterns {
			if strings.Contains(lower, p) {
				return fmt.Sprintf("embedded-scripting step uses I/O primitive %q without being declared destructive", p), false
			}
		}
	}
	return "", true
}

// checkQuery rejects schema-mutating keywords unless the step is declared
// destructive.
func checkQuery(command string, destructive bool) (string, bool) {
	if destructive {
		return "", true
	}
	lower := strings.ToLower(command)
	for _, kw := range schemaMutatingKeywords {
		if strings.Contains(lower, kw) {
			return fmt.Sprintf("query step uses schema-mutating keyword %q without being declared destructive", strings.TrimSpace(kw)), false
		}
	}
	return "", true
}

// extraDestructiveCheck applies head-command-specific refusal rules beyond
// the generic allowlist/path checks, grounded on validators.py's treatment
// of rm/dd/mkfs as requiring a closer look regardless of arguments.
func extraDestructiveCheck(head string, argv []string) (string, bool) {
	switch head {
	case "rm":
		hasRecursive, hasForce := false, false
		var targets []string
		for _, a := range argv[1:] {
			switch {
			case a == "-rf" || a == "-fr":
				hasRecursive, hasForce = true, true
			case a == "-r" || a == "-R":
				hasRecursive = true
			case a == "-f":
				hasForce = true
			case strings.HasPrefix(a, "-"):
				// other flags, ignored
			default:
				targets = append(targets, a)
			}
		}
		if hasRecursive && hasForce {
			for _, t := range targets {
				if t == "/" || t == "~" || t == "." || t == ".." || strings.Contains(t, "*") {
					return fmt.Sprintf("rm -rf on overly broad target %q", t), false
				}
			}
		}
	case "dd", "mkfs":
		return fmt.Sprintf("%q is disk-level and requires explicit operator handling, not auto-execution", head), false
	}
	return "", true
}

func warningsFor(head string, argv []string) []string {
	var warnings []string
	if head == "rm" {
		for _, a := range argv[1:] {
			if a == "-rf" || a == "-fr" {
				warnings = append(warnings, "recursive force delete — verify targets before approval")
			}
		}
	}
	if head == "chmod" {
		for _, a := range argv[1:] {
			if a == "777" {
				warnings = append(warnings, "chmod 777 grants world write/execute")
			}
		}
	}
	return warnings
}

// tokenize splits a command into argv, falling back to whitespace splitting
// if the shell-aware parser rejects it (e.g. unbalanced quotes) — matching
// the fallback pattern used elsewhere in the corpus for shellwords parsing.
func tokenize(command string) ([]string, error) {
	parser := shellwords.NewParser()
	argv, err := parser.Parse(command)
	if err != nil {
		return strings.Fields(command), nil
	}
	return argv, nil
}
