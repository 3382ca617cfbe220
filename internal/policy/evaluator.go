package policy

import (
	"path/filepath"
	"regexp"

	"github.com/handoffhq/handoff/internal/model"
)

// Decision is the outcome of evaluating a proposed action against a
// CompiledPolicy.
type Decision struct {
	AutoApprove bool
	Reason      string
}

// EvaluateCommand decides whether a shell command can be auto-approved.
// critical risk is always denied, even if the command also matches
// allowed_commands and the workspace sets max_risk_level: critical.
func (cp *CompiledPolicy) EvaluateCommand(command string, risk model.RiskLevel) Decision {
	if !cp.Enabled {
		return Decision{Reason: "auto-approval disabled for this workspace"}
	}
	if risk == model.RiskCritical {
		return Decision{Reason: "critical risk is never auto-approved"}
	}
	if risk.Rank() > cp.MaxRiskLevel.Rank() {
		return Decision{Reason: "command risk level exceeds policy maximum"}
	}
	if !matchesAnyRegex(cp.AllowedCommands, command) {
		return Decision{Reason: "command not in allowed_commands"}
	}
	return Decision{AutoApprove: true, Reason: "command matches allowed_commands within risk bound"}
}

// EvaluateTool decides whether a tool invocation itself (as opposed to
// its file-level effects) is eligible for auto-approval.
func (cp *CompiledPolicy) EvaluateTool(tool string) Decision {
	if !cp.Enabled {
		return Decision{Reason: "auto-approval disabled for this workspace"}
	}
	if _, ok := cp.AllowedTools[tool]; !ok {
		return Decision{Reason: "tool not in allowed_tools"}
	}
	return Decision{AutoApprove: true, Reason: "tool matches allowed_tools"}
}

// EvaluateFileWrite decides whether a proposed file write can be
// auto-approved, based on the write-pattern allowlist and risk bound.
// critical risk is always denied, even if the path also matches
// write_file_patterns.
func (cp *CompiledPolicy) EvaluateFileWrite(path string, risk model.RiskLevel) Decision {
	if !cp.Enabled {
		return Decision{Reason: "auto-approval disabled for this workspace"}
	}
	if risk == model.RiskCritical {
		return Decision{Reason: "critical risk is never auto-approved"}
	}
	if risk.Rank() > cp.MaxRiskLevel.Rank() {
		return Decision{Reason: "diff risk level exceeds policy maximum"}
	}
	if !matchesAny(cp.WriteFilePatterns, path) {
		return Decision{Reason: "file path does not match write_file_patterns"}
	}
	return Decision{AutoApprove: true, Reason: "file path matches write_file_patterns within risk bound"}
}

// EvaluateFileRead decides whether a proposed file read can be
// auto-approved.
func (cp *CompiledPolicy) EvaluateFileRead(path string) Decision {
	if !cp.Enabled {
		return Decision{Reason: "auto-approval disabled for this workspace"}
	}
	if !matchesAny(cp.ReadFilePatterns, path) {
		return Decision{Reason: "file path does not match read_file_patterns"}
	}
	return Decision{AutoApprove: true, Reason: "file path matches read_file_patterns"}
}

func matchesAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

func matchesAnyRegex(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
