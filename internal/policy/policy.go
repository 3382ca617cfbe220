// Package policy loads and evaluates per-workspace auto-approval rules
// from <workspace>/.handoff/settings.json (tolerantly parsed as JSON5,
// per the teacher's vanducng-goclaw config loader idiom), with a
// deny-all fallback whenever the file is missing or malformed.
package policy

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/titanous/json5"
)

const policyRelPath = ".handoff/settings.json"

// CompiledPolicy is the evaluation-ready form of a WorkspacePolicy: its
// glob patterns are copied as given, without validation; allowed_commands
// (after being filtered against the server-level global command
// allowlist) is a list of separately compiled regexes, tried one by one,
// with no single combined matcher; and allowed_tools is a set.
type CompiledPolicy struct {
	Enabled           bool
	MaxRiskLevel      model.RiskLevel
	AllowedCommands   []*regexp.Regexp
	AllowedTools      map[string]struct{}
	ReadFilePatterns  []string
	WriteFilePatterns []string
}

// DenyAll is the safe fallback policy: auto-approval disabled, every
// check falls through to a human decision.
func DenyAll() *CompiledPolicy {
	return &CompiledPolicy{
		Enabled:      false,
		MaxRiskLevel: model.RiskLow,
	}
}

// Load reads and compiles the workspace policy file against
// globalCommandAllowlist, the server-level ceiling a workspace's
// allowed_commands can never escalate past. A missing file is not an
// error — it resolves to DenyAll(). A malformed file is logged by the
// caller and also resolves to DenyAll(), per spec §4.6's
// fail-safe-closed requirement.
func Load(workspaceRoot string, globalCommandAllowlist []string) (*CompiledPolicy, error) {
	path := filepath.Join(workspaceRoot, policyRelPath)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DenyAll(), nil
	}
	if err != nil {
		return DenyAll(), apperr.Wrap(apperr.Policy, "read policy file", err)
	}

	var raw model.WorkspacePolicy
	if err := json5.Unmarshal(data, &raw); err != nil {
		return DenyAll(), apperr.Wrap(apperr.Policy, "parse policy file", err)
	}

	return compile(&raw, globalCommandAllowlist), nil
}

func compile(raw *model.WorkspacePolicy, globalCommandAllowlist []string) *CompiledPolicy {
	risk := model.RiskLevel(raw.MaxRiskLevel)
	if !risk.Valid() {
		risk = model.RiskLow
	}

	guarded := withinGlobalAllowlist(raw.AllowedCommands, globalCommandAllowlist)

	cp := &CompiledPolicy{
		Enabled:           raw.Enabled,
		MaxRiskLevel:      risk,
		AllowedCommands:   compileCommandPatterns(guarded),
		AllowedTools:      toSet(raw.AllowedTools),
		ReadFilePatterns:  append([]string(nil), raw.ReadFilePatterns...),
		WriteFilePatterns: append([]string(nil), raw.WriteFilePatterns...),
	}
	return cp
}

// withinGlobalAllowlist drops every workspace allowed_commands entry that
// is not itself present in the server-level global allowlist verbatim:
// policies cannot escalate beyond server-level guardrails. An empty
// global allowlist means the server operator configured no ceiling, so
// every workspace entry passes through unfiltered.
func withinGlobalAllowlist(entries, global []string) []string {
	if len(global) == 0 {
		return entries
	}
	allowed := toSet(global)
	kept := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := allowed[e]; ok {
			kept = append(kept, e)
		}
	}
	return kept
}

// compileCommandPatterns compiles each entry as a regex into a list of
// regexes. A malformed pattern is dropped rather than failing the whole
// policy load, consistent with the fail-safe-closed fallback elsewhere
// in this package.
func compileCommandPatterns(entries []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(entries))
	for _, e := range entries {
		re, err := regexp.Compile(e)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
