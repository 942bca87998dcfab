package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/protocold/internal/domain"
)

// Finding severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Enforcement modes.
const (
	EnforcementWarn  = "warn"
	EnforcementBlock = "block"
)

// defaultBlockCodes are the finding codes that escalate to errors under
// block enforcement when the policy names no block_codes of its own.
var defaultBlockCodes = map[string]bool{
	"policy.ci.required_check_missing":        true,
	"policy.ci.required_check_not_executable": true,
	"policy.protocol.missing_file":            true,
	"policy.step.missing_section":             true,
	"policy.step.file_missing":                true,
}

// Finding is one policy evaluation result.
type Finding struct {
	Code         string         `json:"code"`
	Severity     string         `json:"severity"`
	Message      string         `json:"message"`
	Scope        string         `json:"scope"`
	SuggestedFix string         `json:"suggested_fix,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EvaluateProject checks a project's configuration.
func EvaluateProject(project *domain.Project) []Finding {
	var findings []Finding
	if project.GitURL == "" {
		findings = append(findings, Finding{
			Code:     "policy.project.missing_git_url",
			Severity: SeverityError,
			Message:  "project is missing git_url",
			Scope:    "project",
		})
	}
	if project.BaseBranch == "" {
		findings = append(findings, Finding{
			Code:     "policy.project.missing_base_branch",
			Severity: SeverityError,
			Message:  "project is missing base_branch",
			Scope:    "project",
		})
	}
	return findings
}

// EvaluateProtocol checks a protocol run's on-disk layout against the
// effective policy's required files.
func EvaluateProtocol(run *domain.ProtocolRun, policy map[string]any) []Finding {
	var findings []Finding
	required := RequiredProtocolFiles(policy)
	if run.ProtocolRoot == "" || len(required) == 0 {
		return findings
	}
	for _, name := range required {
		if _, err := os.Stat(filepath.Join(run.ProtocolRoot, name)); err != nil {
			findings = append(findings, Finding{
				Code:         "policy.protocol.missing_file",
				Severity:     SeverityWarning,
				Message:      fmt.Sprintf("required protocol file missing: %s", name),
				Scope:        "protocol",
				SuggestedFix: fmt.Sprintf("create %s in the protocol directory", name),
				Metadata:     map[string]any{"file": name},
			})
		}
	}
	return findings
}

// ApplyEnforcementMode translates finding severities per the project's
// enforcement mode. Warn mode passes findings through untouched; block
// mode upgrades warnings whose code is in the block set to errors.
func ApplyEnforcementMode(findings []Finding, mode string, policy map[string]any) []Finding {
	if mode != EnforcementBlock {
		return findings
	}
	blockCodes := blockCodes(policy)
	out := make([]Finding, len(findings))
	for i, f := range findings {
		if f.Severity == SeverityWarning && blockCodes[f.Code] {
			f.Severity = SeverityError
		}
		out[i] = f
	}
	return out
}

// HasBlockingFindings reports whether any finding carries error severity.
func HasBlockingFindings(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

func blockCodes(policy map[string]any) map[string]bool {
	codes := stringSlice(dig(policy, "enforcement", "block_codes"))
	if codes == nil {
		return defaultBlockCodes
	}
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}
