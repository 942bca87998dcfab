package qa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/fyrsmithlabs/protocold/internal/policy"
)

// ProjectConfigGate checks the project's own configuration.
type ProjectConfigGate struct{}

func (ProjectConfigGate) Name() string { return "project_config" }

func (g ProjectConfigGate) Run(_ context.Context, gc GateContext) GateResult {
	findings := policy.EvaluateProject(gc.Project)
	return findingsResult(g.Name(), findings, gc)
}

// RequiredFilesGate verifies the protocol directory holds every file the
// effective policy requires.
type RequiredFilesGate struct{}

func (RequiredFilesGate) Name() string { return "required_files" }

func (g RequiredFilesGate) Run(_ context.Context, gc GateContext) GateResult {
	findings := policy.EvaluateProtocol(gc.Run, gc.Policy)
	return findingsResult(g.Name(), findings, gc)
}

// findingsResult maps policy findings through the project's enforcement
// mode into a gate verdict.
func findingsResult(gate string, findings []policy.Finding, gc GateContext) GateResult {
	findings = policy.ApplyEnforcementMode(findings, gc.EnforcementMode, gc.Policy)
	result := GateResult{Gate: gate, Verdict: VerdictPass}
	for _, f := range findings {
		result.Details = append(result.Details, f.Code+": "+f.Message)
		switch f.Severity {
		case policy.SeverityError:
			result.Verdict = VerdictFail
		case policy.SeverityWarning:
			if result.Verdict == VerdictPass {
				result.Verdict = VerdictWarn
			}
		}
	}
	return result
}

// SecretScanGate runs gitleaks over the files a step changed. Any
// detected secret fails the step outright; a leaked credential is never
// an auto-fix candidate.
type SecretScanGate struct {
	detector *detect.Detector
}

// NewSecretScanGate builds the gate with the default gitleaks ruleset.
func NewSecretScanGate() (*SecretScanGate, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("build gitleaks detector: %w", err)
	}
	return &SecretScanGate{detector: detector}, nil
}

func (*SecretScanGate) Name() string { return "secret_scan" }

func (g *SecretScanGate) Run(_ context.Context, gc GateContext) GateResult {
	result := GateResult{Gate: g.Name(), Verdict: VerdictPass}
	if len(gc.ChangedFiles) == 0 {
		result.Verdict = VerdictSkip
		return result
	}
	for _, rel := range gc.ChangedFiles {
		content, err := os.ReadFile(filepath.Join(gc.WorktreePath, rel))
		if err != nil {
			// A deleted file has nothing left to leak.
			if os.IsNotExist(err) {
				continue
			}
			result.Verdict = VerdictError
			result.Details = append(result.Details, fmt.Sprintf("read %s: %v", rel, err))
			continue
		}
		for _, f := range g.detector.DetectString(string(content)) {
			result.Verdict = VerdictFail
			result.Details = append(result.Details,
				fmt.Sprintf("secret detected in %s line %d (%s)", rel, f.StartLine, f.RuleID))
		}
	}
	return result
}
