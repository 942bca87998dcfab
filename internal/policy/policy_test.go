package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/logging"
	"github.com/fyrsmithlabs/protocold/internal/store"
)

func TestDeepMerge(t *testing.T) {
	base := map[string]any{
		"defaults": map[string]any{
			"ci":  map[string]any{"required_checks": []any{"test"}},
			"qa":  map[string]any{"policy": "full"},
			"max": 10,
		},
	}
	override := map[string]any{
		"defaults": map[string]any{
			"ci": map[string]any{"required_checks": []any{"test", "lint"}},
		},
		"enforcement": map[string]any{"mode": "block"},
	}

	merged := DeepMerge(base, override)

	// Nested maps merge; scalars and lists replace.
	defaults := merged["defaults"].(map[string]any)
	assert.Equal(t, []any{"test", "lint"}, defaults["ci"].(map[string]any)["required_checks"])
	assert.Equal(t, "full", defaults["qa"].(map[string]any)["policy"])
	assert.Equal(t, 10, defaults["max"])
	assert.Contains(t, merged, "enforcement")

	// Inputs stay untouched.
	assert.Equal(t, []any{"test"}, base["defaults"].(map[string]any)["ci"].(map[string]any)["required_checks"])
}

func TestStableHash(t *testing.T) {
	a := map[string]any{"x": 1, "y": map[string]any{"b": 2, "a": 1}}
	b := map[string]any{"y": map[string]any{"a": 1, "b": 2}, "x": 1}

	ha, err := StableHash(a)
	require.NoError(t, err)
	hb, err := StableHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 16)

	hc, err := StableHash(map[string]any{"x": 2})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestResolveLayering(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	require.NoError(t, st.UpsertPolicyPack(ctx, &domain.PolicyPack{
		Key:     "org",
		Version: "2.0",
		Pack: map[string]any{
			"defaults": map[string]any{"qa": map[string]any{"policy": "full"}},
		},
	}))

	repoRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoRoot, ".protocold"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, ".protocold", "policy.yaml"), []byte(`
requirements:
  protocol_files:
    - protocol.md
ignored_key:
  evil: true
`), 0o644))

	project := &domain.Project{
		PolicyPackKey:          "org",
		PolicyPackVersion:      "2.0",
		PolicyOverrides:        map[string]any{"enforcement": map[string]any{"mode": "block"}},
		PolicyRepoLocalEnabled: true,
	}

	r := NewResolver(st, logging.NewNop())
	eff, err := r.Resolve(ctx, project, repoRoot)
	require.NoError(t, err)

	assert.Equal(t, "org", eff.PackKey)
	assert.Equal(t, []string{"pack:org@2.0", "project_overrides", "repo_local"}, eff.Sources)
	assert.Contains(t, eff.Policy, "defaults")
	assert.Contains(t, eff.Policy, "enforcement")
	assert.Equal(t, []string{"protocol.md"}, RequiredProtocolFiles(eff.Policy))
	// Keys outside the allowlist never land.
	assert.NotContains(t, eff.Policy, "ignored_key")
	assert.Len(t, eff.Hash, 16)
}

func TestResolveMissingPackDegrades(t *testing.T) {
	r := NewResolver(store.NewMemory(), logging.NewNop())
	eff, err := r.Resolve(context.Background(), &domain.Project{}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPackKey, eff.PackKey)
	assert.Empty(t, eff.Policy)
}

func TestEvaluateProject(t *testing.T) {
	findings := EvaluateProject(&domain.Project{})
	require.Len(t, findings, 2)
	assert.True(t, HasBlockingFindings(findings))

	findings = EvaluateProject(&domain.Project{GitURL: "https://x/y.git", BaseBranch: "main"})
	assert.Empty(t, findings)
}

func TestEvaluateProtocolMissingFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "protocol.md"), []byte("# p"), 0o644))

	policy := map[string]any{
		"requirements": map[string]any{
			"protocol_files": []any{"protocol.md", "steps.md"},
		},
	}
	findings := EvaluateProtocol(&domain.ProtocolRun{ProtocolRoot: root}, policy)
	require.Len(t, findings, 1)
	assert.Equal(t, "policy.protocol.missing_file", findings[0].Code)
	assert.Equal(t, SeverityWarning, findings[0].Severity)
}

func TestApplyEnforcementMode(t *testing.T) {
	findings := []Finding{
		{Code: "policy.protocol.missing_file", Severity: SeverityWarning},
		{Code: "policy.other.note", Severity: SeverityWarning},
	}

	// Warn mode passes through.
	warn := ApplyEnforcementMode(findings, EnforcementWarn, nil)
	assert.False(t, HasBlockingFindings(warn))

	// Block mode upgrades codes in the default block set only.
	block := ApplyEnforcementMode(findings, EnforcementBlock, nil)
	assert.Equal(t, SeverityError, block[0].Severity)
	assert.Equal(t, SeverityWarning, block[1].Severity)
	assert.True(t, HasBlockingFindings(block))

	// A policy-supplied block list replaces the defaults.
	custom := map[string]any{
		"enforcement": map[string]any{"block_codes": []any{"policy.other.note"}},
	}
	block = ApplyEnforcementMode(findings, EnforcementBlock, custom)
	assert.Equal(t, SeverityWarning, block[0].Severity)
	assert.Equal(t, SeverityError, block[1].Severity)
}
