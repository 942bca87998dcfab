package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/logging"
	"github.com/fyrsmithlabs/protocold/internal/store"
)

const (
	// DefaultPackKey is used when a project names no policy pack.
	DefaultPackKey = "default"
	// DefaultPackVersion is used when a project names no pack version.
	DefaultPackVersion = "1.0"

	// repoLocalDir is the in-repo directory holding override policy.
	repoLocalDir = ".protocold"
)

// allowedOverrideKeys is the allowlist applied to override layers.
var allowedOverrideKeys = map[string]bool{
	"defaults":       true,
	"requirements":   true,
	"clarifications": true,
	"enforcement":    true,
}

// Effective is the result of policy resolution.
type Effective struct {
	Policy      map[string]any
	Hash        string
	PackKey     string
	PackVersion string
	// Sources records which layers contributed, for diagnostics.
	Sources []string
}

// Resolver merges policy layers into an effective policy.
type Resolver struct {
	store  store.Store
	logger *logging.Logger
}

// NewResolver builds a Resolver over the given store.
func NewResolver(st store.Store, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{store: st, logger: logger}
}

// Resolve computes the effective policy for a project. repoRoot may be
// empty; repo-local overrides then never apply. A missing policy pack
// degrades to an empty base layer rather than failing resolution.
func (r *Resolver) Resolve(ctx context.Context, project *domain.Project, repoRoot string) (*Effective, error) {
	packKey := project.PolicyPackKey
	if packKey == "" {
		packKey = DefaultPackKey
	}
	packVersion := project.PolicyPackVersion
	if packVersion == "" {
		packVersion = DefaultPackVersion
	}

	merged := map[string]any{}
	sources := []string{"pack:" + packKey + "@" + packVersion}

	pack, err := r.store.GetPolicyPack(ctx, packKey, packVersion)
	switch {
	case err == nil:
		merged = DeepMerge(merged, pack.Pack)
	case errors.Is(err, domain.ErrNotFound):
		r.logger.Warn(ctx, "policy pack not found, using empty base",
			zap.String("key", packKey), zap.String("version", packVersion))
	default:
		return nil, fmt.Errorf("load policy pack %s@%s: %w", packKey, packVersion, err)
	}

	if len(project.PolicyOverrides) > 0 {
		merged = DeepMerge(merged, sanitizeOverride(project.PolicyOverrides))
		sources = append(sources, "project_overrides")
	}

	if project.PolicyRepoLocalEnabled && repoRoot != "" {
		if local := loadRepoLocal(repoRoot); local != nil {
			merged = DeepMerge(merged, sanitizeOverride(local))
			sources = append(sources, "repo_local")
		}
	}

	hash, err := StableHash(merged)
	if err != nil {
		return nil, err
	}
	return &Effective{
		Policy:      merged,
		Hash:        hash,
		PackKey:     packKey,
		PackVersion: packVersion,
		Sources:     sources,
	}, nil
}

// sanitizeOverride drops top-level keys outside the allowlist.
func sanitizeOverride(override map[string]any) map[string]any {
	out := make(map[string]any, len(override))
	for k, v := range override {
		if allowedOverrideKeys[k] {
			out[k] = v
		}
	}
	return out
}

// DeepMerge merges override into base: maps merge recursively, any other
// value replaces. Neither input is mutated.
func DeepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		bm, bok := out[k].(map[string]any)
		om, ook := v.(map[string]any)
		if bok && ook {
			out[k] = DeepMerge(bm, om)
		} else {
			out[k] = v
		}
	}
	return out
}

// StableHash returns a short stable digest of a policy document. JSON
// object keys marshal sorted, so equal documents hash equal regardless of
// construction order.
func StableHash(policy map[string]any) (string, error) {
	b, err := json.Marshal(policy)
	if err != nil {
		return "", fmt.Errorf("hash policy: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16], nil
}

// loadRepoLocal reads .protocold/policy.json or .protocold/policy.yaml.
// Best effort: unreadable or malformed files are treated as absent.
func loadRepoLocal(repoRoot string) map[string]any {
	dir := filepath.Join(repoRoot, repoLocalDir)

	if b, err := os.ReadFile(filepath.Join(dir, "policy.json")); err == nil {
		var doc map[string]any
		if json.Unmarshal(b, &doc) == nil {
			return doc
		}
	}
	if b, err := os.ReadFile(filepath.Join(dir, "policy.yaml")); err == nil {
		if doc, err := yaml.Parser().Unmarshal(b); err == nil {
			return doc
		}
	}
	return nil
}

// RequiredChecks extracts the CI checks a policy requires.
func RequiredChecks(policy map[string]any) []string {
	if checks := stringSlice(dig(policy, "defaults", "ci", "required_checks")); checks != nil {
		return checks
	}
	return stringSlice(dig(policy, "requirements", "required_checks"))
}

// RequiredProtocolFiles extracts the files a protocol directory must hold.
func RequiredProtocolFiles(policy map[string]any) []string {
	return stringSlice(dig(policy, "requirements", "protocol_files"))
}

func dig(doc map[string]any, path ...string) any {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
