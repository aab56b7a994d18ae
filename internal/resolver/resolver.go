// Package resolver turns root requirements into an ordered install plan.
//
// Resolution walks manifest-declared dependencies depth-first, honoring pins
// and provider overrides, and emits a topological install order with
// dependencies before dependents. Dependency cycles are errors.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/crosspack-dev/crosspack/internal/manifest"
)

// RootRequirement is one requested package with its version requirement.
type RootRequirement struct {
	Name        string
	Requirement *semver.Constraints
}

// LookupFunc returns all candidate manifests for a requested name, sorted by
// version descending.
type LookupFunc func(name string) ([]*manifest.PackageManifest, error)

// Graph is the resolver output: a topological install order and the chosen
// manifest per package, plus the set of requested tokens consumed (package
// names and capability tokens), which override validation checks against.
type Graph struct {
	InstallOrder []string
	Manifests    map[string]*manifest.PackageManifest
	Tokens       map[string]bool
}

// ErrorCode classifies resolver failures with a stable reason prefix.
type ErrorCode string

const (
	// CodeUnknownPackage means no candidates exist for a requested name.
	CodeUnknownPackage ErrorCode = "resolver-unknown-package"
	// CodeUnsatisfiable means candidates exist but none satisfy the
	// effective requirement.
	CodeUnsatisfiable ErrorCode = "resolver-unsatisfiable"
	// CodeCycle means the dependency graph is cyclic.
	CodeCycle ErrorCode = "resolver-cycle"
	// CodeUnusedOverride means a provider override bound a capability the
	// plan never consumed.
	CodeUnusedOverride ErrorCode = "resolver-unused-override"
	// CodeDirectOverride means an override targeted a direct package name.
	CodeDirectOverride ErrorCode = "resolver-direct-override"
	// CodeOverrideMismatch means an override filtered away every candidate.
	CodeOverrideMismatch ErrorCode = "resolver-override-mismatch"
)

// Error is a resolver failure with its classification code.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

type resolveState struct {
	pins      map[string]*semver.Constraints
	overrides map[string]string
	lookup    LookupFunc

	order    []string
	chosen   map[string]*manifest.PackageManifest
	tokens   map[string]bool
	visiting map[string]bool
}

// Resolve produces the install graph for the given roots.
func Resolve(
	roots []RootRequirement,
	pins map[string]*semver.Constraints,
	overrides map[string]string,
	lookup LookupFunc,
) (*Graph, error) {
	state := &resolveState{
		pins:      pins,
		overrides: overrides,
		lookup:    lookup,
		chosen:    make(map[string]*manifest.PackageManifest),
		tokens:    make(map[string]bool),
		visiting:  make(map[string]bool),
	}

	for _, root := range roots {
		if _, err := state.resolveName(root.Name, root.Requirement); err != nil {
			return nil, err
		}
	}

	return &Graph{
		InstallOrder: state.order,
		Manifests:    state.chosen,
		Tokens:       state.tokens,
	}, nil
}

// resolveName resolves one requested token and returns the chosen manifest
// name.
func (s *resolveState) resolveName(name string, requirement *semver.Constraints) (string, error) {
	s.tokens[name] = true

	if s.visiting[name] {
		return "", &Error{Code: CodeCycle,
			Message: fmt.Sprintf("dependency cycle detected at '%s'", name)}
	}
	s.visiting[name] = true
	defer delete(s.visiting, name)

	candidates, err := s.lookup(name)
	if err != nil {
		return "", err
	}
	candidates, err = applyProviderOverride(name, candidates, s.overrides)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", &Error{Code: CodeUnknownPackage,
			Message: fmt.Sprintf("no package provides '%s'", name)}
	}

	chosen := selectManifest(candidates, requirement, s.pins[name])
	if chosen == nil {
		return "", &Error{Code: CodeUnsatisfiable, Message: fmt.Sprintf(
			"no version of '%s' satisfies requirement %s%s",
			name, requirementString(requirement), pinSuffix(s.pins[name]))}
	}

	if existing, ok := s.chosen[chosen.Name]; ok {
		// Already planned; the resolver trusts manifest-declared dependency
		// compatibility, so a second path to the same package keeps the
		// first selection.
		return existing.Name, nil
	}
	s.chosen[chosen.Name] = chosen

	for _, depName := range chosen.DependencyNames() {
		if _, err := s.resolveName(depName, chosen.Dependencies[depName]); err != nil {
			return "", err
		}
	}

	// Post-order append keeps dependencies ahead of their dependents.
	s.order = append(s.order, chosen.Name)
	return chosen.Name, nil
}

// applyProviderOverride filters candidates through the override map. An
// override for a token retains only manifests named after the override
// target that either are the token itself or declare it in provides.
func applyProviderOverride(
	requested string,
	candidates []*manifest.PackageManifest,
	overrides map[string]string,
) ([]*manifest.PackageManifest, error) {
	provider, ok := overrides[requested]
	if !ok {
		return candidates, nil
	}

	hasDirect := false
	for _, candidate := range candidates {
		if candidate.Name == requested {
			hasDirect = true
			break
		}
	}
	if hasDirect && provider != requested {
		return nil, &Error{Code: CodeDirectOverride, Message: fmt.Sprintf(
			"provider override '%s=%s' is invalid: '%s' resolves directly to package manifests; direct package names cannot be overridden",
			requested, provider, requested)}
	}

	var filtered []*manifest.PackageManifest
	for _, candidate := range candidates {
		if candidate.Name != provider {
			continue
		}
		if candidate.Name == requested || provides(candidate, requested) {
			filtered = append(filtered, candidate)
		}
	}
	if len(filtered) == 0 {
		return nil, &Error{Code: CodeOverrideMismatch, Message: fmt.Sprintf(
			"provider override '%s=%s' did not match any candidate packages", requested, provider)}
	}
	return filtered, nil
}

func provides(m *manifest.PackageManifest, capability string) bool {
	for _, provided := range m.Provides {
		if provided == capability {
			return true
		}
	}
	return false
}

// selectManifest picks the highest version satisfying both the request and
// the pin requirement.
func selectManifest(
	candidates []*manifest.PackageManifest,
	requirement *semver.Constraints,
	pin *semver.Constraints,
) *manifest.PackageManifest {
	var best *manifest.PackageManifest
	for _, candidate := range candidates {
		if requirement != nil && !requirement.Check(candidate.Version) {
			continue
		}
		if pin != nil && !pin.Check(candidate.Version) {
			continue
		}
		if best == nil || candidate.Version.GreaterThan(best.Version) {
			best = candidate
		}
	}
	return best
}

// ValidateOverridesUsed fails when any override binds a capability absent
// from the consumed token set. Across multi-target plans the caller unions
// tokens first, so an override used by any plan counts as used.
func ValidateOverridesUsed(overrides map[string]string, tokens map[string]bool) error {
	var unused []string
	for capability, provider := range overrides {
		if !tokens[capability] {
			unused = append(unused, capability+"="+provider)
		}
	}
	if len(unused) == 0 {
		return nil
	}
	sort.Strings(unused)
	return &Error{Code: CodeUnusedOverride,
		Message: fmt.Sprintf("unused provider override(s): %s", strings.Join(unused, ", "))}
}

func requirementString(requirement *semver.Constraints) string {
	if requirement == nil {
		return "*"
	}
	return requirement.String()
}

func pinSuffix(pin *semver.Constraints) string {
	if pin == nil {
		return ""
	}
	return fmt.Sprintf(" (pinned to %s)", pin.String())
}
