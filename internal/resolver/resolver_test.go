package resolver

import (
	"fmt"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosspack-dev/crosspack/internal/manifest"
)

func mustConstraint(t *testing.T, raw string) *semver.Constraints {
	t.Helper()
	c, err := semver.NewConstraint(raw)
	require.NoError(t, err)
	return c
}

func newManifest(t *testing.T, name, version string, provides []string, deps map[string]string) *manifest.PackageManifest {
	t.Helper()
	m := &manifest.PackageManifest{
		Name:         name,
		Version:      semver.MustParse(version),
		Provides:     provides,
		Dependencies: map[string]*semver.Constraints{},
	}
	for dep, req := range deps {
		m.Dependencies[dep] = mustConstraint(t, req)
	}
	return m
}

func lookupFrom(universe map[string][]*manifest.PackageManifest) LookupFunc {
	return func(name string) ([]*manifest.PackageManifest, error) {
		var candidates []*manifest.PackageManifest
		for _, manifests := range universe {
			for _, m := range manifests {
				if m.Name == name || containsToken(m.Provides, name) {
					candidates = append(candidates, m)
				}
			}
		}
		return candidates, nil
	}
}

func containsToken(tokens []string, needle string) bool {
	for _, token := range tokens {
		if token == needle {
			return true
		}
	}
	return false
}

func TestResolve_OrdersDependenciesFirst(t *testing.T) {
	universe := map[string][]*manifest.PackageManifest{
		"app": {newManifest(t, "app", "1.0.0", nil, map[string]string{"lib": ">=1"})},
		"lib": {newManifest(t, "lib", "1.2.0", nil, nil)},
	}

	graph, err := Resolve(
		[]RootRequirement{{Name: "app", Requirement: mustConstraint(t, "*")}},
		nil, nil, lookupFrom(universe))
	require.NoError(t, err)

	assert.Equal(t, []string{"lib", "app"}, graph.InstallOrder)
	assert.Equal(t, "1.2.0", graph.Manifests["lib"].Version.String())
	assert.True(t, graph.Tokens["app"])
	assert.True(t, graph.Tokens["lib"])
}

func TestResolve_PicksHighestSatisfyingVersion(t *testing.T) {
	universe := map[string][]*manifest.PackageManifest{
		"tool": {
			newManifest(t, "tool", "1.0.0", nil, nil),
			newManifest(t, "tool", "1.9.0", nil, nil),
			newManifest(t, "tool", "2.0.0", nil, nil),
		},
	}

	graph, err := Resolve(
		[]RootRequirement{{Name: "tool", Requirement: mustConstraint(t, ">=1, <2")}},
		nil, nil, lookupFrom(universe))
	require.NoError(t, err)
	assert.Equal(t, "1.9.0", graph.Manifests["tool"].Version.String())
}

func TestResolve_PinConstrainsSelection(t *testing.T) {
	universe := map[string][]*manifest.PackageManifest{
		"tool": {
			newManifest(t, "tool", "1.0.0", nil, nil),
			newManifest(t, "tool", "2.0.0", nil, nil),
		},
	}
	pins := map[string]*semver.Constraints{"tool": mustConstraint(t, "<2")}

	graph, err := Resolve(
		[]RootRequirement{{Name: "tool", Requirement: mustConstraint(t, "*")}},
		pins, nil, lookupFrom(universe))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", graph.Manifests["tool"].Version.String())
}

func TestResolve_UnknownPackage(t *testing.T) {
	_, err := Resolve(
		[]RootRequirement{{Name: "ghost", Requirement: mustConstraint(t, "*")}},
		nil, nil, lookupFrom(nil))
	require.Error(t, err)
	var resolverErr *Error
	require.ErrorAs(t, err, &resolverErr)
	assert.Equal(t, CodeUnknownPackage, resolverErr.Code)
}

func TestResolve_UnsatisfiableRequirement(t *testing.T) {
	universe := map[string][]*manifest.PackageManifest{
		"tool": {newManifest(t, "tool", "1.0.0", nil, nil)},
	}
	_, err := Resolve(
		[]RootRequirement{{Name: "tool", Requirement: mustConstraint(t, ">=9")}},
		nil, nil, lookupFrom(universe))
	var resolverErr *Error
	require.ErrorAs(t, err, &resolverErr)
	assert.Equal(t, CodeUnsatisfiable, resolverErr.Code)
}

func TestResolve_CycleIsError(t *testing.T) {
	universe := map[string][]*manifest.PackageManifest{
		"a": {newManifest(t, "a", "1.0.0", nil, map[string]string{"b": "*"})},
		"b": {newManifest(t, "b", "1.0.0", nil, map[string]string{"a": "*"})},
	}
	_, err := Resolve(
		[]RootRequirement{{Name: "a", Requirement: mustConstraint(t, "*")}},
		nil, nil, lookupFrom(universe))
	var resolverErr *Error
	require.ErrorAs(t, err, &resolverErr)
	assert.Equal(t, CodeCycle, resolverErr.Code)
}

func TestResolve_ProviderOverrideSelectsProvider(t *testing.T) {
	universe := map[string][]*manifest.PackageManifest{
		"ripgrep-legacy": {newManifest(t, "ripgrep-legacy", "1.0.0", nil, nil)},
		"ripgrep":        {newManifest(t, "ripgrep", "2.0.0", []string{"ripgrep-legacy"}, nil)},
		"app":            {newManifest(t, "app", "1.0.0", nil, map[string]string{"ripgrep-legacy": "*"})},
	}
	overrides := map[string]string{"ripgrep-legacy": "ripgrep"}

	// The lookup for the capability returns only the provider: were the
	// legacy package returned too, the override would target a direct
	// package name and fail. The override then keeps the provider.
	lookup := func(name string) ([]*manifest.PackageManifest, error) {
		if name == "ripgrep-legacy" {
			return []*manifest.PackageManifest{universe["ripgrep"][0]}, nil
		}
		return lookupFrom(universe)(name)
	}

	graph, err := Resolve(
		[]RootRequirement{{Name: "app", Requirement: mustConstraint(t, "*")}},
		nil, overrides, lookup)
	require.NoError(t, err)

	assert.Contains(t, graph.Manifests, "ripgrep")
	assert.NotContains(t, graph.Manifests, "ripgrep-legacy")
	require.NoError(t, ValidateOverridesUsed(overrides, graph.Tokens))
}

func TestResolve_DirectNameOverrideIsError(t *testing.T) {
	universe := map[string][]*manifest.PackageManifest{
		"tool":  {newManifest(t, "tool", "1.0.0", nil, nil)},
		"other": {newManifest(t, "other", "1.0.0", []string{"tool"}, nil)},
	}
	_, err := Resolve(
		[]RootRequirement{{Name: "tool", Requirement: mustConstraint(t, "*")}},
		nil, map[string]string{"tool": "other"}, lookupFrom(universe))
	var resolverErr *Error
	require.ErrorAs(t, err, &resolverErr)
	assert.Equal(t, CodeDirectOverride, resolverErr.Code)
}

func TestResolve_OverrideWithoutMatchingCandidates(t *testing.T) {
	universe := map[string][]*manifest.PackageManifest{
		"cap": {newManifest(t, "provider-a", "1.0.0", []string{"cap"}, nil)},
	}
	_, err := Resolve(
		[]RootRequirement{{Name: "cap", Requirement: mustConstraint(t, "*")}},
		nil, map[string]string{"cap": "provider-b"}, lookupFrom(universe))
	var resolverErr *Error
	require.ErrorAs(t, err, &resolverErr)
	assert.Equal(t, CodeOverrideMismatch, resolverErr.Code)
}

func TestValidateOverridesUsed(t *testing.T) {
	overrides := map[string]string{"cap": "pkg", "other": "pkg2"}
	err := ValidateOverridesUsed(overrides, map[string]bool{"cap": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "other=pkg2")
	var resolverErr *Error
	require.ErrorAs(t, err, &resolverErr)
	assert.Equal(t, CodeUnusedOverride, resolverErr.Code)

	require.NoError(t, ValidateOverridesUsed(overrides, map[string]bool{"cap": true, "other": true}))
}

func TestResolve_SharedDependencyResolvedOnce(t *testing.T) {
	universe := map[string][]*manifest.PackageManifest{
		"a":      {newManifest(t, "a", "1.0.0", nil, map[string]string{"shared": "*"})},
		"b":      {newManifest(t, "b", "1.0.0", nil, map[string]string{"shared": "*"})},
		"shared": {newManifest(t, "shared", "3.0.0", nil, nil)},
	}

	graph, err := Resolve(
		[]RootRequirement{
			{Name: "a", Requirement: mustConstraint(t, "*")},
			{Name: "b", Requirement: mustConstraint(t, "*")},
		},
		nil, nil, lookupFrom(universe))
	require.NoError(t, err)

	count := 0
	for _, name := range graph.InstallOrder {
		if name == "shared" {
			count++
		}
	}
	assert.Equal(t, 1, count, fmt.Sprintf("install order: %v", graph.InstallOrder))
	assert.Less(t, indexOf(graph.InstallOrder, "shared"), indexOf(graph.InstallOrder, "a"))
}

func indexOf(values []string, needle string) int {
	for i, value := range values {
		if value == needle {
			return i
		}
	}
	return -1
}
