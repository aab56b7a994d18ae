package engine

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ParseSpec splits "name[@req]" into a package name and a version
// requirement, defaulting to any version.
func ParseSpec(spec string) (string, *semver.Constraints, error) {
	name, req, found := strings.Cut(spec, "@")
	if !found {
		req = "*"
	}
	if strings.TrimSpace(name) == "" {
		return "", nil, fmt.Errorf("package name must not be empty")
	}
	requirement, err := semver.NewConstraint(req)
	if err != nil {
		return "", nil, fmt.Errorf("invalid version requirement for '%s': %s: %w", name, req, err)
	}
	return name, requirement, nil
}

// ParsePinSpec parses "name@req" for pin commands; the constraint is
// mandatory.
func ParsePinSpec(spec string) (string, *semver.Constraints, error) {
	name, req, found := strings.Cut(spec, "@")
	if !found {
		return "", nil, fmt.Errorf("pin requires explicit constraint: use '<name>@<requirement>'")
	}
	if strings.TrimSpace(name) == "" {
		return "", nil, fmt.Errorf("package name must not be empty")
	}
	if strings.TrimSpace(req) == "" {
		return "", nil, fmt.Errorf("pin requirement must not be empty")
	}
	requirement, err := semver.NewConstraint(req)
	if err != nil {
		return "", nil, fmt.Errorf("invalid pin requirement for '%s': %s: %w", name, req, err)
	}
	return name, requirement, nil
}

// IsPolicyToken reports whether a value follows the package-name grammar
// shared by capability tokens: 1-64 chars, first [a-z0-9], body [a-z0-9._+-].
func IsPolicyToken(value string) bool {
	if value == "" || len(value) > 64 {
		return false
	}
	first := value[0]
	if !((first >= 'a' && first <= 'z') || (first >= '0' && first <= '9')) {
		return false
	}
	for i := 1; i < len(value); i++ {
		ch := value[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '.' || ch == '_' || ch == '+' || ch == '-' {
			continue
		}
		return false
	}
	return true
}

// ParseProviderOverrides parses repeated "capability=package" flags into an
// override map, rejecting malformed tokens and duplicate bindings.
func ParseProviderOverrides(values []string) (map[string]string, error) {
	overrides := make(map[string]string, len(values))
	for _, value := range values {
		capability, pkg, found := strings.Cut(value, "=")
		if !found {
			return nil, fmt.Errorf("invalid provider override '%s': expected capability=package", value)
		}
		if !IsPolicyToken(capability) {
			return nil, fmt.Errorf("invalid provider override '%s': capability '%s' must use package-name grammar",
				value, capability)
		}
		if !IsPolicyToken(pkg) {
			return nil, fmt.Errorf("invalid provider override '%s': package '%s' must use package-name grammar",
				value, pkg)
		}
		if _, dup := overrides[capability]; dup {
			return nil, fmt.Errorf("invalid provider override '%s': duplicate override for capability '%s': use one binding per capability",
				value, capability)
		}
		overrides[capability] = pkg
	}
	return overrides, nil
}
