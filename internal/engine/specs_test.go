package engine

import (
	"strings"
	"testing"
)

func TestParseSpec(t *testing.T) {
	name, requirement, err := ParseSpec("ripgrep@>=14")
	if err != nil {
		t.Fatalf("ParseSpec() error = %v", err)
	}
	if name != "ripgrep" || requirement == nil {
		t.Errorf("ParseSpec() = %s, %v", name, requirement)
	}

	name, _, err = ParseSpec("ripgrep")
	if err != nil || name != "ripgrep" {
		t.Errorf("ParseSpec() bare name = %s, %v", name, err)
	}

	if _, _, err := ParseSpec("@1.0"); err == nil {
		t.Error("ParseSpec() accepted empty name")
	}
	if _, _, err := ParseSpec("tool@???"); err == nil {
		t.Error("ParseSpec() accepted invalid requirement")
	}
}

func TestParsePinSpec(t *testing.T) {
	if _, _, err := ParsePinSpec("tool"); err == nil {
		t.Error("ParsePinSpec() accepted spec without constraint")
	}
	if _, _, err := ParsePinSpec("tool@"); err == nil {
		t.Error("ParsePinSpec() accepted empty constraint")
	}
	name, requirement, err := ParsePinSpec("tool@<2")
	if err != nil || name != "tool" || requirement == nil {
		t.Errorf("ParsePinSpec() = %s, %v, %v", name, requirement, err)
	}
}

func TestIsPolicyToken(t *testing.T) {
	for _, valid := range []string{"rg", "ripgrep-legacy", "a.b_c+d", "0tool"} {
		if !IsPolicyToken(valid) {
			t.Errorf("IsPolicyToken(%q) = false", valid)
		}
	}
	for _, invalid := range []string{"", "Tool", "-lead", "has space", strings.Repeat("a", 65)} {
		if IsPolicyToken(invalid) {
			t.Errorf("IsPolicyToken(%q) = true", invalid)
		}
	}
}

func TestParseProviderOverrides(t *testing.T) {
	overrides, err := ParseProviderOverrides([]string{"cap=pkg", "other=pkg2"})
	if err != nil {
		t.Fatalf("ParseProviderOverrides() error = %v", err)
	}
	if overrides["cap"] != "pkg" || overrides["other"] != "pkg2" {
		t.Errorf("overrides = %v", overrides)
	}

	if _, err := ParseProviderOverrides([]string{"nosep"}); err == nil {
		t.Error("accepted override without separator")
	}
	if _, err := ParseProviderOverrides([]string{"Bad=pkg"}); err == nil {
		t.Error("accepted invalid capability token")
	}
	if _, err := ParseProviderOverrides([]string{"cap=pkg", "cap=pkg2"}); err == nil {
		t.Error("accepted duplicate capability binding")
	}
}
