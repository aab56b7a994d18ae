package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Search prints the sorted package names matching needle across the selected
// backend.
func (o *Orchestrator) Search(needle string) error {
	backend, err := o.SelectBackend()
	if err != nil {
		return err
	}
	names, err := backend.SearchNames(needle)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		o.printf("no packages match '%s'", needle)
		return nil
	}
	for _, name := range names {
		o.printf("%s", name)
	}
	return nil
}

// Info prints every version of a package with its capability and
// relationship metadata as a table.
func (o *Orchestrator) Info(name string) error {
	backend, err := o.SelectBackend()
	if err != nil {
		return err
	}
	manifests, err := backend.PackageVersions(name)
	if err != nil {
		return err
	}
	if len(manifests) == 0 {
		return fmt.Errorf("package '%s' not found", name)
	}

	o.printf("Package: %s", name)
	t := table.NewWriter()
	t.SetOutputMirror(o.out())
	t.AppendHeader(table.Row{"Version", "Provides", "Conflicts", "Replaces", "Targets"})
	for _, m := range manifests {
		targets := make([]string, 0, len(m.Artifacts))
		for _, artifact := range m.Artifacts {
			targets = append(targets, artifact.Target)
		}
		sort.Strings(targets)
		t.AppendRow(table.Row{
			m.Version.String(),
			strings.Join(m.Provides, ", "),
			formatRequirementMapKeys(mapKeysWithReqs(m.Conflicts)),
			formatRequirementMapKeys(mapKeysWithReqs(m.Replaces)),
			strings.Join(targets, ", "),
		})
	}
	t.Render()
	return nil
}

type namedRequirement struct {
	name string
	req  string
}

func mapKeysWithReqs[V interface{ String() string }](m map[string]V) []namedRequirement {
	out := make([]namedRequirement, 0, len(m))
	for name, req := range m {
		out = append(out, namedRequirement{name: name, req: req.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func formatRequirementMapKeys(entries []namedRequirement) string {
	parts := make([]string, 0, len(entries))
	for _, entry := range entries {
		parts = append(parts, fmt.Sprintf("%s(%s)", entry.name, entry.req))
	}
	return strings.Join(parts, ", ")
}
