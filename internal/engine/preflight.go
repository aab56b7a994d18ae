package engine

import (
	"fmt"

	"github.com/crosspack-dev/crosspack/internal/expose"
	"github.com/crosspack-dev/crosspack/internal/manifest"
	"github.com/crosspack-dev/crosspack/internal/receipt"
)

// collectDeclaredBinaries validates and lists an artifact's declared binary
// names, rejecting duplicates.
func collectDeclaredBinaries(art *manifest.Artifact) ([]string, error) {
	names := make([]string, 0, len(art.Binaries))
	seen := make(map[string]bool, len(art.Binaries))
	for _, binary := range art.Binaries {
		if err := expose.ValidateBinaryName(binary.Name); err != nil {
			return nil, err
		}
		if seen[binary.Name] {
			return nil, fmt.Errorf("duplicate binary declaration '%s' for target '%s'",
				binary.Name, art.Target)
		}
		seen[binary.Name] = true
		names = append(names, binary.Name)
	}
	return names, nil
}

// collectDeclaredCompletions validates an artifact's completion
// declarations, rejecting duplicates of (shell, path).
func collectDeclaredCompletions(art *manifest.Artifact) ([]manifest.Completion, error) {
	declared := make([]manifest.Completion, 0, len(art.Completions))
	seen := make(map[manifest.Completion]bool, len(art.Completions))
	for _, completion := range art.Completions {
		if seen[completion] {
			return nil, fmt.Errorf("duplicate completion declaration for shell '%s' and path '%s' in target '%s'",
				completion.Shell, completion.Path, art.Target)
		}
		seen[completion] = true
		declared = append(declared, completion)
	}
	return declared, nil
}

// validateInstallPreflight runs the full conflict preflight for one resolved
// package against the current receipts: binaries, completions, and GUI
// assets, with replacement targets exempted.
func (o *Orchestrator) validateInstallPreflight(resolved *ResolvedInstall, receipts []*receipt.InstallReceipt) error {
	replacements, err := collectReplacementReceipts(resolved.Manifest, receipts)
	if err != nil {
		return err
	}
	replacementTargets := make(map[string]bool, len(replacements))
	for _, r := range replacements {
		replacementTargets[r.Name] = true
	}

	exposedBins, err := collectDeclaredBinaries(resolved.Artifact)
	if err != nil {
		return err
	}
	declaredCompletions, err := collectDeclaredCompletions(resolved.Artifact)
	if err != nil {
		return err
	}
	declaredGuiAssets, err := expose.CollectDeclaredGuiAssets(resolved.Manifest.Name, resolved.Artifact)
	if err != nil {
		return err
	}
	completionPaths := make([]string, 0, len(declaredCompletions))
	for _, completion := range declaredCompletions {
		projected, err := expose.ProjectedCompletionPath(resolved.Manifest.Name, completion.Shell, completion.Path)
		if err != nil {
			return err
		}
		completionPaths = append(completionPaths, projected)
	}

	guiStates, err := o.store.ReadAllGuiStates()
	if err != nil {
		return err
	}

	env := &expose.PreflightEnv{
		Layout:             o.layout,
		Receipts:           receipts,
		GuiStates:          guiStates,
		ReplacementTargets: replacementTargets,
		CurrentExe:         CurrentExecutable(),
	}
	if err := expose.ValidateBinaryPreflight(env, resolved.Manifest.Name, exposedBins); err != nil {
		return err
	}
	if err := expose.ValidateCompletionPreflight(env, resolved.Manifest.Name, completionPaths); err != nil {
		return err
	}
	return expose.ValidateGuiPreflight(env, resolved.Manifest.Name, declaredGuiAssets)
}
