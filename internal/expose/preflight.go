package expose

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/crosspack-dev/crosspack/internal/prefix"
	"github.com/crosspack-dev/crosspack/internal/receipt"
)

// PreflightEnv carries the state preflight checks run against. CurrentExe is
// the running crosspack binary, which the self-update carve-out compares
// declared bins to.
type PreflightEnv struct {
	Layout             *prefix.Layout
	Receipts           []*receipt.InstallReceipt
	GuiStates          map[string][]receipt.GuiAsset
	ReplacementTargets map[string]bool
	CurrentExe         string
}

// ValidateBinaryPreflight rejects a plan whose declared bins conflict with
// another package's exposure or an unmanaged on-disk file. Bins owned by the
// package itself or by a replacement target are allowed, as is the running
// crosspack binary during self-update.
func ValidateBinaryPreflight(env *PreflightEnv, pkg string, desiredBins []string) error {
	ownedBySelf := make(map[string]bool)
	ownedByReplacements := make(map[string]bool)
	for _, r := range env.Receipts {
		switch {
		case r.Name == pkg:
			for _, bin := range r.ExposedBins {
				ownedBySelf[bin] = true
			}
		case env.ReplacementTargets[r.Name]:
			for _, bin := range r.ExposedBins {
				ownedByReplacements[bin] = true
			}
		}
	}

	for _, desired := range desiredBins {
		for _, r := range env.Receipts {
			if r.Name == pkg || env.ReplacementTargets[r.Name] {
				continue
			}
			for _, owned := range r.ExposedBins {
				if owned == desired {
					return fmt.Errorf("conflict-binary: binary '%s' is already owned by package '%s'",
						desired, r.Name)
				}
			}
		}

		path := env.Layout.BinPath(desired)
		allowsSelfReplace := pkg == "crosspack" && desired == "crosspack" &&
			env.CurrentExe != "" && pathMatchesCurrentExe(env.CurrentExe, path)
		if _, err := os.Lstat(path); err == nil &&
			!ownedBySelf[desired] && !ownedByReplacements[desired] && !allowsSelfReplace {
			return fmt.Errorf("conflict-binary: binary '%s' at %s already exists and is not managed by crosspack",
				desired, path)
		}
	}
	return nil
}

func pathMatchesCurrentExe(currentExe, candidate string) bool {
	if currentExe == candidate {
		return true
	}
	resolvedCurrent, errCurrent := filepath.EvalSymlinks(currentExe)
	resolvedCandidate, errCandidate := filepath.EvalSymlinks(candidate)
	if errCurrent != nil || errCandidate != nil {
		return false
	}
	return resolvedCurrent == resolvedCandidate
}

// ValidateCompletionPreflight applies the symmetrical rules for completion
// storage paths against other receipts and on-disk files.
func ValidateCompletionPreflight(env *PreflightEnv, pkg string, desiredPaths []string) error {
	ownedBySelf := make(map[string]bool)
	ownedByReplacements := make(map[string]bool)
	for _, r := range env.Receipts {
		switch {
		case r.Name == pkg:
			for _, completion := range r.ExposedCompletions {
				ownedBySelf[completion] = true
			}
		case env.ReplacementTargets[r.Name]:
			for _, completion := range r.ExposedCompletions {
				ownedByReplacements[completion] = true
			}
		}
	}

	for _, desired := range desiredPaths {
		for _, r := range env.Receipts {
			if r.Name == pkg || env.ReplacementTargets[r.Name] {
				continue
			}
			for _, owned := range r.ExposedCompletions {
				if owned == desired {
					return fmt.Errorf("conflict-completion: completion '%s' is already owned by package '%s'",
						desired, r.Name)
				}
			}
		}

		path, err := ExposedCompletionPath(env.Layout, desired)
		if err != nil {
			return err
		}
		if _, statErr := os.Lstat(path); statErr == nil &&
			!ownedBySelf[desired] && !ownedByReplacements[desired] {
			return fmt.Errorf("conflict-completion: completion '%s' at %s already exists and is not managed by crosspack",
				desired, path)
		}
	}
	return nil
}

// ValidateGuiPreflight rejects ownership-key claims held by other packages
// and on-disk collisions with files not owned by this package or a
// replacement target.
func ValidateGuiPreflight(env *PreflightEnv, pkg string, desiredAssets []receipt.GuiAsset) error {
	ownedBySelfPaths := make(map[string]bool)
	ownedByReplacementPaths := make(map[string]bool)
	for owner, assets := range env.GuiStates {
		for _, asset := range assets {
			switch {
			case owner == pkg:
				ownedBySelfPaths[asset.RelPath] = true
			case env.ReplacementTargets[owner]:
				ownedByReplacementPaths[asset.RelPath] = true
			}
		}
	}

	for _, desired := range desiredAssets {
		for owner, assets := range env.GuiStates {
			if owner == pkg || env.ReplacementTargets[owner] {
				continue
			}
			for _, owned := range assets {
				if owned.Key == desired.Key {
					return fmt.Errorf("conflict-gui: gui ownership key '%s' is already owned by package '%s'",
						desired.Key, owner)
				}
			}
		}

		path, err := GuiAssetPath(env.Layout, desired.RelPath)
		if err != nil {
			return err
		}
		if _, statErr := os.Lstat(path); statErr == nil &&
			!ownedBySelfPaths[desired.RelPath] && !ownedByReplacementPaths[desired.RelPath] {
			return fmt.Errorf("conflict-gui: gui asset '%s' at %s already exists and is not managed by crosspack",
				desired.RelPath, path)
		}
	}
	return nil
}
