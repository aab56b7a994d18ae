package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crosspack-dev/crosspack/internal/artifact"
	"github.com/crosspack-dev/crosspack/internal/download"
	"github.com/crosspack-dev/crosspack/internal/expose"
	"github.com/crosspack-dev/crosspack/internal/fsutil"
	"github.com/crosspack-dev/crosspack/internal/manifest"
	"github.com/crosspack-dev/crosspack/internal/receipt"
	"github.com/crosspack-dev/crosspack/internal/security"
)

// InstallOutcome reports what installing one resolved package produced.
type InstallOutcome struct {
	Name               string
	Version            string
	Target             string
	ArchiveType        manifest.ArchiveType
	ArtifactURL        string
	CachePath          string
	DownloadStatus     download.Status
	InstallRoot        string
	ReceiptPath        string
	ExposedBins        []string
	ExposedCompletions []string
	ExposedGuiAssets   []string
	NativeRecords      []string
	Warnings           []string
}

// installResolvedOptions tunes one installResolved call.
type installResolvedOptions struct {
	snapshotID      string
	forceRedownload bool
	policy          artifact.InteractionPolicy
}

// artifactCachePath computes the deterministic cache location of an
// artifact. Bin artifacts keep their URL-derived file name; everything else
// uses the archive type's stable name.
func (o *Orchestrator) artifactCachePath(resolved *ResolvedInstall) (string, error) {
	dir := o.layout.ArtifactCacheDir(resolved.Manifest.Name, resolved.Manifest.Version.String(), resolved.Target)
	if resolved.ArchiveType == manifest.ArchiveBin {
		fileName, err := binCacheFileNameFromURL(resolved.Artifact.URL)
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, fileName), nil
	}
	return filepath.Join(dir, resolved.ArchiveType.CacheFileName()), nil
}

// binCacheFileNameFromURL derives a safe cache file name from the final URL
// path segment.
func binCacheFileNameFromURL(artifactURL string) (string, error) {
	withoutFragment, _, _ := strings.Cut(artifactURL, "#")
	withoutQuery, _, _ := strings.Cut(withoutFragment, "?")
	fileName := withoutQuery
	if idx := strings.LastIndexByte(withoutQuery, '/'); idx >= 0 {
		fileName = withoutQuery[idx+1:]
	}
	if fileName == "" || fileName == "." || fileName == ".." || strings.ContainsRune(fileName, '\\') {
		return "", fmt.Errorf("could not infer bin cache file name from URL '%s'", artifactURL)
	}
	return fileName, nil
}

// installResolved performs the full installation of one resolved package:
// download, checksum, staging, replacement handoff, exposure, native sync,
// and finally the receipt write. Exposure always precedes the receipt write
// so a receipt never describes assets that do not exist.
func (o *Orchestrator) installResolved(
	resolved *ResolvedInstall,
	dependencyReceipts []string,
	rootNames []string,
	plannedDependencyOverrides map[string][]string,
	opts installResolvedOptions,
) (*InstallOutcome, error) {
	receipts, err := o.store.ReadAll()
	if err != nil {
		return nil, err
	}
	if err := o.validateInstallPreflight(resolved, receipts); err != nil {
		return nil, err
	}

	replacementReceipts, err := collectReplacementReceipts(resolved.Manifest, receipts)
	if err != nil {
		return nil, err
	}

	exposedBins, err := collectDeclaredBinaries(resolved.Artifact)
	if err != nil {
		return nil, err
	}
	declaredCompletions, err := collectDeclaredCompletions(resolved.Artifact)
	if err != nil {
		return nil, err
	}

	cachePath, err := o.artifactCachePath(resolved)
	if err != nil {
		return nil, err
	}
	downloadStatus, err := o.downloader.Fetch(downloadContext(), resolved.Artifact.URL, cachePath, opts.forceRedownload)
	if err != nil {
		return nil, err
	}

	checksumOK, err := security.VerifySHA256File(cachePath, resolved.Artifact.SHA256)
	if err != nil {
		return nil, err
	}
	if !checksumOK {
		// A corrupt cache entry must not survive to poison the next run.
		_ = fsutil.RemoveFileIfExists(cachePath)
		return nil, fmt.Errorf("artifact-checksum-mismatch: sha256 mismatch for %s (expected %s)",
			cachePath, resolved.Artifact.SHA256)
	}

	installMode := installModeForArchiveType(resolved.ArchiveType)
	installRoot, err := artifact.InstallFromArtifact(
		o.layout,
		resolved.Manifest.Name,
		resolved.Manifest.Version.String(),
		cachePath,
		resolved.ArchiveType,
		artifact.InstallOptions{
			StripComponents: resolved.Artifact.StripComponents,
			ArtifactRoot:    resolved.Artifact.ArtifactRoot,
			InstallMode:     installMode,
			Policy:          opts.policy,
		},
	)
	if err != nil {
		return nil, err
	}

	// Replacement targets are uninstalled only after their preflight passed
	// for all of them; a handoff failure removes the freshly staged tree.
	if err := o.applyReplacementHandoff(replacementReceipts, plannedDependencyOverrides); err != nil {
		_ = os.RemoveAll(installRoot)
		return nil, err
	}

	receipts, err = o.store.ReadAll()
	if err != nil {
		return nil, err
	}

	for _, binary := range resolved.Artifact.Binaries {
		if err := expose.ExposeBinary(o.layout, installRoot, binary.Name, binary.Path); err != nil {
			return nil, err
		}
	}

	exposedCompletions := make([]string, 0, len(declaredCompletions))
	for _, completion := range declaredCompletions {
		storagePath, err := expose.ExposeCompletion(o.layout, installRoot, resolved.Manifest.Name, completion.Shell, completion.Path)
		if err != nil {
			return nil, err
		}
		exposedCompletions = append(exposedCompletions, storagePath)
	}

	var exposedGuiAssets []receipt.GuiAsset
	for i := range resolved.Artifact.GuiApps {
		assets, err := expose.ExposeGuiApp(o.layout, installRoot, resolved.Manifest.Name, &resolved.Artifact.GuiApps[i])
		if err != nil {
			return nil, err
		}
		exposedGuiAssets = append(exposedGuiAssets, assets...)
	}

	// An upgrade drops assets the previous version exposed but this one does
	// not.
	for _, previous := range receipts {
		if previous.Name != resolved.Manifest.Name {
			continue
		}
		for _, staleBin := range previous.ExposedBins {
			if !containsString(exposedBins, staleBin) {
				if err := expose.RemoveExposedBinary(o.layout, staleBin); err != nil {
					return nil, err
				}
			}
		}
		for _, staleCompletion := range previous.ExposedCompletions {
			if !containsString(exposedCompletions, staleCompletion) {
				if err := expose.RemoveExposedCompletion(o.layout, staleCompletion); err != nil {
					return nil, err
				}
			}
		}
	}

	previousGuiAssets, err := o.store.ReadGuiState(resolved.Manifest.Name)
	if err != nil {
		return nil, err
	}
	for _, stale := range previousGuiAssets {
		found := false
		for _, current := range exposedGuiAssets {
			if current.RelPath == stale.RelPath {
				found = true
				break
			}
		}
		if !found {
			if err := expose.RemoveExposedGuiAsset(o.layout, stale); err != nil {
				return nil, err
			}
		}
	}
	if err := o.store.WriteGuiState(resolved.Manifest.Name, exposedGuiAssets); err != nil {
		return nil, err
	}

	nativeRecords, nativeWarnings, err := o.registrar.SyncPackage(
		resolved.Manifest.Name, installRoot, resolved.Artifact.GuiApps)
	if err != nil {
		return nil, err
	}

	r := &receipt.InstallReceipt{
		Name:               resolved.Manifest.Name,
		Version:            resolved.Manifest.Version.String(),
		Dependencies:       dependencyReceipts,
		Target:             resolved.Target,
		ArtifactURL:        resolved.Artifact.URL,
		ArtifactSHA256:     resolved.Artifact.SHA256,
		CachePath:          cachePath,
		ExposedBins:        exposedBins,
		ExposedCompletions: exposedCompletions,
		SnapshotID:         opts.snapshotID,
		InstallMode:        installMode,
		InstallReason:      determineInstallReason(resolved.Manifest.Name, rootNames, receipts, replacementReceipts),
		InstallStatus:      receipt.InstallStatusInstalled,
		InstalledAtUnix:    time.Now().Unix(),
	}
	receiptPath, err := o.store.WriteReceipt(r)
	if err != nil {
		return nil, err
	}

	guiAssetKeys := make([]string, 0, len(exposedGuiAssets))
	for _, asset := range exposedGuiAssets {
		guiAssetKeys = append(guiAssetKeys, asset.Key)
	}
	nativeKeys := make([]string, 0, len(nativeRecords))
	for _, record := range nativeRecords {
		nativeKeys = append(nativeKeys, record.Key)
	}

	return &InstallOutcome{
		Name:               resolved.Manifest.Name,
		Version:            resolved.Manifest.Version.String(),
		Target:             resolved.Target,
		ArchiveType:        resolved.ArchiveType,
		ArtifactURL:        resolved.Artifact.URL,
		CachePath:          cachePath,
		DownloadStatus:     downloadStatus,
		InstallRoot:        installRoot,
		ReceiptPath:        receiptPath,
		ExposedBins:        exposedBins,
		ExposedCompletions: exposedCompletions,
		ExposedGuiAssets:   guiAssetKeys,
		NativeRecords:      nativeKeys,
		Warnings:           nativeWarnings,
	}, nil
}

func containsString(values []string, needle string) bool {
	for _, value := range values {
		if value == needle {
			return true
		}
	}
	return false
}
